// Package parser implements read_word and the number parser: a digit-folding
// algorithm supporting base prefixes, character literals, and mid-token
// double-cell promotion, operating on an input.Source's buffer.
package parser

import (
	"github.com/jcorbin/duckyforth/errs"
	"github.com/jcorbin/duckyforth/input"
)

// MaxWordLength is the WORD_BUFFER_SIZE analogue.
const MaxWordLength = 255

// ReadWord skips leading delim/control bytes, then copies bytes up to the
// next delim/control byte or end of buffer, returning "" if exhausted first.
func ReadWord(src *input.Source, delim byte) (string, error) {
	for {
		b, ok := src.Peek()
		if !ok {
			return "", nil
		}
		if b == delim || b < ' ' {
			src.Index++
			continue
		}
		break
	}

	start := src.Index
	for {
		b, ok := src.Peek()
		if !ok {
			break
		}
		if b == delim || b < ' ' {
			break
		}
		src.Index++
		if src.Index-start > MaxWordLength {
			return "", errs.New(errs.WordTooLong, "word exceeds word buffer size")
		}
	}
	return string(src.Buffer[start:src.Index]), nil
}

// Status is the outcome of ParseNumber.
type Status uint8

const (
	StatusFail Status = iota
	StatusSingle
	StatusDouble
)

// Result is the parsed value, or the failure detail.
type Result struct {
	Status    Status
	Lo, Hi    uint32
	Remaining int
}

func digitValue(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10, true
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10, true
	}
	return 0, false
}

// ParseNumber implements parse_number: base-prefixed, optionally signed,
// single- or double-cell (on a mid-literal '.') number parsing, plus the
// 'c / 'c' character-literal special case.
func ParseNumber(s string, base int) Result {
	if s == "" {
		return Result{Status: StatusFail}
	}
	total := len(s)

	switch s[0] {
	case '#', '&':
		base = 10
		s = s[1:]
	case '$':
		base = 16
		s = s[1:]
	case '%':
		base = 2
		s = s[1:]
	}

	if len(s) > 0 && s[0] == '\'' {
		rest := s[1:]
		switch len(rest) {
		case 1:
			return Result{Status: StatusSingle, Lo: uint32(rest[0])}
		case 2:
			if rest[1] == '\'' {
				return Result{Status: StatusSingle, Lo: uint32(rest[0])}
			}
		}
		return Result{Status: StatusFail, Remaining: total}
	}

	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if s == "" {
		return Result{Status: StatusFail, Remaining: total}
	}

	var mag uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' {
			val := uint32(mag)
			if neg {
				val = -val
			}
			hi := uint32(0)
			if neg {
				hi = 0xFFFFFFFF
			}
			return Result{Status: StatusDouble, Lo: val, Hi: hi}
		}
		d, ok := digitValue(c)
		if !ok || d >= base {
			return Result{Status: StatusFail, Remaining: total}
		}
		mag = mag*uint64(base) + uint64(d)
	}

	val := uint32(mag)
	if neg {
		val = -val
	}
	return Result{Status: StatusSingle, Lo: val}
}

// IsNumber reports whether s parses as a number in the given base.
func IsNumber(s string, base int) bool {
	return ParseNumber(s, base).Status != StatusFail
}

const digitTable = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Width returns the number of digits needed to print n in base.
func Width(n uint32, base int) int {
	if n == 0 {
		return 1
	}
	w := 0
	for n > 0 {
		n /= uint32(base)
		w++
	}
	return w
}

// Format prints n (unsigned) in base, building the digit string
// back-to-front into a small buffer.
func Format(n uint32, base int) string {
	if base < 2 {
		base = 10
	}
	if n == 0 {
		return "0"
	}
	var buf [64]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digitTable[n%uint32(base)]
		n /= uint32(base)
	}
	return string(buf[i:])
}

// FormatSigned prints n as a signed value in base (used by "." for single
// cells).
func FormatSigned(n int32, base int) string {
	if n < 0 {
		return "-" + Format(uint32(-n), base)
	}
	return Format(uint32(n), base)
}
