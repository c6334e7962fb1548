package input

import (
	"bufio"
	"io"
)

// KeyboardRefiller reads one line at a time from an underlying byte stream,
// handling backspace and echo the way an MMIO keyboard port's refiller
// would, minus the idle blocking wait: an io.Reader's Read already blocks
// the calling goroutine, which serves the same purpose here.
type KeyboardRefiller struct {
	R    *bufio.Reader
	Echo bool
	Out  io.Writer
}

func (k *KeyboardRefiller) Refill(src *Source) (RefillResult, error) {
	idx := 0
	sawAny := false
	for {
		b, err := k.R.ReadByte()
		if err != nil {
			if err == io.EOF {
				if !sawAny {
					return RefillEmpty, nil
				}
				break
			}
			return RefillEmpty, err
		}
		sawAny = true

		if b == 0x08 { // backspace
			if idx > 0 {
				idx--
				if k.Echo && k.Out != nil {
					k.Out.Write([]byte("\b \b"))
				}
			}
			continue
		}
		if b == '\r' || b == '\n' {
			break
		}
		if idx < len(src.Buffer) {
			src.Buffer[idx] = b
			idx++
			if k.Echo && k.Out != nil {
				k.Out.Write([]byte{b})
			}
		}
	}
	if k.Echo && k.Out != nil {
		k.Out.Write([]byte{'\n'})
	}
	src.Length = idx
	src.Index = 0
	return RefillOK, nil
}
