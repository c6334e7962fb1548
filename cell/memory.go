// Package cell implements the core's memory model: a bump-allocated,
// cell-addressed store. Each cell is one 32-bit unit; names and payloads are
// packed one byte per cell, trading density for an arena that never needs
// manual alignment arithmetic.
package cell

import (
	"fmt"

	"github.com/jcorbin/duckyforth/internal/mem"
)

// Addr is an address into a Memory: either a dictionary entry index or a
// cell offset, depending on context.
type Addr = uint32

// Memory is the bump-allocated cell store backing the dictionary body and
// user data space. DP ("here") only ever grows.
type Memory struct {
	ints mem.Ints
	dp   Addr
}

// NewMemory returns a Memory with the given page size and an optional
// allocation limit (0 disables the limit).
func NewMemory(pageSize, limit uint) *Memory {
	m := &Memory{}
	m.ints.PageSize = pageSize
	m.ints.Limit = limit
	return m
}

// Here returns the current dictionary pointer (DP).
func (m *Memory) Here() Addr { return m.dp }

// SetLimit changes the allocation limit in place (0 disables it), for
// options applied after construction (package vm).
func (m *Memory) SetLimit(limit uint) { m.ints.Limit = limit }

// SetHere resets DP to addr.
func (m *Memory) SetHere(addr Addr) { m.dp = addr }

// Load reads one cell.
func (m *Memory) Load(addr Addr) (uint32, error) {
	v, err := m.ints.Load(uint(addr))
	return uint32(v), err
}

// Store writes one cell, growing the backing pages if needed.
func (m *Memory) Store(addr Addr, v uint32) error {
	return m.ints.Stor(uint(addr), int(v))
}

// Comma writes v at Here and advances DP by one cell ("COMMA").
func (m *Memory) Comma(v uint32) (Addr, error) {
	addr := m.dp
	if err := m.Store(addr, v); err != nil {
		return 0, err
	}
	m.dp++
	return addr, nil
}

// Allot reserves n cells starting at Here and returns their base address.
// A negative n is rejected: the dictionary only ever grows.
func (m *Memory) Allot(n int) (Addr, error) {
	if n < 0 {
		return 0, fmt.Errorf("cell: negative ALLOT %d not supported, dictionary only grows", n)
	}
	addr := m.dp
	m.dp += Addr(n)
	return addr, nil
}

// WriteString packs s one byte per cell starting at Here, returning the base
// address, and advances DP past it. Used for counted-string bodies (S"/C").
func (m *Memory) WriteString(s string) (Addr, error) {
	base := m.dp
	for i := 0; i < len(s); i++ {
		if _, err := m.Comma(uint32(s[i])); err != nil {
			return 0, err
		}
	}
	return base, nil
}

// ReadString reads n bytes packed one per cell starting at addr.
func (m *Memory) ReadString(addr Addr, n int) (string, error) {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		v, err := m.Load(addr + Addr(i))
		if err != nil {
			return "", err
		}
		buf[i] = byte(v)
	}
	return string(buf), nil
}

// StoreBytes writes data one byte per cell starting at a fixed, already
// allocated addr, unlike WriteString/Comma which always append at Here.
// Used to mirror a block buffer into a reserved memory window (package vm).
func (m *Memory) StoreBytes(addr Addr, data []byte) error {
	for i, b := range data {
		if err := m.Store(addr+Addr(i), uint32(b)); err != nil {
			return err
		}
	}
	return nil
}

// LoadBytes reads n bytes packed one per cell starting at a fixed addr.
func (m *Memory) LoadBytes(addr Addr, n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := range buf {
		v, err := m.Load(addr + Addr(i))
		if err != nil {
			return nil, err
		}
		buf[i] = byte(v)
	}
	return buf, nil
}
