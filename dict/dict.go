// Package dict implements the word dictionary: header search by CRC then
// name, and dictionary-growing mutation (header_comma, compile_cell).
// Headers live in an arena indexed by integer rather than linked via raw
// pointers into cell memory; LATEST is the arena index of the newest entry,
// and link values are strictly smaller indices, preserving the
// "monotonically decreasing addresses" walk invariant for free.
package dict

import (
	"github.com/jcorbin/duckyforth/cell"
)

// Kind tags what a dictionary entry is, replacing a raw code-field pointer
// with a small closed variant.
type Kind uint8

const (
	KindNative Kind = iota
	KindColon
	KindDoes
	KindVariable
	KindConstant
	KindValue
	Kind2Value
	KindLitString
)

const (
	FlagImmediate uint8 = 0x01
	FlagHidden    uint8 = 0x02
)

// Header is one dictionary entry.
type Header struct {
	Link  uint32 // arena index of the previous header, 0 = chain end
	CRC   uint16
	Flags uint8
	Name  string
	Kind  Kind

	// CFA is the body start address, meaning depends on Kind:
	//   KindColon:    first cell of the threaded body in cell.Memory
	//   KindVariable: the value cell's address
	//   KindConstant: the value cell's address (read-only by convention)
	//   KindValue:    the value cell's address
	//   Kind2Value:   the low cell's address (value, value+1)
	//   KindLitString: the string payload's base address
	//   KindDoes:     the data field address pushed before the DOES> action runs
	CFA cell.Addr

	// NativeID indexes the host's native dispatch table (KindNative only).
	NativeID int

	// DoesID indexes the host's DOES> action table (KindDoes only).
	DoesID int
}

// Addr identifies a dictionary entry by arena index.
type Addr = uint32

// Dictionary is the word chain plus the cell memory it compiles bodies into.
type Dictionary struct {
	mem     *cell.Memory
	entries []Header // entries[0] is an unused sentinel; real entries start at 1
	latest  Addr
}

// New returns an empty Dictionary bound to the given memory.
func New(mem *cell.Memory) *Dictionary {
	return &Dictionary{mem: mem, entries: make([]Header, 1)}
}

// Memory returns the bound cell store, for compiling bodies.
func (d *Dictionary) Memory() *cell.Memory { return d.mem }

// Latest returns LATEST.
func (d *Dictionary) Latest() Addr { return d.latest }

// CRC16 is the unsigned byte-sum CRC used for name lookup: not
// cryptographic, just a cheap discriminator before the full compare.
func CRC16(name string) uint16 {
	var sum uint16
	for i := 0; i < len(name); i++ {
		sum += uint16(name[i])
	}
	return sum
}

// SearchResult is the outcome of Search.
type SearchResult struct {
	Found     bool
	Addr      Addr
	Immediate bool
}

// Search walks the chain from LATEST, skipping HIDDEN entries and rejecting
// on CRC mismatch before comparing names.
func (d *Dictionary) Search(name string) SearchResult {
	crc := CRC16(name)
	for i := d.latest; i != 0; {
		h := &d.entries[i]
		if h.Flags&FlagHidden == 0 && h.CRC == crc && h.Name == name {
			return SearchResult{Found: true, Addr: i, Immediate: h.Flags&FlagImmediate != 0}
		}
		i = h.Link
	}
	return SearchResult{}
}

// Header returns the entry at addr. Panics on out-of-range addr, same as
// indexing a slice out of bounds: callers only ever pass addresses returned
// by Search or HeaderComma.
func (d *Dictionary) Header(addr Addr) *Header { return &d.entries[addr] }

// HeaderComma appends a new header linked to the current LATEST and makes it
// the new LATEST. The caller fills in CFA/NativeID/DoesID as appropriate for
// kind and compiles the body immediately after.
func (d *Dictionary) HeaderComma(name string, kind Kind) Addr {
	h := Header{Link: d.latest, CRC: CRC16(name), Name: name, Kind: kind}
	d.entries = append(d.entries, h)
	addr := Addr(len(d.entries) - 1)
	d.latest = addr
	return addr
}

// CompileCell writes one cell into the bound memory ("comma").
func (d *Dictionary) CompileCell(v uint32) (cell.Addr, error) {
	return d.mem.Comma(v)
}

// SetHidden sets or clears HIDDEN on addr.
func (d *Dictionary) SetHidden(addr Addr, hidden bool) {
	h := d.Header(addr)
	if hidden {
		h.Flags |= FlagHidden
	} else {
		h.Flags &^= FlagHidden
	}
}

// SetImmediate sets IMMED on addr.
func (d *Dictionary) SetImmediate(addr Addr, immediate bool) {
	h := d.Header(addr)
	if immediate {
		h.Flags |= FlagImmediate
	} else {
		h.Flags &^= FlagImmediate
	}
}

// Rollback truncates the arena back to mark, as returned by Mark, and resets
// LATEST to the given value.
func (d *Dictionary) Rollback(mark Addr, latest Addr) {
	d.entries = d.entries[:mark]
	d.latest = latest
}

// Mark returns the current arena length, pairing with Rollback.
func (d *Dictionary) Mark() Addr { return Addr(len(d.entries)) }
