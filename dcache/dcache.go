// Package dcache implements a set-associative data cache simulator:
// tag/set/offset masking derived from {size, line_length, associativity},
// stamp-based LRU victim selection, and dirty write-back through a page
// provider. A dirty eviction write-back increments ForcedWrites; page data
// returned by PageProvider.Page is copied into the line before anything
// else touches the cache.
package dcache

import (
	"math/bits"
)

// Config describes a cache's geometry.
type Config struct {
	Size          int
	LineLength    int
	Associativity int
}

// PageProvider is the interface contract for the hosting memory controller:
// given a line-aligned address, return the backing 256-byte page's data and
// this line's offset within it. WritePage is called on dirty eviction.
type PageProvider interface {
	Page(addr uint32) (data []byte, offset int, err error)
	WritePage(addr uint32, data []byte) error
}

type line struct {
	used  bool
	dirty bool
	tag   uint32
	addr  uint32
	stamp uint64
	data  []byte
}

// Cache is the set-associative simulator.
type Cache struct {
	cfg        Config
	lineCount  int
	setCount   int
	offsetBits uint
	setBits    uint
	offsetMask uint32
	setMask    uint32
	lines      []line
	stamp      uint64
	provider   PageProvider

	Reads, Hits, Misses, Prunes, ForcedWrites uint64
}

// New builds a Cache. LineLength and the derived set count must be powers of
// two; all masking is shift-based.
func New(cfg Config, provider PageProvider) *Cache {
	lineCount := cfg.Size / cfg.LineLength
	setCount := lineCount / cfg.Associativity
	c := &Cache{cfg: cfg, lineCount: lineCount, setCount: setCount, provider: provider}
	c.offsetBits = uint(bits.Len(uint(cfg.LineLength - 1)))
	c.setBits = uint(bits.Len(uint(setCount - 1)))
	c.offsetMask = uint32(cfg.LineLength - 1)
	c.setMask = uint32(setCount - 1)
	c.lines = make([]line, lineCount)
	for i := range c.lines {
		c.lines[i].data = make([]byte, cfg.LineLength)
	}
	return c
}

func (c *Cache) setOf(addr uint32) int { return int((addr >> c.offsetBits) & c.setMask) }
func (c *Cache) tagOf(addr uint32) uint32 {
	return addr >> (c.offsetBits + c.setBits)
}

// GetLine implements get_line: scan the set for a tag match, bumping its
// stamp on hit; on miss with fetch=true, fill a free or evicted slot.
func (c *Cache) GetLine(addr uint32, fetch bool) (*line, error) {
	c.Reads++
	set := c.setOf(addr)
	tag := c.tagOf(addr)
	base := set * c.cfg.Associativity

	freeIdx := -1
	for i := 0; i < c.cfg.Associativity; i++ {
		l := &c.lines[base+i]
		if !l.used {
			if freeIdx < 0 {
				freeIdx = base + i
			}
			continue
		}
		if l.tag == tag {
			c.Hits++
			c.stamp++
			l.stamp = c.stamp
			return l, nil
		}
	}

	if !fetch {
		return nil, nil
	}
	c.Misses++

	var idx int
	if freeIdx >= 0 {
		idx = freeIdx
	} else {
		c.Prunes++
		idx = base
		min := c.lines[base].stamp
		for i := 1; i < c.cfg.Associativity; i++ {
			if c.lines[base+i].stamp < min {
				min = c.lines[base+i].stamp
				idx = base + i
			}
		}
		if c.lines[idx].dirty {
			if err := c.writeback(&c.lines[idx]); err != nil {
				return nil, err
			}
		}
	}

	lineBase := addr &^ c.offsetMask
	if err := c.fill(&c.lines[idx], lineBase, tag); err != nil {
		return nil, err
	}
	return &c.lines[idx], nil
}

func (c *Cache) fill(l *line, lineBase, tag uint32) error {
	data, offset, err := c.provider.Page(lineBase)
	if err != nil {
		return err
	}
	copy(l.data, data[offset:offset+c.cfg.LineLength])
	c.stamp++
	l.stamp = c.stamp
	l.used = true
	l.dirty = false
	l.addr = lineBase
	l.tag = tag
	return nil
}

func (c *Cache) writeback(l *line) error {
	if err := c.provider.WritePage(l.addr, l.data); err != nil {
		return err
	}
	l.dirty = false
	c.ForcedWrites++
	return nil
}

// ReadU8 implements read_u8.
func (c *Cache) ReadU8(addr uint32) (byte, error) {
	l, err := c.GetLine(addr, true)
	if err != nil {
		return 0, err
	}
	return l.data[addr&c.offsetMask], nil
}

// WriteU8 implements write_u8.
func (c *Cache) WriteU8(addr uint32, v byte) error {
	l, err := c.GetLine(addr, true)
	if err != nil {
		return err
	}
	l.data[addr&c.offsetMask] = v
	l.dirty = true
	return nil
}

// ReadU16 implements read_u16 (little-endian within the line).
func (c *Cache) ReadU16(addr uint32) (uint16, error) {
	l, err := c.GetLine(addr, true)
	if err != nil {
		return 0, err
	}
	off := addr & c.offsetMask
	return uint16(l.data[off]) | uint16(l.data[off+1])<<8, nil
}

// WriteU16 implements write_u16.
func (c *Cache) WriteU16(addr uint32, v uint16) error {
	l, err := c.GetLine(addr, true)
	if err != nil {
		return err
	}
	off := addr & c.offsetMask
	l.data[off] = byte(v)
	l.data[off+1] = byte(v >> 8)
	l.dirty = true
	return nil
}

// ReleaseEntry implements release_entry: writeback and/or drop the line
// holding addr, if it is cached at all.
func (c *Cache) ReleaseEntry(addr uint32, writeback, remove bool) error {
	l, err := c.GetLine(addr, false)
	if err != nil || l == nil {
		return err
	}
	return c.releaseEntry(l, writeback, remove)
}

func (c *Cache) releaseEntry(l *line, writeback, remove bool) error {
	if writeback && l.dirty {
		if err := c.writeback(l); err != nil {
			return err
		}
	}
	if remove {
		l.used = false
	}
	return nil
}

const pageSize = 256

// ReleasePage implements release_page: iterate entries belonging to one
// page.
func (c *Cache) ReleasePage(pageAddr uint32, writeback, remove bool) error {
	base := pageAddr &^ (pageSize - 1)
	for i := range c.lines {
		if c.lines[i].used && (c.lines[i].addr&^(pageSize-1)) == base {
			if err := c.releaseEntry(&c.lines[i], writeback, remove); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReleaseArea implements release_area: iterate a range stepped by
// line_length.
func (c *Cache) ReleaseArea(addr, size uint32, writeback, remove bool) error {
	step := uint32(c.cfg.LineLength)
	for a := addr; a < addr+size; a += step {
		if l, _ := c.GetLine(a, false); l != nil {
			if err := c.releaseEntry(l, writeback, remove); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReleaseAll implements release_all.
func (c *Cache) ReleaseAll(writeback, remove bool) error {
	for i := range c.lines {
		if c.lines[i].used {
			if err := c.releaseEntry(&c.lines[i], writeback, remove); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clear implements clear(): release everything without writeback.
func (c *Cache) Clear() { c.ReleaseAll(false, true) }

// Stats is a snapshot of the cache's counters, for tests and REPL dumps.
type Stats struct {
	Reads, Hits, Misses, Prunes, ForcedWrites uint64
}

func (c *Cache) Stats() Stats {
	return Stats{Reads: c.Reads, Hits: c.Hits, Misses: c.Misses, Prunes: c.Prunes, ForcedWrites: c.ForcedWrites}
}
