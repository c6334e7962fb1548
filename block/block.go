// Package block implements a bounded write-back block cache: victim
// selection (first unassigned, else first clean, else writeback-and-reuse
// slot 0), dirty tracking, and the BLOCK/BUFFER/UPDATE/FLUSH/SAVE-BUFFERS/
// EMPTY-BUFFERS/LIST/LOAD/THRU word contracts.
package block

import (
	"fmt"
	"io"
	"os"

	"github.com/jcorbin/duckyforth/errs"
	"github.com/jcorbin/duckyforth/input"
)

// Size is BIO_BLOCK_SIZE.
const Size = 1024

// DefaultCacheSize is BLOCK_CACHE_SIZE's default/maximum.
const DefaultCacheSize = 32

// Device is the interface contract stand-in for the BIO MMIO registers:
// FORTH block ids are 1-based, BIO ids are 0-based, so callers translate
// before calling either method.
type Device interface {
	ReadBlock(id uint32, buf []byte) error
	WriteBlock(id uint32, buf []byte) error
}

// MemDevice is an in-memory Device, for tests and EVALUATE-only sessions.
type MemDevice struct {
	data []byte
}

// NewMemDevice allocates storage for n blocks.
func NewMemDevice(n int) *MemDevice {
	return &MemDevice{data: make([]byte, n*Size)}
}

func (d *MemDevice) bounds(id uint32) (int, int, error) {
	off := int(id) * Size
	if off < 0 || off+Size > len(d.data) {
		return 0, 0, errs.New(errs.BIOFail, fmt.Sprintf("block %d out of range", id))
	}
	return off, off + Size, nil
}

func (d *MemDevice) ReadBlock(id uint32, buf []byte) error {
	start, end, err := d.bounds(id)
	if err != nil {
		return err
	}
	copy(buf, d.data[start:end])
	return nil
}

func (d *MemDevice) WriteBlock(id uint32, buf []byte) error {
	start, end, err := d.bounds(id)
	if err != nil {
		return err
	}
	copy(d.data[start:end], buf)
	return nil
}

// FileDevice is a Device backed by regular file I/O: ReadAt/WriteAt against
// a block image file.
type FileDevice struct {
	f *os.File
}

func NewFileDevice(f *os.File) *FileDevice { return &FileDevice{f: f} }

func (d *FileDevice) ReadBlock(id uint32, buf []byte) error {
	_, err := d.f.ReadAt(buf, int64(id)*Size)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil // short/absent block reads as zeros, like a fresh image
	}
	if err != nil {
		return errs.New(errs.BIOFail, err.Error())
	}
	return nil
}

func (d *FileDevice) WriteBlock(id uint32, buf []byte) error {
	if _, err := d.f.WriteAt(buf, int64(id)*Size); err != nil {
		return errs.New(errs.BIOFail, err.Error())
	}
	return nil
}

type entry struct {
	id       uint32
	buf      []byte
	assigned bool
	dirty    bool
}

// Cache is the bounded block cache.
type Cache struct {
	dev     Device
	entries []entry
	current int // -1 if none

	SCR uint32 // last LIST'd block id
}

// NewCache returns a Cache of the given size; a size outside
// [1, DefaultCacheSize] is replaced by DefaultCacheSize.
func NewCache(dev Device, size int) *Cache {
	if size <= 0 || size > DefaultCacheSize {
		size = DefaultCacheSize
	}
	return &Cache{dev: dev, entries: make([]entry, size), current: -1}
}

func (c *Cache) find(id uint32) int {
	for i := range c.entries {
		if c.entries[i].assigned && c.entries[i].id == id {
			return i
		}
	}
	return -1
}

func (c *Cache) writeback(i int) error {
	e := &c.entries[i]
	if e.assigned && e.dirty {
		if err := c.dev.WriteBlock(e.id-1, e.buf); err != nil {
			return err
		}
		e.dirty = false
	}
	return nil
}

// victim selects a slot to reuse: first unassigned, else first clean
// assigned, else slot 0 (written back first).
func (c *Cache) victim() (int, error) {
	for i := range c.entries {
		if !c.entries[i].assigned {
			return i, nil
		}
	}
	for i := range c.entries {
		if !c.entries[i].dirty {
			c.entries[i].assigned = false
			return i, nil
		}
	}
	if err := c.writeback(0); err != nil {
		return 0, err
	}
	return 0, nil
}

func (c *Cache) getBlock(bid uint32, load bool) (*entry, error) {
	if i := c.find(bid); i >= 0 {
		c.current = i
		return &c.entries[i], nil
	}
	i, err := c.victim()
	if err != nil {
		return nil, err
	}
	e := &c.entries[i]
	e.id = bid
	e.assigned = true
	e.dirty = false
	if e.buf == nil {
		e.buf = make([]byte, Size)
	}
	if load {
		if err := c.dev.ReadBlock(bid-1, e.buf); err != nil {
			return nil, err
		}
	}
	c.current = i
	return e, nil
}

// Block implements BLOCK(bid): load-or-fetch, return the buffer.
func (c *Cache) Block(bid uint32) ([]byte, error) {
	e, err := c.getBlock(bid, true)
	if err != nil {
		return nil, err
	}
	return e.buf, nil
}

// Buffer implements BUFFER(bid): fetch without loading from storage.
func (c *Cache) Buffer(bid uint32) ([]byte, error) {
	e, err := c.getBlock(bid, false)
	if err != nil {
		return nil, err
	}
	return e.buf, nil
}

// Update implements UPDATE: mark the current block dirty (no-op if none).
func (c *Cache) Update() {
	if c.current >= 0 {
		c.entries[c.current].dirty = true
	}
}

// SaveBuffers implements SAVE-BUFFERS: write back every dirty block,
// clearing dirty bits, keeping assignment.
func (c *Cache) SaveBuffers() error {
	for i := range c.entries {
		if err := c.writeback(i); err != nil {
			return err
		}
	}
	return nil
}

// Flush implements FLUSH: SAVE-BUFFERS then unassign everything.
func (c *Cache) Flush() error {
	if err := c.SaveBuffers(); err != nil {
		return err
	}
	for i := range c.entries {
		c.entries[i].assigned = false
	}
	c.current = -1
	return nil
}

// EmptyBuffers implements EMPTY-BUFFERS: drop all assignment without
// writing back.
func (c *Cache) EmptyBuffers() {
	for i := range c.entries {
		c.entries[i].assigned = false
		c.entries[i].dirty = false
	}
	c.current = -1
}

// CurrentID returns the id of the current block, if any.
func (c *Cache) CurrentID() (uint32, bool) {
	if c.current < 0 {
		return 0, false
	}
	return c.entries[c.current].id, true
}

// CurrentSlot returns the entry index Block/Buffer last resolved to, or -1.
// Exposed so a cell-addressed host (package vm) can mirror the slot's raw
// bytes into its own memory for C@/C! access.
func (c *Cache) CurrentSlot() int { return c.current }

// SlotBuf returns the raw buffer backing entry i, for mirroring into host
// memory (see CurrentSlot).
func (c *Cache) SlotBuf(i int) []byte { return c.entries[i].buf }

// NumSlots returns the cache's slot count, for sizing a host-side mirror
// window per slot.
func (c *Cache) NumSlots() int { return len(c.entries) }

// Load implements LOAD(bid): read the block and push a consume-once block
// input source onto stack.
func (c *Cache) Load(bid uint32, stack *input.Stack) error {
	buf, err := c.Block(bid)
	if err != nil {
		return err
	}
	src := &input.Source{
		Kind:     input.KindBlock,
		Name:     fmt.Sprintf("blk:%d", bid),
		Buffer:   buf,
		Length:   len(buf),
		Blk:      bid,
		Refiller: input.BlockRefiller{},
	}
	return stack.Push(src)
}

// Thru implements THRU(u1, u2): pushes LOAD(u2)...LOAD(u1) so execution
// proceeds u1 -> u2.
func (c *Cache) Thru(u1, u2 uint32, stack *input.Stack) error {
	if u1 <= u2 {
		for id := int64(u2); id >= int64(u1); id-- {
			if err := c.Load(uint32(id), stack); err != nil {
				return err
			}
		}
		return nil
	}
	for id := int64(u2); id <= int64(u1); id++ {
		if err := c.Load(uint32(id), stack); err != nil {
			return err
		}
	}
	return nil
}

const (
	listLinesPerScreen = 16
	listCharsPerLine   = 64
)

// List implements LIST(bid): load, print a header plus listLinesPerScreen
// lines of listCharsPerLine bytes, set SCR.
func (c *Cache) List(bid uint32, w io.Writer) error {
	buf, err := c.Block(bid)
	if err != nil {
		return err
	}
	dirty := false
	if i := c.find(bid); i >= 0 {
		dirty = c.entries[i].dirty
	}
	mod := ""
	if dirty {
		mod = " (modified)"
	}
	fmt.Fprintf(w, "Screen %d%s\n", bid, mod)
	for line := 0; line < listLinesPerScreen; line++ {
		start := line * listCharsPerLine
		end := start + listCharsPerLine
		if start >= len(buf) {
			break
		}
		if end > len(buf) {
			end = len(buf)
		}
		fmt.Fprintf(w, "%2d %s\n", line, string(buf[start:end]))
	}
	c.SCR = bid
	return nil
}
