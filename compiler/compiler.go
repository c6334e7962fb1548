// Package compiler implements dictionary mutation and compile-time control
// flow: header_comma/compile_cell wiring for colon definitions, the
// IF/ELSE/THEN and BEGIN/.../AGAIN compile-time stacks, POSTPONE, and the
// VALUE/TO/2VALUE family.
//
// Branch offsets here are cell-granular, not byte-granular: this package's
// cell.Memory addresses one cell per unit rather than one byte, so a
// "signed byte distance from the cell containing the offset" becomes a
// signed cell distance with the same compile/patch shape.
package compiler

import (
	"fmt"

	"github.com/jcorbin/duckyforth/cell"
	"github.com/jcorbin/duckyforth/dict"
	"github.com/jcorbin/duckyforth/errs"
)

// Names of the native primitives control-flow compilation needs to refer to.
// The vm package registers natives under exactly these names.
const (
	NameLit       = "LIT"
	NameTwoLit    = "TWOLIT"
	NameBranch    = "BRANCH"
	NameZBranch   = "ZBRANCH"
	NameComma     = "COMMA"
	NameLitString = "LITSTRING"
)

// Compiler holds the compile-time control-flow stack and a handle on the
// dictionary/memory it compiles into.
type Compiler struct {
	Dict *dict.Dictionary
	Mem  *cell.Memory

	ctrl []cell.Addr
}

func New(d *dict.Dictionary) *Compiler {
	return &Compiler{Dict: d, Mem: d.Memory()}
}

func (c *Compiler) lookup(name string) (cell.Addr, error) {
	res := c.Dict.Search(name)
	if !res.Found {
		return 0, errs.New(errs.UndefinedWord, name)
	}
	return res.Addr, nil
}

func (c *Compiler) push(a cell.Addr) { c.ctrl = append(c.ctrl, a) }

func (c *Compiler) pop() (cell.Addr, error) {
	if len(c.ctrl) == 0 {
		return 0, fmt.Errorf("compiler: control-flow stack underflow")
	}
	i := len(c.ctrl) - 1
	a := c.ctrl[i]
	c.ctrl = c.ctrl[:i]
	return a, nil
}

func (c *Compiler) commaWord(name string) error {
	addr, err := c.lookup(name)
	if err != nil {
		return err
	}
	_, err = c.Mem.Comma(uint32(addr))
	return err
}

// patch stores the forward distance from slot to Here at slot.
func (c *Compiler) patch(slot cell.Addr) error {
	dist := int32(c.Mem.Here()) - int32(slot)
	return c.Mem.Store(slot, uint32(dist))
}

// CompileLiteral compiles "LIT, u".
func (c *Compiler) CompileLiteral(u uint32) error {
	if err := c.commaWord(NameLit); err != nil {
		return err
	}
	_, err := c.Mem.Comma(u)
	return err
}

// CompileDoubleLiteral compiles "TWOLIT, lo, hi".
func (c *Compiler) CompileDoubleLiteral(lo, hi uint32) error {
	if err := c.commaWord(NameTwoLit); err != nil {
		return err
	}
	if _, err := c.Mem.Comma(lo); err != nil {
		return err
	}
	_, err := c.Mem.Comma(hi)
	return err
}

// CompileLitString compiles the LITSTRING code field followed by the counted
// payload (length cell, then one cell per byte) for S"/C".
func (c *Compiler) CompileLitString(s string) error {
	if err := c.commaWord(NameLitString); err != nil {
		return err
	}
	if _, err := c.Mem.Comma(uint32(len(s))); err != nil {
		return err
	}
	_, err := c.Mem.WriteString(s)
	return err
}

// If emits "ZBRANCH, 0" and pushes the slot address for Else/Then to patch.
func (c *Compiler) If() error {
	if err := c.commaWord(NameZBranch); err != nil {
		return err
	}
	slot, err := c.Mem.Comma(0)
	if err != nil {
		return err
	}
	c.push(slot)
	return nil
}

// Else patches the IF slot to point past a newly emitted "BRANCH, 0" and
// pushes that new slot.
func (c *Compiler) Else() error {
	ifSlot, err := c.pop()
	if err != nil {
		return err
	}
	if err := c.commaWord(NameBranch); err != nil {
		return err
	}
	elseSlot, err := c.Mem.Comma(0)
	if err != nil {
		return err
	}
	if err := c.patch(ifSlot); err != nil {
		return err
	}
	c.push(elseSlot)
	return nil
}

// Then patches the top control-flow slot to Here.
func (c *Compiler) Then() error {
	slot, err := c.pop()
	if err != nil {
		return err
	}
	return c.patch(slot)
}

// Begin records Here as a backward branch destination.
func (c *Compiler) Begin() {
	c.push(c.Mem.Here())
}

// Until emits "ZBRANCH, (dest - slot)", branching back to the matching
// BEGIN.
func (c *Compiler) Until() error {
	dest, err := c.pop()
	if err != nil {
		return err
	}
	if err := c.commaWord(NameZBranch); err != nil {
		return err
	}
	slot, err := c.Mem.Comma(0)
	if err != nil {
		return err
	}
	return c.Mem.Store(slot, uint32(int32(dest)-int32(slot)))
}

// Again emits an unconditional backward branch to the matching BEGIN.
func (c *Compiler) Again() error {
	dest, err := c.pop()
	if err != nil {
		return err
	}
	if err := c.commaWord(NameBranch); err != nil {
		return err
	}
	slot, err := c.Mem.Comma(0)
	if err != nil {
		return err
	}
	return c.Mem.Store(slot, uint32(int32(dest)-int32(slot)))
}

// While emits "ZBRANCH, 0" and pushes its slot above the enclosing BEGIN
// destination already on the stack.
func (c *Compiler) While() error {
	return c.If() // identical shape: emit ZBRANCH,0 and push the slot
}

// Repeat patches the WHILE slot forward to Here and emits an unconditional
// backward branch to the enclosing BEGIN.
func (c *Compiler) Repeat() error {
	whileSlot, err := c.pop()
	if err != nil {
		return err
	}
	dest, err := c.pop()
	if err != nil {
		return err
	}
	if err := c.commaWord(NameBranch); err != nil {
		return err
	}
	backSlot, err := c.Mem.Comma(0)
	if err != nil {
		return err
	}
	if err := c.Mem.Store(backSlot, uint32(int32(dest)-int32(backSlot))); err != nil {
		return err
	}
	return c.patch(whileSlot)
}

// Postpone looks up name: if it's immediate, compiles its header address
// directly; otherwise compiles "LIT, cfa, COMMA" so the enclosing word
// appends cfa to the dictionary when it runs.
func (c *Compiler) Postpone(name string) error {
	res := c.Dict.Search(name)
	if !res.Found {
		return errs.New(errs.UndefinedWord, name)
	}
	h := c.Dict.Header(res.Addr)
	if h.Flags&dict.FlagImmediate != 0 {
		_, err := c.Mem.Comma(uint32(res.Addr))
		return err
	}
	if err := c.CompileLiteral(uint32(res.Addr)); err != nil {
		return err
	}
	return c.commaWord(NameComma)
}

// DefineValue implements VALUE: a new header whose body is a single value
// cell, initialized to v.
func (c *Compiler) DefineValue(name string, v uint32) (dict.Addr, error) {
	addr := c.Dict.HeaderComma(name, dict.KindValue)
	cfa, err := c.Mem.Comma(v)
	if err != nil {
		return 0, err
	}
	c.Dict.Header(addr).CFA = cfa
	return addr, nil
}

// Define2Value implements 2VALUE: a header whose body is two cells (lo, hi).
func (c *Compiler) Define2Value(name string, lo, hi uint32) (dict.Addr, error) {
	addr := c.Dict.HeaderComma(name, dict.Kind2Value)
	cfa, err := c.Mem.Comma(lo)
	if err != nil {
		return 0, err
	}
	if _, err := c.Mem.Comma(hi); err != nil {
		return 0, err
	}
	c.Dict.Header(addr).CFA = cfa
	return addr, nil
}

// DefineVariable implements VARIABLE: a header whose body is one
// zero-initialized cell.
func (c *Compiler) DefineVariable(name string) (dict.Addr, error) {
	addr := c.Dict.HeaderComma(name, dict.KindVariable)
	cfa, err := c.Mem.Comma(0)
	if err != nil {
		return 0, err
	}
	c.Dict.Header(addr).CFA = cfa
	return addr, nil
}

// DefineConstant implements CONSTANT: a header whose body is one
// caller-supplied cell.
func (c *Compiler) DefineConstant(name string, v uint32) (dict.Addr, error) {
	addr := c.Dict.HeaderComma(name, dict.KindConstant)
	cfa, err := c.Mem.Comma(v)
	if err != nil {
		return 0, err
	}
	c.Dict.Header(addr).CFA = cfa
	return addr, nil
}

// DefineArray implements a simple ARRAY: n cells of storage, the header
// behaving like a VARIABLE over the base address.
func (c *Compiler) DefineArray(name string, n int) (dict.Addr, error) {
	addr := c.Dict.HeaderComma(name, dict.KindVariable)
	base, err := c.Mem.Allot(n)
	if err != nil {
		return 0, err
	}
	c.Dict.Header(addr).CFA = base
	return addr, nil
}

// BeginColon starts a ":" definition: header_comma, then HIDDEN until ";".
func (c *Compiler) BeginColon(name string) dict.Addr {
	addr := c.Dict.HeaderComma(name, dict.KindColon)
	h := c.Dict.Header(addr)
	h.CFA = c.Mem.Here()
	h.Flags |= dict.FlagHidden
	return addr
}

// EndColon compiles EXIT and clears HIDDEN on addr.
func (c *Compiler) EndColon(addr dict.Addr, exitName string) error {
	if err := c.commaWord(exitName); err != nil {
		return err
	}
	c.Dict.SetHidden(addr, false)
	return nil
}
