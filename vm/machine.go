// Package vm wires cell, dict, input, parser, compiler, interp, block, and
// dcache into a runnable Machine: a tagged-dispatch threaded-code engine
// driving the outer interpreter, with a native dispatch table (natives.go).
// Execute handles every dict.Kind except KindDoes, which nothing creates and
// which Execute rejects with an error.
package vm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/jcorbin/duckyforth/block"
	"github.com/jcorbin/duckyforth/cell"
	"github.com/jcorbin/duckyforth/compiler"
	"github.com/jcorbin/duckyforth/dcache"
	"github.com/jcorbin/duckyforth/dict"
	"github.com/jcorbin/duckyforth/errs"
	"github.com/jcorbin/duckyforth/input"
	"github.com/jcorbin/duckyforth/interp"
	"github.com/jcorbin/duckyforth/internal/flushio"
	"github.com/jcorbin/duckyforth/internal/panicerr"
)

type nativeFunc func(m *Machine) error

// Machine is the executable core: one of each layer, plus the data stack and
// native dispatch table an external engine would otherwise supply.
type Machine struct {
	Mem      *cell.Memory
	Dict     *dict.Dictionary
	Stack    *input.Stack
	Compiler *compiler.Compiler
	Interp   *interp.Interpreter
	Blocks   *block.Cache
	DCache   *dcache.Cache

	data []uint32 // data stack
	ret  []cell.Addr

	out     flushio.WriteFlusher
	closers []io.Closer
	logf    func(mess string, args ...interface{})

	natives   []nativeFunc
	nativeIDs map[string]int

	// cached ids of the inline-operand natives executeColon special-cases
	idEXIT, idLIT, idTWOLIT, idBRANCH, idZBRANCH, idLITSTRING int

	// pendingColon is the header address BeginColon returned for the
	// definition currently being compiled, consumed by EndColon at ";".
	pendingColon dict.Addr

	// blockWindow is a per-slot reserved memory region mirroring the block
	// cache's raw buffers, so BLOCK/BUFFER can hand out a cell.Addr that
	// C@/C! read and write directly (package block's buffers live outside
	// cell.Memory's address space); UPDATE copies the window back before
	// marking the slot dirty.
	blockWindow []cell.Addr

	halted bool
}

type haltError struct{ error }

func (e haltError) Error() string {
	if e.error == nil {
		return "VM halted"
	}
	return fmt.Sprintf("VM halted: %v", e.error)
}
func (e haltError) Unwrap() error { return e.error }

func (m *Machine) halt(err error) {
	if ferr := m.out.Flush(); err == nil {
		err = ferr
	}
	m.logf("halt: %v", err)
	panic(haltError{err})
}

// New builds a Machine with its dictionary bootstrapped with the native
// primitive wordset (natives.go).
func New(opts ...Option) *Machine {
	m := &Machine{
		out:       flushio.NewWriteFlusher(ioutil.Discard),
		logf:      func(string, ...interface{}) {},
		nativeIDs: make(map[string]int),
	}
	m.Mem = cell.NewMemory(256, 0)
	m.Dict = dict.New(m.Mem)
	m.Compiler = compiler.New(m.Dict)

	kb := &input.Source{
		Kind:     input.KindKeyboard,
		Name:     "<stdin>",
		Buffer:   make([]byte, 4096),
		Refiller: &input.KeyboardRefiller{R: bufio.NewReader(bytes.NewReader(nil))},
	}
	m.Stack = input.NewStack(kb, input.DefaultDepth)
	m.Interp = interp.New(m.Dict, m.Stack, m.Compiler)
	m.Interp.Out = m.out

	m.registerNatives()
	m.idEXIT = m.nativeIDs["EXIT"]
	m.idLIT = m.nativeIDs["LIT"]
	m.idTWOLIT = m.nativeIDs["TWOLIT"]
	m.idBRANCH = m.nativeIDs["BRANCH"]
	m.idZBRANCH = m.nativeIDs["ZBRANCH"]
	m.idLITSTRING = m.nativeIDs["LITSTRING"]
	m.compileBootstrap()

	for _, opt := range opts {
		opt.apply(m)
	}

	if m.Blocks == nil {
		m.Blocks = block.NewCache(block.NewMemDevice(block.DefaultCacheSize), block.DefaultCacheSize)
	}
	m.blockWindow = make([]cell.Addr, m.Blocks.NumSlots())
	for i := range m.blockWindow {
		addr, err := m.Mem.Allot(block.Size)
		if err != nil {
			panic(err) // Allot only fails for a negative count
		}
		m.blockWindow[i] = addr
	}
	return m
}

// loadBlock adapts block.Cache.Load to the loadBlock callback shape
// interp.Interpreter.RestoreInput/Refill expect, keeping package interp free
// of a dependency on package block.
func (m *Machine) loadBlock(blk uint32) error {
	return m.Blocks.Load(blk, m.Stack)
}

// Run drives the outer INTERPRET loop until input is exhausted or a fatal
// halt occurs, isolating any panic into a returned error via
// internal/panicerr.
func (m *Machine) Run(ctx context.Context) error {
	err := panicerr.Recover("vm", func() error {
		return m.run(ctx)
	})
	if err == nil || err == io.EOF {
		return nil
	}
	var he haltError
	if errors.As(err, &he) {
		return he.error
	}
	return err
}

func (m *Machine) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, err := m.Interp.Interpret()
		if err != nil {
			return err
		}
		if d.Kind == interp.DecisionEmpty {
			return nil
		}
		if err := m.applyDecision(d); err != nil {
			return err
		}
	}
}

// applyDecision executes one non-empty Decision from Interpreter.Interpret,
// the step EVALUATE and the bootstrap loader also need when draining a
// pushed input source down to a known stack depth (natives.go, bootstrap.go).
func (m *Machine) applyDecision(d interp.Decision) error {
	switch d.Kind {
	case interp.DecisionExecuteWord:
		return m.Execute(d.Addr)
	case interp.DecisionExecuteLit:
		m.Push(d.Lo)
	case interp.DecisionExecute2Lit:
		m.Push(d.Lo)
		m.Push(d.Hi)
	case interp.DecisionNop:
		// already handled by Interpret
	}
	return nil
}

// Push/Pop manipulate the data stack, standing in for the host CPU's stack
// primitives that SWAP et al are defined in terms of elsewhere; here the
// Machine is that consumer.
func (m *Machine) Push(v uint32) { m.data = append(m.data, v) }

func (m *Machine) Pop() uint32 {
	if len(m.data) == 0 {
		m.halt(errs.New(errs.InterpretFail, "data stack underflow"))
	}
	i := len(m.data) - 1
	v := m.data[i]
	m.data = m.data[:i]
	return v
}

func (m *Machine) PushR(v cell.Addr) { m.ret = append(m.ret, v) }

func (m *Machine) PopR() cell.Addr {
	if len(m.ret) == 0 {
		m.halt(errs.New(errs.InterpretFail, "return stack underflow"))
	}
	i := len(m.ret) - 1
	v := m.ret[i]
	m.ret = m.ret[:i]
	return v
}

// Execute dispatches one dictionary entry by kind, the tagged-dispatch
// analogue of following a word's code field.
func (m *Machine) Execute(addr dict.Addr) error {
	h := m.Dict.Header(addr)
	switch h.Kind {
	case dict.KindNative:
		return m.natives[h.NativeID](m)
	case dict.KindColon:
		return m.executeColon(h.CFA)
	case dict.KindVariable:
		m.Push(h.CFA)
		return nil
	case dict.KindConstant, dict.KindValue:
		v, err := m.Mem.Load(h.CFA)
		if err != nil {
			return err
		}
		m.Push(v)
		return nil
	case dict.Kind2Value:
		lo, err := m.Mem.Load(h.CFA)
		if err != nil {
			return err
		}
		hi, err := m.Mem.Load(h.CFA + 1)
		if err != nil {
			return err
		}
		m.Push(lo)
		m.Push(hi)
		return nil
	case dict.KindLitString:
		m.Push(h.CFA)
		return nil
	}
	return errs.New(errs.Unknown, "bad dictionary entry kind")
}

// executeColon walks the threaded body starting at cfa, using an explicit
// instruction pointer so LIT/TWOLIT/BRANCH/ZBRANCH/LITSTRING can consume
// the inline operand cells that follow them; Go's own call stack
// supplies the recursive "return" for nested colon-word calls, so no
// separate return-stack bookkeeping is needed there (the return stack this
// package does expose, PushR/PopR, is only used by the >R/R>/R@ words).
func (m *Machine) executeColon(cfa cell.Addr) error {
	ip := cfa
	for {
		opAddr, err := m.Mem.Load(ip)
		if err != nil {
			return err
		}
		ip++

		h := m.Dict.Header(opAddr)
		if h.Kind != dict.KindNative {
			if err := m.Execute(opAddr); err != nil {
				return err
			}
			continue
		}

		switch h.NativeID {
		case m.idEXIT:
			return nil
		case m.idLIT:
			v, err := m.Mem.Load(ip)
			if err != nil {
				return err
			}
			ip++
			m.Push(v)
		case m.idTWOLIT:
			lo, err := m.Mem.Load(ip)
			if err != nil {
				return err
			}
			ip++
			hi, err := m.Mem.Load(ip)
			if err != nil {
				return err
			}
			ip++
			m.Push(lo)
			m.Push(hi)
		case m.idBRANCH:
			off, err := m.Mem.Load(ip)
			if err != nil {
				return err
			}
			ip = cell.Addr(int32(ip) + int32(off))
		case m.idZBRANCH:
			off, err := m.Mem.Load(ip)
			if err != nil {
				return err
			}
			slot := ip
			ip++
			if m.Pop() == 0 {
				ip = cell.Addr(int32(slot) + int32(off))
			}
		case m.idLITSTRING:
			length, err := m.Mem.Load(ip)
			if err != nil {
				return err
			}
			ip++
			m.Push(ip)
			m.Push(length)
			ip += cell.Addr(length)
		default:
			if err := m.natives[h.NativeID](m); err != nil {
				return err
			}
		}
	}
}

func (m *Machine) registerNative(name string, immediate bool, fn nativeFunc) dict.Addr {
	id := len(m.natives)
	m.natives = append(m.natives, fn)
	addr := m.Dict.HeaderComma(name, dict.KindNative)
	m.Dict.Header(addr).NativeID = id
	m.Dict.SetImmediate(addr, immediate)
	m.nativeIDs[name] = id
	return addr
}

// Close flushes output and closes anything opened by option application
// (input pipes, output files).
func (m *Machine) Close() error {
	err := m.out.Flush()
	for _, c := range m.closers {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
