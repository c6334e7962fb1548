package vm

import (
	"fmt"

	"github.com/jcorbin/duckyforth/block"
	"github.com/jcorbin/duckyforth/cell"
	"github.com/jcorbin/duckyforth/dict"
	"github.com/jcorbin/duckyforth/errs"
	"github.com/jcorbin/duckyforth/interp"
	"github.com/jcorbin/duckyforth/parser"
)

// registerNatives installs the threaded-code primitives (EXIT, LIT, TWOLIT,
// BRANCH, ZBRANCH, LITSTRING) plus the general stack, arithmetic, memory,
// I/O, and compiler wordset, the words that create VALUE/2VALUE/VARIABLE/
// CONSTANT/ARRAY entries, and the control-flow/block/input words.
func (m *Machine) registerNatives() {
	// --- inline-operand primitives, special-cased in executeColon ---
	m.registerNative("EXIT", false, func(m *Machine) error { return nil })
	m.registerNative("LIT", false, func(m *Machine) error { return nil })
	m.registerNative("TWOLIT", false, func(m *Machine) error { return nil })
	m.registerNative("BRANCH", false, func(m *Machine) error { return nil })
	m.registerNative("ZBRANCH", false, func(m *Machine) error { return nil })
	m.registerNative("LITSTRING", false, func(m *Machine) error { return nil })

	// --- dictionary/memory primitives ---
	m.registerNative("COMMA", false, func(m *Machine) error {
		_, err := m.Mem.Comma(m.Pop())
		return err
	})
	m.registerNative("!", false, func(m *Machine) error {
		addr := m.Pop()
		v := m.Pop()
		return m.Mem.Store(addr, v)
	})
	m.registerNative("2!", false, func(m *Machine) error {
		addr := m.Pop()
		hi := m.Pop()
		lo := m.Pop()
		if err := m.Mem.Store(addr, lo); err != nil {
			return err
		}
		return m.Mem.Store(addr+1, hi)
	})
	m.registerNative("@", false, func(m *Machine) error {
		v, err := m.Mem.Load(m.Pop())
		if err != nil {
			return err
		}
		m.Push(v)
		return nil
	})
	m.registerNative("2@", false, func(m *Machine) error {
		addr := m.Pop()
		lo, err := m.Mem.Load(addr)
		if err != nil {
			return err
		}
		hi, err := m.Mem.Load(addr + 1)
		if err != nil {
			return err
		}
		m.Push(lo)
		m.Push(hi)
		return nil
	})
	m.registerNative("C@", false, func(m *Machine) error {
		v, err := m.Mem.Load(m.Pop())
		if err != nil {
			return err
		}
		m.Push(v & 0xFF)
		return nil
	})
	m.registerNative("C!", false, func(m *Machine) error {
		addr := m.Pop()
		v := m.Pop()
		return m.Mem.Store(addr, v&0xFF)
	})
	m.registerNative("HERE", false, func(m *Machine) error { m.Push(m.Mem.Here()); return nil })
	m.registerNative("ALLOT", false, func(m *Machine) error {
		n := int32(m.Pop())
		_, err := m.Mem.Allot(int(n))
		return err
	})

	// --- data stack ---
	m.registerNative("SWAP", false, func(m *Machine) error {
		b, a := m.Pop(), m.Pop()
		m.Push(b)
		m.Push(a)
		return nil
	})
	m.registerNative("DUP", false, func(m *Machine) error {
		v := m.Pop()
		m.Push(v)
		m.Push(v)
		return nil
	})
	m.registerNative("DROP", false, func(m *Machine) error { m.Pop(); return nil })
	m.registerNative("OVER", false, func(m *Machine) error {
		b, a := m.Pop(), m.Pop()
		m.Push(a)
		m.Push(b)
		m.Push(a)
		return nil
	})
	m.registerNative("ROT", false, func(m *Machine) error {
		c, b, a := m.Pop(), m.Pop(), m.Pop()
		m.Push(b)
		m.Push(c)
		m.Push(a)
		return nil
	})
	m.registerNative(">R", false, func(m *Machine) error { m.PushR(m.Pop()); return nil })
	m.registerNative("R>", false, func(m *Machine) error { m.Push(uint32(m.PopR())); return nil })
	m.registerNative("R@", false, func(m *Machine) error {
		v := m.PopR()
		m.PushR(v)
		m.Push(uint32(v))
		return nil
	})

	// --- arithmetic/logic ---
	m.registerNative("+", false, func(m *Machine) error { b, a := m.Pop(), m.Pop(); m.Push(a + b); return nil })
	m.registerNative("-", false, func(m *Machine) error { b, a := m.Pop(), m.Pop(); m.Push(a - b); return nil })
	m.registerNative("*", false, func(m *Machine) error { b, a := m.Pop(), m.Pop(); m.Push(a * b); return nil })
	m.registerNative("/", false, func(m *Machine) error {
		b, a := m.Pop(), m.Pop()
		if b == 0 {
			return errs.New(errs.Unknown, "division by zero")
		}
		m.Push(uint32(int32(a) / int32(b)))
		return nil
	})
	m.registerNative("MOD", false, func(m *Machine) error {
		b, a := m.Pop(), m.Pop()
		if b == 0 {
			return errs.New(errs.Unknown, "division by zero")
		}
		m.Push(uint32(int32(a) % int32(b)))
		return nil
	})
	m.registerNative("AND", false, func(m *Machine) error { b, a := m.Pop(), m.Pop(); m.Push(a & b); return nil })
	m.registerNative("OR", false, func(m *Machine) error { b, a := m.Pop(), m.Pop(); m.Push(a | b); return nil })
	m.registerNative("XOR", false, func(m *Machine) error { b, a := m.Pop(), m.Pop(); m.Push(a ^ b); return nil })
	m.registerNative("INVERT", false, func(m *Machine) error { m.Push(^m.Pop()); return nil })
	m.registerNative("NEGATE", false, func(m *Machine) error { m.Push(uint32(-int32(m.Pop()))); return nil })

	m.registerNative("=", false, func(m *Machine) error { b, a := m.Pop(), m.Pop(); m.Push(boolCell(a == b)); return nil })
	m.registerNative("<", false, func(m *Machine) error {
		b, a := m.Pop(), m.Pop()
		m.Push(boolCell(int32(a) < int32(b)))
		return nil
	})
	m.registerNative(">", false, func(m *Machine) error {
		b, a := m.Pop(), m.Pop()
		m.Push(boolCell(int32(a) > int32(b)))
		return nil
	})
	m.registerNative("0=", false, func(m *Machine) error { m.Push(boolCell(m.Pop() == 0)); return nil })
	m.registerNative("0<", false, func(m *Machine) error { m.Push(boolCell(int32(m.Pop()) < 0)); return nil })

	// --- double-cell arithmetic, package cell ---
	m.registerNative("DNEGATE", false, func(m *Machine) error {
		hi, lo := m.Pop(), m.Pop()
		lo, hi = cell.DNegate(lo, hi)
		m.Push(lo)
		m.Push(hi)
		return nil
	})
	m.registerNative("D+", false, func(m *Machine) error {
		bhi, blo, ahi, alo := m.Pop(), m.Pop(), m.Pop(), m.Pop()
		lo, hi := cell.DAdd(alo, ahi, blo, bhi)
		m.Push(lo)
		m.Push(hi)
		return nil
	})
	m.registerNative("D-", false, func(m *Machine) error {
		bhi, blo, ahi, alo := m.Pop(), m.Pop(), m.Pop(), m.Pop()
		lo, hi := cell.DSub(alo, ahi, blo, bhi)
		m.Push(lo)
		m.Push(hi)
		return nil
	})
	m.registerNative("D0=", false, func(m *Machine) error {
		hi, lo := m.Pop(), m.Pop()
		m.Push(boolCell(cell.D0Eq(lo, hi)))
		return nil
	})
	m.registerNative("D0<", false, func(m *Machine) error {
		hi, lo := m.Pop(), m.Pop()
		m.Push(boolCell(cell.D0Lt(lo, hi)))
		return nil
	})
	m.registerNative("D2*", false, func(m *Machine) error {
		hi, lo := m.Pop(), m.Pop()
		lo, hi = cell.D2Mul(lo, hi)
		m.Push(lo)
		m.Push(hi)
		return nil
	})
	m.registerNative("D2/", false, func(m *Machine) error {
		hi, lo := m.Pop(), m.Pop()
		lo, hi = cell.D2Div(lo, hi)
		m.Push(lo)
		m.Push(hi)
		return nil
	})
	m.registerNative("D<", false, func(m *Machine) error {
		bhi, blo, ahi, alo := m.Pop(), m.Pop(), m.Pop(), m.Pop()
		m.Push(boolCell(cell.DLt(alo, ahi, blo, bhi)))
		return nil
	})
	m.registerNative("DU<", false, func(m *Machine) error {
		bhi, blo, ahi, alo := m.Pop(), m.Pop(), m.Pop(), m.Pop()
		m.Push(boolCell(cell.DULt(alo, ahi, blo, bhi)))
		return nil
	})
	m.registerNative("D=", false, func(m *Machine) error {
		bhi, blo, ahi, alo := m.Pop(), m.Pop(), m.Pop(), m.Pop()
		m.Push(boolCell(cell.DEq(alo, ahi, blo, bhi)))
		return nil
	})
	m.registerNative("DMAX", false, func(m *Machine) error {
		bhi, blo, ahi, alo := m.Pop(), m.Pop(), m.Pop(), m.Pop()
		lo, hi := cell.DMax(alo, ahi, blo, bhi)
		m.Push(lo)
		m.Push(hi)
		return nil
	})
	m.registerNative("DMIN", false, func(m *Machine) error {
		bhi, blo, ahi, alo := m.Pop(), m.Pop(), m.Pop(), m.Pop()
		lo, hi := cell.DMin(alo, ahi, blo, bhi)
		m.Push(lo)
		m.Push(hi)
		return nil
	})
	m.registerNative("D>S", false, func(m *Machine) error {
		hi, lo := m.Pop(), m.Pop()
		m.Push(cell.DToS(lo, hi))
		return nil
	})
	m.registerNative("DABS", false, func(m *Machine) error {
		hi, lo := m.Pop(), m.Pop()
		lo, hi = cell.DAbs(lo, hi)
		m.Push(lo)
		m.Push(hi)
		return nil
	})
	m.registerNative("M+", false, func(m *Machine) error {
		n := m.Pop()
		hi, lo := m.Pop(), m.Pop()
		lo, hi = cell.MPlus(lo, hi, int32(n))
		m.Push(lo)
		m.Push(hi)
		return nil
	})

	// --- numeric base ---
	m.registerNative("DECIMAL", false, func(m *Machine) error { m.Interp.Base = 10; return nil })
	m.registerNative("HEX", false, func(m *Machine) error { m.Interp.Base = 16; return nil })

	// --- I/O ---
	m.registerNative("EMIT", false, func(m *Machine) error {
		_, err := m.out.Write([]byte{byte(m.Pop())})
		return err
	})
	m.registerNative(".", false, func(m *Machine) error {
		v := m.Pop()
		_, err := fmt.Fprintf(m.out, "%s ", parser.FormatSigned(int32(v), m.Interp.Base))
		return err
	})
	m.registerNative("CR", false, func(m *Machine) error {
		_, err := m.out.Write([]byte{'\n'})
		return err
	})
	m.registerNative("TYPE", false, func(m *Machine) error {
		length := m.Pop()
		addr := m.Pop()
		s, err := m.Mem.ReadString(addr, int(length))
		if err != nil {
			return err
		}
		_, err = m.out.Write([]byte(s))
		return err
	})

	// --- colon definitions ---
	m.registerNative(":", false, func(m *Machine) error {
		name, err := m.Interp.ReadWordWithRefill(' ')
		if err != nil {
			return err
		}
		m.pendingColon = m.Compiler.BeginColon(name)
		m.Interp.State = true
		return nil
	})
	m.registerNative(";", true, func(m *Machine) error {
		if err := m.Compiler.EndColon(m.pendingColon, "EXIT"); err != nil {
			return err
		}
		m.Interp.State = false
		return nil
	})
	m.registerNative("IMMEDIATE", false, func(m *Machine) error {
		m.Dict.SetImmediate(m.Dict.Latest(), true)
		return nil
	})

	// --- compile-time control flow (all IMMEDIATE) ---
	m.registerNative("IF", true, func(m *Machine) error { return m.Compiler.If() })
	m.registerNative("ELSE", true, func(m *Machine) error { return m.Compiler.Else() })
	m.registerNative("THEN", true, func(m *Machine) error { return m.Compiler.Then() })
	m.registerNative("BEGIN", true, func(m *Machine) error { m.Compiler.Begin(); return nil })
	m.registerNative("UNTIL", true, func(m *Machine) error { return m.Compiler.Until() })
	m.registerNative("AGAIN", true, func(m *Machine) error { return m.Compiler.Again() })
	m.registerNative("WHILE", true, func(m *Machine) error { return m.Compiler.While() })
	m.registerNative("REPEAT", true, func(m *Machine) error { return m.Compiler.Repeat() })
	m.registerNative("POSTPONE", true, func(m *Machine) error {
		name, err := m.Interp.ReadWordWithRefill(' ')
		if err != nil {
			return err
		}
		return m.Compiler.Postpone(name)
	})

	// --- VALUE/TO/2VALUE, VARIABLE/CONSTANT/ARRAY ---
	m.registerNative("VALUE", false, func(m *Machine) error {
		name, err := m.Interp.ReadWordWithRefill(' ')
		if err != nil {
			return err
		}
		_, err = m.Compiler.DefineValue(name, m.Pop())
		return err
	})
	m.registerNative("2VALUE", false, func(m *Machine) error {
		name, err := m.Interp.ReadWordWithRefill(' ')
		if err != nil {
			return err
		}
		hi, lo := m.Pop(), m.Pop()
		_, err = m.Compiler.Define2Value(name, lo, hi)
		return err
	})
	m.registerNative("TO", true, func(m *Machine) error { return m.doTo() })
	m.registerNative("VARIABLE", false, func(m *Machine) error {
		name, err := m.Interp.ReadWordWithRefill(' ')
		if err != nil {
			return err
		}
		_, err = m.Compiler.DefineVariable(name)
		return err
	})
	m.registerNative("CONSTANT", false, func(m *Machine) error {
		name, err := m.Interp.ReadWordWithRefill(' ')
		if err != nil {
			return err
		}
		_, err = m.Compiler.DefineConstant(name, m.Pop())
		return err
	})
	m.registerNative("ARRAY", false, func(m *Machine) error {
		n := int32(m.Pop())
		name, err := m.Interp.ReadWordWithRefill(' ')
		if err != nil {
			return err
		}
		_, err = m.Compiler.DefineArray(name, int(n))
		return err
	})

	// --- strings ---
	m.registerNative(`S"`, true, func(m *Machine) error { return m.doQuoteString(false) })
	m.registerNative(`C"`, true, func(m *Machine) error { return m.doQuoteString(true) })
	m.registerNative(`."`, true, func(m *Machine) error { return m.doDotQuote() })
	m.registerNative("EVALUATE", false, func(m *Machine) error { return m.doEvaluate() })

	// --- comments / input stack ---
	m.registerNative("(", true, func(m *Machine) error { return m.Interp.SkipParenComment() })
	m.registerNative("\\", true, func(m *Machine) error { m.Interp.Backslash(); return nil })
	m.registerNative("SAVE-INPUT", false, func(m *Machine) error {
		s := m.Interp.SaveInput()
		m.Push(uint32(s.Index))
		m.Push(s.Blk)
		m.Push(uint32(s.N))
		return nil
	})
	m.registerNative("RESTORE-INPUT", false, func(m *Machine) error {
		n := m.Pop()
		blk := m.Pop()
		idx := m.Pop()
		return m.Interp.RestoreInput(interp.SavedInput{N: int(n), Index: int(idx), Blk: blk}, m.loadBlock)
	})
	m.registerNative("REFILL", false, func(m *Machine) error {
		ok, err := m.Interp.Refill(m.loadBlock)
		if err != nil {
			return err
		}
		m.Push(boolCell(ok))
		return nil
	})

	// --- block words ---
	m.registerNative("BLOCK", false, func(m *Machine) error { return m.doBlock(m.Pop(), true) })
	m.registerNative("BUFFER", false, func(m *Machine) error { return m.doBlock(m.Pop(), false) })
	m.registerNative("UPDATE", false, func(m *Machine) error { return m.doUpdate() })
	m.registerNative("FLUSH", false, func(m *Machine) error { return m.Blocks.Flush() })
	m.registerNative("SAVE-BUFFERS", false, func(m *Machine) error { return m.Blocks.SaveBuffers() })
	m.registerNative("EMPTY-BUFFERS", false, func(m *Machine) error { m.Blocks.EmptyBuffers(); return nil })
	m.registerNative("LIST", false, func(m *Machine) error { return m.Blocks.List(m.Pop(), m.out) })
	m.registerNative("LOAD", false, func(m *Machine) error { return m.Blocks.Load(m.Pop(), m.Stack) })
	m.registerNative("THRU", false, func(m *Machine) error {
		u2, u1 := m.Pop(), m.Pop()
		return m.Blocks.Thru(u1, u2, m.Stack)
	})
}

func boolCell(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// doTo implements TO: store into a VALUE's or 2VALUE's cell(s), the pop
// order for the double case matching Define2Value's (hi on top). While
// compiling, TO instead compiles "LIT, cell-addr, !" (or 2! for a 2VALUE)
// so the store happens when the enclosing word runs.
func (m *Machine) doTo() error {
	name, err := m.Interp.ReadWordWithRefill(' ')
	if err != nil {
		return err
	}
	res := m.Dict.Search(name)
	if !res.Found {
		return errs.New(errs.UndefinedWord, name)
	}
	h := m.Dict.Header(res.Addr)

	if m.Interp.State {
		var store string
		switch h.Kind {
		case dict.KindValue:
			store = "!"
		case dict.Kind2Value:
			store = "2!"
		default:
			return errs.New(errs.Unknown, "TO: not a VALUE: "+name)
		}
		if err := m.Compiler.CompileLiteral(h.CFA); err != nil {
			return err
		}
		_, err := m.Mem.Comma(uint32(m.Dict.Search(store).Addr))
		return err
	}

	switch h.Kind {
	case dict.KindValue:
		return m.Mem.Store(h.CFA, m.Pop())
	case dict.Kind2Value:
		hi, lo := m.Pop(), m.Pop()
		if err := m.Mem.Store(h.CFA, lo); err != nil {
			return err
		}
		return m.Mem.Store(h.CFA+1, hi)
	default:
		return errs.New(errs.Unknown, "TO: not a VALUE: "+name)
	}
}

// doQuoteString implements S"/C". While compiling it defers to the
// compiler's LITSTRING emission; while interpreting it writes the payload
// as a transient allocation at Here and pushes addr/len (or, for C", the
// length-cell address) using a plain length-prefixed counted string with no
// 1-byte overlap trick.
func (m *Machine) doQuoteString(counted bool) error {
	s, err := m.Interp.ReadQuoteString()
	if err != nil {
		return err
	}
	if m.Interp.State {
		return m.Compiler.CompileLitString(s)
	}
	lenAddr, err := m.Mem.Comma(uint32(len(s)))
	if err != nil {
		return err
	}
	base, err := m.Mem.WriteString(s)
	if err != nil {
		return err
	}
	if counted {
		m.Push(lenAddr)
	} else {
		m.Push(base)
		m.Push(uint32(len(s)))
	}
	return nil
}

// doDotQuote implements ." : while compiling, the string prints itself via
// LITSTRING followed by a compiled call to TYPE; while interpreting, it
// writes the payload straight to output with no dictionary/memory footprint.
func (m *Machine) doDotQuote() error {
	s, err := m.Interp.ReadQuoteString()
	if err != nil {
		return err
	}
	if !m.Interp.State {
		_, err := m.out.Write([]byte(s))
		return err
	}
	if err := m.Compiler.CompileLitString(s); err != nil {
		return err
	}
	res := m.Dict.Search("TYPE")
	if !res.Found {
		return errs.New(errs.UndefinedWord, "TYPE")
	}
	_, err = m.Mem.Comma(uint32(res.Addr))
	return err
}

// doEvaluate implements EVALUATE: push a new input source over the given
// string and interpret it until the input stack returns to the depth it had
// before the push. Per the EvaluateRefiller contract (package input) an
// exhausted EVALUATE source pops itself on the next refill attempt rather
// than blocking, so this loop's bound can in principle be crossed by one
// extra word if the newly-current source below still had input pending;
// that matches this core's uniform "EMPTY pops" refill protocol rather than
// special-casing EVALUATE.
func (m *Machine) doEvaluate() error {
	length := m.Pop()
	addr := m.Pop()
	s, err := m.Mem.ReadString(addr, int(length))
	if err != nil {
		return err
	}
	return m.evalSource(string(s))
}

// doBlock implements BLOCK(load=true)/BUFFER(load=false): fetch the cache
// slot, mirror its raw bytes into that slot's reserved cell-memory window,
// and push the window's base address for C@/C! access (package block's
// buffers live outside cell.Memory's address space; see Machine.blockWindow).
func (m *Machine) doBlock(bid uint32, load bool) error {
	var buf []byte
	var err error
	if load {
		buf, err = m.Blocks.Block(bid)
	} else {
		buf, err = m.Blocks.Buffer(bid)
	}
	if err != nil {
		return err
	}
	slot := m.Blocks.CurrentSlot()
	addr := m.blockWindow[slot]
	if err := m.Mem.StoreBytes(addr, buf); err != nil {
		return err
	}
	m.Push(addr)
	return nil
}

// doUpdate implements UPDATE: copy the current slot's window back into the
// block cache's buffer before marking it dirty, so SAVE-BUFFERS/FLUSH see
// whatever C@/C! wrote.
func (m *Machine) doUpdate() error {
	slot := m.Blocks.CurrentSlot()
	if slot < 0 {
		return nil
	}
	data, err := m.Mem.LoadBytes(m.blockWindow[slot], block.Size)
	if err != nil {
		return err
	}
	copy(m.Blocks.SlotBuf(slot), data)
	m.Blocks.Update()
	return nil
}
