// Package interp implements the outer interpreter's INTERPRET decision loop,
// EVALUATE, SAVE-INPUT/RESTORE-INPUT, and the comment words ("(", "\"). It
// returns Decision values for the caller (package vm) to act on, rather than
// executing words itself: this package has no threaded-code engine of its
// own, so vm.Machine plays that role and consumes decisions as the external
// engine would.
package interp

import (
	"fmt"
	"io"

	"github.com/jcorbin/duckyforth/compiler"
	"github.com/jcorbin/duckyforth/dict"
	"github.com/jcorbin/duckyforth/errs"
	"github.com/jcorbin/duckyforth/input"
	"github.com/jcorbin/duckyforth/parser"
)

// DecisionKind is the outcome INTERPRET hands back to its caller.
type DecisionKind uint8

const (
	DecisionEmpty DecisionKind = iota
	DecisionNop
	DecisionExecuteWord
	DecisionExecuteLit
	DecisionExecute2Lit
)

// Decision is one INTERPRET call's result.
type Decision struct {
	Kind   DecisionKind
	Addr   dict.Addr
	Lo, Hi uint32
}

// Interpreter owns the global interpreter state:
// STATE, BASE, and the input-source stack, plus the compiler it hands
// compile-state work to.
type Interpreter struct {
	Dict     *dict.Dictionary
	Stack    *input.Stack
	Compiler *compiler.Compiler

	State      bool // false=interpret, true=compile
	Base       int
	DieOnUndef bool
	ShowPrompt bool
	Out        io.Writer
}

func New(d *dict.Dictionary, stack *input.Stack, comp *compiler.Compiler) *Interpreter {
	return &Interpreter{Dict: d, Stack: stack, Compiler: comp, Base: 10}
}

// ReadWordWithRefill implements read_word_with_refill: retry read_word after
// prompting and refilling until a non-empty word, input is permanently
// exhausted (io.EOF, returned as "" with a nil error so the caller can
// surface DecisionEmpty), or a hard error.
func (ip *Interpreter) ReadWordWithRefill(delim byte) (string, error) {
	for {
		w, err := parser.ReadWord(ip.Stack.Current(), delim)
		if err != nil {
			return "", err
		}
		if w != "" {
			return w, nil
		}
		if ip.ShowPrompt && ip.Out != nil {
			fmt.Fprint(ip.Out, "> ")
		}
		if err := ip.Stack.Refill(); err != nil {
			if err == io.EOF {
				return "", nil
			}
			return "", err
		}
	}
}

// Interpret performs one INTERPRET decision.
func (ip *Interpreter) Interpret() (Decision, error) {
	word, err := ip.ReadWordWithRefill(' ')
	if err != nil {
		return Decision{}, err
	}
	if word == "" {
		return Decision{Kind: DecisionEmpty}, nil
	}

	if res := ip.Dict.Search(word); res.Found {
		if res.Immediate || !ip.State {
			return Decision{Kind: DecisionExecuteWord, Addr: res.Addr}, nil
		}
		if _, err := ip.Dict.CompileCell(uint32(res.Addr)); err != nil {
			return Decision{}, err
		}
		return Decision{Kind: DecisionNop}, nil
	}

	n := parser.ParseNumber(word, ip.Base)
	switch n.Status {
	case parser.StatusFail:
		if ip.DieOnUndef {
			return Decision{}, errs.New(errs.UndefinedWord, word)
		}
		ip.State = false
		cur := ip.Stack.Current()
		cur.Index = cur.Length
		if ip.Out != nil {
			fmt.Fprintf(ip.Out, "%s ?\n", word)
		}
		return Decision{Kind: DecisionNop}, nil

	case parser.StatusSingle:
		if !ip.State {
			return Decision{Kind: DecisionExecuteLit, Lo: n.Lo}, nil
		}
		if err := ip.Compiler.CompileLiteral(n.Lo); err != nil {
			return Decision{}, err
		}
		return Decision{Kind: DecisionNop}, nil

	default: // StatusDouble
		if !ip.State {
			return Decision{Kind: DecisionExecute2Lit, Lo: n.Lo, Hi: n.Hi}, nil
		}
		if err := ip.Compiler.CompileDoubleLiteral(n.Lo, n.Hi); err != nil {
			return Decision{}, err
		}
		return Decision{Kind: DecisionNop}, nil
	}
}

// Evaluate pushes buf as a new EVALUATE input source.
func (ip *Interpreter) Evaluate(buf []byte) error {
	src := &input.Source{
		Kind:     input.KindEvaluate,
		Name:     "evaluate",
		Buffer:   buf,
		Length:   len(buf),
		Refiller: input.EvaluateRefiller{},
	}
	return ip.Stack.Push(src)
}

// SavedInput is what SAVE-INPUT/RESTORE-INPUT exchange.
type SavedInput struct {
	N     int
	Index int
	Blk   uint32
}

// SaveInput implements SAVE-INPUT.
func (ip *Interpreter) SaveInput() SavedInput {
	cur := ip.Stack.Current()
	if cur.Blk != 0 {
		return SavedInput{N: 2, Index: cur.Index, Blk: cur.Blk}
	}
	return SavedInput{N: 1, Index: cur.Index}
}

// RestoreInput implements RESTORE-INPUT. loadBlock is supplied by the caller
// (vm, backed by a block.Cache) since this package does not depend on block
// storage.
func (ip *Interpreter) RestoreInput(s SavedInput, loadBlock func(blk uint32) error) error {
	if s.N == 2 {
		if err := ip.Stack.Pop(); err != nil {
			return err
		}
		if err := loadBlock(s.Blk); err != nil {
			return err
		}
	}
	ip.Stack.Current().Index = s.Index
	return nil
}

// Refill implements the REFILL word's semantics, distinct from the
// automatic per-source Refiller: keyboard refills and returns true,
// EVALUATE returns false, block pops and loads blk+1.
func (ip *Interpreter) Refill(loadBlock func(blk uint32) error) (bool, error) {
	cur := ip.Stack.Current()
	switch cur.Kind {
	case input.KindKeyboard:
		if err := ip.Stack.Refill(); err != nil {
			return false, err
		}
		return true, nil
	case input.KindEvaluate:
		return false, nil
	case input.KindBlock:
		blk := cur.Blk
		if err := ip.Stack.Pop(); err != nil {
			return false, err
		}
		if err := loadBlock(blk + 1); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

const blockLineLength = 64

// Backslash implements "\": discard to end of buffer, or for block input, to
// the next BLOCK_LINE_LENGTH-aligned line.
func (ip *Interpreter) Backslash() {
	cur := ip.Stack.Current()
	if cur.Blk != 0 {
		line := cur.Index / blockLineLength
		next := (line + 1) * blockLineLength
		if next > cur.Length {
			next = cur.Length
		}
		cur.Index = next
		return
	}
	cur.Index = cur.Length
}

// SkipParenComment implements "(": discard up to and including the next ")",
// refilling across buffer boundaries as needed.
func (ip *Interpreter) SkipParenComment() error {
	for {
		cur := ip.Stack.Current()
		for cur.Index < cur.Length {
			if cur.ReadChar() == ')' {
				return nil
			}
		}
		if err := ip.Stack.Refill(); err != nil {
			return err
		}
	}
}

// ReadQuoteString implements the S"/C" payload scan: read bytes up to the
// next '"', within the current buffer only (no refill across the closing
// quote).
func (ip *Interpreter) ReadQuoteString() (string, error) {
	cur := ip.Stack.Current()
	if cur.Index < cur.Length && cur.Buffer[cur.Index] == ' ' {
		cur.Index++
	}
	start := cur.Index
	for cur.Index < cur.Length {
		if cur.Buffer[cur.Index] == '"' {
			s := string(cur.Buffer[start:cur.Index])
			cur.Index++
			return s, nil
		}
		cur.Index++
	}
	return string(cur.Buffer[start:cur.Index]), nil
}
