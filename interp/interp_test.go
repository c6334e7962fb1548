package interp_test

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcorbin/duckyforth/cell"
	"github.com/jcorbin/duckyforth/compiler"
	"github.com/jcorbin/duckyforth/dict"
	"github.com/jcorbin/duckyforth/input"
	"github.com/jcorbin/duckyforth/interp"
)

// newInterp installs text behind a keyboard-kind bottom source, since slot 0
// is always the keyboard descriptor: reading past the end of text hits true
// EOF, exercising the same exhaustion path a real stdin session would.
func newInterp(t *testing.T, text string) (*interp.Interpreter, *dict.Dictionary) {
	t.Helper()
	d := dict.New(cell.NewMemory(16, 0))
	for _, name := range []string{
		compiler.NameLit, compiler.NameTwoLit, compiler.NameBranch,
		compiler.NameZBranch, compiler.NameComma, compiler.NameLitString,
		"EXIT", "DUP", "+",
	} {
		d.HeaderComma(name, dict.KindNative)
	}
	comp := compiler.New(d)

	kb := &input.Source{
		Kind:     input.KindKeyboard,
		Name:     "<stdin>",
		Buffer:   make([]byte, 256),
		Refiller: &input.KeyboardRefiller{R: bufio.NewReader(strings.NewReader(text + "\n"))},
	}
	st := input.NewStack(kb, 4)
	ip := interp.New(d, st, comp)
	return ip, d
}

func TestInterpretFoundWordInterpreting(t *testing.T) {
	ip, d := newInterp(t, "DUP")
	dec, err := ip.Interpret()
	require.NoError(t, err)
	assert.Equal(t, interp.DecisionExecuteWord, dec.Kind)
	assert.Equal(t, d.Search("DUP").Addr, dec.Addr)
}

func TestInterpretSingleCellLiteral(t *testing.T) {
	ip, _ := newInterp(t, "42")
	dec, err := ip.Interpret()
	require.NoError(t, err)
	assert.Equal(t, interp.DecisionExecuteLit, dec.Kind)
	assert.Equal(t, uint32(42), dec.Lo)
}

func TestInterpretDoubleCellLiteral(t *testing.T) {
	ip, _ := newInterp(t, "-10.")
	dec, err := ip.Interpret()
	require.NoError(t, err)
	assert.Equal(t, interp.DecisionExecute2Lit, dec.Kind)
	assert.Equal(t, uint32(0xFFFFFFF6), dec.Lo)
	assert.Equal(t, uint32(0xFFFFFFFF), dec.Hi)
}

func TestInterpretEmptyOnExhaustion(t *testing.T) {
	ip, _ := newInterp(t, "")
	dec, err := ip.Interpret()
	require.NoError(t, err)
	assert.Equal(t, interp.DecisionEmpty, dec.Kind)
}

func TestInterpretCompilesFoundWord(t *testing.T) {
	ip, d := newInterp(t, "DUP")
	ip.State = true
	before := ip.Compiler.Mem.Here()
	dec, err := ip.Interpret()
	require.NoError(t, err)
	assert.Equal(t, interp.DecisionNop, dec.Kind)
	v, err := ip.Compiler.Mem.Load(before)
	require.NoError(t, err)
	assert.Equal(t, uint32(d.Search("DUP").Addr), v)
}

func TestInterpretCompilesLiteral(t *testing.T) {
	ip, _ := newInterp(t, "7")
	ip.State = true
	before := ip.Compiler.Mem.Here()
	dec, err := ip.Interpret()
	require.NoError(t, err)
	assert.Equal(t, interp.DecisionNop, dec.Kind)
	litAddr, err := ip.Compiler.Mem.Load(before)
	require.NoError(t, err)
	assert.Equal(t, uint32(ip.Dict.Search(compiler.NameLit).Addr), litAddr)
	v, err := ip.Compiler.Mem.Load(before + 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)
}

func TestInterpretUndefinedWordRecovers(t *testing.T) {
	ip, _ := newInterp(t, "BOGUS")
	ip.Out = &bytes.Buffer{}
	dec, err := ip.Interpret()
	require.NoError(t, err)
	assert.Equal(t, interp.DecisionNop, dec.Kind)
	assert.False(t, ip.State, "undefined word must reset STATE to interpret")
}

func TestInterpretUndefinedWordFatalWhenConfigured(t *testing.T) {
	ip, _ := newInterp(t, "BOGUS")
	ip.DieOnUndef = true
	_, err := ip.Interpret()
	assert.Error(t, err)
}

func TestSaveRestoreInputRoundTrip(t *testing.T) {
	ip, _ := newInterp(t, "1 2 3")
	_, err := ip.Interpret() // consumes "1", advances index
	require.NoError(t, err)
	saved := ip.SaveInput()
	assert.Equal(t, 1, saved.N, "a non-block source saves n=1")

	_, err = ip.Interpret() // consumes "2"
	require.NoError(t, err)

	require.NoError(t, ip.RestoreInput(saved, func(uint32) error { return nil }))
	assert.Equal(t, saved.Index, ip.Stack.Current().Index)
}

func TestBackslashDiscardsRestOfBuffer(t *testing.T) {
	ip, _ := newInterp(t, "DUP ignored rest")
	w, err := ip.ReadWordWithRefill(' ')
	require.NoError(t, err)
	require.Equal(t, "DUP", w)

	ip.Backslash()
	cur := ip.Stack.Current()
	assert.Equal(t, cur.Length, cur.Index)
}

func TestSkipParenComment(t *testing.T) {
	ip, _ := newInterp(t, "comment here ) DUP")
	require.NoError(t, ip.SkipParenComment())
	w, err := ip.ReadWordWithRefill(' ')
	require.NoError(t, err)
	assert.Equal(t, "DUP", w)
}

func TestReadQuoteString(t *testing.T) {
	ip, _ := newInterp(t, " hello world\" DUP")
	require.NoError(t, ip.Stack.Refill())
	s, err := ip.ReadQuoteString()
	require.NoError(t, err)
	assert.Equal(t, "hello world", s)
	w, err := ip.ReadWordWithRefill(' ')
	require.NoError(t, err)
	assert.Equal(t, "DUP", w)
}

func TestEvaluatePushesSource(t *testing.T) {
	ip, _ := newInterp(t, "")
	before := ip.Stack.Index()
	require.NoError(t, ip.Evaluate([]byte("1 2 +")))
	assert.Equal(t, before+1, ip.Stack.Index())
}
