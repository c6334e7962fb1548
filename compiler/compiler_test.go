package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcorbin/duckyforth/cell"
	"github.com/jcorbin/duckyforth/compiler"
	"github.com/jcorbin/duckyforth/dict"
)

// newCompiler registers the handful of native primitives control-flow
// compilation references by name (LIT/TWOLIT/BRANCH/ZBRANCH/COMMA/LITSTRING),
// the way package vm's registerNatives does, without pulling in all of vm.
func newCompiler(t *testing.T) (*compiler.Compiler, *dict.Dictionary) {
	t.Helper()
	d := dict.New(cell.NewMemory(16, 0))
	for _, name := range []string{
		compiler.NameLit, compiler.NameTwoLit, compiler.NameBranch,
		compiler.NameZBranch, compiler.NameComma, compiler.NameLitString,
		"EXIT",
	} {
		d.HeaderComma(name, dict.KindNative)
	}
	return compiler.New(d), d
}

func TestCompileLiteral(t *testing.T) {
	c, d := newCompiler(t)
	before := c.Mem.Here()
	require.NoError(t, c.CompileLiteral(42))

	litAddr, err := c.Mem.Load(before)
	require.NoError(t, err)
	assert.Equal(t, uint32(d.Search(compiler.NameLit).Addr), litAddr)

	v, err := c.Mem.Load(before + 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)
}

func TestCompileDoubleLiteral(t *testing.T) {
	c, _ := newCompiler(t)
	before := c.Mem.Here()
	require.NoError(t, c.CompileDoubleLiteral(1, 2))
	lo, err := c.Mem.Load(before + 1)
	require.NoError(t, err)
	hi, err := c.Mem.Load(before + 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), lo)
	assert.Equal(t, uint32(2), hi)
}

func TestCompileLitString(t *testing.T) {
	c, _ := newCompiler(t)
	before := c.Mem.Here()
	require.NoError(t, c.CompileLitString("hi"))
	length, err := c.Mem.Load(before + 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), length)
	s, err := c.Mem.ReadString(before+2, 2)
	require.NoError(t, err)
	assert.Equal(t, "hi", s)
}

func TestIfThenPatchesForwardDistance(t *testing.T) {
	c, _ := newCompiler(t)
	require.NoError(t, c.If())
	slot := c.Mem.Here() - 1 // the offset cell If() just comma'd
	require.NoError(t, c.Then())

	dist, err := c.Mem.Load(slot)
	require.NoError(t, err)
	assert.Equal(t, uint32(int32(c.Mem.Here())-int32(slot)), dist)
}

func TestIfElseThen(t *testing.T) {
	c, _ := newCompiler(t)
	require.NoError(t, c.If())
	ifSlot := c.Mem.Here() - 1
	require.NoError(t, c.Else())
	elseSlot := c.Mem.Here() - 1
	require.NoError(t, c.Then())

	ifDist, err := c.Mem.Load(ifSlot)
	require.NoError(t, err)
	assert.Equal(t, uint32(int32(elseSlot+1)-int32(ifSlot)), ifDist, "IF must land just past the ELSE branch")

	elseDist, err := c.Mem.Load(elseSlot)
	require.NoError(t, err)
	assert.Equal(t, uint32(int32(c.Mem.Here())-int32(elseSlot)), elseDist)
}

func TestBeginUntilBranchesBackward(t *testing.T) {
	c, _ := newCompiler(t)
	c.Begin()
	dest := c.Mem.Here()
	require.NoError(t, c.Until())

	slot := c.Mem.Here() - 1
	dist, err := c.Mem.Load(slot)
	require.NoError(t, err)
	assert.Equal(t, uint32(int32(dest)-int32(slot)), dist)
	assert.Less(t, int32(dist), int32(0), "UNTIL must branch backward")
}

func TestBeginAgain(t *testing.T) {
	c, _ := newCompiler(t)
	c.Begin()
	dest := c.Mem.Here()
	require.NoError(t, c.Again())
	slot := c.Mem.Here() - 1
	dist, err := c.Mem.Load(slot)
	require.NoError(t, err)
	assert.Equal(t, uint32(int32(dest)-int32(slot)), dist)
}

func TestBeginWhileRepeat(t *testing.T) {
	c, _ := newCompiler(t)
	c.Begin()
	dest := c.Mem.Here()
	require.NoError(t, c.While())
	whileSlot := c.Mem.Here() - 1
	require.NoError(t, c.Repeat())

	backSlot := c.Mem.Here() - 1
	backDist, err := c.Mem.Load(backSlot)
	require.NoError(t, err)
	assert.Equal(t, uint32(int32(dest)-int32(backSlot)), backDist, "REPEAT's unconditional branch must target BEGIN")

	whileDist, err := c.Mem.Load(whileSlot)
	require.NoError(t, err)
	assert.Equal(t, uint32(int32(c.Mem.Here())-int32(whileSlot)), whileDist, "WHILE must land past REPEAT's back-branch")
}

func TestPostponeImmediateCompilesWordDirectly(t *testing.T) {
	c, d := newCompiler(t)
	ifAddr := d.HeaderComma("IF", dict.KindNative)
	d.SetImmediate(ifAddr, true)

	before := c.Mem.Here()
	require.NoError(t, c.Postpone("IF"))
	v, err := c.Mem.Load(before)
	require.NoError(t, err)
	assert.Equal(t, uint32(ifAddr), v)
}

func TestPostponeNonImmediateDefersViaComma(t *testing.T) {
	c, d := newCompiler(t)
	dupAddr := d.HeaderComma("DUP", dict.KindNative)

	before := c.Mem.Here()
	require.NoError(t, c.Postpone("DUP"))
	// compiles LIT, dupAddr, COMMA
	litAddr, err := c.Mem.Load(before)
	require.NoError(t, err)
	assert.Equal(t, uint32(d.Search(compiler.NameLit).Addr), litAddr)
	v, err := c.Mem.Load(before + 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(dupAddr), v)
	commaAddr, err := c.Mem.Load(before + 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(d.Search(compiler.NameComma).Addr), commaAddr)
}

func TestPostponeUndefined(t *testing.T) {
	c, _ := newCompiler(t)
	err := c.Postpone("NOPE")
	assert.Error(t, err)
}

func TestDefineValue(t *testing.T) {
	c, d := newCompiler(t)
	addr, err := c.DefineValue("X", 7)
	require.NoError(t, err)
	h := d.Header(addr)
	assert.Equal(t, dict.KindValue, h.Kind)
	v, err := c.Mem.Load(h.CFA)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)
}

func TestDefine2Value(t *testing.T) {
	c, d := newCompiler(t)
	addr, err := c.Define2Value("X", 1, 2)
	require.NoError(t, err)
	h := d.Header(addr)
	assert.Equal(t, dict.Kind2Value, h.Kind)
	lo, err := c.Mem.Load(h.CFA)
	require.NoError(t, err)
	hi, err := c.Mem.Load(h.CFA + 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), lo)
	assert.Equal(t, uint32(2), hi)
}

func TestDefineVariableConstantArray(t *testing.T) {
	c, d := newCompiler(t)

	vAddr, err := c.DefineVariable("V")
	require.NoError(t, err)
	v, err := c.Mem.Load(d.Header(vAddr).CFA)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v)

	kAddr, err := c.DefineConstant("K", 99)
	require.NoError(t, err)
	k, err := c.Mem.Load(d.Header(kAddr).CFA)
	require.NoError(t, err)
	assert.Equal(t, uint32(99), k)

	aAddr, err := c.DefineArray("A", 10)
	require.NoError(t, err)
	base := d.Header(aAddr).CFA
	assert.Equal(t, cell.Addr(10), c.Mem.Here()-base)
}

func TestBeginEndColon(t *testing.T) {
	c, d := newCompiler(t)
	addr := c.BeginColon("SQUARE")
	h := d.Header(addr)
	assert.True(t, h.Flags&dict.FlagHidden != 0)

	require.NoError(t, c.EndColon(addr, "EXIT"))
	assert.False(t, d.Header(addr).Flags&dict.FlagHidden != 0)

	exitAddr, err := c.Mem.Load(h.CFA)
	require.NoError(t, err)
	assert.Equal(t, uint32(d.Search("EXIT").Addr), exitAddr)
}
