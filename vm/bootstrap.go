package vm

import "github.com/jcorbin/duckyforth/interp"

// bootstrapSource defines a small set of derived words directly in terms of
// the natives.go primitive wordset, growing the higher-level vocabulary from
// a small core rather than registering every word as Go. Kept short and
// unsurprising: common stack, arithmetic and output helpers.
const bootstrapSource = `
: 2DROP DROP DROP ;
: 2DUP OVER OVER ;
: NIP SWAP DROP ;
: TUCK SWAP OVER ;
: CELL+ 1 + ;
: CELLS ;
: 1+ 1 + ;
: 1- 1 - ;
: ABS DUP 0< IF NEGATE THEN ;
: MIN 2DUP > IF SWAP THEN DROP ;
: MAX 2DUP < IF SWAP THEN DROP ;
: SPACE 32 EMIT ;
: SPACES BEGIN DUP 0 > WHILE SPACE 1- REPEAT DROP ;
: ?DUP DUP IF DUP THEN ;
: BL 32 ;
`

// compileBootstrap feeds bootstrapSource through the outer interpreter at
// construction time, exactly as though it had been typed: the derived words
// above compile themselves using only already-registered natives.
func (m *Machine) compileBootstrap() {
	prev := m.Interp.DieOnUndef
	m.Interp.DieOnUndef = true
	err := m.evalSource(bootstrapSource)
	m.Interp.DieOnUndef = prev
	if err != nil {
		panic("vm: bootstrap source failed to compile: " + err.Error())
	}
}

// evalSource pushes src as an EVALUATE-style input source and drains it,
// the same shape doEvaluate uses for the EVALUATE word itself, factored out
// here since bootstrap has no data-stack operands to pop.
func (m *Machine) evalSource(src string) error {
	baseDepth := m.Stack.Index()
	if err := m.Interp.Evaluate([]byte(src)); err != nil {
		return err
	}
	for m.Stack.Index() > baseDepth {
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
	return nil
}
