package vm

import (
	"bufio"
	"io"

	"github.com/jcorbin/duckyforth/block"
	"github.com/jcorbin/duckyforth/cell"
	"github.com/jcorbin/duckyforth/dcache"
	"github.com/jcorbin/duckyforth/input"
	"github.com/jcorbin/duckyforth/internal/flushio"
)

// Option configures a Machine at construction time, using a functional-options
// pattern.
type Option interface{ apply(m *Machine) }

// Options flattens a variadic list of Option values into one.
func Options(opts ...Option) Option {
	var res options
	for _, opt := range opts {
		switch impl := opt.(type) {
		case nil, noption:
		case options:
			res = append(res, impl...)
		default:
			res = append(res, opt)
		}
	}
	switch len(res) {
	case 0:
		return noption{}
	case 1:
		return res[0]
	default:
		return res
	}
}

type noption struct{}

func (noption) apply(*Machine) {}

type options []Option

func (opts options) apply(m *Machine) {
	for _, opt := range opts {
		if opt != nil {
			opt.apply(m)
		}
	}
}

type withLogf func(mess string, args ...interface{})

func (f withLogf) apply(m *Machine) { m.logf = f }

// WithLogf sets the Machine's diagnostic logger (internal/logio.Logger.Printf
// is the expected caller).
func WithLogf(f func(mess string, args ...interface{})) Option { return withLogf(f) }

type inputOption struct{ r io.Reader }

func (i inputOption) apply(m *Machine) {
	src := &input.Source{
		Kind:     input.KindKeyboard,
		Name:     "<input>",
		Buffer:   make([]byte, 4096),
		Refiller: &input.KeyboardRefiller{R: bufio.NewReader(i.r)},
	}
	m.Stack = input.NewStack(src, input.DefaultDepth)
	m.Interp.Stack = m.Stack
}

// WithInput replaces the keyboard input source, reading from r instead of
// the zero-value empty reader New() starts with.
func WithInput(r io.Reader) Option { return inputOption{r} }

type outputOption struct{ w io.Writer }

func (o outputOption) apply(m *Machine) {
	if m.out != nil {
		m.out.Flush()
	}
	m.out = flushio.NewWriteFlusher(o.w)
	m.Interp.Out = m.out
	if cl, ok := o.w.(io.Closer); ok {
		m.closers = append(m.closers, cl)
	}
}

// WithOutput sets the Machine's output writer.
func WithOutput(w io.Writer) Option { return outputOption{w} }

type teeOption struct{ w io.Writer }

func (o teeOption) apply(m *Machine) {
	m.out = flushio.WriteFlushers(m.out, flushio.NewWriteFlusher(o.w))
	m.Interp.Out = m.out
	if cl, ok := o.w.(io.Closer); ok {
		m.closers = append(m.closers, cl)
	}
}

// WithTee additionally mirrors output to w, alongside whatever WithOutput
// already set.
func WithTee(w io.Writer) Option { return teeOption{w} }

type memLimitOption uint

func (lim memLimitOption) apply(m *Machine) {
	m.Mem.SetLimit(uint(lim))
}

// WithMemLimit bounds the cell addresses loads and stores may reach; an
// access past the limit fails with a mem.LimitError, which ends Run with that
// error. ALLOT itself does not check the limit.
func WithMemLimit(limit uint) Option { return memLimitOption(limit) }

type blockDeviceOption struct {
	dev  block.Device
	size int
}

func (o blockDeviceOption) apply(m *Machine) {
	m.Blocks = block.NewCache(o.dev, o.size)
}

// WithBlockDevice installs a block.Device (MemDevice or FileDevice) backing
// BLOCK/BUFFER/LOAD/THRU, with the given cache size.
func WithBlockDevice(dev block.Device, cacheSize int) Option {
	return blockDeviceOption{dev, cacheSize}
}

type dieOnUndefOption bool

func (b dieOnUndefOption) apply(m *Machine) { m.Interp.DieOnUndef = bool(b) }

// WithDieOnUndef makes an undefined word a hard halt instead of the
// recoverable "word ?" diagnostic.
func WithDieOnUndef(b bool) Option { return dieOnUndefOption(b) }

type echoOption bool

func (b echoOption) apply(m *Machine) {
	if kr, ok := m.Stack.Current().Refiller.(*input.KeyboardRefiller); ok {
		kr.Echo = bool(b)
		kr.Out = m.out
	}
}

// WithEcho echoes keyboard input bytes back to the output writer as they are
// read, the interactive-terminal behavior. Apply after WithInput/WithOutput
// so it finds the keyboard refiller and writer those options installed.
func WithEcho(b bool) Option { return echoOption(b) }

type showPromptOption bool

func (b showPromptOption) apply(m *Machine) { m.Interp.ShowPrompt = bool(b) }

// WithPrompt toggles the "> " prompt printed while awaiting keyboard
// refills, for interactive sessions.
func WithPrompt(b bool) Option { return showPromptOption(b) }

type dcacheOption dcache.Config

func (o dcacheOption) apply(m *Machine) {
	m.DCache = dcache.New(dcache.Config(o), &machinePageProvider{m})
}

// WithDataCache enables the optional set-associative data cache simulator,
// backed directly by this Machine's cell.Memory.
func WithDataCache(cfg dcache.Config) Option { return dcacheOption(cfg) }

// machinePageProvider adapts cell.Memory to dcache.PageProvider: Page reads
// a 256-byte, page-aligned window for the cache to fill a line from;
// WritePage stores exactly the dirty line's bytes back at its own address
// (not the whole aligned page, since that's all a write-back ever dirties).
type machinePageProvider struct{ m *Machine }

const pageProviderPageSize = 256

func (p *machinePageProvider) Page(addr uint32) ([]byte, int, error) {
	base := addr &^ uint32(pageProviderPageSize-1)
	offset := int(addr - base)
	data, err := p.m.Mem.LoadBytes(cell.Addr(base), pageProviderPageSize)
	if err != nil {
		return nil, 0, err
	}
	return data, offset, nil
}

func (p *machinePageProvider) WritePage(addr uint32, data []byte) error {
	return p.m.Mem.StoreBytes(cell.Addr(addr), data)
}
