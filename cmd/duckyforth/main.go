// Command duckyforth runs the Ducky-FORTH interpreter core (package vm)
// against stdin, optionally backed by a block image file; every run starts
// with the bundled kernel of derived words (package vm's bootstrapSource).
// A run that ends in an errs.Error exits with that error's Code.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jcorbin/duckyforth/block"
	"github.com/jcorbin/duckyforth/dcache"
	"github.com/jcorbin/duckyforth/errs"
	"github.com/jcorbin/duckyforth/internal/logio"
	"github.com/jcorbin/duckyforth/vm"
)

func main() {
	var (
		memLimit   uint
		timeout    time.Duration
		dump       bool
		dieOnUndef bool
		prompt     bool
		echo       bool
		blockFile  string
		cacheSize  int
		dataCache  bool
	)
	flag.UintVar(&memLimit, "mem-limit", 0, "enable memory cell allocation limit")
	flag.DurationVar(&timeout, "timeout", 0, "specify a time limit")
	flag.BoolVar(&dump, "dump", false, "print data cache stats after execution (with -data-cache)")
	flag.BoolVar(&dieOnUndef, "die-on-undef", false, "halt instead of printing \"word ?\" on an undefined word")
	flag.BoolVar(&prompt, "prompt", false, "show the \"> \" prompt while awaiting keyboard input")
	flag.BoolVar(&echo, "echo", false, "echo keyboard input bytes back to output")
	flag.StringVar(&blockFile, "blocks", "", "path to a block-storage image file (created if absent)")
	flag.IntVar(&cacheSize, "block-cache-size", block.DefaultCacheSize, "number of block cache slots")
	flag.BoolVar(&dataCache, "data-cache", false, "enable the optional data cache simulator")
	flag.Parse()

	log := logio.Logger{}
	log.SetOutput(os.Stderr)
	haltCode := 0
	defer func() {
		code := log.ExitCode()
		if haltCode != 0 {
			code = haltCode
		}
		os.Exit(code)
	}()

	opts := []vm.Option{
		vm.WithLogf(log.Leveledf("TRACE")),
		vm.WithMemLimit(memLimit),
		vm.WithInput(os.Stdin),
		vm.WithOutput(os.Stdout),
		vm.WithDieOnUndef(dieOnUndef),
		vm.WithPrompt(prompt),
		vm.WithEcho(echo),
	}

	if blockFile != "" {
		f, err := os.OpenFile(blockFile, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			log.Errorf("%+v", err)
			return
		}
		defer f.Close()
		opts = append(opts, vm.WithBlockDevice(block.NewFileDevice(f), cacheSize))
	}

	if dataCache {
		opts = append(opts, vm.WithDataCache(dcache.Config{Size: 8192, LineLength: 64, Associativity: 4}))
	}

	m := vm.New(opts...)
	defer m.Close()

	if dump {
		defer func() {
			if m.DCache != nil {
				s := m.DCache.Stats()
				fmt.Fprintf(os.Stderr, "dcache: reads=%d hits=%d misses=%d prunes=%d forced-writes=%d\n",
					s.Reads, s.Hits, s.Misses, s.Prunes, s.ForcedWrites)
			}
		}()
	}

	ctx := context.Background()
	if timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := m.Run(ctx)
	log.ErrorIf(err)
	var he *errs.Error
	if errors.As(err, &he) {
		haltCode = int(he.Code)
	}
}
