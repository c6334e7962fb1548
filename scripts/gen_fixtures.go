// Command gen_fixtures regenerates testdata/fixtures/*.expected golden files
// by running each sibling *.fs source through a fresh vm.Machine. Each
// Machine is an independent singleton, so the runs fan out concurrently.
package main

import (
	"bytes"
	"flag"
	"io/ioutil"
	"log"
	"path/filepath"
	"strings"

	"golang.org/x/net/context"
	"golang.org/x/sync/errgroup"

	"github.com/jcorbin/duckyforth/vm"
)

func main() {
	dir := flag.String("dir", "testdata/fixtures", "directory of *.fs fixtures to regenerate")
	flag.Parse()

	sources, err := filepath.Glob(filepath.Join(*dir, "*.fs"))
	if err != nil {
		log.Fatal(err)
	}
	if len(sources) == 0 {
		log.Fatalf("no *.fs fixtures found under %s", *dir)
	}

	eg, ctx := errgroup.WithContext(context.Background())
	for _, src := range sources {
		src := src
		eg.Go(func() error { return regenerate(ctx, src) })
	}
	if err := eg.Wait(); err != nil {
		log.Fatal(err)
	}
}

func regenerate(ctx context.Context, srcPath string) error {
	src, err := ioutil.ReadFile(srcPath)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	m := vm.New(vm.WithInput(bytes.NewReader(src)), vm.WithOutput(&out))
	defer m.Close()
	if err := m.Run(ctx); err != nil {
		return err
	}

	expectPath := strings.TrimSuffix(srcPath, ".fs") + ".expected"
	return ioutil.WriteFile(expectPath, out.Bytes(), 0644)
}
