package main

import (
	"testing"

	"github.com/urfave/cli/v3"
)

func TestServeNumericFlagsAreInt64(t *testing.T) {
	t.Parallel()

	cmd := serveCmd()
	byName := make(map[string]cli.Flag, len(cmd.Flags))
	for _, f := range cmd.Flags {
		byName[f.Names()[0]] = f
	}
	for _, name := range []string{"vocab", "dim", "blocks", "seed", "rank"} {
		f, ok := byName[name]
		if !ok {
			t.Fatalf("flag %q not registered", name)
		}
		if _, ok := f.(*cli.Int64Flag); !ok {
			t.Fatalf("flag %q is %T, want *cli.Int64Flag", name, f)
		}
	}
}
