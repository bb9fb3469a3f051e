// Package toy provides a deliberately simplistic backbone used for testing
// and benchmarking the composition machinery. It is not a real transformer;
// it only has to expose the same kind of module tree one would have
// (embedding, blocks with query/key/value/out projections, a head) with
// deterministic, seed-fixed weights.
package toy

import (
	"fmt"

	"github.com/samcharles93/graft/internal/nn"
)

// NewBackbone builds a frozen demo model:
//
//	embed                     vocab -> dim lookup
//	block0..block{n-1}        each a chain of query/key/value/out linears
//	head                      dim -> vocab projection
//
// All weights derive from the provided seed, so two backbones built with
// the same arguments are identical.
func NewBackbone(vocab, dim, blocks int, seed int64) *nn.Sequential {
	root := nn.NewSequential()
	root.Append("embed", nn.NewEmbedding(vocab, dim, seed+11))
	for b := 0; b < blocks; b++ {
		blockSeed := seed + int64(100*(b+1))
		block := nn.NewSequential(
			nn.Child{Name: "query", Module: nn.NewLinear(dim, dim, blockSeed+1)},
			nn.Child{Name: "key", Module: nn.NewLinear(dim, dim, blockSeed+2)},
			nn.Child{Name: "value", Module: nn.NewLinear(dim, dim, blockSeed+3)},
			nn.Child{Name: "out", Module: nn.NewLinear(dim, dim, blockSeed+4)},
		)
		root.Append(fmt.Sprintf("block%d", b), block)
	}
	root.Append("head", nn.NewLinear(dim, vocab, seed+23))
	return root
}
