package nn

import (
	"context"

	"github.com/samcharles93/graft/internal/tensor"
)

// Linear computes y = x*W^T + b. W is stored out-by-in; b may be nil.
type Linear struct {
	W *tensor.Mat
	B []float32
}

// NewLinear allocates a linear layer with reproducible pseudo-random
// weights and no bias.
func NewLinear(in, out int, seed int64) *Linear {
	w := tensor.NewMat(out, in)
	tensor.FillRand(w, seed)
	return &Linear{W: w}
}

func (l *Linear) Forward(ctx context.Context, x *tensor.Mat) (*tensor.Mat, error) {
	out := tensor.NewMat(x.R, l.W.R)
	tensor.MatMulT(out, x, l.W)
	if l.B != nil {
		for i := 0; i < out.R; i++ {
			tensor.Add(out.Row(i), l.B)
		}
	}
	return out, nil
}

func (l *Linear) Weight() *tensor.Mat { return l.W }

func (l *Linear) Params() []Param {
	ps := []Param{{Name: "weight", Value: l.W}}
	if l.B != nil {
		ps = append(ps, Param{Name: "bias", Value: tensor.NewMatFromData(1, len(l.B), l.B)})
	}
	return ps
}

// Embedding maps token ids to rows of a lookup table. The input matrix
// carries one id per row in column zero; the output has one table row per
// input row.
type Embedding struct {
	Table *tensor.Mat // [vocab x dim]
}

// NewEmbedding allocates an embedding with reproducible pseudo-random rows.
func NewEmbedding(vocab, dim int, seed int64) *Embedding {
	t := tensor.NewMat(vocab, dim)
	tensor.FillRand(t, seed)
	return &Embedding{Table: t}
}

func (e *Embedding) Forward(ctx context.Context, x *tensor.Mat) (*tensor.Mat, error) {
	out := tensor.NewMat(x.R, e.Table.C)
	for i := 0; i < x.R; i++ {
		tok := int(x.At(i, 0))
		if tok < 0 || tok >= e.Table.R {
			tok = ((tok % e.Table.R) + e.Table.R) % e.Table.R
		}
		copy(out.Row(i), e.Table.Row(tok))
	}
	return out, nil
}

func (e *Embedding) Params() []Param {
	return []Param{{Name: "weight", Value: e.Table}}
}
