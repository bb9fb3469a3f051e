package tensor

import "math"

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// AddScaled adds s*src to dst element-wise.
func AddScaled(dst, src []float32, s float32) {
	for i := range dst {
		dst[i] += s * src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// MatVec computes dst = w * x where w is [R x C] and x has length C.
func MatVec(dst []float32, w *Mat, x []float32) {
	if len(dst) < w.R || len(x) < w.C {
		panic("MatVec dimension mismatch")
	}
	for i := 0; i < w.R; i++ {
		dst[i] = Dot(w.Row(i), x[:w.C])
	}
}

// MatMulT computes dst = x * w^T where x is [M x K] and w is [N x K],
// yielding dst [M x N]. Weights stored out-by-in multiply activations
// without an explicit transpose.
func MatMulT(dst, x, w *Mat) {
	if x.C != w.C || dst.R != x.R || dst.C != w.R {
		panic("MatMulT dimension mismatch")
	}
	for i := 0; i < x.R; i++ {
		xi := x.Row(i)
		di := dst.Row(i)
		for j := 0; j < w.R; j++ {
			di[j] = Dot(xi, w.Row(j))
		}
	}
}

// AddMat adds src to dst element-wise; shapes must match.
func AddMat(dst, src *Mat) {
	if dst.R != src.R || dst.C != src.C {
		panic("AddMat shape mismatch")
	}
	for i := 0; i < dst.R; i++ {
		Add(dst.Row(i), src.Row(i))
	}
}

// AddScaledMat adds s*src to dst element-wise; shapes must match.
func AddScaledMat(dst, src *Mat, s float32) {
	if dst.R != src.R || dst.C != src.C {
		panic("AddScaledMat shape mismatch")
	}
	for i := 0; i < dst.R; i++ {
		AddScaled(dst.Row(i), src.Row(i), s)
	}
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// Relu computes the rectified linear activation.
func Relu(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

// Gelu computes the Gaussian Error Linear Unit using the tanh
// approximation common in transformer stacks.
func Gelu(x float32) float32 {
	x64 := float64(x)
	return float32(0.5 * x64 * (1.0 + math.Tanh(0.7978845608028654*(x64+0.044715*x64*x64*x64))))
}
