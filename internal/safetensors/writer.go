package safetensors

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/goccy/go-json"
	"github.com/x448/float16"
)

// Tensor is one named tensor to serialize. Data is row-major float32;
// DType selects the on-disk encoding ("F32" default, or "F16").
type Tensor struct {
	Name  string
	Shape []int
	DType string
	Data  []float32
}

// Write serializes tensors to path in name order. Offsets are laid out
// densely in the same order as the header entries.
func Write(path string, tensors []Tensor) error {
	sorted := make([]Tensor, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	header := make(map[string]tensorHeader, len(sorted))
	var offset int64
	for _, t := range sorted {
		n, err := numElements(t.Shape)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", t.Name, err)
		}
		if n != len(t.Data) {
			return fmt.Errorf("tensor %s: shape %v does not match %d values", t.Name, t.Shape, len(t.Data))
		}
		dtype := t.DType
		if dtype == "" {
			dtype = "F32"
		}
		size, err := byteSize(dtype, n)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", t.Name, err)
		}
		header[t.Name] = tensorHeader{
			DType:       dtype,
			Shape:       t.Shape,
			DataOffsets: []int64{offset, offset + size},
		}
		offset += size
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := f.Write(headerBytes); err != nil {
		return err
	}
	for _, t := range sorted {
		if err := writeData(f, t); err != nil {
			return fmt.Errorf("tensor %s: %w", t.Name, err)
		}
	}
	return f.Close()
}

func writeData(f *os.File, t Tensor) error {
	switch t.DType {
	case "", "F32":
		buf := make([]byte, len(t.Data)*4)
		for i, v := range t.Data {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		_, err := f.Write(buf)
		return err
	case "F16":
		buf := make([]byte, len(t.Data)*2)
		for i, v := range t.Data {
			binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
		}
		_, err := f.Write(buf)
		return err
	default:
		return fmt.Errorf("unsupported dtype %s", t.DType)
	}
}

func byteSize(dtype string, n int) (int64, error) {
	switch dtype {
	case "F32":
		return int64(n) * 4, nil
	case "F16":
		return int64(n) * 2, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %s", dtype)
	}
}
