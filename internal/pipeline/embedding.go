package pipeline

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
)

var (
	ErrEmbeddingDtype  = errors.New("unknown embedding dtype")
	ErrEmbeddingDim    = errors.New("embedding dimension mismatch")
	ErrEmbeddingLength = errors.New("embedding byte length not a multiple of element size")
	ErrEmbeddingValue  = errors.New("embedding has non-finite component")
)

const (
	DtypeFloat16 = "float16"
	DtypeFloat32 = "float32"
)

// DecodeEmbedding canonicalizes a detection's embedding to float32. It
// returns (nil, nil) when the detection has none. A list embedding takes
// precedence over emb_b64. Raw bytes are little-endian.
func DecodeEmbedding(d *Detection, dim int) ([]float32, error) {
	var out []float32
	switch {
	case !d.HasEmbedding():
		return nil, nil
	case d.hasEmbeddingList():
		if err := json.Unmarshal(d.Embedding, &out); err != nil {
			return nil, fmt.Errorf("embedding list: %w", err)
		}
	default:
		raw, err := base64.StdEncoding.DecodeString(d.EmbB64)
		if err != nil {
			return nil, fmt.Errorf("emb_b64: %w", err)
		}
		dtype := d.EmbDtype
		if dtype == "" {
			dtype = DtypeFloat16
		}
		out, err = decodeRaw(raw, dtype)
		if err != nil {
			return nil, err
		}
	}

	if len(out) != dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrEmbeddingDim, len(out), dim)
	}
	for i, f := range out {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil, fmt.Errorf("%w: index %d is %v", ErrEmbeddingValue, i, f)
		}
	}
	return out, nil
}

func decodeRaw(raw []byte, dtype string) ([]float32, error) {
	switch dtype {
	case DtypeFloat16:
		if len(raw)%2 != 0 {
			return nil, fmt.Errorf("%w: %d bytes as %s", ErrEmbeddingLength, len(raw), dtype)
		}
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
		return out, nil
	case DtypeFloat32:
		if len(raw)%4 != 0 {
			return nil, fmt.Errorf("%w: %d bytes as %s", ErrEmbeddingLength, len(raw), dtype)
		}
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrEmbeddingDtype, dtype)
	}
}

// EncodeEmbedding packs v as little-endian bytes of dtype and base64-encodes
// them, the inverse of the emb_b64 path of DecodeEmbedding.
func EncodeEmbedding(v []float32, dtype string) (string, error) {
	var raw []byte
	switch dtype {
	case DtypeFloat16:
		raw = make([]byte, len(v)*2)
		for i, f := range v {
			binary.LittleEndian.PutUint16(raw[i*2:], float16.Fromfloat32(f).Bits())
		}
	case DtypeFloat32:
		raw = make([]byte, len(v)*4)
		for i, f := range v {
			binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(f))
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrEmbeddingDtype, dtype)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
