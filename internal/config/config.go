package config

import (
	"fmt"
	"strings"
)

// WeightType selects how projection weights are stored and which kernel
// family evaluates them. Activations are always fp32 at tensor
// boundaries.
type WeightType int

const (
	WeightAuto WeightType = iota
	WeightF32
	WeightBF16
	WeightInt8
	WeightInt4
)

func (w WeightType) String() string {
	switch w {
	case WeightF32:
		return "f32"
	case WeightBF16:
		return "bf16"
	case WeightInt8:
		return "int8"
	case WeightInt4:
		return "int4"
	default:
		return "auto"
	}
}

// ParseWeightType maps a flag value to a WeightType.
func ParseWeightType(s string) (WeightType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return WeightAuto, nil
	case "f32", "fp32":
		return WeightF32, nil
	case "bf16":
		return WeightBF16, nil
	case "int8", "q8":
		return WeightInt8, nil
	case "int4", "q4":
		return WeightInt4, nil
	default:
		return WeightAuto, fmt.Errorf("unknown weight type %q", s)
	}
}

type NormType int

const (
	NormLayer NormType = iota
	NormRMS
)

type Config struct {
	Architecture string
	Dim          int
	HiddenDim    int
	Layers       int
	Heads        int
	HeadDim      int
	VocabSize    int
	SeqLen       int
	Eps          float32
	RopeTheta    float32

	// RotaryPct is the fraction of each head rotated by RoPE; the rest
	// of the head passes through untouched.
	RotaryPct float32

	// ParallelResidual feeds attention and FFN from the same normed
	// input and sums both into the residual stream.
	ParallelResidual bool

	Norm       NormType
	WeightType WeightType

	// Int4BlockLen is the elements-per-scale granularity of int4 stored
	// weights.
	Int4BlockLen int

	DebugActivations bool
	DebugLogits      bool
}

func (c *Config) Validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("invalid dim: %d (must be positive)", c.Dim)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("invalid layers: %d (must be positive)", c.Layers)
	}
	if c.Heads <= 0 {
		return fmt.Errorf("invalid heads: %d (must be positive)", c.Heads)
	}
	if c.HeadDim <= 0 {
		return fmt.Errorf("invalid head_dim: %d (must be positive)", c.HeadDim)
	}
	if c.Dim != c.Heads*c.HeadDim {
		return fmt.Errorf("dim mismatch: %d != heads(%d) * head_dim(%d)", c.Dim, c.Heads, c.HeadDim)
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be positive)", c.VocabSize)
	}
	if c.SeqLen <= 0 {
		return fmt.Errorf("invalid seq_len: %d (must be positive)", c.SeqLen)
	}
	if c.Eps <= 0 {
		return fmt.Errorf("invalid eps: %f (must be positive)", c.Eps)
	}
	if c.RopeTheta <= 0 {
		return fmt.Errorf("invalid rope_theta: %f (must be positive)", c.RopeTheta)
	}
	if c.RotaryPct <= 0 || c.RotaryPct > 1 {
		return fmt.Errorf("invalid rotary_pct: %f (must be in (0,1])", c.RotaryPct)
	}
	if c.HiddenDim <= 0 {
		return fmt.Errorf("invalid hidden_dim: %d (must be positive)", c.HiddenDim)
	}
	if c.RotaryDims()%2 != 0 {
		return fmt.Errorf("rotary dims %d must be even", c.RotaryDims())
	}
	if c.WeightType == WeightInt4 {
		if c.Int4BlockLen <= 0 || c.Int4BlockLen%2 != 0 {
			return fmt.Errorf("invalid int4_block_len: %d (must be positive and even)", c.Int4BlockLen)
		}
	}
	return nil
}

// RotaryDims returns how many leading dimensions of each head RoPE
// rotates.
func (c *Config) RotaryDims() int {
	d := int(c.RotaryPct * float32(c.HeadDim))
	if d > c.HeadDim {
		d = c.HeadDim
	}
	return d
}

func (c *Config) GetArchitecture() string {
	return strings.ToLower(c.Architecture)
}

func (c *Config) IsLargeModel() bool {
	return c.Dim >= 4096
}

func Default() Config {
	return Config{
		Architecture:     "gptneox",
		SeqLen:           2048,
		Eps:              1e-5,
		RopeTheta:        10000.0,
		RotaryPct:        0.25,
		ParallelResidual: true,
		Norm:             NormLayer,
		WeightType:       WeightAuto,
		Int4BlockLen:     32,
	}
}
