// Package kernel implements the GEMM execution framework: fixed-tile
// micro-kernels per instruction family, weight packing and activation
// prologues, output epilogues, the per-thread tiled launcher, the
// partition plan, and the top-level compute interfaces.
//
// The flow for one compute call: the plan carves the MxN output into one
// rectangle per worker, each worker walks its rectangle in cache-sized
// tiles (N outer, M inner, K innermost), micro-kernels accumulate into
// per-thread scratch, and an epilogue writes each finished output tile
// exactly once. Two workers never touch the same destination element, so
// the tile phase needs no locks.
package kernel

import (
	"fmt"

	"github.com/23skdu/longbow-windlass/internal/isa"
)

// Core describes one fixed-tile micro-kernel variant. MTile x NTile is
// the register block, KTile the depth granule the packed weight layout is
// blocked by. Partial M and trailing K are the kernel's problem; partial
// N is absorbed by zero padding in the packed operand.
type Core interface {
	Name() string
	ISA() isa.Level
	MTile() int
	NTile() int
	KTile() int
}

// Fp32Core computes strips of C[m,n] += sum_k A[m,k]*B[k,n] in float32.
//
// a holds mCount rows of kSize values at stride aStride. bPanel points at
// the packed panel position for this (k,n) origin; advancing one NTile
// block costs panelStride elements, advancing one k costs NTile elements.
// c is the scratch accumulator at stride cStride; the kernel writes full
// NTile columns per block (scratch is padded), mCount rows.
type Fp32Core interface {
	Core
	ComputeStrip(a []float32, aStride int, bPanel []float32, panelStride int,
		c []float32, cStride int, mCount, nSize, kSize int)
}

// Int8Core computes strips of raw int32 accumulations over uint8
// activations and int8 packed weights. Dequantization happens in the
// epilogue.
type Int8Core interface {
	Core
	ComputeStrip(a []uint8, aStride int, bPanel []int8, panelStride int,
		c []int32, cStride int, mCount, nSize, kSize int)
}

// Bf16Core computes strips over bfloat16 operands with float32
// accumulation.
type Bf16Core interface {
	Core
	ComputeStrip(a []uint16, aStride int, bPanel []uint16, panelStride int,
		c []float32, cStride int, mCount, nSize, kSize int)
}

// Fp32CoreFor picks the widest float core the host supports.
func Fp32CoreFor(f isa.Features) Fp32Core {
	switch {
	case f.Supports(isa.LevelAVX512):
		return fp32AVX512{}
	case f.Supports(isa.LevelAVX2):
		return fp32AVX2{}
	default:
		return fp32Scalar{}
	}
}

// Int8CoreFor picks the widest int8 core the host supports.
func Int8CoreFor(f isa.Features) Int8Core {
	switch {
	case f.Supports(isa.LevelAMXINT8):
		return int8AMX{}
	case f.Supports(isa.LevelAVX512VNNI):
		return int8VNNI{}
	default:
		return int8Scalar{}
	}
}

// Bf16CoreFor picks the widest bf16 core the host supports.
func Bf16CoreFor(f isa.Features) Bf16Core {
	if f.Supports(isa.LevelAMXBF16) {
		return bf16AMX{}
	}
	return bf16Scalar{}
}

// Fp32CoreByLevel returns the exact variant for a level, failing when the
// host cannot run it. Benchmarks and tests use this to pin a variant.
func Fp32CoreByLevel(f isa.Features, level isa.Level) (Fp32Core, error) {
	if !f.Supports(level) {
		return nil, fmt.Errorf("kernel: host does not support %s", level)
	}
	switch level {
	case isa.LevelScalar:
		return fp32Scalar{}, nil
	case isa.LevelAVX2:
		return fp32AVX2{}, nil
	case isa.LevelAVX512:
		return fp32AVX512{}, nil
	default:
		return nil, fmt.Errorf("kernel: no fp32 core for %s", level)
	}
}

// Int8CoreByLevel returns the exact int8 variant for a level.
func Int8CoreByLevel(f isa.Features, level isa.Level) (Int8Core, error) {
	if !f.Supports(level) {
		return nil, fmt.Errorf("kernel: host does not support %s", level)
	}
	switch level {
	case isa.LevelScalar:
		return int8Scalar{}, nil
	case isa.LevelAVX512VNNI:
		return int8VNNI{}, nil
	case isa.LevelAMXINT8:
		return int8AMX{}, nil
	default:
		return nil, fmt.Errorf("kernel: no int8 core for %s", level)
	}
}
