package isa

import (
	"os"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Level identifies one micro-kernel instruction family. Levels are ordered:
// a higher level is always preferred when the host supports it.
type Level int

const (
	LevelScalar Level = iota
	LevelAVX2
	LevelAVX512
	LevelAVX512VNNI
	LevelAMXBF16
	LevelAMXINT8
)

func (l Level) String() string {
	switch l {
	case LevelScalar:
		return "scalar"
	case LevelAVX2:
		return "avx2"
	case LevelAVX512:
		return "avx512"
	case LevelAVX512VNNI:
		return "avx512_vnni"
	case LevelAMXBF16:
		return "amx_bf16"
	case LevelAMXINT8:
		return "amx_int8"
	default:
		return "unknown"
	}
}

// ParseLevel maps the WINDLASS_FORCE_ISA spelling back to a Level.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scalar", "none":
		return LevelScalar, true
	case "avx2":
		return LevelAVX2, true
	case "avx512", "avx512f":
		return LevelAVX512, true
	case "avx512_vnni", "vnni":
		return LevelAVX512VNNI, true
	case "amx_bf16":
		return LevelAMXBF16, true
	case "amx_int8":
		return LevelAMXINT8, true
	}
	return LevelScalar, false
}

// ForceEnv is the environment variable that clamps the detected level.
// Anything above the named level is masked off, which keeps runs
// reproducible across heterogeneous machines.
const ForceEnv = "WINDLASS_FORCE_ISA"

// Features describes what the probe found on the host. Cache sizes are in
// bytes and feed the partition plan's tile sizing; PhysicalCores feeds the
// default worker count.
type Features struct {
	Level         Level
	VectorBytes   int
	L1DSize       int
	L2Size        int
	PhysicalCores int
	Brand         string

	mask uint32
}

// Supports reports whether the exact level is usable, not just whether it
// is below the best one. AMX int8 and bf16 are siblings, so ordering alone
// is not enough.
func (f Features) Supports(l Level) bool {
	return f.mask&(1<<uint(l)) != 0
}

var (
	detectOnce sync.Once
	detected   Features
)

// Detect probes the host once and caches the result.
func Detect() Features {
	detectOnce.Do(func() {
		detected = probe(os.Getenv(ForceEnv))
	})
	return detected
}

// Fallback cache geometry when cpuid cannot read it (VMs, older cores).
// The L2 default matches the scratch budget the kernel family was tuned
// against.
const (
	defaultL1D = 32 * 1024
	defaultL2  = 1 << 21
)

func probe(force string) Features {
	f := Features{
		Level:       LevelScalar,
		VectorBytes: 8,
		mask:        1 << uint(LevelScalar),
	}

	cpu := cpuid.CPU
	f.Brand = cpu.BrandName
	f.PhysicalCores = cpu.PhysicalCores
	if f.PhysicalCores <= 0 {
		f.PhysicalCores = cpu.LogicalCores
	}
	if f.PhysicalCores <= 0 {
		f.PhysicalCores = 1
	}

	f.L1DSize = cpu.Cache.L1D
	if f.L1DSize <= 0 {
		f.L1DSize = defaultL1D
	}
	f.L2Size = cpu.Cache.L2
	if f.L2Size <= 0 {
		f.L2Size = defaultL2
	}

	if cpu.Supports(cpuid.AVX2, cpuid.FMA3) {
		f.mask |= 1 << uint(LevelAVX2)
		f.Level = LevelAVX2
		f.VectorBytes = 32
	}
	if cpu.Supports(cpuid.AVX512F, cpuid.AVX512BW, cpuid.AVX512VL, cpuid.AVX512DQ) {
		f.mask |= 1 << uint(LevelAVX512)
		f.Level = LevelAVX512
		f.VectorBytes = 64
	}
	if f.Supports(LevelAVX512) && cpu.Supports(cpuid.AVX512VNNI) {
		f.mask |= 1 << uint(LevelAVX512VNNI)
		f.Level = LevelAVX512VNNI
	}
	if cpu.Supports(cpuid.AMXTILE, cpuid.AMXBF16) {
		f.mask |= 1 << uint(LevelAMXBF16)
		f.Level = LevelAMXBF16
	}
	if cpu.Supports(cpuid.AMXTILE, cpuid.AMXINT8) {
		f.mask |= 1 << uint(LevelAMXINT8)
		f.Level = LevelAMXINT8
	}

	if force != "" {
		if lim, ok := ParseLevel(force); ok {
			f.clampTo(lim)
		}
	}
	return f
}

func (f *Features) clampTo(lim Level) {
	f.mask &= (1 << uint(lim+1)) - 1
	for f.Level > LevelScalar && !f.Supports(f.Level) {
		f.Level--
	}
	if f.Level <= LevelAVX2 {
		f.VectorBytes = 32
	}
	if f.Level == LevelScalar {
		f.VectorBytes = 8
	}
}
