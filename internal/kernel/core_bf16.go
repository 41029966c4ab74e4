package kernel

import (
	"github.com/23skdu/longbow-windlass/internal/isa"
	"github.com/23skdu/longbow-windlass/internal/vec"
)

// Bf16 cores read bfloat16 operands and accumulate in float32, pairing k
// steps the way the matrix-tile bf16 unit consumes them. KTile is 2.

// bf16Scalar is the portable baseline: 4x8 block.
type bf16Scalar struct{}

func (bf16Scalar) Name() string    { return "bf16_scalar_4x8" }
func (bf16Scalar) ISA() isa.Level  { return isa.LevelScalar }
func (bf16Scalar) MTile() int      { return 4 }
func (bf16Scalar) NTile() int      { return 8 }
func (bf16Scalar) KTile() int      { return 2 }

func (bf16Scalar) ComputeStrip(a []uint16, aStride int, bPanel []uint16, panelStride int,
	c []float32, cStride int, mCount, nSize, kSize int) {
	for nb := 0; nb < nSize; nb += 8 {
		b := bPanel[(nb/8)*panelStride:]
		for i := 0; i < mCount; i++ {
			ar := a[i*aStride:]
			cr := c[i*cStride+nb:]
			var acc [8]float32
			k := 0
			for ; k+2 <= kSize; k += 2 {
				v0 := vec.Bf16ToFp32(ar[k])
				v1 := vec.Bf16ToFp32(ar[k+1])
				b0 := b[k*8 : k*8+8]
				b1 := b[(k+1)*8 : (k+1)*8+8]
				for j := 0; j < 8; j++ {
					acc[j] += v0*vec.Bf16ToFp32(b0[j]) + v1*vec.Bf16ToFp32(b1[j])
				}
			}
			for ; k < kSize; k++ {
				v := vec.Bf16ToFp32(ar[k])
				bk := b[k*8 : k*8+8]
				for j := 0; j < 8; j++ {
					acc[j] += v * vec.Bf16ToFp32(bk[j])
				}
			}
			for j := 0; j < 8; j++ {
				cr[j] += acc[j]
			}
		}
	}
}

// bf16AMX mirrors the matrix-tile shape: 16x64 block.
type bf16AMX struct{}

func (bf16AMX) Name() string    { return "bf16_amx_16x64" }
func (bf16AMX) ISA() isa.Level  { return isa.LevelAMXBF16 }
func (bf16AMX) MTile() int      { return 16 }
func (bf16AMX) NTile() int      { return 64 }
func (bf16AMX) KTile() int      { return 2 }

func (bf16AMX) ComputeStrip(a []uint16, aStride int, bPanel []uint16, panelStride int,
	c []float32, cStride int, mCount, nSize, kSize int) {
	for nb := 0; nb < nSize; nb += 64 {
		b := bPanel[(nb/64)*panelStride:]
		for i := 0; i < mCount; i++ {
			ar := a[i*aStride:]
			cr := c[i*cStride+nb:]
			var acc [64]float32
			k := 0
			for ; k+2 <= kSize; k += 2 {
				v0 := vec.Bf16ToFp32(ar[k])
				v1 := vec.Bf16ToFp32(ar[k+1])
				b0 := b[k*64 : k*64+64]
				b1 := b[(k+1)*64 : (k+1)*64+64]
				for j := 0; j < 64; j++ {
					acc[j] += v0*vec.Bf16ToFp32(b0[j]) + v1*vec.Bf16ToFp32(b1[j])
				}
			}
			for ; k < kSize; k++ {
				v := vec.Bf16ToFp32(ar[k])
				bk := b[k*64 : k*64+64]
				for j := 0; j < 64; j++ {
					acc[j] += v * vec.Bf16ToFp32(bk[j])
				}
			}
			for j := 0; j < 64; j++ {
				cr[j] += acc[j]
			}
		}
	}
}
