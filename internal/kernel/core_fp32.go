package kernel

import "github.com/23skdu/longbow-windlass/internal/isa"

// fp32Scalar is the portable baseline: 4x8 register block, plain
// accumulator array.
type fp32Scalar struct{}

func (fp32Scalar) Name() string    { return "fp32_scalar_4x8" }
func (fp32Scalar) ISA() isa.Level  { return isa.LevelScalar }
func (fp32Scalar) MTile() int      { return 4 }
func (fp32Scalar) NTile() int      { return 8 }
func (fp32Scalar) KTile() int      { return 1 }

func (fp32Scalar) ComputeStrip(a []float32, aStride int, bPanel []float32, panelStride int,
	c []float32, cStride int, mCount, nSize, kSize int) {
	for nb := 0; nb < nSize; nb += 8 {
		b := bPanel[(nb/8)*panelStride:]
		for i := 0; i < mCount; i++ {
			ar := a[i*aStride:]
			cr := c[i*cStride+nb:]
			var acc [8]float32
			for k := 0; k < kSize; k++ {
				av := ar[k]
				bk := b[k*8 : k*8+8]
				acc[0] += av * bk[0]
				acc[1] += av * bk[1]
				acc[2] += av * bk[2]
				acc[3] += av * bk[3]
				acc[4] += av * bk[4]
				acc[5] += av * bk[5]
				acc[6] += av * bk[6]
				acc[7] += av * bk[7]
			}
			for j := 0; j < 8; j++ {
				cr[j] += acc[j]
			}
		}
	}
}

// fp32AVX2 targets the 8-lane FMA shape: 4x24 block, three lanes of eight
// per row, rows unrolled in pairs so the compiler keeps six accumulator
// groups live.
type fp32AVX2 struct{}

func (fp32AVX2) Name() string    { return "fp32_avx2_4x24" }
func (fp32AVX2) ISA() isa.Level  { return isa.LevelAVX2 }
func (fp32AVX2) MTile() int      { return 4 }
func (fp32AVX2) NTile() int      { return 24 }
func (fp32AVX2) KTile() int      { return 1 }

func (fp32AVX2) ComputeStrip(a []float32, aStride int, bPanel []float32, panelStride int,
	c []float32, cStride int, mCount, nSize, kSize int) {
	for nb := 0; nb < nSize; nb += 24 {
		b := bPanel[(nb/24)*panelStride:]

		i := 0
		for ; i+2 <= mCount; i += 2 {
			a0 := a[i*aStride:]
			a1 := a[(i+1)*aStride:]
			var r0, r1 [24]float32
			for k := 0; k < kSize; k++ {
				bk := b[k*24 : k*24+24]
				v0 := a0[k]
				v1 := a1[k]
				for j := 0; j < 24; j += 8 {
					r0[j] += v0 * bk[j]
					r0[j+1] += v0 * bk[j+1]
					r0[j+2] += v0 * bk[j+2]
					r0[j+3] += v0 * bk[j+3]
					r0[j+4] += v0 * bk[j+4]
					r0[j+5] += v0 * bk[j+5]
					r0[j+6] += v0 * bk[j+6]
					r0[j+7] += v0 * bk[j+7]
					r1[j] += v1 * bk[j]
					r1[j+1] += v1 * bk[j+1]
					r1[j+2] += v1 * bk[j+2]
					r1[j+3] += v1 * bk[j+3]
					r1[j+4] += v1 * bk[j+4]
					r1[j+5] += v1 * bk[j+5]
					r1[j+6] += v1 * bk[j+6]
					r1[j+7] += v1 * bk[j+7]
				}
			}
			c0 := c[i*cStride+nb:]
			c1 := c[(i+1)*cStride+nb:]
			for j := 0; j < 24; j++ {
				c0[j] += r0[j]
				c1[j] += r1[j]
			}
		}
		for ; i < mCount; i++ {
			ar := a[i*aStride:]
			cr := c[i*cStride+nb:]
			var r [24]float32
			for k := 0; k < kSize; k++ {
				bk := b[k*24 : k*24+24]
				v := ar[k]
				for j := 0; j < 24; j++ {
					r[j] += v * bk[j]
				}
			}
			for j := 0; j < 24; j++ {
				cr[j] += r[j]
			}
		}
	}
}

// fp32AVX512 is the 16-lane shape: 8x48 block, three lanes of sixteen per
// row.
type fp32AVX512 struct{}

func (fp32AVX512) Name() string    { return "fp32_avx512_8x48" }
func (fp32AVX512) ISA() isa.Level  { return isa.LevelAVX512 }
func (fp32AVX512) MTile() int      { return 8 }
func (fp32AVX512) NTile() int      { return 48 }
func (fp32AVX512) KTile() int      { return 1 }

func (fp32AVX512) ComputeStrip(a []float32, aStride int, bPanel []float32, panelStride int,
	c []float32, cStride int, mCount, nSize, kSize int) {
	for nb := 0; nb < nSize; nb += 48 {
		b := bPanel[(nb/48)*panelStride:]
		for i := 0; i < mCount; i++ {
			ar := a[i*aStride:]
			cr := c[i*cStride+nb:]
			var r [48]float32
			for k := 0; k < kSize; k++ {
				bk := b[k*48 : k*48+48]
				v := ar[k]
				for j := 0; j < 48; j += 16 {
					r[j] += v * bk[j]
					r[j+1] += v * bk[j+1]
					r[j+2] += v * bk[j+2]
					r[j+3] += v * bk[j+3]
					r[j+4] += v * bk[j+4]
					r[j+5] += v * bk[j+5]
					r[j+6] += v * bk[j+6]
					r[j+7] += v * bk[j+7]
					r[j+8] += v * bk[j+8]
					r[j+9] += v * bk[j+9]
					r[j+10] += v * bk[j+10]
					r[j+11] += v * bk[j+11]
					r[j+12] += v * bk[j+12]
					r[j+13] += v * bk[j+13]
					r[j+14] += v * bk[j+14]
					r[j+15] += v * bk[j+15]
				}
			}
			for j := 0; j < 48; j++ {
				cr[j] += r[j]
			}
		}
	}
}
