package kernel

import "github.com/23skdu/longbow-windlass/internal/isa"

// Int8 cores accumulate raw sum(qa*qb) into int32. The activation side is
// uint8 with a per-row zero point; the dequant epilogue applies scales
// and the zero-point correction, so nothing here depends on them.
//
// Accumulator headroom: 255*127 per product, so K up to ~2^16 stays well
// inside int32.

// int8Scalar is the portable baseline: 4x8 block, dot-groups of four to
// match the packed layout granule.
type int8Scalar struct{}

func (int8Scalar) Name() string    { return "int8_scalar_4x8" }
func (int8Scalar) ISA() isa.Level  { return isa.LevelScalar }
func (int8Scalar) MTile() int      { return 4 }
func (int8Scalar) NTile() int      { return 8 }
func (int8Scalar) KTile() int      { return 4 }

func (int8Scalar) ComputeStrip(a []uint8, aStride int, bPanel []int8, panelStride int,
	c []int32, cStride int, mCount, nSize, kSize int) {
	for nb := 0; nb < nSize; nb += 8 {
		b := bPanel[(nb/8)*panelStride:]
		for i := 0; i < mCount; i++ {
			ar := a[i*aStride:]
			cr := c[i*cStride+nb:]
			var acc [8]int32
			k := 0
			for ; k+4 <= kSize; k += 4 {
				a0 := int32(ar[k])
				a1 := int32(ar[k+1])
				a2 := int32(ar[k+2])
				a3 := int32(ar[k+3])
				for j := 0; j < 8; j++ {
					acc[j] += a0*int32(b[k*8+j]) + a1*int32(b[(k+1)*8+j]) +
						a2*int32(b[(k+2)*8+j]) + a3*int32(b[(k+3)*8+j])
				}
			}
			for ; k < kSize; k++ {
				av := int32(ar[k])
				for j := 0; j < 8; j++ {
					acc[j] += av * int32(b[k*8+j])
				}
			}
			for j := 0; j < 8; j++ {
				cr[j] += acc[j]
			}
		}
	}
}

// int8VNNI mirrors the dot-product unit shape: 8x48 block, four-deep
// groups accumulated per lane.
type int8VNNI struct{}

func (int8VNNI) Name() string    { return "int8_vnni_8x48" }
func (int8VNNI) ISA() isa.Level  { return isa.LevelAVX512VNNI }
func (int8VNNI) MTile() int      { return 8 }
func (int8VNNI) NTile() int      { return 48 }
func (int8VNNI) KTile() int      { return 4 }

func (int8VNNI) ComputeStrip(a []uint8, aStride int, bPanel []int8, panelStride int,
	c []int32, cStride int, mCount, nSize, kSize int) {
	for nb := 0; nb < nSize; nb += 48 {
		b := bPanel[(nb/48)*panelStride:]
		for i := 0; i < mCount; i++ {
			ar := a[i*aStride:]
			cr := c[i*cStride+nb:]
			var acc [48]int32
			k := 0
			for ; k+4 <= kSize; k += 4 {
				a0 := int32(ar[k])
				a1 := int32(ar[k+1])
				a2 := int32(ar[k+2])
				a3 := int32(ar[k+3])
				b0 := b[k*48 : k*48+48]
				b1 := b[(k+1)*48 : (k+1)*48+48]
				b2 := b[(k+2)*48 : (k+2)*48+48]
				b3 := b[(k+3)*48 : (k+3)*48+48]
				for j := 0; j < 48; j += 16 {
					acc[j] += a0*int32(b0[j]) + a1*int32(b1[j]) + a2*int32(b2[j]) + a3*int32(b3[j])
					acc[j+1] += a0*int32(b0[j+1]) + a1*int32(b1[j+1]) + a2*int32(b2[j+1]) + a3*int32(b3[j+1])
					acc[j+2] += a0*int32(b0[j+2]) + a1*int32(b1[j+2]) + a2*int32(b2[j+2]) + a3*int32(b3[j+2])
					acc[j+3] += a0*int32(b0[j+3]) + a1*int32(b1[j+3]) + a2*int32(b2[j+3]) + a3*int32(b3[j+3])
					acc[j+4] += a0*int32(b0[j+4]) + a1*int32(b1[j+4]) + a2*int32(b2[j+4]) + a3*int32(b3[j+4])
					acc[j+5] += a0*int32(b0[j+5]) + a1*int32(b1[j+5]) + a2*int32(b2[j+5]) + a3*int32(b3[j+5])
					acc[j+6] += a0*int32(b0[j+6]) + a1*int32(b1[j+6]) + a2*int32(b2[j+6]) + a3*int32(b3[j+6])
					acc[j+7] += a0*int32(b0[j+7]) + a1*int32(b1[j+7]) + a2*int32(b2[j+7]) + a3*int32(b3[j+7])
					acc[j+8] += a0*int32(b0[j+8]) + a1*int32(b1[j+8]) + a2*int32(b2[j+8]) + a3*int32(b3[j+8])
					acc[j+9] += a0*int32(b0[j+9]) + a1*int32(b1[j+9]) + a2*int32(b2[j+9]) + a3*int32(b3[j+9])
					acc[j+10] += a0*int32(b0[j+10]) + a1*int32(b1[j+10]) + a2*int32(b2[j+10]) + a3*int32(b3[j+10])
					acc[j+11] += a0*int32(b0[j+11]) + a1*int32(b1[j+11]) + a2*int32(b2[j+11]) + a3*int32(b3[j+11])
					acc[j+12] += a0*int32(b0[j+12]) + a1*int32(b1[j+12]) + a2*int32(b2[j+12]) + a3*int32(b3[j+12])
					acc[j+13] += a0*int32(b0[j+13]) + a1*int32(b1[j+13]) + a2*int32(b2[j+13]) + a3*int32(b3[j+13])
					acc[j+14] += a0*int32(b0[j+14]) + a1*int32(b1[j+14]) + a2*int32(b2[j+14]) + a3*int32(b3[j+14])
					acc[j+15] += a0*int32(b0[j+15]) + a1*int32(b1[j+15]) + a2*int32(b2[j+15]) + a3*int32(b3[j+15])
				}
			}
			for ; k < kSize; k++ {
				av := int32(ar[k])
				bk := b[k*48 : k*48+48]
				for j := 0; j < 48; j++ {
					acc[j] += av * int32(bk[j])
				}
			}
			for j := 0; j < 48; j++ {
				cr[j] += acc[j]
			}
		}
	}
}

// int8AMX mirrors the matrix-tile unit shape: 16x64 block, four-deep
// groups, row-major walk over the tile.
type int8AMX struct{}

func (int8AMX) Name() string    { return "int8_amx_16x64" }
func (int8AMX) ISA() isa.Level  { return isa.LevelAMXINT8 }
func (int8AMX) MTile() int      { return 16 }
func (int8AMX) NTile() int      { return 64 }
func (int8AMX) KTile() int      { return 4 }

func (int8AMX) ComputeStrip(a []uint8, aStride int, bPanel []int8, panelStride int,
	c []int32, cStride int, mCount, nSize, kSize int) {
	for nb := 0; nb < nSize; nb += 64 {
		b := bPanel[(nb/64)*panelStride:]
		for i := 0; i < mCount; i++ {
			ar := a[i*aStride:]
			cr := c[i*cStride+nb:]
			var acc [64]int32
			k := 0
			for ; k+4 <= kSize; k += 4 {
				a0 := int32(ar[k])
				a1 := int32(ar[k+1])
				a2 := int32(ar[k+2])
				a3 := int32(ar[k+3])
				b0 := b[k*64 : k*64+64]
				b1 := b[(k+1)*64 : (k+1)*64+64]
				b2 := b[(k+2)*64 : (k+2)*64+64]
				b3 := b[(k+3)*64 : (k+3)*64+64]
				for j := 0; j < 64; j++ {
					acc[j] += a0*int32(b0[j]) + a1*int32(b1[j]) + a2*int32(b2[j]) + a3*int32(b3[j])
				}
			}
			for ; k < kSize; k++ {
				av := int32(ar[k])
				bk := b[k*64 : k*64+64]
				for j := 0; j < 64; j++ {
					acc[j] += av * int32(bk[j])
				}
			}
			for j := 0; j < 64; j++ {
				cr[j] += acc[j]
			}
		}
	}
}
