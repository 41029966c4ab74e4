package kernel

import (
	"github.com/23skdu/longbow-windlass/internal/arena"
	"github.com/23skdu/longbow-windlass/internal/vec"
)

// The launchers below run one worker's rectangle. Column blocks are the
// outer loop so a packed panel stays hot while every row block streams
// past it, depth is innermost in KStep chunks, and each chunk is handed
// to the micro-kernel as a KTile-aligned body plus a short tail. The
// accumulator tile lives in worker-local scratch and the epilogue fires
// exactly once per tile after the full depth loop.

func launchFp32(core Fp32Core, st Steps, r Rect, k int, a []float32, lda int, w *PackedWeight, ws *arena.Arena, ep Epilogue) error {
	if r.Empty() {
		return nil
	}
	ws.Reset()
	acc, err := ws.Float32(st.MStep * st.NStep)
	if err != nil {
		return err
	}
	ktile, mtile := core.KTile(), core.MTile()
	for jn := 0; jn < r.Cols; jn += st.NStep {
		nSize := min(st.NStep, r.Cols-jn)
		nOff := r.ColOff + jn
		for im := 0; im < r.Rows; im += st.MStep {
			mSize := min(st.MStep, r.Rows-im)
			rowOff := r.RowOff + im
			clear(acc[:mSize*st.NStep])
			for kk := 0; kk < k; kk += st.KStep {
				kSize := min(st.KStep, k-kk)
				kBody := kSize - kSize%ktile
				for i := 0; i < mSize; i += mtile {
					mCount := min(mtile, mSize-i)
					cRow := acc[i*st.NStep:]
					if kBody > 0 {
						bp, stride := w.PanelFP32(kk, nOff)
						core.ComputeStrip(a[(rowOff+i)*lda+kk:], lda, bp, stride, cRow, st.NStep, mCount, nSize, kBody)
					}
					if kBody < kSize {
						bp, stride := w.PanelFP32(kk+kBody, nOff)
						core.ComputeStrip(a[(rowOff+i)*lda+kk+kBody:], lda, bp, stride, cRow, st.NStep, mCount, nSize, kSize-kBody)
					}
				}
			}
			ep.Apply(acc, st.NStep, rowOff, nOff, mSize, nSize)
		}
	}
	return nil
}

func launchInt8(core Int8Core, st Steps, r Rect, k int, qa []uint8, lda int, w *PackedWeight, ws *arena.Arena, ep EpilogueInt32) error {
	if r.Empty() {
		return nil
	}
	ws.Reset()
	acc, err := ws.Int32(st.MStep * st.NStep)
	if err != nil {
		return err
	}
	ktile, mtile := core.KTile(), core.MTile()
	for jn := 0; jn < r.Cols; jn += st.NStep {
		nSize := min(st.NStep, r.Cols-jn)
		nOff := r.ColOff + jn
		for im := 0; im < r.Rows; im += st.MStep {
			mSize := min(st.MStep, r.Rows-im)
			rowOff := r.RowOff + im
			clear(acc[:mSize*st.NStep])
			for kk := 0; kk < k; kk += st.KStep {
				kSize := min(st.KStep, k-kk)
				kBody := kSize - kSize%ktile
				for i := 0; i < mSize; i += mtile {
					mCount := min(mtile, mSize-i)
					cRow := acc[i*st.NStep:]
					if kBody > 0 {
						bp, stride := w.PanelInt8(kk, nOff)
						core.ComputeStrip(qa[(rowOff+i)*lda+kk:], lda, bp, stride, cRow, st.NStep, mCount, nSize, kBody)
					}
					if kBody < kSize {
						bp, stride := w.PanelInt8(kk+kBody, nOff)
						core.ComputeStrip(qa[(rowOff+i)*lda+kk+kBody:], lda, bp, stride, cRow, st.NStep, mCount, nSize, kSize-kBody)
					}
				}
			}
			ep.Apply(acc, st.NStep, rowOff, nOff, mSize, nSize)
		}
	}
	return nil
}

// launchBf16 converts each fp32 activation chunk into a bf16 scratch
// block before the strips run, so the micro-kernel reads both operands
// in bf16.
func launchBf16(core Bf16Core, st Steps, r Rect, k int, a []float32, lda int, w *PackedWeight, ws *arena.Arena, ep Epilogue) error {
	if r.Empty() {
		return nil
	}
	ws.Reset()
	acc, err := ws.Float32(st.MStep * st.NStep)
	if err != nil {
		return err
	}
	ab, err := ws.Uint16(st.MStep * st.KStep)
	if err != nil {
		return err
	}
	ktile, mtile := core.KTile(), core.MTile()
	for jn := 0; jn < r.Cols; jn += st.NStep {
		nSize := min(st.NStep, r.Cols-jn)
		nOff := r.ColOff + jn
		for im := 0; im < r.Rows; im += st.MStep {
			mSize := min(st.MStep, r.Rows-im)
			rowOff := r.RowOff + im
			clear(acc[:mSize*st.NStep])
			for kk := 0; kk < k; kk += st.KStep {
				kSize := min(st.KStep, k-kk)
				kBody := kSize - kSize%ktile
				for i := 0; i < mSize; i++ {
					src := a[(rowOff+i)*lda+kk:][:kSize]
					vec.Fp32ToBf16Slice(src, ab[i*st.KStep:][:kSize])
				}
				for i := 0; i < mSize; i += mtile {
					mCount := min(mtile, mSize-i)
					cRow := acc[i*st.NStep:]
					if kBody > 0 {
						bp, stride := w.PanelBf16(kk, nOff)
						core.ComputeStrip(ab[i*st.KStep:], st.KStep, bp, stride, cRow, st.NStep, mCount, nSize, kBody)
					}
					if kBody < kSize {
						bp, stride := w.PanelBf16(kk+kBody, nOff)
						core.ComputeStrip(ab[i*st.KStep+kBody:], st.KStep, bp, stride, cRow, st.NStep, mCount, nSize, kSize-kBody)
					}
				}
			}
			ep.Apply(acc, st.NStep, rowOff, nOff, mSize, nSize)
		}
	}
	return nil
}
