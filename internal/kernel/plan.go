package kernel

// Rect is one worker's slice of the output matrix. Zero-size rectangles
// are legal and mean the worker has no compute this call.
type Rect struct {
	RowOff, ColOff int
	Rows, Cols     int
}

// Empty reports whether the rectangle covers no output.
func (r Rect) Empty() bool { return r.Rows <= 0 || r.Cols <= 0 }

// Steps are the cache blocking sizes one worker iterates with. They
// depend only on the core's tile shape and the cache budget, never on
// the worker count, so every worker chops its rectangle into identical
// K chunks and the per-element accumulation order is the same whether
// one thread runs or sixteen do.
type Steps struct {
	MStep, NStep, KStep int
}

// Plan partitions an M x N output across a fixed worker count and
// derives the shared blocking steps. It is recomputed only when the
// problem shape, worker count, or core changes; repeated calls with the
// same shape reuse it.
type Plan struct {
	M, N, K, Workers int

	Steps

	gridRows, gridCols int
	rowEdges           []int
	colEdges           []int

	mtile, ntile, ktile int
	elemA, elemC        int
	valid               bool
}

// Update recomputes the plan if the problem changed, returning true on a
// rebuild. elemA and elemC are the activation and accumulator element
// sizes in bytes, used to size the scratch workspace.
func (p *Plan) Update(m, n, k, workers int, core Core, elemA, elemC, l2Size int) bool {
	if p.valid && p.M == m && p.N == n && p.K == k && p.Workers == workers &&
		p.mtile == core.MTile() && p.ntile == core.NTile() && p.ktile == core.KTile() {
		return false
	}
	p.M, p.N, p.K, p.Workers = m, n, k, workers
	p.mtile, p.ntile, p.ktile = core.MTile(), core.NTile(), core.KTile()
	p.elemA, p.elemC = elemA, elemC

	p.deriveSteps(l2Size)
	p.deriveGrid()
	p.valid = true
	return true
}

func (p *Plan) deriveSteps(l2Size int) {
	// Column step: a few panels wide, capped at the padded width.
	nStep := p.ntile * max(1, 256/p.ntile)
	if padded := roundUp(p.N, p.ntile); nStep > padded {
		nStep = padded
	}
	// Row step: a handful of micro-kernel strips.
	mStep := p.mtile * max(1, 16/p.mtile)
	if padded := roundUp(p.M, p.mtile); mStep > padded {
		mStep = padded
	}
	// Depth step: what is left of half the L2 after the accumulator
	// tile, split between the A and B chunks that travel with it.
	budget := l2Size / 2
	perK := mStep*p.elemA + nStep*p.elemA
	kStep := (budget - mStep*nStep*p.elemC) / perK
	kStep = kStep / p.ktile * p.ktile
	if kStep < p.ktile {
		kStep = p.ktile
	}
	if padded := roundUp(p.K, p.ktile); kStep > padded {
		kStep = padded
	}
	p.Steps = Steps{MStep: mStep, NStep: nStep, KStep: kStep}
}

// deriveGrid factors the worker count into a rows x cols grid whose
// rectangles are closest to square, then lays row edges evenly and
// column edges on NTile boundaries.
func (p *Plan) deriveGrid() {
	bestRows, bestCols := 1, p.Workers
	bestScore := 1 << 62
	for r := 1; r <= p.Workers; r++ {
		if p.Workers%r != 0 {
			continue
		}
		c := p.Workers / r
		score := (p.M+r-1)/r + (p.N+c-1)/c
		if score < bestScore {
			bestScore = score
			bestRows, bestCols = r, c
		}
	}
	p.gridRows, p.gridCols = bestRows, bestCols

	p.rowEdges = splitEven(p.M, p.gridRows)

	nBlocks := (p.N + p.ntile - 1) / p.ntile
	blockEdges := splitEven(nBlocks, p.gridCols)
	p.colEdges = make([]int, len(blockEdges))
	for i, b := range blockEdges {
		p.colEdges[i] = min(b*p.ntile, p.N)
	}
}

func splitEven(total, parts int) []int {
	edges := make([]int, parts+1)
	base, extra := total/parts, total%parts
	off := 0
	for i := 0; i < parts; i++ {
		edges[i] = off
		off += base
		if i < extra {
			off++
		}
	}
	edges[parts] = total
	return edges
}

// Index returns worker tid's rectangle.
func (p *Plan) Index(tid int) Rect {
	if tid < 0 || tid >= p.gridRows*p.gridCols {
		return Rect{}
	}
	r, c := tid/p.gridCols, tid%p.gridCols
	return Rect{
		RowOff: p.rowEdges[r],
		ColOff: p.colEdges[c],
		Rows:   p.rowEdges[r+1] - p.rowEdges[r],
		Cols:   p.colEdges[c+1] - p.colEdges[c],
	}
}

// WorkspaceSize returns the per-worker scratch bytes a launch needs:
// the accumulator tile plus, when the activation is converted rather
// than read in place, one A chunk.
func (p *Plan) WorkspaceSize(convertA bool) int {
	size := p.MStep*p.NStep*p.elemC + 64
	if convertA {
		size += p.MStep*p.KStep*p.elemA + 64
	}
	return size
}
