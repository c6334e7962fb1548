package cell

// Double-cell arithmetic, implemented as pure functions over (lo, hi) pairs:
// the data stack they operate on belongs to the host engine, not this
// package.

func split(v int64) (lo, hi uint32) {
	return uint32(v), uint32(v >> 32)
}

func join(lo, hi uint32) int64 {
	return int64(uint64(hi)<<32 | uint64(lo))
}

// DNegate implements DNEGATE.
func DNegate(lo, hi uint32) (uint32, uint32) {
	return split(-join(lo, hi))
}

// DAdd implements D+.
func DAdd(alo, ahi, blo, bhi uint32) (uint32, uint32) {
	return split(join(alo, ahi) + join(blo, bhi))
}

// DSub implements D-.
func DSub(alo, ahi, blo, bhi uint32) (uint32, uint32) {
	return split(join(alo, ahi) - join(blo, bhi))
}

// D0Eq implements D0=.
func D0Eq(lo, hi uint32) bool { return lo == 0 && hi == 0 }

// D0Lt implements D0<.
func D0Lt(lo, hi uint32) bool { return join(lo, hi) < 0 }

// D2Mul implements D2*.
func D2Mul(lo, hi uint32) (uint32, uint32) {
	return split(join(lo, hi) << 1)
}

// D2Div implements D2/.
func D2Div(lo, hi uint32) (uint32, uint32) {
	return split(join(lo, hi) >> 1)
}

// DLt implements D< (signed).
func DLt(alo, ahi, blo, bhi uint32) bool {
	return join(alo, ahi) < join(blo, bhi)
}

// DULt implements DU< (unsigned).
func DULt(alo, ahi, blo, bhi uint32) bool {
	a := uint64(ahi)<<32 | uint64(alo)
	b := uint64(bhi)<<32 | uint64(blo)
	return a < b
}

// DEq implements D=.
func DEq(alo, ahi, blo, bhi uint32) bool { return alo == blo && ahi == bhi }

// DMax implements DMAX.
func DMax(alo, ahi, blo, bhi uint32) (uint32, uint32) {
	if DLt(alo, ahi, blo, bhi) {
		return blo, bhi
	}
	return alo, ahi
}

// DMin implements DMIN.
func DMin(alo, ahi, blo, bhi uint32) (uint32, uint32) {
	if DLt(alo, ahi, blo, bhi) {
		return alo, ahi
	}
	return blo, bhi
}

// DToS implements D>S: truncate a double to a single cell.
func DToS(lo, hi uint32) uint32 { return lo }

// DAbs implements DABS.
func DAbs(lo, hi uint32) (uint32, uint32) {
	if D0Lt(lo, hi) {
		return DNegate(lo, hi)
	}
	return lo, hi
}

// MPlus implements M+: add a single-cell value to a double-cell accumulator.
func MPlus(lo, hi uint32, n int32) (uint32, uint32) {
	return split(join(lo, hi) + int64(n))
}
