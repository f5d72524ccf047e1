package engine

// Progress receives batch progress. done never decreases within one
// operation and the last call of a successful operation has done == total.
type Progress interface {
	Report(done, total int)
}

// NopProgress discards progress reports.
type NopProgress struct{}

func (NopProgress) Report(int, int) {}

func progressOrNop(p Progress) Progress {
	if p == nil {
		return NopProgress{}
	}
	return p
}
