package internal

// Methods (Round Struct)
func (r *Round) IsBettingOpen() bool {
	return r != nil && r.Phase == PhaseBetting
}

// CanForceSpin reports whether an operator may jump straight to the spin.
func (r *Round) CanForceSpin() bool {
	return r != nil && (r.Phase == PhaseBetting || r.Phase == PhaseClosed)
}

func (r *Round) Snapshot() Round {
	if r == nil {
		return Round{Phase: PhaseWaiting}
	}
	cp := *r
	if r.WinningNumber != nil {
		n := *r.WinningNumber
		cp.WinningNumber = &n
	}
	return cp
}

func ValidNumber(n int) bool {
	return n >= MinNumber && n <= MaxNumber
}
