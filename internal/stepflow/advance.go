package stepflow

// NextActive picks the step that becomes active after justCompleted finishes.
// Non-dependent gaps win over dependent ones: the first uncompleted step after
// justCompleted in a tier is preferred, otherwise the tier wraps to its
// smallest uncompleted step. When both tiers are exhausted it returns None.
func NextActive(plan Plan, completed map[int]bool, justCompleted int) int {
	var open, openDependent []int
	for _, n := range plan.numbers() {
		if completed[n] {
			continue
		}
		if plan.IsDependent(n) {
			openDependent = append(openDependent, n)
		} else {
			open = append(open, n)
		}
	}
	if next, ok := pickAfter(open, justCompleted); ok {
		return next
	}
	if next, ok := pickAfter(openDependent, justCompleted); ok {
		return next
	}
	return None
}

// pickAfter returns the smallest value greater than k, wrapping to the first
// value. ascending must already be sorted.
func pickAfter(ascending []int, k int) (int, bool) {
	if len(ascending) == 0 {
		return 0, false
	}
	for _, n := range ascending {
		if n > k {
			return n, true
		}
	}
	return ascending[0], true
}
