package crf

import "math"

// ViterbiResult is a decoded label sequence and its path score (the log of
// the winning path's unnormalised weight; the partition function is not
// subtracted, so this is not a log-probability).
type ViterbiResult struct {
	Labels []int
	Score  float64
}

// Viterbi runs the max-product decode over a loaded, weighted Context and
// returns the most likely label sequence (§4.F). Load and SetWeight must
// have been called first.
func (c *Context) Viterbi() ViterbiResult {
	n := len(c.positions)
	if n <= 1 {
		return ViterbiResult{}
	}

	prevGamma := make([]float64, len(c.positions[0].paths))
	prevBack := identity(len(prevGamma))
	if len(prevGamma) > 1 {
		prevGamma[1] = 1.0 // {empty: 0, BOS: 1}
	}

	bestPath := make([][]int, n) // bestPath[k][i] = winning real path index at position k-1
	var accExponent int

	for k := 1; k < n; k++ {
		prevPos := &c.positions[k-1]
		for j := len(prevGamma) - 1; j >= 1; j-- {
			s := prevPos.paths[j].longestSuffixIndex
			if prevGamma[j] > prevGamma[s] {
				prevGamma[s] = prevGamma[j]
				prevBack[s] = prevBack[j]
			}
		}

		cur := &c.positions[k]
		m := len(cur.paths)
		cv := make([]float64, m)
		back := make([]int, m)
		for i := 1; i < m; i++ {
			p := &cur.paths[i]
			if p.prevPathIndex >= 0 && p.prevPathIndex < len(prevGamma) {
				cv[i] = prevGamma[p.prevPathIndex] * p.expWeight
				back[i] = prevBack[p.prevPathIndex]
			}
		}
		bestPath[k] = back

		maxV := 0.0
		for _, v := range cv {
			if v > maxV {
				maxV = v
			}
		}
		e := 0
		if maxV > 0 {
			_, e = math.Frexp(maxV)
			scale := math.Ldexp(1, -e)
			for i := range cv {
				cv[i] *= scale
			}
		}
		accExponent += e

		prevGamma = cv
		prevBack = identity(m)
	}

	bestFinal, bestVal := 0, -1.0
	for i := 1; i < len(prevGamma); i++ {
		if prevGamma[i] > bestVal {
			bestVal, bestFinal = prevGamma[i], i
		}
	}
	score := math.Ln2*float64(accExponent)
	if bestVal > 0 {
		score += math.Log(bestVal)
	}

	T := n - 1
	labels := make([]int, T)
	idx := bestFinal
	for t := T - 1; t >= 0; t-- {
		labels[t] = headLabelOf(&c.positions[t+1], idx)
		idx = bestPath[t+1][idx]
	}

	return ViterbiResult{Labels: labels, Score: score}
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// headLabelOf maps a dense path index back to its head label using the
// position's contiguous per-label index ranges (numPathsByLabel).
func headLabelOf(ps *positionState, idx int) int {
	if idx <= 0 {
		return -1
	}
	start := 1
	for label, count := range ps.numPathsByLabel {
		if idx < start+count {
			return label
		}
		start += count
	}
	return -1
}
