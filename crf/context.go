package crf

import "math"

// pathRow is one path's mutable inference state within a loaded Context.
// score doubles as α during the forward pass and θ during the backward
// pass, matching the reference algorithm's reuse of a single field.
type pathRow struct {
	longestSuffixIndex int
	prevPathIndex      int
	fids               []int
	expWeight          float64
	score              float64
}

// positionState is the per-position scratch the Context keeps, sized up to
// the largest lattice seen so far and reused across Load calls.
type positionState struct {
	paths             []pathRow
	numPathsByLabel   []int
	trainingPathIndex int
}

// Context owns the scratch arrays the forward-backward accumulator and the
// Viterbi decoder both read and write while processing one sequence.
// positions[0] is always the BOS lattice; positions[k] for k>=1 is real
// position k-1. Arrays are grown on demand and never shrunk, so repeated
// Load calls over a training corpus amortise their allocations.
type Context struct {
	positions []positionState
	exponents []int
	numLabels int
}

// NewContext creates an empty context for a label alphabet of numLabels
// real labels (plus the implicit BOS/EOS sentinel).
func NewContext(numLabels int) *Context {
	return &Context{numLabels: numLabels}
}

// Load copies item's path lattice into the context's scratch arrays,
// growing them if this sequence is longer than any previously loaded one.
func (c *Context) Load(item *PreprocessedItem) {
	n := len(item.Positions)
	if cap(c.positions) < n {
		grown := make([]positionState, n)
		copy(grown, c.positions)
		c.positions = grown
	}
	c.positions = c.positions[:n]
	if cap(c.exponents) < n {
		c.exponents = make([]int, n)
	}
	c.exponents = c.exponents[:n]

	for k, pos := range item.Positions {
		ps := &c.positions[k]
		if cap(ps.paths) < len(pos.Paths) {
			ps.paths = make([]pathRow, len(pos.Paths))
		}
		ps.paths = ps.paths[:len(pos.Paths)]
		for i, lp := range pos.Paths {
			ps.paths[i] = pathRow{
				longestSuffixIndex: lp.LongestSuffixIndex,
				prevPathIndex:      lp.PrevPathIndex,
				fids:               lp.Fids,
			}
		}
		ps.numPathsByLabel = pos.NumPathsByLabel
		ps.trainingPathIndex = pos.TrainingPathIndex
	}
}

// SetWeight computes, for every position including the BOS lattice, the
// multiplicative exp-weight of every path from the weights of the features
// on its longest-suffix chain (§4.E step 1). expW[f] must hold exp(w[f])
// for every feature id that can appear in a fid list.
func (c *Context) SetWeight(expW []float64) {
	for k := range c.positions {
		ps := &c.positions[k]
		if len(ps.paths) == 0 {
			continue
		}
		ps.paths[0].expWeight = 1.0
		for i := 1; i < len(ps.paths); i++ {
			p := &ps.paths[i]
			w := ps.paths[p.longestSuffixIndex].expWeight
			for _, fid := range p.fids {
				w *= expW[fid]
			}
			p.expWeight = w
		}
	}
}

// ForwardBackward runs the scaled forward and backward sweeps (§4.E steps
// 2-5) and returns this sequence's log-likelihood contribution. After it
// returns, every real position's path scores hold their posterior
// marginal mass, ready for AccumulateExpectations.
func (c *Context) ForwardBackward() float64 {
	n := len(c.positions) // BOS + T real positions
	if n == 0 {
		return 0
	}

	// {empty:1, BOS:1}: both of the BOS lattice's paths start with mass 1.
	temp := make([]float64, len(c.positions[0].paths))
	for i := range temp {
		temp[i] = 1.0
	}

	var normExponent int
	for k := 1; k < n; k++ {
		ps := &c.positions[k]
		m := len(ps.paths)
		cur := make([]float64, m)

		for i := m - 1; i >= 1; i-- {
			p := &ps.paths[i]
			var prevGamma float64
			if p.prevPathIndex >= 0 && p.prevPathIndex < len(temp) {
				prevGamma = temp[p.prevPathIndex]
			}
			ps.paths[p.longestSuffixIndex].score -= prevGamma
			p.score += prevGamma
			cur[i] += p.score * p.expWeight
			cur[p.longestSuffixIndex] += cur[i]
		}

		e := 0
		if cur[0] > 0 {
			_, e = math.Frexp(cur[0])
			scale := math.Ldexp(1, -e)
			for i := range cur {
				cur[i] *= scale
			}
		}
		c.exponents[k] = e
		normExponent += e
		temp = cur
	}

	normSignificand := temp[0]
	logp := -math.Log(normSignificand) - math.Ln2*float64(normExponent)
	for k := 1; k < n; k++ {
		ps := &c.positions[k]
		logp += math.Log(ps.paths[ps.trainingPathIndex].expWeight)
	}

	c.backward(normSignificand)
	return logp
}

// backward runs §4.E step 5: the β sweep, θ = α·β accumulation, and the
// telescoping sigma pass that turns θ into posterior path-marginal mass.
func (c *Context) backward(normSignificand float64) {
	n := len(c.positions)
	// Seed for the last real position: β=1 for the empty path (carried in
	// that position's scaled units, 2^-exponent), 0 elsewhere.
	seed := make([]float64, len(c.positions[n-1].paths))
	if len(seed) > 0 {
		seed[0] = math.Ldexp(1, -c.exponents[n-1])
	}

	for k := n - 1; k >= 1; k-- {
		ps := &c.positions[k]
		m := len(ps.paths)
		beta := make([]float64, m)
		copy(beta, seed)

		for i := 1; i < m; i++ {
			beta[i] += beta[ps.paths[i].longestSuffixIndex]
		}
		for i := 1; i < m; i++ {
			p := &ps.paths[i]
			beta[i] *= p.expWeight
			p.score *= beta[i] // θ = α · β
		}

		nextSeed := make([]float64, len(c.positions[k-1].paths))
		scale := math.Ldexp(1, -c.exponents[k-1])
		for i := 1; i < m; i++ {
			p := &ps.paths[i]
			if p.prevPathIndex >= 0 && p.prevPathIndex < len(nextSeed) {
				suffixBeta := 0.0 // the empty path heads no label of its own
				if p.longestSuffixIndex > 0 {
					suffixBeta = beta[p.longestSuffixIndex]
				}
				nextSeed[p.prevPathIndex] += (beta[i] - suffixBeta) * scale
			}
		}

		for i := m - 1; i >= 1; i-- {
			p := &ps.paths[i]
			ps.paths[p.longestSuffixIndex].score += p.score
		}
		for i := 0; i < m; i++ {
			ps.paths[i].score /= normSignificand
		}

		seed = nextSeed
	}
}

// AccumulateExpectations credits each loaded real position's posterior mass
// to its feature ids (§4.H), in place into g.
func (c *Context) AccumulateExpectations(g []float64) {
	for k := 1; k < len(c.positions); k++ {
		for _, p := range c.positions[k].paths {
			for _, fid := range p.fids {
				g[fid] += p.score
			}
		}
	}
}
