package crf

import (
	"log/slog"
	"math"
	"math/rand/v2"
)

// Regularization selects the penalty term added to the training objective.
type Regularization int

const (
	RegNone Regularization = iota
	RegL1
	RegL2
)

// TrainerConfig configures the L-BFGS driver (§4.G).
type TrainerConfig struct {
	Regularization          Regularization
	C1                      float64 // L1 coefficient, used via OWL-QN's orthantwise projection
	C2                      float64 // L2 coefficient
	Memory                  int     // L-BFGS correction pairs kept
	Epsilon                 float64 // gradient-norm stopping threshold
	Past                    int     // window for the delta stopping rule
	Delta                   float64 // relative improvement threshold over Past iterations
	MaxIterations           int     // 0 means unbounded
	LinesearchMaxIterations int
	Shuffle                 bool
}

// DefaultTrainerConfig matches the reference solver's defaults.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Regularization:          RegL2,
		C1:                      1.0,
		C2:                      1.0,
		Memory:                  6,
		Epsilon:                 1e-5,
		Past:                    10,
		Delta:                   1e-5,
		MaxIterations:           0,
		LinesearchMaxIterations: 20,
	}
}

// Trainer drives L-BFGS (L2 or none) or OWL-QN (L1) over a preprocessed
// training corpus to fit feature weights. Both use a step-halving
// backtracking line search (L-BFGS with an Armijo sufficient-decrease
// test, OWL-QN accepting any decrease); no More-Thuente line search is
// implemented.
type Trainer struct {
	cfg       TrainerConfig
	numLabels int
	fs        *FeatureSet
	log       *slog.Logger
}

// NewTrainer creates a trainer for the given feature table and label count.
// A nil logger falls back to slog.Default().
func NewTrainer(cfg TrainerConfig, numLabels int, fs *FeatureSet, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{cfg: cfg, numLabels: numLabels, fs: fs, log: logger}
}

// Train preprocesses every sequence, reconciles feature frequencies against
// what the preprocessor actually found (§4.I), then runs the outer L-BFGS
// loop to convergence. It returns the fitted weight vector, index-aligned
// with fs.Features.
func (tr *Trainer) Train(sequences []TrainingSequence) ([]float64, error) {
	pp := NewPreprocessor(tr.numLabels)
	items := make([]*PreprocessedItem, len(sequences))
	for i, seq := range sequences {
		items[i] = pp.Process(seq.Items, seq.Labels, tr.fs, tr.numLabels)
	}
	tr.reconcileFrequencies(items)

	K := len(tr.fs.Features)
	w := make([]float64, K)
	expW := make([]float64, K)
	ctx := NewContext(tr.numLabels)

	// order is the sequence visitation order for one evaluate() sweep, i.e.
	// one training epoch. With cfg.Shuffle it is Fisher-Yates shuffled at
	// the start of every sweep instead of left in corpus order.
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}

	evaluate := func(w, g []float64) float64 {
		for i, wi := range w {
			expW[i] = math.Exp(wi)
		}
		for i := range g {
			g[i] = -tr.fs.Features[i].Freq
		}
		if tr.cfg.Shuffle {
			rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		var logl float64
		for _, idx := range order {
			item := items[idx]
			ctx.Load(item)
			ctx.SetWeight(expW)
			logl += ctx.ForwardBackward()
			ctx.AccumulateExpectations(g)
		}
		if tr.cfg.Regularization == RegL2 && tr.cfg.C2 > 0 {
			for i, wi := range w {
				g[i] += tr.cfg.C2 * wi
				logl -= tr.cfg.C2 * wi * wi / 2
			}
		}
		return -logl
	}

	if tr.cfg.Regularization == RegL1 && tr.cfg.C1 > 0 {
		return tr.owlqn(w, evaluate)
	}
	return tr.lbfgs(w, evaluate)
}

// reconcileFrequencies implements §4.I: the preprocessor's own count of how
// many times each feature's path was actually reachable given the
// exclusion rules overwrites whatever freq the feature table started with.
func (tr *Trainer) reconcileFrequencies(items []*PreprocessedItem) {
	observed := make([]float64, len(tr.fs.Features))
	for _, item := range items {
		for k := 1; k < len(item.Positions); k++ {
			pos := &item.Positions[k]
			i := pos.TrainingPathIndex
			for i > 0 {
				for _, fid := range pos.Paths[i].Fids {
					observed[fid]++
				}
				i = pos.Paths[i].LongestSuffixIndex
			}
		}
	}
	for i := range tr.fs.Features {
		if observed[i] != tr.fs.Features[i].Freq {
			tr.fs.Features[i].Freq = observed[i]
		}
	}
}

type correctionPair struct {
	s, y []float64
	rho  float64
}

func gradNorm(g []float64) float64 {
	var s float64
	for _, v := range g {
		s += v * v
	}
	return math.Sqrt(s)
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func axpy(alpha float64, x []float64, y []float64) {
	for i := range y {
		y[i] += alpha * x[i]
	}
}

// twoLoopDirection computes -H_k * g via the standard L-BFGS two-loop
// recursion over the stored correction pairs.
func twoLoopDirection(g []float64, corrections []correctionPair) []float64 {
	q := make([]float64, len(g))
	copy(q, g)

	alphas := make([]float64, len(corrections))
	for i := len(corrections) - 1; i >= 0; i-- {
		c := corrections[i]
		alpha := c.rho * dot(c.s, q)
		alphas[i] = alpha
		axpy(-alpha, c.y, q)
	}

	r := q
	for i := 0; i < len(corrections); i++ {
		c := corrections[i]
		beta := c.rho * dot(c.y, r)
		axpy(alphas[i]-beta, c.s, r)
	}
	for i := range r {
		r[i] = -r[i]
	}
	return r
}

// lbfgs drives plain L-BFGS with backtracking Armijo line search, used for
// L2-regularized and unregularized objectives.
func (tr *Trainer) lbfgs(w []float64, evaluate func(w, g []float64) float64) ([]float64, error) {
	K := len(w)
	g := make([]float64, K)
	f := evaluate(w, g)

	corrections := make([]correctionPair, 0, tr.cfg.Memory)
	pastLoss := make([]float64, 0, tr.cfg.Past)

	for iter := 0; ; iter++ {
		gn := gradNorm(g)
		if gn < tr.cfg.Epsilon {
			tr.log.Info("converged", "iteration", iter, "loglikelihood", -f, "reason", "gradient norm below epsilon")
			break
		}
		if tr.cfg.Past > 0 && len(pastLoss) >= tr.cfg.Past {
			prev := pastLoss[len(pastLoss)-tr.cfg.Past]
			if math.Abs(prev-f)/math.Max(1, math.Abs(prev)) < tr.cfg.Delta {
				tr.log.Info("converged", "iteration", iter, "loglikelihood", -f, "reason", "relative improvement below delta")
				break
			}
		}
		if tr.cfg.MaxIterations > 0 && iter >= tr.cfg.MaxIterations {
			tr.log.Info("stopped", "iteration", iter, "loglikelihood", -f, "reason", "max iterations reached")
			break
		}

		dir := twoLoopDirection(g, corrections)
		step := 1.0
		wNew := make([]float64, K)
		gNew := make([]float64, K)
		var fNew float64
		dg := dot(g, dir)

		trials := 0
		for ; trials < tr.cfg.LinesearchMaxIterations; trials++ {
			for i := range w {
				wNew[i] = w[i] + step*dir[i]
			}
			fNew = evaluate(wNew, gNew)
			if fNew <= f+1e-4*step*dg {
				break
			}
			step *= 0.5
		}

		tr.log.Debug("iteration", "iteration", iter, "loglikelihood", -fNew, "step", step, "trials", trials, "gradient_norm", gn)

		s := make([]float64, K)
		y := make([]float64, K)
		for i := range w {
			s[i] = wNew[i] - w[i]
			y[i] = gNew[i] - g[i]
		}
		sy := dot(s, y)
		if math.Abs(sy) > 1e-10 {
			corrections = append(corrections, correctionPair{s: s, y: y, rho: 1.0 / sy})
			if len(corrections) > tr.cfg.Memory {
				corrections = corrections[1:]
			}
		}

		copy(w, wNew)
		copy(g, gNew)
		f = fNew

		pastLoss = append(pastLoss, f)
		if tr.cfg.Past > 0 && len(pastLoss) > tr.cfg.Past {
			pastLoss = pastLoss[1:]
		}
	}
	return w, nil
}

// owlqn drives Orthant-Wise Limited-memory Quasi-Newton for the L1
// objective, following Andrew & Gao (2007): the two-loop recursion runs on
// a pseudo-gradient, the search direction is projected back onto the
// current orthant, and the line search enforces the same projection.
func (tr *Trainer) owlqn(w []float64, evaluate func(w, g []float64) float64) ([]float64, error) {
	K := len(w)
	c1 := tr.cfg.C1
	g := make([]float64, K)
	fBase := evaluate(w, g)
	f := fBase + c1*l1Norm(w)

	corrections := make([]correctionPair, 0, tr.cfg.Memory)
	pastLoss := make([]float64, 0, tr.cfg.Past)

	for iter := 0; ; iter++ {
		pg := pseudoGradient(w, g, c1)
		gn := gradNorm(pg)
		if gn < tr.cfg.Epsilon {
			tr.log.Info("converged", "iteration", iter, "loglikelihood", -fBase, "reason", "pseudo-gradient norm below epsilon")
			break
		}
		if tr.cfg.Past > 0 && len(pastLoss) >= tr.cfg.Past {
			prev := pastLoss[len(pastLoss)-tr.cfg.Past]
			if math.Abs(prev-f)/math.Max(1, math.Abs(prev)) < tr.cfg.Delta {
				tr.log.Info("converged", "iteration", iter, "loglikelihood", -fBase, "reason", "relative improvement below delta")
				break
			}
		}
		if tr.cfg.MaxIterations > 0 && iter >= tr.cfg.MaxIterations {
			tr.log.Info("stopped", "iteration", iter, "loglikelihood", -fBase, "reason", "max iterations reached")
			break
		}

		dir := twoLoopDirection(pg, corrections)
		for i := range dir {
			if dir[i]*pg[i] >= 0 {
				dir[i] = 0 // not a descent direction on this axis; project out
			}
		}

		step := 1.0
		wNew := make([]float64, K)
		gNew := make([]float64, K)
		var fNew, fBaseNew float64
		trials := 0
		for ; trials < tr.cfg.LinesearchMaxIterations; trials++ {
			for i := range w {
				wi := w[i] + step*dir[i]
				orthant := sign(w[i])
				if orthant == 0 {
					orthant = sign(-pg[i])
				}
				if sign(wi) != orthant {
					wi = 0 // orthant projection: don't cross zero
				}
				wNew[i] = wi
			}
			fBaseNew = evaluate(wNew, gNew)
			fNew = fBaseNew + c1*l1Norm(wNew)
			if fNew <= f {
				break
			}
			step *= 0.5
		}

		tr.log.Debug("iteration", "iteration", iter, "loglikelihood", -fBaseNew, "step", step, "trials", trials, "gradient_norm", gn, "active_features", countNonzero(wNew))

		s := make([]float64, K)
		y := make([]float64, K)
		for i := range w {
			s[i] = wNew[i] - w[i]
			y[i] = gNew[i] - g[i]
		}
		sy := dot(s, y)
		if math.Abs(sy) > 1e-10 {
			corrections = append(corrections, correctionPair{s: s, y: y, rho: 1.0 / sy})
			if len(corrections) > tr.cfg.Memory {
				corrections = corrections[1:]
			}
		}

		copy(w, wNew)
		copy(g, gNew)
		f = fNew
		fBase = fBaseNew

		pastLoss = append(pastLoss, f)
		if tr.cfg.Past > 0 && len(pastLoss) > tr.cfg.Past {
			pastLoss = pastLoss[1:]
		}
	}

	return w, nil
}

func pseudoGradient(w, g []float64, c1 float64) []float64 {
	pg := make([]float64, len(w))
	for i := range w {
		switch {
		case w[i] > 0:
			pg[i] = g[i] + c1
		case w[i] < 0:
			pg[i] = g[i] - c1
		default:
			switch {
			case g[i]+c1 < 0:
				pg[i] = g[i] + c1
			case g[i]-c1 > 0:
				pg[i] = g[i] - c1
			default:
				pg[i] = 0
			}
		}
	}
	return pg
}

func l1Norm(w []float64) float64 {
	var s float64
	for _, v := range w {
		s += math.Abs(v)
	}
	return s
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func countNonzero(w []float64) int {
	n := 0
	for _, v := range w {
		if v != 0 {
			n++
		}
	}
	return n
}
