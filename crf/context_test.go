package crf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// findPathWithFid returns the index of the first path carrying fid, or -1.
func findPathWithFid(paths []LatticePath, fid int) int {
	for i, p := range paths {
		for _, f := range p.Fids {
			if f == fid {
				return i
			}
		}
	}
	return -1
}

// buildMultiOrderFixture builds a 4-item sequence where item index 2 carries
// attributes driving a 3-order feature and two 2-order features that share
// the same label suffix: the 3-order feature's trie node is the child of
// the shared 2-order node, giving a longestSuffixIndex chain two hops deep,
// and the two 2-order features collapse onto one trie node so their fids
// share a single path's expWeight.
func buildMultiOrderFixture() (numLabels int, seq TrainingSequence, fs *FeatureSet, order3Fid, order2AFid, order2BFid int) {
	numLabels = 3 // label ids 0, 1, 2
	const (
		attrTrigger = 0
		attrShared  = 1
		numAttrs    = 2
	)

	mkItem := func(attrs ...int) Item {
		item := NewItem(numAttrs)
		for _, a := range attrs {
			item.Attrs.Set(a, 1.0)
		}
		return item
	}

	seq = TrainingSequence{
		Items: []Item{
			mkItem(),
			mkItem(),
			mkItem(attrTrigger, attrShared),
			mkItem(),
		},
		Labels: []int{2, 1, 0, 2},
	}

	order3 := Feature{Order: 3, Attr: attrTrigger}
	order3.LabelSeq[0], order3.LabelSeq[1], order3.LabelSeq[2] = 2, 1, 0

	order2A := Feature{Order: 2, Attr: attrTrigger}
	order2A.LabelSeq[0], order2A.LabelSeq[1] = 2, 1

	order2B := Feature{Order: 2, Attr: attrShared}
	order2B.LabelSeq[0], order2B.LabelSeq[1] = 2, 1

	fs = NewFeatureSet([]Feature{order3, order2A, order2B})
	return numLabels, seq, fs, 0, 1, 2
}

func TestPreprocessorLongestSuffixIndexChainsTwoHopsDeep(t *testing.T) {
	numLabels, seq, fs, order3Fid, order2AFid, order2BFid := buildMultiOrderFixture()

	pp := NewPreprocessor(numLabels)
	item := pp.Process(seq.Items, seq.Labels, fs, numLabels)

	// item index 2 is position t=2, i.e. Positions[3] (Positions[0] is BOS).
	paths := item.Positions[3].Paths

	order3Idx := findPathWithFid(paths, order3Fid)
	require.GreaterOrEqual(t, order3Idx, 0, "the order-3 feature must have inserted its own trie path")

	order2Idx := findPathWithFid(paths, order2AFid)
	require.GreaterOrEqual(t, order2Idx, 0)
	require.Equal(t, order2Idx, findPathWithFid(paths, order2BFid),
		"two features sharing the same label suffix must collapse onto the same trie node")

	// The order-3 node's longest proper suffix with a path id is the
	// order-2 node (a deeper, more specific ancestor than the order-1
	// single-label path), one hop up.
	require.Equal(t, order2Idx, paths[order3Idx].LongestSuffixIndex)

	// The order-2 node's own longest suffix is the plain single-label path
	// for label 2 (assigned in pass 1), a second hop further up the chain.
	singleLabelIdx := paths[order2Idx].LongestSuffixIndex
	require.NotEqual(t, noRef, singleLabelIdx)
	require.Empty(t, paths[singleLabelIdx].Fids, "the single-label path carries no feature of its own in this fixture")

	// And the chain terminates at the root (empty path, always index 0).
	require.Equal(t, 0, paths[singleLabelIdx].LongestSuffixIndex)
	require.Equal(t, noRef, paths[0].LongestSuffixIndex)
}

func TestContextForwardBackwardAndViterbiHandleMultiOrderFeatures(t *testing.T) {
	numLabels, seq, fs, _, _, _ := buildMultiOrderFixture()

	pp := NewPreprocessor(numLabels)
	item := pp.Process(seq.Items, seq.Labels, fs, numLabels)

	expW := make([]float64, len(fs.Features))
	for i := range expW {
		expW[i] = 1.5 // distinct from 1.0 so the 3 features actually move the scores
	}

	ctx := NewContext(numLabels)
	ctx.Load(item)
	ctx.SetWeight(expW)
	logl := ctx.ForwardBackward()
	require.False(t, math.IsNaN(logl) || math.IsInf(logl, 0), "log-likelihood must be finite")

	g := make([]float64, len(fs.Features))
	ctx.AccumulateExpectations(g)
	for i, v := range g {
		require.GreaterOrEqual(t, v, 0.0, "feature %d expectation must be a non-negative posterior mass", i)
	}

	ctx2 := NewContext(numLabels)
	ctx2.Load(item)
	ctx2.SetWeight(expW)
	result := ctx2.Viterbi()
	require.Len(t, result.Labels, len(seq.Items))
}

// buildBOSTailFixture returns a 2-item sequence with a single order-2
// feature whose oldest label entry is the BOS/EOS sentinel, firing at t=0
// where a plain (non-BOS-tailed) order-2 feature would be out of reach.
func buildBOSTailFixture() (numLabels int, seq TrainingSequence, fs *FeatureSet, fid int) {
	numLabels = 2
	const attr = 0

	mkItem := func(attrs ...int) Item {
		item := NewItem(1)
		for _, a := range attrs {
			item.Attrs.Set(a, 1.0)
		}
		return item
	}

	seq = TrainingSequence{
		Items:  []Item{mkItem(attr), mkItem()},
		Labels: []int{0, 1},
	}

	f := Feature{Order: 2, Attr: attr}
	f.LabelSeq[0] = 0         // current label at t=0
	f.LabelSeq[1] = numLabels // BOS/EOS sentinel: reaches past the start of the sequence

	fs = NewFeatureSet([]Feature{f})
	return numLabels, seq, fs, 0
}

func TestPreprocessorBOSTailMaxOrderFeatureFiresAtSequenceStart(t *testing.T) {
	numLabels, seq, fs, fid := buildBOSTailFixture()

	pp := NewPreprocessor(numLabels)
	item := pp.Process(seq.Items, seq.Labels, fs, numLabels)

	// t=0 is Positions[1].
	idx := findPathWithFid(item.Positions[1].Paths, fid)
	require.GreaterOrEqual(t, idx, 0, "a BOS-tailed feature must be able to fire at the very first position")
}

func TestPreprocessorOrderExceedsReachWithoutBOSTailIsDropped(t *testing.T) {
	numLabels := 2
	const attr = 0

	mkItem := func(attrs ...int) Item {
		item := NewItem(1)
		for _, a := range attrs {
			item.Attrs.Set(a, 1.0)
		}
		return item
	}
	seq := TrainingSequence{
		Items:  []Item{mkItem(attr), mkItem()},
		Labels: []int{0, 1},
	}

	// Same shape as the BOS-tail fixture, but the oldest entry is a real
	// label instead of the sentinel: at t=0 there is no history to reach
	// back into, so this feature must never be inserted anywhere.
	f := Feature{Order: 2, Attr: attr}
	f.LabelSeq[0] = 0
	f.LabelSeq[1] = 1

	fs := NewFeatureSet([]Feature{f})
	pp := NewPreprocessor(numLabels)
	item := pp.Process(seq.Items, seq.Labels, fs, numLabels)

	for _, pos := range item.Positions {
		require.Equal(t, -1, findPathWithFid(pos.Paths, 0), "an out-of-reach, non-BOS-tailed feature must never be inserted")
	}
}
