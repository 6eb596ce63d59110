package crf

import "github.com/bits-and-blooms/bitset"

// LatticePath is one row of a position's enumerated path lattice: a node in
// the per-position suffix trie that carries a path id, relocated into dense
// lattice-index space by trie.enumerate.
type LatticePath struct {
	LongestSuffixIndex int // index of the longest proper suffix with a path id, or -1 at index 0
	PrevPathIndex       int // index, in the PRECEDING position's lattice, that this path links back to, or -1 if the link's tail is BOS
	HeadLabel           int // the label heading this path's subtree, or -1 at index 0
	Fids                []int
}

// PositionLattice is the enumerated path set for one trie (one position,
// t in [-1, T-1]).
type PositionLattice struct {
	Paths             []LatticePath
	NumPathsByLabel    []int
	TrainingPathIndex int // index of the path matching the true label suffix ending here
}

// PreprocessedItem is the full per-sequence path lattice: one PositionLattice
// per trie, Positions[0] for t=-1 (BOS) through Positions[T] for t=T-1.
type PreprocessedItem struct {
	Positions []PositionLattice
}

// Preprocessor builds PreprocessedItem values for successive sequences,
// reusing the same backing arenas (cleared, never freed, between calls).
type Preprocessor struct {
	nodes  *BufferManager[trieNode]
	fids   *BufferManager[fidListNode]
	branch int // L+1, L = NumLabels
}

// NewPreprocessor creates a preprocessor for a label alphabet of the given
// size (L real labels, plus one BOS/EOS sentinel at index L).
func NewPreprocessor(numLabels int) *Preprocessor {
	return &Preprocessor{
		nodes:  NewBufferManager[trieNode](4096),
		fids:   NewBufferManager[fidListNode](4096),
		branch: numLabels + 1,
	}
}

// Process builds the path lattice for one training sequence: items is the
// per-position attribute bag, labels the true label id per position (real
// labels are in [0, numLabels)). The last item is the EOS boundary
// position: its lattice holds only the sentinel path, the true path there
// is always matched against the sentinel numLabels, and labels[T-1] is not
// read.
func (p *Preprocessor) Process(items []Item, labels []int, fs *FeatureSet, numLabels int) *PreprocessedItem {
	T := len(items)
	L := numLabels
	sentinel := L

	p.nodes.Clear()
	p.fids.Clear()

	tries := make([]*trie, T+1)
	for k := range tries {
		tries[k] = newTrie(p.nodes, p.fids, p.branch)
		tries[k].reset()
	}

	// Pass 1: fill tries with the empty path and the boundary/interior
	// single-label paths, linking each straight back to the empty path one
	// trie earlier (BOS has none).
	for k := 0; k <= T; k++ {
		t := k - 1
		tries[k].insert(nil) // always assigns path id 0

		if t == -1 || t == T-1 {
			nodeIdx, _, _ := tries[k].insertWithNode([]int{sentinel})
			if k >= 1 {
				tries[k].setPrevID(nodeIdx, 0)
			}
		} else {
			for l := 0; l < L; l++ {
				nodeIdx, _, _ := tries[k].insertWithNode([]int{l})
				if k >= 1 {
					tries[k].setPrevID(nodeIdx, 0)
				}
			}
		}
	}

	// Pass 1 continued: distribute firing features across the last `order`
	// tries, stopping early once a shorter suffix already existed.
	for t := 0; t < T; t++ {
		item := items[t]
		seen := bitset.New(uint(max(item.Attrs.Dim, 1)))
		for _, a := range item.Attrs.Indices {
			if uint(a) < seen.Len() {
				if seen.Test(uint(a)) {
					continue
				}
				seen.Set(uint(a))
			}
			for _, fid := range fs.ByAttr[a] {
				p.distribute(tries, t, T, L, fs.Features[fid], fid)
			}
		}
	}

	item := &PreprocessedItem{Positions: make([]PositionLattice, T+1)}
	var prevPathIDToIndex []int
	for k := 0; k <= T; k++ {
		t := k - 1
		enumerated, numByLabel := tries[k].enumerate()

		pathIDToIndex := make([]int, tries[k].nextID)
		paths := make([]LatticePath, len(enumerated))
		for idx, ep := range enumerated {
			n := tries[k].node(ep.nodeIndex)
			pathIDToIndex[n.pathID] = idx

			prevIndex := noRef
			if n.prevPathID != noRef && prevPathIDToIndex != nil && n.prevPathID < len(prevPathIDToIndex) {
				prevIndex = prevPathIDToIndex[n.prevPathID]
			}

			paths[idx] = LatticePath{
				LongestSuffixIndex: ep.longestSuffix,
				PrevPathIndex:      prevIndex,
				HeadLabel:          ep.headLabel,
				Fids:               tries[k].collectFids(ep.nodeIndex),
			}
		}

		trainingSeq := trainingLabelSuffix(labels, t, T, sentinel)
		item.Positions[k] = PositionLattice{
			Paths:             paths,
			NumPathsByLabel:   numByLabel,
			TrainingPathIndex: pathIDToIndex[tries[k].longestPrefixMatch(trainingSeq)],
		}
		prevPathIDToIndex = pathIDToIndex
	}

	return item
}

func (p *Preprocessor) distribute(tries []*trie, t, T, L int, f Feature, fid int) {
	order := f.Order
	labelSeq := f.LabelSeq[:order]
	sentinel := L

	if order > t+1 && !(order == t+2 && labelSeq[order-1] == sentinel) {
		return
	}
	if labelSeq[order-1] == sentinel && t != order-2 && order > 1 {
		return
	}
	if t == T-1 && labelSeq[0] != sentinel {
		return
	}
	if t != T-1 && labelSeq[0] == sentinel {
		return
	}

	prevNodeIdx, prevTrieIdx := -1, -1
	for k := 0; k < order; k++ {
		sub := labelSeq[k:order]
		trieIdx := (t + 1) - k
		nodeIdx, pathID, created := tries[trieIdx].insertWithNode(sub)
		if k == 0 {
			tries[trieIdx].addFeatureID(nodeIdx, fid)
		}
		if k > 0 {
			tries[prevTrieIdx].setPrevID(prevNodeIdx, pathID)
		}
		if !created {
			break
		}
		prevNodeIdx, prevTrieIdx = nodeIdx, trieIdx
	}
}

// trainingLabelSuffix builds the most-recent-first label sequence ending at
// position t (t=-1 for BOS, t=T-1 treated as EOS), capped at MaxOrder
// entries since no feature's LabelSeq reaches further.
func trainingLabelSuffix(labels []int, t, T, sentinel int) []int {
	n := t + 2 // t, t-1, ..., -1
	if n > MaxOrder {
		n = MaxOrder
	}
	seq := make([]int, 0, n)
	for j := 0; j < n; j++ {
		pos := t - j
		switch {
		case j == 0 && t == T-1:
			seq = append(seq, sentinel)
		case pos == -1:
			seq = append(seq, sentinel)
		case pos < -1:
			return seq
		default:
			seq = append(seq, labels[pos])
		}
	}
	return seq
}
