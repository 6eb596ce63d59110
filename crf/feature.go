// Package crf implements a variable-order linear-chain Conditional Random
// Field: training via L-BFGS and decoding via Viterbi, both driven by a
// per-sequence dynamic path lattice built from suffix tries rather than a
// fixed-order transition matrix.
package crf

import (
	"fmt"
	"sort"

	"github.com/happyhackingspace/vocrf/internal/vectorizer"
)

// MaxOrder bounds how far back a feature's label sequence can reach.
const MaxOrder = 8

// Alphabet is a bidirectional string<->dense-id dictionary, used for both
// the label and the attribute vocabularies.
type Alphabet struct {
	ToID  map[string]int `json:"to_id"`
	ToStr []string       `json:"to_str"`
}

// NewAlphabet returns an empty alphabet.
func NewAlphabet() *Alphabet {
	return &Alphabet{ToID: make(map[string]int)}
}

// Add returns the id for s, assigning a new dense id if s is unseen.
func (a *Alphabet) Add(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	id := len(a.ToStr)
	a.ToID[s] = id
	a.ToStr = append(a.ToStr, s)
	return id
}

// Get returns the id for s, or -1 if s has never been added.
func (a *Alphabet) Get(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	return -1
}

// String returns the string for a dense id, or "" if out of range.
func (a *Alphabet) String(id int) string {
	if id < 0 || id >= len(a.ToStr) {
		return ""
	}
	return a.ToStr[id]
}

// Size returns the number of entries.
func (a *Alphabet) Size() int {
	return len(a.ToStr)
}

// Feature is a single (attribute, label-suffix) weighted function. LabelSeq
// is stored most-recent-first: LabelSeq[0] is the label at the feature's own
// position, LabelSeq[k] the label k positions earlier. Order is the suffix
// length, i.e. the number of meaningful entries in LabelSeq.
type Feature struct {
	Order    int
	Attr     int
	LabelSeq [MaxOrder]int
	Freq     float64
}

// Item is one position's bag of (attribute, scale) pairs, encoded as a
// sparse vector over the attribute alphabet so the representation composes
// with the rest of internal/vectorizer instead of duplicating it as a map.
type Item struct {
	Attrs vectorizer.SparseVector
}

// NewItem creates an item with no attributes set, dimensioned against an
// alphabet of numAttrs entries.
func NewItem(numAttrs int) Item {
	return Item{Attrs: vectorizer.NewSparseVector(numAttrs)}
}

// Sequence is an unlabelled observation sequence, ready for tagging.
type Sequence struct {
	Items []Item
}

// TrainingSequence pairs a sequence with its true label path and an
// optional group tag used for group k-fold cross-validation.
type TrainingSequence struct {
	Items  []Item
	Labels []int
	Group  int
}

// FeatureSet is a trained or externally supplied feature table together
// with the attribute -> feature-index index needed to iterate only the
// features relevant to an item's attributes.
type FeatureSet struct {
	Features []Feature
	ByAttr   map[int][]int // attribute id -> indices into Features
}

// NewFeatureSet builds the attribute -> feature index for a feature slice.
func NewFeatureSet(features []Feature) *FeatureSet {
	fs := &FeatureSet{Features: features}
	fs.reindex()
	return fs
}

func (fs *FeatureSet) reindex() {
	fs.ByAttr = make(map[int][]int, len(fs.Features))
	for i, f := range fs.Features {
		fs.ByAttr[f.Attr] = append(fs.ByAttr[f.Attr], i)
	}
}

// Add appends a feature, keeping the attribute index current, and returns
// its dense id.
func (fs *FeatureSet) Add(f Feature) int {
	id := len(fs.Features)
	fs.Features = append(fs.Features, f)
	fs.ByAttr[f.Attr] = append(fs.ByAttr[f.Attr], id)
	return id
}

// GenerateUnigramFeatures builds the default order-1 feature table when no
// external feature list is supplied: one feature per (attribute, label)
// pair actually observed at some position in sequences. Richer feature
// discovery (e.g. the ESA-based generator the reference implementation
// delegates to) is out of scope; this is the minimal generator that makes
// the trainer usable standalone.
func GenerateUnigramFeatures(sequences []TrainingSequence) *FeatureSet {
	type key struct {
		attr  int
		label int
	}
	seen := make(map[key]bool)
	var order []key
	for _, seq := range sequences {
		for t, item := range seq.Items {
			label := seq.Labels[t]
			for _, a := range item.Attrs.Indices {
				k := key{attr: a, label: label}
				if !seen[k] {
					seen[k] = true
					order = append(order, k)
				}
			}
		}
	}

	features := make([]Feature, len(order))
	for i, k := range order {
		f := Feature{Order: 1, Attr: k.attr}
		f.LabelSeq[0] = k.label
		features[i] = f
	}
	return NewFeatureSet(features)
}

// FeaturesToAttributes converts a feature dict (with mixed value types) to
// CRF attribute strings with float64 scales.
//
// Conversion rules:
//   - string value: "key=value" -> 1.0
//   - []string value: "key:item" -> 1.0 for each item
//   - bool value: "key" -> 1.0 if true
//   - int/float value: "key" -> float64(value)
func FeaturesToAttributes(features map[string]any) map[string]float64 {
	attrs := make(map[string]float64)
	for key, val := range features {
		switch v := val.(type) {
		case string:
			attrs[fmt.Sprintf("%s=%s", key, v)] = 1.0
		case []string:
			for _, item := range v {
				attrs[fmt.Sprintf("%s:%s", key, item)] = 1.0
			}
		case bool:
			if v {
				attrs[key] = 1.0
			}
		case int:
			attrs[key] = float64(v)
		case float64:
			attrs[key] = v
		default:
			attrs[key] = 1.0
		}
	}
	return attrs
}

// BuildAttributeAlphabet assigns dense ids to every attribute name seen
// across rawPerItem, sorted for determinism across runs.
func BuildAttributeAlphabet(rawPerItem []map[string]float64) *Alphabet {
	seen := make(map[string]bool)
	for _, item := range rawPerItem {
		for k := range item {
			seen[k] = true
		}
	}
	a := NewAlphabet()
	for _, k := range sortedKeys(seen) {
		a.Add(k)
	}
	return a
}

// BuildLabelAlphabet assigns dense ids to every label string seen across
// labelSeqs, sorted for determinism across runs.
func BuildLabelAlphabet(labelSeqs [][]string) *Alphabet {
	seen := make(map[string]bool)
	for _, seq := range labelSeqs {
		for _, l := range seq {
			seen[l] = true
		}
	}
	a := NewAlphabet()
	for _, k := range sortedKeys(seen) {
		a.Add(k)
	}
	return a
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
