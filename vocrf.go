// Package vocrf trains and runs a variable-order linear-chain Conditional
// Random Field tagger.
//
//	tg, _ := vocrf.New()
//	labels, _ := tg.Tag(seq)
package vocrf

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/happyhackingspace/vocrf/crf"
)

// Tagger wraps a trained model for decoding.
type Tagger struct {
	Model *crf.Model
}

// ModelDir returns the directory vocrf caches a downloaded model in,
// under the user's standard cache directory.
func ModelDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "vocrf")
}

// findModel searches the current directory and its parents, up to the
// module root (where go.mod lives), for a file named name.
func findModel(name string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("model.bin not found")
}

// New loads the default "model.bin", searching the current directory and
// its parents up to the module root.
func New() (*Tagger, error) {
	path, err := findModel("model.bin")
	if err != nil {
		return nil, fmt.Errorf("vocrf: %w", err)
	}
	return Load(path)
}

// Load loads a trained model from path.
func Load(path string) (*Tagger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocrf: %w", err)
	}
	defer func() { _ = f.Close() }()

	m, err := crf.Load(f)
	if err != nil {
		return nil, fmt.Errorf("vocrf: %w", err)
	}
	return &Tagger{Model: m}, nil
}

// Save writes the tagger's model to path.
func (tg *Tagger) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("vocrf: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := tg.Model.Save(f); err != nil {
		return fmt.Errorf("vocrf: %w", err)
	}
	return nil
}

// Tag decodes the most likely label sequence for seq using the tagger's
// model weights. The last item of seq is the EOS boundary position: it
// always decodes to the BOS/EOS sentinel, whose entry in the result is "".
func (tg *Tagger) Tag(seq crf.Sequence) ([]string, error) {
	if tg.Model == nil {
		return nil, fmt.Errorf("vocrf: tagger not initialized")
	}
	m := tg.Model
	numLabels := m.NumLabels()

	fs := crf.NewFeatureSet(m.Features)
	labels := make([]int, len(seq.Items)) // unused by Viterbi, required by Process's signature

	pp := crf.NewPreprocessor(numLabels)
	item := pp.Process(seq.Items, labels, fs, numLabels)

	expW := make([]float64, len(m.Weights))
	for i, w := range m.Weights {
		expW[i] = math.Exp(w)
	}

	ctx := crf.NewContext(numLabels)
	ctx.Load(item)
	ctx.SetWeight(expW)
	result := ctx.Viterbi()

	out := make([]string, len(result.Labels))
	for i, l := range result.Labels {
		out[i] = m.Labels.String(l)
	}
	return out, nil
}
