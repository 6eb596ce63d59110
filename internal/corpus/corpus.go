// Package corpus loads variable-order CRF training data from a directory of
// text files and groups sequences for cross-validation.
package corpus

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/happyhackingspace/vocrf/crf"
)

// LoadDir reads every *.data file under dir (sorted for determinism) as a
// training-data text file (§6) and concatenates their sequences. Each
// sequence's Group is set to the index of the file it came from, so that
// GroupKFold keeps all sequences from one file on the same side of a split.
// Files that cannot be opened are skipped with a warning rather than
// aborting the load, matching the teacher's annotation-loading idiom.
func LoadDir(dir string, labels, attrs *crf.Alphabet) ([]crf.TrainingSequence, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("corpus: read dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".data" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var all []crf.TrainingSequence
	for fileIdx, name := range names {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			slog.Warn("corpus: cannot open training file", "path", path, "error", err)
			continue
		}
		seqs, err := crf.ReadTrainingData(f, labels, attrs, slog.Default())
		_ = f.Close()
		if err != nil {
			slog.Warn("corpus: cannot read training file", "path", path, "error", err)
			continue
		}
		for i := range seqs {
			seqs[i].Group = fileIdx
		}
		all = append(all, seqs...)
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("corpus: no training sequences found in %s", dir)
	}
	// Resolved once, across every file, so a label first seen in a later
	// file can never collide with an earlier file's BOS/EOS id.
	crf.FinalizeBoundaryLabels(all, labels)
	return all, nil
}

// GroupKFold partitions [0, n) into nFolds index sets such that every
// sequence sharing a Group lands in the same fold, so held-out evaluation
// never leaks a file's own sequences into its own training split.
func GroupKFold(groups []int, nFolds int) [][]int {
	uniqueGroups := make(map[int]bool)
	for _, g := range groups {
		uniqueGroups[g] = true
	}
	sortedGroups := make([]int, 0, len(uniqueGroups))
	for g := range uniqueGroups {
		sortedGroups = append(sortedGroups, g)
	}
	sort.Ints(sortedGroups)

	if nFolds > len(sortedGroups) {
		nFolds = len(sortedGroups)
	}
	if nFolds < 1 {
		nFolds = 1
	}

	groupToFold := make(map[int]int, len(sortedGroups))
	for i, g := range sortedGroups {
		groupToFold[g] = i % nFolds
	}

	folds := make([][]int, nFolds)
	for i, g := range groups {
		fold := groupToFold[g]
		folds[fold] = append(folds[fold], i)
	}
	return folds
}
