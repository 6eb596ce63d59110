package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/happyhackingspace/vocrf/crf"
	"github.com/stretchr/testify/require"
)

func writeDataFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadDirConcatenatesSortedFilesAndSetsGroups(t *testing.T) {
	dir := t.TempDir()
	writeDataFile(t, dir, "b.data", "I-LOC city=Paris\n")
	writeDataFile(t, dir, "a.data", "B-PER w=John\n\nI-PER w=Smith\n")
	writeDataFile(t, dir, "ignore.txt", "not a data file\n")

	labels := crf.NewAlphabet()
	attrs := crf.NewAlphabet()
	seqs, err := LoadDir(dir, labels, attrs)
	require.NoError(t, err)
	require.Len(t, seqs, 3, "a.data contributes 2 sequences, b.data 1; ignore.txt is skipped")

	// a.data sorts before b.data, so its two sequences come first with Group 0.
	require.Equal(t, 0, seqs[0].Group)
	require.Equal(t, 0, seqs[1].Group)
	require.Equal(t, 1, seqs[2].Group)
}

func TestLoadDirResolvesBOSEOSConsistentlyAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	// a.data only ever sees label A; b.data introduces label B afterwards.
	// A naive per-file sentinel resolution would stamp a.data's boundary
	// items with an id that label B, seen later, then takes for itself.
	writeDataFile(t, dir, "a.data", "__BOS_EOS__ x\nA w=1\n__BOS_EOS__ x\n")
	writeDataFile(t, dir, "b.data", "__BOS_EOS__ x\nB w=2\n__BOS_EOS__ x\n")

	labels := crf.NewAlphabet()
	attrs := crf.NewAlphabet()
	seqs, err := LoadDir(dir, labels, attrs)
	require.NoError(t, err)
	require.Len(t, seqs, 2)

	sentinel := labels.Size()
	for _, seq := range seqs {
		require.Equal(t, sentinel, seq.Labels[0])
		require.Equal(t, sentinel, seq.Labels[len(seq.Labels)-1])
	}
	require.NotEqual(t, labels.Get("B"), sentinel)
}

func TestLoadDirErrorsOnEmptyDir(t *testing.T) {
	dir := t.TempDir()
	labels := crf.NewAlphabet()
	attrs := crf.NewAlphabet()
	_, err := LoadDir(dir, labels, attrs)
	require.Error(t, err)
}

func TestGroupKFoldKeepsGroupsTogether(t *testing.T) {
	groups := []int{0, 0, 1, 1, 2, 2}
	folds := GroupKFold(groups, 3)
	require.Len(t, folds, 3)

	seen := make(map[int]int) // sequence index -> fold
	for foldIdx, idxs := range folds {
		for _, i := range idxs {
			seen[i] = foldIdx
		}
	}
	require.Equal(t, seen[0], seen[1], "both sequences from group 0 must land in the same fold")
	require.Equal(t, seen[2], seen[3], "both sequences from group 1 must land in the same fold")
	require.Equal(t, seen[4], seen[5], "both sequences from group 2 must land in the same fold")
}

func TestGroupKFoldCapsFoldCountToGroupCount(t *testing.T) {
	groups := []int{0, 0, 1, 1}
	folds := GroupKFold(groups, 10)
	require.Len(t, folds, 2, "cannot split 2 groups into more than 2 non-empty folds")
}
