package crf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTrie(branch int) *trie {
	nodes := NewBufferManager[trieNode](16)
	fids := NewBufferManager[fidListNode](16)
	tr := newTrie(nodes, fids, branch)
	tr.reset()
	return tr
}

func TestTrieInsertAssignsSequentialPathIDs(t *testing.T) {
	tr := newTestTrie(3)

	rootID, created := tr.insert(nil)
	require.True(t, created)
	require.Equal(t, 0, rootID)

	id0, created := tr.insert([]int{0})
	require.True(t, created)
	require.Equal(t, 1, id0)

	id1, created := tr.insert([]int{1})
	require.True(t, created)
	require.Equal(t, 2, id1)

	idAgain, created := tr.insert([]int{0})
	require.False(t, created, "re-inserting the same path must not mint a new id")
	require.Equal(t, id0, idAgain)
}

func TestTrieLongestPrefixMatch(t *testing.T) {
	tr := newTestTrie(3)
	tr.insert(nil)
	tr.insert([]int{0})
	tr.insert([]int{1})

	require.Equal(t, 1, tr.longestPrefixMatch([]int{0, 1}), "only the first label has a recorded path")
	require.Equal(t, 2, tr.longestPrefixMatch([]int{1, 0}))
	require.Equal(t, 0, tr.longestPrefixMatch(nil), "empty query matches the root path")
}

func TestTrieFeatureIDListPrependOrder(t *testing.T) {
	tr := newTestTrie(2)
	nodeIdx, _, _ := tr.insertWithNode([]int{0})
	tr.addFeatureID(nodeIdx, 7)
	tr.addFeatureID(nodeIdx, 3)
	tr.addFeatureID(nodeIdx, 9)

	require.Equal(t, []int{9, 3, 7}, tr.collectFids(nodeIdx), "collectFids returns most-recently-added first")
}

func TestTrieEnumerateOrdersRootThenPerLabelSubtrees(t *testing.T) {
	tr := newTestTrie(3)
	tr.insert(nil)
	tr.insert([]int{0})
	tr.insert([]int{1})

	paths, numByLabel := tr.enumerate()
	require.Len(t, paths, 3)
	require.Equal(t, noRef, paths[0].longestSuffix)
	require.Equal(t, 0, paths[1].headLabel)
	require.Equal(t, 1, paths[2].headLabel)
	require.Equal(t, []int{1, 1, 0}, numByLabel)
}
