package crf

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestModel() *Model {
	labels := NewAlphabet()
	labels.Add("B-PER")
	labels.Add("I-PER")
	attrs := NewAlphabet()
	attrs.Add("w=John")
	attrs.Add("cap")

	f1 := Feature{Order: 1, Attr: 0, Freq: 3}
	f1.LabelSeq[0] = 0
	f2 := Feature{Order: 2, Attr: 1, Freq: 1}
	f2.LabelSeq[0] = 1
	f2.LabelSeq[1] = 0
	f3 := Feature{Order: 1, Attr: 1, Freq: 0} // zero weight, pruned on save

	return &Model{
		Labels:     labels,
		Attributes: attrs,
		Features:   []Feature{f1, f2, f3},
		Weights:    []float64{0.5, -1.25, 0},
	}
}

func TestModelSaveLoadRoundTrip(t *testing.T) {
	m := buildTestModel()
	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)

	require.Equal(t, m.Labels.ToStr, loaded.Labels.ToStr)
	require.Equal(t, m.Attributes.ToStr, loaded.Attributes.ToStr)
	require.Len(t, loaded.Features, 2, "the zero-weight feature must be pruned")
	require.Equal(t, []float64{0.5, -1.25}, loaded.Weights)
}

func TestModelLoadRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("XXXX")
	_, err := Load(&buf)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidModel))
}

func TestModelLoadRejectsUnsupportedVersion(t *testing.T) {
	m := buildTestModel()
	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))

	raw := buf.Bytes()
	corrupted := make([]byte, len(raw))
	copy(corrupted, raw)
	// version is the little-endian uint32 directly after the 4-byte magic
	corrupted[4] = 0xFF

	_, err := Load(bytes.NewReader(corrupted))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidModel))
}

func TestModelDumpJSONResolvesSentinelLabel(t *testing.T) {
	labels := NewAlphabet()
	labels.Add("B-PER")
	attrs := NewAlphabet()
	attrs.Add("w=John")

	f := Feature{Order: 1, Attr: 0}
	f.LabelSeq[0] = labels.Size() // sentinel
	m := &Model{Labels: labels, Attributes: attrs, Features: []Feature{f}, Weights: []float64{1.0}}

	var buf bytes.Buffer
	require.NoError(t, m.DumpJSON(&buf))
	require.Contains(t, buf.String(), "__BOS_EOS__")
}
