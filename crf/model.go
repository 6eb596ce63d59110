package crf

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

var modelMagic = [4]byte{'V', 'O', 'C', 'R'}

const modelVersion uint32 = 1

// Model is the full trained artifact: the label and attribute dictionaries,
// the feature table, and one weight per feature, saved and loaded as a
// single versioned binary container.
type Model struct {
	Labels     *Alphabet
	Attributes *Alphabet
	Features   []Feature
	Weights    []float64
}

// NewModel returns an empty model ready to be populated by training.
func NewModel() *Model {
	return &Model{Labels: NewAlphabet(), Attributes: NewAlphabet()}
}

// NumLabels returns the number of real labels (excluding the BOS/EOS
// sentinel, which is never added to the Labels alphabet).
func (m *Model) NumLabels() int {
	return m.Labels.Size()
}

// Save writes the model to w in the canonical binary format: a magic
// header, a format version, then the label and attribute dictionaries and
// a count-prefixed feature table whose records each carry their weight
// inline. Features with a zero weight are dropped
// (§6, "zero-weight feature pruning").
func (m *Model) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(modelMagic[:]); err != nil {
		return fmt.Errorf("crf: write magic: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, modelVersion); err != nil {
		return fmt.Errorf("crf: write version: %w", err)
	}

	if err := writeStrings(bw, m.Labels.ToStr); err != nil {
		return fmt.Errorf("crf: write labels: %w", err)
	}
	if err := writeStrings(bw, m.Attributes.ToStr); err != nil {
		return fmt.Errorf("crf: write attributes: %w", err)
	}

	kept := make([]int, 0, len(m.Features))
	for i := range m.Features {
		if i < len(m.Weights) && m.Weights[i] == 0 {
			continue
		}
		kept = append(kept, i)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(kept))); err != nil {
		return fmt.Errorf("crf: write feature count: %w", err)
	}
	for _, i := range kept {
		f := m.Features[i]
		if err := binary.Write(bw, binary.LittleEndian, uint32(f.Order)); err != nil {
			return fmt.Errorf("crf: write feature order: %w", err)
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(f.Attr)); err != nil {
			return fmt.Errorf("crf: write feature attr: %w", err)
		}
		var seq [MaxOrder]int32
		for k := 0; k < f.Order; k++ {
			seq[k] = int32(f.LabelSeq[k])
		}
		if err := binary.Write(bw, binary.LittleEndian, seq); err != nil {
			return fmt.Errorf("crf: write feature label sequence: %w", err)
		}
		if err := binary.Write(bw, binary.LittleEndian, f.Freq); err != nil {
			return fmt.Errorf("crf: write feature freq: %w", err)
		}
		if err := binary.Write(bw, binary.LittleEndian, m.Weights[i]); err != nil {
			return fmt.Errorf("crf: write feature weight: %w", err)
		}
	}

	return bw.Flush()
}

// Load reads a model previously written by Save.
func Load(r io.Reader) (*Model, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("crf: read magic: %w", err)
	}
	if magic != modelMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidModel)
	}

	var version uint32
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("crf: read version: %w", err)
	}
	if version != modelVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidModel, version)
	}

	labels, err := readStrings(br)
	if err != nil {
		return nil, fmt.Errorf("crf: read labels: %w", err)
	}
	attrs, err := readStrings(br)
	if err != nil {
		return nil, fmt.Errorf("crf: read attributes: %w", err)
	}

	var numFeatures uint32
	if err := binary.Read(br, binary.LittleEndian, &numFeatures); err != nil {
		return nil, fmt.Errorf("crf: read feature count: %w", err)
	}
	features := make([]Feature, numFeatures)
	weights := make([]float64, numFeatures)
	for i := range features {
		var order, attr uint32
		if err := binary.Read(br, binary.LittleEndian, &order); err != nil {
			return nil, fmt.Errorf("crf: read feature order: %w", err)
		}
		if order > MaxOrder {
			return nil, fmt.Errorf("%w: feature order %d exceeds MaxOrder %d", ErrNotSupported, order, MaxOrder)
		}
		if err := binary.Read(br, binary.LittleEndian, &attr); err != nil {
			return nil, fmt.Errorf("crf: read feature attr: %w", err)
		}
		var seq [MaxOrder]int32
		if err := binary.Read(br, binary.LittleEndian, &seq); err != nil {
			return nil, fmt.Errorf("crf: read feature label sequence: %w", err)
		}
		var freq float64
		if err := binary.Read(br, binary.LittleEndian, &freq); err != nil {
			return nil, fmt.Errorf("crf: read feature freq: %w", err)
		}
		var weight float64
		if err := binary.Read(br, binary.LittleEndian, &weight); err != nil {
			return nil, fmt.Errorf("crf: read feature weight: %w", err)
		}

		f := Feature{Order: int(order), Attr: int(attr), Freq: freq}
		for k := 0; k < int(order) && k < MaxOrder; k++ {
			f.LabelSeq[k] = int(seq[k])
		}
		features[i] = f
		weights[i] = weight
	}

	m := &Model{
		Labels:     alphabetFromStrings(labels),
		Attributes: alphabetFromStrings(attrs),
		Features:   features,
		Weights:    weights,
	}
	return m, nil
}

// DumpJSON renders the model as indented JSON for human inspection (the
// `--json` escape hatch on `vocrf dump`); the binary form remains canonical.
func (m *Model) DumpJSON(w io.Writer) error {
	type jsonFeature struct {
		Order    int     `json:"order"`
		Attr     string  `json:"attr"`
		Labels   []string `json:"labels"`
		Freq     float64 `json:"freq"`
		Weight   float64 `json:"weight"`
	}
	out := struct {
		Labels     []string      `json:"labels"`
		Attributes []string      `json:"attributes"`
		Features   []jsonFeature `json:"features"`
	}{
		Labels:     m.Labels.ToStr,
		Attributes: m.Attributes.ToStr,
	}
	for i, f := range m.Features {
		jf := jsonFeature{
			Order:  f.Order,
			Attr:   m.Attributes.String(f.Attr),
			Freq:   f.Freq,
			Weight: m.Weights[i],
		}
		for k := 0; k < f.Order; k++ {
			l := f.LabelSeq[k]
			if l == m.Labels.Size() {
				jf.Labels = append(jf.Labels, "__BOS_EOS__")
			} else {
				jf.Labels = append(jf.Labels, m.Labels.String(l))
			}
		}
		out.Features = append(out.Features, jf)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeStrings(w io.Writer, ss []string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readStrings(r io.Reader) ([]string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, err
		}
		buf := make([]byte, l)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		out[i] = string(buf)
	}
	return out, nil
}

func alphabetFromStrings(ss []string) *Alphabet {
	a := NewAlphabet()
	for _, s := range ss {
		a.Add(s)
	}
	return a
}
