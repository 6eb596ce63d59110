package crf

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// bosEOSToken is the training-data sentinel letting a corpus author mark a
// sequence boundary item without knowing whether it will resolve to BOS or
// EOS; the reader maps it positionally once a sequence is complete.
const bosEOSToken = "__BOS_EOS__"

// rawItem is one parsed training-data line before label/attribute
// resolution against the alphabets.
type rawItem struct {
	label    string // "" if not yet resolved (bosEOSToken placeholder)
	isBOSEOS bool
	attrs    map[string]float64
}

// ReadTrainingData parses the block-structured training-data text format
// (§6): blank lines separate sequences, each non-blank line is one item
// whose first token is a label (or __BOS_EOS__) and whose remaining tokens
// are `attribute` or `attribute:scale` pairs. Malformed lines are skipped
// with a warning rather than aborting the read. Labels and attributes seen
// are added to the given alphabets as encountered.
//
// __BOS_EOS__ items in the returned sequences are left as unresolvedSentinel
// placeholders; call FinalizeBoundaryLabels once every file sharing labels
// has been read.
func ReadTrainingData(r io.Reader, labels, attrs *Alphabet, log *slog.Logger) ([]TrainingSequence, error) {
	if log == nil {
		log = slog.Default()
	}

	// A percent-complete tick needs a total size; only a file backing the
	// reader can supply one, so progress logging degrades silently for any
	// other io.Reader (e.g. a test's strings.Reader).
	var totalBytes int64
	if f, ok := r.(*os.File); ok {
		if info, err := f.Stat(); err == nil {
			totalBytes = info.Size()
		}
	}
	var readBytes int64
	lastPercent := -1

	var sequences []TrainingSequence
	var cur []rawItem

	flush := func() {
		if len(cur) == 0 {
			return
		}
		seq := resolveSequence(cur, labels, attrs)
		sequences = append(sequences, seq)
		cur = nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		readBytes += int64(len(sc.Bytes())) + 1
		if totalBytes > 0 {
			if percent := int(readBytes * 100 / totalBytes); percent != lastPercent {
				lastPercent = percent
				log.Debug("reading training data", "percent", percent)
			}
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			log.Warn("skipping malformed training-data line", "line", lineNo)
			continue
		}

		item := rawItem{attrs: make(map[string]float64, len(fields)-1)}
		if fields[0] == bosEOSToken {
			item.isBOSEOS = true
		} else {
			item.label = fields[0]
		}
		for _, tok := range fields[1:] {
			name, scale := tok, 1.0
			if idx := strings.LastIndexByte(tok, ':'); idx > 0 {
				if v, err := strconv.ParseFloat(tok[idx+1:], 64); err == nil {
					name, scale = tok[:idx], v
				}
			}
			item.attrs[name] = scale
		}
		cur = append(cur, item)
	}
	flush()

	if err := sc.Err(); err != nil {
		return nil, err
	}
	return sequences, nil
}

// resolveSequence turns a block of raw items into a TrainingSequence,
// marking __BOS_EOS__ items with unresolvedSentinel for FinalizeBoundaryLabels
// to stamp later.
func resolveSequence(raw []rawItem, labels, attrs *Alphabet) TrainingSequence {
	seq := TrainingSequence{
		Items:  make([]Item, len(raw)),
		Labels: make([]int, len(raw)),
	}
	for i, ri := range raw {
		seq.Items[i] = ItemFromAttrs(attrs, ri.attrs)
		if ri.isBOSEOS {
			seq.Labels[i] = unresolvedSentinel
		} else {
			seq.Labels[i] = labels.Add(ri.label)
		}
	}
	return seq
}

// unresolvedSentinel marks a __BOS_EOS__ placeholder that FinalizeBoundaryLabels
// has not yet resolved. It is never a valid alphabet id (Alphabet.Add only
// ever returns values >= 0), so it cannot be confused with a real label.
const unresolvedSentinel = -1

// FinalizeBoundaryLabels resolves every unresolvedSentinel placeholder left by
// resolveSequence to the final BOS/EOS id, labels.Size(). It must be called
// exactly once, after every file contributing to a shared label alphabet has
// been read: resolving per-file, or per-sequence, would stamp an id that a
// later file's new label could go on to collide with.
func FinalizeBoundaryLabels(seqs []TrainingSequence, labels *Alphabet) {
	sentinel := labels.Size()
	for i := range seqs {
		for j, l := range seqs[i].Labels {
			if l == unresolvedSentinel {
				seqs[i].Labels[j] = sentinel
			}
		}
	}
}

// ItemFromAttrs builds an Item directly from a name->scale map, adding any
// unseen attribute names to attrs.
func ItemFromAttrs(attrs *Alphabet, raw map[string]float64) Item {
	ids := make(map[int]float64, len(raw))
	for name, scale := range raw {
		ids[attrs.Add(name)] = scale
	}
	item := NewItem(attrs.Size())
	for id, scale := range ids {
		item.Attrs.Set(id, scale)
	}
	return item
}

// ItemFromKnownAttrs builds an Item the same way as ItemFromAttrs, except
// attribute names absent from attrs are dropped rather than added. This is
// the form tagging uses against a loaded model's fixed attribute alphabet.
func ItemFromKnownAttrs(attrs *Alphabet, raw map[string]float64) Item {
	item := NewItem(attrs.Size())
	for name, scale := range raw {
		if id := attrs.Get(name); id >= 0 {
			item.Attrs.Set(id, scale)
		}
	}
	return item
}

// ReadSequence parses an unlabelled sequence in the training-data format
// minus label tokens (§6): each non-blank line is one item whose tokens are
// `attribute` or `attribute:scale` pairs, read until EOF. Attribute names
// absent from attrs are dropped rather than growing the alphabet, since
// tagging runs against a model's fixed vocabulary.
func ReadSequence(r io.Reader, attrs *Alphabet) (Sequence, error) {
	var items []Item

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)

		raw := make(map[string]float64, len(fields))
		for _, tok := range fields {
			name, scale := tok, 1.0
			if idx := strings.LastIndexByte(tok, ':'); idx > 0 {
				if v, err := strconv.ParseFloat(tok[idx+1:], 64); err == nil {
					name, scale = tok[:idx], v
				}
			}
			raw[name] = scale
		}
		items = append(items, ItemFromKnownAttrs(attrs, raw))
	}
	if err := sc.Err(); err != nil {
		return Sequence{}, err
	}
	return Sequence{Items: items}, nil
}

// ReadFeatures parses the feature-list text format (§6): one line per
// feature, first token the attribute, remaining tokens the label sequence
// most-recent-first. A label token absent from the label dictionary maps
// to the BOS/EOS sentinel id rather than erroring, matching the original
// reader's handling of a feature file written against a different run.
func ReadFeatures(r io.Reader, labels, attrs *Alphabet) ([]Feature, error) {
	var features []Feature
	sentinel := labels.Size()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		attr := attrs.Add(fields[0])
		order := len(fields) - 1
		if order > MaxOrder {
			order = MaxOrder
		}
		f := Feature{Order: order, Attr: attr, Freq: 0}
		for k := 0; k < order; k++ {
			id := labels.Get(fields[1+k])
			if id < 0 {
				id = sentinel
			}
			f.LabelSeq[k] = id
		}
		features = append(features, f)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return features, nil
}
