package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/happyhackingspace/vocrf"
	"github.com/happyhackingspace/vocrf/crf"
	"github.com/spf13/cobra"
)

const modelURL = "https://huggingface.co/datasets/happyhackingspace/vocrf/resolve/main/model.bin"

func (c *CLI) newTagCommand() *cobra.Command {
	var modelPath string

	cmd := &cobra.Command{
		Use:   "tag [input]",
		Short: "Decode the most likely label sequence for an unlabelled sequence",
		Args:  cobra.MaximumNArgs(1),
		Example: `  vocrf tag sequence.txt
  cat sequence.txt | vocrf tag
  vocrf tag sequence.txt --model custom.bin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader
			if len(args) == 0 {
				if isStdinTerminal() {
					return cmd.Help()
				}
				r = os.Stdin
			} else {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("vocrf: %w", err)
				}
				defer func() { _ = f.Close() }()
				r = f
			}

			start := time.Now()
			tg, err := loadOrDownloadModel(modelPath)
			if err != nil {
				return err
			}
			slog.Debug("Model loaded", "duration", time.Since(start))

			seq, err := crf.ReadSequence(r, tg.Model.Attributes)
			if err != nil {
				return fmt.Errorf("vocrf: read sequence: %w", err)
			}
			if len(seq.Items) == 0 {
				return fmt.Errorf("vocrf: empty input sequence")
			}

			labels, err := tg.Tag(seq)
			if err != nil {
				return err
			}
			for _, l := range labels {
				fmt.Println(l)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Path to model file (default: auto-detect or download)")
	return cmd
}

func isStdinTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func loadOrDownloadModel(modelPath string) (*vocrf.Tagger, error) {
	if modelPath != "" {
		slog.Debug("Loading custom model", "path", modelPath)
		return vocrf.Load(modelPath)
	}

	tg, err := vocrf.New()
	if err == nil {
		return tg, nil
	}

	dest := filepath.Join(vocrf.ModelDir(), "model.bin")
	slog.Info("Model not found, downloading", "url", modelURL, "dest", dest)

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("vocrf: create model dir: %w", err)
	}

	resp, err := http.Get(modelURL)
	if err != nil {
		return nil, fmt.Errorf("vocrf: download model: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vocrf: download model: HTTP %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("vocrf: create model file: %w", err)
	}

	written, err := io.Copy(f, resp.Body)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return nil, fmt.Errorf("vocrf: download model: %w", err)
	}
	_ = f.Close()

	slog.Info("Model downloaded", "size", fmt.Sprintf("%.1fMB", float64(written)/1024/1024))
	return vocrf.Load(dest)
}
