package cli

import (
	"fmt"
	"os"

	"github.com/happyhackingspace/vocrf/crf"
	"github.com/spf13/cobra"
)

func (c *CLI) newDumpCommand() *cobra.Command {
	var modelPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "dump",
		Short:   "Print a model's labels, attributes, and weighted features",
		Example: `  vocrf dump --model model.bin --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelPath == "" {
				return fmt.Errorf("vocrf: --model is required")
			}
			f, err := os.Open(modelPath)
			if err != nil {
				return fmt.Errorf("vocrf: %w", err)
			}
			defer func() { _ = f.Close() }()

			m, err := crf.Load(f)
			if err != nil {
				return fmt.Errorf("vocrf: %w", err)
			}

			if asJSON {
				return m.DumpJSON(os.Stdout)
			}

			fmt.Printf("labels (%d): %v\n", m.Labels.Size(), m.Labels.ToStr)
			fmt.Printf("attributes: %d\n", m.Attributes.Size())
			fmt.Printf("features: %d\n", len(m.Features))
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Path to model file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full model as JSON")
	return cmd
}
