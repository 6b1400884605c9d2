package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/trobanga/rythmiq/internal/normalize"
)

var (
	normalizeTrim bool
)

// normalizeCmd represents the normalize command
var normalizeCmd = &cobra.Command{
	Use:   "normalize <file>",
	Short: "Normalize a text file and print the result",
	Long: `Run the text normalizer on a UTF-8 file with the configured options and
print the normalized text, its offset map and segments as JSON.

Example:
  rythmiq normalize extracted.txt --trim`,
	Args: cobra.ExactArgs(1),
	RunE: runNormalize,
}

func init() {
	rootCmd.AddCommand(normalizeCmd)
	normalizeCmd.Flags().BoolVar(&normalizeTrim, "trim", false, "Trim leading and trailing whitespace")
}

func runNormalize(cmd *cobra.Command, args []string) error {
	config, _, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	opts := config.Normalize
	if cmd.Flags().Changed("trim") {
		opts.Trim = normalizeTrim
	}

	result, err := normalize.New(opts).NormalizeBytes(data)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
