// Package cmd holds the grammarcheck subcommands.
package cmd

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vartalaap/vartalaap/internal/grammar/rules"
)

var (
	cfgFile   string
	rulesFile string
	native    string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "grammarcheck",
	Short: "Check spoken-English sentences offline",
	Long: `grammarcheck runs the Vartalaap error-detection pipeline on text.

Without --config only the rule catalog is consulted. With --config the
model tiers configured under detection.tiers are escalated to as well.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		lvl := slog.LevelWarn
		if verbose {
			lvl = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl})))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "server config whose detection tiers should be used")
	rootCmd.PersistentFlags().StringVar(&rulesFile, "rules", "", "rule catalog replacing the built-in one")
	rootCmd.PersistentFlags().StringVarP(&native, "native", "n", "", "native language for explanations (default Hindi)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline decisions")
}

// loadCatalog returns the catalog named by --rules, or the built-in one.
func loadCatalog() (*rules.Catalog, error) {
	if rulesFile == "" {
		return rules.Default(), nil
	}
	f, err := os.Open(rulesFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return rules.Load(f)
}

// textArg joins the positional arguments into one sentence.
func textArg(args []string) (string, error) {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return "", errors.New("no text given")
	}
	return text, nil
}
