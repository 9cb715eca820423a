package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vartalaap/vartalaap/internal/app"
	"github.com/vartalaap/vartalaap/internal/config"
	"github.com/vartalaap/vartalaap/internal/grammar"
	"github.com/vartalaap/vartalaap/internal/grammar/detector"
	"github.com/vartalaap/vartalaap/internal/grammar/router"
)

var asJSON bool

var checkCmd = &cobra.Command{
	Use:   "check [text...]",
	Short: "Check one sentence for mistakes",
	Example: `  grammarcheck check I has a book
  grammarcheck check -n Tamil "yesterday I go to market"
  grammarcheck check --config config.yaml "my brother and me is going"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&asJSON, "json", false, "print the verdict as JSON")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	text, err := textArg(args)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog()
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	opts, err := tierOptions(ctx)
	if err != nil {
		return err
	}
	d := detector.New(catalog, opts...)

	gctx := grammar.Context{Native: grammar.ResolveLanguage(native)}
	det := d.Detect(ctx, text, gctx)
	fillers := d.DetectFillers(text)

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"result": det, "fillers": fillers})
	}
	printDetection(out, det, gctx.Native)
	if len(fillers) > 0 {
		fmt.Fprintf(out, "fillers:     %s\n", strings.Join(fillers, ", "))
	}
	return nil
}

// tierOptions builds the model tiers from --config. No config means the
// catalog alone.
func tierOptions(ctx context.Context) ([]detector.Option, error) {
	if cfgFile == "" {
		return nil, nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)
	tiers, err := app.BuildTiers(ctx, cfg, reg)
	if err != nil {
		return nil, err
	}
	opts := []detector.Option{detector.WithEscalationWords(cfg.Detection.EscalationWords)}
	if len(tiers) == 0 {
		return opts, nil
	}
	r, err := router.New(tiers, router.WithTimeout(cfg.Detection.TierTimeout))
	if err != nil {
		return nil, err
	}
	return append(opts, detector.WithRouter(r)), nil
}

func printDetection(w io.Writer, d grammar.Detection, lang grammar.Language) {
	if !d.HasError {
		fmt.Fprintf(w, "ok           no mistakes found (%s)\n", d.Method)
		return
	}
	fmt.Fprintf(w, "mistake:     %q\n", d.Original)
	switch {
	case d.Kind == grammar.KindAdvisory:
		fmt.Fprintf(w, "advice:      %s\n", d.Corrected)
	case d.Corrected == "":
		fmt.Fprintln(w, "fix:         remove it")
	default:
		fmt.Fprintf(w, "fix:         %q\n", d.Corrected)
	}
	fmt.Fprintf(w, "category:    %s\n", d.Category)
	fmt.Fprintf(w, "explanation: %s\n", d.Explanation)
	if d.NativeExplanation != "" && d.NativeExplanation != d.Explanation {
		fmt.Fprintf(w, "%-12s %s\n", lang.Name+":", d.NativeExplanation)
	}
	method := d.Method
	if d.RuleID != "" {
		method += " / " + d.RuleID
	}
	fmt.Fprintf(w, "decided by:  %s\n", method)
}
