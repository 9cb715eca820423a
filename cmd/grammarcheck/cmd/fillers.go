package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vartalaap/vartalaap/internal/grammar/filler"
)

var fillersCmd = &cobra.Command{
	Use:   "fillers [text...]",
	Short: "List the filler words in a sentence",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := textArg(args)
		if err != nil {
			return err
		}
		found := filler.Scan(text)
		if len(found) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no filler words")
			return nil
		}
		for _, f := range found {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fillersCmd)
}
