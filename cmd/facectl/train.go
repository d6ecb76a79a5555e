package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train [identity-id...]",
	Short: "Rebuild embedding templates from reference photos",
	Long: `Rebuild the embedding template of each listed identity, or of every
identity that owns at least one reference photo when none is given.

Photos that cannot be fetched or show no face are skipped. The command stops
if the face service is unreachable.

Examples:
  facectl train
  facectl train 12 14 31`,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().Bool("quiet", false, "Do not draw a progress bar")
}

func runTrain(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	quiet, _ := cmd.Flags().GetBool("quiet")

	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	trainer := rt.Trainer()
	if !quiet {
		var bar *progressbar.ProgressBar
		trainer.Progress = func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Training"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = bar.Set(done)
		}
	}

	sum, err := trainer.Rebuild(ctx, ids)
	fmt.Fprintf(cmd.OutOrStdout(), "identities: %d  embeddings: %d  skipped photos: %d\n",
		sum.Identities, sum.Embeddings, sum.Skipped)
	return err
}
