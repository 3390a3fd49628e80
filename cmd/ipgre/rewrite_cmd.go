package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/genesis-engine/ipgre/internal/rewrite"
	"github.com/genesis-engine/ipgre/internal/scorer"
	"github.com/genesis-engine/ipgre/internal/session"
)

func newRewriteCmd() *cobra.Command {
	var (
		inputPath string
		mode      string
		userNotes string
		threshold int
	)

	cmd := &cobra.Command{
		Use:   "rewrite",
		Short: "run one Rewrite Action pass over an existing passage",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(inputPath)
			if err != nil {
				return fmt.Errorf("reading input file: %w", err)
			}
			text := string(raw)

			ctx := cmd.Context()
			currentReview, err := eng.scorer.Score(ctx, text, scorer.FixContext{Threshold: threshold})
			if err != nil {
				return fmt.Errorf("initial score failed: %w", err)
			}

			sess := session.New()
			sess.SetBest(text, currentReview.Score, currentReview)
			checkpointID := sess.Checkpoint()

			state := &rewrite.State{}
			result, err := rewrite.Run(ctx, rewrite.Deps{Provider: eng.provider, Scorer: eng.scorer}, sess, checkpointID, currentReview, threshold, rewrite.Mode(mode), userNotes, state)
			if err != nil {
				return fmt.Errorf("rewrite failed: %w", err)
			}

			fmt.Println(strings.TrimSpace(result.Text))
			fmt.Fprintf(os.Stderr, "\n--- score %d (delta %+d), reverted: %v, converged: %v\n",
				result.Review.Score, result.ScoreDelta, result.Reverted, result.Converged)

			return nil
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "path to the passage to rewrite")
	cmd.Flags().StringVar(&mode, "mode", string(rewrite.ModeAll), "rewrite mode: all, critical, or user-notes")
	cmd.Flags().StringVar(&userNotes, "notes", "", "freeform notes for user-notes mode")
	cmd.Flags().IntVar(&threshold, "threshold", 90, "quality threshold (0-100)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}
