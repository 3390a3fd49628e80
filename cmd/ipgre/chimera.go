package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/genesis-engine/ipgre/internal/chimera"
	"github.com/genesis-engine/ipgre/internal/review"
)

func newChimeraCmd() *cobra.Command {
	var (
		plot          string
		chapterTitle  string
		genre         string
		voice         string
		authorPalette []string
		wordTarget    int
		agentCount    int
	)

	cmd := &cobra.Command{
		Use:   "chimera",
		Short: "draft a passage via the Multi-Agent Orchestrator's roster-and-stitch path",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}

			req := review.Request{
				Plot:          plot,
				ChapterTitle:  chapterTitle,
				Genre:         genre,
				Voice:         voice,
				AuthorPalette: authorPalette,
				WordTarget:    wordTarget,
			}

			deps := chimera.Deps{
				Provider: eng.provider,
				Model:    eng.cfg.DefaultModel,
			}

			text, err := chimera.Orchestrate(cmd.Context(), deps, req, wordTarget, agentCount)
			if err != nil {
				return fmt.Errorf("orchestration failed: %w", err)
			}
			fmt.Println(strings.TrimSpace(text))
			return nil
		},
	}

	cmd.Flags().StringVar(&plot, "plot", "", "overall plot summary")
	cmd.Flags().StringVar(&chapterTitle, "chapter-title", "Untitled Chapter", "chapter title")
	cmd.Flags().StringVar(&genre, "genre", "literary fiction", "genre")
	cmd.Flags().StringVar(&voice, "voice", "", "narrative voice")
	cmd.Flags().StringSliceVar(&authorPalette, "author", nil, "author voice(s) for the roster")
	cmd.Flags().IntVar(&wordTarget, "words", 500, "word target for the drafted passage")
	cmd.Flags().IntVar(&agentCount, "agents", 3, "roster size")

	return cmd
}
