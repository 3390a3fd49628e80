package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/genesis-engine/ipgre/internal/chunker"
	"github.com/genesis-engine/ipgre/internal/review"
	"github.com/genesis-engine/ipgre/internal/scheduler"
	"github.com/genesis-engine/ipgre/internal/session"
)

type generateFlags struct {
	plot             string
	chapterTitle     string
	chapterOutline   string
	genre            string
	voice            string
	authorPalette    []string
	wordTarget       int
	qualityThreshold int
	iterative        bool
	concludeStory    bool
	autosavePath     string
	existingFile     string
}

func newGenerateCmd() *cobra.Command {
	f := &generateFlags{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "run one generation session through the Chunk Controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			eng.registerHealthChecks()
			srv := maybeStartObservabilityServer()
			if srv != nil {
				defer srv.Shutdown(context.Background())
			}
			return runGenerate(cmd.Context(), eng, f)
		},
	}

	cmd.Flags().StringVar(&f.plot, "plot", "", "overall plot summary")
	cmd.Flags().StringVar(&f.chapterTitle, "chapter-title", "Untitled Chapter", "chapter title")
	cmd.Flags().StringVar(&f.chapterOutline, "chapter-outline", "", "chapter outline")
	cmd.Flags().StringVar(&f.genre, "genre", "literary fiction", "genre")
	cmd.Flags().StringVar(&f.voice, "voice", "", "narrative voice")
	cmd.Flags().StringSliceVar(&f.authorPalette, "author", nil, "author voice(s) to draw from")
	cmd.Flags().IntVar(&f.wordTarget, "words", 1000, "word target for this session")
	cmd.Flags().IntVar(&f.qualityThreshold, "threshold", 90, "quality threshold (0-100)")
	cmd.Flags().BoolVar(&f.iterative, "iterative", false, "use the 100-word iterative chunk size instead of the 1000-word bulk size")
	cmd.Flags().BoolVar(&f.concludeStory, "conclude", false, "signal this session should conclude the story")
	cmd.Flags().StringVar(&f.autosavePath, "autosave", "", "file path to auto-save the editor content to every 30s (disabled if empty)")
	cmd.Flags().StringVar(&f.existingFile, "existing-content-file", "", "file holding text already written for this chapter, to continue from (disabled if empty)")

	return cmd
}

func runGenerate(ctx context.Context, eng *engine, f *generateFlags) error {
	var existingContent string
	if f.existingFile != "" {
		b, err := os.ReadFile(f.existingFile)
		if err != nil {
			return fmt.Errorf("reading existing content file: %w", err)
		}
		existingContent = string(b)
	}

	req := review.Request{
		Plot:             f.plot,
		ChapterTitle:     f.chapterTitle,
		ChapterOutline:   f.chapterOutline,
		Genre:            f.genre,
		Voice:            f.voice,
		AuthorPalette:    f.authorPalette,
		ExistingContent:  existingContent,
		WordTarget:       f.wordTarget,
		QualityThreshold: f.qualityThreshold,
		ConcludeStory:    f.concludeStory,
	}

	mode := chunker.ModeBulk
	if f.iterative {
		mode = chunker.ModeIterative
	}

	sess := session.New()
	deps := chunker.Deps{
		Provider:   eng.provider,
		Scorer:     eng.scorer,
		ErrorStore: eng.errorStore,
		Editor:     eng.editor,
		Settings:   eng.settings,
		Session:    sess,
	}

	if f.autosavePath != "" {
		saver := scheduler.NewAutoSaver(eng.editor, func(ctx context.Context, content string) error {
			return os.WriteFile(f.autosavePath, []byte(content), 0644)
		})
		if err := saver.Start(ctx); err != nil {
			return fmt.Errorf("starting auto-save scheduler: %w", err)
		}
		defer saver.Stop()
	}

	result, err := chunker.RunSession(ctx, deps, req, mode)
	if err != nil {
		return fmt.Errorf("generation session failed: %w", err)
	}

	fmt.Println(strings.TrimSpace(result.Finalize.FullText))
	fmt.Fprintf(os.Stderr, "\n--- final score %d (weighted avg %d, displayed %d, rescore skipped: %v)\n",
		result.Finalize.FinalScore, result.Finalize.WeightedAvgScore, result.Finalize.DisplayedScore, result.Finalize.RescoreSkipped)

	if result.Cascade.ScheduleNext {
		fmt.Fprintf(os.Stderr, "cascade: next session should target %d words (conclude: %v)\n",
			result.Cascade.NextWordTarget, result.Cascade.ConcludeStory)
	}

	return nil
}
