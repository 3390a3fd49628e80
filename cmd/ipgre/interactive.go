package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/genesis-engine/ipgre/internal/chunker"
	"github.com/genesis-engine/ipgre/internal/review"
	"github.com/genesis-engine/ipgre/internal/session"
)

// newInteractiveCmd runs a small liner-backed REPL over a single generation
// session: each "write <n>" command runs one iterative-mode generation
// session toward an n-word target, "show" prints the editor's current
// content, "quit" exits.
func newInteractiveCmd() *cobra.Command {
	var (
		chapterTitle string
		genre        string
		threshold    int
	)

	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "drive a generation session from an interactive prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
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

			return runREPL(cmd.Context(), deps, chapterTitle, genre, threshold)
		},
	}

	cmd.Flags().StringVar(&chapterTitle, "chapter-title", "Untitled Chapter", "chapter title")
	cmd.Flags().StringVar(&genre, "genre", "literary fiction", "genre")
	cmd.Flags().IntVar(&threshold, "threshold", 90, "quality threshold (0-100)")

	return cmd
}

func runREPL(ctx context.Context, deps chunker.Deps, chapterTitle, genre string, threshold int) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println(`ipgre interactive session. Commands: write <words>, show, quit`)

	for {
		input, err := line.Prompt("ipgre> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line.AppendHistory(input)

		fields := strings.Fields(strings.TrimSpace(input))
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return nil

		case "show":
			content, _ := deps.Editor.GetContent(ctx)
			fmt.Println(content)

		case "write":
			words := 500
			if len(fields) > 1 {
				if n, err := strconv.Atoi(fields[1]); err == nil {
					words = n
				}
			}
			req := review.Request{
				ChapterTitle:     chapterTitle,
				Genre:            genre,
				WordTarget:       words,
				QualityThreshold: threshold,
			}
			result, err := chunker.RunSession(ctx, deps, req, chunker.ModeIterative)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("session finished: score %d\n", result.Finalize.FinalScore)

		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}
