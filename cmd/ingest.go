package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/docindex"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest a lecture-note file and embed its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		title, _ := cmd.Flags().GetString("title")
		if topic == "" {
			return fmt.Errorf("--topic is required")
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		a, log, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer log.Sync()
		defer a.Close()

		res, err := a.Index.Ingest(cmd.Context(), docindex.Upload{
			Filename: filepath.Base(args[0]),
			Data:     data,
			Topic:    topic,
			Title:    title,
		})
		if err != nil {
			return err
		}
		embedded, err := a.Index.EmbedPending(cmd.Context())
		if err != nil {
			log.Warn("embedding incomplete; run `tutorium embed` to retry", zap.Error(err))
		}
		fmt.Printf("Document %s: %d chunks, %d embedded\n", res.DocumentID, len(res.ChunkIDs), embedded)
		return nil
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed every chunk that has no vector yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, log, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer log.Sync()
		defer a.Close()

		n, err := a.Index.EmbedPending(cmd.Context())
		fmt.Printf("Embedded %d chunks\n", n)
		return err
	},
}

func init() {
	ingestCmd.Flags().StringP("topic", "t", "", "Topic the notes belong to")
	ingestCmd.Flags().String("title", "", "Document title (defaults to the file name)")
}
