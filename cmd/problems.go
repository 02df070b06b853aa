package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/tutorium/internal/problembank"
)

var problemsCmd = &cobra.Command{
	Use:   "problems",
	Short: "Manage the problem bank",
}

var problemsImportCmd = &cobra.Command{
	Use:   "import <sheet.json>",
	Short: "Import a problem sheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		sheet, err := problembank.New(s.ProblemSheets(), nil).Upload(cmd.Context(), raw)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %q (%s, %s): %d problems, id %s\n",
			sheet.Title, sheet.Topic, sheet.Difficulty, len(sheet.Problems), sheet.ID)
		return nil
	},
}

var problemsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List problem sheets",
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		difficulty, _ := cmd.Flags().GetString("difficulty")
		if difficulty != "" {
			d, ok := problembank.NormalizeDifficulty(difficulty)
			if !ok {
				return fmt.Errorf("unknown difficulty %q", difficulty)
			}
			difficulty = d
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		sheets, err := problembank.New(s.ProblemSheets(), nil).List(cmd.Context(), topic, difficulty, 0)
		if err != nil {
			return err
		}
		if len(sheets) == 0 {
			fmt.Println("No problem sheets found.")
			return nil
		}

		fmt.Printf("%-36s  %-24s  %-20s  %-6s  %s\n", "ID", "Title", "Topic", "Level", "Problems")
		fmt.Println(strings.Repeat("─", 100))
		for _, sh := range sheets {
			fmt.Printf("%-36s  %-24s  %-20s  %-6s  %d\n",
				sh.ID, truncate(sh.Title, 24), truncate(sh.Topic, 20), sh.Difficulty, len(sh.Problems))
		}
		return nil
	},
}

func init() {
	problemsListCmd.Flags().String("topic", "", "Filter by topic (substring match)")
	problemsListCmd.Flags().String("difficulty", "", "Filter by difficulty (easy, medium, hard)")

	problemsCmd.AddCommand(problemsImportCmd)
	problemsCmd.AddCommand(problemsListCmd)
}
