package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/abhisek/tutorium/internal/trajectory"
)

var trajectoriesCmd = &cobra.Command{
	Use:   "trajectories",
	Short: "Inspect and export learning trajectories",
}

var trajectoriesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write trajectories as JSON lines, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		out, _ := cmd.Flags().GetString("out")

		var minReward *float64
		if cmd.Flags().Changed("min-reward") {
			r, _ := cmd.Flags().GetFloat64("min-reward")
			minReward = &r
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		recs, err := trajectory.New(s.Trajectories(), nil, nil).Export(cmd.Context(), minReward, limit)
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if out != "" && out != "-" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			defer f.Close()
			w = f
		}
		bw := bufio.NewWriter(w)
		n, err := trajectory.WriteJSONL(bw, recs)
		if err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		if out != "" && out != "-" {
			fmt.Fprintf(os.Stderr, "Wrote %d trajectories to %s\n", n, out)
		}
		return nil
	},
}

func init() {
	f := trajectoriesExportCmd.Flags()
	f.Float64("min-reward", 0, "Only export trajectories with at least this reward")
	f.IntP("limit", "n", trajectory.DefaultExportLimit, "Maximum number of trajectories")
	f.StringP("out", "o", "", "Output file (default stdout)")

	trajectoriesCmd.AddCommand(trajectoriesExportCmd)
}
