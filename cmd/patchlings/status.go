package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the workspace world state",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := engineOptions()
		if err != nil {
			return err
		}

		eng, unlock, err := buildEngine(opts)
		if err != nil {
			return err
		}
		defer unlock()

		w := eng.World()

		headerStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("99")).
			Bold(true).
			Padding(0, 1)
		cellStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "workspace %s — %d events, %d chapters, %d dropped, %d duplicates\n",
			w.WorkspaceID, w.Counters.Events, w.Counters.Chapters,
			w.Counters.DroppedLowValueEvents, w.Counters.DuplicateEvents)

		if len(w.Runs) == 0 {
			fmt.Fprintln(out, "no runs yet")
			return nil
		}

		runIDs := make([]string, 0, len(w.Runs))
		for id := range w.Runs {
			runIDs = append(runIDs, id)
		}
		sort.Strings(runIDs)

		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			}).
			Headers("Run", "Events", "Chapters", "Tools", "Files", "Errors", "Peak/s")

		for _, id := range runIDs {
			run := w.Runs[id]
			t.Row(
				id,
				fmt.Sprintf("%d", run.EventCount),
				fmt.Sprintf("%d", run.ChapterCount),
				fmt.Sprintf("%d", run.ToolInvocations),
				fmt.Sprintf("%d", run.FileTouches),
				fmt.Sprintf("%d", run.Errors),
				fmt.Sprintf("%d", run.PeakEventsPerSec),
			)
		}

		fmt.Fprintln(out, t.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
