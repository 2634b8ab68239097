package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/sarchlab/vmpaging/datarecording"
	"github.com/sarchlab/vmpaging/tracing"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events [recording.sqlite3]",
	Short: "Summarize the paging events of a recording.",
	Long: "`events FILE` counts the recorded events by kind. " +
		"With --pid, it lists the events of one process instead.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		by, _ := cmd.Flags().GetString("by")
		limit, _ := cmd.Flags().GetInt("limit")

		if cmd.Flags().Changed("pid") {
			pid, _ := cmd.Flags().GetUint32("pid")
			return listProcessEvents(cmd.Context(), args[0], pid, limit,
				cmd.OutOrStdout())
		}

		return summarizeEvents(cmd.Context(), args[0], by, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().String("by", "What",
		"Column to group by: What, Component, or PID")
	eventsCmd.Flags().Uint32("pid", 0, "List the events of one process")
	eventsCmd.Flags().Int("limit", 100, "Maximum number of events to list")
}

func openRecording(path string) (datarecording.DataReader, error) {
	reader, err := datarecording.NewReader(path)
	if err != nil {
		return nil, err
	}

	reader.MapTable(tracing.EventTable, tracing.EventRow{})

	return reader, nil
}

func summarizeEvents(
	ctx context.Context,
	path, by string,
	out io.Writer,
) error {
	reader, err := openRecording(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	counts, err := reader.CountBy(ctx, tracing.EventTable, by)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(out, "%s\t%d\n", k, counts[k])
	}

	return nil
}

func listProcessEvents(
	ctx context.Context,
	path string,
	pid uint32,
	limit int,
	out io.Writer,
) error {
	reader, err := openRecording(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	rows, total, err := reader.Query(ctx, tracing.EventTable,
		datarecording.QueryParams{
			Where:   "PID = ?",
			Args:    []any{pid},
			OrderBy: "rowid",
			Limit:   limit,
		})
	if err != nil {
		return err
	}

	for _, r := range rows {
		row := r.(*tracing.EventRow)
		fmt.Fprintf(out, "%s\t%s\tpage %#x\tframe %#x\tslot %d\t%s\n",
			row.Component, row.What, row.VAddr, row.PAddr, row.Slot, row.Detail)
	}

	fmt.Fprintf(out, "%d of %d events\n", len(rows), total)

	return nil
}
