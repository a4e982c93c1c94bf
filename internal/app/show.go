package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints the most recently observed deal records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRecentRecords(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no deal records found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Observed (UTC)\tSource\tGame ID\tTitle")
	for _, rec := range records {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			rec.ObservedAt.UTC().Format(time.RFC3339),
			rec.Source,
			rec.GameID,
			rec.Title,
		)
	}
	return writer.Flush()
}

// PruneOnce removes aged deal records and reports how many were deleted.
func (a *App) PruneOnce(ctx context.Context, opts PruneOptions) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	deleted, err := store.PruneRecords(ctx, opts.OlderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "pruned %d record(s) older than %s\n", deleted, opts.OlderThan)
	return nil
}
