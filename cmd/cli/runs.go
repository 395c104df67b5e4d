package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/theblitlabs/misuse-detection/internal/storage/repositories"
)

// ListRuns prints the most recent pipeline runs.
func ListRuns(ctx context.Context, app *App, limit int, out io.Writer) error {
	db, err := app.OpenDatabase(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("database.url is not configured")
	}
	defer db.Close()

	runs, err := repositories.NewRunRepository(db).ListRecent(ctx, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tSTATUS\tSCORE\tROWS\tSTARTED\tDURATION")
	for _, r := range runs {
		score := "-"
		if r.Score != nil {
			score = fmt.Sprintf("%.4f", *r.Score)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Model, r.Status, score, r.Rows,
			r.StartedAt.Local().Format(time.DateTime), r.Duration().Round(time.Millisecond))
	}
	return w.Flush()
}
