package cli

import (
	"context"
	"fmt"

	"github.com/theblitlabs/misuse-detection/internal/storage/migrations"
)

// RunMigrate applies the run history schema, or reverts it when down is set.
func RunMigrate(ctx context.Context, app *App, down bool) error {
	db, err := app.OpenDatabase(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("database.url is not configured")
	}
	defer db.Close()

	dir := migrations.Up
	if down {
		dir = migrations.Down
	}
	return migrations.Apply(ctx, db, dir, app.Log)
}
