// Package migrations holds the SQL schema of the run history database.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

//go:embed *.sql
var files embed.FS

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Files lists the migration files for dir in execution order. Down
// migrations run newest first.
func Files(dir Direction) ([]string, error) {
	if dir != Up && dir != Down {
		return nil, fmt.Errorf("invalid migration direction %q", dir)
	}
	names, err := fs.Glob(files, "*."+string(dir)+".sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	if dir == Down {
		for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
			names[i], names[j] = names[j], names[i]
		}
	}
	return names, nil
}

// Apply executes every migration for dir, stopping at the first failure.
func Apply(ctx context.Context, db *sqlx.DB, dir Direction, log zerolog.Logger) error {
	names, err := Files(dir)
	if err != nil {
		return err
	}

	for _, name := range names {
		body, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		log.Info().Str("file", strings.TrimSuffix(name, ".sql")).Msgf("Migration (%s) completed successfully", dir)
	}
	return nil
}
