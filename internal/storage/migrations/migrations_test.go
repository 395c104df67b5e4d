package migrations

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles(t *testing.T) {
	up, err := Files(Up)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_create_pipeline_runs.up.sql"}, up)

	down, err := Files(Down)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_create_pipeline_runs.down.sql"}, down)

	_, err = Files("sideways")
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS pipeline_runs")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Apply(context.Background(), sqlx.NewDb(db, "postgres"), Up, zerolog.Nop()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyStopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DROP INDEX")).WillReturnError(errors.New("permission denied"))

	err = Apply(context.Background(), sqlx.NewDb(db, "postgres"), Down, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_create_pipeline_runs.down.sql")
}
