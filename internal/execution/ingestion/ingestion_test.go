package ingestion

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

const sample = "Src Port,Protocol,Flow Duration,Label\n" +
	"443,6,1200,0\n" +
	"53,17,30,1\n" +
	"8080,6,,2\n"

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) RetrieveFile(cid, outputPath string) error {
	args := m.Called(cid, outputPath)
	if err := args.Error(0); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte(sample), 0o600)
}

func writeCSV(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	return path
}

func writeZip(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "data.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("data.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestIngestCSV(t *testing.T) {
	path := writeCSV(t, t.TempDir())

	tbl, err := New(zerolog.Nop()).Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.NumRows())
	assert.Equal(t, []string{"Src Port", "Protocol", "Flow Duration", "Label"}, tbl.Names())
	assert.Equal(t, "Label", tbl.LabelName())
}

func TestIngestZipMatchesCSV(t *testing.T) {
	csvTable, err := New(zerolog.Nop()).Ingest(context.Background(), writeCSV(t, t.TempDir()))
	require.NoError(t, err)

	zipDir := t.TempDir()
	zipTable, err := New(zerolog.Nop()).Ingest(context.Background(), writeZip(t, zipDir))
	require.NoError(t, err)

	assert.True(t, csvTable.Equal(zipTable))
	assert.FileExists(t, filepath.Join(zipDir, "data.csv"), "member is extracted next to the archive")
}

func TestIngestErrors(t *testing.T) {
	dir := t.TempDir()
	ing := New(zerolog.Nop())

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := ing.Ingest(context.Background(), filepath.Join(dir, "data.parquet"))
		assert.ErrorIs(t, err, errorutil.ErrUnsupportedFormat)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ing.Ingest(context.Background(), filepath.Join(dir, "absent.csv"))
		assert.ErrorIs(t, err, errorutil.ErrIngestion)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("corrupt archive", func(t *testing.T) {
		path := filepath.Join(dir, "broken.zip")
		require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o600))
		_, err := ing.Ingest(context.Background(), path)
		assert.ErrorIs(t, err, errorutil.ErrIngestion)
	})

	t.Run("ragged csv", func(t *testing.T) {
		path := filepath.Join(dir, "ragged.csv")
		require.NoError(t, os.WriteFile(path, []byte("a,b\n1\n"), 0o600))
		_, err := ing.Ingest(context.Background(), path)
		assert.ErrorIs(t, err, errorutil.ErrIngestion)
		assert.ErrorIs(t, err, errorutil.ErrShapeMismatch)
	})
}

func TestIngestIPFS(t *testing.T) {
	cache := t.TempDir()
	fetcher := new(MockFetcher)
	fetcher.On("RetrieveFile", "bafycid", filepath.Join(cache, "bafycid", "data.csv")).Return(nil).Once()

	ing := New(zerolog.Nop(), WithFetcher(fetcher, cache))
	tbl, err := ing.Ingest(context.Background(), "ipfs://bafycid/data.csv")
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.NumRows())

	// second ingestion is served from the cache
	_, err = ing.Ingest(context.Background(), "ipfs://bafycid/data.csv")
	require.NoError(t, err)
	fetcher.AssertExpectations(t)
}

func TestIngestIPFSFailure(t *testing.T) {
	cache := t.TempDir()
	fetcher := new(MockFetcher)
	fetcher.On("RetrieveFile", "bafycid", mock.Anything).Return(errors.New("node unreachable"))

	_, err := New(zerolog.Nop(), WithFetcher(fetcher, cache)).Ingest(context.Background(), "ipfs://bafycid/data.csv")
	assert.ErrorIs(t, err, errorutil.ErrIngestion)

	_, err = New(zerolog.Nop()).Ingest(context.Background(), "ipfs://bafycid/data.csv")
	assert.ErrorIs(t, err, errorutil.ErrIngestion, "no fetcher configured")

	_, err = New(zerolog.Nop(), WithFetcher(fetcher, cache)).Ingest(context.Background(), "ipfs://bafycid")
	assert.ErrorIs(t, err, errorutil.ErrIngestion)
}
