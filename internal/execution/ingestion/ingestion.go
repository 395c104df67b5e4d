// Package ingestion loads raw tabular sources into a dataset.Table.
package ingestion

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

const ipfsScheme = "ipfs://"

// Fetcher retrieves content-addressed files to a local path.
type Fetcher interface {
	RetrieveFile(cid, outputPath string) error
}

// Loader reads one source format.
type Loader interface {
	Load(path string) (*dataset.Table, error)
}

// Ingester dispatches a source path to a Loader by its extension.
type Ingester struct {
	log      zerolog.Logger
	fetcher  Fetcher
	cacheDir string
	loaders  map[string]Loader
}

type Option func(*Ingester)

// WithFetcher enables ipfs://<cid>/<name> sources.
func WithFetcher(f Fetcher, cacheDir string) Option {
	return func(i *Ingester) {
		i.fetcher = f
		i.cacheDir = cacheDir
	}
}

func New(log zerolog.Logger, opts ...Option) *Ingester {
	i := &Ingester{
		log: log.With().Str("component", "ingestion").Logger(),
		loaders: map[string]Loader{
			".csv": CSVLoader{},
			".zip": ZipLoader{},
		},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest loads source into a Table. Unknown extensions fail with
// ErrUnsupportedFormat, read failures with ErrIngestion.
func (i *Ingester) Ingest(ctx context.Context, source string) (*dataset.Table, error) {
	path := source
	if strings.HasPrefix(source, ipfsScheme) {
		local, err := i.fetch(source)
		if err != nil {
			return nil, err
		}
		path = local
	}

	ext := strings.ToLower(filepath.Ext(path))
	loader, ok := i.loaders[ext]
	if !ok {
		return nil, errorutil.Wrapf(errorutil.ErrUnsupportedFormat, "no loader for %q", ext)
	}

	t, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	i.log.Info().
		Str("source", source).
		Int("rows", t.NumRows()).
		Int("columns", t.NumCols()).
		Msg("Data ingested")
	return t, nil
}

func (i *Ingester) fetch(source string) (string, error) {
	rest := strings.TrimPrefix(source, ipfsScheme)
	cid, name, found := strings.Cut(rest, "/")
	if !found || cid == "" || name == "" {
		return "", errorutil.Wrapf(errorutil.ErrIngestion, "ipfs source %q must be ipfs://<cid>/<file>", source)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := i.loaders[ext]; !ok {
		return "", errorutil.Wrapf(errorutil.ErrUnsupportedFormat, "no loader for %q", ext)
	}
	if i.fetcher == nil {
		return "", errorutil.Wrapf(errorutil.ErrIngestion, "no IPFS fetcher configured for %s", source)
	}

	local := filepath.Join(i.cacheDir, cid, filepath.Base(name))
	if _, err := os.Stat(local); err == nil {
		i.log.Debug().Str("path", local).Msg("Using cached IPFS source")
		return local, nil
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", errorutil.ErrIngestion, err)
	}
	if err := i.fetcher.RetrieveFile(cid, local); err != nil {
		return "", fmt.Errorf("%w: %w", errorutil.ErrIngestion, err)
	}
	return local, nil
}

// CSVLoader reads a delimited file with a header row.
type CSVLoader struct{}

func (CSVLoader) Load(path string) (*dataset.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errorutil.ErrIngestion, err)
	}
	defer f.Close()

	t, err := dataset.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", errorutil.ErrIngestion, path, err)
	}
	return t, nil
}

// ZipLoader extracts the first archive member next to the archive and reads it
// as CSV.
type ZipLoader struct{}

func (ZipLoader) Load(path string) (*dataset.Table, error) {
	extracted, err := extractFirst(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errorutil.ErrIngestion, err)
	}
	return CSVLoader{}.Load(extracted)
}

func extractFirst(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	var member *zip.File
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			member = f
			break
		}
	}
	if member == nil {
		return "", fmt.Errorf("archive %s has no members", path)
	}

	// Only the base name is kept so members cannot escape the archive directory.
	target := filepath.Join(filepath.Dir(path), filepath.Base(member.Name))
	src, err := member.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open member %s: %w", member.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("failed to extract %s: %w", member.Name, err)
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return target, nil
}
