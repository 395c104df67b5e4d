// Package ipfs fetches content-addressed dataset files from an IPFS node.
package ipfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/rs/zerolog"
)

// DefaultAPIEndpoint is the local Kubo RPC address.
const DefaultAPIEndpoint = "localhost:5001"

type Config struct {
	APIEndpoint string
}

// Service reads files from one node. The node is not contacted until the
// first retrieval.
type Service struct {
	shell *shell.Shell
	log   zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Service {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = DefaultAPIEndpoint
	}
	return &Service{
		shell: shell.NewShell(cfg.APIEndpoint),
		log:   log.With().Str("component", "ipfs").Str("endpoint", cfg.APIEndpoint).Logger(),
	}
}

// RetrieveFile downloads cid to outputPath. The content is streamed to a
// temporary file in the same directory and renamed into place, so an
// interrupted download never leaves a partial file at outputPath.
func (s *Service) RetrieveFile(cid, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(outputPath)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := s.copy(cid, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), outputPath); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", cid, err)
	}

	s.log.Info().Str("cid", cid).Str("path", outputPath).Int64("bytes", n).Msg("Dataset retrieved")
	return nil
}

// RetrieveToWriter streams cid into w.
func (s *Service) RetrieveToWriter(cid string, w io.Writer) error {
	_, err := s.copy(cid, w)
	return err
}

func (s *Service) copy(cid string, w io.Writer) (int64, error) {
	r, err := s.shell.Cat(cid)
	if err != nil {
		return 0, fmt.Errorf("failed to retrieve %s from IPFS: %w", cid, err)
	}
	defer r.Close()

	n, err := io.Copy(w, r)
	if err != nil {
		return n, fmt.Errorf("failed to read %s from IPFS stream: %w", cid, err)
	}
	return n, nil
}
