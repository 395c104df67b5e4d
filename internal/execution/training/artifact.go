package training

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

const ArtifactVersion = 1

// Artifact is the on-disk envelope of a fitted classifier.
type Artifact struct {
	Kind         Kind            `json:"kind"`
	Version      int             `json:"version"`
	FeatureNames []string        `json:"feature_names"`
	Classes      []string        `json:"classes"`
	CreatedAt    time.Time       `json:"created_at"`
	Model        json.RawMessage `json:"model"`
}

// SaveArtifact writes c to path as JSON, creating parent directories.
func SaveArtifact(path string, c Classifier, featureNames []string) error {
	if c == nil {
		return errorutil.Wrapf(errorutil.ErrInvalidInput, "nil classifier")
	}
	if len(featureNames) != c.NumFeatures() {
		return errorutil.Wrapf(errorutil.ErrShapeMismatch,
			"model expects %d features but %d names were given", c.NumFeatures(), len(featureNames))
	}
	model, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	data, err := json.Marshal(Artifact{
		Kind:         c.Kind(),
		Version:      ArtifactVersion,
		FeatureNames: featureNames,
		Classes:      c.Classes(),
		CreatedAt:    time.Now().UTC(),
		Model:        model,
	})
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// LoadArtifact reads an artifact written by SaveArtifact and restores its
// classifier.
func LoadArtifact(path string) (Classifier, *Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "malformed artifact %s: %v", path, err)
	}
	if a.Version != ArtifactVersion {
		return nil, nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "unsupported artifact version %d", a.Version)
	}
	model, err := newEstimator(a.Kind)
	if err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(a.Model, model); err != nil {
		return nil, nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "malformed %s model: %v", a.Kind, err)
	}
	if model.NumFeatures() != len(a.FeatureNames) {
		return nil, nil, errorutil.Wrapf(errorutil.ErrShapeMismatch,
			"model expects %d features but artifact names %d", model.NumFeatures(), len(a.FeatureNames))
	}
	return model, &a, nil
}
