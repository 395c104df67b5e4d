package training

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

func TestArtifactRestoresPredictions(t *testing.T) {
	xTrain, yTrain := blobs(1, 15, 3, -1, 1)
	xTest, _ := blobs(2, 5, 3, -1, 1)
	rows, err := xTest.Matrix()
	require.NoError(t, err)

	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			preds, model, err := New(zerolog.Nop(), nil).Train(context.Background(), kind, xTrain, yTrain, xTest)
			require.NoError(t, err)

			path := filepath.Join(t.TempDir(), "models", "model.json")
			require.NoError(t, SaveArtifact(path, model, xTrain.Names()))

			loaded, meta, err := LoadArtifact(path)
			require.NoError(t, err)
			assert.Equal(t, kind, meta.Kind)
			assert.Equal(t, []string{"PC1", "PC2", "PC3"}, meta.FeatureNames)
			assert.Equal(t, model.Classes(), meta.Classes)
			assert.False(t, meta.CreatedAt.IsZero())

			again, err := loaded.Predict(rows)
			require.NoError(t, err)
			assert.Equal(t, preds, again)
		})
	}
}

func TestSaveArtifactChecksFeatureNames(t *testing.T) {
	x, y := blobs(1, 5, 2, 0, 3)
	_, model, err := New(zerolog.Nop(), nil).Train(context.Background(), KindKNN, x, y, x)
	require.NoError(t, err)

	err = SaveArtifact(filepath.Join(t.TempDir(), "m.json"), model, []string{"PC1"})
	assert.ErrorIs(t, err, errorutil.ErrShapeMismatch)
}

func TestLoadArtifactRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{not json"), 0o644))
	_, _, err := LoadArtifact(garbage)
	assert.ErrorIs(t, err, errorutil.ErrInvalidInput)

	future, err := json.Marshal(Artifact{Kind: KindKNN, Version: ArtifactVersion + 1})
	require.NoError(t, err)
	path := filepath.Join(dir, "future.json")
	require.NoError(t, os.WriteFile(path, future, 0o644))
	_, _, err = LoadArtifact(path)
	assert.ErrorIs(t, err, errorutil.ErrInvalidInput)

	unknown, err := json.Marshal(Artifact{Kind: "perceptron", Version: ArtifactVersion, Model: json.RawMessage("{}")})
	require.NoError(t, err)
	path = filepath.Join(dir, "unknown.json")
	require.NoError(t, os.WriteFile(path, unknown, 0o644))
	_, _, err = LoadArtifact(path)
	assert.ErrorIs(t, err, errorutil.ErrInvalidConfig)

	_, _, err = LoadArtifact(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
