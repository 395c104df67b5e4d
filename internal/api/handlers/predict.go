package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/theblitlabs/misuse-detection/internal/api/middleware"
	"github.com/theblitlabs/misuse-detection/internal/execution/training"
	"github.com/theblitlabs/misuse-detection/internal/featurestore"
	"github.com/theblitlabs/misuse-detection/internal/metrics"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

const WelcomeMessage = "Welcome to the Misuse Detection API!"

type PredictionRequest struct {
	Features []float64 `json:"features"`
}

type PredictionResponse struct {
	Prediction string `json:"prediction"`
}

// FeatureLookup resolves the online feature vector of an entity.
type FeatureLookup func(ctx context.Context, id string) ([]float64, error)

// OnlineLookup reads entity features from an online feature store.
func OnlineLookup(store featurestore.OnlineStore, def featurestore.Definition) FeatureLookup {
	return func(ctx context.Context, id string) ([]float64, error) {
		return featurestore.OnlineFeatures(ctx, store, def, id)
	}
}

// PredictHandler serves one loaded model. The model is never mutated, so
// requests share it without locking.
type PredictHandler struct {
	log      zerolog.Logger
	model    training.Classifier
	recorder metrics.Recorder
	lookup   FeatureLookup
}

func NewPredictHandler(log zerolog.Logger, model training.Classifier, recorder metrics.Recorder, lookup FeatureLookup) *PredictHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &PredictHandler{
		log:      log.With().Str("component", "predict").Logger(),
		model:    model,
		recorder: recorder,
		lookup:   lookup,
	}
}

func (h *PredictHandler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": WelcomeMessage})
}

func (h *PredictHandler) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recorder.PredictionServed("bad_request", time.Since(start))
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.respond(w, r, req.Features, start)
}

// PredictEntity predicts from the features stored online for {id}.
func (h *PredictHandler) PredictEntity(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := mux.Vars(r)["id"]
	if h.lookup == nil {
		writeError(w, http.StatusNotFound, "Online features are not configured")
		return
	}

	features, err := h.lookup(r.Context(), id)
	if err != nil {
		if errors.Is(err, featurestore.ErrFeaturesNotFound) {
			h.recorder.PredictionServed("not_found", time.Since(start))
			writeError(w, http.StatusNotFound, "Entity not found")
			return
		}
		h.recorder.PredictionServed("error", time.Since(start))
		h.log.Error().Err(err).Str("entity", id).Str("request_id", middleware.RequestID(r.Context())).Msg("Feature lookup failed")
		writeError(w, http.StatusInternalServerError, "Feature lookup failed")
		return
	}
	h.respond(w, r, features, start)
}

func (h *PredictHandler) respond(w http.ResponseWriter, r *http.Request, features []float64, start time.Time) {
	label, err := h.model.PredictOne(features)
	if err != nil {
		if errors.Is(err, errorutil.ErrShapeMismatch) || errors.Is(err, errorutil.ErrInvalidInput) {
			h.recorder.PredictionServed("bad_request", time.Since(start))
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.recorder.PredictionServed("error", time.Since(start))
		h.log.Error().Err(err).Str("request_id", middleware.RequestID(r.Context())).Msg("Prediction failed")
		writeError(w, http.StatusInternalServerError, "Prediction failed")
		return
	}

	h.recorder.PredictionServed("ok", time.Since(start))
	writeJSON(w, http.StatusOK, PredictionResponse{Prediction: label})
}
