package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/theblitlabs/misuse-detection/internal/models"
	"github.com/theblitlabs/misuse-detection/internal/storage/repositories"
)

// RunLister reads the pipeline run history.
type RunLister interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Run, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Run, error)
}

type RunHandler struct {
	log  zerolog.Logger
	runs RunLister
}

func NewRunHandler(log zerolog.Logger, runs RunLister) *RunHandler {
	return &RunHandler{log: log.With().Str("component", "runs").Logger(), runs: runs}
}

func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		h.log.Error().Err(err).Str("run_id", id.String()).Msg("Failed to get run")
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
