package api

import (
	"net/http"

	"github.com/okian/stopodds/internal/domain/model"
)

// TrainHandler handles on-demand training requests.
type TrainHandler struct {
	deps JobQueue
}

// NewTrainHandler creates a new train handler.
func NewTrainHandler(deps JobQueue) *TrainHandler {
	return &TrainHandler{deps: deps}
}

type jobResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// HandleTrain handles POST /api/train requests. The job runs asynchronously;
// a job already holding the training lease makes the new one a no-op.
func (h *TrainHandler) HandleTrain(w http.ResponseWriter, r *http.Request) {
	const op = "api.train"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	job, ok := h.deps.EnqueueJob(r.Context(), model.JobTrain, "api")
	if !ok {
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{Status: "enqueued", JobID: job.ID})
}
