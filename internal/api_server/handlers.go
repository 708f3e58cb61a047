package apiserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/pusherbot/pusherbot/internal/service"
	"github.com/pusherbot/pusherbot/internal/store/model"
	"github.com/pusherbot/pusherbot/pkg/requestid"
	"go.uber.org/zap"
)

const maxCompletionsLimit = 100

type ErrorResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type StatsResponse struct {
	Open    int64 `json:"open"`
	Claimed int64 `json:"claimed"`
	Total   int64 `json:"total"`
}

type RankingsResponse struct {
	Scoring  service.Scoring   `json:"scoring"`
	Rankings []service.Ranking `json:"rankings"`
}

// (GET /health)
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.board.Statistics(r.Context()); err != nil {
		h.fail(w, r, http.StatusServiceUnavailable, err)
		return
	}
	render.JSON(w, r, HealthResponse{Status: "ok"})
}

// (GET /api/v1/jobs)
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.board.ListActiveJobs(r.Context())
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = model.JobList{}
	}
	render.JSON(w, r, jobs)
}

// (GET /api/v1/jobs/{number})
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil || n <= 0 {
		h.fail(w, r, http.StatusBadRequest, fmt.Errorf("invalid job number %q", chi.URLParam(r, "number")))
		return
	}

	job, err := h.board.GetJob(r.Context(), service.JobByNumber(n))
	if err != nil {
		h.fail(w, r, statusFor(err), err)
		return
	}
	render.JSON(w, r, job)
}

// (GET /api/v1/stats)
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.board.Statistics(r.Context())
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	render.JSON(w, r, StatsResponse{Open: stats.Open, Claimed: stats.Claimed, Total: stats.Total()})
}

// (GET /api/v1/rankings?scoring=points|count)
func (h *Handler) Rankings(w http.ResponseWriter, r *http.Request) {
	scoring := h.cfg.Scoring
	switch q := service.Scoring(r.URL.Query().Get("scoring")); q {
	case "":
	case service.ScoreByCount, service.ScoreByPoints:
		scoring = q
	default:
		h.fail(w, r, http.StatusBadRequest, fmt.Errorf("unknown scoring %q", q))
		return
	}

	eligible, err := h.workers(r)
	if err != nil {
		h.fail(w, r, http.StatusBadGateway, err)
		return
	}

	rankings, err := h.board.WorkerRankings(r.Context(), eligible, scoring)
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	render.JSON(w, r, RankingsResponse{Scoring: scoring, Rankings: rankings})
}

// (GET /api/v1/completions?limit=N)
func (h *Handler) Completions(w http.ResponseWriter, r *http.Request) {
	limit := h.cfg.RecentCompletions
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > maxCompletionsLimit {
			h.fail(w, r, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", maxCompletionsLimit))
			return
		}
		limit = n
	}

	var eligible []string
	if r.URL.Query().Get("all") != "true" {
		workers, err := h.workers(r)
		if err != nil {
			h.fail(w, r, http.StatusBadGateway, err)
			return
		}
		eligible = workers
	}

	records, err := h.board.RecentCompletions(r.Context(), eligible, limit)
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	render.JSON(w, r, records)
}

// (GET /api/v1/permanent-jobs)
func (h *Handler) ListPermanentJobs(w http.ResponseWriter, r *http.Request) {
	catalogue, err := h.permanent.List(r.Context())
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	render.JSON(w, r, catalogue.Texts())
}

// workers returns the ids of the current worker role holders. Without a
// configured role nobody is a worker.
func (h *Handler) workers(r *http.Request) ([]string, error) {
	eligible := []string{}
	if h.cfg.WorkerRoleID == "" {
		return eligible, nil
	}
	members, err := h.gw.QueryRoleMembers(r.Context(), h.cfg.WorkerRoleID)
	if err != nil {
		return nil, fmt.Errorf("listing workers: %w", err)
	}
	for _, m := range members {
		eligible = append(eligible, m.ID)
	}
	return eligible, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		zap.S().Named("api_server").Errorw("request failed", "path", r.URL.Path, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Message: err.Error(), RequestID: requestid.FromRequest(r)})
}

func statusFor(err error) int {
	var (
		notFound     *service.ErrJobNotFound
		invalidInput *service.ErrInvalidInput
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &invalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
