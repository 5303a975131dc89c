// Package api is the HTTP surface of the verifier: job submission, job and
// result reads, domain reputation, and health.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/email-verifier/internal/auth"
	"github.com/ignite/email-verifier/internal/domain"
	"github.com/ignite/email-verifier/internal/pkg/httputil"
	"github.com/ignite/email-verifier/internal/reputation"
	"github.com/ignite/email-verifier/internal/service/verification"
)

// VerificationService is the slice of the verification service the handlers
// consume.
type VerificationService interface {
	CreateJob(ctx context.Context, ownerID, jobName string, emails []string) (*domain.EmailJob, error)
	GetJob(ctx context.Context, jobID string) (*domain.EmailJob, error)
	ListJobs(ctx context.Context, ownerID string, limit, offset int) ([]domain.EmailJob, error)
	Results(ctx context.Context, jobID string, limit, offset int) ([]domain.Verification, error)
	LatestResult(ctx context.Context, email string) (*domain.Verification, error)
	History(ctx context.Context, email string, limit int) ([]domain.HistoryEntry, error)
}

// ReputationSource reads live domain reputation.
type ReputationSource interface {
	Get(ctx context.Context, dom string) (reputation.Reputation, error)
}

// Handlers carries the handler dependencies. db and redis are only pinged
// by the health endpoint and may be nil.
type Handlers struct {
	service    VerificationService
	reputation ReputationSource
	db         *sql.DB
	redis      *redis.Client
	startTime  time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(service VerificationService, rep ReputationSource, db *sql.DB, redisClient *redis.Client) *Handlers {
	return &Handlers{
		service:    service,
		reputation: rep,
		db:         db,
		redis:      redisClient,
		startTime:  time.Now(),
	}
}

// JobRead is the job representation returned by the API.
type JobRead struct {
	JobID     string    `json:"job_id"`
	JobName   string    `json:"job_name,omitempty"`
	Status    string    `json:"status"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func jobRead(j *domain.EmailJob) JobRead {
	return JobRead{
		JobID:     j.JobID,
		JobName:   j.JobName,
		Status:    string(j.Status),
		Total:     j.Total,
		Processed: j.Processed,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// HandleVerify submits a single-address job.
//
//	POST /api/verify {"email": "..."}
func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Email) == "" {
		httputil.BadRequest(w, "email is required")
		return
	}

	job, err := h.service.CreateJob(r.Context(), auth.OwnerFrom(r.Context()), "", []string{body.Email})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.Accepted(w, map[string]string{"job_id": job.JobID})
}

// HandleCreateJob submits a multi-address job.
//
//	POST /api/jobs {"emails": [...], "job_name": "..."}
func (h *Handlers) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Emails  []string `json:"emails"`
		JobName string   `json:"job_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	job, err := h.service.CreateJob(r.Context(), auth.OwnerFrom(r.Context()), body.JobName, body.Emails)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.Accepted(w, jobRead(job))
}

// HandleGetJob returns one job with its progress.
//
//	GET /api/jobs/{jobID}
func (h *Handlers) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.OK(w, jobRead(job))
}

// HandleListJobs returns the caller's jobs, newest first.
//
//	GET /api/jobs?limit=&offset=
func (h *Handlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	jobs, err := h.service.ListJobs(r.Context(), auth.OwnerFrom(r.Context()), limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]JobRead, 0, len(jobs))
	for i := range jobs {
		out = append(out, jobRead(&jobs[i]))
	}
	httputil.OK(w, map[string]interface{}{"jobs": out})
}

// HandleJobResults returns a job's verification rows.
//
//	GET /api/jobs/{jobID}/results?limit=&offset=
func (h *Handlers) HandleJobResults(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	results, err := h.service.Results(r.Context(), chi.URLParam(r, "jobID"), limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if results == nil {
		results = []domain.Verification{}
	}
	httputil.OK(w, map[string]interface{}{"results": results})
}

// HandleLatestResult returns the most recent verification for an address.
//
//	GET /api/results?email=
func (h *Handlers) HandleLatestResult(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		httputil.BadRequest(w, "email query parameter is required")
		return
	}
	v, err := h.service.LatestResult(r.Context(), email)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.OK(w, v)
}

// HandleHistory returns recent cross-job verifications for an address.
//
//	GET /api/history?email=&limit=
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		httputil.BadRequest(w, "email query parameter is required")
		return
	}
	limit, _ := pagination(r)
	entries, err := h.service.History(r.Context(), email, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	httputil.OK(w, map[string]interface{}{"history": entries})
}

// HandleDomainReputation returns the rolling reputation for a domain.
//
//	GET /api/domains/{domain}/reputation
func (h *Handlers) HandleDomainReputation(w http.ResponseWriter, r *http.Request) {
	dom := strings.ToLower(chi.URLParam(r, "domain"))
	rep, err := h.reputation.Get(r.Context(), dom)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rep)
}

// HandleHealth reports component liveness. No auth.
//
//	GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	status := "ok"

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			checks["postgres"] = "down"
			status = "degraded"
		} else {
			checks["postgres"] = "up"
		}
	} else {
		checks["postgres"] = "not_configured"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "down"
			status = "degraded"
		} else {
			checks["redis"] = "up"
		}
	} else {
		checks["redis"] = "not_configured"
	}

	httputil.OK(w, map[string]interface{}{
		"status": status,
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
		"checks": checks,
	})
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verification.ErrJobNotFound):
		httputil.NotFound(w, "job not found")
	case errors.Is(err, verification.ErrResultNotFound):
		httputil.NotFound(w, "no verification found")
	case errors.Is(err, verification.ErrNoEmails):
		httputil.BadRequest(w, "no valid emails in request")
	case errors.Is(err, verification.ErrTooManyEmails):
		httputil.Error(w, http.StatusRequestEntityTooLarge, "too many emails in one job")
	default:
		httputil.InternalError(w, err)
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
