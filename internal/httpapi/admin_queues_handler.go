package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"saas_template/internal/jobs"
	"saas_template/internal/queue"
	"saas_template/internal/utils"
)

const (
	maxJobListing = 100
	maxJobBody    = 64 << 10
)

// handleQueues lists queue summaries, or the jobs of ?queue= filtered by
// ?status= (comma separated)
func (d *Dependencies) handleQueues(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	name := r.URL.Query().Get("queue")
	if name == "" {
		summaries, err := d.Queues.Summaries(r.Context())
		if err != nil {
			adminLogger.Error("Failed to summarize queues", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "Failed to fetch queues")
			return
		}
		utils.RespondWithData(w, http.StatusOK, summaries)
		return
	}

	q, ok := d.lookupQueue(w, name)
	if !ok {
		return
	}

	var statuses []queue.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st, err := queue.ParseStatus(strings.TrimSpace(s))
			if err != nil {
				utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, err.Error())
				return
			}
			statuses = append(statuses, st)
		}
	}

	list, err := q.Jobs(r.Context(), statuses, maxJobListing)
	if err != nil {
		adminLogger.Error("Failed to list jobs", "queue", name, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "Failed to fetch jobs")
		return
	}
	utils.RespondWithData(w, http.StatusOK, list)
}

// handleEnqueue adds a job to ?queue=. test-queue payloads are validated.
func (d *Dependencies) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	name := r.URL.Query().Get("queue")
	if name == "" {
		name = jobs.TestQueueName
	}
	if _, ok := d.lookupQueue(w, name); !ok {
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxJobBody)

	var (
		job *queue.Job
		err error
	)
	if name == jobs.TestQueueName {
		var data jobs.TestJobData
		if decodeErr := json.NewDecoder(body).Decode(&data); decodeErr != nil {
			utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, "Invalid JSON body")
			return
		}
		if validateErr := data.Validate(); validateErr != nil {
			utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, validateErr.Error())
			return
		}
		job, err = jobs.EnqueueTestJob(r.Context(), d.Queues, data)
	} else {
		var payload json.RawMessage
		if decodeErr := json.NewDecoder(body).Decode(&payload); decodeErr != nil {
			utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, "Invalid JSON body")
			return
		}
		q, _ := d.Queues.Get(name)
		job, err = q.Add(r.Context(), name, payload)
	}
	if err != nil {
		adminLogger.Error("Failed to enqueue job", "queue", name, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "Failed to enqueue job")
		return
	}

	adminLogger.Info("Job enqueued", "queue", name, "job_id", job.ID)
	utils.RespondWithData(w, http.StatusCreated, job)
}

// handleRetry moves a failed job back to waiting
func (d *Dependencies) handleRetry(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	q, ok := d.lookupQueue(w, r.URL.Query().Get("queue"))
	if !ok {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, "id is required")
		return
	}

	if err := q.Retry(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, queue.ErrJobNotFound):
			utils.RespondWithError(w, http.StatusNotFound, utils.CodeNotFound, "Job not found")
		case errors.Is(err, queue.ErrInvalidTransition):
			utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, "Only failed jobs can be retried")
		default:
			adminLogger.Error("Failed to retry job", "queue", q.Name(), "job_id", id, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "Failed to retry job")
		}
		return
	}

	job, err := q.Get(r.Context(), id)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "Failed to fetch job")
		return
	}
	utils.RespondWithData(w, http.StatusOK, job)
}

func (d *Dependencies) handlePause(w http.ResponseWriter, r *http.Request) {
	d.setPaused(w, r, true)
}

func (d *Dependencies) handleResume(w http.ResponseWriter, r *http.Request) {
	d.setPaused(w, r, false)
}

func (d *Dependencies) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	q, ok := d.lookupQueue(w, r.URL.Query().Get("queue"))
	if !ok {
		return
	}

	var err error
	if paused {
		err = q.Pause(r.Context())
	} else {
		err = q.Resume(r.Context())
	}
	if err != nil {
		adminLogger.Error("Failed to change queue state", "queue", q.Name(), "paused", paused, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "Failed to update queue")
		return
	}
	utils.RespondWithData(w, http.StatusOK, map[string]interface{}{
		"name":     q.Name(),
		"isPaused": paused,
	})
}

// lookupQueue resolves a queue name or writes 400/404
func (d *Dependencies) lookupQueue(w http.ResponseWriter, name string) (queue.Queue, bool) {
	if name == "" {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeBadRequest, "queue is required")
		return nil, false
	}
	q, err := d.Queues.Get(name)
	if err != nil {
		utils.RespondWithError(w, http.StatusNotFound, utils.CodeNotFound, "Queue not found")
		return nil, false
	}
	return q, true
}
