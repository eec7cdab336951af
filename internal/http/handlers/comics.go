package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"comicforge/internal/domain"
	"comicforge/internal/pipeline"
	"comicforge/pkg/zip"
)

type submitRequest struct {
	Topic      string   `json:"topic"`
	Style      string   `json:"style"`
	Language   string   `json:"language"`
	AgeGroup   string   `json:"age_group"`
	Objectives []string `json:"objectives"`
	Characters []string `json:"characters"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ComicSubmit accepts a generation request and enqueues it. The response is
// immediate; progress is observed through the status endpoint.
func (a *App) ComicSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "topic required")
		return
	}

	job := &domain.Job{
		ID:      uuid.NewString(),
		OwnerID: a.currentOwnerID(r),
		Params: domain.ComicParams{
			Topic:      req.Topic,
			Style:      req.Style,
			Language:   req.Language,
			AgeGroup:   req.AgeGroup,
			Objectives: req.Objectives,
			Characters: req.Characters,
		},
		Status: domain.JobStatusQueued,
	}
	job.Params.Normalize()

	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Msg("http: enqueue comic failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}

	a.Logger.Info().Str("job_id", job.ID).Str("topic", job.Params.Topic).Msg("http: comic queued")
	a.json(w, http.StatusAccepted, submitResponse{JobID: job.ID, Status: string(job.Status)})
}

// ComicStatus reports the job's lifecycle state and execution point. Error
// details are the persisted summary only; raw provider errors never leave
// the worker.
func (a *App) ComicStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadOwnedJob(w, r)
	if !ok {
		return
	}

	resp := map[string]any{
		"job_id":        job.ID,
		"status":        job.Status,
		"current_stage": job.StageIndex,
		"stage_count":   len(a.StageNames),
		"created_at":    job.CreatedAt,
		"updated_at":    job.UpdatedAt,
	}
	if name := a.stageName(job.StageIndex); name != "" && !job.Status.Terminal() {
		resp["stage"] = name
	}
	if job.ErrorRecord != nil {
		resp["error"] = map[string]any{
			"stage":   a.stageName(job.ErrorRecord.Stage),
			"kind":    job.ErrorRecord.Kind,
			"message": job.ErrorRecord.Message,
		}
	}
	a.json(w, http.StatusOK, resp)
}

// ComicCancel flags the job for cancellation. Queued jobs cancel
// immediately; running jobs stop at the next stage boundary.
func (a *App) ComicCancel(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadOwnedJob(w, r)
	if !ok {
		return
	}
	if err := a.Jobs.RequestCancel(r.Context(), job.ID); err != nil {
		if errors.Is(err, domain.ErrJobTerminal) {
			a.error(w, http.StatusConflict, "conflict", "job already finished")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("http: cancel request failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to request cancellation")
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "cancel_requested": true})
}

// ComicPages lists the rendered pages of a completed job.
func (a *App) ComicPages(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadOwnedJob(w, r)
	if !ok {
		return
	}
	render, ok := a.renderOutput(w, job)
	if !ok {
		return
	}

	items := make([]map[string]any, 0, len(render.Pages))
	for _, p := range render.Pages {
		items = append(items, map[string]any{
			"index":       p.Index,
			"kind":        p.Kind,
			"storage_key": p.StorageKey,
			"mime":        p.MIME,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"job_id": job.ID, "items": items})
}

// ComicArchive streams all rendered pages of a completed job as one zip.
func (a *App) ComicArchive(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadOwnedJob(w, r)
	if !ok {
		return
	}
	render, ok := a.renderOutput(w, job)
	if !ok {
		return
	}

	var assets []zip.Asset
	for _, p := range render.Pages {
		data := loadPageData(a.StoragePath, p.StorageKey)
		if data == nil {
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: fmt.Sprintf("%s-%02d", p.Kind, p.Index),
			MIME:     p.MIME,
			Data:     data,
		})
	}
	archive := zip.ArchiveAssets(assets)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=comic-%s.zip", job.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) loadOwnedJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return nil, false
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return nil, false
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("http: load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return nil, false
	}
	if job.OwnerID != a.currentOwnerID(r) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return nil, false
	}
	return job, true
}

func (a *App) renderOutput(w http.ResponseWriter, job *domain.Job) (*pipeline.RenderOutput, bool) {
	if job.Status != domain.JobStatusCompleted {
		a.error(w, http.StatusConflict, "not_ready", "job has no rendered pages yet")
		return nil, false
	}
	if len(job.StageOutputs) == 0 {
		a.error(w, http.StatusInternalServerError, "internal", "completed job missing outputs")
		return nil, false
	}
	var render pipeline.RenderOutput
	if err := json.Unmarshal(job.StageOutputs[len(job.StageOutputs)-1], &render); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("http: decode render output failed")
		a.error(w, http.StatusInternalServerError, "internal", "completed job output unreadable")
		return nil, false
	}
	return &render, true
}

func loadPageData(basePath, storageKey string) []byte {
	storageKey = strings.TrimSpace(storageKey)
	basePath = strings.TrimSpace(basePath)
	if storageKey == "" || basePath == "" {
		return nil
	}
	path := filepath.Join(basePath, filepath.FromSlash(strings.TrimLeft(storageKey, "/")))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}
