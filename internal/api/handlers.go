// Package api serves the HTTP interface: queued batch runs, synchronous
// thumbnail rendering and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/timkrebs/image-shrink/internal/database"
	"github.com/timkrebs/image-shrink/internal/geometry"
	"github.com/timkrebs/image-shrink/internal/models"
	"github.com/timkrebs/image-shrink/internal/pixbuf"
	"github.com/timkrebs/image-shrink/internal/processor"
	"github.com/timkrebs/image-shrink/internal/storage"
)

// RunStore persists runs
type RunStore interface {
	Create(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error)
	List(ctx context.Context, page, pageSize int) ([]*models.Run, int, error)
	MarkQueued(ctx context.Context, id uuid.UUID) error
}

// RunQueue hands runs to the workers
type RunQueue interface {
	Enqueue(ctx context.Context, msg *models.RunMessage) error
	GetStats(ctx context.Context, consumerGroup string) (*models.QueueStats, error)
}

// FileLinker issues download links for mirrored run files
type FileLinker interface {
	GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// HealthChecker is a dependency that can report its health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handlers holds all HTTP handlers
type Handlers struct {
	runs      RunStore
	queue     RunQueue
	files     FileLinker
	processor *processor.Processor
	checks    map[string]HealthChecker
	logger    *slog.Logger
	defaults  processor.Spec
	groupName string
	quality   int
}

// NewHandlers creates a new handlers instance. defaults and quality apply to
// thumbnail requests that leave parameters out.
func NewHandlers(
	runs RunStore,
	queue RunQueue,
	files FileLinker,
	proc *processor.Processor,
	defaults processor.Spec,
	quality int,
	groupName string,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		runs:      runs,
		queue:     queue,
		files:     files,
		processor: proc,
		checks:    map[string]HealthChecker{},
		logger:    logger,
		defaults:  defaults,
		groupName: groupName,
		quality:   quality,
	}
}

// AddHealthCheck registers a dependency reported by the health endpoint
func (h *Handlers) AddHealthCheck(name string, c HealthChecker) {
	h.checks[name] = c
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// CreateRun handles POST /api/v1/runs
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run := models.NewRun(req.Kind, req.SourceDir, req.DestDir)
	if err := h.runs.Create(ctx, run); err != nil {
		h.logger.Error("failed to create run", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	msg := &models.RunMessage{
		RunID:     run.ID,
		Kind:      run.Kind,
		SourceDir: run.SourceDir,
		DestDir:   run.DestDir,
	}
	if err := h.queue.Enqueue(ctx, msg); err != nil {
		h.logger.Error("failed to enqueue run", "run_id", run.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to queue run")
		return
	}

	if err := h.runs.MarkQueued(ctx, run.ID); err != nil {
		h.logger.Error("failed to update run status", "run_id", run.ID, "error", err)
	} else {
		run.Status = models.RunStatusQueued
	}

	h.logger.Info("run created", "run_id", run.ID, "kind", run.Kind)
	h.writeJSON(w, http.StatusCreated, run)
}

// getRun loads the run named by the {id} URL parameter, writing the error
// response itself when that fails.
func (h *Handlers) getRun(w http.ResponseWriter, r *http.Request) (*models.Run, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid run ID")
		return nil, false
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run")
		return nil, false
	}
	return run, true
}

// GetRun handles GET /api/v1/runs/{id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	if run, ok := h.getRun(w, r); ok {
		h.writeJSON(w, http.StatusOK, run)
	}
}

// ListRuns handles GET /api/v1/runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	runs, total, err := h.runs.List(r.Context(), page, pageSize)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}

	h.writeJSON(w, http.StatusOK, models.RunListResponse{
		Runs:       runs,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	})
}

// GetRunFile handles GET /api/v1/runs/{id}/files/{name} by redirecting to a
// short-lived link for the mirrored thumbnail.
func (h *Handlers) GetRunFile(w http.ResponseWriter, r *http.Request) {
	run, ok := h.getRun(w, r)
	if !ok {
		return
	}
	if run.Kind != models.RunKindProcess || run.Status != models.RunStatusCompleted {
		h.writeError(w, http.StatusNotFound, "run has no mirrored files")
		return
	}
	if h.files == nil {
		h.writeError(w, http.StatusServiceUnavailable, "file storage not configured")
		return
	}

	name := path.Base(chi.URLParam(r, "name"))
	url, err := h.files.GetPresignedURL(r.Context(), storage.RunObjectKey(run.ID, name), 15*time.Minute)
	if err != nil {
		h.logger.Error("failed to create file link", "run_id", run.ID, "file", name, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create file link")
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// CreateThumbnail handles POST /api/v1/thumbnails. The source is either a
// multipart "image" file or a "url" form value; width, height, strategy,
// background, edge, format and quality override the configured defaults.
func (h *Handlers) CreateThumbnail(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.writeError(w, http.StatusBadRequest, "failed to parse form: "+err.Error())
		return
	}

	spec, err := h.thumbnailSpec(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pattern, err := h.loadOptionalPart(r, "pattern")
	if err != nil {
		h.writeProcessingError(w, err)
		return
	}
	if pattern != nil {
		defer pattern.Release()
		spec.Pattern = pattern
	}

	watermark, err := h.loadOptionalPart(r, "watermark")
	if err != nil {
		h.writeProcessingError(w, err)
		return
	}
	if watermark != nil {
		defer watermark.Release()
		spec.Watermark = watermark
	}

	src, name, err := h.loadSource(r)
	if err != nil {
		h.writeProcessingError(w, err)
		return
	}
	defer src.Release()

	format, err := h.outputFormat(r, name)
	if err != nil {
		h.writeProcessingError(w, err)
		return
	}

	result, err := h.processor.Render(src, format, spec)
	if err != nil {
		h.writeProcessingError(w, err)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Header().Set("X-Thumbnail-Width", strconv.Itoa(result.Width))
	w.Header().Set("X-Thumbnail-Height", strconv.Itoa(result.Height))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		h.logger.Error("failed to write thumbnail", "error", err)
	}
}

// loadSource decodes the uploaded file or fetches the url form value. The
// returned name picks the default output format.
func (h *Handlers) loadSource(r *http.Request) (*pixbuf.Buffer, string, error) {
	file, header, err := r.FormFile("image")
	if err == nil {
		defer file.Close()
		src, err := h.processor.Loader().LoadReader(file)
		return src, header.Filename, err
	}

	url := r.FormValue("url")
	if url == "" {
		return nil, "", fmt.Errorf("%w: image file or url is required", models.ErrInvalidArgument)
	}
	if !processor.IsURL(url) {
		return nil, "", fmt.Errorf("%w: url must be http or https", models.ErrInvalidArgument)
	}
	src, err := h.processor.Loader().LoadURL(r.Context(), url)
	return src, path.Base(url), err
}

// loadOptionalPart decodes the multipart file field if the request has one.
func (h *Handlers) loadOptionalPart(r *http.Request, field string) (*pixbuf.Buffer, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, nil
	}
	defer file.Close()

	buf, err := h.processor.Loader().LoadReader(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return buf, nil
}

func (h *Handlers) thumbnailSpec(r *http.Request) (processor.Spec, error) {
	spec := h.defaults

	if v := r.FormValue("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return spec, errors.New("invalid width")
		}
		spec.Width = n
	}
	if v := r.FormValue("height"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return spec, errors.New("invalid height")
		}
		spec.Height = n
	}
	if v := r.FormValue("strategy"); v != "" {
		s, err := geometry.ParseStrategy(v)
		if err != nil {
			return spec, err
		}
		spec.Strategy = s
	}
	if v := r.FormValue("background"); v != "" {
		c, err := processor.ParseHexColor(v)
		if err != nil {
			return spec, err
		}
		spec.Background = c
	}
	if v := r.FormValue("edge"); v != "" {
		e, err := processor.ParseEdgeMode(v)
		if err != nil {
			return spec, err
		}
		spec.Edge = e
	}
	return spec, spec.Validate()
}

// outputFormat honours the format form value, falling back to the source
// name's extension and finally to JPEG.
func (h *Handlers) outputFormat(r *http.Request, name string) (processor.Format, error) {
	quality := h.quality
	if v := r.FormValue("quality"); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil {
			return processor.Format{}, fmt.Errorf("%w: invalid quality %q", models.ErrInvalidArgument, v)
		}
		quality = q
	}

	if v := r.FormValue("format"); v != "" {
		return processor.FormatFromExtension(v, quality)
	}
	if format, err := processor.FormatFromPath(name, quality); err == nil {
		return format, nil
	}
	return processor.FormatFromExtension("jpg", quality)
}

func (h *Handlers) writeProcessingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidArgument), errors.Is(err, models.ErrUnsupportedFormat):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrDecodeFailure):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrIOFailure):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("failed to render thumbnail", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to render thumbnail")
	}
}

// GetQueueStats handles GET /api/v1/stats/queue
func (h *Handlers) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.GetStats(r.Context(), h.groupName)
	if err != nil {
		h.logger.Error("failed to get queue stats", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	checks := make(map[string]interface{})

	for name, c := range h.checks {
		if err := c.Health(ctx); err != nil {
			status = "unhealthy"
			checks[name] = map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			}
			continue
		}
		checks[name] = map[string]string{"status": "healthy"}
	}

	// Redis is checked through the queue
	if _, err := h.queue.GetStats(ctx, h.groupName); err != nil {
		status = "unhealthy"
		checks["redis"] = map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		}
	} else {
		checks["redis"] = map[string]string{"status": "healthy"}
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	h.writeJSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}
