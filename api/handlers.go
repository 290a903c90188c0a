// Package api implements the HTTP API of the backup compliance service.
//
// All endpoints except /health are versioned under /api/v1 and require an
// API key. Ingest endpoints accept the job inventory and the status updates
// posted by backup scripts; query endpoints delegate to the service engine
// and return JSON.
package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/health"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/report"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/service"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/sla"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/store"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/models"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// defaultIntervalDays is the trend bucket width when none is given.
const defaultIntervalDays = 7

// Handler holds the collaborators behind the HTTP API.
type Handler struct {
	engine    *service.Engine
	writer    store.Writer
	registry  *sla.Registry
	health    *health.Checker
	startTime time.Time
	now       func() time.Time
}

// NewHandler creates a Handler. health may be nil.
func NewHandler(engine *service.Engine, writer store.Writer, registry *sla.Registry, checker *health.Checker) *Handler {
	return &Handler{
		engine:    engine,
		writer:    writer,
		registry:  registry,
		health:    checker,
		startTime: time.Now().UTC(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// APIKeyAuth requires the configured key in the X-API-Key header or as a
// Bearer token.
func APIKeyAuth(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing API key. Provide X-API-Key header or Authorization: Bearer <key>.",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid API key.",
			})
			return
		}
		c.Next()
	}
}

// RegisterRoutes sets up all API routes. Routes under /api/v1 run the given
// middleware first.
func (h *Handler) RegisterRoutes(r *gin.Engine, mw ...gin.HandlerFunc) {
	// Service health endpoint (unauthenticated)
	r.GET("/health", h.ServiceHealth)

	v1 := r.Group("/api/v1")
	v1.Use(mw...)
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", h.SaveJob)
			jobs.POST("/:id/copies", h.SaveCopy)
			jobs.POST("/:id/executions", h.RecordExecution)
			jobs.GET("/:id/compliance", h.GetCompliance)
			jobs.GET("/:id/sla", h.GetJobSLA)
			jobs.GET("/:id/trend", h.GetTrend)
		}

		v1.POST("/compliance/check", h.CheckAll)
		v1.GET("/reports/global", h.GetGlobalStats)

		slaGroup := v1.Group("/sla")
		{
			slaGroup.GET("", h.ListSLA)
			slaGroup.GET("/targets", h.ListTargets)
			slaGroup.POST("/targets", h.RegisterTarget)
			slaGroup.GET("/targets/:id", h.GetTarget)
			slaGroup.DELETE("/targets/:id", h.DeleteTarget)
		}
	}
}

// ServiceHealth reports service and dependency health. It responds 503 when
// a critical dependency is down.
func (h *Handler) ServiceHealth(c *gin.Context) {
	body := gin.H{
		"status":  health.StatusHealthy,
		"service": "custodian",
		"version": Version,
		"uptime":  time.Since(h.startTime).String(),
	}
	code := http.StatusOK

	if h.health != nil {
		summary := h.health.Run(c.Request.Context())
		body["status"] = summary.Status
		body["checks"] = summary.Checks
		if summary.Status == health.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, body)
}

// --- Ingest Handlers ---

type jobRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Active        *bool  `json:"active"`
	RetentionDays int    `json:"retention_days"`
}

// SaveJob creates or updates a backup job.
func (h *Handler) SaveJob(c *gin.Context) {
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	job := models.Job{
		ID:            req.ID,
		Name:          strings.TrimSpace(req.Name),
		Active:        true,
		RetentionDays: req.RetentionDays,
		CreatedAt:     h.now(),
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if req.Active != nil {
		job.Active = *req.Active
	}
	if job.RetentionDays <= 0 {
		job.RetentionDays = 30
	}

	if err := h.writer.SaveJob(c.Request.Context(), &job); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

type copyRequest struct {
	ID             string     `json:"id"`
	Role           string     `json:"role"`
	MediaType      string     `json:"media_type"`
	StoragePath    string     `json:"storage_path"`
	LastBackupDate *time.Time `json:"last_backup_date"`
	LastBackupSize *int64     `json:"last_backup_size"`
	Status         string     `json:"status"`
}

// SaveCopy creates or updates a copy of a job. Role and media type may be
// left empty; such copies are reported as malformed during evaluation.
func (h *Handler) SaveCopy(c *gin.Context) {
	var req copyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	cp := models.BackupCopy{
		ID:             req.ID,
		JobID:          c.Param("id"),
		Role:           models.CopyRole(req.Role),
		MediaType:      models.MediaType(req.MediaType),
		StoragePath:    req.StoragePath,
		LastBackupDate: req.LastBackupDate,
		LastBackupSize: req.LastBackupSize,
		Status:         models.CopyStatus(req.Status),
	}
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Status == "" {
		cp.Status = models.CopyStatusUnknown
	}
	if cp.Role != "" && !cp.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role: " + req.Role})
		return
	}
	if cp.MediaType != "" && !cp.MediaType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown media_type: " + req.MediaType})
		return
	}
	if !cp.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + req.Status})
		return
	}

	if err := h.writer.SaveCopy(c.Request.Context(), &cp); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cp)
}

type executionRequest struct {
	ID              string     `json:"id"`
	CopyID          string     `json:"copy_id"`
	ExecutedAt      *time.Time `json:"executed_at"`
	Result          string     `json:"result"`
	DurationSeconds *int       `json:"duration_seconds"`
	SizeBytes       *int64     `json:"size_bytes"`
	ErrorMessage    string     `json:"error_message"`
}

// RecordExecution records a status update posted by a backup script.
func (h *Handler) RecordExecution(c *gin.Context) {
	var req executionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	exec := models.Execution{
		ID:              req.ID,
		JobID:           c.Param("id"),
		CopyID:          req.CopyID,
		Result:          models.ExecutionResult(req.Result),
		DurationSeconds: req.DurationSeconds,
		SizeBytes:       req.SizeBytes,
		ErrorMessage:    req.ErrorMessage,
	}
	if !exec.Result.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "result must be one of success, failed, warning"})
		return
	}
	if exec.DurationSeconds != nil && *exec.DurationSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_seconds must not be negative"})
		return
	}
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if req.ExecutedAt != nil {
		exec.ExecutedAt = req.ExecutedAt.UTC()
	} else {
		exec.ExecutedAt = h.now()
	}

	if err := h.writer.RecordExecution(c.Request.Context(), &exec); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exec)
}

// --- Compliance Handlers ---

// GetCompliance evaluates a job now. With ?cached=true the cached result is
// returned when one exists. Missing jobs yield the unknown result.
func (h *Handler) GetCompliance(c *gin.Context) {
	jobID := c.Param("id")

	if cached, _ := strconv.ParseBool(c.Query("cached")); cached {
		result, ok, err := h.engine.CachedResult(c.Request.Context(), jobID)
		if err == nil && ok {
			c.Header("X-Cache", "HIT")
			c.JSON(http.StatusOK, result)
			return
		}
		c.Header("X-Cache", "MISS")
	}

	c.JSON(http.StatusOK, h.engine.CheckJob(c.Request.Context(), jobID))
}

// CheckAll evaluates every active job.
func (h *Handler) CheckAll(c *gin.Context) {
	results, err := h.engine.CheckAll(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	compliant := 0
	for _, r := range results {
		if r.Compliant {
			compliant++
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results), "compliant": compliant})
}

// --- SLA and Report Handlers ---

// GetJobSLA returns SLA metrics for a job.
func (h *Handler) GetJobSLA(c *gin.Context) {
	days, ok := positiveQuery(c, "days", h.engine.WindowDays(), service.MaxWindowDays)
	if !ok {
		return
	}

	metrics, err := h.engine.JobMetrics(c.Request.Context(), c.Param("id"), days)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// ListSLA returns SLA metrics for every active job.
func (h *Handler) ListSLA(c *gin.Context) {
	days, ok := positiveQuery(c, "days", h.engine.WindowDays(), service.MaxWindowDays)
	if !ok {
		return
	}

	metrics, err := h.engine.AllMetrics(c.Request.Context(), days)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": metrics, "count": len(metrics)})
}

// GetTrend returns a job's success-rate trend.
func (h *Handler) GetTrend(c *gin.Context) {
	days, ok := positiveQuery(c, "days", h.engine.WindowDays(), service.MaxWindowDays)
	if !ok {
		return
	}
	interval, ok := positiveQuery(c, "interval", defaultIntervalDays, service.MaxWindowDays)
	if !ok {
		return
	}

	points, err := h.engine.Trend(c.Request.Context(), c.Param("id"), days, interval)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": c.Param("id"), "points": points, "count": len(points)})
}

// GetGlobalStats returns statistics across all jobs.
func (h *Handler) GetGlobalStats(c *gin.Context) {
	days, ok := positiveQuery(c, "days", h.engine.WindowDays(), service.MaxWindowDays)
	if !ok {
		return
	}

	stats, err := h.engine.GlobalStats(c.Request.Context(), days)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// --- SLA Target Handlers ---

// ListTargets returns every registered SLA target in registration order.
func (h *Handler) ListTargets(c *gin.Context) {
	targets := h.registry.List()
	c.JSON(http.StatusOK, gin.H{"targets": targets, "count": len(targets)})
}

// RegisterTarget adds or replaces an SLA target.
func (h *Handler) RegisterTarget(c *gin.Context) {
	var target models.SLATarget
	if err := c.ShouldBindJSON(&target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if target.ID == "" {
		target.ID = uuid.NewString()
	}

	if err := h.registry.Register(target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stored, _ := h.registry.Get(target.ID)
	c.JSON(http.StatusCreated, stored)
}

// GetTarget returns one SLA target.
func (h *Handler) GetTarget(c *gin.Context) {
	target, ok := h.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sla target not found"})
		return
	}
	c.JSON(http.StatusOK, target)
}

// DeleteTarget removes an SLA target. Removing an unknown target succeeds.
func (h *Handler) DeleteTarget(c *gin.Context) {
	targetID := c.Param("id")
	h.registry.Unregister(targetID)
	c.JSON(http.StatusOK, gin.H{"message": "sla target removed", "id": targetID})
}

// --- helpers ---

// positiveQuery parses an integer query parameter in [1, limit], writing a 400
// response and returning false when it is malformed or out of range.
func positiveQuery(c *gin.Context, name string, def, limit int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 || v > limit {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer between 1 and " + strconv.Itoa(limit)})
		return 0, false
	}
	return v, true
}

// respondError maps engine and store errors onto HTTP responses. Backend
// error text is recorded on the gin context but never returned.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case store.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, report.ErrInvalidRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backing store unavailable"})
}
