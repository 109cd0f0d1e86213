package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vidora/vidora/internal/billing"
	"github.com/vidora/vidora/internal/db"
	"github.com/vidora/vidora/internal/jobs"
	"github.com/vidora/vidora/internal/models"
	"github.com/vidora/vidora/internal/queue"
	"github.com/vidora/vidora/internal/services"
)

// Machine-readable error codes. Clients branch on these (e.g. to show an
// upgrade prompt) without parsing the message text.
const (
	CodeInsufficientCredits = "insufficient_credits"
	CodeLimitReached        = "limit_reached"
	CodePlanRequired        = "plan_required"
)

type Handler struct {
	db         *db.DB
	queue      *queue.Queue
	reconciler *jobs.Reconciler
	heygen     *services.HeyGenService
	veo        services.VideoGenerator
	flux       *services.FluxService
	replicate  *services.ReplicateService
	openai     *services.OpenAIService
	catalog    *services.CatalogCache
	billing    *billing.Service
	validate   *validator.Validate
}

func NewHandler(
	database *db.DB,
	q *queue.Queue,
	reconciler *jobs.Reconciler,
	heygenSvc *services.HeyGenService,
	veoSvc services.VideoGenerator,
	fluxSvc *services.FluxService,
	replicateSvc *services.ReplicateService,
	openaiSvc *services.OpenAIService,
	catalog *services.CatalogCache,
	billingSvc *billing.Service,
) *Handler {
	return &Handler{
		db:         database,
		queue:      q,
		reconciler: reconciler,
		heygen:     heygenSvc,
		veo:        veoSvc,
		flux:       fluxSvc,
		replicate:  replicateSvc,
		openai:     openaiSvc,
		catalog:    catalog,
		billing:    billingSvc,
		validate:   validator.New(),
	}
}

// currentUser resolves the authenticated user, creating the local record and
// granting the signup bonus on first touch.
func (h *Handler) currentUser(r *http.Request) (*models.User, error) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		return nil, errors.New("no authenticated user in context")
	}

	user, err := h.db.GetUser(r.Context(), userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	user = &models.User{
		ID:    userID,
		Email: emailFromContext(r.Context()),
		Plan:  models.PlanFree,
	}
	if err := h.db.UpsertUser(r.Context(), user); err != nil {
		return nil, err
	}
	if err := h.db.GrantSignupBonus(r.Context(), userID); err != nil {
		// Idempotent — retried on the user's next request.
		return nil, err
	}

	return user, nil
}

// checkJobQuota enforces the plan's monthly job allowance.
func (h *Handler) checkJobQuota(r *http.Request, user *models.User) (bool, error) {
	count, err := h.db.CountJobsThisMonth(r.Context(), user.ID)
	if err != nil {
		return false, err
	}
	return count < user.Plan.MonthlyJobLimit(), nil
}

// CreateVideo handles POST /v1/videos. The kind field selects the provider:
// stock avatar, user-uploaded custom avatar, or prompt-driven text-to-video.
func (h *Handler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req models.CreateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Model == "" {
		req.Model = models.VideoModelStandard
	}
	if req.DurationSec == 0 {
		req.DurationSec = 8
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	user, err := h.currentUser(r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to resolve user")
		return
	}

	// Kind-specific validation before anything is charged.
	switch req.Kind {
	case models.JobKindAvatarVideo:
		if req.Script == "" || req.AvatarID == "" || req.VoiceID == "" {
			respondError(w, http.StatusBadRequest, "script, avatar_id and voice_id are required for avatar videos")
			return
		}
	case models.JobKindCustomAvatarVideo:
		if req.Script == "" || req.AvatarID == "" || req.VoiceID == "" {
			respondError(w, http.StatusBadRequest, "script, avatar_id and voice_id are required for custom avatar videos")
			return
		}
		if !user.Plan.AllowsCustomAvatar() {
			respondErrorCode(w, http.StatusForbidden, "Custom avatars require a Pro plan", CodePlanRequired)
			return
		}
	case models.JobKindPromptVideo:
		if req.Prompt == "" {
			respondError(w, http.StatusBadRequest, "prompt is required for prompt videos")
			return
		}
	default:
		respondError(w, http.StatusBadRequest, "Invalid video kind")
		return
	}

	withinQuota, err := h.checkJobQuota(r, user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to check quota")
		return
	}
	if !withinQuota {
		respondErrorCode(w, http.StatusForbidden, "Monthly generation limit reached for your plan", CodeLimitReached)
		return
	}

	cost := models.VideoCost(req.Model, req.DurationSec)
	jobID := uuid.New()

	// Debit first: the charge must be durably recorded before the provider
	// call is dispatched.
	ok, remaining, err := h.db.ConsumeCredits(r.Context(), user.ID, cost, models.ResourceVideo, jobID, "video generation ("+string(req.Kind)+")")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to charge credits")
		return
	}
	if !ok {
		respondErrorCode(w, http.StatusForbidden, "Insufficient credits", CodeInsufficientCredits)
		return
	}

	var handle string
	switch req.Kind {
	case models.JobKindAvatarVideo:
		handle, err = h.heygen.StartAvatarVideo(r.Context(), req.Script, req.AvatarID, req.VoiceID)
	case models.JobKindCustomAvatarVideo:
		handle, err = h.heygen.StartCustomAvatarVideo(r.Context(), req.Script, req.AvatarID, req.VoiceID)
	case models.JobKindPromptVideo:
		handle, err = h.veo.StartVideo(r.Context(), req.Prompt, req.Model, req.DurationSec, "")
	}
	if err != nil {
		h.refundAfterStartFailure(r, user.ID, cost, models.ResourceVideo, jobID, err)
		h.respondProviderError(w, err)
		return
	}

	h.finishJobCreation(w, r, user.ID, req.Kind, handle, cost, remaining, jobID)
}

// ExtendVideo handles POST /v1/videos/{id}/extend. Only completed video jobs
// owned by the caller can be extended.
func (h *Handler) ExtendVideo(w http.ResponseWriter, r *http.Request) {
	sourceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	var req models.ExtendVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	user, err := h.currentUser(r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to resolve user")
		return
	}

	source, err := h.db.GetJobForUser(r.Context(), sourceID, user.ID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}
	if source.Status != models.JobStatusCompleted || source.OutputURL == nil {
		respondError(w, http.StatusBadRequest, "Only completed videos can be extended")
		return
	}
	switch source.Kind {
	case models.JobKindAvatarVideo, models.JobKindCustomAvatarVideo,
		models.JobKindPromptVideo, models.JobKindVideoExtension:
		// extendable
	default:
		respondError(w, http.StatusBadRequest, "Only video jobs can be extended")
		return
	}

	withinQuota, err := h.checkJobQuota(r, user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to check quota")
		return
	}
	if !withinQuota {
		respondErrorCode(w, http.StatusForbidden, "Monthly generation limit reached for your plan", CodeLimitReached)
		return
	}

	cost := models.VideoCost(models.VideoModelStandard, req.AddSeconds)
	jobID := uuid.New()

	ok, remaining, err := h.db.ConsumeCredits(r.Context(), user.ID, cost, models.ResourceVideo, jobID, "video extension")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to charge credits")
		return
	}
	if !ok {
		respondErrorCode(w, http.StatusForbidden, "Insufficient credits", CodeInsufficientCredits)
		return
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = "Continue the scene naturally, preserving the style, subject and motion of the source video."
	}

	handle, err := h.veo.StartExtension(r.Context(), prompt, *source.OutputURL, models.VideoModelStandard, req.AddSeconds)
	if err != nil {
		h.refundAfterStartFailure(r, user.ID, cost, models.ResourceVideo, jobID, err)
		h.respondProviderError(w, err)
		return
	}

	h.finishJobCreation(w, r, user.ID, models.JobKindVideoExtension, handle, cost, remaining, jobID)
}

// CreateImage handles POST /v1/images.
func (h *Handler) CreateImage(w http.ResponseWriter, r *http.Request) {
	var req models.CreateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	user, err := h.currentUser(r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to resolve user")
		return
	}

	withinQuota, err := h.checkJobQuota(r, user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to check quota")
		return
	}
	if !withinQuota {
		respondErrorCode(w, http.StatusForbidden, "Monthly generation limit reached for your plan", CodeLimitReached)
		return
	}

	jobID := uuid.New()
	ok, remaining, err := h.db.ConsumeCredits(r.Context(), user.ID, models.CreditCostImage, models.ResourceImage, jobID, "image generation")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to charge credits")
		return
	}
	if !ok {
		respondErrorCode(w, http.StatusForbidden, "Insufficient credits", CodeInsufficientCredits)
		return
	}

	handle, err := h.flux.StartImage(r.Context(), req.Prompt, req.AspectRatio)
	if err != nil {
		h.refundAfterStartFailure(r, user.ID, models.CreditCostImage, models.ResourceImage, jobID, err)
		h.respondProviderError(w, err)
		return
	}

	h.finishJobCreation(w, r, user.ID, models.JobKindImage, handle, models.CreditCostImage, remaining, jobID)
}

// CreateMusic handles POST /v1/music.
func (h *Handler) CreateMusic(w http.ResponseWriter, r *http.Request) {
	var req models.CreateMusicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DurationSec == 0 {
		req.DurationSec = 30
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	user, err := h.currentUser(r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to resolve user")
		return
	}

	withinQuota, err := h.checkJobQuota(r, user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to check quota")
		return
	}
	if !withinQuota {
		respondErrorCode(w, http.StatusForbidden, "Monthly generation limit reached for your plan", CodeLimitReached)
		return
	}

	jobID := uuid.New()
	ok, remaining, err := h.db.ConsumeCredits(r.Context(), user.ID, models.CreditCostMusic, models.ResourceMusic, jobID, "music generation")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to charge credits")
		return
	}
	if !ok {
		respondErrorCode(w, http.StatusForbidden, "Insufficient credits", CodeInsufficientCredits)
		return
	}

	handle, err := h.replicate.StartMusic(r.Context(), req.Prompt, req.DurationSec)
	if err != nil {
		h.refundAfterStartFailure(r, user.ID, models.CreditCostMusic, models.ResourceMusic, jobID, err)
		h.respondProviderError(w, err)
		return
	}

	h.finishJobCreation(w, r, user.ID, models.JobKindMusic, handle, models.CreditCostMusic, remaining, jobID)
}

// finishJobCreation persists the job row and hands it to the background
// worker. The debit already happened; a failure here refunds it.
func (h *Handler) finishJobCreation(w http.ResponseWriter, r *http.Request, userID uuid.UUID, kind models.JobKind, handle string, cost, remaining int, jobID uuid.UUID) {
	job := &models.GenerationJob{
		ID:             jobID,
		UserID:         userID,
		Kind:           kind,
		Status:         models.JobStatusPending,
		ProviderHandle: handle,
		CostCredits:    cost,
	}

	if err := h.db.CreateJob(r.Context(), job); err != nil {
		log.Printf("[API] Failed to persist job %s after provider dispatch (handle=%s): %v", jobID, handle, err)
		h.refundAfterStartFailure(r, userID, cost, resourceTypeForKind(kind), jobID, err)
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	if err := h.queue.EnqueueReconcileJob(r.Context(), jobID); err != nil {
		// Client polling still drives the job; the worker just won't help.
		log.Printf("[API] Failed to enqueue reconcile task for job %s: %v", jobID, err)
	}

	respondJSON(w, http.StatusAccepted, models.CreateJobResponse{
		JobID:            jobID,
		Status:           job.Status,
		CostCredits:      cost,
		RemainingCredits: remaining,
	})
}

// refundAfterStartFailure reverses a debit whose billable action never
// launched. Best-effort: a refund failure is logged, never surfaced — the
// original provider error is what the user sees.
func (h *Handler) refundAfterStartFailure(r *http.Request, userID uuid.UUID, amount int, resourceType models.ResourceType, resourceID uuid.UUID, cause error) {
	if err := h.db.RefundCredits(r.Context(), userID, amount, resourceType, resourceID, "refund: provider dispatch failed"); err != nil {
		log.Printf("[API] WARNING: refund of %d credits for %s failed: %v (original error: %v)", amount, resourceID, err, cause)
	}
}

func resourceTypeForKind(kind models.JobKind) models.ResourceType {
	switch kind {
	case models.JobKindImage:
		return models.ResourceImage
	case models.JobKindMusic:
		return models.ResourceMusic
	default:
		return models.ResourceVideo
	}
}

// GetJob handles GET /v1/jobs/{id}. Polling a job reconciles it against the
// provider; terminal jobs return the stored row without a provider call.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	userID, _ := userIDFromContext(r.Context())
	if _, err := h.db.GetJobForUser(r.Context(), jobID, userID); err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	job, err := h.reconciler.CheckStatus(r.Context(), jobID)
	if err != nil {
		h.respondProviderError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /v1/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	limit, offset := parsePagination(r, 20, 100)

	total, err := h.db.CountJobs(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count jobs")
		return
	}

	jobList, err := h.db.ListJobs(r.Context(), userID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobList == nil {
		jobList = []models.GenerationJob{}
	}

	respondJSON(w, http.StatusOK, models.ListJobsResponse{
		Jobs:   jobList,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// CancelJob handles POST /v1/jobs/{id}/cancel.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	userID, _ := userIDFromContext(r.Context())
	if _, err := h.db.GetJobForUser(r.Context(), jobID, userID); err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	job, err := h.reconciler.Cancel(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, db.ErrJobTerminal) {
			respondError(w, http.StatusBadRequest, "Job already finished")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to cancel job")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// respondProviderError maps service errors onto the HTTP error envelope.
// Upstream quota errors become a 429 with a friendlier message instead of a
// bare 500.
func (h *Handler) respondProviderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, "The generation service is busy right now. Please try again in a moment.")
	case errors.Is(err, db.ErrNotFound):
		respondError(w, http.StatusNotFound, "Resource not found")
	default:
		log.Printf("[API] Internal error: %v", err)
		respondError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
	}
}

func parsePagination(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondErrorCode(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, map[string]string{"error": message, "code": code})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
