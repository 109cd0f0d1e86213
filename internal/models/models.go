package models

import (
	"time"

	"github.com/google/uuid"
)

// Enums

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

type JobKind string

const (
	JobKindAvatarVideo       JobKind = "avatar_video"
	JobKindPromptVideo       JobKind = "prompt_video"
	JobKindCustomAvatarVideo JobKind = "custom_avatar_video"
	JobKindVideoExtension    JobKind = "video_extension"
	JobKindImage             JobKind = "image"
	JobKindMusic             JobKind = "music"
)

// Valid reports whether k is a known job kind. Every handler boundary that
// dispatches on kind goes through an explicit switch; this is the matching guard.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindAvatarVideo, JobKindPromptVideo, JobKindCustomAvatarVideo,
		JobKindVideoExtension, JobKindImage, JobKindMusic:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether a job in this status is done for good.
// Terminal jobs are never polled against the provider and never mutated again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type TransactionType string

const (
	TransactionConsumption TransactionType = "consumption"
	TransactionRefund      TransactionType = "refund"
	TransactionGrant       TransactionType = "grant"
)

type ResourceType string

const (
	ResourceVideo       ResourceType = "video"
	ResourceImage       ResourceType = "image"
	ResourceMusic       ResourceType = "music"
	ResourceTranslation ResourceType = "translation"
	ResourceBilling     ResourceType = "billing"
	ResourceSignup      ResourceType = "signup"
)

// Video model tiers — pricing is per second of requested output.
type VideoModel string

const (
	VideoModelStandard VideoModel = "standard"
	VideoModelFast     VideoModel = "fast"
)

// Credit pricing. Costs are integers; the balance is an integer count.
const (
	CreditCostPerSecondStandard = 2 // 8s standard video = 16 credits
	CreditCostPerSecondFast     = 1
	CreditCostImage             = 2
	CreditCostMusic             = 5
	CreditCostTranslation       = 1 // per paid target language
	SignupBonusCredits          = 20
)

// VideoCost returns the credit cost for a video of the given model and duration.
func VideoCost(model VideoModel, durationSec int) int {
	if model == VideoModelFast {
		return CreditCostPerSecondFast * durationSec
	}
	return CreditCostPerSecondStandard * durationSec
}

// JobTimeout is the wall-clock ceiling for a generation job. It is checked
// lazily on the next status poll — a job older than this is force-failed and
// refunded on the next observed check, not by a background timer.
const JobTimeout = 15 * time.Minute

// Models

type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName *string   `json:"display_name,omitempty"`
	Plan        Plan      `json:"plan"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MonthlyJobLimit returns the number of generation jobs the plan allows per
// calendar month. Enterprise is effectively unmetered.
func (p Plan) MonthlyJobLimit() int {
	switch p {
	case PlanPro:
		return 200
	case PlanEnterprise:
		return 10000
	default:
		return 10
	}
}

// AllowsCustomAvatar reports whether the plan includes custom avatar videos.
func (p Plan) AllowsCustomAvatar() bool {
	return p == PlanPro || p == PlanEnterprise
}

type CreditBalance struct {
	UserID    uuid.UUID `json:"user_id"`
	Balance   int       `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreditTransaction is an append-only ledger entry. The sum of a user's
// transaction amounts always equals their current balance.
type CreditTransaction struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Amount       int             `json:"amount"` // signed: negative for consumption
	BalanceAfter int             `json:"balance_after"`
	Type         TransactionType `json:"type"`
	ResourceType ResourceType    `json:"resource_type"`
	ResourceID   uuid.UUID       `json:"resource_id"`
	Description  string          `json:"description"`
	CreatedAt    time.Time       `json:"created_at"`
}

// GenerationJob is one billable asynchronous generation operation.
// Created only after its debit succeeded and the provider call was dispatched.
// The job id doubles as the ledger resource id for its debit and refund.
type GenerationJob struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	Kind           JobKind   `json:"kind"`
	Status         JobStatus `json:"status"`
	ProviderHandle string    `json:"provider_handle"`
	CostCredits    int       `json:"cost_credits"`
	OutputURL      *string   `json:"output_url,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	RefundIssued   bool      `json:"refund_issued"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TimedOut reports whether the job has exceeded its wall-clock ceiling.
func (j *GenerationJob) TimedOut(now time.Time) bool {
	return !j.Status.Terminal() && now.Sub(j.CreatedAt) > JobTimeout
}

// DTOs for API requests and responses

type CreateVideoRequest struct {
	Kind        JobKind    `json:"kind" validate:"required"`
	Script      string     `json:"script" validate:"omitempty,max=4000"`
	Prompt      string     `json:"prompt" validate:"omitempty,max=2000"`
	AvatarID    string     `json:"avatar_id" validate:"omitempty,max=128"`
	VoiceID     string     `json:"voice_id" validate:"omitempty,max=128"`
	Model       VideoModel `json:"model" validate:"omitempty,oneof=standard fast"`
	DurationSec int        `json:"duration_sec" validate:"omitempty,min=1,max=60"`
}

type ExtendVideoRequest struct {
	AddSeconds int    `json:"add_seconds" validate:"required,min=1,max=30"`
	Prompt     string `json:"prompt" validate:"omitempty,max=2000"`
}

type CreateImageRequest struct {
	Prompt      string `json:"prompt" validate:"required,max=2000"`
	AspectRatio string `json:"aspect_ratio" validate:"omitempty,oneof=1:1 16:9 9:16 4:5"`
}

type CreateMusicRequest struct {
	Prompt      string `json:"prompt" validate:"required,max=1000"`
	DurationSec int    `json:"duration_sec" validate:"omitempty,min=5,max=120"`
}

type GenerateScriptRequest struct {
	Topic       string `json:"topic" validate:"required,max=500"`
	Tone        string `json:"tone" validate:"omitempty,max=100"`
	DurationSec int    `json:"duration_sec" validate:"omitempty,min=10,max=300"`
}

type GenerateScriptResponse struct {
	Script string `json:"script"`
}

type TranslateRequest struct {
	Script    string   `json:"script" validate:"required,max=8000"`
	Languages []string `json:"languages" validate:"required,min=1,max=20,dive,len=2"`
}

type TranslateResponse struct {
	Translations map[string]string `json:"translations"`
	Errors       map[string]string `json:"errors,omitempty"`
	CreditsUsed  int               `json:"credits_used"`
}

type CreateJobResponse struct {
	JobID            uuid.UUID `json:"job_id"`
	Status           JobStatus `json:"status"`
	CostCredits      int       `json:"cost_credits"`
	RemainingCredits int       `json:"remaining_credits"`
}

type BalanceResponse struct {
	Balance int `json:"balance"`
}

type TransactionHistoryResponse struct {
	Transactions []CreditTransaction `json:"transactions"`
	Total        int                 `json:"total"`
	Limit        int                 `json:"limit"`
	Offset       int                 `json:"offset"`
}

type ListJobsResponse struct {
	Jobs   []GenerationJob `json:"jobs"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}
