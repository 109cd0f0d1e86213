package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/vidora/vidora/internal/db"
	"github.com/vidora/vidora/internal/models"
)

// Subscription lifecycle events delivered by the payments platform.
const (
	EventCheckoutCompleted   = "checkout.completed"
	EventSubscriptionUpdated = "subscription.updated"
	EventSubscriptionDeleted = "subscription.deleted"
)

var (
	ErrBadSignature = errors.New("invalid webhook signature")
	ErrUnknownEvent = errors.New("unknown event type")
)

// Event is the signed webhook payload. The platform redelivers events until
// acknowledged, so handling must be idempotent per event id.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		UserID  uuid.UUID   `json:"user_id"`
		Plan    models.Plan `json:"plan,omitempty"`
		Credits int         `json:"credits,omitempty"`
	} `json:"data"`
}

type Service struct {
	db            *db.DB
	webhookSecret string
}

func New(database *db.DB, webhookSecret string) *Service {
	return &Service{
		db:            database,
		webhookSecret: webhookSecret,
	}
}

// VerifySignature checks the hex-encoded HMAC-SHA256 of the raw payload.
func (s *Service) VerifySignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HandleEvent applies one verified webhook event. Redeliveries of an already
// processed event are acknowledged without side effects.
func (s *Service) HandleEvent(ctx context.Context, payload []byte) error {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to parse event: %w", err)
	}
	if event.ID == "" || event.Data.UserID == uuid.Nil {
		return fmt.Errorf("event missing id or user_id")
	}

	// Deterministic resource id per event id — the dedup key for grants.
	resourceID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(event.ID))

	switch event.Type {
	case EventCheckoutCompleted:
		return s.grantOnce(ctx, event, resourceID, fmt.Sprintf("credit pack purchase (%s)", event.ID))

	case EventSubscriptionUpdated:
		if err := s.db.UpdateUserPlan(ctx, event.Data.UserID, event.Data.Plan); err != nil {
			return fmt.Errorf("failed to update plan: %w", err)
		}
		if event.Data.Credits > 0 {
			return s.grantOnce(ctx, event, resourceID, fmt.Sprintf("plan renewal grant (%s)", event.ID))
		}
		return nil

	case EventSubscriptionDeleted:
		if err := s.db.UpdateUserPlan(ctx, event.Data.UserID, models.PlanFree); err != nil {
			return fmt.Errorf("failed to downgrade plan: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event.Type)
	}
}

func (s *Service) grantOnce(ctx context.Context, event Event, resourceID uuid.UUID, description string) error {
	if event.Data.Credits <= 0 {
		return fmt.Errorf("event %s has no credits to grant", event.ID)
	}

	balance, err := s.db.GrantCredits(ctx, event.Data.UserID, event.Data.Credits, resourceID, description)
	if errors.Is(err, db.ErrAlreadyGranted) {
		log.Printf("[Billing] Event %s already processed, skipping", event.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}

	log.Printf("[Billing] Granted %d credits to %s (balance now %d)", event.Data.Credits, event.Data.UserID, balance)
	return nil
}
