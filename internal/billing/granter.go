package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/photo-restore/internal/credits"
)

// Event types handled by the Granter
const (
	EventSubscriptionCreated = "subscription.created"
	EventSubscriptionUpdated = "subscription.updated"
)

// Related entity types of subscription grants
const (
	EntitySubscriptionCreate = "SUBSCRIPTION_CREATE"
	EntitySubscriptionCycle  = "SUBSCRIPTION_CYCLE"
)

const (
	createReason  = "Subscription credits"
	renewalReason = "Subscription renewal credits"
)

// Event is a billing provider event. Delivery is at least once and possibly out of order.
type Event struct {
	ID   string       `json:"id"`
	Type string       `json:"type"`
	Data Subscription `json:"data"`
}

// Subscription is the subscription state carried by an event. Period starts are unix seconds;
// PreviousPeriodStart is only set on updates that changed the billing period.
type Subscription struct {
	SubscriptionID      string `json:"subscriptionId"`
	UserID              string `json:"userId"`
	ProductID           string `json:"productId"`
	Status              string `json:"status"`
	CurrentPeriodStart  *int64 `json:"currentPeriodStart,omitempty"`
	PreviousPeriodStart *int64 `json:"previousPeriodStart,omitempty"`
}

// Plan maps provider product ids to a credit allotment
type Plan struct {
	ID         string   `yaml:"id"`
	Credits    int64    `yaml:"credits"`
	ProductIDs []string `yaml:"product_ids"`
}

// Outcome describes what HandleEvent did with an event
type Outcome string

const (
	OutcomeGranted   Outcome = "granted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Ledger is the part of the credit ledger used for provider-driven grants
type Ledger interface {
	GrantIfNotGranted(ctx context.Context, p credits.GrantParams) (bool, error)
}

// Granter turns subscription lifecycle events into idempotent credit grants
type Granter struct {
	ledger Ledger
	plans  map[string]Plan
	logger *slog.Logger
}

// NewGranter creates a new Granter. Plans are indexed by product id.
func NewGranter(ledger Ledger, plans []Plan, logger *slog.Logger) *Granter {
	byProduct := make(map[string]Plan)
	for _, p := range plans {
		for _, productID := range p.ProductIDs {
			byProduct[productID] = p
		}
	}
	return &Granter{
		ledger: ledger,
		plans:  byProduct,
		logger: logger,
	}
}

// HandleEvent grants the plan's credits for new subscriptions and for each new billing period
func (g *Granter) HandleEvent(ctx context.Context, e Event) (Outcome, error) {
	logger := g.logger.With(
		slog.String("event_id", e.ID),
		slog.String("event_type", e.Type),
		slog.String("subscription_id", e.Data.SubscriptionID),
	)

	switch e.Type {
	case EventSubscriptionCreated:
		return g.handleCreated(ctx, logger, e)
	case EventSubscriptionUpdated:
		return g.handleUpdated(ctx, logger, e)
	default:
		logger.Debug("Unhandled billing event")
		return OutcomeIgnored, nil
	}
}

func (g *Granter) handleCreated(ctx context.Context, logger *slog.Logger, e Event) (Outcome, error) {
	s := e.Data
	if s.Status != "active" && s.Status != "trialing" {
		logger.Warn("Subscription not active for credits", slog.String("status", s.Status))
		return OutcomeIgnored, nil
	}

	plan, ok := g.eligible(logger, s)
	if !ok {
		return OutcomeIgnored, nil
	}

	return g.grant(ctx, logger, credits.GrantParams{
		UserID:            s.UserID,
		Amount:            plan.Credits,
		Reason:            createReason,
		RelatedEntityID:   s.SubscriptionID,
		RelatedEntityType: EntitySubscriptionCreate,
		Metadata: map[string]any{
			"planId":    plan.ID,
			"productId": s.ProductID,
			"eventId":   e.ID,
		},
	})
}

func (g *Granter) handleUpdated(ctx context.Context, logger *slog.Logger, e Event) (Outcome, error) {
	s := e.Data
	if s.CurrentPeriodStart == nil || s.PreviousPeriodStart == nil || *s.CurrentPeriodStart == *s.PreviousPeriodStart {
		return OutcomeIgnored, nil
	}
	if s.Status != "active" {
		logger.Debug("Renewal of inactive subscription ignored", slog.String("status", s.Status))
		return OutcomeIgnored, nil
	}

	plan, ok := g.eligible(logger, s)
	if !ok {
		return OutcomeIgnored, nil
	}

	return g.grant(ctx, logger, credits.GrantParams{
		UserID:            s.UserID,
		Amount:            plan.Credits,
		Reason:            renewalReason,
		RelatedEntityID:   fmt.Sprintf("%s:%d", s.SubscriptionID, *s.CurrentPeriodStart),
		RelatedEntityType: EntitySubscriptionCycle,
		Metadata: map[string]any{
			"planId":             plan.ID,
			"productId":          s.ProductID,
			"subscriptionId":     s.SubscriptionID,
			"currentPeriodStart": *s.CurrentPeriodStart,
			"eventId":            e.ID,
		},
	})
}

func (g *Granter) eligible(logger *slog.Logger, s Subscription) (Plan, bool) {
	if s.SubscriptionID == "" {
		logger.Warn("Missing subscription id for subscription credits")
		return Plan{}, false
	}
	if s.UserID == "" {
		logger.Warn("Missing user id for subscription credits")
		return Plan{}, false
	}
	plan, ok := g.plans[s.ProductID]
	if !ok {
		logger.Warn("No plan matched subscription product", slog.String("product_id", s.ProductID))
		return Plan{}, false
	}
	return plan, true
}

func (g *Granter) grant(ctx context.Context, logger *slog.Logger, p credits.GrantParams) (Outcome, error) {
	granted, err := g.ledger.GrantIfNotGranted(ctx, p)
	if err != nil {
		return "", fmt.Errorf("failed to grant subscription credits: %w", err)
	}
	if !granted {
		logger.Info("Subscription credits already granted",
			slog.String("related_entity_id", p.RelatedEntityID),
			slog.String("related_entity_type", p.RelatedEntityType),
		)
		return OutcomeDuplicate, nil
	}

	logger.Info("Subscription credits granted",
		slog.String("user_id", p.UserID),
		slog.Int64("amount", p.Amount),
		slog.String("related_entity_id", p.RelatedEntityID),
		slog.String("related_entity_type", p.RelatedEntityType),
	)
	return OutcomeGranted, nil
}
