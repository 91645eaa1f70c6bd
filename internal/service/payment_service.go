package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/checkout/session"

	"github.com/loveaihub/loveaihub/internal/config"
	"github.com/loveaihub/loveaihub/internal/models"
)

// SubscriptionStore is the slice of the user store the webhook needs.
type SubscriptionStore interface {
	SetSubscription(ctx context.Context, userID string, subscription models.SubscriptionType, limit int) error
}

// PaymentStore records payment attempts and their provider outcomes.
type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByProviderCharge(ctx context.Context, provider, chargeID string) (*models.Payment, error)
	UpdateStatus(ctx context.Context, id int64, status, rawPayload string) error
}

// PaymentService wires the Stripe checkout flow: checkout session creation on
// upgrade, webhook handling on completion. Signature verification and the
// checkout UI live with the gateway, not here.
type PaymentService struct {
	cfg      config.Config
	log      *slog.Logger
	users    SubscriptionStore
	payments PaymentStore
}

func NewPaymentService(cfg config.Config, log *slog.Logger, users SubscriptionStore, payments PaymentStore) *PaymentService {
	if cfg.StripeSecretKey != "" {
		stripe.Key = cfg.StripeSecretKey
	}
	return &PaymentService{
		cfg:      cfg,
		log:      log,
		users:    users,
		payments: payments,
	}
}

// Enabled reports whether billing is configured.
func (s *PaymentService) Enabled() bool {
	return s.cfg.StripeSecretKey != ""
}

// CreateCheckout opens a Stripe Checkout Session for the premium plan and
// records the pending payment. Returns the hosted checkout URL.
func (s *PaymentService) CreateCheckout(ctx context.Context, user *models.User) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("%w: billing is not configured", models.ErrValidation)
	}
	if user.SubscriptionType == models.SubscriptionPremium {
		return "", fmt.Errorf("%w: already premium", models.ErrValidation)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(user.ID),
		CustomerEmail:     stripe.String(user.Email),
		SuccessURL:        stripe.String(s.cfg.CheckoutSuccessURL),
		CancelURL:         stripe.String(s.cfg.CheckoutCancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.cfg.StripePremiumPrice),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	record := &models.Payment{
		UserID:         user.ID,
		Provider:       "stripe",
		ProviderCharge: sess.ID,
		Currency:       string(sess.Currency),
		Amount:         sess.AmountTotal,
		Status:         "pending",
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return "", fmt.Errorf("record payment: %w", err)
	}

	return sess.URL, nil
}

// HandleWebhook processes Stripe events. A completed, paid checkout session
// upgrades the user to premium. Replayed events are no-ops.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte) error {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("parse stripe event: %w", err)
	}

	if event.Type != "checkout.session.completed" {
		return nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("parse checkout session: %w", err)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid || sess.Status != stripe.CheckoutSessionStatusComplete {
		return nil
	}
	if sess.ClientReferenceID == "" {
		return fmt.Errorf("checkout session %s has no client reference", sess.ID)
	}

	existing, err := s.payments.FindByProviderCharge(ctx, "stripe", sess.ID)
	if err != nil {
		return fmt.Errorf("find payment: %w", err)
	}
	if existing != nil && existing.Status == "paid" {
		return nil // replayed event
	}

	if err := s.users.SetSubscription(ctx, sess.ClientReferenceID, models.SubscriptionPremium, models.UnlimitedGenerations); err != nil {
		return fmt.Errorf("upgrade subscription: %w", err)
	}

	if existing != nil {
		if err := s.payments.UpdateStatus(ctx, existing.ID, "paid", string(payload)); err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
	} else {
		record := &models.Payment{
			UserID:         sess.ClientReferenceID,
			Provider:       "stripe",
			ProviderCharge: sess.ID,
			Currency:       string(sess.Currency),
			Amount:         sess.AmountTotal,
			Status:         "paid",
			RawPayload:     string(payload),
		}
		if err := s.payments.Create(ctx, record); err != nil {
			return fmt.Errorf("record payment: %w", err)
		}
	}

	s.log.Info("subscription upgraded", "user", sess.ClientReferenceID, "session", sess.ID)
	return nil
}
