package models

import "time"

type SubscriptionType string

const (
	SubscriptionFree    SubscriptionType = "free"
	SubscriptionPremium SubscriptionType = "premium"
)

// UnlimitedGenerations is the generations_limit sentinel for premium accounts.
const UnlimitedGenerations = -1

type User struct {
	ID               string           `json:"id"`
	Email            string           `json:"email"`
	IsAdmin          bool             `json:"is_admin"`
	SubscriptionType SubscriptionType `json:"subscription_type"`
	GenerationsUsed  int              `json:"generations_used"`
	GenerationsLimit int              `json:"generations_limit"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Unlimited reports whether quota enforcement applies to the user at all.
func (u *User) Unlimited() bool {
	return u.SubscriptionType == SubscriptionPremium || u.GenerationsLimit < 0
}

// Remaining returns the number of generations left before the limit.
// Undefined for unlimited accounts; callers must check Unlimited first.
func (u *User) Remaining() int {
	if u.Unlimited() {
		return 0
	}
	remaining := u.GenerationsLimit - u.GenerationsUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

type Payment struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"user_id"`
	Provider       string    `json:"provider"`
	ProviderCharge string    `json:"provider_charge_id"`
	Currency       string    `json:"currency"`
	Amount         int64     `json:"amount"`
	Status         string    `json:"status"`
	RawPayload     string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
