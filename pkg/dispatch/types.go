package dispatch

import "time"

// PushKeys are the browser-issued encryption keys of a push subscription,
// kept in the base64url form the Push API hands out.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscriptionInput is what a browser sends when it registers.
type PushSubscriptionInput struct {
	Endpoint       string     `json:"endpoint"`
	ExpirationTime *time.Time `json:"expirationTime,omitempty"`
	Keys           PushKeys   `json:"keys"`
}

// PushSubscription is a stored push subscription. (UserID, Endpoint) is unique.
type PushSubscription struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	Endpoint       string     `json:"endpoint"`
	Keys           PushKeys   `json:"keys"`
	ExpirationTime *time.Time `json:"expirationTime,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// FanoutSummary aggregates one push fan-out.
// Sent+Failed == Total and Removed <= Failed.
type FanoutSummary struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Removed int `json:"removed"`
}

// Webhook is a developer-registered webhook endpoint.
//
// HashedSecret is the signing secret issued to the owner: a keyed hash of a
// random or owner-supplied seed, never the seed itself. It is never serialized.
type Webhook struct {
	ID             string     `json:"id"`
	OwnerUserID    string     `json:"ownerUserId"`
	Name           string     `json:"name"`
	Endpoint       string     `json:"endpoint"`
	HashedSecret   string     `json:"-"`
	IsActive       bool       `json:"isActive"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	LastSentAt     *time.Time `json:"lastSentAt,omitempty"`
	LastStatusCode *int       `json:"lastStatusCode,omitempty"`
	LastError      *string    `json:"lastError,omitempty"`
}

// DeliveryStatus is the latest-attempt snapshot written onto a webhook.
type DeliveryStatus struct {
	SentAt     time.Time
	StatusCode *int
	Error      *string
}

// DeliveryResult is the outcome of one delivery attempt.
type DeliveryResult string

const (
	ResultSent   DeliveryResult = "sent"
	ResultFailed DeliveryResult = "failed"
)

// DeliveryOutcome is produced per attempt and never persisted as such.
type DeliveryOutcome struct {
	Target     string         `json:"-"`
	Status     DeliveryResult `json:"status"`
	StatusCode *int           `json:"statusCode,omitempty"`
	Error      *string        `json:"error,omitempty"`
}
