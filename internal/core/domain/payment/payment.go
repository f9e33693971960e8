package payment

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus enumerates the terminal states of a processed payment.
type PaymentStatus string

const (
	StatusSucceeded PaymentStatus = "succeeded"
	StatusDeclined  PaymentStatus = "declined"
)

// Payment is the result of processing one payment request.
type Payment struct {
	ID        uuid.UUID     `json:"id"`
	UserID    string        `json:"user_id"`
	ProductID string        `json:"product_id"`
	Amount    int64         `json:"amount_cents"`
	Currency  string        `json:"currency"`
	Status    PaymentStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// CreatePaymentRequest carries the fields of a payment submission.
type CreatePaymentRequest struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Amount    int64  `json:"amount_cents"`
	Currency  string `json:"currency"`
}
