package ports

import (
	"context"

	"github.com/avatarctic/idempotency-engine/internal/core/domain/payment"
)

// PaymentService processes payment submissions. It is the demo business
// surface wrapped by the idempotency orchestrator.
type PaymentService interface {
	ProcessPayment(ctx context.Context, req *payment.CreatePaymentRequest) (*payment.Payment, error)
}
