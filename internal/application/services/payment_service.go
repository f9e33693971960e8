package services

import (
	"context"
	"fmt"
	"time"

	"github.com/avatarctic/idempotency-engine/internal/core/domain/payment"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PaymentService is the demo business service processed through the
// idempotency orchestrator. Each accepted request mints a new payment ID, so
// replay behavior is directly observable: a repeated payload must return the
// same ID.
type PaymentService struct {
	logger *logrus.Logger
}

func NewPaymentService(logger *logrus.Logger) *PaymentService {
	return &PaymentService{logger: logger}
}

// ProcessPayment validates and settles one payment request.
func (s *PaymentService) ProcessPayment(ctx context.Context, req *payment.CreatePaymentRequest) (*payment.Payment, error) {
	if req.UserID == "" || req.ProductID == "" {
		return nil, fmt.Errorf("payment request requires user_id and product_id")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive")
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	p := &payment.Payment{
		ID:        uuid.New(),
		UserID:    req.UserID,
		ProductID: req.ProductID,
		Amount:    req.Amount,
		Currency:  currency,
		Status:    payment.StatusSucceeded,
		CreatedAt: time.Now().UTC(),
	}
	s.logger.WithFields(logrus.Fields{"payment_id": p.ID, "user_id": p.UserID, "amount_cents": p.Amount}).Info("payment processed")
	return p, nil
}
