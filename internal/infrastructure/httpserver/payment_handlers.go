package httpserver

import (
	"net/http"

	"github.com/avatarctic/idempotency-engine/internal/core/domain/payment"
	"github.com/labstack/echo/v4"
)

// createPayment processes a payment submission. The idempotency middleware on
// this route guarantees a repeated payload replays the original response
// instead of charging twice.
func (s *Server) createPayment(c echo.Context) error {
	var req payment.CreatePaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	p, err := s.paymentSvc.ProcessPayment(c.Request().Context(), &req)
	if err != nil {
		s.logger.WithError(err).Error("failed to process payment")
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, p)
}
