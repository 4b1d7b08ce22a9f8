package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/coursepay/coursepay/internal/pkg/payments"
	"github.com/coursepay/coursepay/internal/pkg/paytoken"
)

// errorResponse maps the payments error taxonomy onto HTTP statuses and
// stable machine-readable codes. Unknown errors become opaque 500s so
// provider internals never leak to the buyer.
func errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := "internal_error"
	message := "Something went wrong"

	var decodeErr *paytoken.DecodeError
	switch {
	case errors.Is(err, payments.ErrInvalidInput):
		status, code, message = fiber.StatusBadRequest, "invalid_input", "Invalid request"
	case errors.As(err, &decodeErr):
		status, code, message = fiber.StatusBadRequest, "invalid_token", "Payment token could not be decoded"
	case errors.Is(err, payments.ErrTokenExpired):
		status, code, message = fiber.StatusUnauthorized, "token_expired", "Payment session expired, please check out again"
	case errors.Is(err, payments.ErrNotFound):
		status, code, message = fiber.StatusNotFound, "not_found", "Not found"
	case errors.Is(err, payments.ErrCardDeclined):
		status, code, message = fiber.StatusPaymentRequired, "card_declined", "Your card was declined"
	case errors.Is(err, payments.ErrNoPaymentMethod):
		status, code, message = fiber.StatusPaymentRequired, "no_payment_method", "No stored payment method is available"
	case errors.Is(err, payments.ErrAlreadyPurchased):
		status, code, message = fiber.StatusConflict, "already_purchased", "You already own this product"
	case errors.Is(err, payments.ErrProviderUnavailable):
		status, code, message = fiber.StatusBadGateway, "provider_unavailable", "Payment provider is temporarily unavailable, please retry"
	}

	if status == fiber.StatusInternalServerError {
		log.Printf("unhandled error on %s %s: %v", c.Method(), c.Path(), err)
	}

	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}
