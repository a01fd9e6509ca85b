package lifecycle

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"storefront-orders/internal/models"
)

var (
	ErrOtpMismatch  = errors.New("delivery otp does not match")
	ErrOtpNotIssued = errors.New("no delivery otp has been issued")
)

const (
	otpMin  = 100000
	otpSpan = 900000
)

// GenerateOtpCode draws a uniformly distributed code in 100000..999999 from r.
// A nil reader uses crypto/rand.
func GenerateOtpCode(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	n, err := rand.Int(r, big.NewInt(otpSpan))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin), nil
}

// IssueOtp stores code on the order and moves it out for delivery. Orders must
// be at least confirmed and not yet delivered. Re-issuing while out for
// delivery replaces the previous code.
func IssueOtp(o *models.Order, code, updatedBy string, now time.Time) error {
	switch o.Status {
	case models.OrderStatusConfirmed, models.OrderStatusProcessing,
		models.OrderStatusShipped, models.OrderStatusOutForDelivery:
	default:
		return fmt.Errorf("%w: cannot issue a delivery otp for a %s order", ErrInvalidTransition, o.Status)
	}

	if err := Apply(o, Transition{
		Status:    models.OrderStatusOutForDelivery,
		Message:   "Order is out for delivery. Delivery OTP generated",
		UpdatedBy: updatedBy,
	}, now); err != nil {
		return err
	}
	o.DeliveryOtp = code
	return nil
}

// VerifyOtp compares submitted against the stored code in constant time.
func VerifyOtp(o *models.Order, submitted string) error {
	if o.DeliveryOtp == "" {
		return ErrOtpNotIssued
	}
	if subtle.ConstantTimeCompare([]byte(o.DeliveryOtp), []byte(submitted)) != 1 {
		return ErrOtpMismatch
	}
	return nil
}

// ConfirmDelivery verifies the OTP and marks the order delivered.
func ConfirmDelivery(o *models.Order, submitted, updatedBy string, now time.Time) error {
	if IsTerminal(o.Status) {
		return fmt.Errorf("%w: order is already %s", ErrInvalidTransition, o.Status)
	}
	if err := VerifyOtp(o, submitted); err != nil {
		return err
	}
	return Apply(o, Transition{
		Status:    models.OrderStatusDelivered,
		Message:   "Order delivered successfully. Verified with OTP",
		UpdatedBy: updatedBy,
	}, now)
}
