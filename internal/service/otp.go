package service

import (
	"context"
	"errors"

	"storefront-orders/internal/auth"
	"storefront-orders/internal/lifecycle"
	"storefront-orders/internal/models"
	"storefront-orders/internal/util"

	"go.uber.org/zap"
)

// GenerateDeliveryOtp issues a fresh delivery code, moves the order out for
// delivery and sends the code to the customer. The code is returned to the
// caller and never appears in order responses.
func (s *OrderService) GenerateDeliveryOtp(ctx context.Context, p auth.Principal, orderID string) (string, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GenerateDeliveryOtp")
	defer span.End()

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if !canMoveStatus(p, o) {
		return "", ErrForbidden
	}

	code, err := lifecycle.GenerateOtpCode(s.otpSource)
	if err != nil {
		return "", err
	}

	readVersion := o.Version
	previous := o.Status
	if err := lifecycle.IssueOtp(o, code, p.Actor(), s.clock()); err != nil {
		rejected("otp_not_issuable")
		return "", err
	}
	if err := s.save(ctx, o, readVersion, nil); err != nil {
		return "", err
	}

	if s.otpGuard != nil {
		if err := s.otpGuard.Reset(ctx, o.ID); err != nil {
			s.logger.Warn("Failed to reset otp attempts", zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	util.OrderTransitionsTotal.WithLabelValues(o.Status).Inc()
	s.logger.Info("Delivery otp issued", zap.String("order_id", o.ID))

	s.publishStatusChanged(ctx, o, previous)
	s.notifyCustomer(ctx, o, code)
	return code, nil
}

// ConfirmDelivery checks the submitted code against the stored one and
// marks the order delivered. Wrong codes count towards the attempt limit.
func (s *OrderService) ConfirmDelivery(ctx context.Context, p auth.Principal, orderID, otp string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ConfirmDelivery")
	defer span.End()

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isOwnerOrAdmin(p, o) {
		return nil, ErrForbidden
	}

	if s.otpGuard != nil {
		allowed, err := s.otpGuard.Allow(ctx, o.ID)
		if err != nil {
			s.logger.Warn("Otp attempt check failed", zap.String("order_id", o.ID), zap.Error(err))
		} else if !allowed {
			util.OtpVerificationsTotal.WithLabelValues("locked").Inc()
			return nil, ErrOtpLocked
		}
	}

	readVersion := o.Version
	previous := o.Status
	if err := lifecycle.ConfirmDelivery(o, otp, p.Actor(), s.clock()); err != nil {
		s.recordOtpFailure(ctx, orderID, err)
		return nil, err
	}
	if err := s.save(ctx, o, readVersion, nil); err != nil {
		return nil, err
	}

	util.OtpVerificationsTotal.WithLabelValues("ok").Inc()
	util.OrdersDeliveredTotal.Inc()
	util.OrderTransitionsTotal.WithLabelValues(o.Status).Inc()
	s.logger.Info("Order delivered", zap.String("order_id", o.ID))

	if s.otpGuard != nil {
		if err := s.otpGuard.Reset(ctx, o.ID); err != nil {
			s.logger.Warn("Failed to reset otp attempts", zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	s.stats.RecordDelivery(ctx, o)
	s.publishDelivered(ctx, o)
	s.publishStatusChanged(ctx, o, previous)
	s.notifyCustomer(ctx, o, "")
	return o, nil
}

func (s *OrderService) recordOtpFailure(ctx context.Context, orderID string, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrOtpMismatch):
		util.OtpVerificationsTotal.WithLabelValues("mismatch").Inc()
		if s.otpGuard == nil {
			return
		}
		attempts, gErr := s.otpGuard.RecordFailure(ctx, orderID)
		if gErr != nil {
			s.logger.Warn("Failed to record otp attempt", zap.String("order_id", orderID), zap.Error(gErr))
			return
		}
		s.logger.Warn("Delivery otp mismatch",
			zap.String("order_id", orderID),
			zap.Int("attempts", attempts))
	case errors.Is(err, lifecycle.ErrOtpNotIssued):
		util.OtpVerificationsTotal.WithLabelValues("not_issued").Inc()
	default:
		rejected("invalid_transition")
	}
}
