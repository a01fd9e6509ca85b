package service

import (
	"context"
	"fmt"

	"storefront-orders/internal/models"
	"storefront-orders/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentService authorizes the payment method chosen at checkout. Only cash
// on delivery is accepted; the payment stays pending until the courier
// collects it.
type PaymentService struct {
	logger *zap.Logger
}

func NewPaymentService() *PaymentService {
	return &PaymentService{logger: util.GetLogger()}
}

// Authorize returns the initial payment status for an order of amount paid
// with method.
func (ps *PaymentService) Authorize(ctx context.Context, method string, amount decimal.Decimal) (string, error) {
	_, span := util.StartSpan(ctx, "PaymentService.Authorize")
	defer span.End()

	switch method {
	case models.PaymentMethodCOD:
		ps.logger.Debug("Cash on delivery authorized", zap.String("amount", amount.StringFixed(2)))
		return models.PaymentStatusPending, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPayment, method)
	}
}
