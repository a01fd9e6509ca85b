package service

import (
	"context"
	"fmt"

	"storefront-orders/internal/auth"
	"storefront-orders/internal/lifecycle"
	"storefront-orders/internal/models"
	"storefront-orders/internal/util"

	"go.uber.org/zap"
)

type AssignDeliveryRequest struct {
	DeliveryPersonID   string `json:"deliveryPersonId" binding:"required"`
	DeliveryPersonName string `json:"deliveryPersonName"`
}

// AssignDelivery binds an order to a delivery person. Orders at or below
// confirmed become confirmed; reassigning moves the workload counter from the
// previous delivery person to the new one.
func (s *OrderService) AssignDelivery(ctx context.Context, p auth.Principal, orderID string, req AssignDeliveryRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.AssignDelivery")
	defer span.End()

	if !p.IsAdmin() {
		return nil, ErrForbidden
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	person, err := s.repo.GetDeliveryPerson(ctx, req.DeliveryPersonID)
	if err != nil {
		return nil, err
	}

	note := availabilityNote(person)
	if note != "" && s.settings.StrictAssignment {
		rejected("delivery_person_unavailable")
		return nil, fmt.Errorf("%w: %s", ErrDeliveryPersonUnavailable, note)
	}

	name := req.DeliveryPersonName
	if name == "" {
		name = person.Name
	}

	readVersion := o.Version
	previousStatus := o.Status
	previousPerson := o.DeliveryPersonID
	err = lifecycle.Assign(o, lifecycle.Assignment{
		DeliveryPersonID:   person.ID,
		DeliveryPersonName: name,
		UpdatedBy:          p.Actor(),
		Note:               note,
	}, s.clock())
	if err != nil {
		rejected("invalid_assignment")
		return nil, err
	}
	if err := s.save(ctx, o, readVersion, nil); err != nil {
		return nil, err
	}

	s.stats.RecordAssignment(ctx, o.ID, person.ID, previousPerson)

	availability := "available"
	if note != "" {
		availability = "unavailable"
		s.logger.Warn("Order assigned to unavailable delivery person",
			zap.String("order_id", o.ID),
			zap.String("delivery_person_id", person.ID),
			zap.String("note", note))
	}
	util.DeliveryAssignmentsTotal.WithLabelValues(availability).Inc()
	s.logger.Info("Delivery assigned",
		zap.String("order_id", o.ID),
		zap.String("delivery_person_id", person.ID),
		zap.String("previous_delivery_person_id", previousPerson))

	s.publishAssigned(ctx, o, previousPerson)
	s.publishStatusChanged(ctx, o, previousStatus)
	s.notifyCustomer(ctx, o, "")
	return o, nil
}

// availabilityNote explains why person should not take new orders, or
// returns "" when they can.
func availabilityNote(person *models.DeliveryPerson) string {
	switch {
	case person.Status != "" && person.Status != models.DeliveryPersonApproved:
		return fmt.Sprintf("delivery person is %s", person.Status)
	case !person.IsAvailable:
		return "delivery person is marked unavailable"
	}
	return ""
}

func (s *OrderService) GetDeliveryPerson(ctx context.Context, p auth.Principal, id string) (*models.DeliveryPerson, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetDeliveryPerson")
	defer span.End()

	if !p.IsAdmin() && !p.IsDeliveryPerson(id) {
		return nil, ErrForbidden
	}
	return s.repo.GetDeliveryPerson(ctx, id)
}

// SetAvailability toggles whether a delivery person takes new orders.
func (s *OrderService) SetAvailability(ctx context.Context, p auth.Principal, id string, available bool) (*models.DeliveryPerson, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SetAvailability")
	defer span.End()

	if !p.IsAdmin() && !p.IsDeliveryPerson(id) {
		return nil, ErrForbidden
	}
	person, err := s.repo.SetDeliveryPersonAvailability(ctx, id, available)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Delivery person availability changed",
		zap.String("delivery_person_id", id),
		zap.Bool("available", available))
	return person, nil
}
