// Package lifecycle holds the order state machine: status transitions, the
// tracking checklist projection, delivery assignment binding and the delivery
// OTP handshake. Everything here mutates an in-memory *models.Order; callers
// persist the result.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"storefront-orders/internal/models"
)

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidCancellation = errors.New("order cannot be cancelled")
)

// Tracking stage names, in checklist order.
const (
	StageOrderPlaced    = "Order Placed"
	StageConfirmed      = "Confirmed"
	StageShipped        = "Shipped"
	StageOutForDelivery = "Out for Delivery"
	StageDelivered      = "Delivered"
)

var stageTemplate = []struct {
	name   string
	status string
}{
	{StageOrderPlaced, models.OrderStatusPending},
	{StageConfirmed, models.OrderStatusConfirmed},
	{StageShipped, models.OrderStatusShipped},
	{StageOutForDelivery, models.OrderStatusOutForDelivery},
	{StageDelivered, models.OrderStatusDelivered},
}

// cancelled and refunded are deliberately absent: they have no rank.
var statusRank = map[string]int{
	models.OrderStatusPending:        0,
	models.OrderStatusConfirmed:      1,
	models.OrderStatusProcessing:     1,
	models.OrderStatusShipped:        2,
	models.OrderStatusOutForDelivery: 3,
	models.OrderStatusDelivered:      4,
}

// Rank returns the position of status in the fulfilment ordering.
func Rank(status string) (int, bool) {
	r, ok := statusRank[status]
	return r, ok
}

func IsValidStatus(status string) bool {
	if _, ok := statusRank[status]; ok {
		return true
	}
	return status == models.OrderStatusCancelled || status == models.OrderStatusRefunded
}

// IsTerminal reports whether no further transition is permitted from status.
// A refunded order is closed as well: it can be neither moved nor cancelled.
func IsTerminal(status string) bool {
	switch status {
	case models.OrderStatusDelivered, models.OrderStatusCancelled, models.OrderStatusRefunded:
		return true
	}
	return false
}

// NewTrackingStages seeds the checklist for a freshly placed order.
func NewTrackingStages(now time.Time) []models.TrackingStage {
	stages := make([]models.TrackingStage, len(stageTemplate))
	for i, s := range stageTemplate {
		stages[i] = models.TrackingStage{Stage: s.name}
	}
	placed := now
	stages[0].Completed = true
	stages[0].Timestamp = &placed
	return stages
}

// ProjectStages marks every stage whose rank is at or below the rank of status
// as completed. Completed stages are never reopened and existing timestamps are
// kept. Unranked statuses leave the checklist untouched.
func ProjectStages(stages []models.TrackingStage, status string, now time.Time) []models.TrackingStage {
	current, ok := statusRank[status]
	if !ok {
		return stages
	}
	if len(stages) == 0 {
		stages = NewTrackingStages(now)
	}

	for i := range stages {
		stageRank, known := stageRankByName(stages[i].Stage)
		if !known || stageRank > current || stages[i].Completed {
			continue
		}
		ts := now
		stages[i].Completed = true
		if stages[i].Timestamp == nil {
			stages[i].Timestamp = &ts
		}
	}
	return stages
}

func stageRankByName(name string) (int, bool) {
	for _, s := range stageTemplate {
		if s.name == name {
			return statusRank[s.status], true
		}
	}
	return 0, false
}

// Transition describes a requested status change.
type Transition struct {
	Status    string
	Message   string
	Location  string
	UpdatedBy string
}

// Apply validates and applies a status transition, projecting the checklist
// and appending exactly one audit entry. The order is left untouched on error.
//
// Cancellation is not a transition; use Cancel.
func Apply(o *models.Order, t Transition, now time.Time) error {
	if IsTerminal(o.Status) {
		return fmt.Errorf("%w: order is already %s", ErrInvalidTransition, o.Status)
	}
	if !IsValidStatus(t.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, t.Status)
	}
	if t.Status == models.OrderStatusCancelled {
		return fmt.Errorf("%w: cancellation must go through cancel", ErrInvalidTransition)
	}

	if next, ranked := statusRank[t.Status]; ranked {
		current, currentRanked := statusRank[o.Status]
		if !currentRanked {
			return fmt.Errorf("%w: %s orders cannot move to %s", ErrInvalidTransition, o.Status, t.Status)
		}
		if next < current && !isFailedDelivery(o.Status, t.Status) {
			return fmt.Errorf("%w: cannot move back from %s to %s", ErrInvalidTransition, o.Status, t.Status)
		}
	}

	if isFailedDelivery(o.Status, t.Status) || t.Status == models.OrderStatusRefunded {
		o.DeliveryOtp = ""
	}

	o.Status = t.Status
	o.TrackingStages = ProjectStages(o.TrackingStages, o.Status, now)
	if o.Status == models.OrderStatusDelivered {
		delivered := now
		o.DeliveryOtp = ""
		o.DeliveredAt = &delivered
	}

	msg := t.Message
	if msg == "" {
		msg = fmt.Sprintf("Order status updated to %s", t.Status)
	}
	appendUpdate(o, models.TrackingUpdate{
		Status:    t.Status,
		Message:   msg,
		Location:  t.Location,
		Timestamp: now,
		UpdatedBy: t.UpdatedBy,
	})
	return nil
}

// isFailedDelivery is the one permitted backwards move: a courier could not
// hand over the parcel and it returns to the shipped pool.
func isFailedDelivery(from, to string) bool {
	return from == models.OrderStatusOutForDelivery && to == models.OrderStatusShipped
}

// Cancel moves a non-terminal order to cancelled. The checklist is left as-is.
func Cancel(o *models.Order, reason, updatedBy string, now time.Time) error {
	if IsTerminal(o.Status) {
		return fmt.Errorf("%w: order is already %s", ErrInvalidCancellation, o.Status)
	}

	shown := reason
	if shown == "" {
		shown = "Not specified"
	}

	o.Status = models.OrderStatusCancelled
	o.CancellationReason = reason
	o.DeliveryOtp = ""
	appendUpdate(o, models.TrackingUpdate{
		Status:    models.OrderStatusCancelled,
		Message:   fmt.Sprintf("Order cancelled. Reason: %s", shown),
		Timestamp: now,
		UpdatedBy: updatedBy,
	})
	return nil
}

// Assignment binds an order to a delivery person.
type Assignment struct {
	DeliveryPersonID   string
	DeliveryPersonName string
	UpdatedBy          string
	// Note is appended to the audit message, e.g. an availability warning.
	Note string
}

// Assign records the delivery person on the order. Pending orders are
// confirmed by the assignment; confirmed, processing and in-transit orders keep
// their status.
func Assign(o *models.Order, a Assignment, now time.Time) error {
	if IsTerminal(o.Status) {
		return fmt.Errorf("%w: order is already %s", ErrInvalidTransition, o.Status)
	}
	current, ranked := statusRank[o.Status]
	if !ranked {
		return fmt.Errorf("%w: %s orders cannot be assigned", ErrInvalidTransition, o.Status)
	}

	o.DeliveryPersonID = a.DeliveryPersonID
	o.DeliveryPersonName = a.DeliveryPersonName
	if current < statusRank[models.OrderStatusConfirmed] {
		o.Status = models.OrderStatusConfirmed
	}
	o.TrackingStages = ProjectStages(o.TrackingStages, o.Status, now)

	name := a.DeliveryPersonName
	if name == "" {
		name = a.DeliveryPersonID
	}
	msg := fmt.Sprintf("Assigned to delivery person %s", name)
	if a.Note != "" {
		msg += " (" + a.Note + ")"
	}
	appendUpdate(o, models.TrackingUpdate{
		Status:    o.Status,
		Message:   msg,
		Timestamp: now,
		UpdatedBy: a.UpdatedBy,
	})
	return nil
}

func appendUpdate(o *models.Order, u models.TrackingUpdate) {
	o.TrackingUpdates = append(o.TrackingUpdates, u)
	o.UpdatedAt = u.Timestamp
}
