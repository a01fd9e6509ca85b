package service

import (
	"storefront-orders/internal/auth"
	"storefront-orders/internal/models"
)

func canView(p auth.Principal, o *models.Order) bool {
	switch {
	case p.IsAdmin():
		return true
	case p.UserID != "" && p.UserID == o.UserID:
		return true
	case p.IsDeliveryPerson(o.DeliveryPersonID):
		return true
	case p.Role == auth.RoleSeller && p.SellerID != "" && o.HasSeller(p.SellerID):
		return true
	}
	return false
}

// canMoveStatus covers updateStatus and OTP generation.
func canMoveStatus(p auth.Principal, o *models.Order) bool {
	return p.IsAdmin() || p.IsDeliveryPerson(o.DeliveryPersonID)
}

// isOwnerOrAdmin covers cancellation and delivery confirmation.
func isOwnerOrAdmin(p auth.Principal, o *models.Order) bool {
	return p.IsAdmin() || (p.UserID != "" && p.UserID == o.UserID)
}

// scopeFilter narrows a list filter to what the principal may see.
func scopeFilter(p auth.Principal, f models.OrderFilter) (models.OrderFilter, error) {
	switch p.Role {
	case auth.RoleAdmin:
		return f, nil
	case auth.RoleSeller:
		if p.SellerID == "" {
			return f, ErrForbidden
		}
		f.SellerID = p.SellerID
	case auth.RoleDelivery:
		if p.DeliveryPersonID == "" {
			return f, ErrForbidden
		}
		f.DeliveryPersonID = p.DeliveryPersonID
	case auth.RoleUser:
		f.UserID = p.UserID
	default:
		return f, ErrForbidden
	}
	return f, nil
}
