// Package auth carries the authenticated caller through the service layer.
package auth

import "context"

// Roles
const (
	RoleAdmin    = "admin"
	RoleUser     = "user"
	RoleSeller   = "seller"
	RoleDelivery = "delivery"
)

// Principal is the authenticated actor behind a request. SellerID and
// DeliveryPersonID are set only for the matching roles.
type Principal struct {
	UserID           string `json:"userId"`
	Name             string `json:"name"`
	Role             string `json:"role"`
	SellerID         string `json:"sellerId,omitempty"`
	DeliveryPersonID string `json:"deliveryPersonId,omitempty"`
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// IsDeliveryPerson reports whether p acts as the delivery person id.
func (p Principal) IsDeliveryPerson(id string) bool {
	return p.Role == RoleDelivery && id != "" && p.DeliveryPersonID == id
}

// Actor is the label recorded in audit entries.
func (p Principal) Actor() string {
	if p.Name != "" {
		return p.Name
	}
	return p.UserID
}

// System is the principal used by background consumers.
var System = Principal{UserID: "system", Name: "system", Role: RoleAdmin}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
