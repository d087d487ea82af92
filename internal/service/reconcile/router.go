package reconcile

import "storefront-service/internal/domain/auth"

// ViewID names a role-specific landing view.
type ViewID string

const (
	AdminHome    ViewID = "AdminHome"
	SellerHome   ViewID = "SellerHome"
	DeliveryHome ViewID = "DeliveryHome"
	CustomerHome ViewID = "CustomerHome"
)

// DestinationFor maps any role string to a landing view. Unknown and empty
// roles land on the customer home.
func DestinationFor(role string) ViewID {
	switch auth.Role(role) {
	case auth.RoleAdmin:
		return AdminHome
	case auth.RoleSeller:
		return SellerHome
	case auth.RoleDelivery:
		return DeliveryHome
	default:
		return CustomerHome
	}
}

// Path is the redirect target for the view.
func (v ViewID) Path() string {
	switch v {
	case AdminHome:
		return "/admin"
	case SellerHome:
		return "/seller"
	case DeliveryHome:
		return "/delivery"
	default:
		return "/"
	}
}
