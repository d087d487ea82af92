package reconcile

import (
	"testing"
	"time"

	"storefront-service/internal/domain/auth"

	"github.com/stretchr/testify/assert"
)

func TestDestinationFor(t *testing.T) {
	cases := []struct {
		role string
		want ViewID
		path string
	}{
		{"admin", AdminHome, "/admin"},
		{"seller", SellerHome, "/seller"},
		{"delivery", DeliveryHome, "/delivery"},
		{"customer", CustomerHome, "/"},
		{"", CustomerHome, "/"},
		{"superuser", CustomerHome, "/"},
		{"Admin", CustomerHome, "/"},
	}
	for _, tc := range cases {
		t.Run("role="+tc.role, func(t *testing.T) {
			got := DestinationFor(tc.role)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.path, got.Path())
		})
	}
}

func TestLatestRoleIgnoresStorageOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []*auth.RoleRecord{
		{Role: auth.RoleCustomer, CreatedAt: base},
		nil,
		{Role: auth.RoleAdmin, CreatedAt: base.Add(2 * time.Hour)},
		{Role: auth.RoleSeller, CreatedAt: base.Add(time.Hour)},
	}

	assert.Equal(t, auth.RoleAdmin, LatestRole(rows).Role)
	assert.Nil(t, LatestRole(nil))
}

func TestLatestRoleBreaksTimestampTiesByID(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &auth.RoleRecord{ID: "01HZZA", Role: auth.RoleAdmin, CreatedAt: at}
	b := &auth.RoleRecord{ID: "01HZZB", Role: auth.RoleSeller, CreatedAt: at}

	assert.Equal(t, auth.RoleSeller, LatestRole([]*auth.RoleRecord{a, b}).Role)
	assert.Equal(t, auth.RoleSeller, LatestRole([]*auth.RoleRecord{b, a}).Role)
}
