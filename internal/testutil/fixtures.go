package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/chronoflow/internal/models"
	"github.com/nkiryanov/chronoflow/internal/repository"
)

// Device info as an iOS client would send it
func DeviceInfo(vendorID string) models.DeviceInfo {
	return models.DeviceInfo{
		Name:                "Test iPhone",
		Model:               "iPhone15,2",
		Type:                models.DeviceTypeMobile,
		SystemName:          "iOS",
		SystemVersion:       "17.4",
		IdentifierForVendor: vendorID,
	}
}

func LocationInfo() models.LocationInfo {
	return models.LocationInfo{
		Latitude:  52.52,
		Longitude: 13.405,
		Accuracy:  5,
		Timestamp: "2024-03-01T12:00:00Z",
	}
}

// Random vendor identifier in canonical uuid form
func VendorID() string {
	return uuid.NewString()
}

// Create user with random email
func CreateUser(t *testing.T, ctx context.Context, s repository.Storage) models.User {
	t.Helper()

	user, err := s.User().CreateUser(ctx, repository.CreateUserParams{
		Email:          fmt.Sprintf("user_%s@example.com", uuid.NewString()[:8]),
		HashedPassword: "hashed",
	})
	require.NoError(t, err)
	return user
}

// Create device bound to the user
func CreateDevice(t *testing.T, ctx context.Context, s repository.Storage, userID uuid.UUID) models.Device {
	t.Helper()

	device, err := s.Device().CreateDevice(ctx, repository.CreateDeviceParams{
		UserID:    &userID,
		Info:      DeviceInfo(VendorID()),
		Location:  LocationInfo(),
		IsPrimary: true,
	})
	require.NoError(t, err)
	return device
}
