package handlers

import (
	"time"

	"github.com/nkiryanov/chronoflow/internal/models"
	"github.com/nkiryanov/chronoflow/internal/service/auth"
)

const (
	tokenTypeBearer = "Bearer"

	statusPending       = "pending"
	statusAuthenticated = "authenticated"
)

type UserResponse struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
}

type DeviceResponse struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type"`
}

type AuthResponse struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	TokenType    string          `json:"tokenType"`
	ExpiresIn    int64           `json:"expiresIn"`
	User         UserResponse    `json:"user"`
	Device       *DeviceResponse `json:"device,omitempty"`
}

type DeviceAuthResponse struct {
	DeviceToken  string         `json:"deviceToken"`
	RefreshToken string         `json:"refreshToken,omitempty"`
	QRCode       string         `json:"qrCode,omitempty"`
	Device       DeviceResponse `json:"device"`
	Status       string         `json:"status"`
	ExpiresAt    *time.Time     `json:"expiresAt,omitempty"`
}

type DeviceRegistrationResponse struct {
	IsRegistered bool   `json:"isRegistered"`
	DeviceID     string `json:"deviceId,omitempty"`
}

type ProfileResponse struct {
	UserResponse
	Role       string    `json:"role"`
	TimeScore  string    `json:"timeScore"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
}

func newUserResponse(u models.User) UserResponse {
	return UserResponse{
		ID:        u.ID.String(),
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

func newDeviceResponse(d models.Device) DeviceResponse {
	return DeviceResponse{
		ID:   d.ID.String(),
		Name: d.Info.Name,
		Type: d.Info.DeviceType(),
	}
}

// Seconds until access token expires, rounded to whole seconds
func expiresIn(expiresAt time.Time) int64 {
	return int64(time.Until(expiresAt).Round(time.Second).Seconds())
}

func newAuthResponse(s auth.Session) AuthResponse {
	resp := AuthResponse{
		AccessToken:  s.Tokens.Access.Value,
		RefreshToken: s.Tokens.Refresh.Value,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    expiresIn(s.Tokens.Access.ExpiresAt),
		User:         newUserResponse(s.User),
	}
	if s.Device != nil {
		d := newDeviceResponse(*s.Device)
		resp.Device = &d
	}
	return resp
}

func newProfileResponse(u models.User) ProfileResponse {
	return ProfileResponse{
		UserResponse: newUserResponse(u),
		Role:         u.Role,
		TimeScore:    u.TimeScore.StringFixed(2),
		IsVerified:   u.IsVerified,
		CreatedAt:    u.CreatedAt,
	}
}
