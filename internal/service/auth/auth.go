package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nkiryanov/chronoflow/internal/apperrors"
	"github.com/nkiryanov/chronoflow/internal/logger"
	"github.com/nkiryanov/chronoflow/internal/models"
	"github.com/nkiryanov/chronoflow/internal/repository"
	"github.com/nkiryanov/chronoflow/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/chronoflow/internal/service/user"
)

const (
	defaultAccessHeaderName = "Authorization"
	defaultAccessAuthScheme = "Bearer"
	defaultQRCodeTTL        = 5 * time.Minute
)

type Config struct {
	// Header and scheme the access token is expected in
	// If not set than default is used
	AccessHeaderName string
	AccessAuthScheme string

	// How long QR pairing code stays redeemable
	QRCodeTTL time.Duration
}

// Result of any successful authentication
type Session struct {
	Tokens models.TokenPair
	User   models.User

	// Device the tokens are bound to, nil for password sessions
	Device *models.Device
}

type DeviceRegistration struct {
	IsRegistered bool
	DeviceID     uuid.UUID
}

// Issued pairing code and the device that issued it
type QRCode struct {
	Auth   models.QRCodeAuth
	Device models.Device
}

type AuthService struct {
	accessHeaderName string
	accessAuthScheme string
	qrCodeTTL        time.Duration

	storage repository.Storage
	users   *user.UserService
	tokens  *tokenmanager.TokenManager
	logger  logger.Logger

	// Collapses concurrent registrations of the same vendor identifier
	registrations singleflight.Group
}

func NewService(cfg Config, storage repository.Storage, users *user.UserService, tokens *tokenmanager.TokenManager, log logger.Logger) (*AuthService, error) {
	if cfg.AccessHeaderName == "" {
		cfg.AccessHeaderName = defaultAccessHeaderName
	}
	if cfg.AccessAuthScheme == "" {
		cfg.AccessAuthScheme = defaultAccessAuthScheme
	}
	if cfg.QRCodeTTL < 0 {
		return nil, errors.New("qr code ttl must not be negative")
	}
	if cfg.QRCodeTTL == 0 {
		cfg.QRCodeTTL = defaultQRCodeTTL
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &AuthService{
		accessHeaderName: cfg.AccessHeaderName,
		accessAuthScheme: cfg.AccessAuthScheme,
		qrCodeTTL:        cfg.QRCodeTTL,
		storage:          storage,
		users:            users,
		tokens:           tokens,
		logger:           log.With("component", "auth"),
	}, nil
}

// Run fn in transaction with user service and token manager bound to it
func (s *AuthService) inTx(ctx context.Context, fn func(tx repository.Storage, users *user.UserService, tokens *tokenmanager.TokenManager) error) error {
	return s.storage.InTx(ctx, func(tx repository.Storage) error {
		return fn(tx, s.users.WithStorage(tx), s.tokens.WithStorage(tx))
	})
}

// Log failure and return it as *apperrors.Error
func (s *AuthService) fail(op string, err error, message string) error {
	if appErr, ok := apperrors.As(err); ok && appErr.Status < http.StatusInternalServerError {
		s.logger.Warn(op+" failed", "error", err)
	} else {
		s.logger.Error(op+" failed", "error", err)
	}
	return apperrors.Wrap(err, message)
}

// Register user with email and password
func (s *AuthService) Register(ctx context.Context, params user.CreateUserParams) (Session, error) {
	var session Session

	err := s.inTx(ctx, func(_ repository.Storage, users *user.UserService, tokens *tokenmanager.TokenManager) error {
		u, err := users.CreateUser(ctx, params)
		if err != nil {
			if errors.Is(err, apperrors.ErrUserAlreadyExists) {
				return apperrors.Conflict("User with this email already exists").With(err)
			}
			return err
		}

		pair, err := tokens.GeneratePair(ctx, uuid.Nil, u.ID)
		if err != nil {
			return err
		}

		session = Session{Tokens: pair, User: u}
		return nil
	})
	if err != nil {
		return session, s.fail("register", err, "Failed to register user")
	}

	s.logger.Info("user registered", "userId", session.User.ID)
	return session, nil
}

// Login with email and password
func (s *AuthService) Login(ctx context.Context, email string, password string) (Session, error) {
	var session Session

	u, err := s.users.Login(ctx, email, password)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return session, s.fail("login", apperrors.NotFound("User not found").With(err), "")
	case errors.Is(err, apperrors.ErrInvalidPassword):
		return session, s.fail("login", apperrors.Validation("Invalid credentials").With(err), "")
	case err != nil:
		return session, s.fail("login", err, "Failed to login")
	}

	pair, err := s.tokens.GeneratePair(ctx, uuid.Nil, u.ID)
	if err != nil {
		return session, s.fail("login", err, "Failed to login")
	}

	return Session{Tokens: pair, User: u}, nil
}

// Register device or re-issue tokens for the known one
// Unknown device gets a fresh placeholder user and becomes its primary device
func (s *AuthService) RegisterDevice(ctx context.Context, info models.DeviceInfo, location models.LocationInfo) (Session, error) {
	if info.IdentifierForVendor == "" {
		return Session{}, s.fail("register device", apperrors.Validation("Invalid device information"), "")
	}

	// Shared call must not be cancelled by the first caller going away
	sharedCtx := context.WithoutCancel(ctx)

	// Callers sharing the registration get the device and user stored by the first of them
	v, err, shared := s.registrations.Do(info.IdentifierForVendor, func() (any, error) {
		reg, err := s.registerDevice(sharedCtx, info, location)

		// Another process created the device between our lookup and insert, now it is visible
		if errors.Is(err, apperrors.ErrDeviceAlreadyExists) {
			reg, err = s.registerDevice(sharedCtx, info, location)
		}
		return reg, err
	})
	if err != nil {
		return Session{}, s.fail("register device", err, "Failed to register device")
	}

	// Token pair is never shared between callers
	session := v.(Session)
	session.Tokens, err = s.tokens.GeneratePair(ctx, session.Device.ID, session.User.ID)
	if err != nil {
		return Session{}, s.fail("register device", err, "Failed to register device")
	}

	s.logger.Info("device registered", "deviceId", session.Device.ID, "userId", session.User.ID, "shared", shared)
	return session, nil
}

// Find or create device and its user, tokens are not issued here
func (s *AuthService) registerDevice(ctx context.Context, info models.DeviceInfo, location models.LocationInfo) (Session, error) {
	var session Session

	err := s.inTx(ctx, func(tx repository.Storage, users *user.UserService, _ *tokenmanager.TokenManager) error {
		device, err := tx.Device().GetDeviceByVendorID(ctx, info.IdentifierForVendor)

		switch {
		case err == nil:
			s.logger.Debug("device already registered, issue new tokens", "deviceId", device.ID)
			if device.UserID == nil {
				return apperrors.NotFound("Device or user not found")
			}

			u, err := users.GetUserByID(ctx, *device.UserID)
			if errors.Is(err, apperrors.ErrUserNotFound) {
				return apperrors.NotFound("Device or user not found").With(err)
			}
			if err != nil {
				return err
			}

			device, err = tx.Device().TouchDevice(ctx, device.ID, info, &location)
			if err != nil {
				return err
			}
			session.User = u

		case errors.Is(err, apperrors.ErrDeviceNotFound):
			u, err := users.CreateDeviceUser(ctx)
			if err != nil {
				return err
			}

			device, err = tx.Device().CreateDevice(ctx, repository.CreateDeviceParams{
				UserID:    &u.ID,
				Info:      info,
				Location:  location,
				IsPrimary: true,
			})
			if err != nil {
				return err
			}
			session.User = u

		default:
			return err
		}

		session.Device = &device
		return nil
	})

	return session, err
}

// Report whether device with the vendor identifier is known and refresh its info if so
func (s *AuthService) CheckDeviceRegistration(ctx context.Context, info models.DeviceInfo) (DeviceRegistration, error) {
	var reg DeviceRegistration

	if info.IdentifierForVendor == "" {
		return reg, s.fail("check device registration", apperrors.Validation("Invalid device information"), "")
	}

	device, err := s.storage.Device().GetDeviceByVendorID(ctx, info.IdentifierForVendor)
	switch {
	case errors.Is(err, apperrors.ErrDeviceNotFound):
		return reg, nil
	case err != nil:
		return reg, s.fail("check device registration", err, "Failed to check device registration")
	}

	if _, err := s.storage.Device().TouchDevice(ctx, device.ID, info, nil); err != nil {
		return reg, s.fail("check device registration", err, "Failed to check device registration")
	}

	return DeviceRegistration{IsRegistered: true, DeviceID: device.ID}, nil
}

// Issue pairing code another device may redeem to join the user's account
func (s *AuthService) GenerateQRCode(ctx context.Context, principal models.Principal) (QRCode, error) {
	var qr QRCode

	if !principal.HasDevice() {
		return qr, s.fail("generate qr code", apperrors.Authentication("User or device not authenticated"), "")
	}

	device, err := s.ownedDevice(ctx, principal.UserID, principal.DeviceID)
	if err != nil {
		return qr, s.fail("generate qr code", err, "Failed to generate QR code")
	}

	now := time.Now()
	code, err := s.storage.QRCode().Save(ctx, models.QRCodeAuth{
		ID:        uuid.New(),
		UserID:    principal.UserID,
		DeviceID:  principal.DeviceID,
		Code:      uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.qrCodeTTL),
	})
	if err != nil {
		return qr, s.fail("generate qr code", err, "Failed to generate QR code")
	}

	s.logger.Info("qr code generated", "userId", principal.UserID, "deviceId", principal.DeviceID)
	return QRCode{Auth: code, Device: device}, nil
}

// Redeem pairing code: bind new secondary device to the code's user
// Code is consumed in the same transaction, so it is redeemed at most once
func (s *AuthService) AuthenticateWithQRCode(ctx context.Context, code string, info models.DeviceInfo, location models.LocationInfo) (Session, error) {
	var session Session

	err := s.inTx(ctx, func(tx repository.Storage, users *user.UserService, tokens *tokenmanager.TokenManager) error {
		qr, err := tx.QRCode().Consume(ctx, code, time.Now())
		if errors.Is(err, apperrors.ErrQRCodeNotFound) {
			return apperrors.Validation("Invalid or expired QR code").With(err)
		}
		if err != nil {
			return err
		}

		u, err := users.GetUserByID(ctx, qr.UserID)
		if err != nil {
			return err
		}

		device, err := pairDevice(ctx, tx, qr.UserID, info, location)
		if err != nil {
			return err
		}

		pair, err := tokens.GeneratePair(ctx, device.ID, u.ID)
		if err != nil {
			return err
		}

		session = Session{Tokens: pair, User: u, Device: &device}
		return nil
	})
	if err != nil {
		return session, s.fail("authenticate with qr code", err, "Failed to authenticate with QR code")
	}

	s.logger.Info("device authenticated with qr code", "deviceId", session.Device.ID, "userId", session.User.ID)
	return session, nil
}

// Bind redeeming device to the user as secondary one
// Install known by vendor identifier moves from its previous user, whose grants for it are revoked
func pairDevice(ctx context.Context, tx repository.Storage, userID uuid.UUID, info models.DeviceInfo, location models.LocationInfo) (models.Device, error) {
	if info.IdentifierForVendor != "" {
		existing, err := tx.Device().GetDeviceByVendorID(ctx, info.IdentifierForVendor)
		switch {
		case err == nil:
			if existing.UserID != nil && *existing.UserID == userID {
				return existing, apperrors.Conflict("Device is already registered")
			}
			if _, err := tx.DeviceAuth().DeleteByDevice(ctx, existing.ID); err != nil {
				return existing, fmt.Errorf("can't revoke grants of paired device. Err: %w", err)
			}
			return tx.Device().BindDevice(ctx, existing.ID, userID, info, location)

		case !errors.Is(err, apperrors.ErrDeviceNotFound):
			return existing, err
		}
	}

	device, err := tx.Device().CreateDevice(ctx, repository.CreateDeviceParams{
		UserID:    &userID,
		Info:      info,
		Location:  location,
		IsPrimary: false,
	})
	// Same install registered concurrently
	if errors.Is(err, apperrors.ErrDeviceAlreadyExists) {
		return device, apperrors.Conflict("Device is already registered").With(err)
	}
	return device, err
}

// Issue new token pair for the grant behind the refresh token
func (s *AuthService) RefreshToken(ctx context.Context, refresh string) (Session, error) {
	var session Session

	if refresh == "" {
		return session, s.fail("refresh token", apperrors.Validation("Invalid or expired refresh token"), "")
	}

	err := s.inTx(ctx, func(tx repository.Storage, users *user.UserService, tokens *tokenmanager.TokenManager) error {
		grant, err := tokens.UseRefresh(ctx, refresh)
		switch {
		case errors.Is(err, apperrors.ErrDeviceAuthNotFound),
			errors.Is(err, apperrors.ErrDeviceAuthExpired),
			errors.Is(err, apperrors.ErrDeviceAuthIsUsed):
			return apperrors.Validation("Invalid or expired refresh token").With(err)
		case err != nil:
			return err
		}

		u, err := users.GetUserByID(ctx, grant.UserID)
		if err != nil {
			return err
		}

		session = Session{User: u}

		deviceID := uuid.Nil
		if grant.DeviceID != nil {
			device, err := tx.Device().GetDeviceByID(ctx, *grant.DeviceID)
			if err != nil {
				return fmt.Errorf("can't get device of the grant. Err: %w", err)
			}
			deviceID = device.ID
			session.Device = &device
		}

		session.Tokens, err = tokens.GeneratePair(ctx, deviceID, u.ID)
		return err
	})
	if err != nil {
		return session, s.fail("refresh token", err, "Failed to refresh token")
	}

	s.logger.Debug("tokens refreshed", "userId", session.User.ID)
	return session, nil
}

// Return device if it belongs to the authenticated user
// Caller must be authenticated with device bound token
func (s *AuthService) CheckDevice(ctx context.Context, principal models.Principal, deviceID uuid.UUID) (models.Device, error) {
	if !principal.HasDevice() {
		return models.Device{}, s.fail("check device", apperrors.Authentication("Device ID not provided"), "")
	}

	device, err := s.ownedDevice(ctx, principal.UserID, deviceID)
	if err != nil {
		return device, s.fail("check device", err, "Failed to check device")
	}

	return device, nil
}

// Profile of authenticated user
func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (models.User, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		return u, s.fail("me", apperrors.NotFound("User not found").With(err), "")
	}
	if err != nil {
		return u, s.fail("me", err, "Failed to get user")
	}

	return u, nil
}

// Authenticate request by access token in header
func (s *AuthService) Authenticate(ctx context.Context, r *http.Request) (models.Principal, error) {
	header := r.Header.Get(s.accessHeaderName)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, s.accessAuthScheme) || token == "" {
		return models.Principal{}, apperrors.Authentication("")
	}

	principal, err := s.tokens.ParseAccess(ctx, token)
	if err != nil {
		return principal, apperrors.Authentication("Invalid or expired token").With(err)
	}

	return principal, nil
}

func (s *AuthService) ownedDevice(ctx context.Context, userID uuid.UUID, deviceID uuid.UUID) (models.Device, error) {
	device, err := s.storage.Device().GetDeviceByID(ctx, deviceID)
	if errors.Is(err, apperrors.ErrDeviceNotFound) {
		return device, apperrors.NotFound("Device not found").With(err)
	}
	if err != nil {
		return device, fmt.Errorf("can't get device. Err: %w", err)
	}

	if device.UserID == nil || *device.UserID != userID {
		return models.Device{}, apperrors.NotFound("Device not found")
	}

	return device, nil
}
