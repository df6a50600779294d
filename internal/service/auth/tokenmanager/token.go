package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/chronoflow/internal/apperrors"
	"github.com/nkiryanov/chronoflow/internal/models"
	"github.com/nkiryanov/chronoflow/internal/repository"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Payload of both access and refresh tokens
// DeviceID is omitted for sessions started with email and password
type Claims struct {
	jwt.RegisteredClaims
	UserID   uuid.UUID  `json:"userId"`
	DeviceID *uuid.UUID `json:"deviceId,omitempty"`
}

// Token manager with sensible default
type Config struct {
	// Secret keys to sign access and refresh tokens
	// Required to be set and must differ
	AccessSecret  string
	RefreshSecret string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Mark refresh token used on refresh and reject the second use
	// When false the old refresh token stays valid until it expires
	StrictRotation bool
}

type TokenManager struct {
	accessKey  []byte
	refreshKey []byte

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	accessTTL  time.Duration
	refreshTTL time.Duration

	strict bool

	storage repository.Storage
}

func New(cfg Config, storage repository.Storage) (*TokenManager, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets must not be empty")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if _, ok := alg.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported signing method %q", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	return &TokenManager{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		alg:        alg,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		strict:     cfg.StrictRotation,
		storage:    storage,
	}, nil
}

// WithStorage returns copy of manager bound to another storage, usually a transaction
func (m *TokenManager) WithStorage(s repository.Storage) *TokenManager {
	c := *m
	c.storage = s
	return &c
}

func (m *TokenManager) AccessTTL() time.Duration {
	return m.accessTTL
}

func (m *TokenManager) sign(key []byte, claims Claims) (string, error) {
	return jwt.NewWithClaims(m.alg, claims).SignedString(key)
}

// Issue access and refresh tokens for the device and user and save refresh grant
// deviceID may be uuid.Nil for password sessions
func (m *TokenManager) GeneratePair(ctx context.Context, deviceID uuid.UUID, userID uuid.UUID) (models.TokenPair, error) {
	var pair models.TokenPair
	now := time.Now().Truncate(time.Second)
	accessExpiresAt := now.Add(m.accessTTL)
	refreshExpiresAt := now.Add(m.refreshTTL)

	var device *uuid.UUID
	if deviceID != uuid.Nil {
		device = &deviceID
	}

	claims := func(expiresAt time.Time) Claims {
		return Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Subject:   userID.String(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			UserID:   userID,
			DeviceID: device,
		}
	}

	var access, refresh string
	g := new(errgroup.Group)
	g.Go(func() (err error) {
		access, err = m.sign(m.accessKey, claims(accessExpiresAt))
		return err
	})
	g.Go(func() (err error) {
		refresh, err = m.sign(m.refreshKey, claims(refreshExpiresAt))
		return err
	})
	if err := g.Wait(); err != nil {
		return pair, fmt.Errorf("error while signing tokens. Err: %w", err)
	}

	_, err := m.storage.DeviceAuth().Save(ctx, models.DeviceAuth{
		ID:           uuid.New(),
		DeviceID:     device,
		UserID:       userID,
		RefreshToken: refresh,
		CreatedAt:    now,
		ExpiresAt:    refreshExpiresAt,
	})
	if err != nil {
		return pair, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessExpiresAt},
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: refreshExpiresAt},
	}, nil
}

// Resolve refresh token to its grant
// With strict rotation the grant is marked used and the second call fails with apperrors.ErrDeviceAuthIsUsed
func (m *TokenManager) UseRefresh(ctx context.Context, refresh string) (models.DeviceAuth, error) {
	var (
		grant models.DeviceAuth
		err   error
	)

	if m.strict {
		grant, err = m.storage.DeviceAuth().GetAndMarkUsed(ctx, refresh)
	} else {
		grant, err = m.storage.DeviceAuth().Get(ctx, refresh)
	}
	if err != nil {
		return grant, fmt.Errorf("error while getting refresh token. Err: %w", err)
	}

	if grant.IsExpired(time.Now()) {
		return grant, fmt.Errorf("error while getting refresh token. Err: %w", apperrors.ErrDeviceAuthExpired)
	}

	return grant, nil
}

// Parse and validate access token
func (m *TokenManager) ParseAccess(ctx context.Context, access string) (models.Principal, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return m.accessKey, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return models.Principal{}, fmt.Errorf("error while parsing or validating token. Err: %w", err)
	}

	p := models.Principal{UserID: claims.UserID}
	if claims.DeviceID != nil {
		p.DeviceID = *claims.DeviceID
	}

	return p, nil
}
