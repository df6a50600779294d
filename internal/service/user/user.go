package user

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/chronoflow/internal/apperrors"
	"github.com/nkiryanov/chronoflow/internal/models"
	"github.com/nkiryanov/chronoflow/internal/repository"
)

// Domain of synthesized emails of users created on device registration
const PlaceholderDomain = "chronoflow.app"

const (
	base36         = "0123456789abcdefghijklmnopqrstuvwxyz"
	placeholderLen = 9
)

type CreateUserParams struct {
	Email     string
	Password  string
	FirstName *string
	LastName  *string
}

type UserService struct {
	hasher  PasswordHasher
	storage repository.Storage
}

func NewService(hasher PasswordHasher, storage repository.Storage) *UserService {
	if hasher == nil {
		hasher = DefaultHasher
	}

	return &UserService{
		hasher:  hasher,
		storage: storage,
	}
}

// WithStorage returns copy of service bound to another storage, usually a transaction
func (s *UserService) WithStorage(storage repository.Storage) *UserService {
	return &UserService{hasher: s.hasher, storage: storage}
}

// Create user that logs in with email and password
func (s *UserService) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	var user models.User

	if params.Password == "" {
		return user, errors.New("password must not be empty")
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	user, err = s.storage.User().CreateUser(ctx, repository.CreateUserParams{
		Email:          params.Email,
		HashedPassword: hash,
		FirstName:      params.FirstName,
		LastName:       params.LastName,
		Role:           models.RoleUser,
	})
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

// Create verified user without password owned by a device
// Such user can authenticate only with device tokens
func (s *UserService) CreateDeviceUser(ctx context.Context) (models.User, error) {
	var user models.User

	email, err := placeholderEmail(time.Now())
	if err != nil {
		return user, fmt.Errorf("can't generate placeholder email. Err: %w", err)
	}

	user, err = s.storage.User().CreateUser(ctx, repository.CreateUserParams{
		Email:      email,
		Role:       models.RoleUser,
		IsVerified: true,
	})
	if err != nil {
		return user, fmt.Errorf("can't create device user. Err: %w", err)
	}

	return user, nil
}

// Login user with email and password
// Return apperrors.ErrUserNotFound if no such user and apperrors.ErrInvalidPassword if password not match
func (s *UserService) Login(ctx context.Context, email string, password string) (models.User, error) {
	user, err := s.storage.User().GetUserByEmail(ctx, email)
	if err != nil {
		return user, fmt.Errorf("can't get user. Err: %w", err)
	}

	if !user.HasPassword() {
		return user, apperrors.ErrInvalidPassword
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return user, apperrors.ErrInvalidPassword
	}

	return user, nil
}

func (s *UserService) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.storage.User().GetUserByID(ctx, userID)
}

// device_<unix-ms>_<9 random base36 chars>@chronoflow.app
func placeholderEmail(now time.Time) (string, error) {
	suffix := make([]byte, placeholderLen)
	alphabet := big.NewInt(int64(len(base36)))

	for i := range suffix {
		n, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", err
		}
		suffix[i] = base36[n.Int64()]
	}

	return fmt.Sprintf("device_%d_%s@%s", now.UnixMilli(), suffix, PlaceholderDomain), nil
}
