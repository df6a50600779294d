package auth

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/chronoflow/internal/apperrors"
	"github.com/nkiryanov/chronoflow/internal/logger"
	"github.com/nkiryanov/chronoflow/internal/models"
	"github.com/nkiryanov/chronoflow/internal/repository"
	"github.com/nkiryanov/chronoflow/internal/repository/postgres"
	"github.com/nkiryanov/chronoflow/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/chronoflow/internal/service/user"
	"github.com/nkiryanov/chronoflow/internal/testutil"
)

func requireAppError(t *testing.T, err error, status int) {
	t.Helper()

	appErr, ok := apperrors.As(err)
	require.Truef(t, ok, "expected *apperrors.Error, got %v", err)
	require.Equalf(t, status, appErr.Status, "unexpected status, err: %v", err)
	require.NotEmpty(t, appErr.Message)
}

func newService(t *testing.T, db postgres.DBTX, cfg Config, tokenCfg tokenmanager.Config) (*AuthService, repository.Storage) {
	t.Helper()

	storage := postgres.NewStorage(db)
	tokenCfg.AccessSecret = "test-access-secret"
	tokenCfg.RefreshSecret = "test-refresh-secret"

	tokens, err := tokenmanager.New(tokenCfg, storage)
	require.NoError(t, err, "token manager should be created without errors")

	s, err := NewService(cfg, storage, user.NewService(nil, storage), tokens, logger.NewNoOpLogger())
	require.NoError(t, err, "auth service should be created without errors")

	return s, storage
}

func Test_Auth(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	withTx := func(t *testing.T, fn func(s *AuthService, storage repository.Storage)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s, storage := newService(t, tx, Config{}, tokenmanager.Config{})
			fn(s, storage)
		})
	}

	registerParams := user.CreateUserParams{Email: "marty@example.com", Password: "password123"}

	t.Run("new auth service defaults", func(t *testing.T) {
		s, err := NewService(Config{}, nil, nil, nil, nil)
		require.NoError(t, err, "auth service should be created without errors")

		require.Equal(t, defaultAccessHeaderName, s.accessHeaderName, "default access header name should be set")
		require.Equal(t, defaultAccessAuthScheme, s.accessAuthScheme, "default access auth")
		require.Equal(t, defaultQRCodeTTL, s.qrCodeTTL, "default qr code ttl should be set")
		require.NotNil(t, s.logger)
	})

	t.Run("new auth service negative qr ttl", func(t *testing.T) {
		_, err := NewService(Config{QRCodeTTL: -time.Second}, nil, nil, nil, nil)
		require.Error(t, err)
	})

	t.Run("Register", func(t *testing.T) {
		t.Run("new user ok", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				session, err := s.Register(t.Context(), registerParams)

				require.NoError(t, err)
				require.Equal(t, "marty@example.com", session.User.Email)
				require.NotEmpty(t, session.Tokens.Access.Value)
				require.NotEmpty(t, session.Tokens.Refresh.Value)
				require.Nil(t, session.Device)
			})
		})

		t.Run("existed email conflict", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				_, err := s.Register(t.Context(), registerParams)
				require.NoError(t, err)

				_, err = s.Register(t.Context(), registerParams)

				requireAppError(t, err, http.StatusConflict)
				require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
			})
		})
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("login ok", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				registered, err := s.Register(t.Context(), registerParams)
				require.NoError(t, err)

				session, err := s.Login(t.Context(), "marty@example.com", "password123")

				require.NoError(t, err)
				require.Equal(t, registered.User.ID, session.User.ID)
				require.NotEqual(t, registered.Tokens.Refresh.Value, session.Tokens.Refresh.Value)
			})
		})

		t.Run("user not found", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				_, err := s.Login(t.Context(), "nobody@example.com", "password123")

				requireAppError(t, err, http.StatusNotFound)
			})
		})

		t.Run("wrong password", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				_, err := s.Register(t.Context(), registerParams)
				require.NoError(t, err)

				_, err = s.Login(t.Context(), "marty@example.com", "wrong-password")

				requireAppError(t, err, http.StatusBadRequest)
			})
		})

		t.Run("device user can't login with password", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				session, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)

				_, err = s.Login(t.Context(), session.User.Email, "")

				requireAppError(t, err, http.StatusBadRequest)
			})
		})
	})

	t.Run("RegisterDevice", func(t *testing.T) {
		t.Run("new device creates placeholder user", func(t *testing.T) {
			withTx(t, func(s *AuthService, storage repository.Storage) {
				info := testutil.DeviceInfo(testutil.VendorID())

				session, err := s.RegisterDevice(t.Context(), info, testutil.LocationInfo())

				require.NoError(t, err)
				require.NotNil(t, session.Device)
				require.True(t, session.Device.IsPrimary, "first device of the user is primary")
				require.Equal(t, session.User.ID, *session.Device.UserID)
				require.Regexp(t, `^device_\d+_[0-9a-z]{9}@chronoflow\.app$`, session.User.Email)
				require.False(t, session.User.HasPassword())
				require.True(t, session.User.IsVerified)

				grant, err := storage.DeviceAuth().Get(t.Context(), session.Tokens.Refresh.Value)
				require.NoError(t, err)
				require.Equal(t, session.Device.ID, *grant.DeviceID)
				require.Equal(t, session.User.ID, grant.UserID)
			})
		})

		t.Run("known device reuses user and device", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				info := testutil.DeviceInfo(testutil.VendorID())
				first, err := s.RegisterDevice(t.Context(), info, testutil.LocationInfo())
				require.NoError(t, err)

				info.SystemVersion = "18.1"
				location := testutil.LocationInfo()
				location.Latitude = 10
				second, err := s.RegisterDevice(t.Context(), info, location)

				require.NoError(t, err)
				require.Equal(t, first.Device.ID, second.Device.ID)
				require.Equal(t, first.User.ID, second.User.ID)
				require.Equal(t, "18.1", second.Device.Info.SystemVersion, "device info should be refreshed")
				require.Equal(t, float64(10), second.Device.Location.Latitude, "location should be refreshed")
				require.NotEqual(t, first.Tokens.Refresh.Value, second.Tokens.Refresh.Value)
			})
		})

		t.Run("vendor id required", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				_, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(""), testutil.LocationInfo())

				requireAppError(t, err, http.StatusBadRequest)
			})
		})

		t.Run("known device without user", func(t *testing.T) {
			withTx(t, func(s *AuthService, storage repository.Storage) {
				info := testutil.DeviceInfo(testutil.VendorID())
				_, err := storage.Device().CreateDevice(t.Context(), repository.CreateDeviceParams{Info: info, Location: testutil.LocationInfo()})
				require.NoError(t, err)

				_, err = s.RegisterDevice(t.Context(), info, testutil.LocationInfo())

				requireAppError(t, err, http.StatusNotFound)
			})
		})

		// Runs on the pool: every registration has its own transaction
		t.Run("concurrent registrations create single device", func(t *testing.T) {
			s, _ := newService(t, pg.Pool, Config{}, tokenmanager.Config{})
			info := testutil.DeviceInfo(testutil.VendorID())

			const callers = 10
			sessions := make([]Session, callers)
			errs := make([]error, callers)

			var wg sync.WaitGroup
			for i := range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					sessions[i], errs[i] = s.RegisterDevice(t.Context(), info, testutil.LocationInfo())
				}()
			}
			wg.Wait()

			refreshes := make(map[string]struct{}, callers)
			for i := range callers {
				require.NoError(t, errs[i])
				require.Equal(t, sessions[0].Device.ID, sessions[i].Device.ID, "all callers must get the same device")
				require.Equal(t, sessions[0].User.ID, sessions[i].User.ID)
				refreshes[sessions[i].Tokens.Refresh.Value] = struct{}{}
			}
			require.Len(t, refreshes, callers, "every caller gets its own token pair")
		})

		// Separate services do not share in-process deduplication, only the database resolves the race
		t.Run("registrations through separate services create single device", func(t *testing.T) {
			const instances = 4
			services := make([]*AuthService, instances)
			for i := range instances {
				services[i], _ = newService(t, pg.Pool, Config{}, tokenmanager.Config{})
			}
			_, storage := newService(t, pg.Pool, Config{}, tokenmanager.Config{})
			info := testutil.DeviceInfo(testutil.VendorID())

			const callers = 3 * instances
			sessions := make([]Session, callers)
			errs := make([]error, callers)

			var wg sync.WaitGroup
			for i := range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					sessions[i], errs[i] = services[i%instances].RegisterDevice(t.Context(), info, testutil.LocationInfo())
				}()
			}
			wg.Wait()

			for i := range callers {
				require.NoError(t, errs[i])
				require.Equal(t, sessions[0].Device.ID, sessions[i].Device.ID, "all callers must get the same device")
				require.Equal(t, sessions[0].User.ID, sessions[i].User.ID, "all callers must get the same user")
			}

			device, err := storage.Device().GetDeviceByVendorID(t.Context(), info.IdentifierForVendor)
			require.NoError(t, err)
			require.Equal(t, sessions[0].Device.ID, device.ID)
			require.NotNil(t, device.UserID)
			require.Equal(t, sessions[0].User.ID, *device.UserID)
			require.True(t, device.IsPrimary)

			_, err = storage.User().GetUserByID(t.Context(), sessions[0].User.ID)
			require.NoError(t, err)
		})
	})

	t.Run("CheckDeviceRegistration", func(t *testing.T) {
		t.Run("unknown device", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				reg, err := s.CheckDeviceRegistration(t.Context(), testutil.DeviceInfo(testutil.VendorID()))

				require.NoError(t, err)
				require.False(t, reg.IsRegistered)
				require.Equal(t, uuid.Nil, reg.DeviceID)
			})
		})

		t.Run("known device", func(t *testing.T) {
			withTx(t, func(s *AuthService, storage repository.Storage) {
				info := testutil.DeviceInfo(testutil.VendorID())
				session, err := s.RegisterDevice(t.Context(), info, testutil.LocationInfo())
				require.NoError(t, err)

				info.Name = "Renamed iPhone"
				reg, err := s.CheckDeviceRegistration(t.Context(), info)

				require.NoError(t, err)
				require.True(t, reg.IsRegistered)
				require.Equal(t, session.Device.ID, reg.DeviceID)

				device, err := storage.Device().GetDeviceByID(t.Context(), reg.DeviceID)
				require.NoError(t, err)
				require.Equal(t, "Renamed iPhone", device.Info.Name)
			})
		})

		t.Run("vendor id required", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				_, err := s.CheckDeviceRegistration(t.Context(), testutil.DeviceInfo(""))

				requireAppError(t, err, http.StatusBadRequest)
			})
		})
	})

	t.Run("GenerateQRCode", func(t *testing.T) {
		t.Run("code issued", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				session, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)

				qr, err := s.GenerateQRCode(t.Context(), models.Principal{UserID: session.User.ID, DeviceID: session.Device.ID})

				require.NoError(t, err)
				_, err = uuid.Parse(qr.Auth.Code)
				require.NoError(t, err, "code must be uuid")
				require.False(t, qr.Auth.IsUsed)
				require.Equal(t, session.User.ID, qr.Auth.UserID)
				require.Equal(t, session.Device.ID, qr.Auth.DeviceID)
				require.Equal(t, session.Device.ID, qr.Device.ID)
				require.WithinDuration(t, time.Now().Add(5*time.Minute), qr.Auth.ExpiresAt, time.Second)
			})
		})

		t.Run("password session rejected", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				_, err := s.GenerateQRCode(t.Context(), models.Principal{UserID: uuid.New()})

				requireAppError(t, err, http.StatusUnauthorized)
			})
		})

		t.Run("device of another user", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				session, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)

				_, err = s.GenerateQRCode(t.Context(), models.Principal{UserID: uuid.New(), DeviceID: session.Device.ID})

				requireAppError(t, err, http.StatusNotFound)
			})
		})
	})

	t.Run("AuthenticateWithQRCode", func(t *testing.T) {
		issueCode := func(t *testing.T, s *AuthService) (Session, QRCode) {
			primary, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
			require.NoError(t, err)
			qr, err := s.GenerateQRCode(t.Context(), models.Principal{UserID: primary.User.ID, DeviceID: primary.Device.ID})
			require.NoError(t, err)
			return primary, qr
		}

		t.Run("pair secondary device", func(t *testing.T) {
			withTx(t, func(s *AuthService, storage repository.Storage) {
				primary, qr := issueCode(t, s)

				session, err := s.AuthenticateWithQRCode(t.Context(), qr.Auth.Code, testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())

				require.NoError(t, err)
				require.Equal(t, primary.User.ID, session.User.ID, "secondary device joins primary's user")
				require.NotEqual(t, primary.Device.ID, session.Device.ID)
				require.False(t, session.Device.IsPrimary)

				p, err := s.tokens.ParseAccess(t.Context(), session.Tokens.Access.Value)
				require.NoError(t, err)
				require.Equal(t, models.Principal{UserID: primary.User.ID, DeviceID: session.Device.ID}, p)

				code, err := storage.QRCode().Get(t.Context(), qr.Auth.Code)
				require.NoError(t, err)
				require.True(t, code.IsUsed)
			})
		})

		t.Run("device without vendor id", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				_, qr := issueCode(t, s)

				_, err := s.AuthenticateWithQRCode(t.Context(), qr.Auth.Code, testutil.DeviceInfo(""), testutil.LocationInfo())

				require.NoError(t, err)
			})
		})

		t.Run("code is single use", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				_, qr := issueCode(t, s)
				_, err := s.AuthenticateWithQRCode(t.Context(), qr.Auth.Code, testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)

				_, err = s.AuthenticateWithQRCode(t.Context(), qr.Auth.Code, testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())

				requireAppError(t, err, http.StatusBadRequest)
			})
		})

		t.Run("unknown code", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				_, err := s.AuthenticateWithQRCode(t.Context(), uuid.NewString(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())

				requireAppError(t, err, http.StatusBadRequest)
			})
		})

		t.Run("expired code", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				s, _ := newService(t, tx, Config{QRCodeTTL: 10 * time.Millisecond}, tokenmanager.Config{})
				_, qr := issueCode(t, s)

				time.Sleep(50 * time.Millisecond)
				_, err := s.AuthenticateWithQRCode(t.Context(), qr.Auth.Code, testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())

				requireAppError(t, err, http.StatusBadRequest)
			})
		})

		t.Run("device of another user moves to code owner", func(t *testing.T) {
			withTx(t, func(s *AuthService, storage repository.Storage) {
				primary, qr := issueCode(t, s)
				other, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)

				info := other.Device.Info
				info.Name = "Moved iPhone"
				session, err := s.AuthenticateWithQRCode(t.Context(), qr.Auth.Code, info, testutil.LocationInfo())

				require.NoError(t, err)
				require.Equal(t, other.Device.ID, session.Device.ID, "device keeps its identity")
				require.Equal(t, primary.User.ID, session.User.ID)

				device, err := storage.Device().GetDeviceByID(t.Context(), other.Device.ID)
				require.NoError(t, err)
				require.NotNil(t, device.UserID)
				require.Equal(t, primary.User.ID, *device.UserID)
				require.False(t, device.IsPrimary)
				require.Equal(t, "Moved iPhone", device.Info.Name)

				p, err := s.tokens.ParseAccess(t.Context(), session.Tokens.Access.Value)
				require.NoError(t, err)
				require.Equal(t, models.Principal{UserID: primary.User.ID, DeviceID: other.Device.ID}, p)

				_, err = s.RefreshToken(t.Context(), other.Tokens.Refresh.Value)
				requireAppError(t, err, http.StatusBadRequest)
			})
		})

		t.Run("device of code owner conflict", func(t *testing.T) {
			withTx(t, func(s *AuthService, storage repository.Storage) {
				primary, qr := issueCode(t, s)

				_, err := s.AuthenticateWithQRCode(t.Context(), qr.Auth.Code, primary.Device.Info, testutil.LocationInfo())

				requireAppError(t, err, http.StatusConflict)

				code, err := storage.QRCode().Get(t.Context(), qr.Auth.Code)
				require.NoError(t, err)
				require.False(t, code.IsUsed, "failed redemption must not use the code")

				_, err = s.AuthenticateWithQRCode(t.Context(), qr.Auth.Code, testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)
			})
		})

		// Runs on the pool: redemptions race in separate transactions
		t.Run("concurrent redemption has single winner", func(t *testing.T) {
			s, _ := newService(t, pg.Pool, Config{}, tokenmanager.Config{})
			_, qr := issueCode(t, s)

			const racers = 8
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for range racers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.AuthenticateWithQRCode(t.Context(), qr.Auth.Code, testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, wins, "exactly one device must be paired")
		})
	})

	t.Run("RefreshToken", func(t *testing.T) {
		t.Run("refresh ok", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				registered, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)

				session, err := s.RefreshToken(t.Context(), registered.Tokens.Refresh.Value)

				require.NoError(t, err)
				require.Equal(t, registered.User.ID, session.User.ID)
				require.NotEqual(t, registered.Tokens.Refresh.Value, session.Tokens.Refresh.Value)

				p, err := s.tokens.ParseAccess(t.Context(), session.Tokens.Access.Value)
				require.NoError(t, err)
				require.Equal(t, registered.Device.ID, p.DeviceID, "device binding must be kept")
				require.NotNil(t, session.Device)
				require.Equal(t, registered.Device.ID, session.Device.ID)
			})
		})

		t.Run("old token stays valid", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				registered, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)
				_, err = s.RefreshToken(t.Context(), registered.Tokens.Refresh.Value)
				require.NoError(t, err)

				_, err = s.RefreshToken(t.Context(), registered.Tokens.Refresh.Value)

				require.NoError(t, err)
			})
		})

		t.Run("strict rotation rejects reuse", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				s, _ := newService(t, tx, Config{}, tokenmanager.Config{StrictRotation: true})
				registered, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)
				_, err = s.RefreshToken(t.Context(), registered.Tokens.Refresh.Value)
				require.NoError(t, err)

				_, err = s.RefreshToken(t.Context(), registered.Tokens.Refresh.Value)

				requireAppError(t, err, http.StatusBadRequest)
			})
		})

		t.Run("password session", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				registered, err := s.Register(t.Context(), registerParams)
				require.NoError(t, err)

				session, err := s.RefreshToken(t.Context(), registered.Tokens.Refresh.Value)

				require.NoError(t, err)
				p, err := s.tokens.ParseAccess(t.Context(), session.Tokens.Access.Value)
				require.NoError(t, err)
				require.False(t, p.HasDevice())
				require.Nil(t, session.Device)
			})
		})

		t.Run("unknown token", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				_, err := s.RefreshToken(t.Context(), "unknown")

				requireAppError(t, err, http.StatusBadRequest)
			})
		})

		t.Run("empty token", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				_, err := s.RefreshToken(t.Context(), "")

				requireAppError(t, err, http.StatusBadRequest)
			})
		})

		t.Run("expired token", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				s, _ := newService(t, tx, Config{}, tokenmanager.Config{RefreshTTL: time.Second})
				registered, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)

				time.Sleep(time.Second)
				_, err = s.RefreshToken(t.Context(), registered.Tokens.Refresh.Value)

				requireAppError(t, err, http.StatusBadRequest)
			})
		})
	})

	t.Run("CheckDevice", func(t *testing.T) {
		t.Run("own device", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				session, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)
				principal := models.Principal{UserID: session.User.ID, DeviceID: session.Device.ID}

				device, err := s.CheckDevice(t.Context(), principal, session.Device.ID)

				require.NoError(t, err)
				require.Equal(t, session.Device.ID, device.ID)
			})
		})

		t.Run("device of another user", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				mine, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)
				other, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)

				_, err = s.CheckDevice(t.Context(), models.Principal{UserID: mine.User.ID, DeviceID: mine.Device.ID}, other.Device.ID)

				requireAppError(t, err, http.StatusNotFound)
			})
		})

		t.Run("unknown device", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				_, err := s.CheckDevice(t.Context(), models.Principal{UserID: uuid.New(), DeviceID: uuid.New()}, uuid.New())

				requireAppError(t, err, http.StatusNotFound)
			})
		})

		t.Run("password session rejected", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				_, err := s.CheckDevice(t.Context(), models.Principal{UserID: uuid.New()}, uuid.New())

				requireAppError(t, err, http.StatusUnauthorized)
			})
		})
	})

	t.Run("Me", func(t *testing.T) {
		t.Run("profile", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				registered, err := s.Register(t.Context(), registerParams)
				require.NoError(t, err)

				u, err := s.Me(t.Context(), registered.User.ID)

				require.NoError(t, err)
				require.Equal(t, registered.User, u)
			})
		})

		t.Run("not found", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				_, err := s.Me(t.Context(), uuid.New())

				requireAppError(t, err, http.StatusNotFound)
			})
		})
	})

	t.Run("Authenticate", func(t *testing.T) {
		request := func(header string) *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if header != "" {
				r.Header.Set("Authorization", header)
			}
			return r
		}

		t.Run("valid bearer", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				session, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)

				p, err := s.Authenticate(t.Context(), request("Bearer "+session.Tokens.Access.Value))

				require.NoError(t, err)
				require.Equal(t, models.Principal{UserID: session.User.ID, DeviceID: session.Device.ID}, p)
			})
		})

		t.Run("invalid", func(t *testing.T) {
			withTx(t, func(s *AuthService, _ repository.Storage) {
				session, err := s.RegisterDevice(t.Context(), testutil.DeviceInfo(testutil.VendorID()), testutil.LocationInfo())
				require.NoError(t, err)

				for _, header := range []string{
					"",
					"Bearer",
					"Bearer ",
					"Basic " + session.Tokens.Access.Value,
					"Bearer not-a-token",
					"Bearer " + session.Tokens.Refresh.Value,
				} {
					_, err := s.Authenticate(t.Context(), request(header))
					requireAppError(t, err, http.StatusUnauthorized)
				}
			})
		})
	})
}
