package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/chronoflow/internal/apperrors"
	"github.com/nkiryanov/chronoflow/internal/handlers/middleware"
	"github.com/nkiryanov/chronoflow/internal/handlers/render"
	"github.com/nkiryanov/chronoflow/internal/handlers/userctx"
	"github.com/nkiryanov/chronoflow/internal/logger"
	"github.com/nkiryanov/chronoflow/internal/models"
	"github.com/nkiryanov/chronoflow/internal/service/auth"
	"github.com/nkiryanov/chronoflow/internal/service/user"
)

type authService interface {
	Register(ctx context.Context, params user.CreateUserParams) (auth.Session, error)
	Login(ctx context.Context, email string, password string) (auth.Session, error)

	RegisterDevice(ctx context.Context, info models.DeviceInfo, location models.LocationInfo) (auth.Session, error)
	CheckDeviceRegistration(ctx context.Context, info models.DeviceInfo) (auth.DeviceRegistration, error)
	CheckDevice(ctx context.Context, principal models.Principal, deviceID uuid.UUID) (models.Device, error)

	GenerateQRCode(ctx context.Context, principal models.Principal) (auth.QRCode, error)
	AuthenticateWithQRCode(ctx context.Context, code string, info models.DeviceInfo, location models.LocationInfo) (auth.Session, error)

	RefreshToken(ctx context.Context, refresh string) (auth.Session, error)
	Me(ctx context.Context, userID uuid.UUID) (models.User, error)

	// Get request and return principal if it authenticated or error
	Authenticate(ctx context.Context, r *http.Request) (models.Principal, error)
}

type errorLogger interface {
	Error(msg string, args ...any)
}

type AuthHandler struct {
	authService authService
	logger      errorLogger

	// Applied to QR code redemption only
	qrLimit func(http.Handler) http.Handler
}

func NewAuth(as authService, qrLimit func(http.Handler) http.Handler, log errorLogger) *AuthHandler {
	if qrLimit == nil {
		qrLimit = func(h http.Handler) http.Handler { return h }
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &AuthHandler{authService: as, logger: log, qrLimit: qrLimit}
}

// Failure of the handler itself, services log their own errors
func (h *AuthHandler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "method", r.Method, "uri", r.RequestURI)
	render.Error(w, r, apperrors.Internal("Internal server error", err))
}

func (h *AuthHandler) Handler() http.Handler {
	withAuth := middleware.Auth(h.authService)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", h.register)
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("POST /refresh-token", h.refresh)

	mux.HandleFunc("POST /device/register", h.registerDevice)
	mux.HandleFunc("POST /device/check", h.checkDeviceRegistration)
	mux.Handle("GET /device/check/{deviceId}", withAuth(http.HandlerFunc(h.checkDevice)))

	mux.Handle("GET /qr-code", withAuth(http.HandlerFunc(h.generateQRCode)))
	mux.Handle("GET /qr-code/image", withAuth(http.HandlerFunc(h.qrCodeImage)))
	mux.Handle("POST /qr-code/authenticate", h.qrLimit(http.HandlerFunc(h.authenticateWithQRCode)))

	mux.Handle("GET /me", withAuth(http.HandlerFunc(h.me)))

	return withJSONFallback(mux)
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	type RegisterRequest struct {
		Email     string  `json:"email" validate:"required,email,max=255"`
		Password  string  `json:"password" validate:"required,min=8,max=128"`
		FirstName *string `json:"firstName" validate:"omitempty,max=100"`
		LastName  *string `json:"lastName" validate:"omitempty,max=100"`
	}

	data, err := render.BindAndValidate[RegisterRequest](w, r)
	if err != nil {
		return
	}

	session, err := h.authService.Register(r.Context(), user.CreateUserParams{
		Email:     data.Email,
		Password:  data.Password,
		FirstName: data.FirstName,
		LastName:  data.LastName,
	})
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.Created(w, newAuthResponse(session))
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	data, err := render.BindAndValidate[LoginRequest](w, r)
	if err != nil {
		return
	}

	session, err := h.authService.Login(r.Context(), data.Email, data.Password)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, newAuthResponse(session))
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	type RefreshRequest struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}

	data, err := render.BindAndValidate[RefreshRequest](w, r)
	if err != nil {
		return
	}

	session, err := h.authService.RefreshToken(r.Context(), data.RefreshToken)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, newAuthResponse(session))
}

func (h *AuthHandler) registerDevice(w http.ResponseWriter, r *http.Request) {
	type RegisterDeviceRequest struct {
		DeviceInfo   models.DeviceInfo   `json:"deviceInfo" validate:"required"`
		LocationInfo models.LocationInfo `json:"locationInfo" validate:"required"`
	}

	data, err := render.BindAndValidate[RegisterDeviceRequest](w, r)
	if err != nil {
		return
	}

	session, err := h.authService.RegisterDevice(r.Context(), data.DeviceInfo, data.LocationInfo)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	expiresAt := session.Tokens.Access.ExpiresAt
	render.Created(w, DeviceAuthResponse{
		DeviceToken:  session.Tokens.Access.Value,
		RefreshToken: session.Tokens.Refresh.Value,
		Device:       newDeviceResponse(*session.Device),
		Status:       statusAuthenticated,
		ExpiresAt:    &expiresAt,
	})
}

func (h *AuthHandler) checkDeviceRegistration(w http.ResponseWriter, r *http.Request) {
	type CheckDeviceRequest struct {
		DeviceInfo models.DeviceInfo `json:"deviceInfo" validate:"required"`
	}

	data, err := render.BindAndValidate[CheckDeviceRequest](w, r)
	if err != nil {
		return
	}

	reg, err := h.authService.CheckDeviceRegistration(r.Context(), data.DeviceInfo)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	resp := DeviceRegistrationResponse{IsRegistered: reg.IsRegistered}
	if reg.IsRegistered {
		resp.DeviceID = reg.DeviceID.String()
	}
	render.JSON(w, resp)
}

func (h *AuthHandler) checkDevice(w http.ResponseWriter, r *http.Request) {
	principal, _ := userctx.FromContext(r.Context())

	deviceID, err := uuid.Parse(r.PathValue("deviceId"))
	if err != nil {
		render.Error(w, r, apperrors.NotFound("Device not found"))
		return
	}

	device, err := h.authService.CheckDevice(r.Context(), principal, deviceID)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, DeviceAuthResponse{
		DeviceToken: device.ID.String(),
		Device:      newDeviceResponse(device),
		Status:      statusAuthenticated,
	})
}

func (h *AuthHandler) generateQRCode(w http.ResponseWriter, r *http.Request) {
	principal, _ := userctx.FromContext(r.Context())

	qr, err := h.authService.GenerateQRCode(r.Context(), principal)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	image, err := qrDataURI(qr.Auth.Code)
	if err != nil {
		h.serverError(w, r, "can't render qr code", err)
		return
	}

	render.JSON(w, DeviceAuthResponse{
		DeviceToken: qr.Auth.Code,
		QRCode:      image,
		Device:      newDeviceResponse(qr.Device),
		Status:      statusPending,
		ExpiresAt:   &qr.Auth.ExpiresAt,
	})
}

// PNG for clients that can't render data URI
func (h *AuthHandler) qrCodeImage(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if _, err := uuid.Parse(code); err != nil {
		render.Error(w, r, apperrors.Validation("Invalid QR code"))
		return
	}

	png, err := qrPNG(code)
	if err != nil {
		h.serverError(w, r, "can't render qr code image", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *AuthHandler) authenticateWithQRCode(w http.ResponseWriter, r *http.Request) {
	type QRAuthRequest struct {
		Code         string              `json:"code" validate:"required,max=64"`
		DeviceInfo   models.DeviceInfo   `json:"deviceInfo" validate:"required"`
		LocationInfo models.LocationInfo `json:"locationInfo" validate:"required"`
	}

	data, err := render.BindAndValidate[QRAuthRequest](w, r)
	if err != nil {
		return
	}

	session, err := h.authService.AuthenticateWithQRCode(r.Context(), data.Code, data.DeviceInfo, data.LocationInfo)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, newAuthResponse(session))
}

func (h *AuthHandler) me(w http.ResponseWriter, r *http.Request) {
	principal, _ := userctx.FromContext(r.Context())

	u, err := h.authService.Me(r.Context(), principal.UserID)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	render.JSON(w, newProfileResponse(u))
}
