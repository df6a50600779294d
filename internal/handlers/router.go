package handlers

import (
	"net/http"

	"github.com/nkiryanov/chronoflow/internal/apperrors"
	"github.com/nkiryanov/chronoflow/internal/handlers/middleware"
	"github.com/nkiryanov/chronoflow/internal/handlers/render"
	"github.com/nkiryanov/chronoflow/internal/logger"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	qrLimit func(http.Handler) http.Handler,
	proxies middleware.TrustedProxies,
	logger logger.Logger,
) http.Handler {
	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", NewAuth(authService, qrLimit, logger).Handler()))
	root.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, map[string]string{"status": "ok"})
	})

	handler := chain(withJSONFallback(root),
		middleware.RealIP(proxies),
		middleware.Logger(logger),
	)

	return handler
}

// Captures mux's own not found and method not allowed replies
type fallbackWriter struct {
	header http.Header
	status int
}

func (w *fallbackWriter) Header() http.Header         { return w.header }
func (w *fallbackWriter) Write(p []byte) (int, error) { return len(p), nil }
func (w *fallbackWriter) WriteHeader(status int)      { w.status = status }

// withJSONFallback renders 404 and 405 of unmatched requests as error envelope
func withJSONFallback(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, pattern := mux.Handler(r)
		if pattern != "" {
			mux.ServeHTTP(w, r)
			return
		}

		fw := &fallbackWriter{header: http.Header{}, status: http.StatusOK}
		h.ServeHTTP(fw, r)

		switch fw.status {
		case http.StatusMethodNotAllowed:
			w.Header().Set("Allow", fw.header.Get("Allow"))
			render.Error(w, r, apperrors.MethodNotAllowed("Method not allowed"))
		case http.StatusNotFound:
			render.Error(w, r, apperrors.NotFound("Route not found"))
		default:
			// Redirects and anything else the mux decides on its own
			mux.ServeHTTP(w, r)
		}
	})
}
