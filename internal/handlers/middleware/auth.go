package middleware

import (
	"context"
	"net/http"

	"github.com/nkiryanov/chronoflow/internal/apperrors"
	"github.com/nkiryanov/chronoflow/internal/handlers/render"
	"github.com/nkiryanov/chronoflow/internal/handlers/userctx"
	"github.com/nkiryanov/chronoflow/internal/models"
)

type authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (models.Principal, error)
}

// Auth rejects request without valid access token
// Principal is put to request context, get it with userctx.FromContext
func Auth(a authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.Authenticate(r.Context(), r)
			if err != nil {
				if _, ok := apperrors.As(err); !ok {
					err = apperrors.Authentication("").With(err)
				}
				render.Error(w, r, err)
				return
			}

			ctx := userctx.New(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
