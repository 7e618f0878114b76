package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/cartsync/pkg/cartapi"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// RequestID tags the request with an id, echoes it back, and forwards it to the remote cart service.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}

			w.Header().Set(requestIDHeader, reqID)

			ctx := cartapi.WithRequestID(r.Context(), reqID)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
