package validators

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
)

// PathParam returns the unescaped, sanitized chi URL parameter, or a validation error when empty.
func PathParam(r *http.Request, key string, maxLen int) (string, error) {
	raw := chi.URLParam(r, key)
	value, err := url.PathUnescape(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid path parameter").WithDetails(map[string]any{"field": key})
	}
	value = SanitizeString(value, maxLen)
	if value == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "path parameter is required").WithDetails(map[string]any{"field": key})
	}
	return value, nil
}

// QueryParam returns the sanitized query value, or "" when absent.
func QueryParam(r *http.Request, key string, maxLen int) string {
	return SanitizeString(r.URL.Query().Get(key), maxLen)
}
