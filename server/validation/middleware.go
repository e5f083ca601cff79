package validation

import (
	"mime"
	"net/http"

	"github.com/ai-nutritionist/backend/errors"
	"github.com/ai-nutritionist/backend/server/middleware"
)

// RequireJSON rejects requests with a body whose Content-Type is not
// application/json.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			mediaType, _, err := mime.ParseMediaType(ct)
			if err != nil || mediaType != "application/json" {
				errors.WriteError(w, errors.NewValidationError(
					middleware.GetRequestID(r.Context()),
					"Content-Type must be application/json",
					map[string]interface{}{
						"fields": []FieldError{{
							Field:   "header:Content-Type",
							Message: "Content-Type must be application/json",
							Code:    "invalid_content_type",
						}},
					},
				))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
