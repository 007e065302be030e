package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	appctx "github.com/welldanyogia/llmbot-stream/internal/context"
)

// UserIDHeader is set by the chat platform on requests it forwards to the plugin
const UserIDHeader = "Mattermost-User-Id"

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// RequireUser rejects requests that did not come through the platform with a user attached
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			WriteError(w, http.StatusUnauthorized, "USER_MISSING", "Not authorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(appctx.WithUserID(r.Context(), userID)))
	})
}

// ExtractUserID extracts the user ID from the request context
func ExtractUserID(ctx context.Context) (string, bool) {
	return appctx.ExtractUserID(ctx)
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeErrorResponse(w, statusCode, ErrorDetail{Code: code, Message: message})
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, detail ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success:   false,
		Error:     detail,
		Timestamp: time.Now().UTC(),
	}

	_ = json.NewEncoder(w).Encode(response)
}
