package negotiation

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// LocalAPIVersion is the version of the daemon's local HTTP API that
// clients announce in Storefront-Client.
const LocalAPIVersion = "1.0.0"

type contextKey string

// ClientContextKey stores the caller's ClientInfo in request context.
const ClientContextKey contextKey = "storefront_client"

// Middleware reads the optional Storefront-Client header from UI requests.
// A malformed header or a client built for another major version of the
// local API is rejected with 400. Requests without the header pass through.
// Stores ClientInfo in request context for logging and handlers.
func Middleware(apiVersion string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(ClientHeaderName)
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			info, err := ParseClientHeader(header)
			if err != nil {
				logger.Warn("invalid Storefront-Client header",
					slog.String("header", header),
					slog.String("error", err.Error()))
				writeNegotiationError(w, http.StatusBadRequest, "INVALID_CLIENT_HEADER", err.Error())
				return
			}

			if err := Compatible(apiVersion, info.Version); err != nil {
				writeNegotiationError(w, http.StatusBadRequest, VersionUnsupported, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), ClientContextKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// isExemptPath returns true for infrastructure paths that never need the header.
func isExemptPath(path string) bool {
	switch {
	case path == "/health" || path == "/healthz":
		return true
	case path == "/metrics":
		return true
	case strings.HasPrefix(path, "/mcp"):
		return true
	default:
		return false
	}
}

// writeNegotiationError writes the standard error envelope.
func writeNegotiationError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{}
	resp.Error.Code = code
	resp.Error.Message = message

	json.NewEncoder(w).Encode(resp)
}

// GetClientInfo retrieves the caller's ClientInfo from request context.
// ok is false when the request carried no Storefront-Client header.
func GetClientInfo(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(ClientContextKey).(ClientInfo)
	return info, ok
}
