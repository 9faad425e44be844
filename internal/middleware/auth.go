package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/mihaisavezi/sider-gateway/internal/config"
)

// Auth error codes returned in the error body.
const (
	CodeMissingAuth       = "MISSING_AUTH"
	CodeInvalidAuthFormat = "INVALID_AUTH_FORMAT"
	CodeEmptyToken        = "EMPTY_TOKEN"
	CodeInvalidToken      = "INVALID_TOKEN"
)

// DummyToken is what Claude Code sends when pointed at a local gateway.
const DummyToken = "dummy"

const minTokenLength = 10

const (
	AuthTypeBearer = "bearer"
	AuthTypeAPIKey = "x-api-key"
)

// AuthInfo is the credential a request was accepted with.
type AuthInfo struct {
	Token string
	Type  string
}

type authContextKey struct{}

// AuthFromContext returns the credential stored by the auth middleware.
func AuthFromContext(ctx context.Context) (AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey{}).(AuthInfo)
	return info, ok
}

// WithAuth stores info in ctx.
func WithAuth(ctx context.Context, info AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey{}, info)
}

type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

var bearerPattern = regexp.MustCompile(`(?i)^bearer\s+(.+)$`)

type AuthMiddleware struct {
	config *config.Manager
	logger *slog.Logger
}

func NewAuthMiddleware(config *config.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	am := &AuthMiddleware{
		config: config,
		logger: logger,
	}

	return am.middleware
}

func (am *AuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := am.authenticate(r)
		if err != nil {
			am.logger.Warn("Authentication failed", "code", err.Code, "error", err.Message, "remote_addr", r.RemoteAddr)
			writeAuthError(w, err)

			return
		}

		prefix := info.Token
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
		am.logger.Debug("Auth successful", "token_prefix", prefix+"...", "type", info.Type)

		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), info)))
	})
}

func (am *AuthMiddleware) authenticate(r *http.Request) (AuthInfo, *AuthError) {
	info, err := ExtractToken(r)
	if err != nil {
		return AuthInfo{}, err
	}

	if !validToken(info.Token, am.config.Get().AuthToken) {
		return AuthInfo{}, &AuthError{Code: CodeInvalidToken, Message: "Invalid token"}
	}

	return info, nil
}

// ExtractToken reads the caller credential. x-api-key wins over
// Authorization.
func ExtractToken(r *http.Request) (AuthInfo, *AuthError) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return AuthInfo{Token: key, Type: AuthTypeAPIKey}, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return AuthInfo{}, &AuthError{
			Code:    CodeMissingAuth,
			Message: `Missing authentication. Provide either "Authorization: Bearer <token>" or "x-api-key: <token>" header`,
		}
	}

	match := bearerPattern.FindStringSubmatch(header)
	if match == nil {
		return AuthInfo{}, &AuthError{
			Code:    CodeInvalidAuthFormat,
			Message: "Invalid Authorization header format. Expected: Bearer <token>",
		}
	}

	token := strings.TrimSpace(match[1])
	if token == "" {
		return AuthInfo{}, &AuthError{Code: CodeEmptyToken, Message: "Empty token in Authorization header"}
	}

	return AuthInfo{Token: token, Type: AuthTypeBearer}, nil
}

// validToken requires an exact match when the gateway has its own token.
// Otherwise it accepts the dummy token and anything of plausible length.
func validToken(token, expected string) bool {
	if expected != "" {
		return token == expected
	}
	if token == DummyToken {
		return true
	}
	return len(token) >= minTokenLength
}

func writeAuthError(w http.ResponseWriter, err *AuthError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    "authentication_error",
			"message": err.Message,
			"code":    err.Code,
		},
	})
}
