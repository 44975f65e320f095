package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"thread-erp-go/internal/config"
	"thread-erp-go/pkg/logger"
)

const operatorHeader = "X-Operator"

type contextKey int

const operatorKey contextKey = iota

// TokenAuth guards the API with a static bearer token and resolves the acting operator.
type TokenAuth struct {
	token           string
	skipAuth        bool
	defaultOperator string
	log             logger.Logger
}

func NewTokenAuth(cfg config.AuthConfig, log logger.Logger) *TokenAuth {
	operator := strings.TrimSpace(cfg.Operator)
	if operator == "" {
		operator = "system"
	}
	return &TokenAuth{
		token:           strings.TrimSpace(cfg.APIToken),
		skipAuth:        cfg.SkipAuth,
		defaultOperator: operator,
		log:             log,
	}
}

func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.skipAuth && a.token != "" {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
				a.log.Warn("auth: rejected request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				unauthorized(w)
				return
			}
		}

		operator := strings.TrimSpace(r.Header.Get(operatorHeader))
		if operator == "" {
			operator = a.defaultOperator
		}

		ctx := WithOperator(r.Context(), operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(value string) (string, bool) {
	parts := strings.Fields(value)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
}

func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey, operator)
}

func OperatorFromContext(ctx context.Context) (string, bool) {
	value := ctx.Value(operatorKey)
	operator, ok := value.(string)
	if !ok || operator == "" {
		return "", false
	}
	return operator, true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
