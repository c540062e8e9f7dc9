package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/vaidashi/lavender-orders/internal/models"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

const (
	// CookieName is the admin session cookie
	CookieName = "admin_session"
	issuer     = "lavender-orders"
)

type contextKey struct{}

// Config configures the Authenticator
type Config struct {
	// PasswordHash is the bcrypt hash of the admin password
	PasswordHash string
	Secret       []byte
	TTL          time.Duration
	CookieSecure bool
	Now          func() time.Time
}

// Authenticator issues and checks admin session tokens
type Authenticator struct {
	hash         []byte
	secret       []byte
	ttl          time.Duration
	cookieSecure bool
	now          func() time.Time
	logger       logger.Logger
}

// HashPassword returns the bcrypt hash of password
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// New creates a new Authenticator
func New(cfg Config, log logger.Logger) (*Authenticator, error) {
	if strings.TrimSpace(cfg.PasswordHash) == "" {
		return nil, errors.New("auth: admin password hash is required")
	}

	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: session secret is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Authenticator{
		hash:         []byte(cfg.PasswordHash),
		secret:       cfg.Secret,
		ttl:          ttl,
		cookieSecure: cfg.CookieSecure,
		now:          now,
		logger:       log,
	}, nil
}

// Login checks password and returns a signed session token with its expiry
func (a *Authenticator) Login(password string) (string, time.Time, error) {
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		a.logger.Warn("Admin login rejected")
		return "", time.Time{}, apperrors.NewUnauthorizedError("Invalid password")
	}

	issued := a.now().UTC()
	expires := issued.Add(a.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   models.ActorAdmin,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(expires),
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, apperrors.NewInternalError("Failed to sign session")
	}

	a.logger.Info("Admin logged in", "expiresAt", expires)
	return signed, expires, nil
}

// Verify checks a session token and returns its subject
func (a *Authenticator) Verify(tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)

	if err != nil || !token.Valid {
		return "", apperrors.NewUnauthorizedError("Invalid or expired session")
	}

	if claims.Subject == "" {
		return "", apperrors.NewUnauthorizedError("Invalid or expired session")
	}

	return claims.Subject, nil
}

// SessionCookie returns the cookie carrying token
func (a *Authenticator) SessionCookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie returns a cookie that removes the session
func (a *Authenticator) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Middleware rejects requests without a valid session and records the actor
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)

		if token == "" {
			writeUnauthorized(w, "Authentication required")
			return
		}

		subject, err := a.Verify(token)
		if err != nil {
			writeUnauthorized(w, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), subject)))
	})
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}

	return ""
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// WithActor stores the authenticated actor on ctx
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorFromContext returns the authenticated actor, or admin when none is set
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(contextKey{}).(string); ok && actor != "" {
		return actor
	}
	return models.ActorAdmin
}
