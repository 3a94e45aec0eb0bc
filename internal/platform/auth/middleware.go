package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey      contextKey = "user_id"
	SelectedOrgKey contextKey = "selected_org_id"
)

// Claims is the session carried by a bearer token. OrgID is the selected
// organisation, empty until one is chosen.
type Claims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id,omitempty"`
}

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
	Skipper    func(echo.Context) bool
}

// TokenIssuer signs session tokens.
type TokenIssuer struct {
	issuer string
	key    []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(issuer string, key []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{issuer: issuer, key: key, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for userID with orgID selected. A nil orgID
// leaves the selection open.
func (ti *TokenIssuer) Issue(userID, orgID uuid.UUID) (string, time.Time, error) {
	now := ti.now()
	exp := now.Add(ti.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    ti.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if orgID != uuid.Nil {
		claims.OrgID = orgID.String()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}
			var orgID uuid.UUID
			if claims.OrgID != "" {
				orgID, err = uuid.Parse(claims.OrgID)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid token organisation")
				}
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UserIDKey, userID)
			ctx = context.WithValue(ctx, SelectedOrgKey, orgID)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) uuid.UUID {
	uid, _ := ctx.Value(UserIDKey).(uuid.UUID)
	return uid
}

func SelectedOrgFromContext(ctx context.Context) uuid.UUID {
	oid, _ := ctx.Value(SelectedOrgKey).(uuid.UUID)
	return oid
}
