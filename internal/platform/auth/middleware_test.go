package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runJWT(t *testing.T, cfg JWTConfig, header string, handler echo.HandlerFunc) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return JWTMiddleware(cfg)(handler)(c)
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "", okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, tt.header, okHandler)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	userID := uuid.New()
	orgID := uuid.New()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		OrgID: orgID.String(),
	}
	tokenStr := createTestToken(t, claims, testSigningKey)

	var gotUser, gotOrg uuid.UUID
	handler := func(c echo.Context) error {
		gotUser = UserIDFromContext(c.Request().Context())
		gotOrg = SelectedOrgFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	}

	if err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+tokenStr, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != userID {
		t.Errorf("expected user %s, got %s", userID, gotUser)
	}
	if gotOrg != orgID {
		t.Errorf("expected org %s, got %s", orgID, gotOrg)
	}
}

func TestJWTMiddleware_NoOrgClaim(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tokenStr := createTestToken(t, claims, testSigningKey)

	var gotOrg uuid.UUID
	handler := func(c echo.Context) error {
		gotOrg = SelectedOrgFromContext(c.Request().Context())
		return nil
	}
	if err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+tokenStr, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotOrg != uuid.Nil {
		t.Errorf("expected no selected org, got %s", gotOrg)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	tokenStr := createTestToken(t, claims, testSigningKey)
	err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+tokenStr, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_RejectsTokens(t *testing.T) {
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	tests := []struct {
		name   string
		claims Claims
		key    []byte
		cfg    JWTConfig
	}{
		{
			name:   "wrong key",
			claims: Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), ExpiresAt: future}},
			key:    []byte("another-secret-key-entirely-different"),
			cfg:    JWTConfig{SigningKey: testSigningKey},
		},
		{
			name:   "no expiry",
			claims: Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()}},
			key:    testSigningKey,
			cfg:    JWTConfig{SigningKey: testSigningKey},
		},
		{
			name:   "subject not a uuid",
			claims: Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123", ExpiresAt: future}},
			key:    testSigningKey,
			cfg:    JWTConfig{SigningKey: testSigningKey},
		},
		{
			name:   "org not a uuid",
			claims: Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), ExpiresAt: future}, OrgID: "org-1"},
			key:    testSigningKey,
			cfg:    JWTConfig{SigningKey: testSigningKey},
		},
		{
			name:   "wrong issuer",
			claims: Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), ExpiresAt: future, Issuer: "elsewhere"}},
			key:    testSigningKey,
			cfg:    JWTConfig{SigningKey: testSigningKey, Issuer: "vetting-app"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenStr := createTestToken(t, tt.claims, tt.key)
			err := runJWT(t, tt.cfg, "Bearer "+tokenStr, okHandler)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("vetting-app", testSigningKey, 30*time.Minute)
	fixed := time.Now()
	issuer.now = func() time.Time { return fixed }

	userID := uuid.New()
	orgID := uuid.New()
	tokenStr, exp, err := issuer.Issue(userID, orgID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exp.Equal(fixed.Add(30 * time.Minute)) {
		t.Errorf("expected expiry %v, got %v", fixed.Add(30*time.Minute), exp)
	}

	var gotUser, gotOrg uuid.UUID
	handler := func(c echo.Context) error {
		gotUser = UserIDFromContext(c.Request().Context())
		gotOrg = SelectedOrgFromContext(c.Request().Context())
		return nil
	}
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "vetting-app"}
	if err := runJWT(t, cfg, "Bearer "+tokenStr, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != userID || gotOrg != orgID {
		t.Errorf("expected %s/%s, got %s/%s", userID, orgID, gotUser, gotOrg)
	}
}

func TestTokenIssuer_NoOrg(t *testing.T) {
	issuer := NewTokenIssuer("vetting-app", testSigningKey, time.Hour)
	tokenStr, _, err := issuer.Issue(uuid.New(), uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return testSigningKey, nil
	}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.OrgID != "" {
		t.Errorf("expected empty org claim, got %q", claims.OrgID)
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := UserIDFromContext(req.Context()); got != uuid.Nil {
		t.Errorf("expected nil uuid, got %s", got)
	}
}
