package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vantagelink/rollout/internal/config"
)

// jwksFixture bundles a signing key pair with a JWKS endpoint serving its
// public half under a fixed kid.
type jwksFixture struct {
	rsaKey *rsa.PrivateKey
	ecKey  *ecdsa.PrivateKey
	server *httptest.Server
}

const (
	fixtureRSAKid = "sig-rsa"
	fixtureECKid  = "sig-ec"
)

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate EC key: %v", err)
	}

	f := &jwksFixture{rsaKey: rsaKey, ecKey: ecKey}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]any{
			{
				"kid": fixtureRSAKid, "kty": "RSA", "alg": "RS256", "use": "sig",
				"n": base64.RawURLEncoding.EncodeToString(rsaKey.PublicKey.N.Bytes()),
				"e": base64.RawURLEncoding.EncodeToString(big.NewInt(int64(rsaKey.PublicKey.E)).Bytes()),
			},
			{
				"kid": fixtureECKid, "kty": "EC", "crv": "P-256", "use": "sig",
				"x": base64.RawURLEncoding.EncodeToString(ecKey.PublicKey.X.Bytes()),
				"y": base64.RawURLEncoding.EncodeToString(ecKey.PublicKey.Y.Bytes()),
			},
		}})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) client() *JWKSClient {
	return NewJWKSClient(f.server.URL, time.Hour, nil)
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = fixtureRSAKid
	s, err := token.SignedString(f.rsaKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func (f *jwksFixture) signEC(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = fixtureECKid
	s, err := token.SignedString(f.ecKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func authTestConfig() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://auth.example.com",
		Audience:   "rollout-api",
		Algorithms: []string{"RS256", "ES256"},
	}
}

func goodClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"email": "user@example.com",
		"name":  "Test User",
		"iss":   "https://auth.example.com",
		"aud":   "rollout-api",
		"exp":   jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat":   jwt.NewNumericDate(time.Now()),
	}
}

func authRoundTrip(cfg config.IdentityConfig, client *JWKSClient, authHeader string) *httptest.ResponseRecorder {
	handler := JWTAuthenticator(cfg, client)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestJWKSClient_ResolvesRSAAndECKeys(t *testing.T) {
	f := newJWKSFixture(t)
	client := f.client()

	rsaPub, err := client.GetKey(fixtureRSAKid)
	if err != nil {
		t.Fatalf("GetKey(%s): %v", fixtureRSAKid, err)
	}
	got, ok := rsaPub.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("key type = %T, want *rsa.PublicKey", rsaPub)
	}
	if got.N.Cmp(f.rsaKey.PublicKey.N) != 0 {
		t.Error("RSA modulus does not round-trip")
	}

	ecPub, err := client.GetKey(fixtureECKid)
	if err != nil {
		t.Fatalf("GetKey(%s): %v", fixtureECKid, err)
	}
	ec, ok := ecPub.(*ecdsa.PublicKey)
	if !ok {
		t.Fatalf("key type = %T, want *ecdsa.PublicKey", ecPub)
	}
	if ec.X.Cmp(f.ecKey.PublicKey.X) != 0 {
		t.Error("EC X coordinate does not round-trip")
	}
}

func TestJWKSClient_UnknownKidFails(t *testing.T) {
	f := newJWKSFixture(t)
	if _, err := f.client().GetKey("no-such-kid"); err == nil {
		t.Fatal("GetKey should fail for an unregistered kid")
	}
}

func TestJWKSClient_CachesKeySet(t *testing.T) {
	fetches := 0
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]any{{
			"kid": "k1", "kty": "RSA",
			"n": base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e": base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	client := NewJWKSClient(srv.URL, time.Hour, nil)
	client.minRefresh = 0

	client.GetKey("k1")
	client.GetKey("k1")
	if fetches != 1 {
		t.Errorf("endpoint fetched %d times, want 1", fetches)
	}
}

func TestJWTAuthenticator_AcceptsValidTokens(t *testing.T) {
	f := newJWKSFixture(t)
	cfg := authTestConfig()
	client := f.client()

	var seenSub string
	handler := JWTAuthenticator(cfg, client)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFrom(r.Context())
		seenSub, _ = claims["sub"].(string)
		w.WriteHeader(http.StatusOK)
	}))

	for name, token := range map[string]string{
		"RS256": f.sign(t, goodClaims()),
		"ES256": f.signEC(t, goodClaims()),
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("%s token: status = %d, want 200", name, w.Code)
		}
		if seenSub != "user-1" {
			t.Errorf("%s token: sub claim = %q, want user-1", name, seenSub)
		}
	}
}

func TestJWTAuthenticator_RejectsBadTokens(t *testing.T) {
	f := newJWKSFixture(t)

	expired := goodClaims()
	expired["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	badIssuer := goodClaims()
	badIssuer["iss"] = "https://evil.example.com"

	badAudience := goodClaims()
	badAudience["aud"] = "some-other-api"

	noExp := goodClaims()
	delete(noExp, "exp")

	unknownKid := jwt.NewWithClaims(jwt.SigningMethodRS256, goodClaims())
	unknownKid.Header["kid"] = "retired-key"
	unknownKidToken, err := unknownKid.SignedString(f.rsaKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	cases := []struct {
		name   string
		cfg    config.IdentityConfig
		header string
	}{
		{"no header", authTestConfig(), ""},
		{"not bearer", authTestConfig(), "Basic dXNlcjpwYXNz"},
		{"garbage token", authTestConfig(), "Bearer not.a.jwt"},
		{"expired", authTestConfig(), "Bearer " + f.sign(t, expired)},
		{"wrong issuer", authTestConfig(), "Bearer " + f.sign(t, badIssuer)},
		{"wrong audience", authTestConfig(), "Bearer " + f.sign(t, badAudience)},
		{"missing exp", authTestConfig(), "Bearer " + f.sign(t, noExp)},
		{"unknown kid", authTestConfig(), "Bearer " + unknownKidToken},
	}

	// Disallowed algorithm: RS256 token against an ES256-only deployment.
	es256Only := authTestConfig()
	es256Only.Algorithms = []string{"ES256"}
	cases = append(cases, struct {
		name   string
		cfg    config.IdentityConfig
		header string
	}{"disallowed algorithm", es256Only, "Bearer " + f.sign(t, goodClaims())})

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := f.client()
			client.minRefresh = 0
			w := authRoundTrip(tc.cfg, client, tc.header)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestJWTAuthenticator_ToleratesClockSkew(t *testing.T) {
	f := newJWKSFixture(t)

	// Expired 15s ago, inside the 30s leeway.
	claims := goodClaims()
	claims["exp"] = jwt.NewNumericDate(time.Now().Add(-15 * time.Second))

	w := authRoundTrip(authTestConfig(), f.client(), "Bearer "+f.sign(t, claims))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 inside the leeway window", w.Code)
	}
}
