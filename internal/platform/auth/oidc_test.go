package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type testIDP struct {
	srv      *httptest.Server
	key      *rsa.PrivateKey
	jwksHits atomic.Int32
}

func newTestIDP(t *testing.T) *testIDP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	idp := &testIDP{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(OIDCProvider{Issuer: idp.srv.URL, JWKSURI: idp.srv.URL + "/jwks"})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		idp.jwksHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(JWKSResponse{Keys: []JWKSKey{
			{Kty: "EC", Kid: "ignored"},
			{
				Kty: "RSA", Kid: "k1", Use: "sig", Alg: "RS256",
				N: base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				E: base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			},
		}})
	})
	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)
	return idp
}

func (idp *testIDP) sign(t *testing.T, kid string) string {
	t.Helper()
	claims := validClaims()
	claims.Issuer = idp.srv.URL
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(idp.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestNewOIDCProvider(t *testing.T) {
	idp := newTestIDP(t)
	p, err := NewOIDCProvider(idp.srv.URL + "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.JWKSURI != idp.srv.URL+"/jwks" {
		t.Errorf("unexpected jwks_uri: %s", p.JWKSURI)
	}

	if _, err := NewOIDCProvider(idp.srv.URL + "/missing"); err == nil {
		t.Error("expected error for missing discovery document")
	}
}

func TestJWKSCache(t *testing.T) {
	idp := newTestIDP(t)
	cache := NewJWKSCache(idp.srv.URL+"/jwks", time.Minute)

	key, err := cache.GetKey("k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.N.Cmp(idp.key.N) != 0 || key.E != idp.key.E {
		t.Error("parsed key does not match")
	}
	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits := idp.jwksHits.Load(); hits != 1 {
		t.Errorf("expected cached key, got %d fetches", hits)
	}

	if _, err := cache.GetKey("ignored"); err == nil {
		t.Error("expected non-RSA key to be skipped")
	}
}

func TestJWTMiddleware_JWKSDiscovery(t *testing.T) {
	idp := newTestIDP(t)
	cfg := JWTConfig{Issuer: idp.srv.URL}

	if err := runJWT(t, cfg, "Bearer "+idp.sign(t, "k1"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectStatus(t, runJWT(t, cfg, "Bearer "+idp.sign(t, "unknown"), nil), http.StatusUnauthorized)
}
