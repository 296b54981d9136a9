package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"agent-console/internal/config"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := newManager(t)

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, Identity{AgentID: "agent-1", Role: "agent", Campaigns: []string{"camp-1"}})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.AgentID != "agent-1" || claims.Role != "agent" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.AllowsCampaign("camp-1") || claims.AllowsCampaign("camp-2") {
		t.Fatalf("unexpected campaign scope: %v", claims.Campaigns)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := newManager(t)
	now := time.Unix(1700000000, 0).UTC()
	pair, _ := m.IssuePair(now, Identity{AgentID: "a", Role: "agent"})
	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, err := m.IssuePair(time.Now(), Identity{AgentID: "a", Role: "agent"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, time.Now()); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
}

func TestRequireAccessToken_InjectsIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, _ := m.IssuePair(time.Now(), Identity{AgentID: "agent-7", Role: "agent"})

	r := gin.New()
	r.GET("/x", RequireAccessToken(m), func(c *gin.Context) {
		id, _ := AgentID(c.Request.Context())
		c.String(http.StatusOK, id)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+p.AccessToken)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "agent-7" {
		t.Fatalf("expected 200 agent-7, got %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x?access_token="+p.AccessToken, nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("query tokens are only accepted on websocket upgrades, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x?access_token="+p.AccessToken, nil)
	req.Header.Set("Upgrade", "websocket")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected websocket query token to be accepted, got %d", w.Code)
	}
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	m := newManager(t)
	other, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "someone-else",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	now := time.Unix(1700000000, 0).UTC()
	pair, err := other.IssuePair(now, Identity{AgentID: "a", Role: "agent"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected issuer mismatch to be rejected")
	}
	if _, err := other.Verify(pair.AccessToken, TokenTypeAccess, now); err != nil {
		t.Fatalf("own issuer must verify: %v", err)
	}
}
