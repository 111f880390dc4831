package identity_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/kiosktrust/internal/identity"
	"github.com/jmerrifield20/kiosktrust/internal/ledger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestSessionIssuer(t *testing.T) *identity.SessionIssuer {
	t.Helper()
	s, err := identity.NewSessionIssuer(testSecret, "kioskd", time.Hour, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewSessionIssuer_shortSecret(t *testing.T) {
	if _, err := identity.NewSessionIssuer("short", "kioskd", 0, 0); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestSessionIssuer_roundTrip(t *testing.T) {
	s := newTestSessionIssuer(t)

	pair, err := s.IssuePair("42", ledger.ActorUser)
	if err != nil {
		t.Fatal(err)
	}
	if len(strings.Split(pair.AccessToken, ".")) != 3 {
		t.Error("expected 3-part JWT")
	}
	if pair.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn: got %d", pair.ExpiresIn)
	}

	claims, err := s.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if got := claims.Actor(); got != (ledger.ActorRef{Kind: ledger.ActorUser, ID: "42"}) {
		t.Errorf("Actor: got %+v", got)
	}
}

func TestSessionIssuer_tokenTypesAreNotInterchangeable(t *testing.T) {
	s := newTestSessionIssuer(t)
	pair, _ := s.IssuePair("42", ledger.ActorUser)

	if _, err := s.VerifyAccess(pair.RefreshToken); !errors.Is(err, identity.ErrWrongTokenType) {
		t.Errorf("refresh token as access: expected ErrWrongTokenType, got %v", err)
	}
	if _, err := s.Refresh(pair.AccessToken); !errors.Is(err, identity.ErrWrongTokenType) {
		t.Errorf("access token as refresh: expected ErrWrongTokenType, got %v", err)
	}
	if _, err := s.Refresh(pair.RefreshToken); err != nil {
		t.Errorf("Refresh: %v", err)
	}
}

func TestSessionIssuer_expired(t *testing.T) {
	s := newTestSessionIssuer(t)
	start := time.Now()
	s.SetClock(func() time.Time { return start })
	pair, _ := s.IssuePair("42", ledger.ActorUser)

	s.SetClock(func() time.Time { return start.Add(2 * time.Hour) })
	if _, err := s.VerifyAccess(pair.AccessToken); err == nil {
		t.Error("expected expired access token to fail")
	}
}

func TestSessionIssuer_wrongSecret(t *testing.T) {
	a := newTestSessionIssuer(t)
	b, _ := identity.NewSessionIssuer(strings.Repeat("z", 32), "kioskd", time.Hour, 0)
	pair, _ := a.IssuePair("42", ledger.ActorUser)
	if _, err := b.VerifyAccess(pair.AccessToken); err == nil {
		t.Error("token signed with another secret must not verify")
	}
}

func TestSessionIssuer_rejectsSystemRole(t *testing.T) {
	s := newTestSessionIssuer(t)
	if _, err := s.IssuePair("cron", ledger.ActorSystem); err == nil {
		t.Error("system actors must not get sessions")
	}
}

func TestRequireSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestSessionIssuer(t)
	r := gin.New()
	r.GET("/admin", identity.RequireSession(s, "admin"), func(c *gin.Context) {
		claims, _ := identity.ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})

	user, _ := s.IssuePair("42", ledger.ActorUser)
	admin, _ := s.IssuePair("root", ledger.ActorAdmin)

	cases := []struct {
		auth string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer garbage", http.StatusUnauthorized},
		{"Bearer " + user.AccessToken, http.StatusForbidden},
		{"Bearer " + admin.AccessToken, http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("auth %.20q: got %d, want %d", tc.auth, w.Code, tc.want)
		}
	}
}
