package campus

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeActivityPlatform struct {
	srv *httptest.Server

	mu            sync.Mutex
	authorizeHits int
	exchangeHits  int
}

func newFakeActivityPlatform(t *testing.T) *fakeActivityPlatform {
	t.Helper()
	f := &fakeActivityPlatform{}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/authorize", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authorizeHits++
		f.mu.Unlock()
		if r.URL.Query().Get("client_id") == "" || r.URL.Query().Get("response_type") != "code" {
			http.Error(w, "bad authorize request", http.StatusBadRequest)
			return
		}
		http.Redirect(w, r, "/auth?code=test-code", http.StatusFound)
	})
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "redirect target")
	})
	mux.HandleFunc("/api/v1/login/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.exchangeHits++
		f.mu.Unlock()
		if r.URL.Query().Get("code") != "test-code" {
			http.Error(w, "bad code", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":"opaque-bearer-token"}`)
	})
	mux.HandleFunc("/api/v1/activity/list/home", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer opaque-bearer-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{
			"id": 42,
			"name": "急救技能培训",
			"img": "/storage/activity/42.jpg",
			"sponsor": "校团委",
			"address": "霍英东体育中心",
			"method": 3,
			"person_num": 100,
			"signed_up_num": 58,
			"activity_time": ["2026-09-01 18:00:00", "2026-09-01 20:00:00"],
			"registration_time": ["2026-08-25 12:00:00", "2026-08-31 12:00:00"]
		}]}`)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeActivityPlatform) endpoints() Endpoints {
	ep := DefaultEndpoints()
	ep.OAuthAuthorizeURL = f.srv.URL + "/oauth2/authorize"
	ep.ActivityLoginURL = f.srv.URL + "/api/v1/login/token"
	ep.ActivityAPIBaseURL = f.srv.URL + "/api/v1"
	ep.ActivityRedirect = f.srv.URL + "/auth"
	return ep
}

func TestActivitiesTool(t *testing.T) {
	f := newFakeActivityPlatform(t)
	ep := f.endpoints()

	tokens := newActivityTokenSource(ep)
	tool := newActivitiesTool(ep, tokens)
	tc := testContext(t)

	value, err := tool.Handler(context.Background(), tc, json.RawMessage(`{"page":1}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	lines, ok := value.([]string)
	if !ok {
		t.Fatalf("handler returned %T, want []string", value)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d entries, want 1", len(lines))
	}

	out := lines[0]
	if !strings.Contains(out, "[急救技能培训]("+f.srv.URL+"/activity/detail/42)") {
		t.Errorf("missing detail link:\n%s", out)
	}
	if !strings.Contains(out, "报名人数：58 / 100") {
		t.Errorf("missing signup counts:\n%s", out)
	}
	if !strings.Contains(out, "线上报名（先到先得）") {
		t.Errorf("missing signup method:\n%s", out)
	}
	if !strings.Contains(out, "活动时间：2026-09-01 18:00:00 ~ 2026-09-01 20:00:00") {
		t.Errorf("missing activity time:\n%s", out)
	}

	// A second call must reuse the cached token instead of redoing the
	// authorize dance.
	if _, err := tool.Handler(context.Background(), tc, nil); err != nil {
		t.Fatalf("second call: %v", err)
	}
	f.mu.Lock()
	hits := f.authorizeHits
	f.mu.Unlock()
	if hits != 1 {
		t.Errorf("authorize hits = %d, want 1", hits)
	}
}

func TestTokenExpiry(t *testing.T) {
	t.Run("reads exp claim", func(t *testing.T) {
		exp := time.Now().Add(time.Hour).Unix()
		token := makeUnsignedJWT(t, map[string]any{"exp": exp})

		got := tokenExpiry(token)
		want := time.Unix(exp, 0).Add(-time.Minute)
		if got.Unix() != want.Unix() {
			t.Errorf("expiry = %v, want %v", got, want)
		}
	})

	t.Run("opaque token gets short lifetime", func(t *testing.T) {
		got := tokenExpiry("not-a-jwt")
		if until := time.Until(got); until <= 0 || until > 6*time.Minute {
			t.Errorf("fallback lifetime = %v", until)
		}
	})
}

func makeUnsignedJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return base64.RawURLEncoding.EncodeToString(data)
	}
	header := map[string]any{"alg": "HS256", "typ": "JWT"}
	return enc(header) + "." + enc(claims) + ".cXVpZXQ"
}
