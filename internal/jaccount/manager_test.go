package jaccount

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeSSO is a local stand-in for the jAccount deployment: an account
// endpoint that answers by cookie, a login page carrying a challenge uuid, a
// captcha image, and a form target that issues the session cookie.
type fakeSSO struct {
	srv *httptest.Server

	uuid          string
	validCaptcha  string
	validUser     string
	validPassword string

	mu          sync.Mutex
	accountHits int
	logoutHits  int
	sessionDead bool
	lastForm    url.Values
}

func newFakeSSO(t *testing.T) *fakeSSO {
	t.Helper()

	f := &fakeSSO{
		uuid:          "9f8e7d6c-1234-4abc-8def-0123456789ab",
		validCaptcha:  "mzkx",
		validUser:     "student",
		validPassword: "hunter2",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/account", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.accountHits++
		dead := f.sessionDead
		f.mu.Unlock()

		c, err := r.Cookie("JSESSIONID")
		if dead || err != nil || c.Value != "live-session" {
			w.Header().Set("Location", "/jaccount/jalogin?sid=svc")
			w.WriteHeader(http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"errno":0,"error":"success","entities":[]}`)
	})
	mux.HandleFunc("/jaccount/jalogin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><form><input type="hidden" name="uuid" value="%s"></form></body></html>`, f.uuid)
	})
	mux.HandleFunc("/jaccount/captcha", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("uuid") != f.uuid {
			http.Error(w, "bad uuid", http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("t") == "" {
			http.Error(w, "missing anti-cache", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fake-png-bytes"))
	})
	mux.HandleFunc("/jaccount/ulogin", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.lastForm = r.PostForm
		f.mu.Unlock()

		ok := r.PostForm.Get("user") == f.validUser &&
			r.PostForm.Get("pass") == f.validPassword &&
			r.PostForm.Get("uuid") == f.uuid &&
			r.PostForm.Get("captcha") == f.validCaptcha
		if !ok {
			w.Header().Set("Location", "/jaccount/jalogin?err=1")
			w.WriteHeader(http.StatusFound)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "live-session", Path: "/"})
		w.Header().Set("Location", "/home")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "welcome")
	})
	mux.HandleFunc("/jaccount/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logoutHits++
		f.mu.Unlock()
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSSO) endpoints() Endpoints {
	return Endpoints{
		BootstrapURL:    f.srv.URL + "/api/account",
		CheckURL:        f.srv.URL + "/api/account",
		CaptchaURL:      f.srv.URL + "/jaccount/captcha",
		LoginFormURL:    f.srv.URL + "/jaccount/jalogin",
		LoginSubmitURL:  f.srv.URL + "/jaccount/ulogin",
		LogoutURL:       f.srv.URL + "/jaccount/logout",
		LoginPageMarker: "/jaccount/jalogin",
	}
}

func (f *fakeSSO) hits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accountHits
}

func staticSolver(answer string) CaptchaSolver {
	return func(ctx context.Context, imagePath string, image []byte) (string, error) {
		return answer, nil
	}
}

func newTestManager(t *testing.T, f *fakeSSO, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithEndpoints(f.endpoints()),
		WithFileWatch(false),
		WithHTTPTimeout(5 * time.Second),
	}
	m, err := New(filepath.Join(t.TempDir(), "cookies.json"), append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestIsLoggedInWithoutCookies(t *testing.T) {
	f := newFakeSSO(t)
	m := newTestManager(t, f)

	if m.IsLoggedIn(context.Background()) {
		t.Error("fresh manager reports logged in")
	}
	if f.hits() != 0 {
		t.Errorf("liveness check issued %d requests with no cookies, want 0", f.hits())
	}
}

func TestIsLoggedInHydratedSession(t *testing.T) {
	f := newFakeSSO(t)

	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := NewCredStore(path).Save(map[string]string{"JSESSIONID": "live-session"}); err != nil {
		t.Fatal(err)
	}

	m, err := New(path, WithEndpoints(f.endpoints()), WithFileWatch(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Close)

	if !m.IsLoggedIn(context.Background()) {
		t.Error("hydrated session reports logged out")
	}
	if f.hits() != 1 {
		t.Errorf("account hits = %d, want 1", f.hits())
	}
}

func TestIsLoggedInExpiredSession(t *testing.T) {
	f := newFakeSSO(t)

	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := NewCredStore(path).Save(map[string]string{"JSESSIONID": "stale"}); err != nil {
		t.Fatal(err)
	}

	m, err := New(path, WithEndpoints(f.endpoints()), WithFileWatch(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Close)

	if m.IsLoggedIn(context.Background()) {
		t.Error("expired session reports logged in")
	}
}

func TestLogout(t *testing.T) {
	f := newFakeSSO(t)
	m := newTestManager(t, f, WithCaptchaSolver(staticSolver(f.validCaptcha)))

	if !m.Login(context.Background(), f.validUser, f.validPassword) {
		t.Fatal("login failed")
	}

	if !m.Logout(context.Background()) {
		t.Error("Logout returned false")
	}
	if len(m.Cookies()) != 0 {
		t.Errorf("cookies after logout = %v, want none", m.Cookies())
	}
	if cookies, err := m.store.Load(); err != nil || cookies != nil {
		t.Errorf("persisted record after logout = %v, %v; want nil, nil", cookies, err)
	}

	f.mu.Lock()
	hits := f.logoutHits
	f.mu.Unlock()
	if hits != 1 {
		t.Errorf("remote logout hits = %d, want 1", hits)
	}

	// A second logout with nothing to clear still succeeds.
	if !m.Logout(context.Background()) {
		t.Error("second Logout returned false")
	}
}

func TestEnsureLoggedIn(t *testing.T) {
	t.Run("performs login when session is dead", func(t *testing.T) {
		f := newFakeSSO(t)
		m := newTestManager(t, f,
			WithCaptchaSolver(staticSolver(f.validCaptcha)),
			WithCredentialProvider(func(ctx context.Context) (string, string, error) {
				return f.validUser, f.validPassword, nil
			}),
		)

		if !m.EnsureLoggedIn(context.Background()) {
			t.Fatal("EnsureLoggedIn failed")
		}
		if !m.IsLoggedIn(context.Background()) {
			t.Error("session not live after EnsureLoggedIn")
		}
	})

	t.Run("fails without a credential provider", func(t *testing.T) {
		f := newFakeSSO(t)
		m := newTestManager(t, f)

		if m.EnsureLoggedIn(context.Background()) {
			t.Error("EnsureLoggedIn succeeded with no credential source")
		}
	})
}

func TestFileWatchReload(t *testing.T) {
	f := newFakeSSO(t)

	path := filepath.Join(t.TempDir(), "cookies.json")
	m, err := New(path, WithEndpoints(f.endpoints()), WithFileWatch(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Close)

	// Simulate another process logging in and writing the record.
	if err := NewCredStore(path).Save(map[string]string{"JSESSIONID": "live-session"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.Cookies()["JSESSIONID"] == "live-session" {
			if !m.IsLoggedIn(context.Background()) {
				t.Error("reloaded session reports logged out")
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("cookie record was not reloaded after out-of-band write")
}

func TestCookieRoundTrip(t *testing.T) {
	f := newFakeSSO(t)

	want := map[string]string{"JSESSIONID": "live-session", "route": "node-7"}
	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := NewCredStore(path).Save(want); err != nil {
		t.Fatal(err)
	}

	m, err := New(path, WithEndpoints(f.endpoints()), WithFileWatch(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Close)

	got := m.Cookies()
	if len(got) != len(want) {
		t.Fatalf("hydrated %d cookies, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("cookie %q = %q, want %q", k, got[k], v)
		}
	}
}
