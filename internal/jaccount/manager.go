// Package jaccount manages one authenticated jAccount session per process:
// the interactive login state machine, cookie persistence, liveness checks,
// and a background keep-alive monitor.
package jaccount

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Endpoints names the remote URLs the login state machine talks to. The
// defaults target the production jAccount deployment; tests point them at
// local servers.
type Endpoints struct {
	// BootstrapURL triggers the SSO redirect onto the login page.
	BootstrapURL string
	// CheckURL is the lightweight authenticated endpoint used for liveness
	// checks and keep-alive refreshes.
	CheckURL string
	// CaptchaURL serves the challenge image, keyed by uuid and timestamp.
	CaptchaURL string
	// LoginFormURL is the fixed login page used when parameter extraction
	// fails entirely.
	LoginFormURL string
	// LoginSubmitURL receives the login form POST.
	LoginSubmitURL string
	// LogoutURL receives the best-effort remote logout.
	LogoutURL string
	// LoginPageMarker is the URL fragment that identifies the login page. A
	// response landing on a URL containing it means the session is not
	// authenticated.
	LoginPageMarker string
}

// DefaultEndpoints returns the production jAccount endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		BootstrapURL:    "https://my.sjtu.edu.cn/api/account",
		CheckURL:        "https://my.sjtu.edu.cn/api/account",
		CaptchaURL:      "https://jaccount.sjtu.edu.cn/jaccount/captcha",
		LoginFormURL:    "https://jaccount.sjtu.edu.cn/jaccount/jalogin",
		LoginSubmitURL:  "https://jaccount.sjtu.edu.cn/jaccount/ulogin",
		LogoutURL:       "https://jaccount.sjtu.edu.cn/jaccount/logout",
		LoginPageMarker: "jaccount.sjtu.edu.cn/jaccount/jalogin",
	}
}

// CaptchaSolver supplies the textual solution for a challenge image. It may
// block indefinitely on external input (a human at a terminal) and must never
// be invoked on a request-serving goroutine.
type CaptchaSolver func(ctx context.Context, imagePath string, image []byte) (string, error)

// CredentialProvider supplies the username and password when a login attempt
// needs them.
type CredentialProvider func(ctx context.Context) (username, password string, err error)

const (
	// monitorWakeInterval is how often the monitor loop wakes to look at the
	// clock. Short so shutdown stays prompt.
	monitorWakeInterval = 10 * time.Second
	// monitorCheckInterval is how often the monitor actually performs a
	// remote liveness check.
	monitorCheckInterval = 5 * time.Minute
	// monitorStopTimeout bounds the join on the monitor goroutine.
	monitorStopTimeout = 2 * time.Second

	defaultHTTPTimeout = 30 * time.Second

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36"
)

// Manager owns the process's single authenticated jAccount session. Its
// public operations report boolean outcomes; failures are logged, never
// propagated as errors.
type Manager struct {
	log   *slog.Logger
	store *CredStore
	ep    Endpoints

	cacheDir string
	solver   CaptchaSolver
	creds    CredentialProvider

	httpTimeout time.Duration

	// mu guards the client's cookie jar and the in-memory cookie record.
	mu      sync.Mutex
	client  *http.Client
	cookies map[string]string

	// loginMu serializes login attempts so two interactive logins never
	// interleave.
	loginMu sync.Mutex

	monitorMu     sync.Mutex
	monitorStop   chan struct{}
	monitorDone   chan struct{}
	lastCheck     time.Time
	wakeInterval  time.Duration
	checkInterval time.Duration

	watchCancel func()
}

// Option configures a Manager.
type Option func(*managerConfig)

type managerConfig struct {
	logger        *slog.Logger
	endpoints     Endpoints
	cacheDir      string
	solver        CaptchaSolver
	creds         CredentialProvider
	httpTimeout   time.Duration
	wakeInterval  time.Duration
	checkInterval time.Duration
	watchFile     bool
}

// WithLogger sets the slog logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *managerConfig) { c.logger = l }
}

// WithEndpoints overrides the remote endpoints. Used by tests.
func WithEndpoints(ep Endpoints) Option {
	return func(c *managerConfig) { c.endpoints = ep }
}

// WithCacheDir sets the directory for transient challenge images. Defaults to
// a "cache" directory beside the credential file.
func WithCacheDir(dir string) Option {
	return func(c *managerConfig) { c.cacheDir = dir }
}

// WithCaptchaSolver sets the challenge-solution channel.
func WithCaptchaSolver(s CaptchaSolver) Option {
	return func(c *managerConfig) { c.solver = s }
}

// WithCredentialProvider sets the username/password source used by
// EnsureLoggedIn.
func WithCredentialProvider(p CredentialProvider) Option {
	return func(c *managerConfig) { c.creds = p }
}

// WithHTTPTimeout bounds all outbound requests.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *managerConfig) { c.httpTimeout = d }
}

// WithMonitorIntervals overrides the monitor's wake and check intervals. Used
// by tests.
func WithMonitorIntervals(wake, check time.Duration) Option {
	return func(c *managerConfig) { c.wakeInterval = wake; c.checkInterval = check }
}

// WithFileWatch controls whether the credential file is watched for
// out-of-band rewrites. Enabled by default.
func WithFileWatch(enabled bool) Option {
	return func(c *managerConfig) { c.watchFile = enabled }
}

// New constructs a Manager backed by the credential file at credPath,
// hydrating the cookie jar from any persisted record.
func New(credPath string, opts ...Option) (*Manager, error) {
	cfg := &managerConfig{
		endpoints:     DefaultEndpoints(),
		httpTimeout:   defaultHTTPTimeout,
		wakeInterval:  monitorWakeInterval,
		checkInterval: monitorCheckInterval,
		watchFile:     true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.cacheDir == "" {
		cfg.cacheDir = filepath.Join(filepath.Dir(credPath), "cache")
	}

	if err := os.MkdirAll(filepath.Dir(credPath), 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}
	if err := os.MkdirAll(cfg.cacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	m := &Manager{
		log:           cfg.logger,
		store:         NewCredStore(credPath),
		ep:            cfg.endpoints,
		cacheDir:      cfg.cacheDir,
		solver:        cfg.solver,
		creds:         cfg.creds,
		httpTimeout:   cfg.httpTimeout,
		client:        &http.Client{Jar: jar, Timeout: cfg.httpTimeout},
		wakeInterval:  cfg.wakeInterval,
		checkInterval: cfg.checkInterval,
	}

	cookies, err := m.store.Load()
	if err != nil {
		m.log.Error("credstore.load.fail", slog.String("err", err.Error()))
	} else if len(cookies) > 0 {
		m.mu.Lock()
		m.cookies = cookies
		m.applyCookiesLocked(cookies)
		m.mu.Unlock()
		m.log.Info("credstore.load.ok", slog.Int("cookies", len(cookies)))
	}

	if cfg.watchFile {
		if err := m.startFileWatch(); err != nil {
			// Out-of-band reload is a convenience; the manager works without it.
			m.log.Warn("credstore.watch.fail", slog.String("err", err.Error()))
		}
	}

	return m, nil
}

// Close stops the monitor and the credential file watcher.
func (m *Manager) Close() {
	m.StopMonitor()
	if m.watchCancel != nil {
		m.watchCancel()
	}
}

// Client returns the HTTP client carrying the authenticated session's cookie
// jar. The jar is the sole credential source for authenticated requests.
func (m *Manager) Client() *http.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// Cookies returns a copy of the in-memory cookie record.
func (m *Manager) Cookies() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.cookies))
	for k, v := range m.cookies {
		out[k] = v
	}
	return out
}

// endpointURLs returns the distinct URLs whose hosts participate in the login
// flow. Persisted cookies are replayed against each of them.
func (m *Manager) endpointURLs() []*url.URL {
	var out []*url.URL
	seen := map[string]bool{}
	for _, raw := range []string{m.ep.BootstrapURL, m.ep.CheckURL, m.ep.LoginFormURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || seen[u.Host] {
			continue
		}
		seen[u.Host] = true
		out = append(out, &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"})
	}
	return out
}

// applyCookiesLocked injects a flat cookie record into the jar for every host
// the login flow touches. Callers hold m.mu.
func (m *Manager) applyCookiesLocked(cookies map[string]string) {
	for _, u := range m.endpointURLs() {
		var cs []*http.Cookie
		for name, value := range cookies {
			cs = append(cs, &http.Cookie{Name: name, Value: value, Path: "/"})
		}
		m.client.Jar.SetCookies(u, cs)
	}
}

// snapshotCookiesLocked collects every cookie the jar currently holds for the
// login-flow hosts into a flat record. Callers hold m.mu.
func (m *Manager) snapshotCookiesLocked() map[string]string {
	out := make(map[string]string)
	for _, u := range m.endpointURLs() {
		for _, c := range m.client.Jar.Cookies(u) {
			out[c.Name] = c.Value
		}
	}
	return out
}

// resetJarLocked replaces the cookie jar with an empty one. Callers hold m.mu.
func (m *Manager) resetJarLocked() {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New cannot fail with a valid options struct; keep the old
		// jar if it somehow does.
		m.log.Error("cookiejar.reset.fail", slog.String("err", err.Error()))
		return
	}
	m.client = &http.Client{Jar: jar, Timeout: m.httpTimeout}
}

// IsLoggedIn performs a lightweight liveness check against the account
// endpoint. It never changes session state. With no cookies at all it returns
// false without issuing a request.
func (m *Manager) IsLoggedIn(ctx context.Context) bool {
	m.mu.Lock()
	empty := len(m.cookies) == 0
	client := m.client
	m.mu.Unlock()
	if empty {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.ep.CheckURL, nil)
	if err != nil {
		m.log.Error("liveness.request.fail", slog.String("err", err.Error()))
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	// Redirects are evidence, not something to follow: a 302 back to the
	// login page means logged out.
	noRedirect := &http.Client{
		Jar:     client.Jar,
		Timeout: m.httpTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		m.log.Warn("liveness.check.fail", slog.String("err", err.Error()))
		return false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body struct {
			Errno int    `json:"errno"`
			Error string `json:"error"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
			return false
		}
		return body.Errno == 0 && body.Error == "success"
	case http.StatusFound, http.StatusMovedPermanently, http.StatusSeeOther:
		if strings.Contains(resp.Header.Get("Location"), m.ep.LoginPageMarker) {
			m.log.Info("liveness.redirect.login")
		}
		return false
	default:
		// Unexpected status: conservatively treat as logged out.
		return false
	}
}

// EnsureLoggedIn returns true if the session is live, attempting a full login
// via the configured credential provider when it is not.
func (m *Manager) EnsureLoggedIn(ctx context.Context) bool {
	if m.IsLoggedIn(ctx) {
		return true
	}

	if m.creds == nil {
		m.log.Warn("login.credentials.unavailable")
		return false
	}
	username, password, err := m.creds(ctx)
	if err != nil {
		m.log.Warn("login.credentials.fail", slog.String("err", err.Error()))
		return false
	}
	return m.Login(ctx, username, password)
}

// Logout fires a best-effort remote logout, clears the cookie jar, and
// deletes the persisted record. Local cleanup always succeeds; remote
// failures are ignored.
func (m *Manager) Logout(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.ep.LogoutURL, nil)
	if err == nil {
		m.mu.Lock()
		client := m.client
		m.mu.Unlock()
		if resp, err := client.Do(req); err != nil {
			m.log.Warn("logout.remote.fail", slog.String("err", err.Error()))
		} else {
			resp.Body.Close()
		}
	}

	m.mu.Lock()
	m.cookies = nil
	m.resetJarLocked()
	m.mu.Unlock()

	if err := m.store.Delete(); err != nil {
		m.log.Error("credstore.delete.fail", slog.String("err", err.Error()))
	}

	m.log.Info("logout.ok")
	return true
}
