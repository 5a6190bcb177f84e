package jaccount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var uuidPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// loginParams is everything the bootstrap fetch yields: the opaque form
// parameters echoed from the login page's query string, the per-attempt
// challenge uuid, and the login page URL itself.
type loginParams struct {
	params   url.Values
	uuid     string
	loginURL string
}

// Login runs the full login state machine: bootstrap fetch, challenge
// solve, and form submission. It returns false on any failure; nothing
// escapes as an error. Concurrent attempts are serialized.
func (m *Manager) Login(ctx context.Context, username, password string) bool {
	m.loginMu.Lock()
	defer m.loginMu.Unlock()

	if m.solver == nil {
		m.log.Error("login.solver.missing")
		return false
	}

	lp, err := m.fetchLoginParams(ctx)
	if err != nil {
		m.log.Error("login.params.fail", slog.String("err", err.Error()))
		return false
	}
	m.log.Info("login.params.ok", slog.String("uuid", lp.uuid))

	captcha, err := m.solveCaptcha(ctx, lp.uuid)
	if err != nil {
		m.log.Error("login.captcha.fail", slog.String("err", err.Error()))
		return false
	}

	form := url.Values{}
	form.Set("user", username)
	form.Set("pass", password)
	form.Set("uuid", lp.uuid)
	form.Set("captcha", captcha)
	for key, vals := range lp.params {
		for _, v := range vals {
			form.Add(key, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.ep.LoginSubmitURL, strings.NewReader(form.Encode()))
	if err != nil {
		m.log.Error("login.submit.fail", slog.String("err", err.Error()))
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept-Language", "zh-CN")
	req.Header.Set("User-Agent", userAgent)

	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		m.log.Error("login.submit.fail", slog.String("err", err.Error()))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	// The submit follows redirects; landing back on the login page means the
	// remote system rejected the attempt.
	finalURL := resp.Request.URL.String()
	if strings.Contains(finalURL, m.ep.LoginPageMarker) {
		m.log.Warn("login.rejected", slog.String("final_url", finalURL))
		return false
	}

	m.mu.Lock()
	cookies := m.snapshotCookiesLocked()
	m.cookies = cookies
	m.mu.Unlock()

	if err := m.store.Save(cookies); err != nil {
		m.log.Error("credstore.save.fail", slog.String("err", err.Error()))
	}

	m.log.Info("login.ok", slog.Int("cookies", len(cookies)))
	return true
}

// fetchLoginParams follows the SSO redirect chain to the login page and
// extracts the echoed form parameters and the challenge uuid. Extraction
// failure is not fatal: the fixed login endpoint with an empty parameter set
// is used instead, and the remote system rejects the attempt in the usual
// way.
func (m *Manager) fetchLoginParams(ctx context.Context) (*loginParams, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.ep.BootstrapURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Language", "zh-CN")
	req.Header.Set("User-Agent", userAgent)

	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch login page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read login page: %w", err)
	}

	loginURL := resp.Request.URL
	params := loginURL.Query()

	uuid := extractUUID(body, params)
	if uuid == "" {
		m.log.Warn("login.uuid.missing", slog.String("login_url", loginURL.String()))
		return &loginParams{params: url.Values{}, uuid: "", loginURL: m.ep.LoginFormURL}, nil
	}

	return &loginParams{params: params, uuid: uuid, loginURL: loginURL.String()}, nil
}

// extractUUID tries the known challenge-uuid locations in order: the
// browser-hint anchor's href parameter, a hidden form field, the redirect
// query string, an inline script assignment, and finally a pattern scan of
// the whole page.
func extractUUID(page []byte, params url.Values) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err == nil {
		if href, ok := doc.Find("a#firefox_link").Attr("href"); ok {
			if _, v, found := strings.Cut(href, "="); found && v != "" {
				return v
			}
		}

		if v, ok := doc.Find(`input[name="uuid"]`).Attr("value"); ok && v != "" {
			return v
		}
	}

	if v := params.Get("uuid"); v != "" {
		return v
	}

	if doc != nil {
		var fromScript string
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := s.Text()
			if !strings.Contains(text, "var uuid") {
				return true
			}
			for _, line := range strings.Split(text, "\n") {
				if !strings.Contains(line, "var uuid") {
					continue
				}
				if _, v, found := strings.Cut(line, "="); found {
					fromScript = strings.Trim(strings.TrimSpace(v), `"';`)
					return false
				}
			}
			return true
		})
		if fromScript != "" {
			return fromScript
		}
	}

	return string(uuidPattern.Find(page))
}

// solveCaptcha fetches the challenge image, persists it under the cache dir,
// and hands it to the configured solver. This blocks until the solver
// returns; it runs on the login path only, never on a request-serving
// goroutine.
func (m *Manager) solveCaptcha(ctx context.Context, uuid string) (string, error) {
	u, err := url.Parse(m.ep.CaptchaURL)
	if err != nil {
		return "", fmt.Errorf("parse captcha url: %w", err)
	}
	q := u.Query()
	q.Set("uuid", uuid)
	q.Set("t", fmt.Sprintf("%d", time.Now().UnixNano())) // anti-cache
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Referer", m.ep.CaptchaURL)
	req.Header.Set("User-Agent", userAgent)

	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch captcha: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch captcha: unexpected status %d", resp.StatusCode)
	}

	image, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read captcha image: %w", err)
	}
	if len(image) == 0 {
		return "", errors.New("empty captcha image")
	}

	imagePath := filepath.Join(m.cacheDir, fmt.Sprintf("captcha_%d.png", time.Now().Unix()))
	if err := os.WriteFile(imagePath, image, 0o600); err != nil {
		return "", fmt.Errorf("persist captcha image: %w", err)
	}

	solution, err := m.solver(ctx, imagePath, image)
	if err != nil {
		return "", fmt.Errorf("solve captcha: %w", err)
	}
	return strings.TrimSpace(solution), nil
}
