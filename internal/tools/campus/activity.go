package campus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sjtools/jaccount-mcp-go/internal/tools"
)

// activityTokenSource obtains a bearer token for the activity platform by
// driving the jAccount OAuth2 authorize flow through the shared cookie
// session, and caches it until the token's exp claim.
type activityTokenSource struct {
	ep Endpoints

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newActivityTokenSource(ep Endpoints) *activityTokenSource {
	return &activityTokenSource{ep: ep}
}

func (ts *activityTokenSource) Token(ctx context.Context, client *http.Client) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Now().Before(ts.expires) {
		return ts.token, nil
	}

	token, err := ts.fetch(ctx, client)
	if err != nil {
		return "", err
	}

	ts.token = token
	ts.expires = tokenExpiry(token)
	return token, nil
}

// fetch runs the authorize-code dance: the authorize endpoint redirects an
// authenticated session straight back to the redirect URI with a code, which
// the platform's login endpoint exchanges for a bearer token.
func (ts *activityTokenSource) fetch(ctx context.Context, client *http.Client) (string, error) {
	authorize, err := url.Parse(ts.ep.OAuthAuthorizeURL)
	if err != nil {
		return "", err
	}
	q := authorize.Query()
	q.Set("client_id", ts.ep.ActivityClientID)
	q.Set("redirect_uri", ts.ep.ActivityRedirect)
	q.Set("response_type", "code")
	q.Set("scope", "profile")
	authorize.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authorize.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("authorize request: %w", err)
	}
	resp.Body.Close()

	code := resp.Request.URL.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("authorize flow did not yield a code (landed on %s)", resp.Request.URL)
	}

	loginURL := ts.ep.ActivityLoginURL + "?code=" + url.QueryEscape(code)
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err = client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.Data == "" {
		return "", fmt.Errorf("token exchange returned no token")
	}
	return body.Data, nil
}

// tokenExpiry reads the bearer token's exp claim without verifying the
// signature; the platform verifies, we only need the lifetime. Tokens that
// don't parse as JWTs get a short fixed lifetime.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err == nil {
		if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
			// Refresh a minute early.
			return exp.Time.Add(-time.Minute)
		}
	}
	return time.Now().Add(5 * time.Minute)
}

// activity mirrors the platform's list entry fields the tool renders.
type activity struct {
	ID               int       `json:"id"`
	Name             string    `json:"name"`
	Img              string    `json:"img"`
	Sponsor          string    `json:"sponsor"`
	Address          string    `json:"address"`
	Method           int       `json:"method"`
	PersonNum        int       `json:"person_num"`
	SignedUpNum      int       `json:"signed_up_num"`
	ActivityTime     []string  `json:"activity_time"`
	RegistrationTime []string  `json:"registration_time"`
}

type activitiesArgs struct {
	Page int `json:"page,omitempty" jsonschema:"description=页码，默认为 1"`
}

func newActivitiesTool(ep Endpoints, tokens *activityTokenSource) tools.Tool {
	return tools.Tool{
		Name:         "sjtu_activity",
		Description:  "获取交大'第二课堂'的最新活动列表，参数 page 为页码，默认为 1。",
		RequiresAuth: true,
		InputSchema:  tools.ReflectInputSchema[activitiesArgs](),
		Handler: func(ctx context.Context, tc *tools.Context, raw json.RawMessage) (any, error) {
			var args activitiesArgs
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
			}
			if args.Page < 1 {
				args.Page = 1
			}

			token, err := tokens.Token(ctx, tc.HTTPClient())
			if err != nil {
				return nil, err
			}

			acts, err := listActivities(ctx, tc.HTTPClient(), ep, token, args.Page)
			if err != nil {
				return nil, err
			}

			lines := make([]string, 0, len(acts))
			for _, a := range acts {
				lines = append(lines, renderActivity(ep, a))
			}
			return lines, nil
		},
	}
}

func listActivities(ctx context.Context, client *http.Client, ep Endpoints, token string, page int) ([]activity, error) {
	listURL := fmt.Sprintf("%s/activity/list/home?page=%d&per_page=10&activity_type_id=2&time_sort=desc&can_apply=false",
		strings.TrimRight(ep.ActivityAPIBaseURL, "/"), page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", browserUA)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list activities (status %d)", resp.StatusCode)
	}

	var body struct {
		Data []activity `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode activity list: %w", err)
	}
	return body.Data, nil
}

var signUpMethods = map[int]string{
	1: "线上报名（审核录取）",
	2: "线下报名",
	3: "线上报名（先到先得）",
	4: "无需报名",
	5: "线上报名（随机录取）",
	6: "跳转其他报名",
}

func renderActivity(ep Endpoints, a activity) string {
	platform := strings.TrimSuffix(strings.TrimRight(ep.ActivityAPIBaseURL, "/"), "/api/v1")

	var b strings.Builder
	fmt.Fprintf(&b, "- [%s](%s/activity/detail/%d)\n", a.Name, platform, a.ID)
	fmt.Fprintf(&b, "  ![](%s%s)\n", platform, a.Img)
	fmt.Fprintf(&b, "  id:%d\n", a.ID)
	fmt.Fprintf(&b, "  主办方：%s\n", a.Sponsor)
	if a.PersonNum > 0 {
		fmt.Fprintf(&b, "  报名人数：%d / %d\n", a.SignedUpNum, a.PersonNum)
	}
	if desc, ok := signUpMethods[a.Method]; ok {
		fmt.Fprintf(&b, "  报名方式：%s\n", desc)
	}
	if len(a.RegistrationTime) == 2 && a.RegistrationTime[0] != "" {
		fmt.Fprintf(&b, "  报名时间：%s ~ %s\n", a.RegistrationTime[0], a.RegistrationTime[1])
	}
	fmt.Fprintf(&b, "  活动地点：%s\n", a.Address)
	if len(a.ActivityTime) == 2 {
		fmt.Fprintf(&b, "  活动时间：%s ~ %s", a.ActivityTime[0], a.ActivityTime[1])
	}
	return b.String()
}
