package campus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sjtools/jaccount-mcp-go/internal/tools"
)

// accountResponse is the account API's envelope.
type accountResponse struct {
	Errno    int           `json:"errno"`
	Error    string        `json:"error"`
	Entities []accountInfo `json:"entities"`
}

// accountInfo is the subset of the profile record surfaced to the caller.
type accountInfo struct {
	Account    string            `json:"account"`
	Name       string            `json:"name"`
	Kind       string            `json:"kind,omitempty"`
	UserType   string            `json:"userType,omitempty"`
	Mobile     string            `json:"mobile,omitempty"`
	Email      string            `json:"email,omitempty"`
	CardNo     string            `json:"cardNo,omitempty"`
	ClassNo    string            `json:"classNo,omitempty"`
	Organize   *organizeInfo     `json:"organize,omitempty"`
	Identities []accountIdentity `json:"identities,omitempty"`
}

type organizeInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type accountIdentity struct {
	Kind      string        `json:"kind,omitempty"`
	IsDefault bool          `json:"isDefault"`
	Code      string        `json:"code,omitempty"`
	UserType  string        `json:"userType,omitempty"`
	Status    string        `json:"status,omitempty"`
	ClassNo   string        `json:"classNo,omitempty"`
	Organize  *organizeInfo `json:"organize,omitempty"`
	Major     *organizeInfo `json:"major,omitempty"`
}

// accountSummary is the condensed view placed alongside the raw record.
type accountSummary struct {
	Account         string `json:"account"`
	Name            string `json:"name"`
	UserType        string `json:"user_type,omitempty"`
	Organize        string `json:"organize,omitempty"`
	ClassNo         string `json:"class_no,omitempty"`
	IdentitiesCount int    `json:"identities_count"`
}

func newAccountInfoTool(ep Endpoints) tools.Tool {
	return tools.Tool{
		Name:         "account_info",
		Description:  "获取当前用户的个人信息。",
		RequiresAuth: true,
		Handler: func(ctx context.Context, tc *tools.Context, _ json.RawMessage) (any, error) {
			info, err := fetchAccountInfo(ctx, tc, ep)
			if err != nil {
				return nil, err
			}

			summary := accountSummary{
				Account:         info.Account,
				Name:            info.Name,
				UserType:        info.UserType,
				ClassNo:         info.ClassNo,
				IdentitiesCount: len(info.Identities),
			}
			if info.Organize != nil {
				summary.Organize = info.Organize.Name
			}

			return map[string]any{
				"data":    info,
				"summary": summary,
			}, nil
		},
	}
}

// fetchAccountInfo GETs and decodes the account profile. Shared with the
// activity signup flow, which needs contact fields for form auto-fill.
func fetchAccountInfo(ctx context.Context, tc *tools.Context, ep Endpoints) (*accountInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.AccountURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := tc.HTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("获取用户信息失败: %w", err)
	}
	defer resp.Body.Close()

	// Redirected off the account host means the session expired mid-flight.
	if !strings.HasPrefix(resp.Request.URL.String(), hostPrefix(ep.AccountURL)) {
		return nil, fmt.Errorf("认证失败，请重新登录")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("获取用户信息失败 (status %d)", resp.StatusCode)
	}

	var body accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("服务器返回的数据格式错误: %w", err)
	}
	if body.Errno != 0 {
		return nil, fmt.Errorf("API错误: %s", body.Error)
	}
	if len(body.Entities) == 0 {
		return nil, fmt.Errorf("未找到用户信息")
	}
	return &body.Entities[0], nil
}

// hostPrefix reduces a URL to its scheme://host/ prefix.
func hostPrefix(raw string) string {
	rest, found := strings.CutPrefix(raw, "https://")
	schemePart := "https://"
	if !found {
		rest, _ = strings.CutPrefix(raw, "http://")
		schemePart = "http://"
	}
	host, _, _ := strings.Cut(rest, "/")
	return schemePart + host + "/"
}
