// Package campus implements the SJTU campus-service tools surfaced through
// tools/call. Each tool is an independent HTTP-fetch-and-format routine over
// the shared authenticated session; none of them hold state of their own.
package campus

import (
	"github.com/sjtools/jaccount-mcp-go/internal/tools"
)

// Endpoints names the campus services the tools talk to. Tests point these at
// local servers.
type Endpoints struct {
	NewsURL       string
	JWCNoticesURL string
	JWBaseURL     string
	MailBaseURL   string
	AccountURL    string

	// Activity platform (second classroom).
	OAuthAuthorizeURL  string
	ActivityLoginURL   string
	ActivityAPIBaseURL string
	ActivityClientID   string
	ActivityRedirect   string
}

// DefaultEndpoints returns the production campus endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		NewsURL:       "https://news.sjtu.edu.cn/jdyw/index.html",
		JWCNoticesURL: "https://jwc.sjtu.edu.cn/xwtg/tztg.htm",
		JWBaseURL:     "https://jw.sjtu.edu.cn",
		MailBaseURL:   "https://mail.sjtu.edu.cn",
		AccountURL:    "https://my.sjtu.edu.cn/api/account",

		OAuthAuthorizeURL:  "https://jaccount.sjtu.edu.cn/oauth2/authorize",
		ActivityLoginURL:   "https://activity.sjtu.edu.cn/api/v1/login/token",
		ActivityAPIBaseURL: "https://activity.sjtu.edu.cn/api/v1",
		ActivityClientID:   "NMCTdJI6Tluw2SSTe6tW",
		ActivityRedirect:   "https://activity.sjtu.edu.cn/auth",
	}
}

// RegisterAll builds the startup-time tool manifest.
func RegisterAll(reg *tools.Registry, ep Endpoints) error {
	tokens := newActivityTokenSource(ep)

	for _, t := range []tools.Tool{
		newCampusNewsTool(ep),
		newJWCNoticesTool(ep),
		newJWRequestTool(ep),
		newMailInboxTool(ep),
		newAccountInfoTool(ep),
		newActivitiesTool(ep, tokens),
	} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
