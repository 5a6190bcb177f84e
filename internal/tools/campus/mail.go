package campus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sjtools/jaccount-mcp-go/internal/tools"
)

func newMailInboxTool(ep Endpoints) tools.Tool {
	return tools.Tool{
		Name:         "sjtu_mail_inbox",
		Description:  "获取交大邮箱首页信息。",
		RequiresAuth: true,
		Handler: func(ctx context.Context, tc *tools.Context, _ json.RawMessage) (any, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.MailBaseURL, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", browserUA)

			resp, err := tc.HTTPClient().Do(req)
			if err != nil {
				return nil, fmt.Errorf("访问邮件系统失败: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("访问邮件系统失败 (status %d)", resp.StatusCode)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return nil, fmt.Errorf("访问邮件系统失败: %w", err)
			}
			return string(body), nil
		},
	}
}
