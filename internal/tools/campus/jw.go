package campus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sjtools/jaccount-mcp-go/internal/tools"
)

type jwRequestArgs struct {
	Path string `json:"path" jsonschema:"description=教务系统相对路径，如 '/api/student/lesson'"`
}

// newJWRequestTool exposes a generic authenticated fetch against the academic
// affairs API: a relative path in, the JSON payload (or raw text) back out.
func newJWRequestTool(ep Endpoints) tools.Tool {
	return tools.Tool{
		Name:         "sjtu_jw_request",
		Description:  "与教务系统交互的通用请求接口。",
		RequiresAuth: true,
		InputSchema:  tools.ReflectInputSchema[jwRequestArgs](),
		Handler: func(ctx context.Context, tc *tools.Context, raw json.RawMessage) (any, error) {
			var args jwRequestArgs
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
			}
			if args.Path == "" {
				return nil, fmt.Errorf("path is required")
			}

			target := strings.TrimRight(ep.JWBaseURL, "/") + "/" + strings.TrimLeft(args.Path, "/")
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", browserUA)

			resp, err := tc.HTTPClient().Do(req)
			if err != nil {
				return nil, fmt.Errorf("访问教务系统失败: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("访问教务系统失败 (status %d)", resp.StatusCode)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
			if err != nil {
				return nil, fmt.Errorf("访问教务系统失败: %w", err)
			}

			var data any
			if err := json.Unmarshal(body, &data); err != nil {
				// Non-JSON payloads pass through as text.
				return string(body), nil
			}
			return data, nil
		},
	}
}
