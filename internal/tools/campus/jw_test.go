package campus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJWRequestTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/student/lesson":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"total":2,"rows":[{"name":"线性代数"},{"name":"大学物理"}]}`)
		case "/plain":
			fmt.Fprint(w, "not json at all")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ep := DefaultEndpoints()
	ep.JWBaseURL = srv.URL
	tool := newJWRequestTool(ep)

	t.Run("json payload decoded", func(t *testing.T) {
		value, err := tool.Handler(context.Background(), testContext(t), json.RawMessage(`{"path":"/api/student/lesson"}`))
		if err != nil {
			t.Fatalf("handler: %v", err)
		}
		m, ok := value.(map[string]any)
		if !ok {
			t.Fatalf("handler returned %T, want map", value)
		}
		if m["total"] != float64(2) {
			t.Errorf("total = %v", m["total"])
		}
	})

	t.Run("non-json passes through as text", func(t *testing.T) {
		value, err := tool.Handler(context.Background(), testContext(t), json.RawMessage(`{"path":"plain"}`))
		if err != nil {
			t.Fatalf("handler: %v", err)
		}
		if value != "not json at all" {
			t.Errorf("value = %v", value)
		}
	})

	t.Run("missing path rejected", func(t *testing.T) {
		if _, err := tool.Handler(context.Background(), testContext(t), nil); err == nil {
			t.Error("expected error for missing path")
		}
	})

	t.Run("remote error surfaced", func(t *testing.T) {
		if _, err := tool.Handler(context.Background(), testContext(t), json.RawMessage(`{"path":"/missing"}`)); err == nil {
			t.Error("expected error for 404")
		}
	})
}

func TestMailInboxTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>inbox: 3 unread</html>")
	}))
	defer srv.Close()

	ep := DefaultEndpoints()
	ep.MailBaseURL = srv.URL

	value, err := newMailInboxTool(ep).Handler(context.Background(), testContext(t), nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if value != "<html>inbox: 3 unread</html>" {
		t.Errorf("value = %v", value)
	}
}
