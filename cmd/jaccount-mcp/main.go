// Command jaccount-mcp serves SJTU campus services as MCP tools over
// streamable HTTP, backed by a persistent jAccount session.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/sjtools/jaccount-mcp-go/internal/config"
	"github.com/sjtools/jaccount-mcp-go/internal/jaccount"
	"github.com/sjtools/jaccount-mcp-go/internal/mcpserver"
	"github.com/sjtools/jaccount-mcp-go/internal/tools"
	"github.com/sjtools/jaccount-mcp-go/internal/tools/campus"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "jaccount-mcp:", err)
		os.Exit(1)
	}
}

func run() error {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)

	mgr, err := jaccount.New(cfg.CredentialsPath,
		jaccount.WithLogger(log),
		jaccount.WithCacheDir(cfg.CacheDir),
		jaccount.WithHTTPTimeout(cfg.HTTPTimeout),
		jaccount.WithCaptchaSolver(promptCaptcha),
		jaccount.WithCredentialProvider(promptCredentials),
		jaccount.WithFileWatch(cmd == "serve"),
	)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		return serve(ctx, cfg, log, mgr)
	case "login":
		if mgr.EnsureLoggedIn(ctx) {
			fmt.Println("已登录")
			return nil
		}
		return errors.New("登录失败")
	case "logout":
		mgr.Logout(ctx)
		fmt.Println("已登出")
		return nil
	case "status":
		if mgr.IsLoggedIn(ctx) {
			fmt.Println("会话有效")
		} else {
			fmt.Println("会话失效，请运行 jaccount-mcp login")
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q (expected serve, login, logout or status)", cmd)
	}
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger, mgr *jaccount.Manager) error {
	reg := tools.NewRegistry()
	if err := campus.RegisterAll(reg, campus.DefaultEndpoints()); err != nil {
		return err
	}
	reg.Freeze()

	handler := mcpserver.New(mgr, reg,
		mcpserver.WithLogger(log),
		mcpserver.WithServerInfo(cfg.ServerName, version),
	)

	mgr.StartMonitor(func() {
		log.Warn("session.expired", slog.String("hint", "run 'jaccount-mcp login' to re-authenticate"))
	})
	defer mgr.StopMonitor()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.listening", slog.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("server.shutdown.begin")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server.shutdown.ok")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// promptCaptcha asks the operator to read the challenge image off disk and
// type the answer.
func promptCaptcha(ctx context.Context, imagePath string, _ []byte) (string, error) {
	fmt.Printf("验证码图片已保存至 %s\n请输入验证码: ", imagePath)
	return readLine(ctx)
}

func promptCredentials(ctx context.Context) (string, string, error) {
	fmt.Print("jAccount 用户名: ")
	user, err := readLine(ctx)
	if err != nil {
		return "", "", err
	}

	fmt.Print("密码: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", "", err
	}
	return user, string(pass), nil
}

func readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		ch <- result{strings.TrimSpace(line), err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.line, r.err
	}
}
