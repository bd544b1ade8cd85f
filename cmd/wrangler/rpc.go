package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/jonhardwick-spec/wrangler/internal/config"
	"github.com/jonhardwick-spec/wrangler/internal/rpcbridge"
)

// shellQuote wraps s in single quotes, escaping embedded single quotes
// with the classic '\'' pattern, mirroring muxdriver.Tmux's own helper
// for building a raw shell command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runShell executes script via bash -c, surfacing stderr on failure.
func runShell(ctx context.Context, script string) error {
	cmd := exec.CommandContext(ctx, "bash", "-c", script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("shell: %s", msg)
	}
	return nil
}

// rpcHealth resolves the project's RPC socket path and runs the
// bridge's health probe, printing the result.
func rpcHealth(ctx context.Context, projectPath string) error {
	sockPath := config.SocketPath(projectPath)
	bridge := rpcbridge.New(sockPath, nil, newLogger())
	status, err := bridge.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("rpc health check: %w", err)
	}
	fmt.Printf("socket:  %s\n", sockPath)
	for k, v := range status {
		fmt.Printf("%-8s %v\n", k+":", v)
	}
	return nil
}

// httpListenAndServe runs an http.Server on addr with short-lived
// read/idle timeouts, so a slow or hung client can't pin a connection
// forever. Write has no timeout since the WebSocket handler holds its
// connection open indefinitely by design.
func httpListenAndServe(addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // the WebSocket handler holds its connection open indefinitely
		IdleTimeout:       120 * time.Second,
	}
	return srv.ListenAndServe()
}
