package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonhardwick-spec/wrangler/internal/autorun"
	"github.com/jonhardwick-spec/wrangler/internal/capture"
	"github.com/jonhardwick-spec/wrangler/internal/config"
	"github.com/jonhardwick-spec/wrangler/internal/dashboard"
	"github.com/jonhardwick-spec/wrangler/internal/events"
	"github.com/jonhardwick-spec/wrangler/internal/muxdriver"
	"github.com/jonhardwick-spec/wrangler/internal/session"
)

func main() {
	root := &cobra.Command{
		Use:   "wrangler",
		Short: "autonomous orchestration layer for a CLI agent running in tmux",
	}
	root.AddCommand(runCmd(), sessionCmd(), captureCmd(), dashboardCmd(), rpcCmd(), doctorCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// parseDuration parses an H:MM duration, defaulting to 0:30.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 30 * time.Minute, nil
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("duration must be H:MM, got %q", s)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hours in duration %q: %w", s, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minutes in duration %q: %w", s, err)
	}
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute, nil
}

// runCmd is the autonomous runner: project path, prompt, and a
// duration budget as its three positional arguments.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <project-path> <prompt> <duration>",
		Short: "run the agent autonomously in a supervised tmux session until done or out of time",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectPath, prompt, durationStr := args[0], args[1], args[2]
			deadline, err := parseDuration(durationStr)
			if err != nil {
				return err
			}

			log := newLogger()
			driver := muxdriver.NewTmux()
			sup := session.New(driver, log)
			bus := events.New(events.DefaultBacklog)
			defer bus.Stop()

			cap := capture.New(driver, bus, log)
			ctrl := autorun.New(driver, sup, cap, bus, log)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			report, err := ctrl.Run(ctx, projectPath, prompt, deadline)
			if err != nil {
				return err
			}

			fmt.Printf("exit reason: %s\n", report.ExitReason)
			fmt.Printf("completed successfully: %v\n", report.CompletedSuccessfully)
			fmt.Printf("permissions handled: %d\n", report.PermissionsHandled)
			fmt.Printf("reinforcements sent: %d\n", report.Reinforcements)

			if report.ExitReason != autorun.ExitCompleted {
				os.Exit(1)
			}
			return nil
		},
	}
	return cmd
}

func sessionCmd() *cobra.Command {
	sc := &cobra.Command{Use: "session", Short: "manage supervised tmux sessions"}

	sc.AddCommand(&cobra.Command{
		Use:   "list <project-path>",
		Short: "list sessions belonging to a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sup := session.New(muxdriver.NewTmux(), newLogger())
			handles, err := sup.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, h := range handles {
				fmt.Printf("%s\t%s\t%s\n", h.Name, h.Role, h.Status)
			}
			return nil
		},
	})

	sc.AddCommand(&cobra.Command{
		Use:   "start <project-path> <role>",
		Short: "start a session (role: agent|console)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := session.Role(args[1])
			sup := session.New(muxdriver.NewTmux(), newLogger())
			h, err := sup.Start(cmd.Context(), args[0], role)
			if err != nil {
				return err
			}
			fmt.Printf("started: %s\n", h.Name)
			return nil
		},
	})

	sc.AddCommand(&cobra.Command{
		Use:   "send <session-name> <text>",
		Short: "inject literal text into a session via a shell-quoted raw command line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, text := args[0], args[1]
			script := fmt.Sprintf("%s send-keys -t %s -l %s", shellQuote(muxdriver.NewTmux().Bin()), shellQuote(name), capture.ShellQuoteText(text))
			return runShell(cmd.Context(), script)
		},
	})

	sc.AddCommand(&cobra.Command{
		Use:   "stop <project-path>",
		Short: "stop all sessions belonging to a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sup := session.New(muxdriver.NewTmux(), newLogger())
			rep := sup.StopAll(cmd.Context(), args[0], session.StopOptions{Reason: "user_stop"})
			fmt.Printf("succeeded: %d, failed: %d\n", rep.Succeeded, rep.Failed)
			if rep.Failed > 0 {
				os.Exit(1)
			}
			return nil
		},
	})

	return sc
}

func captureCmd() *cobra.Command {
	cc := &cobra.Command{Use: "capture", Short: "inspect live session output"}
	cc.AddCommand(&cobra.Command{
		Use:   "attach <session-name>",
		Short: "print the current captured tail of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			driver := muxdriver.NewTmux()
			cap := capture.New(driver, nil, log)
			if err := cap.Start(cmd.Context(), args[0]); err != nil {
				return err
			}
			defer cap.Destroy()
			content, err := cap.GetContent(cmd.Context(), 200)
			if err != nil {
				return err
			}
			for _, line := range content.Lines {
				fmt.Println(line)
			}
			return nil
		},
	})
	return cc
}

func dashboardCmd() *cobra.Command {
	dc := &cobra.Command{Use: "dashboard", Short: "run the dashboard HTTP/WS façade"}
	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve <project-path>",
		Short: "serve the dashboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectPath := args[0]
			log := newLogger()

			userDir, err := config.UserConfigDir()
			if err != nil {
				return err
			}
			watcher, err := config.NewWatcher(userDir, log)
			if err != nil {
				return err
			}
			defer watcher.Close()
			appCfg := watcher.Get()
			config.ApplyEnv(&appCfg)

			if addr == "" {
				addr = fmt.Sprintf(":%d", appCfg.DashboardPort)
			}

			driver := muxdriver.NewTmux()
			sup := session.New(driver, log)
			bus := events.New(events.DefaultBacklog)
			defer bus.Stop()
			cap := capture.New(driver, bus, log)
			runner := autorun.New(driver, sup, cap, bus, log)

			store, err := dashboard.OpenStore(projectPath + "/" + config.AppDirName + "/dashboard.db")
			if err != nil {
				return err
			}
			defer store.Close()

			dashCfg := dashboard.Config{
				ProjectPath:  projectPath,
				PasswordPath: userDir + "/dashboard.hash",
				PasswordSeed: appCfg.DashboardPassword,
			}
			if appCfg.PublicMode {
				dashCfg.PasswordPath = ""
			}

			srv, err := dashboard.New(dashCfg, sup, runner, store, bus, log)
			if err != nil {
				return err
			}
			defer srv.Close()

			log.Info("dashboard listening", "addr", addr)
			return httpListenAndServe(addr, srv)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address override (default from config)")
	dc.AddCommand(serveCmd)
	return dc
}

func rpcCmd() *cobra.Command {
	rc := &cobra.Command{Use: "rpc", Short: "inspect the RPC bridge"}
	rc.AddCommand(&cobra.Command{
		Use:   "health <project-path>",
		Short: "probe the RPC bridge's health endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rpcHealth(cmd.Context(), args[0])
		},
	})
	return rc
}
