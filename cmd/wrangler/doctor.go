package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonhardwick-spec/wrangler/internal/config"
	"github.com/jonhardwick-spec/wrangler/internal/muxdriver"
)

// doctorCmd checks the preconditions the core assumes: tmux on PATH,
// the RPC socket path, and tmpfs availability.
func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor <project-path>",
		Short: "check tooling, RPC socket, and tmpfs availability",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("wrangler doctor")
			fmt.Println()

			driver := muxdriver.NewTmux()
			fmt.Println("Tooling:")
			if driver.Installed() {
				fmt.Printf("  %-16s found\n", "tmux")
			} else {
				fmt.Printf("  %-16s not found on PATH\n", "tmux")
			}
			fmt.Println()

			projectPath := ""
			if len(args) == 1 {
				projectPath = args[0]
			} else {
				wd, err := config.ProjectDir()
				if err == nil {
					projectPath = wd
				}
			}

			fmt.Println("RPC socket:")
			if projectPath != "" {
				sockPath := config.SocketPath(projectPath)
				fmt.Printf("  path: %s\n", sockPath)
				if reachable(sockPath) {
					fmt.Println("  status: reachable")
				} else {
					fmt.Println("  status: not reachable")
				}
			} else {
				fmt.Println("  no project path given; skipped")
			}
			fmt.Println()

			fmt.Println("Tmpfs:")
			dir := muxdriver.TmpfsDir()
			fmt.Printf("  scratch dir: %s\n", dir)
			if dir == os.TempDir() {
				fmt.Println("  note: no writable tmpfs mount found, using the standard temp directory")
			}
			fmt.Println()

			userDir, err := config.UserConfigDir()
			if err != nil {
				return err
			}
			fmt.Println("Config:")
			fmt.Printf("  user config dir: %s\n", userDir)
			cfg, err := config.Load(userDir)
			if err != nil {
				return err
			}
			fmt.Printf("  dashboard_port:    %d\n", cfg.DashboardPort)
			fmt.Printf("  coordination_port: %d\n", cfg.CoordinationPort)
			fmt.Printf("  public_mode:       %v\n", cfg.PublicMode)

			return nil
		},
	}
}

func reachable(sockPath string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", sockPath)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
