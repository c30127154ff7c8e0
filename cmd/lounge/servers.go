package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/queendesk/lounge/devscan"
)

var flagKillPort int

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List local development servers, optionally killing one by port",
	RunE:  runServers,
}

func init() {
	serversCmd.Flags().IntVar(&flagKillPort, "kill", 0, "Kill the server listening on this port")
	rootCmd.AddCommand(serversCmd)
}

func runServers(cmd *cobra.Command, args []string) error {
	scanner := &devscan.Scanner{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}

	servers, err := scanner.Scan(cmd.Context())
	if err != nil {
		return fmt.Errorf("scan dev servers: %w", err)
	}

	if flagKillPort != 0 {
		for _, srv := range servers {
			if srv.Port == flagKillPort {
				return scanner.Kill(cmd.Context(), srv.PIDs)
			}
		}
		return fmt.Errorf("no dev server listening on port %d", flagKillPort)
	}

	if len(servers) == 0 {
		fmt.Println("no dev servers found")
		return nil
	}
	for _, srv := range servers {
		pids := make([]string, len(srv.PIDs))
		for i, pid := range srv.PIDs {
			pids[i] = fmt.Sprint(pid)
		}
		fmt.Printf("%5d  %-16s %-12s pid %s\n", srv.Port, srv.Service, srv.Process, strings.Join(pids, ","))
	}
	return nil
}
