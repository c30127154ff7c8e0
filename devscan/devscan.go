// Package devscan discovers local development servers listening on TCP
// ports.
package devscan

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// A Server is one listening development server. Several processes bound to
// the same port (forked dev servers, worker pools) are merged into a
// single entry.
type Server struct {
	Port    int    `json:"port"`
	Service string `json:"service"`
	Process string `json:"process_name"`
	PIDs    []int  `json:"pids"`
}

var devProcessNames = []string{
	"node", "bun", "deno", "python", "python3", "ruby", "go", "cargo",
	"rust", "vite", "webpack-dev-server", "next-dev", "parcel", "rollup",
	"esbuild", "tsx", "ts-node", "nodemon", "npx", "pnpm", "yarn",
	"flask", "django", "rails", "php", "dotnet",
}

// A Scanner lists dev servers via lsof.
type Scanner struct {
	Logger *slog.Logger

	// ExcludePorts are never reported, e.g. this app's own dev port.
	ExcludePorts []int
}

// Scan runs lsof and returns the discovered dev servers sorted by port.
func (s *Scanner) Scan(ctx context.Context) ([]Server, error) {
	out, err := exec.CommandContext(ctx, "lsof", "-i", "-P", "-n", "-sTCP:LISTEN").Output()
	if err != nil {
		return nil, fmt.Errorf("run lsof: %w", err)
	}
	servers := s.parse(string(out))
	s.Logger.Info("Scanned dev servers", "count", len(servers))
	return servers, nil
}

// parse extracts dev servers from lsof output. Split out from Scan so the
// parsing is testable without a live process table.
func (s *Scanner) parse(out string) []Server {
	byPort := make(map[int]*Server)

	for i, line := range strings.Split(out, "\n") {
		if i == 0 {
			// Column header.
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}

		process := fields[0]
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		if !isDevProcess(process) {
			continue
		}

		port, ok := listenPort(fields)
		if !ok || s.excluded(port) {
			continue
		}

		if existing, ok := byPort[port]; ok {
			existing.PIDs = append(existing.PIDs, pid)
			continue
		}
		byPort[port] = &Server{
			Port:    port,
			Service: detectService(port, process),
			Process: process,
			PIDs:    []int{pid},
		}
	}

	servers := make([]Server, 0, len(byPort))
	for _, srv := range byPort {
		servers = append(servers, *srv)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Port < servers[j].Port })
	return servers
}

// Kill force-kills every given pid.
func (s *Scanner) Kill(ctx context.Context, pids []int) error {
	for _, pid := range pids {
		out, err := exec.CommandContext(ctx, "kill", "-9", strconv.Itoa(pid)).CombinedOutput()
		if err != nil {
			return fmt.Errorf("kill pid %d: %w: %s", pid, err, strings.TrimSpace(string(out)))
		}
		s.Logger.Info("Killed dev server process", "pid", pid)
	}
	return nil
}

func (s *Scanner) excluded(port int) bool {
	for _, p := range s.ExcludePorts {
		if p == port {
			return true
		}
	}
	return false
}

func isDevProcess(process string) bool {
	lower := strings.ToLower(process)
	for _, name := range devProcessNames {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

// listenPort finds the listening address field and parses its port.
func listenPort(fields []string) (int, bool) {
	for _, f := range fields {
		local := strings.Contains(f, "*:") || strings.Contains(f, "localhost:") ||
			strings.Contains(f, "[::1]:") || strings.Contains(f, "127.0.0.1:")
		if !local {
			continue
		}
		addr := strings.TrimSuffix(f, "(LISTEN)")
		i := strings.LastIndexByte(addr, ':')
		if i < 0 {
			continue
		}
		port, err := strconv.Atoi(strings.TrimSpace(addr[i+1:]))
		if err != nil {
			continue
		}
		return port, true
	}
	return 0, false
}

func detectService(port int, process string) string {
	lower := strings.ToLower(process)

	switch {
	case strings.Contains(lower, "vite"):
		return "Vite"
	case strings.Contains(lower, "webpack"):
		return "Webpack Dev"
	case strings.Contains(lower, "next"):
		return "Next.js"
	}

	switch {
	case port >= 3000 && port <= 3099:
		if strings.Contains(lower, "bun") {
			return "Bun Server"
		}
		if strings.Contains(lower, "node") {
			return "React/Next.js"
		}
		return "Node.js Dev"
	case port >= 4000 && port <= 4099:
		return "Express/Node"
	case port >= 5000 && port <= 5099:
		if strings.Contains(lower, "python") {
			return "Flask/Python"
		}
		return "Dev Server"
	case port == 5173 || port == 5174:
		return "Vite"
	case port == 6006:
		return "Storybook"
	case port >= 7000 && port <= 7099:
		return "Custom Dev"
	case port >= 8000 && port <= 8099:
		if strings.Contains(lower, "python") {
			return "Django/Python"
		}
		return "Dev Server"
	case port == 8888:
		return "Jupyter"
	case port >= 9000 && port <= 9099:
		return "Go/Dev Server"
	default:
		return "Development Server"
	}
}
