package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/parley-chat/parley/pkg/client"
	"github.com/parley-chat/parley/pkg/client/ui"
)

var Version = "dev"

func main() {
	server := flag.String("server", "", "Server address (host[:port], ws://, or wss://)")
	debugLog := flag.String("debug-log", "", "Write debug output to this file")
	flag.Parse()

	state, err := client.OpenState(statePath())
	if err != nil {
		log.Fatalf("Failed to open state database: %v", err)
	}
	defer state.Close()

	addr := *server
	if addr == "" {
		addr = state.LastServer()
	}
	if addr == "" {
		addr = "localhost:7475"
	}

	logger := log.New(io.Discard, "", 0)
	if *debugLog != "" {
		f, err := os.OpenFile(*debugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Failed to open debug log: %v", err)
		}
		defer f.Close()
		logger = log.New(f, "", log.LstdFlags)
	}

	conn, err := client.NewConnection(addr)
	if err != nil {
		log.Fatalf("Invalid server address %q: %v", addr, err)
	}
	conn.SetLogger(logger)
	defer conn.Close()

	if err := conn.Connect(); err != nil {
		log.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	if err := state.SetLastServer(addr); err != nil {
		logger.Printf("failed to persist last server: %v", err)
	}

	program := tea.NewProgram(
		ui.NewModel(conn, state, logger),
		tea.WithAltScreen(),
	)
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "parley-client: %v\n", err)
		os.Exit(1)
	}
}

// statePath resolves the client state database location under
// XDG_DATA_HOME, falling back to ~/.local/share.
func statePath() string {
	xdgData := os.Getenv("XDG_DATA_HOME")
	if xdgData == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		xdgData = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(xdgData, "parley", "state.db")
}
