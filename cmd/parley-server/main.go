package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/parley-chat/parley/pkg/server"
)

var Version = "dev"

func main() {
	configPath := flag.String("config", "~/.parley/server.toml", "Path to config file")
	flag.Parse()

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	dbPath, err := server.ExpandPath(config.Server.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}

	srv, err := server.NewServer(dbPath, config.ToServerConfig())
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("parley-server %s listening (tcp=%d http=%d ssh=%d)",
		Version, config.Server.TCPPort, config.Server.HTTPPort, config.Server.SSHPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down", sig)

	if err := srv.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
