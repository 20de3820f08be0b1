package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"gioui.org/app"
	"gioui.org/op"
	"gioui.org/widget/material"

	"github.com/parley-chat/parley/cmd/parley-gui/ui"
	"github.com/parley-chat/parley/pkg/client"
)

var Version = "dev"

func main() {
	server := flag.String("server", "localhost:7475", "Server address (host[:port], ws://, or wss://)")
	flag.Parse()

	xdgData := os.Getenv("XDG_DATA_HOME")
	if xdgData == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		xdgData = filepath.Join(homeDir, ".local", "share")
	}
	statePath := filepath.Join(xdgData, "parley", "state.db")

	state, err := client.OpenState(statePath)
	if err != nil {
		log.Fatalf("Failed to open state database: %v", err)
	}
	defer state.Close()

	conn, err := client.NewConnection(*server)
	if err != nil {
		log.Fatalf("Invalid server address %q: %v", *server, err)
	}
	defer conn.Close()

	if err := conn.Connect(); err != nil {
		log.Fatalf("Failed to connect to %s: %v", *server, err)
	}

	go func() {
		w := new(app.Window)
		w.Option(
			app.Title("Parley"),
			app.Size(1024, 768),
		)

		th := material.NewTheme()
		appUI := ui.NewApp(conn, state, th, w)
		appUI.Start()

		var ops op.Ops
		for {
			switch e := w.Event().(type) {
			case app.DestroyEvent:
				os.Exit(0)
			case app.FrameEvent:
				gtx := app.NewContext(&ops, e)
				appUI.Layout(gtx)
				e.Frame(gtx.Ops)
			}
		}
	}()

	app.Main()
}
