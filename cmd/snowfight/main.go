// Snow Fight — CLI entry point.
//
// This tool runs either side of the game's UDP transport: the server hosts
// the world and broadcasts snapshots, the client joins and plays. It can
// be launched interactively (no flags) or non-interactively via CLI flags
// (-role, -addr, -config).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/snowfight/internal/app"
	"github.com/1ureka/snowfight/internal/config"
	"github.com/1ureka/snowfight/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	role := flag.String("role", "", "Role: server or client")
	addr := flag.String("addr", "", "Listen address (server) or server address (client)")
	configPath := flag.String("config", "", "Path to a YAML config file")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Snow Fight — v%s", version))
	pterm.Println()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	switch *role {
	case "":
		// No -role flag → interactive mode.
		runInteractive(ctx, cfg)

	case "server":
		if *addr != "" {
			cfg.ListenAddr = *addr
		}
		runServer(ctx, cfg)

	case "client":
		if *addr != "" {
			cfg.ServerAddr = *addr
		}
		runClient(ctx, cfg)

	default:
		util.LogError("invalid -role: must be 'server' or 'client'")
		os.Exit(1)
	}

	util.LogInfo("goodbye")
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive falls back to interactive prompts when no -role flag is
// provided.
func runInteractive(ctx context.Context, cfg config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Server — Host a snow fight", "Client — Join a snow fight"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Server") {
		cfg.ListenAddr = askAddr("Listen address", cfg.ListenAddr)
		runServer(ctx, cfg)
	} else {
		cfg.ServerAddr = askAddr("Server address", cfg.ServerAddr)
		runClient(ctx, cfg)
	}
}

// runServer executes the server role.
func runServer(ctx context.Context, cfg config.Config) {
	cfg.Role = config.RoleServer

	if err := app.RunServer(ctx, cfg); err != nil {
		util.LogError("server failed: %v", err)
		os.Exit(1)
	}
}

// runClient executes the client role.
func runClient(ctx context.Context, cfg config.Config) {
	cfg.Role = config.RoleClient

	if err := app.RunClient(ctx, cfg); err != nil {
		util.LogError("client failed: %v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askAddr prompts for a UDP address, keeping the default on empty input.
func askAddr(prompt, fallback string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(fmt.Sprintf("%s (default %s)", prompt, fallback)).
		Show()

	pterm.Println()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	return raw
}
