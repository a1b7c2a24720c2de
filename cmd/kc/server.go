package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kcons/kc/internal/config"
	"github.com/kcons/kc/internal/engine"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the kc server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running kc server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show kc system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "kc version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	token, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	pid := pidFileIn(cfg.Storage.DataDir)
	if healthy(cfg.Server.Port) {
		if n, err := pid.read(); err == nil {
			return fmt.Errorf("kc is already running (PID %d)", n)
		}
		return fmt.Errorf("kc is already running on port %d", cfg.Server.Port)
	}
	if err := pid.write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer pid.remove()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, token)
	if err != nil {
		return err
	}
	defer d.close()
	return d.serve(ctx)
}

// healthy reports whether a kc daemon answers /health on port.
func healthy(port int) bool {
	c := &http.Client{Timeout: 2 * time.Second}
	resp, err := c.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	pid, err := pidFileIn(cfg.Storage.DataDir).signal(syscall.SIGTERM)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return errors.New("kc is not running (no PID file)")
	case err != nil:
		return fmt.Errorf("stopping kc (PID %d): %w", pid, err)
	}
	printSuccess("Sent stop signal to kc (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	running := healthy(cfg.Server.Port)
	if running {
		printStatus("Server", "running on port %d", cfg.Server.Port)
	} else {
		printStatus("Server", "stopped")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL, "")
	if v, err := eng.Version(ctx); err != nil {
		printStatus("Ollama", "not running")
	} else {
		printStatus("Ollama", "%s at %s", v, cfg.Ollama.BaseURL)
		if loaded, err := eng.Loaded(ctx); err == nil && len(loaded) > 0 {
			printStatus("Loaded models", "%s", strings.Join(loaded, ", "))
		}
	}

	printStatus("Analysis model", "%s", cfg.Ollama.AnalysisModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Provider", "%s (fallback: %s)", cfg.Providers.Active, cfg.Providers.Fallback)
	if cfg.Qdrant.URL != "" {
		printStatus("Qdrant", "%s/%s", cfg.Qdrant.URL, cfg.Qdrant.Collection)
	}

	if running {
		if c, err := newAPIClient(); err == nil {
			var s struct {
				Files    int `json:"files"`
				Analyzed int `json:"analyzed"`
				Pending  int `json:"pending"`
			}
			statsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if c.call(statsCtx, "GET", "/stats", nil, &s) == nil {
				printStatus("Files", "%d (%d analyzed, %d pending)", s.Files, s.Analyzed, s.Pending)
			}
		}
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
