// ABOUTME: Entry point for the interviewd conversation daemon
// ABOUTME: Wires config, store, transport, AI collaborators, and the engine

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/talentvox/interviewd/internal/ai"
	"github.com/talentvox/interviewd/internal/config"
	"github.com/talentvox/interviewd/internal/dedupe"
	"github.com/talentvox/interviewd/internal/interview"
	"github.com/talentvox/interviewd/internal/link"
	"github.com/talentvox/interviewd/internal/media"
	"github.com/talentvox/interviewd/internal/outbound"
	"github.com/talentvox/interviewd/internal/router"
	"github.com/talentvox/interviewd/internal/speech"
	"github.com/talentvox/interviewd/internal/store"
	"github.com/talentvox/interviewd/internal/transport"
	"github.com/talentvox/interviewd/internal/transport/evolution"
	"github.com/talentvox/interviewd/internal/transport/matrixbridge"
	"github.com/talentvox/interviewd/internal/transport/wppconnect"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _       _                  _                   _
(_)_ __ | |_ ___ _ ____   _(_) _____      ____| |
| | '_ \| __/ _ \ '__\ \ / / |/ _ \ \ /\ / / _' |
| | | | | ||  __/ |   \ V /| |  __/\ V  V / (_| |
|_|_| |_|\__\___|_|    \_/ |_|\___| \_/\_/ \__,_|
`

// getConfigPath returns the path to the interviewd config file.
// Priority: INTERVIEWD_CONFIG env var > XDG_CONFIG_HOME/interviewd/config.yaml > ~/.config/interviewd/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("INTERVIEWD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "interviewd", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: interviewd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                              Start the interview daemon")
		fmt.Println("  invite <slot> <candidate> <job>    Send an interview invitation")
		fmt.Println("  version                            Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "invite":
		if len(os.Args) != 5 {
			fmt.Fprintln(os.Stderr, "Usage: interviewd invite <slot-id> <candidate-id> <job-id>")
			os.Exit(1)
		}
		err = runInvite(ctx, os.Args[2], os.Args[3], os.Args[4])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Providers: %v\n", cfg.Transport.Providers)
	fmt.Println()

	logger.Info("starting interviewd",
		"config", configPath,
		"providers", cfg.Transport.Providers,
		"max_slots", cfg.Transport.MaxSlots,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		return err
	}

	sup := transport.NewSupervisor(providers, st, transport.Config{
		MaxSlots:          cfg.Transport.MaxSlots,
		PairingTimeout:    cfg.Transport.PairingTimeout,
		KeepaliveInterval: cfg.Transport.KeepaliveInterval,
		ReconnectDelay:    cfg.Transport.ReconnectDelay,
		RetryDelay:        cfg.Transport.RetryDelay,
		MaxRetries:        cfg.Transport.MaxRetries,
	}, logger)
	defer sup.Close()

	aiClient, err := ai.NewClient(ctx, cfg.AI.GeminiAPIKey, ai.Options{
		TranscribeModel: cfg.AI.TranscribeModel,
		ScoreModel:      cfg.AI.ScoreModel,
		Timeout:         cfg.AI.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating ai client: %w", err)
	}

	var speaker *speech.Synthesizer
	if cfg.Speech.Enabled {
		speaker = speech.New(speech.Options{
			BaseURL: cfg.Speech.BaseURL,
			APIKey:  cfg.Speech.APIKey,
			Model:   cfg.Speech.Model,
			Voice:   cfg.Speech.Voice,
			Timeout: cfg.Speech.RequestTimeout,
		})
	}

	var signer *link.Signer
	if cfg.Interview.LinkSecret != "" {
		signer = link.NewSigner([]byte(cfg.Interview.LinkSecret), cfg.Interview.LinkBaseURL, cfg.Interview.LinkTTL)
	}

	seen := dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize)
	defer seen.Close()

	gateway := outbound.NewGateway(sup, speakerOrNil(speaker), logger)
	pipeline := media.NewPipeline(cfg.Media.Dir, sup, aiClient, cfg.Interview.Language, logger)

	engine := interview.NewEngine(st, gateway, pipeline, aiClient, signer, seen, interview.Config{
		CompanyName: cfg.Interview.CompanyName,
		Templates: interview.Templates{
			Invitation: cfg.Interview.Templates.Invitation,
			Greeting:   cfg.Interview.Templates.Greeting,
			Decline:    cfg.Interview.Templates.Decline,
			Closing:    cfg.Interview.Templates.Closing,
			Redirect:   cfg.Interview.Templates.Redirect,
			Cancelled:  cfg.Interview.Templates.Cancelled,
		},
	}, logger)

	r := router.New(sup.Events(), st, seen, engine, logger)
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		r.Run(ctx)
	}()

	connectSlots(ctx, sup, cfg.Transport.MaxSlots, logger)

	logger.Info("interviewd running")
	<-ctx.Done()
	logger.Info("shutting down")

	sup.Close()
	<-routerDone
	return nil
}

// connectSlots brings every slot up at startup. Slots with a persisted
// session resume silently; the rest begin pairing with the code surfaced
// in the log for the operator.
func connectSlots(ctx context.Context, sup *transport.Supervisor, maxSlots int, logger *slog.Logger) {
	for i := 1; i <= maxSlots; i++ {
		slotID := fmt.Sprintf("slot-%d", i)
		status, err := sup.Connect(ctx, slotID)
		if err != nil {
			logger.Warn("slot connect failed", "slot", slotID, "error", err)
			continue
		}
		if status.State == transport.StatePairing {
			logger.Info("slot waiting for pairing",
				"slot", slotID, "provider", status.Provider, "code", status.PairingCode)
		}
	}
}

// runInvite sends one interview invitation through an already-paired slot
// and exits. The slot must resume from its persisted session; pairing is an
// interactive flow that belongs to serve.
func runInvite(ctx context.Context, slotID, candidateID, jobID string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		return err
	}

	sup := transport.NewSupervisor(providers, st, transport.Config{
		MaxSlots:          cfg.Transport.MaxSlots,
		PairingTimeout:    cfg.Transport.PairingTimeout,
		KeepaliveInterval: cfg.Transport.KeepaliveInterval,
		ReconnectDelay:    cfg.Transport.ReconnectDelay,
		RetryDelay:        cfg.Transport.RetryDelay,
		MaxRetries:        cfg.Transport.MaxRetries,
	}, logger)
	defer sup.Close()

	status, err := sup.Connect(ctx, slotID)
	if err != nil {
		return fmt.Errorf("connecting slot %s: %w", slotID, err)
	}
	if status.State != transport.StateConnected {
		return fmt.Errorf("slot %s is not paired (state %s); run serve and complete pairing first", slotID, status.State)
	}

	var signer *link.Signer
	if cfg.Interview.LinkSecret != "" {
		signer = link.NewSigner([]byte(cfg.Interview.LinkSecret), cfg.Interview.LinkBaseURL, cfg.Interview.LinkTTL)
	}

	seen := dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize)
	defer seen.Close()

	gateway := outbound.NewGateway(sup, nil, logger)
	engine := interview.NewEngine(st, gateway, nil, nil, signer, seen, interview.Config{
		CompanyName: cfg.Interview.CompanyName,
		Templates: interview.Templates{
			Invitation: cfg.Interview.Templates.Invitation,
			Greeting:   cfg.Interview.Templates.Greeting,
			Decline:    cfg.Interview.Templates.Decline,
			Closing:    cfg.Interview.Templates.Closing,
			Redirect:   cfg.Interview.Templates.Redirect,
			Cancelled:  cfg.Interview.Templates.Cancelled,
		},
	}, logger)

	iv, err := engine.Invite(ctx, slotID, candidateID, jobID)
	if err != nil {
		return fmt.Errorf("sending invitation: %w", err)
	}

	fmt.Printf("Invitation sent: interview %s (candidate %s, job %s)\n", iv.ID, candidateID, jobID)
	return nil
}

func buildProviders(cfg *config.Config, logger *slog.Logger) ([]transport.Provider, error) {
	var providers []transport.Provider
	for _, name := range cfg.Transport.Providers {
		switch name {
		case "evolution":
			p, err := evolution.NewProvider(cfg.Transport.Evolution.BaseURL, cfg.Transport.Evolution.APIKey, logger)
			if err != nil {
				return nil, fmt.Errorf("creating evolution provider: %w", err)
			}
			providers = append(providers, p)
		case "wppconnect":
			providers = append(providers, wppconnect.NewProvider(cfg.Transport.WppConnect.BaseURL, cfg.Transport.WppConnect.Token, logger))
		case "matrix":
			providers = append(providers, matrixbridge.NewProvider(cfg.Transport.Matrix.Homeserver, cfg.Transport.Matrix.UserID, logger))
		default:
			return nil, fmt.Errorf("unknown transport provider %q", name)
		}
	}
	return providers, nil
}

// speakerOrNil keeps the gateway's Speaker interface nil when speech is
// disabled, instead of a non-nil interface wrapping a nil pointer
func speakerOrNil(s *speech.Synthesizer) outbound.Speaker {
	if s == nil {
		return nil
	}
	return s
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
