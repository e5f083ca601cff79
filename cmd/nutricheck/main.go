// Command nutricheck validates the service configuration and optionally
// sends one probe conversation to the configured provider.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ai-nutritionist/backend/config"
	"github.com/ai-nutritionist/backend/server/catalog"
	"github.com/ai-nutritionist/backend/server/prompt"
	"github.com/ai-nutritionist/backend/server/provider"
	"github.com/ai-nutritionist/backend/server/reply"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const Version = "v0.3.0"

const defaultProbe = "I often feel tired in the afternoon. What could I be missing?"

func main() {
	var (
		configFile = flag.String("config", "config.yaml", "Path to configuration file")
		validate   = flag.Bool("validate", false, "Validate configuration and exit")
		version    = flag.Bool("version", false, "Print version and exit")
		ping       = flag.Bool("ping", false, "Send a probe prompt to the provider")
		message    = flag.String("message", defaultProbe, "Probe message used with -ping")
	)
	flag.Parse()

	if *version {
		fmt.Printf("nutricheck %s\n", Version)
		return
	}

	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Resolve(*configFile)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("config_path", *configFile))
	}

	if *validate || !*ping {
		fmt.Fprintln(os.Stdout, "Configuration is valid")
		printSummary(os.Stdout, cfg)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.LLM.Timeout+5*time.Second)
	defer cancel()

	if err := probe(ctx, os.Stdout, cfg, *message, logger); err != nil {
		logger.Fatal("Probe failed", zap.Error(err))
	}
}

func printSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "  provider:  %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Fprintf(w, "  port:      %d\n", cfg.Server.Port)
	fmt.Fprintf(w, "  reply:     %s, fallback %s\n", cfg.Reply.Mode, cfg.Reply.Fallback)
	if cfg.Session.Enabled {
		fmt.Fprintf(w, "  sessions:  %s, timeout %s\n", cfg.Session.Driver, cfg.Session.Timeout)
	} else {
		fmt.Fprintln(w, "  sessions:  disabled")
	}
	if cfg.Catalog.Path != "" {
		fmt.Fprintf(w, "  catalog:   %s\n", cfg.Catalog.Path)
	}
}

// probe sends message through the same prompt, gateway and parser the
// server uses, with no session and no history.
func probe(ctx context.Context, w io.Writer, cfg *config.Config, message string, logger *zap.Logger) error {
	backend, err := provider.NewBackend(cfg.LLM)
	if err != nil {
		return err
	}
	return probeWith(ctx, w, cfg, backend, message, logger)
}

func probeWith(ctx context.Context, w io.Writer, cfg *config.Config, backend provider.Backend, message string, logger *zap.Logger) error {
	cat := catalog.LoadOrEmpty(cfg.Catalog.Path, logger)

	mode := prompt.ModeJSON
	if cfg.Reply.Mode == string(prompt.ModeText) {
		mode = prompt.ModeText
	}
	asm, err := prompt.NewAssembler(cfg.Prompt.SystemTemplate, cat, mode)
	if err != nil {
		return err
	}

	gw := provider.NewGateway(backend, nil, nil, logger, provider.OptionsFromConfig(cfg.LLM))

	start := time.Now()
	raw, err := gw.Complete(ctx, asm.Assemble(nil, message), provider.Options{})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	parsed := reply.NewParser(cfg.Reply).Parse(raw)
	fmt.Fprintf(w, "provider %s answered in %s\n", gw.Provider(), elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "structured: %t\n\n", !parsed.Fallback)
	fmt.Fprintln(w, parsed.Reply)
	for _, s := range parsed.Suggestions {
		fmt.Fprintf(w, "  • %s\n", s)
	}
	return nil
}
