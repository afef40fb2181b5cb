// ABOUTME: Entry point for the entropy-chat server and its maintenance commands
// ABOUTME: Serves the HTTP API and offers migrate, set-key, spaces, export and health

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/entropy-chat/internal/config"
	"github.com/2389/entropy-chat/internal/gateway"
	"github.com/2389/entropy-chat/internal/store"
	"github.com/2389/entropy-chat/internal/transcript"
	"github.com/2389/entropy-chat/internal/vault"
)

// Version is set at build time.
var version = "dev"

const banner = `
            _                                    _           _
  ___ _ __ | |_ _ __ ___  _ __  _   _        ___| |__   __ _| |_
 / _ \ '_ \| __| '__/ _ \| '_ \| | | |_____ / __| '_ \ / _' | __|
|  __/ | | | |_| | | (_) | |_) | |_| |_____| (__| | | | (_| | |_
 \___|_| |_|\__|_|  \___/| .__/ \__, |      \___|_| |_|\__,_|\__|
                         |_|    |___/
`

func usage() {
	fmt.Println("Usage: entropy-chat <command> [--config PATH]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                      Start the HTTP server")
	fmt.Println("  migrate                    Apply pending schema migrations")
	fmt.Println("  set-key [KEY]              Store the provider API key (prompts when omitted)")
	fmt.Println("  spaces                     List spaces in sidebar order")
	fmt.Println("  export [-o FILE] ID        Write a conversation transcript as HTML")
	fmt.Println("  health                     Check server health")
	fmt.Println("  version                    Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "migrate":
		err = runMigrate(ctx, args)
	case "set-key":
		err = runSetKey(ctx, args, os.Stdin)
	case "spaces":
		err = runSpaces(ctx, args, os.Stdout)
	case "export":
		err = runExport(ctx, args, os.Stdout)
	case "health":
		err = runHealth(ctx, args)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commandFlags returns a flag set carrying the shared --config flag.
func commandFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML or TOML config file")
	return fs, configPath
}

// loadConfig resolves and loads the config, returning the path actually used.
func loadConfig(explicit string) (*config.Config, string, error) {
	path := config.ResolvePath(explicit)
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// openStore opens the database named in cfg. Migrations run as part of opening.
func openStore(cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func runServe(ctx context.Context, args []string) error {
	fs, configFlag := commandFlags("serve")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	if configPath == "" {
		configPath = "(defaults)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Provider:  %s ", cfg.Provider.BaseURL)
	gray.Printf("(%s)\n", cfg.Provider.DefaultModel)
	fmt.Println()

	logger.Info("starting entropy-chat",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Path,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runMigrate(ctx context.Context, args []string) error {
	fs, configFlag := commandFlags("migrate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	s, err := openStore(cfg, setupLogger(cfg.Logging))
	if err != nil {
		return err
	}
	defer s.Close()

	v, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s schema version %d\n", cfg.Database.Path, v)
	return nil
}

func runSetKey(ctx context.Context, args []string, stdin io.Reader) error {
	fs, configFlag := commandFlags("set-key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	apiKey := strings.TrimSpace(fs.Arg(0))
	if apiKey == "" {
		apiKey = prompt(bufio.NewReader(stdin), "API key", "")
	}
	if apiKey == "" {
		return errors.New("no API key given")
	}

	logger := setupLogger(cfg.Logging)
	s, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	v, err := vault.New(vault.Config{KeyFile: cfg.Vault.KeyFile}, s, logger)
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	if err := v.SetAPIKey(ctx, apiKey); err != nil {
		return err
	}

	color.New(color.FgGreen).Print("✓ ")
	fmt.Println("API key stored")
	return nil
}

func runSpaces(ctx context.Context, args []string, out io.Writer) error {
	fs, configFlag := commandFlags("spaces")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	s, err := openStore(cfg, setupLogger(cfg.Logging))
	if err != nil {
		return err
	}
	defer s.Close()

	spaces, err := s.ListSpaces(ctx)
	if err != nil {
		return err
	}
	return printSpaces(out, spaces)
}

// printSpaces writes one line per space: position, name, id and a default marker.
func printSpaces(out io.Writer, spaces []*store.Space) error {
	gray := color.New(color.FgHiBlack)
	yellow := color.New(color.FgYellow)
	for _, sp := range spaces {
		line := fmt.Sprintf("%3d  %s  %s", sp.SortOrder, sp.Name, gray.Sprint(sp.ID))
		if sp.IsDefault {
			line += yellow.Sprint("  (default)")
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

func runExport(ctx context.Context, args []string, stdout io.Writer) error {
	fs, configFlag := commandFlags("export")
	output := fs.String("o", "", "write to FILE instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: entropy-chat export [-o FILE] <conversation-id>")
	}
	cfg, _, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	s, err := openStore(cfg, setupLogger(cfg.Logging))
	if err != nil {
		return err
	}
	defer s.Close()

	w := stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := transcript.NewExporter(s).Export(ctx, fs.Arg(0), w); err != nil {
		return fmt.Errorf("exporting conversation: %w", err)
	}
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	fs, configFlag := commandFlags("health")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
