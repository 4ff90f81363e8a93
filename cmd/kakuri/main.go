// Package main is the kakuri CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/kakuri/internal/cli"
	"github.com/hyperjump/kakuri/internal/config"
	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/internal/policy"
	"github.com/hyperjump/kakuri/internal/server"
	"github.com/hyperjump/kakuri/internal/storage"
	"github.com/hyperjump/kakuri/internal/watcher"
	"github.com/hyperjump/kakuri/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kakuri/config.yaml"
	defaultServerURL  = "http://localhost:8080"
	configEnv         = "KAKURI_CONFIG"
	serverEnv         = "KAKURI_SERVER"
)

// configPathDefault returns $KAKURI_CONFIG when set, else the installed default.
func configPathDefault() string {
	if p := os.Getenv(configEnv); p != "" {
		return p
	}
	return defaultConfigPath
}

func serverURLDefault() string {
	if u := os.Getenv(serverEnv); u != "" {
		return u
	}
	return defaultServerURL
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory so that "kakuri server" from a project dir
// uses the project's config. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "query":
		runQuery()
	case "seed":
		runSeed()
	case "delete":
		runDelete()
	case "policy":
		runPolicy()
	case "audit":
		runAudit()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kakuri version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config, creates the logger and opens the stores. Exits on failure.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))

	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", configPathDefault(), "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	if err := components.initPipeline(cfg, logger); err != nil {
		logger.Fatal("Refusing to serve with invalid configuration", zap.Error(err))
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Policy.WatchOrDefault() {
		store := components.Policies
		w, err := watcher.NewWatcher([]string{cfg.Policy.Path}, func(string) {
			// Reload logs and counts its own outcome; a rejected file keeps the current version.
			_ = store.Reload()
		}, watcher.WithLogger(logger))
		if err != nil {
			logger.Fatal("Failed to create policy watcher", zap.Error(err))
		}
		if err := w.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start policy watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(components.Pipeline, components.Policies, components.Storage, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func printQueryUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kakuri query --role <role> [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  kakuri query --role finance What was Q4 revenue?
  kakuri query --role hr --output json "vacation policy"
  kakuri query --server "" --role executive "quarterly goals"   # without a running server
`)
}

// buildQuery joins all positional args with spaces so multi-word queries work the same
// with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// queryArgsReorder moves flags (and their values) that appear after the query to the
// front so that flag.Parse sees them. The flag package stops at the first positional.
func queryArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", configPathDefault(), "config file path (without a server)")
	serverURL := fs.String("server", serverURLDefault(), "server URL (empty = run the pipeline in-process)")
	role := fs.String("role", "", "role of the caller (required)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printQueryUsage(fs) }
	_ = fs.Parse(queryArgsReorder(os.Args[2:]))

	queryStr := buildQuery(fs.Args())
	if queryStr == "" || strings.TrimSpace(*role) == "" {
		printQueryUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var resp *models.QueryResponse
	if *serverURL != "" {
		resp, err = queryViaHTTP(*serverURL, queryStr, *role)
	} else {
		cfg, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		if err := components.initPipeline(cfg, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(1)
		}
		resp, err = components.Pipeline.Run(context.Background(), queryStr, *role)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteQueryResponse(os.Stdout, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func queryViaHTTP(serverURL, query, role string) (*models.QueryResponse, error) {
	body, err := json.Marshal(models.QueryRequest{Query: query})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/v1/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.RoleHeader, role)
	var out models.QueryResponse
	if err := doJSON(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// doJSON sends req and decodes a JSON body when the status is want.
func doJSON(req *http.Request, want int, out interface{}) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func runSeed() {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", configPathDefault(), "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kakuri seed [flags] <file.jsonl|directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	var n int
	if info.IsDir() {
		n, err = components.Indexer.IndexDirectory(ctx, path, nil)
	} else {
		n, err = components.Indexer.IndexFile(ctx, path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Seeding failed: %v\n", err)
		os.Exit(1)
	}
	if cfg.Storage.VectorIndexPath != "" {
		if err := components.VectorIndex.Save(cfg.Storage.VectorIndexPath); err != nil {
			fmt.Fprintf(os.Stderr, "Saving vector index failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Seeded %d chunk(s) from %s\n", n, path)
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", configPathDefault(), "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kakuri delete [flags] <chunk-id>...")
		os.Exit(1)
	}

	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	for _, id := range fs.Args() {
		if err := components.Indexer.DeleteChunk(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "Deletion of %s failed: %v\n", id, err)
			os.Exit(1)
		}
		fmt.Printf("Chunk deleted: %s\n", id)
	}
	if cfg.Storage.VectorIndexPath != "" {
		if err := components.VectorIndex.Save(cfg.Storage.VectorIndexPath); err != nil {
			fmt.Fprintf(os.Stderr, "Saving vector index failed: %v\n", err)
			os.Exit(1)
		}
	}
}

func runPolicy() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: kakuri policy <check|reload> [flags]")
		fmt.Println("  kakuri policy check [--config path] [--roles a,b] [policy.yaml]  Validate a policy and print resolved roles")
		fmt.Println("  kakuri policy reload [--server url]                Ask a running server to reload its policy")
		os.Exit(1)
	}
	sub := os.Args[2]
	switch sub {
	case "check":
		fs := flag.NewFlagSet("policy check", flag.ExitOnError)
		configPath := fs.String("config", configPathDefault(), "config file path (used when no policy file is given)")
		outputFormat := fs.String("output", "text", "output format: text or json")
		roles := fs.String("roles", "", "comma-separated roles to resolve as a request would")
		_ = fs.Parse(os.Args[3:])
		format, err := cli.ParseOutputFormat(*outputFormat)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		path := fs.Arg(0)
		if path == "" {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
				os.Exit(1)
			}
			path = cfg.Policy.Path
		}
		var lookup []string
		if *roles != "" {
			lookup = strings.Split(*roles, ",")
		}
		if err := checkPolicy(os.Stdout, path, format, lookup...); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "reload":
		fs := flag.NewFlagSet("policy reload", flag.ExitOnError)
		serverURL := fs.String("server", serverURLDefault(), "server URL")
		_ = fs.Parse(os.Args[3:])
		req, _ := http.NewRequest(http.MethodPost, *serverURL+"/api/v1/policy/reload", nil)
		var out struct {
			Version string `json:"version"`
		}
		if err := doJSON(req, http.StatusOK, &out); err != nil {
			fmt.Fprintf(os.Stderr, "Reload failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Policy reloaded: %s\n", out.Version)
	default:
		fmt.Printf("Unknown policy subcommand: %s\n", sub)
		os.Exit(1)
	}
}

// checkPolicy loads the policy at path and writes its resolved report, resolving each
// role in lookup as a request carrying it would.
func checkPolicy(w io.Writer, path string, format cli.OutputFormat, lookup ...string) error {
	e, err := policy.Load(path)
	if err != nil {
		return err
	}
	return cli.WritePolicyReport(w, cli.NewPolicyReport(path, e, lookup...), format)
}

func runAudit() {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	configPath := fs.String("config", configPathDefault(), "config file path (without a server)")
	serverURL := fs.String("server", serverURLDefault(), "server URL (empty = read the audit store directly)")
	since := fs.Duration("since", 24*time.Hour, "summarize decisions newer than this")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *since <= 0 {
		fmt.Fprintln(os.Stderr, "--since must be positive")
		os.Exit(1)
	}

	var summary *models.AuditSummary
	if *serverURL != "" {
		req, _ := http.NewRequest(http.MethodGet, *serverURL+"/api/v1/audit/summary?since="+url.QueryEscape(since.String()), nil)
		summary = &models.AuditSummary{}
		err = doJSON(req, http.StatusOK, summary)
	} else {
		cfg, loadedPath, loadErr := loadConfig(*configPath)
		if loadErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", loadErr)
			os.Exit(1)
		}
		if cfg.Audit.Backend != config.AuditSQLite {
			fmt.Fprintf(os.Stderr, "audit backend in %s is %q; only sqlite can be summarized\n", loadedPath, cfg.Audit.Backend)
			os.Exit(1)
		}
		store, openErr := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if openErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", openErr)
			os.Exit(1)
		}
		defer store.Close()
		summary, err = store.AuditSummary(context.Background(), time.Now().Add(-*since))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Audit summary failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteAuditSummary(os.Stdout, summary, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", serverURLDefault(), "server URL")
	_ = fs.Parse(os.Args[2:])

	req, _ := http.NewRequest(http.MethodGet, *serverURL+"/api/v1/status", nil)
	var status map[string]interface{}
	if err := doJSON(req, http.StatusOK, &status); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(status)
}

func printUsage() {
	fmt.Println(`kakuri - Access-controlled retrieval for department-scoped knowledge

Usage:
  kakuri server [flags]                 Start the HTTP server
  kakuri query --role <role> <query>    Run a query as a role
  kakuri seed [flags] <file|dir>        Load pre-chunked JSONL into the local store
  kakuri delete [flags] <chunk-id>...   Remove chunks from the store and indexes
  kakuri policy check [policy.yaml]     Validate a policy and show resolved roles
  kakuri policy reload                  Ask a running server to reload its policy
  kakuri audit [flags]                  Summarize filter decisions
  kakuri status                         Show server status
  kakuri version                        Show version
  kakuri help                           Show this help

Common Flags:
  --config string    Config file path (default: $KAKURI_CONFIG, ./config.yaml or /usr/local/etc/kakuri/config.yaml)
  --server string    Server URL (default: $KAKURI_SERVER or http://localhost:8080). Use --server "" to work without a server.
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Audit Flags:
  --since duration   Summarize decisions newer than this (default: 24h)

A .env file in the working directory is loaded before flags are read.

Examples:
  kakuri seed examples/chunks.jsonl
  kakuri delete fin-001
  kakuri server
  kakuri query --role finance What was Q4 revenue?
  kakuri query --server "" --role intern "holiday schedule"
  kakuri policy check examples/policy.yaml
  kakuri audit --since 1h --output json`)
}
