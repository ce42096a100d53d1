package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/hamzilla/mcp/pkg/agent"
	"github.com/hamzilla/mcp/pkg/config"
	"github.com/hamzilla/mcp/pkg/llm/ollama"
	"github.com/hamzilla/mcp/pkg/store"
	"github.com/hamzilla/mcp/pkg/tools/bridge"
	"github.com/hamzilla/mcp/pkg/tools/manager"
	"github.com/hamzilla/mcp/pkg/tools/registry"
)

var (
	bannerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	serverStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	toolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	promptStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

func main() {
	configPath := flag.String("config", "mcpchat.yaml", "path to configuration file")
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	sessionID := flag.String("session", "", "conversation id for persisted history (default: a fresh id)")
	resume := flag.Bool("resume", false, "seed the conversation from the session's stored history")
	flag.Parse()

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(*configPath, *sessionID, *resume); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func run(configPath, sessionID string, resume bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var st store.Store
	if cfg.Storage != nil {
		db, err := store.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		st = db
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	mgr := manager.New(nil, log)
	if err := mgr.Connect(ctx, cfg.Servers); err != nil {
		return err
	}
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			log.Warn("shutdown incomplete", "error", err)
		}
	}()

	reg, err := registry.Build(ctx, mgr.Sessions())
	if err != nil {
		return err
	}

	printBanner(cfg, reg)

	completer := ollama.New(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Temperature)
	br := bridge.New(reg, bridge.Options{
		CallTimeout: time.Duration(cfg.LLM.ToolTimeoutSeconds) * time.Second,
		Logger:      log,
	})
	runner := agent.NewRunner(completer, br, reg.Tools(), st, log, agent.Options{
		MaxIterations: cfg.LLM.MaxIterations,
		ModelTimeout:  time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})

	return repl(ctx, runner, sessionID, resume)
}

func printBanner(cfg config.Config, reg *registry.Registry) {
	fmt.Println(bannerStyle.Render("mcpchat") + " — model: " + cfg.LLM.Model)

	inventory := reg.Inventory()
	for _, server := range reg.Servers() {
		tools := inventory[server]
		names := make([]string, 0, len(tools))
		for _, t := range tools {
			names = append(names, t.Name)
		}
		fmt.Printf("  %s %s\n",
			serverStyle.Render(server),
			toolStyle.Render("["+strings.Join(names, ", ")+"]"))
	}
	fmt.Println("Type a query, or 'quit' to exit.")
}

// repl reads queries line by line until EOF or an exit command. Each turn
// after the first continues the same persisted session.
func repl(ctx context.Context, runner *agent.Runner, sessionID string, resume bool) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	useHistory := resume
	for {
		fmt.Print(promptStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		query := strings.TrimSpace(scanner.Text())
		switch query {
		case "":
			continue
		case "quit", "exit":
			return nil
		}

		result := runner.Run(ctx, query, agent.QueryOptions{
			SessionID:  sessionID,
			UseHistory: useHistory,
		})
		useHistory = true

		fmt.Println(renderMarkdown(result.Content))
		if result.Partial {
			fmt.Println(partialStyle.Render(fmt.Sprintf("(%s after %d iteration(s))", result.Status, result.Iterations)))
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// mdRenderer renders markdown to terminal-formatted output.
var mdRenderer *glamour.TermRenderer

func init() {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return
	}
	mdRenderer = r
}

// renderMarkdown converts markdown text to terminal-formatted output. Falls
// back to plain text if the renderer is unavailable.
func renderMarkdown(text string) string {
	if mdRenderer == nil {
		return text
	}
	out, err := mdRenderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
