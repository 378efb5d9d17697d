package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/thezentroai/Zentro-AI/internal/chatbot"
	"github.com/thezentroai/Zentro-AI/internal/config"
	"github.com/thezentroai/Zentro-AI/internal/ui"
	"github.com/thezentroai/Zentro-AI/internal/web"
)

var (
	configPath  string
	backendName string
	modelName   string
	debug       bool
	addr        string
)

// rootCmd starts the terminal UI
var rootCmd = &cobra.Command{
	Use:   "zentro",
	Short: "Zentro AI - chat with a hosted language model",
	Long: `Zentro AI streams replies from a hosted language model into a chat view.

The API key is read from the environment:
  GEMINI_API_KEY (or API_KEY)  for the gemini backend (default)
  OPENAI_API_KEY               for the openai backend
  GROK_API_KEY                 for the grok backend

Run without arguments to start the terminal UI. When stdin is not a terminal
the line-oriented REPL is used instead.`,
	SilenceUsage: true,
	RunE:         runChat,
}

// replCmd starts the line-oriented chat
var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Chat in a line-oriented REPL",
	RunE:  runREPL,
}

// serveCmd serves the web chat
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat in a browser",
	Long: `Serves a single-page chat on --addr. The page talks to the conversation
over a websocket at /ws; /healthz reports liveness.`,
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (TOML, YAML or JSON; default ~/.zentro/config.toml)")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "LLM backend (gemini|openai|grok)")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", "", "Model name (default depends on backend)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")

	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the file, the environment and the flags, in that
// order of increasing precedence.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Override(backendName, modelName); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	if debug {
		cfg.Debug = true
	}
	if addr != "" {
		cfg.Web.Addr = addr
	}
	return cfg, nil
}

func newBot() (*chatbot.ChatBot, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, config.Config{}, err
	}
	bot, err := chatbot.NewChatBot(cfg)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("failed to initialize chatbot: %w", err)
	}
	return bot, cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func runChat(cmd *cobra.Command, args []string) error {
	if !isTerminal() {
		return runREPL(cmd, args)
	}

	bot, cfg, err := newBot()
	if err != nil {
		return err
	}
	defer bot.Close()

	ctx, cancel := signalContext()
	defer cancel()

	return ui.Run(ctx, bot, ui.Options{ModelName: cfg.Model})
}

func runREPL(cmd *cobra.Command, args []string) error {
	bot, _, err := newBot()
	if err != nil {
		return err
	}
	defer bot.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var prompter chatbot.Prompter
	if isTerminal() {
		lp := newLinePrompter()
		defer lp.Close()
		prompter = lp
	} else {
		prompter = chatbot.NewScannerPrompter(os.Stdin, os.Stdout)
	}

	return chatbot.NewREPL(bot, prompter, os.Stdout).Run(ctx)
}

func runServe(cmd *cobra.Command, args []string) error {
	bot, cfg, err := newBot()
	if err != nil {
		return err
	}
	defer bot.Close()

	ctx, cancel := signalContext()
	defer cancel()

	srv, err := web.NewServer(ctx, bot, cfg.Model, slog.Default())
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Web.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("web server listening", "addr", cfg.Web.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	fmt.Printf("Zentro AI serving on http://localhost%s (%s)\n", cfg.Web.Addr, cfg.Model)

	err = g.Wait()
	srv.Wait()
	fmt.Println("Goodbye!")
	return err
}
