package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/atvirokodosprendimai/qbank/internal/app"
	"github.com/atvirokodosprendimai/qbank/internal/logging"
)

func main() {
	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()

	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "qbank:", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:                      "qbank",
		Usage:                     "Validate, import, edit and archive exam questions",
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Sources: cli.EnvVars("QBANK_CONFIG"),
				Usage:   "YAML file with categories and defaults",
			},
			&cli.StringFlag{
				Name:    "db-path",
				Sources: cli.EnvVars("QBANK_DB_PATH"),
				Usage:   "SQLite file path (default ./qbank.sqlite)",
			},
			&cli.StringSliceFlag{
				Name:    "category",
				Sources: cli.EnvVars("QBANK_CATEGORIES"),
				Usage:   "Allowed question category, repeatable; enables the naming check",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Sources: cli.EnvVars("QBANK_LOG_LEVEL"),
				Usage:   "trace, debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Sources: cli.EnvVars("QBANK_LOG_FORMAT"),
				Usage:   "json or pretty",
			},
			&cli.StringFlag{
				Name:    "actor",
				Value:   "cli",
				Sources: cli.EnvVars("QBANK_ACTOR"),
				Usage:   "Actor recorded in the audit trail",
			},
		},
		Commands: []*cli.Command{
			validateCommand(),
			importCommand(),
			templateCommand(),
			exportCommand(),
			showCommand(),
			listCommand(),
			editCommand(),
			removeCommand(),
			restoreCommand(),
			deriveChildCommand(),
			nextNameCommand(),
			historyCommand(),
			outboxCommand(),
			apiKeyCommand(),
			serveCommand(),
		},
	}
}

// loadConfig layers defaults, the optional YAML file and explicitly set flags.
func loadConfig(c *cli.Command) (app.Config, zerolog.Logger, error) {
	cfg := app.DefaultConfig()
	if path := c.String("config"); path != "" {
		if err := app.LoadConfigFile(path, &cfg); err != nil {
			return app.Config{}, zerolog.Nop(), err
		}
	}

	setString := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	setString("db-path", &cfg.DBPath)
	setString("log-level", &cfg.LogLevel)
	setString("log-format", &cfg.LogFormat)
	setString("addr", &cfg.Addr)
	setString("webhook-url", &cfg.WebhookURL)
	setString("webhook-secret", &cfg.WebhookSecret)
	setString("bootstrap-api-key", &cfg.BootstrapAPIKey)
	setString("bootstrap-key-name", &cfg.BootstrapKeyName)
	if c.IsSet("category") {
		cfg.Categories = c.StringSlice("category")
	}
	if c.IsSet("dispatch-interval") {
		cfg.DispatchInterval = c.Duration("dispatch-interval")
	}

	if err := cfg.Validate(); err != nil {
		return app.Config{}, zerolog.Nop(), err
	}
	return cfg, logging.Setup(cfg.LogLevel, cfg.LogFormat), nil
}

func withApp(ctx context.Context, c *cli.Command, fn func(a *app.App) error) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("close database")
		}
	}()
	return fn(a)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the outbox dispatcher",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Sources: cli.EnvVars("QBANK_ADDR"),
				Usage:   "HTTP listen address (default :8080)",
			},
			&cli.StringFlag{
				Name:    "bootstrap-api-key",
				Sources: cli.EnvVars("QBANK_BOOTSTRAP_API_KEY"),
				Usage:   "Optional API key to upsert at startup",
			},
			&cli.StringFlag{
				Name:    "bootstrap-key-name",
				Sources: cli.EnvVars("QBANK_BOOTSTRAP_KEY_NAME"),
				Usage:   "Name for bootstrap API key (default bootstrap)",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("QBANK_WEBHOOK_URL"),
				Usage:   "Outbox event webhook target URL",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("QBANK_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for outbound webhook requests",
			},
			&cli.DurationFlag{
				Name:    "dispatch-interval",
				Sources: cli.EnvVars("QBANK_DISPATCH_INTERVAL"),
				Usage:   "Outbox polling interval (default 2s)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}

			server, closer, err := app.NewServer(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					log.Error().Err(closeErr).Msg("close resources")
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Addr).Msg("listening")
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case sig := <-sigCh:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}
