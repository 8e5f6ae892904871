package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"parley/internal/auth"
	"parley/internal/backend"
	"parley/internal/catalog"
	"parley/internal/config"
	"parley/internal/db"
	"parley/internal/dispatch"
	"parley/internal/history"
	"parley/internal/inference"
	"parley/internal/logging"
	"parley/internal/selection"
	"parley/internal/session"
	"parley/internal/tools"
	"parley/internal/ui"
)

var version = "dev"

const warmupTimeout = 10 * time.Second

type flags struct {
	configPath string
	baseURL    string
	driver     string
	debug      bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "parley",
		Short:         "Chat with OpenAI, Anthropic and Gemini models from the terminal",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to a config file (yaml, toml or json)")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "override backend.base_url")
	cmd.Flags().StringVar(&f.driver, "driver", "", "override inference.driver (router or direct)")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "log at debug level")
	return cmd
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.baseURL != "" {
		cfg.Backend.BaseURL = f.baseURL
	}
	if f.driver != "" {
		cfg.Inference.Driver = f.driver
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	dataDir := cfg.Storage.Dir
	if dataDir == "" {
		if dataDir, err = db.ConfigDir(); err != nil {
			return err
		}
	}

	logger, logFile, err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Debug:  f.debug,
	}, dataDir)
	if err != nil {
		return err
	}
	defer logFile.Close()

	conn, err := db.OpenParleyDB(dataDir)
	if err != nil {
		return err
	}
	defer conn.Close()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	creds := auth.NewStatic(cfg.Auth.Token, cfg.Auth.UserID)
	client := backend.New(backend.Options{
		BaseURL:    cfg.Backend.BaseURL,
		Timeout:    cfg.Backend.Timeout,
		RetryCount: cfg.Backend.RetryCount,
		UserAgent:  "parley/" + version,
	}, creds)

	cat := catalog.New(client, logger)
	hist := history.New(client, creds)
	driver := newDriver(cfg, client, creds, cwd, logger)

	var defaults *selection.Defaults
	warm, warmCtx := errgroup.WithContext(ctx)
	warmCtx, cancel := context.WithTimeout(warmCtx, warmupTimeout)
	warm.Go(func() error {
		cat.Refresh(warmCtx)
		return nil
	})
	warm.Go(func() error {
		defaults = selection.NewDefaults(warmCtx, db.NewPreferenceStore(conn), creds.UserID())
		return nil
	})
	_ = warm.Wait()
	cancel()

	store := session.New(defaults, cat)
	dispatcher := dispatch.New(store, creds, driver, hist, dispatch.Options{
		Timeout: cfg.Inference.Timeout,
		Logger:  logger,
	})

	logger.Info("starting",
		"version", version,
		"driver", cfg.Inference.Driver,
		"backend", cfg.Backend.BaseURL,
		"authenticated", creds.Authenticated(),
		"default_selection", defaults.Get().Token(),
	)

	p := ui.NewProgram(ui.Deps{
		Store:      store,
		Dispatcher: dispatcher,
		Catalog:    cat,
		History:    hist,
		Defaults:   defaults,
		Logger:     logger,
		WorkingDir: cwd,
	})
	if _, err := p.Run(); err != nil {
		logger.Error("program exited with error", "error", err)
		return err
	}
	return nil
}

func newDriver(cfg *config.Config, client *resty.Client, creds auth.Provider, cwd string, logger *slog.Logger) inference.Driver {
	if cfg.Inference.Driver != config.DriverDirect {
		return inference.NewRouter(client, creds)
	}

	var ws *tools.Workspace
	if cfg.Inference.Direct.Tools {
		ws = tools.NewWorkspace(cwd)
	}
	return inference.NewDirect(inference.DirectOptions{
		BaseURL:        cfg.Inference.Direct.BaseURL,
		APIKey:         cfg.Inference.Direct.APIKey,
		AutoModel:      cfg.Inference.Direct.AutoModel,
		ProviderModels: cfg.Inference.Direct.ProviderModels,
		MaxRetries:     cfg.Inference.Direct.MaxRetries,
		Workspace:      ws,
		Logger:         logger,
	})
}
