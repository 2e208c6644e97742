// Command seemantic runs the document indexing and search service.
//
// Usage:
//
//	seemantic serve --config config.yaml
//	seemantic index --config config.yaml
//	seemantic validate --config config.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/seemantic/seemantic/pkg/app"
	"github.com/seemantic/seemantic/pkg/config"
	"github.com/seemantic/seemantic/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Run the indexer and the API server."`
	Index    IndexCmd    `cmd:"" help:"Run a single reconciliation pass and exit."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"config.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or json)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("seemantic version %s\n", version)
	return nil
}

// ServeCmd runs the indexer and the API server together.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	ctx, cancel := signalContext()
	defer cancel()

	application, err := app.New(ctx, cfg, logger.GetLogger())
	if err != nil {
		return err
	}
	defer application.Close()

	return application.Run(ctx)
}

// IndexCmd reconciles the catalog against the source once and exits.
type IndexCmd struct{}

func (c *IndexCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	application, err := app.New(ctx, cfg, logger.GetLogger())
	if err != nil {
		return err
	}
	defer application.Close()

	return application.Reconcile(ctx)
}

// ValidateCmd checks that the configuration file loads and validates.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := loadConfig(cli); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", cli.Config)
	return nil
}

// loadConfig reads the config file and applies CLI logging overrides.
func loadConfig(cli *CLI) (*config.Config, error) {
	cfg, err := config.LoadFromFile(cli.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.LogFile != "" {
		cfg.Log.File = cli.LogFile
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	output := os.Stderr
	if cfg.Log.File != "" {
		file, _, err := logger.OpenLogFile(cfg.Log.File)
		if err != nil {
			return nil, err
		}
		output = file
	}
	logger.Init(level, output, cfg.Log.Format)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("seemantic"),
		kong.Description("seemantic - semantic document indexing and search"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
