package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"todo/internal/app"
	"todo/internal/config"
	"todo/internal/logging"
	"todo/internal/ui"
)

type rootOptions struct {
	configPath string
	dataPath   string
	format     string
}

// NewRootCmd builds the command tree. Running it with no subcommand opens
// the interactive list.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "todo",
		Short: "A to-do list that saves itself",
		Long: `todo keeps a task list on disk and saves it in the background while you work.

Run without arguments for the interactive list, or use the subcommands for
one-shot edits from scripts.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context(), opts)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $TODO_CONFIG or the user config dir)")
	root.PersistentFlags().StringVar(&opts.dataPath, "data", "", "task data file, overrides data_path")
	root.PersistentFlags().StringVar(&opts.format, "format", "", "data format: sqlite, json, toml or yaml")

	root.AddCommand(newAddCmd(opts))
	root.AddCommand(newListCmd(opts))
	root.AddCommand(newDoneCmd(opts, true))
	root.AddCommand(newDoneCmd(opts, false))
	root.AddCommand(newRmCmd(opts))
	return root
}

// Execute runs the root command
func Execute(version string) error {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

type session struct {
	app      *app.App
	cfg      config.Config
	logger   *log.Logger
	closeLog func() error
}

func openSession(ctx context.Context, opts *rootOptions) (*session, error) {
	path := opts.configPath
	if path == "" {
		path = config.ResolveConfigPath()
	}
	cfg, err := config.LoadOrCreate(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.dataPath != "" {
		cfg.DataPath = opts.dataPath
	}
	if opts.format != "" {
		cfg.DataFormat = opts.format
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("--format: %w", err)
		}
	}

	logger, closeLog, err := logging.New(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	appOpts, err := app.FromConfig(cfg, logger)
	if err != nil {
		closeLog()
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, appOpts)
	if err != nil {
		closeLog()
		return nil, err
	}
	return &session{app: a, cfg: cfg, logger: logger, closeLog: closeLog}, nil
}

// close ends a session that changed the list: it saves one last time.
func (s *session) close() error {
	return s.end(s.app.Shutdown())
}

// release ends a read-only session without writing the data file.
func (s *session) release() error {
	return s.end(s.app.Close())
}

func (s *session) end(err error) error {
	if err != nil {
		s.logger.Error("shutdown", "err", err)
	}
	s.closeLog()
	return err
}

func runInteractive(ctx context.Context, opts *rootOptions) error {
	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	runErr := ui.Run(s.app, s.cfg)
	return errors.Join(runErr, s.close())
}
