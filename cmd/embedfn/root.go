package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Paranoid-AF/embedfn"
)

type rootOptions struct {
	configPath string
	verbose    bool

	cfg *embedfn.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "embedfn",
		Short:         "Embed text with an Ollama-served model",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			setupLogging(cmd.ErrOrStderr(), cfg, opts.verbose)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default "+embedfn.ConfigPath()+")")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every request at debug level")

	root.AddCommand(
		modelCmd(opts),
		embedCmd(opts),
		checkCmd(opts),
		configCmd(opts),
	)
	return root
}

// loadConfig reads --config when given, which must exist, or the default
// config path, which may not.
func (o *rootOptions) loadConfig() (*embedfn.Config, error) {
	if o.configPath == "" {
		return embedfn.LoadConfig()
	}
	if _, err := os.Stat(o.configPath); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config file %s does not exist", o.configPath)
	}
	return embedfn.LoadConfigFile(o.configPath)
}

func setupLogging(w io.Writer, cfg *embedfn.Config, verbose bool) {
	level, err := embedfn.ParseLogLevel(embedfn.ResolveLogLevel(cfg))
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	if err != nil {
		slog.Warn("falling back to info logging", "error", err)
	}
}
