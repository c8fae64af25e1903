package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Paranoid-AF/embedfn"
	"github.com/Paranoid-AF/embedfn/ollama"
)

const (
	maxInputLine = 1 << 20
	maskedSecret = "********"
)

func modelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "model",
		Short: "Print the default and configured embedding model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, err := embedfn.NewEmbeddingFunction(opts.cfg)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "default\t%s\n", embedfn.DefaultModel)
			fmt.Fprintf(w, "configured\t%s\n", fn.Model())
			fmt.Fprintf(w, "base_url\t%s\n", fn.BaseURL())
			return w.Flush()
		},
	}
}

func embedCmd(opts *rootOptions) *cobra.Command {
	var (
		query   bool
		builtin bool
	)
	cmd := &cobra.Command{
		Use:   "embed [text...]",
		Short: "Print one JSON vector per text (reads stdin lines when no text is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, err := clientFor(opts.cfg, builtin)
			if err != nil {
				return err
			}
			defer fn.Close()

			ctx := cmd.Context()
			if opts.cfg.Embedding.ValidateModel {
				if err := fn.ValidateModel(ctx); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())

			if query {
				if len(args) == 0 {
					return fmt.Errorf("--query needs the query text as arguments")
				}
				vec, err := fn.EmbedQuery(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return enc.Encode(vec)
			}

			texts := args
			if len(texts) == 0 {
				texts, err = readLines(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}
			if len(texts) == 0 {
				slog.Warn("nothing to embed")
				return nil
			}

			vectors, err := fn.EmbedDocuments(ctx, texts)
			if err != nil {
				return err
			}
			for _, vec := range vectors {
				if err := enc.Encode(vec); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&query, "query", "q", false, "embed the arguments as a single search query")
	cmd.Flags().BoolVar(&builtin, "builtin", false, "ignore the configured model and use "+embedfn.DefaultModel)
	return cmd
}

func checkCmd(opts *rootOptions) *cobra.Command {
	var builtin bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "List the server's models and verify the embedding model is pulled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, err := clientFor(opts.cfg, builtin)
			if err != nil {
				return err
			}
			defer fn.Close()

			models, err := fn.ListModels(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPARAMS\tQUANT\tSIZE")
			for _, m := range models {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.Details.ParameterSize, m.Details.QuantizationLevel, humanize.Bytes(uint64(max(m.Size, 0))))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if err := fn.ValidateModel(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s is available at %s\n", fn.Model(), fn.BaseURL())
			return nil
		},
	}
	cmd.Flags().BoolVar(&builtin, "builtin", false, "check "+embedfn.DefaultModel+" instead of the configured model")
	return cmd
}

func configCmd(opts *rootOptions) *cobra.Command {
	var showDefaults bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration (file, defaults and environment) as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := embedfn.EffectiveConfig(opts.cfg)
			if showDefaults {
				cfg = embedfn.DefaultConfig()
			}
			for _, warning := range embedfn.ValidateConfig(cfg) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
			}
			if cfg.Embedding.APIKey != "" {
				cfg.Embedding.APIKey = maskedSecret
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}
	cmd.Flags().BoolVar(&showDefaults, "defaults", false, "print the built-in defaults instead")
	return cmd
}

func clientFor(cfg *embedfn.Config, builtin bool) (*ollama.Client, error) {
	if builtin {
		return embedfn.GetEmbeddingFunction(), nil
	}
	return embedfn.NewEmbeddingFunction(cfg)
}

// readLines returns the non-blank lines of r.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxInputLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
