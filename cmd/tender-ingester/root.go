package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/galois26/procurement-ingester/internal/config"
)

const defaultConfigPath = "config/sources.yaml"

// rootOptions holds flags shared by every command.
type rootOptions struct {
	ConfigPath string
	Verbose    bool

	// getenv reads settings; os.Getenv unless a test replaces it.
	getenv func(string) string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{getenv: os.Getenv}

	cmd := &cobra.Command{
		Use:           "tender-ingester",
		Short:         "Ingest public procurement notices into SQLite",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", defaultConfigPath, "path to YAML config")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newIngestCommand(opts))
	cmd.AddCommand(newSourcesCommand(opts))
	return cmd
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// settings loads .env from the working directory, then the environment.
func (o *rootOptions) settings(log *slog.Logger) config.Settings {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warn("ignoring .env", "err", err)
	}
	return config.LoadSettings(o.getenv)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}
