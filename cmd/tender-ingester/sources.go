package main

import (
	"errors"
	"io/fs"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/galois26/procurement-ingester/internal/config"
	"github.com/galois26/procurement-ingester/internal/source"
)

func newSourcesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List source keys and whether they are configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			c, err := config.Load(opts.ConfigPath)
			switch {
			case err == nil:
				cfg = c
			case errors.Is(err, fs.ErrNotExist):
				// list the registry anyway
			default:
				return err
			}

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Key", "Source name", "Configured", "Enabled"})
			for _, k := range source.Kinds() {
				e, ok := cfg.Sources.Lookup(string(k))
				t.AppendRow(table.Row{k, k.SourceName(), yesNo(ok), yesNo(ok && e.Enabled())})
			}
			for _, e := range cfg.Sources {
				if _, known := source.ParseKind(e.Key); !known {
					t.AppendRow(table.Row{e.Key, "(unknown)", yesNo(true), yesNo(e.Enabled())})
				}
			}
			t.Render()
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
