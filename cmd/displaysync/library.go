package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Giorgiomufen/display-sync/pkg/store"
)

func libraryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Inspect the saved content library",
	}
	cmd.AddCommand(libraryListCmd())
	return cmd
}

func libraryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved library items",
		Long: `List every saved item with its id, name, creation time and size.

The store is opened with the same settings as serve, so run it with
the same --config file and DISPLAYSYNC_* environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			items, err := st.List(ctx)
			if err != nil {
				return err
			}
			return printItems(cmd.OutOrStdout(), items)
		},
	}
}

func printItems(out io.Writer, items []store.Item) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(out, "library is empty")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREATED\tSIZE")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", it.ID, it.Name, it.CreatedAt.Local().Format(time.DateTime), it.Size)
	}
	return w.Flush()
}
