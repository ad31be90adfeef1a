package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daviddao/virtualoffice/pkg/config"
)

func initCmd(g *globals) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			_, err := os.Stat(g.config)
			switch {
			case err == nil && !force:
				fmt.Fprintf(out, "config %s already exists (use --force to overwrite)\n", g.config)
			case err == nil || errors.Is(err, os.ErrNotExist):
				if err := config.Write(g.config, config.Default()); err != nil {
					return fmt.Errorf("write %s: %w", g.config, err)
				}
				fmt.Fprintf(out, "wrote %s\n", g.config)
			default:
				return err
			}

			return run(g, cmd, func(a *app) error {
				people, err := a.store.ListPersonas()
				if err != nil {
					return fmt.Errorf("database error: %w", err)
				}
				fmt.Fprintf(out, "initialized virtual office (db: %s)\n", a.dbPath)
				if len(people) > 0 {
					fmt.Fprintf(out, "  %d existing persona(s)\n", len(people))
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, "next steps:")
				fmt.Fprintln(out, "  vo persona import team.yaml   # or: vo persona add --name ...")
				fmt.Fprintln(out, "  vo start")
				fmt.Fprintln(out, "  vo advance 60")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}
