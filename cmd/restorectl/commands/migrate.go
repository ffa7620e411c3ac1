package commands

import (
	"fmt"

	"github.com/cuongbtq/photo-restore/internal/migrations"
	"github.com/spf13/cobra"
)

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			migrator, closeFn, err := c.migrator()
			if err != nil {
				return err
			}
			defer closeFn()

			applied, err := migrator.Up(cmd.Context())
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", v)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			migrator, closeFn, err := c.migrator()
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range statuses {
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-30s %s\n", s.Version, state)
			}
			return nil
		},
	})

	return cmd
}

func (c *cli) migrator() (*migrations.Migrator, func(), error) {
	env, err := c.setup()
	if err != nil {
		return nil, nil, err
	}

	m, err := migrations.New(env.db.GetDB(), env.logger)
	if err != nil {
		env.close()
		return nil, nil, err
	}
	return m, env.close, nil
}
