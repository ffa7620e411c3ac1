package commands

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/cuongbtq/photo-restore/internal/credits"
	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/spf13/cobra"
)

func (c *cli) creditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and reconcile credit balances",
	}

	cmd.AddCommand(
		c.balanceCmd(),
		c.grantCmd(),
		c.refundCmd(),
		c.adjustCmd(),
		c.historyCmd(),
	)
	return cmd
}

func (c *cli) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, closeFn, err := c.openLedger(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			balance, err := ledger.GetBalance(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			updated := "never"
			if balance.UpdatedAt != nil {
				updated = balance.UpdatedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s balance=%d updated=%s\n", args[0], balance.Balance, updated)
			return nil
		},
	}
}

func (c *cli) grantCmd() *cobra.Command {
	var entityID, entityType, reason string

	cmd := &cobra.Command{
		Use:   "grant <user-id> <amount>",
		Short: "Grant credits once per related entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}

			ledger, closeFn, err := c.openLedger(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			granted, err := ledger.GrantIfNotGranted(cmd.Context(), credits.GrantParams{
				UserID:            args[0],
				Amount:            amount,
				Reason:            reason,
				RelatedEntityID:   entityID,
				RelatedEntityType: entityType,
				Metadata:          map[string]any{"source": "restorectl"},
			})
			if err != nil {
				return err
			}

			if !granted {
				fmt.Fprintf(cmd.OutOrStdout(), "already granted for %s %s\n", entityType, entityID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %d credits to %s\n", amount, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&entityID, "entity-id", "", "Related entity id the grant is keyed by")
	cmd.Flags().StringVar(&entityType, "entity-type", "MANUAL_GRANT", "Related entity type the grant is keyed by")
	cmd.Flags().StringVar(&reason, "reason", "Manual credit grant", "Ledger reason")
	_ = cmd.MarkFlagRequired("entity-id")
	return cmd
}

func (c *cli) refundCmd() *cobra.Command {
	var imageID, reason string

	cmd := &cobra.Command{
		Use:   "refund <user-id> <amount>",
		Short: "Refund credits, for example after a restoration was charged in error",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}

			ledger, closeFn, err := c.openLedger(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			p := credits.RefundParams{
				UserID: args[0],
				Amount: amount,
				Reason: reason,
			}
			if imageID != "" {
				p.RelatedEntityID = imageID
				p.RelatedEntityType = domain.RelatedEntityImage
			}

			res, err := ledger.Refund(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refunded %d credits to %s, balance=%d\n", amount, args[0], res.Balance)
			return nil
		},
	}

	cmd.Flags().StringVar(&imageID, "image-id", "", "Image the refund relates to")
	cmd.Flags().StringVar(&reason, "reason", "Credit refund", "Ledger reason")
	return cmd
}

func (c *cli) adjustCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "adjust <user-id> [--] <delta>",
		Short: "Apply a signed manual correction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid delta %q: %w", args[1], err)
			}

			ledger, closeFn, err := c.openLedger(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := ledger.Adjust(cmd.Context(), args[0], delta, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "adjusted %s by %+d, balance=%d\n", args[0], delta, res.Balance)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "Manual adjustment", "Ledger reason")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	var cursor string

	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "List a user's ledger rows, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, closeFn, err := c.openLedger(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			page, err := ledger.ListTransactions(cmd.Context(), args[0], limit, cursor)
			if err != nil {
				return err
			}

			printTransactions(cmd.OutOrStdout(), page)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", credits.DefaultPageSize, "Page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Id of the last row of the previous page")
	return cmd
}

func printTransactions(out io.Writer, page *credits.Page) {
	if len(page.Transactions) == 0 {
		fmt.Fprintln(out, "No transactions found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tAMOUNT\tBALANCE AFTER\tREASON\tCREATED AT")
	for _, t := range page.Transactions {
		fmt.Fprintf(w, "%s\t%s\t%+d\t%d\t%s\t%s\n",
			t.ID, t.Type, t.SignedAmount(), t.BalanceAfter, t.Reason, t.CreatedAt.Format(time.RFC3339))
	}
	w.Flush()

	if page.NextCursor != "" {
		fmt.Fprintf(out, "next cursor: %s\n", page.NextCursor)
	}
}

func parseAmount(s string) (int64, error) {
	amount, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %d", amount)
	}
	return amount, nil
}
