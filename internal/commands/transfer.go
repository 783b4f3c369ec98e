package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"homebuh/internal/cli"
	"homebuh/internal/transfer"
)

func newTransferCommand() *cobra.Command {
	var (
		from, to    int64
		amount      string
		currency    string
		description string
		key         string
		dbPath      string
	)

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Move money between two accounts atomically",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			if key == "" {
				key = uuid.NewString()
			}

			cfg, logger, err := bootstrap(cmd, dbOverride(dbPath))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			app, err := cli.NewApp(ctx, cfg, logger, cli.AppOptions{Events: true})
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Transfers.Transfer(ctx, transfer.Request{
				FromAccountID:  from,
				ToAccountID:    to,
				Amount:         amt,
				Currency:       currency,
				Description:    description,
				IdempotencyKey: key,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "transferred %s %s from account %d to account %d\n",
				res.To.Amount.StringFixed(2), res.To.Currency, from, to)
			fmt.Fprintf(out, "from_tx=%d to_tx=%d key=%s replayed=%t\n", res.From.ID, res.To.ID, key, res.Replayed)
			return nil
		},
	}

	cmd.Flags().Int64Var(&from, "from", 0, "source account id (required)")
	cmd.Flags().Int64Var(&to, "to", 0, "destination account id (required)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount to move, e.g. 25.50 (required)")
	cmd.Flags().StringVar(&currency, "currency", "", "currency code (defaults to the source account currency)")
	cmd.Flags().StringVar(&description, "description", "", "description recorded on both legs")
	cmd.Flags().StringVar(&key, "key", "", "idempotency key (default: a fresh UUID)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (selects the sqlite backend)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}
