package commands

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"homebuh/internal/cli"
	"homebuh/internal/core"
)

func newAccountsCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List accounts with their balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd, dbPath)
			if err != nil {
				return err
			}
			defer app.Close()

			accounts, err := app.Accounts.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tBALANCE\tCURRENCY")
			for _, a := range accounts {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", a.ID, a.Name, a.Balance.StringFixed(2), a.Currency)
			}
			return tw.Flush()
		},
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (selects the sqlite backend)")

	cmd.AddCommand(newAccountsCreateCommand(&dbPath), newAccountsShowCommand(&dbPath))
	return cmd
}

func newAccountsCreateCommand(dbPath *string) *cobra.Command {
	var name, balance, currency string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open an account, optionally with an opening balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opening := decimal.Zero
			if balance != "" {
				var err error
				if opening, err = decimal.NewFromString(balance); err != nil {
					return fmt.Errorf("invalid balance %q: %w", balance, err)
				}
			}

			app, err := openApp(cmd, *dbPath)
			if err != nil {
				return err
			}
			defer app.Close()

			acc, err := app.Accounts.Create(cmd.Context(), core.NewAccount{Name: name, OpeningBalance: opening, Currency: currency})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created account %d %q balance %s %s\n",
				acc.ID, acc.Name, acc.Balance.StringFixed(2), acc.Currency)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "account name (required)")
	cmd.Flags().StringVar(&balance, "balance", "", "opening balance")
	cmd.Flags().StringVar(&currency, "currency", "", "currency code (default "+core.DefaultCurrency+")")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAccountsShowCommand(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print an account statement and check it against the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid account id %q", args[0])
			}

			app, err := openApp(cmd, *dbPath)
			if err != nil {
				return err
			}
			defer app.Close()

			st, err := app.Query.Statement(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (#%d) balance %s %s\n", st.Account.Name, st.Account.ID, st.Account.Balance.StringFixed(2), st.Account.Currency)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TX\tTIMESTAMP\tAMOUNT\tDESCRIPTION")
			for _, t := range st.Transactions {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", t.ID, t.Timestamp.UTC().Format("2006-01-02 15:04:05"), t.Amount.StringFixed(2), t.Description)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if !st.Balanced {
				return fmt.Errorf("balance %s does not match ledger total %s", st.Account.Balance.StringFixed(2), st.LedgerTotal.StringFixed(2))
			}
			fmt.Fprintf(out, "ledger total %s: balanced\n", st.LedgerTotal.StringFixed(2))
			return nil
		},
	}
}

func openApp(cmd *cobra.Command, dbPath string) (*cli.App, error) {
	cfg, logger, err := bootstrap(cmd, dbOverride(dbPath))
	if err != nil {
		return nil, err
	}
	return cli.NewApp(cmd.Context(), cfg, logger, cli.AppOptions{})
}
