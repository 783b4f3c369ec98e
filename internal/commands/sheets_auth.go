package commands

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"homebuh/internal/cli"
	gsheet "homebuh/internal/sheets/google"
)

const defaultTokenFile = "token.json"

func newSheetsAuthCommand() *cobra.Command {
	var (
		port      string
		tokenFile string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sheets-auth",
		Short: "Authorize the Google Sheets mirror with a user account and save the token",
		Long: "Runs the OAuth consent flow for the client in GOOGLE_OAUTH_CLIENT_JSON or\n" +
			"GOOGLE_OAUTH_CLIENT_FILE. Add http://localhost:<port>/callback to the\n" +
			"client's authorized redirect URIs, then point GOOGLE_OAUTH_TOKEN_FILE at\n" +
			"the saved token.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			if tokenFile == "" {
				tokenFile = cfg.GoogleOAuthTokenFile
			}
			if tokenFile == "" {
				tokenFile = defaultTokenFile
			}

			oc, err := gsheet.OAuthClientConfig(cfg.GoogleOAuthClientJSON, cfg.GoogleOAuthClientFile,
				"http://localhost:"+port+"/callback")
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", "localhost:"+port)
			if err != nil {
				return fmt.Errorf("listen for oauth callback: %w", err)
			}

			ctx, stop := cli.SignalContext(cmd.Context())
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			logger.Debug("Waiting for OAuth callback", "port", port)
			tok, err := gsheet.Authorize(ctx, oc, ln, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := gsheet.SaveToken(tokenFile, tok); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved token to %s\n", tokenFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&port, "port", "8085", "local port for the OAuth redirect")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "where to save the token (default GOOGLE_OAUTH_TOKEN_FILE or token.json)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for authorization")

	return cmd
}
