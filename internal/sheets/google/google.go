package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"homebuh/internal/log"
	ports "homebuh/internal/sheets"
)

const timestampLayout = "2006-01-02 15:04:05"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// base name without year (e.g. "Ledger"); the entry's year is prefixed.
	sheetBase string
	logger    *log.Logger
}

var _ ports.LedgerWriter = (*Client)(nil)

// Config selects the spreadsheet and its credentials. A service account
// wins over an OAuth user token, and inline JSON wins over a file path.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
	// OAuth client plus a token saved by the sheets-auth command.
	OAuthClientJSON string
	OAuthClientFile string
	OAuthTokenFile  string
	// Options are passed to the Sheets service after the credentials.
	Options []goption.ClientOption
}

// NewFromConfig creates a Sheets client authenticated with a service account
// or a stored OAuth user token.
func NewFromConfig(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Ledger"
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	opts, err := credentialOptions(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx, append(opts, cfg.Options...)...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", spreadsheetID, "sheet", base)
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetBase: base, logger: logger}, nil
}

func credentialOptions(ctx context.Context, cfg Config, logger *log.Logger) ([]goption.ClientOption, error) {
	inline := strings.TrimSpace(cfg.CredentialsJSON)
	file := strings.TrimSpace(cfg.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case inline != "":
		logger.DebugContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(inline)
	case file != "":
		logger.DebugContext(ctx, "Reading credentials from file", "path", file)
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	case strings.TrimSpace(cfg.OAuthTokenFile) != "":
		return oauthOptions(ctx, cfg, logger)
	case len(cfg.Options) > 0:
		// caller supplies its own auth
		return nil, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_OAUTH_TOKEN_FILE)")
	}
	return []goption.ClientOption{
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	}, nil
}

// AppendEntries appends rows to the yearly sheet of the first entry and
// returns the updated range.
func (c *Client) AppendEntries(ctx context.Context, entries []ports.Entry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet := yearPrefixedName(c.sheetBase, entries[0].Timestamp.Year())
	values := make([][]any, 0, len(entries))
	for _, e := range entries {
		values = append(values, entryRow(e))
	}

	rng := fmt.Sprintf("%s!A:G", sheet)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.logger.DebugContext(ctx, "Entries appended", "range", ref, "rows", len(values))
	return ref, nil
}

// entryRow lays out one entry as spreadsheet columns A:G.
func entryRow(e ports.Entry) []any {
	return []any{
		e.Timestamp.UTC().Format(timestampLayout),
		e.TxID,
		e.AccountID,
		e.Account,
		e.Description,
		e.Amount.StringFixed(2),
		e.Currency,
	}
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	if year <= 0 {
		year = time.Now().Year()
	}
	return fmt.Sprintf("%d %s", year, base)
}
