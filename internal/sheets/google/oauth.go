package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"homebuh/internal/log"
)

// OAuthClientConfig parses an OAuth client definition for the Sheets scope.
// Inline JSON wins over the file path. A non-empty redirectURL replaces the
// one in the client definition.
func OAuthClientConfig(clientJSON, clientFile, redirectURL string) (*oauth2.Config, error) {
	var b []byte
	switch {
	case strings.TrimSpace(clientJSON) != "":
		b = []byte(clientJSON)
	case strings.TrimSpace(clientFile) != "":
		var err error
		if b, err = os.ReadFile(clientFile); err != nil {
			return nil, fmt.Errorf("read oauth client file: %w", err)
		}
	default:
		return nil, errors.New("missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)")
	}

	cfg, err := goauth.ConfigFromJSON(b, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return cfg, nil
}

func LoadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()

	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	return &tok, nil
}

// SaveToken writes tok to path, readable only by the owner.
func SaveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return fmt.Errorf("write token: %w", err)
	}
	return f.Close()
}

// Authorize runs the consent flow: it prints the consent URL to out, serves
// the /callback redirect on ln and exchanges the returned code for a token.
// cfg.RedirectURL must point at ln.
func Authorize(ctx context.Context, cfg *oauth2.Config, ln net.Listener, out io.Writer) (*oauth2.Token, error) {
	state := uuid.NewString()
	codeCh := make(chan string, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			http.Error(w, "OAuth error: "+e, http.StatusBadRequest)
			return
		}
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		select {
		case codeCh <- code:
			fmt.Fprintln(w, "You may close this window and return to the terminal.")
		default:
			http.Error(w, "authorization already received", http.StatusConflict)
		}
	})

	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	fmt.Fprintf(out, "Open this URL to authorize:\n%s\n", cfg.AuthCodeURL(state, oauth2.AccessTypeOffline))

	select {
	case code := <-codeCh:
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("token exchange: %w", err)
		}
		return tok, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("authorization aborted: %w", ctx.Err())
	}
}

func oauthOptions(ctx context.Context, cfg Config, logger *log.Logger) ([]goption.ClientOption, error) {
	oc, err := OAuthClientConfig(cfg.OAuthClientJSON, cfg.OAuthClientFile, "")
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(cfg.OAuthTokenFile)
	if err != nil {
		return nil, err
	}
	logger.DebugContext(ctx, "Using OAuth user token", "path", cfg.OAuthTokenFile)
	// refreshes outlive the constructor's context
	ts := oc.TokenSource(context.WithoutCancel(ctx), tok)
	return []goption.ClientOption{goption.WithTokenSource(ts)}, nil
}
