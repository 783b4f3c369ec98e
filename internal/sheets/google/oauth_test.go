package google

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	goption "google.golang.org/api/option"

	ports "homebuh/internal/sheets"
)

const installedClient = `{"installed":{"client_id":"cid","client_secret":"secret",` +
	`"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token",` +
	`"redirect_uris":["http://localhost"]}}`

func TestOAuthClientConfig(t *testing.T) {
	cfg, err := OAuthClientConfig(installedClient, "", "http://localhost:8085/callback")
	require.NoError(t, err)
	assert.Equal(t, "cid", cfg.ClientID)
	assert.Equal(t, "http://localhost:8085/callback", cfg.RedirectURL)
	assert.Contains(t, cfg.Scopes, "https://www.googleapis.com/auth/spreadsheets")

	_, err = OAuthClientConfig("", "", "")
	assert.ErrorContains(t, err, "missing oauth client")

	_, err = OAuthClientConfig("", "/nonexistent/client.json", "")
	assert.ErrorContains(t, err, "read oauth client file")

	_, err = OAuthClientConfig(`{"other":{}}`, "", "")
	assert.ErrorContains(t, err, "oauth config")
}

func TestSaveAndLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, SaveToken(path, &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", Expiry: expiry}))

	tok, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.True(t, tok.Expiry.Equal(expiry))

	_, err = LoadToken(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorContains(t, err, "open token file")
}

func TestAuthorize(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("code") != "the-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	redirect := "http://" + ln.Addr().String() + "/callback"
	cfg := &oauth2.Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURL:  redirect,
		Endpoint:     oauth2.Endpoint{AuthURL: "https://auth.example/auth", TokenURL: tokenSrv.URL},
	}

	pr, pw := io.Pipe()
	type result struct {
		tok *oauth2.Token
		err error
	}
	done := make(chan result, 1)
	go func() {
		tok, err := Authorize(context.Background(), cfg, ln, pw)
		done <- result{tok, err}
	}()

	sc := bufio.NewScanner(pr)
	require.True(t, sc.Scan())
	assert.Equal(t, "Open this URL to authorize:", sc.Text())
	require.True(t, sc.Scan())
	consent, err := url.Parse(sc.Text())
	require.NoError(t, err)
	state := consent.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, "offline", consent.Query().Get("access_type"))

	resp, err := http.Get(redirect + "?state=wrong&code=the-code")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(redirect + "?state=" + url.QueryEscape(state) + "&code=the-code")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, "at", res.tok.AccessToken)
		assert.Equal(t, "rt", res.tok.RefreshToken)
	case <-time.After(5 * time.Second):
		t.Fatal("authorization did not complete")
	}
}

func TestAuthorizeCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg := &oauth2.Config{ClientID: "cid", Endpoint: oauth2.Endpoint{AuthURL: "https://auth.example/auth"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Authorize(ctx, cfg, ln, io.Discard)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFromConfig_OAuthToken(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"updates":{"updatedRange":"'2025 Ledger'!A2:G2"}}`))
	}))
	defer srv.Close()

	tokenFile := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, SaveToken(tokenFile, &oauth2.Token{AccessToken: "at", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}))

	c, err := NewFromConfig(context.Background(), Config{
		SpreadsheetID:   "sheet-id",
		OAuthClientJSON: installedClient,
		OAuthTokenFile:  tokenFile,
		Options:         []goption.ClientOption{goption.WithEndpoint(srv.URL + "/")},
	}, nil)
	require.NoError(t, err)

	_, err = c.AppendEntries(context.Background(), []ports.Entry{{TxID: 1, Timestamp: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer at", auth)
}
