// Package googleauth turns stored OAuth client credentials and an authorized
// user token into a refreshing token source for the Gmail and Drive APIs.
package googleauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Config points at the credentials. Inline JSON wins over files.
type Config struct {
	CredentialsJSON string
	TokenJSON       string
	CredentialsFile string
	TokenFile       string
	Scopes          []string
}

// storedToken accepts both the golang.org/x/oauth2 token layout and the
// authorized-user layout written by the google-auth client libraries ("token",
// "client_id", ...).
type storedToken struct {
	AccessToken  string   `json:"access_token"`
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
	Expiry       string   `json:"expiry"`
}

// TokenSource builds a token source that refreshes itself with the stored
// refresh token.
func TokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	tokData, err := inlineOrFile(cfg.TokenJSON, cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("google token: %w", err)
	}
	var st storedToken
	if err := json.Unmarshal(tokData, &st); err != nil {
		return nil, fmt.Errorf("google token: %w", err)
	}

	oc, err := oauthConfig(cfg, st)
	if err != nil {
		return nil, err
	}

	tok := &oauth2.Token{
		AccessToken:  firstNonEmpty(st.AccessToken, st.Token),
		RefreshToken: st.RefreshToken,
		TokenType:    firstNonEmpty(st.TokenType, "Bearer"),
		Expiry:       parseExpiry(st.Expiry),
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("google token: neither access nor refresh token present")
	}
	return oc.TokenSource(ctx, tok), nil
}

func oauthConfig(cfg Config, st storedToken) (*oauth2.Config, error) {
	credData, err := inlineOrFile(cfg.CredentialsJSON, cfg.CredentialsFile)
	if err == nil {
		oc, err := google.ConfigFromJSON(credData, cfg.Scopes...)
		if err != nil {
			return nil, fmt.Errorf("google credentials: %w", err)
		}
		return oc, nil
	}
	// Authorized-user tokens carry their own client.
	if st.ClientID != "" && st.ClientSecret != "" {
		endpoint := google.Endpoint
		if st.TokenURI != "" {
			endpoint.TokenURL = st.TokenURI
		}
		return &oauth2.Config{
			ClientID:     st.ClientID,
			ClientSecret: st.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       cfg.Scopes,
		}, nil
	}
	return nil, fmt.Errorf("google credentials: %w", err)
}

func inlineOrFile(inline, path string) ([]byte, error) {
	if strings.TrimSpace(inline) != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, errors.New("not configured")
	}
	return os.ReadFile(path)
}

func parseExpiry(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999Z", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
