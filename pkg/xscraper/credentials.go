package xscraper

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
)

// Credential is one platform session: the long-lived auth token plus its
// CSRF token (the ct0 cookie).
type Credential struct {
	AuthToken string
	CSRFToken string
}

// masked returns the auth token reduced to its first 4 characters, for logs
// and status output.
func (c Credential) masked() string {
	if len(c.AuthToken) <= 4 {
		return c.AuthToken + "****"
	}
	return c.AuthToken[:4] + "****"
}

// ParseCredentials parses the pipe-delimited `auth_token:csrf_token` list
// from configuration. Malformed pairs are rejected, not skipped.
func ParseCredentials(raw string) ([]Credential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var creds []Credential
	for _, pair := range strings.Split(raw, "|") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, csrf, ok := strings.Cut(pair, ":")
		token, csrf = strings.TrimSpace(token), strings.TrimSpace(csrf)
		if !ok || token == "" || csrf == "" {
			return nil, fmt.Errorf("malformed credential pair %q, want auth_token:csrf_token", pair)
		}
		creds = append(creds, Credential{AuthToken: token, CSRFToken: csrf})
	}
	return creds, nil
}

// CredentialsFromEnvFile reads a single credential from an env-style file.
// Only the exact keys TWITTER_AUTH_TOKEN and TWITTER_CT0 (alias XCSRF_TOKEN)
// are recognized.
func CredentialsFromEnvFile(path string) ([]Credential, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read credential env file: %w", err)
	}
	token := strings.TrimSpace(env["TWITTER_AUTH_TOKEN"])
	csrf := strings.TrimSpace(env["TWITTER_CT0"])
	if csrf == "" {
		csrf = strings.TrimSpace(env["XCSRF_TOKEN"])
	}
	if token == "" || csrf == "" {
		return nil, nil
	}
	return []Credential{{AuthToken: token, CSRFToken: csrf}}, nil
}

// LoadCredentials resolves credentials from the inline config value first,
// falling back to the env file when the inline value is empty.
func LoadCredentials(inline, envFile string) ([]Credential, error) {
	creds, err := ParseCredentials(inline)
	if err != nil {
		return nil, err
	}
	if len(creds) > 0 || envFile == "" {
		return creds, nil
	}
	return CredentialsFromEnvFile(envFile)
}
