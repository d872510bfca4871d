package hub

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Credentials holds the OAuth client pair used against the token endpoint.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// ReadCredentials loads credentials from a plain text file with the client ID
// on the first line and the client secret on the second.
func ReadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials file: %w", err)
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) == "" || strings.TrimSpace(lines[1]) == "" {
		return Credentials{}, fmt.Errorf("credentials file %q must contain the client ID on line 1 and the client secret on line 2", path)
	}

	return Credentials{
		ClientID:     strings.TrimSpace(lines[0]),
		ClientSecret: strings.TrimSpace(lines[1]),
	}, nil
}

// TokenSource builds a reusable client-credentials token source against the
// given token endpoint.
func (c Credentials) TokenSource(ctx context.Context, tokenURL string) oauth2.TokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     tokenURL,
	}
	return cfg.TokenSource(ctx)
}

// authTransport injects a bearer token into every request. Token fetch
// failures surface as ErrAuth so the dispatcher can abort the batch instead
// of retrying tiles that can never succeed.
type authTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	// Clone before mutating: RoundTrippers must not modify the request.
	clone := req.Clone(req.Context())
	token.SetAuthHeader(clone)
	return t.base.RoundTrip(clone)
}
