package intune

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const tokenCacheTTL = 45 * time.Minute // Entra tokens live 60m; refresh early

// ClientCredentials authenticates against Microsoft Entra with the OAuth2
// client-credentials grant and caches the token so a watch-daemon session
// does not re-authenticate for every label.
type ClientCredentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	httpClient *http.Client
	tokenURL   string // override for tests
	cache      *expirable.LRU[string, string]
}

// NewClientCredentials creates a cached token provider.
func NewClientCredentials(tenantID, clientID, clientSecret string) *ClientCredentials {
	return &ClientCredentials{
		TenantID:     tenantID,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		cache:        expirable.NewLRU[string, string](1, nil, tokenCacheTTL),
	}
}

// Token returns a bearer token, from cache when still fresh.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	if token, ok := c.cache.Get(c.ClientID); ok {
		return token, nil
	}

	endpoint := c.tokenURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", c.TenantID)
	}

	form := url.Values{
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
		"scope":         {"https://graph.microsoft.com/.default"},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request returned HTTP %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access token")
	}

	c.cache.Add(c.ClientID, payload.AccessToken)
	return payload.AccessToken, nil
}
