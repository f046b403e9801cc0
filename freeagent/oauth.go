package freeagent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultAuthorizeUrl = "https://api.freeagent.com/v2/approve_app"
	defaultTokenUrl     = "https://api.freeagent.com/v2/token_endpoint"
)

// OAuth drives the FreeAgent authorization-code flow.
type OAuth struct {
	clientId     string
	clientSecret string
	redirectUri  string
	authorizeUrl string
	tokenUrl     string
	httpClient   *http.Client
}

func NewOAuth(clientId, clientSecret, redirectUri string) *OAuth {
	authorizeUrl := os.Getenv("FREEAGENT_AUTHORIZE_URL")
	if authorizeUrl == "" {
		authorizeUrl = defaultAuthorizeUrl
	}
	tokenUrl := os.Getenv("FREEAGENT_TOKEN_URL")
	if tokenUrl == "" {
		tokenUrl = defaultTokenUrl
	}
	return &OAuth{
		clientId:     clientId,
		clientSecret: clientSecret,
		redirectUri:  redirectUri,
		authorizeUrl: authorizeUrl,
		tokenUrl:     tokenUrl,
		httpClient:   &http.Client{Timeout: requestTimeout},
	}
}

// AuthorizationURL builds the user-facing approval url carrying the CSRF state.
func (o *OAuth) AuthorizationURL(state string) string {
	query := url.Values{}
	query.Set("client_id", o.clientId)
	query.Set("response_type", "code")
	query.Set("redirect_uri", o.redirectUri)
	query.Set("state", state)
	return o.authorizeUrl + "?" + query.Encode()
}

// ExchangeCode trades an authorization code for access and refresh tokens.
func (o *OAuth) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", o.redirectUri)
	return o.tokenRequest(ctx, form)
}

// RefreshToken obtains a fresh access token from a refresh token.
func (o *OAuth) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return o.tokenRequest(ctx, form)
}

func (o *OAuth) tokenRequest(ctx context.Context, form url.Values) (*TokenResponse, error) {
	form.Set("client_id", o.clientId)
	form.Set("client_secret", o.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenUrl, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("freeagent token request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("freeagent token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("freeagent token request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("freeagent token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("freeagent token response missing access_token")
	}
	return &token, nil
}

// ExpiresAt converts the relative expiry of a token response into a timestamp.
func (t *TokenResponse) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}
