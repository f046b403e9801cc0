package freeagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultApiBaseUrl = "https://api.freeagent.com/v2"
	requestTimeout    = 30 * time.Second
)

func apiBaseUrl() string {
	if base := os.Getenv("FREEAGENT_API_BASE_URL"); base != "" {
		return strings.TrimRight(base, "/")
	}
	return defaultApiBaseUrl
}

// Client talks to the FreeAgent REST API with a Bearer access token.
type Client struct {
	baseUrl     string
	accessToken string
	httpClient  *http.Client
}

func NewClient(accessToken string) *Client {
	return &Client{
		baseUrl:     apiBaseUrl(),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) request(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding freeagent request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseUrl+path, body)
	if err != nil {
		return nil, fmt.Errorf("freeagent api request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("freeagent api request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("freeagent api request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

// pathOf strips the API base from a full resource url so stored urls can be
// requested directly.
func (c *Client) pathOf(resourceUrl string) string {
	if strings.HasPrefix(resourceUrl, c.baseUrl) {
		return strings.TrimPrefix(resourceUrl, c.baseUrl)
	}
	return resourceUrl
}

// ListContacts fetches all contacts.
func (c *Client) ListContacts(ctx context.Context) ([]Contact, error) {
	body, err := c.request(ctx, http.MethodGet, "/contacts", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Contacts []Contact `json:"contacts"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("freeagent contacts response: %w", err)
	}
	return resp.Contacts, nil
}

// FindContactByEmail returns the first contact whose email matches
// case-insensitively, or nil when none does.
func (c *Client) FindContactByEmail(ctx context.Context, email string) (*Contact, error) {
	contacts, err := c.ListContacts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		if strings.EqualFold(contacts[i].Email, email) {
			return &contacts[i], nil
		}
	}
	return nil, nil
}

// CreateContact creates a contact and returns the stored representation.
func (c *Client) CreateContact(ctx context.Context, contact Contact) (*Contact, error) {
	body, err := c.request(ctx, http.MethodPost, "/contacts", map[string]Contact{"contact": contact})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Contact Contact `json:"contact"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("freeagent contact response: %w", err)
	}
	return &resp.Contact, nil
}

// CreateInvoice creates an invoice in Draft status.
func (c *Client) CreateInvoice(ctx context.Context, invoice NewInvoice) (*Invoice, error) {
	body, err := c.request(ctx, http.MethodPost, "/invoices", map[string]NewInvoice{"invoice": invoice})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Invoice Invoice `json:"invoice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("freeagent invoice response: %w", err)
	}
	return &resp.Invoice, nil
}

// MarkInvoiceAsSent transitions a draft invoice to Open.
func (c *Client) MarkInvoiceAsSent(ctx context.Context, invoiceUrl string) error {
	_, err := c.request(ctx, http.MethodPut, c.pathOf(invoiceUrl)+"/transitions/mark_as_sent", nil)
	return err
}

// GetInvoice fetches an invoice by its resource url.
func (c *Client) GetInvoice(ctx context.Context, invoiceUrl string) (*Invoice, error) {
	body, err := c.request(ctx, http.MethodGet, c.pathOf(invoiceUrl), nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Invoice Invoice `json:"invoice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("freeagent invoice response: %w", err)
	}
	return &resp.Invoice, nil
}
