package whmcs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	apiPath        = "/includes/api.php"
	requestTimeout = 30 * time.Second

	defaultGateway = "banktransfer"
)

// APIError is an application-level error reported by the WHMCS API itself
// (result=error envelope), as opposed to a transport failure.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whmcs api error: %s", e.Message)
}

// Client talks to the WHMCS action API via authenticated form POSTs.
type Client struct {
	apiUrl     string
	identifier string
	secret     string
	httpClient *http.Client
}

func NewClient(baseUrl, identifier, secret string) *Client {
	return &Client{
		apiUrl:     strings.TrimRight(baseUrl, "/") + apiPath,
		identifier: identifier,
		secret:     secret,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) call(ctx context.Context, action string, params url.Values) ([]byte, error) {
	form := url.Values{}
	form.Set("identifier", c.identifier)
	form.Set("secret", c.secret)
	form.Set("action", action)
	form.Set("responsetype", "json")
	for key, values := range params {
		for _, value := range values {
			form.Add(key, value)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiUrl, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("whmcs api request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whmcs api request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whmcs api request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("whmcs api request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope struct {
		Result  string `json:"result"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("whmcs api returned invalid json for %s: %w", action, err)
	}
	if strings.EqualFold(envelope.Result, "error") {
		return nil, &APIError{Message: envelope.Message}
	}
	return body, nil
}

// ListInvoices fetches the most recent invoices, newest first.
func (c *Client) ListInvoices(ctx context.Context, limit int) ([]InvoiceSummary, error) {
	params := url.Values{}
	params.Set("limitnum", strconv.Itoa(limit))
	params.Set("orderby", "id")
	params.Set("order", "desc")

	body, err := c.call(ctx, "GetInvoices", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Invoices struct {
			Invoice InvoiceSummaryList `json:"invoice"`
		} `json:"invoices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("whmcs GetInvoices response: %w", err)
	}
	return resp.Invoices.Invoice, nil
}

// GetInvoice fetches the full detail of a single invoice.
func (c *Client) GetInvoice(ctx context.Context, invoiceId int) (*Invoice, error) {
	params := url.Values{}
	params.Set("invoiceid", strconv.Itoa(invoiceId))

	body, err := c.call(ctx, "GetInvoice", params)
	if err != nil {
		return nil, err
	}

	var invoice Invoice
	if err := json.Unmarshal(body, &invoice); err != nil {
		return nil, fmt.Errorf("whmcs GetInvoice response: %w", err)
	}
	if invoice.InvoiceId.Int() == 0 || invoice.UserId.Int() == 0 {
		return nil, fmt.Errorf("whmcs invoice %d: response missing invoiceid or userid", invoiceId)
	}
	return &invoice, nil
}

// GetClient fetches a client's contact details.
func (c *Client) GetClient(ctx context.Context, clientId int) (*ClientDetails, error) {
	params := url.Values{}
	params.Set("clientid", strconv.Itoa(clientId))

	body, err := c.call(ctx, "GetClientsDetails", params)
	if err != nil {
		return nil, err
	}

	var details ClientDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, fmt.Errorf("whmcs GetClientsDetails response: %w", err)
	}
	return &details, nil
}

// AddInvoicePayment records a payment against an invoice. An empty transaction
// id or gateway falls back to a synthesized reference and bank transfer.
func (c *Client) AddInvoicePayment(ctx context.Context, payment InvoicePayment) error {
	transId := payment.TransactionId
	if transId == "" {
		transId = fmt.Sprintf("FA-%d", payment.InvoiceId)
	}
	gateway := payment.Gateway
	if gateway == "" {
		gateway = defaultGateway
	}

	params := url.Values{}
	params.Set("invoiceid", strconv.Itoa(payment.InvoiceId))
	params.Set("transid", transId)
	params.Set("gateway", gateway)
	params.Set("date", payment.Date)
	params.Set("amount", payment.Amount.String())

	_, err := c.call(ctx, "AddInvoicePayment", params)
	return err
}
