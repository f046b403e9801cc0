package freeagent

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Invoice statuses reported by FreeAgent.
const (
	InvoiceStatusDraft   = "Draft"
	InvoiceStatusOpen    = "Open"
	InvoiceStatusPaid    = "Paid"
	InvoiceStatusOverdue = "Overdue"
)

// APIError is a non-2xx response from the FreeAgent API, carrying the status
// code and raw body for diagnosis.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("freeagent api error %d: %s", e.StatusCode, e.Body)
}

// Contact is a FreeAgent contact. Url is empty on create requests and set on
// responses.
type Contact struct {
	Url              string `json:"url,omitempty"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	OrganisationName string `json:"organisation_name,omitempty"`
	Email            string `json:"email,omitempty"`
	PhoneNumber      string `json:"phone_number,omitempty"`
	Address1         string `json:"address1,omitempty"`
	Address2         string `json:"address2,omitempty"`
	Town             string `json:"town,omitempty"`
	Region           string `json:"region,omitempty"`
	Postcode         string `json:"postcode,omitempty"`
	Country          string `json:"country,omitempty"`
}

// InvoiceItem is one line of an invoice to be created.
type InvoiceItem struct {
	ItemType    string          `json:"item_type"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// NewInvoice is the payload for invoice creation.
type NewInvoice struct {
	Contact            string        `json:"contact"`
	DatedOn            string        `json:"dated_on"`
	DueOn              string        `json:"due_on,omitempty"`
	Reference          string        `json:"reference,omitempty"`
	Currency           string        `json:"currency,omitempty"`
	PaymentTermsInDays int           `json:"payment_terms_in_days"`
	InvoiceItems       []InvoiceItem `json:"invoice_items"`
	Comments           string        `json:"comments,omitempty"`
}

// Invoice is an invoice as returned by the API.
type Invoice struct {
	Url        string          `json:"url"`
	Contact    string          `json:"contact"`
	Reference  string          `json:"reference"`
	Status     string          `json:"status"`
	DatedOn    string          `json:"dated_on"`
	DueOn      string          `json:"due_on"`
	Currency   string          `json:"currency"`
	TotalValue decimal.Decimal `json:"total_value"`
	PaidOn     string          `json:"paid_on"`
}

// TokenResponse is the OAuth token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}
