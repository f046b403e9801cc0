package whmcs

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// WHMCS invoice statuses as returned by the API.
const (
	InvoiceStatusDraft          = "Draft"
	InvoiceStatusUnpaid         = "Unpaid"
	InvoiceStatusPaid           = "Paid"
	InvoiceStatusCancelled      = "Cancelled"
	InvoiceStatusRefunded       = "Refunded"
	InvoiceStatusCollections    = "Collections"
	InvoiceStatusPaymentPending = "Payment Pending"
)

// IntString decodes WHMCS numeric fields, which arrive either as JSON numbers
// or as quoted strings depending on the endpoint.
type IntString int

func (n *IntString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return err
		}
		v = int(f)
	}
	*n = IntString(v)
	return nil
}

func (n IntString) Int() int { return int(n) }

// InvoiceSummary is one entry of the GetInvoices listing.
type InvoiceSummary struct {
	Id         IntString       `json:"id"`
	UserId     IntString       `json:"userid"`
	InvoiceNum string          `json:"invoicenum"`
	Status     string          `json:"status"`
	Total      decimal.Decimal `json:"total"`
	Date       string          `json:"date"`
	DueDate    string          `json:"duedate"`
}

// InvoiceSummaryList tolerates the WHMCS singleton-vs-list quirk: a single
// result is returned as a bare object instead of a one-element array.
type InvoiceSummaryList []InvoiceSummary

func (l *InvoiceSummaryList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*l = nil
		return nil
	}
	if b[0] == '[' {
		var list []InvoiceSummary
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	var single InvoiceSummary
	if err := json.Unmarshal(b, &single); err != nil {
		return err
	}
	*l = InvoiceSummaryList{single}
	return nil
}

// LineItem is one detail line of an invoice.
type LineItem struct {
	Id          IntString       `json:"id"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type lineItemList []LineItem

func (l *lineItemList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*l = nil
		return nil
	}
	if b[0] == '[' {
		var list []LineItem
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	var single LineItem
	if err := json.Unmarshal(b, &single); err != nil {
		return err
	}
	*l = lineItemList{single}
	return nil
}

// LineItems decodes the `items` wrapper object ({"items": {"item": ...}}),
// which is absent or an empty string when the invoice has no lines.
type LineItems []LineItem

func (l *LineItems) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) || bytes.Equal(b, []byte("[]")) {
		*l = nil
		return nil
	}
	var wrapper struct {
		Item lineItemList `json:"item"`
	}
	if err := json.Unmarshal(b, &wrapper); err != nil {
		return err
	}
	*l = LineItems(wrapper.Item)
	return nil
}

// Invoice is the detailed GetInvoice response.
type Invoice struct {
	InvoiceId    IntString       `json:"invoiceid"`
	InvoiceNum   string          `json:"invoicenum"`
	UserId       IntString       `json:"userid"`
	Status       string          `json:"status"`
	Date         string          `json:"date"`
	DueDate      string          `json:"duedate"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Total        decimal.Decimal `json:"total"`
	CurrencyCode string          `json:"currencycode"`
	Items        LineItems       `json:"items"`
}

// Number returns the human invoice number, falling back to the numeric id.
func (i *Invoice) Number() string {
	if s := strings.TrimSpace(i.InvoiceNum); s != "" {
		return s
	}
	return strconv.Itoa(i.InvoiceId.Int())
}

// ClientDetails is the GetClientsDetails response (top-level legacy fields).
type ClientDetails struct {
	Id          IntString `json:"id"`
	FirstName   string    `json:"firstname"`
	LastName    string    `json:"lastname"`
	CompanyName string    `json:"companyname"`
	Email       string    `json:"email"`
	Address1    string    `json:"address1"`
	Address2    string    `json:"address2"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	Postcode    string    `json:"postcode"`
	Country     string    `json:"country"`
	PhoneNumber string    `json:"phonenumber"`
}

// InvoicePayment is the input for AddInvoicePayment.
type InvoicePayment struct {
	InvoiceId     int
	Amount        decimal.Decimal
	Date          string
	TransactionId string
	Gateway       string
}
