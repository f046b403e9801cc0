package billsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/billsync_backend/freeagent"
	"bitbucket.org/mmdatafocus/billsync_backend/models"
	"bitbucket.org/mmdatafocus/billsync_backend/utils"
	"bitbucket.org/mmdatafocus/billsync_backend/whmcs"
)

const (
	defaultInvoiceLimit = 50
	defaultLedgerLimit  = 1000

	defaultCurrency         = "GBP"
	defaultPaymentTermsDays = 30
	lineItemType            = "Services"

	dateLayout = "2006-01-02"
)

// SourceClient is the WHMCS surface the engine needs.
type SourceClient interface {
	ListInvoices(ctx context.Context, limit int) ([]whmcs.InvoiceSummary, error)
	GetInvoice(ctx context.Context, invoiceId int) (*whmcs.Invoice, error)
	GetClient(ctx context.Context, clientId int) (*whmcs.ClientDetails, error)
	AddInvoicePayment(ctx context.Context, payment whmcs.InvoicePayment) error
}

// TargetClient is the FreeAgent surface the engine needs.
type TargetClient interface {
	FindContactByEmail(ctx context.Context, email string) (*freeagent.Contact, error)
	CreateContact(ctx context.Context, contact freeagent.Contact) (*freeagent.Contact, error)
	CreateInvoice(ctx context.Context, invoice freeagent.NewInvoice) (*freeagent.Invoice, error)
	MarkInvoiceAsSent(ctx context.Context, invoiceUrl string) error
	GetInvoice(ctx context.Context, invoiceUrl string) (*freeagent.Invoice, error)
}

// Store persists mappings and the sync ledger.
type Store interface {
	FindClientMapping(ctx context.Context, whmcsClientId int) (*models.ClientMapping, error)
	CreateClientMapping(ctx context.Context, mapping *models.ClientMapping) error
	FindInvoiceSyncRecord(ctx context.Context, whmcsInvoiceId int) (*models.InvoiceSyncRecord, error)
	CreateInvoiceSyncRecord(ctx context.Context, record *models.InvoiceSyncRecord) error
	ListInvoiceSyncRecords(ctx context.Context, limit int) ([]models.InvoiceSyncRecord, error)
	MarkPaymentSynced(ctx context.Context, whmcsInvoiceId int, amount decimal.Decimal, whmcsAlreadyPaid bool) error
}

// RunResult aggregates the counters and per-item errors of one sync run.
type RunResult struct {
	InvoicesProcessed int      `json:"invoices_processed"`
	InvoicesCreated   int      `json:"invoices_created"`
	ClientsCreated    int      `json:"clients_created"`
	PaymentsSynced    int      `json:"payments_synced"`
	Errors            []string `json:"errors"`
	Message           string   `json:"message"`
}

// Engine runs the invoice and payment sync passes between WHMCS and FreeAgent.
type Engine struct {
	Source SourceClient
	Target TargetClient
	Store  Store
	Logger *logrus.Logger

	InvoiceLimit int
	LedgerLimit  int
}

func NewEngine(source SourceClient, target TargetClient, store Store, logger *logrus.Logger) *Engine {
	return &Engine{
		Source:       source,
		Target:       target,
		Store:        store,
		Logger:       logger,
		InvoiceLimit: defaultInvoiceLimit,
		LedgerLimit:  defaultLedgerLimit,
	}
}

// logEntry carries the run identifiers the sync context holds, so per-item
// log lines can be tied back to a run in the log stream.
func (e *Engine) logEntry(ctx context.Context) *logrus.Entry {
	entry := e.Logger.WithContext(ctx)
	if correlationId, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		entry = entry.WithField("correlationId", correlationId)
	}
	if runId, ok := utils.GetSyncRunIdFromContext(ctx); ok {
		entry = entry.WithField("syncRunId", runId)
	}
	return entry
}

// Run executes the invoice pass followed by the payment pass and merges
// the two results.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	result, err := e.SyncInvoices(ctx)
	if err != nil {
		return nil, err
	}

	paymentResult, err := e.SyncPayments(ctx)
	if err != nil {
		return result, fmt.Errorf("payment sync: %w", err)
	}

	result.PaymentsSynced = paymentResult.PaymentsSynced
	result.Errors = append(result.Errors, paymentResult.Errors...)
	if paymentResult.Message != "" {
		result.Message = result.Message + " | " + paymentResult.Message
	}
	return result, nil
}

// SyncInvoices pulls recent WHMCS invoices and creates the missing ones in
// FreeAgent. Individual invoice failures are recorded and skipped; only the
// initial listing can fail the whole pass.
func (e *Engine) SyncInvoices(ctx context.Context) (*RunResult, error) {
	result := &RunResult{}

	invoices, err := e.Source.ListInvoices(ctx, e.InvoiceLimit)
	if err != nil {
		return nil, fmt.Errorf("listing whmcs invoices: %w", err)
	}
	if len(invoices) == 0 {
		result.Message = "No invoices found in WHMCS"
		return result, nil
	}

	for _, summary := range invoices {
		result.InvoicesProcessed++
		if err := e.syncInvoice(ctx, summary.Id.Int(), result); err != nil {
			message := fmt.Sprintf("Error processing invoice %d: %v", summary.Id.Int(), err)
			e.logEntry(ctx).WithField("invoiceId", summary.Id.Int()).Error(message)
			result.Errors = append(result.Errors, message)
		}
	}

	if result.InvoicesCreated > 0 {
		result.Message = fmt.Sprintf("Successfully synced %d invoices and created %d new contacts", result.InvoicesCreated, result.ClientsCreated)
	} else {
		result.Message = fmt.Sprintf("Processed %d invoices, but no new invoices to sync", result.InvoicesProcessed)
	}
	if len(result.Errors) > 0 {
		result.Message += fmt.Sprintf(" (with %d errors)", len(result.Errors))
	}
	return result, nil
}

func (e *Engine) syncInvoice(ctx context.Context, invoiceId int, result *RunResult) error {
	invoice, err := e.Source.GetInvoice(ctx, invoiceId)
	if err != nil {
		return err
	}

	clientId := invoice.UserId.Int()
	client, err := e.Source.GetClient(ctx, clientId)
	if err != nil {
		return err
	}
	email := strings.TrimSpace(client.Email)
	if email == "" {
		return fmt.Errorf("no email for client %d, cannot match or create a contact", clientId)
	}
	if !utils.IsValidEmail(email) {
		return fmt.Errorf("invalid email %q for client %d", email, clientId)
	}

	contactUrl, err := e.resolveContact(ctx, clientId, email, client, result)
	if err != nil {
		return err
	}

	existing, err := e.Store.FindInvoiceSyncRecord(ctx, invoiceId)
	if err != nil {
		return err
	}
	if existing != nil {
		e.Logger.WithContext(ctx).WithField("invoiceId", invoiceId).Debug("invoice already synced, skipping")
		return nil
	}

	datedOn := normalizeDate(invoice.Date)
	if datedOn == "" {
		datedOn = time.Now().Format(dateLayout)
	}
	dueOn := normalizeDate(invoice.DueDate)
	if dueOn == "" {
		dueOn = datedOn
	}
	currency := strings.TrimSpace(invoice.CurrencyCode)
	if currency == "" {
		currency = defaultCurrency
	}

	created, err := e.Target.CreateInvoice(ctx, freeagent.NewInvoice{
		Contact:            contactUrl,
		DatedOn:            datedOn,
		DueOn:              dueOn,
		Reference:          "WHMCS-" + invoice.Number(),
		Currency:           currency,
		PaymentTermsInDays: defaultPaymentTermsDays,
		InvoiceItems:       buildLineItems(invoice),
		Comments:           fmt.Sprintf("Synced from WHMCS Invoice #%d", invoiceId),
	})
	if err != nil {
		return err
	}

	// Invoices are created in Draft; opening them is best effort.
	if err := e.Target.MarkInvoiceAsSent(ctx, created.Url); err != nil {
		e.logEntry(ctx).WithFields(logrus.Fields{
			"invoiceId":  invoiceId,
			"invoiceUrl": created.Url,
		}).Warnf("could not mark invoice as sent: %v", err)
	}

	if err := e.Store.CreateInvoiceSyncRecord(ctx, &models.InvoiceSyncRecord{
		WhmcsInvoiceId:      invoiceId,
		FreeagentInvoiceUrl: created.Url,
		SyncedAt:            time.Now(),
	}); err != nil {
		return err
	}
	result.InvoicesCreated++
	return nil
}

// resolveContact returns the FreeAgent contact url for a WHMCS client,
// consulting the stored mapping first, then matching by email, then creating
// a new contact.
func (e *Engine) resolveContact(ctx context.Context, clientId int, email string, client *whmcs.ClientDetails, result *RunResult) (string, error) {
	mapping, err := e.Store.FindClientMapping(ctx, clientId)
	if err != nil {
		return "", err
	}
	if mapping != nil {
		return mapping.FreeagentContactUrl, nil
	}

	contact, err := e.Target.FindContactByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if contact == nil {
		created, err := e.Target.CreateContact(ctx, contactFromClient(client, email))
		if err != nil {
			return "", err
		}
		contact = created
		result.ClientsCreated++
	}

	if err := e.Store.CreateClientMapping(ctx, &models.ClientMapping{
		WhmcsClientId:       clientId,
		WhmcsEmail:          email,
		FreeagentContactUrl: contact.Url,
	}); err != nil {
		return "", err
	}
	return contact.Url, nil
}

func contactFromClient(client *whmcs.ClientDetails, email string) freeagent.Contact {
	firstName := strings.TrimSpace(client.FirstName)
	if firstName == "" {
		firstName = "Unknown"
	}
	lastName := strings.TrimSpace(client.LastName)
	if lastName == "" {
		lastName = "Client"
	}
	country := strings.TrimSpace(client.Country)
	if country == "" {
		country = utils.DefaultCountryCode
	}
	return freeagent.Contact{
		FirstName:        firstName,
		LastName:         lastName,
		OrganisationName: strings.TrimSpace(client.CompanyName),
		Email:            email,
		PhoneNumber:      utils.NormalizePhoneNumber(client.PhoneNumber, country),
		Address1:         client.Address1,
		Address2:         client.Address2,
		Town:             client.City,
		Region:           client.State,
		Postcode:         client.Postcode,
		Country:          country,
	}
}

func buildLineItems(invoice *whmcs.Invoice) []freeagent.InvoiceItem {
	one := decimal.NewFromInt(1)
	items := make([]freeagent.InvoiceItem, 0, len(invoice.Items))
	for _, line := range invoice.Items {
		description := strings.TrimSpace(line.Description)
		if description == "" {
			description = "Service"
		}
		items = append(items, freeagent.InvoiceItem{
			ItemType:    lineItemType,
			Description: description,
			Quantity:    one,
			Price:       line.Amount,
		})
	}
	if len(items) == 0 {
		items = append(items, freeagent.InvoiceItem{
			ItemType:    lineItemType,
			Description: fmt.Sprintf("Invoice #%s", invoice.Number()),
			Quantity:    one,
			Price:       invoice.Subtotal,
		})
	}
	return items
}

// SyncPayments walks the sync ledger and posts payments back to WHMCS for
// invoices that were paid in FreeAgent.
func (e *Engine) SyncPayments(ctx context.Context) (*RunResult, error) {
	result := &RunResult{}

	records, err := e.Store.ListInvoiceSyncRecords(ctx, e.LedgerLimit)
	if err != nil {
		return nil, fmt.Errorf("loading sync records: %w", err)
	}

	for _, record := range records {
		if record.PaymentSynced {
			continue
		}
		if err := e.syncPayment(ctx, record, result); err != nil {
			message := fmt.Sprintf("Error syncing payment for invoice %d: %v", record.WhmcsInvoiceId, err)
			e.logEntry(ctx).WithField("invoiceId", record.WhmcsInvoiceId).Error(message)
			result.Errors = append(result.Errors, message)
		}
	}

	if result.PaymentsSynced > 0 {
		result.Message = fmt.Sprintf("Synced %d payments from FreeAgent to WHMCS", result.PaymentsSynced)
	} else {
		result.Message = "No new payments to sync"
	}
	return result, nil
}

func (e *Engine) syncPayment(ctx context.Context, record models.InvoiceSyncRecord, result *RunResult) error {
	invoice, err := e.Source.GetInvoice(ctx, record.WhmcsInvoiceId)
	if err != nil {
		return err
	}

	switch {
	case strings.EqualFold(invoice.Status, whmcs.InvoiceStatusDraft):
		// Drafts are not ready to take payments; retry next run.
		return nil
	case strings.EqualFold(invoice.Status, whmcs.InvoiceStatusCancelled),
		strings.EqualFold(invoice.Status, whmcs.InvoiceStatusRefunded):
		// Already resolved in WHMCS, nothing to post.
		return e.Store.MarkPaymentSynced(ctx, record.WhmcsInvoiceId, decimal.Zero, true)
	}

	target, err := e.Target.GetInvoice(ctx, record.FreeagentInvoiceUrl)
	if err != nil {
		return err
	}
	if !strings.EqualFold(target.Status, freeagent.InvoiceStatusPaid) {
		return nil
	}

	amount := target.TotalValue
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	paidOn := target.PaidOn
	if _, err := time.Parse(dateLayout, paidOn); err != nil {
		paidOn = time.Now().Format(dateLayout)
	}

	if err := e.Source.AddInvoicePayment(ctx, whmcs.InvoicePayment{
		InvoiceId: record.WhmcsInvoiceId,
		Amount:    amount,
		Date:      paidOn,
	}); err != nil {
		return err
	}
	if err := e.Store.MarkPaymentSynced(ctx, record.WhmcsInvoiceId, amount, false); err != nil {
		return err
	}
	result.PaymentsSynced++
	return nil
}

// normalizeDate clears placeholder dates like "0000-00-00".
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "0000") {
		return ""
	}
	return s
}
