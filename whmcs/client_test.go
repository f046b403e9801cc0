package whmcs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestServer(t *testing.T, handler func(t *testing.T, form url.Values, w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/includes/api.php" {
			t.Errorf("expected /includes/api.php, got %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		handler(t, r.PostForm, w)
	}))
}

func TestListInvoices(t *testing.T) {
	server := newTestServer(t, func(t *testing.T, form url.Values, w http.ResponseWriter) {
		if form.Get("action") != "GetInvoices" {
			t.Errorf("expected action GetInvoices, got %s", form.Get("action"))
		}
		if form.Get("identifier") != "test-id" || form.Get("secret") != "test-secret" {
			t.Errorf("credentials not sent: %v", form)
		}
		if form.Get("responsetype") != "json" {
			t.Errorf("expected responsetype json, got %s", form.Get("responsetype"))
		}
		if form.Get("limitnum") != "50" || form.Get("orderby") != "id" || form.Get("order") != "desc" {
			t.Errorf("unexpected listing params: %v", form)
		}
		w.Write([]byte(`{"result":"success","totalresults":2,"invoices":{"invoice":[
			{"id":"500","userid":"42","status":"Unpaid","total":"120.00"},
			{"id":"499","userid":"7","status":"Paid","total":"45.50"}
		]}}`))
	})
	defer server.Close()

	client := NewClient(server.URL, "test-id", "test-secret")
	invoices, err := client.ListInvoices(context.Background(), 50)
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if len(invoices) != 2 {
		t.Fatalf("expected 2 invoices, got %d", len(invoices))
	}
	if invoices[0].Id.Int() != 500 || invoices[0].UserId.Int() != 42 {
		t.Errorf("unexpected first invoice: %+v", invoices[0])
	}
	if !invoices[1].Total.Equal(decimal.RequireFromString("45.50")) {
		t.Errorf("expected total 45.50, got %s", invoices[1].Total)
	}
}

func TestListInvoicesSingleton(t *testing.T) {
	server := newTestServer(t, func(t *testing.T, form url.Values, w http.ResponseWriter) {
		w.Write([]byte(`{"result":"success","totalresults":1,"invoices":{"invoice":{"id":"77","userid":"3","status":"Unpaid","total":"10.00"}}}`))
	})
	defer server.Close()

	client := NewClient(server.URL, "id", "secret")
	invoices, err := client.ListInvoices(context.Background(), 50)
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if len(invoices) != 1 || invoices[0].Id.Int() != 77 {
		t.Fatalf("expected single invoice 77, got %+v", invoices)
	}
}

func TestListInvoicesEmpty(t *testing.T) {
	server := newTestServer(t, func(t *testing.T, form url.Values, w http.ResponseWriter) {
		w.Write([]byte(`{"result":"success","totalresults":0,"invoices":""}`))
	})
	defer server.Close()

	client := NewClient(server.URL, "id", "secret")
	invoices, err := client.ListInvoices(context.Background(), 50)
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if len(invoices) != 0 {
		t.Fatalf("expected no invoices, got %+v", invoices)
	}
}

func TestErrorEnvelope(t *testing.T) {
	server := newTestServer(t, func(t *testing.T, form url.Values, w http.ResponseWriter) {
		w.Write([]byte(`{"result":"error","message":"Invoice ID Not Found"}`))
	})
	defer server.Close()

	client := NewClient(server.URL, "id", "secret")
	_, err := client.GetInvoice(context.Background(), 999)
	if err == nil {
		t.Fatal("expected error for error envelope")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Message != "Invoice ID Not Found" {
		t.Errorf("expected remote message preserved, got %q", apiErr.Message)
	}
}

func TestTransportError(t *testing.T) {
	server := newTestServer(t, func(t *testing.T, form url.Values, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})
	defer server.Close()

	client := NewClient(server.URL, "id", "secret")
	_, err := client.ListInvoices(context.Background(), 50)
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("transport failure should not be an APIError: %v", err)
	}
}

func TestGetInvoice(t *testing.T) {
	server := newTestServer(t, func(t *testing.T, form url.Values, w http.ResponseWriter) {
		if form.Get("action") != "GetInvoice" || form.Get("invoiceid") != "500" {
			t.Errorf("unexpected params: %v", form)
		}
		w.Write([]byte(`{"result":"success","invoiceid":"500","invoicenum":"INV-2024-100","userid":"42",
			"status":"Unpaid","date":"2024-06-01","duedate":"2024-06-15","subtotal":"120.00","total":"120.00",
			"currencycode":"GBP","items":{"item":[{"id":"1","type":"Hosting","description":"Web Hosting - Basic","amount":"120.00"}]}}`))
	})
	defer server.Close()

	client := NewClient(server.URL, "id", "secret")
	invoice, err := client.GetInvoice(context.Background(), 500)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if invoice.InvoiceId.Int() != 500 || invoice.UserId.Int() != 42 {
		t.Errorf("unexpected ids: %+v", invoice)
	}
	if invoice.Number() != "INV-2024-100" {
		t.Errorf("expected invoice number INV-2024-100, got %s", invoice.Number())
	}
	if len(invoice.Items) != 1 || invoice.Items[0].Description != "Web Hosting - Basic" {
		t.Errorf("unexpected items: %+v", invoice.Items)
	}
}

func TestGetInvoiceSingletonItemAndEmptyNumber(t *testing.T) {
	server := newTestServer(t, func(t *testing.T, form url.Values, w http.ResponseWriter) {
		w.Write([]byte(`{"result":"success","invoiceid":501,"invoicenum":"","userid":42,
			"status":"Unpaid","subtotal":"75.00","total":"75.00",
			"items":{"item":{"id":"9","type":"Domain","description":"example.com","amount":"75.00"}}}`))
	})
	defer server.Close()

	client := NewClient(server.URL, "id", "secret")
	invoice, err := client.GetInvoice(context.Background(), 501)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if len(invoice.Items) != 1 || invoice.Items[0].Id.Int() != 9 {
		t.Errorf("expected singleton item coerced to list, got %+v", invoice.Items)
	}
	if invoice.Number() != "501" {
		t.Errorf("expected id fallback for blank invoicenum, got %s", invoice.Number())
	}
}

func TestGetInvoiceEmptyItems(t *testing.T) {
	server := newTestServer(t, func(t *testing.T, form url.Values, w http.ResponseWriter) {
		w.Write([]byte(`{"result":"success","invoiceid":"502","userid":"42","status":"Unpaid","subtotal":"30.00","total":"30.00","items":""}`))
	})
	defer server.Close()

	client := NewClient(server.URL, "id", "secret")
	invoice, err := client.GetInvoice(context.Background(), 502)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if len(invoice.Items) != 0 {
		t.Errorf("expected no items, got %+v", invoice.Items)
	}
}

func TestGetInvoiceMissingIds(t *testing.T) {
	server := newTestServer(t, func(t *testing.T, form url.Values, w http.ResponseWriter) {
		w.Write([]byte(`{"result":"success","status":"Unpaid"}`))
	})
	defer server.Close()

	client := NewClient(server.URL, "id", "secret")
	if _, err := client.GetInvoice(context.Background(), 503); err == nil {
		t.Fatal("expected validation error for response without invoiceid/userid")
	}
}

func TestGetClient(t *testing.T) {
	server := newTestServer(t, func(t *testing.T, form url.Values, w http.ResponseWriter) {
		if form.Get("action") != "GetClientsDetails" || form.Get("clientid") != "42" {
			t.Errorf("unexpected params: %v", form)
		}
		w.Write([]byte(`{"result":"success","id":"42","firstname":"Jane","lastname":"Doe","email":"jane@example.com","country":"GB"}`))
	})
	defer server.Close()

	client := NewClient(server.URL, "id", "secret")
	details, err := client.GetClient(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if details.Email != "jane@example.com" || details.FirstName != "Jane" {
		t.Errorf("unexpected details: %+v", details)
	}
}

func TestAddInvoicePaymentDefaults(t *testing.T) {
	server := newTestServer(t, func(t *testing.T, form url.Values, w http.ResponseWriter) {
		if form.Get("action") != "AddInvoicePayment" {
			t.Errorf("unexpected action: %s", form.Get("action"))
		}
		if form.Get("invoiceid") != "500" {
			t.Errorf("unexpected invoiceid: %s", form.Get("invoiceid"))
		}
		if form.Get("transid") != "FA-500" {
			t.Errorf("expected synthesized transid FA-500, got %s", form.Get("transid"))
		}
		if form.Get("gateway") != "banktransfer" {
			t.Errorf("expected default gateway, got %s", form.Get("gateway"))
		}
		if form.Get("amount") != "250.75" {
			t.Errorf("expected amount 250.75, got %s", form.Get("amount"))
		}
		w.Write([]byte(`{"result":"success","invoiceid":"500"}`))
	})
	defer server.Close()

	client := NewClient(server.URL, "id", "secret")
	err := client.AddInvoicePayment(context.Background(), InvoicePayment{
		InvoiceId: 500,
		Amount:    decimal.RequireFromString("250.75"),
		Date:      "2024-06-20",
	})
	if err != nil {
		t.Fatalf("AddInvoicePayment: %v", err)
	}
}
