package sejoli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := New(Config{
		BaseURL:   srv.URL,
		Username:  "ops",
		Password:  "secret",
		Timeout:   5 * time.Second,
		PageSize:  2,
		PageDelay: time.Millisecond,
		MaxPages:  10,
	}, testLogger(), nil, nil)
	return client, srv
}

func TestAllSalesPaginatesUntilShortPage(t *testing.T) {
	pages := map[string]string{
		"1": `{"data": [{"ID": 1, "user_email": "a@x.id", "grand_total": 100, "status": "completed"},
		               {"ID": 2, "user_email": "b@x.id", "grand_total": 200, "status": "completed"}]}`,
		"2": `{"data": [{"ID": 3, "user_email": "c@x.id", "grand_total": 300, "status": "cancelled"}]}`,
	}

	var requests int
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if user, pass, ok := r.BasicAuth(); !ok || user != "ops" || pass != "secret" {
			t.Errorf("missing or wrong basic auth on %s", r.URL)
		}
		if got := r.URL.Query().Get("per_page"); got != "2" {
			t.Errorf("per_page = %q, want 2", got)
		}
		fmt.Fprint(w, pages[r.URL.Query().Get("page")])
	}))

	orders, truncated := client.AllSales(context.Background())
	if truncated {
		t.Fatal("clean pagination reported truncated")
	}
	if len(orders) != 3 {
		t.Fatalf("orders = %d, want 3", len(orders))
	}
	if requests != 2 {
		t.Fatalf("requests = %d, want 2 (short page must stop pagination)", requests)
	}
	if orders[2].ID != 3 {
		t.Fatalf("order ordering broken: %+v", orders[2])
	}
}

func TestAllSalesAcceptsOrdersWrapper(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"orders": [{"ID": 7, "user_email": "x@y.id", "grand_total": 500, "status": "completed"}]}`)
	}))

	orders, truncated := client.AllSales(context.Background())
	if truncated || len(orders) != 1 || orders[0].ID != 7 {
		t.Fatalf("orders = %+v truncated = %v", orders, truncated)
	}
}

func TestAllSalesTreatsPageErrorAsEndOfData(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"data": [{"ID": 1, "user_email": "a@x.id", "grand_total": 100, "status": "completed"},
		                        {"ID": 2, "user_email": "b@x.id", "grand_total": 200, "status": "completed"}]}`)
	}))

	orders, truncated := client.AllSales(context.Background())
	if !truncated {
		t.Fatal("page error must flag the fetch as truncated")
	}
	if len(orders) != 2 {
		t.Fatalf("partial result = %d orders, want 2", len(orders))
	}
}

func TestAllSalesStopsAtMaxPages(t *testing.T) {
	srvHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		fmt.Fprintf(w, `{"data": [{"ID": %d, "user_email": "a@x.id", "grand_total": 1, "status": "completed"},
		                         {"ID": %d, "user_email": "b@x.id", "grand_total": 1, "status": "completed"}]}`,
			page*10, page*10+1)
	})
	client, _ := testClient(t, srvHandler)

	orders, truncated := client.AllSales(context.Background())
	if truncated {
		t.Fatal("hitting the page limit is not a truncation")
	}
	if len(orders) != 20 {
		t.Fatalf("orders = %d, want 20 (10 pages of 2)", len(orders))
	}
}

func TestProductsDecodesCatalog(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `[{"id": 190, "title": "Paket 6 Bulan", "price": 1497000,
		                 "affiliate": {"1": {"type": "flat", "fee": 250000}}}]`)
	}))

	products, err := client.Products(context.Background(), false)
	if err != nil {
		t.Fatalf("products: %v", err)
	}
	if len(products) != 1 || products[0].AffiliateFee != 250000 {
		t.Fatalf("products = %+v", products)
	}
}

func TestGetPropagatesHTTPError(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))

	if _, err := client.Products(context.Background(), false); err == nil {
		t.Fatal("expected error on 401 response")
	}
}
