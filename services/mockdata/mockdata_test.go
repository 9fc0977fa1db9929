package mockdata

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	svc, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc.Handler()
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleCRM(t *testing.T) {
	t.Parallel()

	handler := newTestHandler(t)

	rec := get(t, handler, "/crm/CUST1001")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var profile map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if profile["name"] == "" || profile["pan"] == "" || profile["address"] == "" {
		t.Fatalf("incomplete profile: %+v", profile)
	}

	if rec := get(t, handler, "/crm/GHOST"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown customer: expected 404, got %d", rec.Code)
	}
}

func TestHandleCreditScore(t *testing.T) {
	t.Parallel()

	handler := newTestHandler(t)

	rec := get(t, handler, "/credit_score?cust_id=CUST1001")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp struct {
		CustomerID  string `json:"customer_id"`
		CreditScore int    `json:"credit_score"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CreditScore < 300 || resp.CreditScore > 900 {
		t.Fatalf("implausible score %d", resp.CreditScore)
	}

	if rec := get(t, handler, "/credit_score?cust_id=GHOST"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown customer: expected 404, got %d", rec.Code)
	}
	if rec := get(t, handler, "/credit_score"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing cust_id: expected 404, got %d", rec.Code)
	}
}

func TestHandleOffers(t *testing.T) {
	t.Parallel()

	handler := newTestHandler(t)

	rec := get(t, handler, "/offers?cust_id=CUST1001")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp struct {
		PreApprovedLimit int64    `json:"pre_approved_limit"`
		InterestOptions  []string `json:"interest_options"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PreApprovedLimit <= 0 || len(resp.InterestOptions) == 0 {
		t.Fatalf("incomplete offer: %+v", resp)
	}

	if rec := get(t, handler, "/offers?cust_id=GHOST"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown customer: expected 404, got %d", rec.Code)
	}
}

func TestSnapshotCoversAllEndpoints(t *testing.T) {
	t.Parallel()

	svc, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(svc.customers) < 3 {
		t.Fatalf("snapshot too small: %d customers", len(svc.customers))
	}
	for id, c := range svc.customers {
		if c.CustomerID != id {
			t.Fatalf("key %q does not match record id %q", id, c.CustomerID)
		}
		if c.PreApprovedLimit <= 0 || c.CreditScore == 0 || len(c.InterestOptions) == 0 {
			t.Fatalf("incomplete record %+v", c)
		}
	}
}
