package underwrite

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMonthlyInstallment(t *testing.T) {
	t.Parallel()

	// 600000 at 10.5% over 36 months is roughly 19501 per month.
	emi := MonthlyInstallment(600000, 10.5, 36)
	if math.Abs(emi-19501) > 5 {
		t.Fatalf("unexpected EMI %.2f", emi)
	}

	// Zero interest degrades to a straight division.
	if got := MonthlyInstallment(36000, 0, 36); got != 1000 {
		t.Fatalf("zero-rate EMI: got %.2f", got)
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		score      int
		req        underwriteRequest
		wantStatus string
		wantReason string
	}{
		{
			name:       "low credit score rejects",
			score:      650,
			req:        underwriteRequest{RequestedAmount: 100000, PreApprovedLimit: 500000},
			wantStatus: StatusRejected,
			wantReason: "credit score",
		},
		{
			name:       "more than twice the limit rejects",
			score:      750,
			req:        underwriteRequest{RequestedAmount: 1100000, PreApprovedLimit: 500000, MonthlySalary: 500000},
			wantStatus: StatusRejected,
			wantReason: "twice",
		},
		{
			name:       "within limit approves without salary",
			score:      750,
			req:        underwriteRequest{RequestedAmount: 400000, PreApprovedLimit: 500000},
			wantStatus: StatusApproved,
			wantReason: "within the pre-approved limit",
		},
		{
			name:       "exactly the limit approves",
			score:      750,
			req:        underwriteRequest{RequestedAmount: 500000, PreApprovedLimit: 500000},
			wantStatus: StatusApproved,
			wantReason: "within the pre-approved limit",
		},
		{
			name:       "above limit without salary rejects",
			score:      750,
			req:        underwriteRequest{RequestedAmount: 600000, PreApprovedLimit: 500000},
			wantStatus: StatusRejected,
			wantReason: "salary is required",
		},
		{
			name:  "above limit with ample salary approves",
			score: 750,
			req: underwriteRequest{
				RequestedAmount:  600000,
				PreApprovedLimit: 500000,
				MonthlySalary:    100000,
				InterestRate:     10.5,
				TenureMonths:     36,
			},
			wantStatus: StatusApproved,
			wantReason: "fits within",
		},
		{
			name:  "above limit with thin salary rejects",
			score: 750,
			req: underwriteRequest{
				RequestedAmount:  600000,
				PreApprovedLimit: 500000,
				MonthlySalary:    30000,
				InterestRate:     10.5,
				TenureMonths:     36,
			},
			wantStatus: StatusRejected,
			wantReason: "exceeds half",
		},
		{
			name:  "exactly twice the limit still evaluated",
			score: 750,
			req: underwriteRequest{
				RequestedAmount:  1000000,
				PreApprovedLimit: 500000,
				MonthlySalary:    200000,
				InterestRate:     10.5,
				TenureMonths:     36,
			},
			wantStatus: StatusApproved,
			wantReason: "fits within",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, reason := Evaluate(tc.score, tc.req)
			if status != tc.wantStatus {
				t.Fatalf("status=%s reason=%s", status, reason)
			}
			if !strings.Contains(reason, tc.wantReason) {
				t.Fatalf("reason %q does not mention %q", reason, tc.wantReason)
			}
		})
	}
}

func newTestService(t *testing.T, bureau http.Handler) *Service {
	t.Helper()
	srv := httptest.NewServer(bureau)
	t.Cleanup(srv.Close)

	svc, err := New(Config{MockdataURL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestHandleUnderwrite(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /credit_score", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cust_id") != "CUST1001" {
			http.Error(w, `{"error":"customer not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"customer_id":"CUST1001","credit_score":742}`))
	})
	svc := newTestService(t, mux)
	handler := svc.Handler()

	body := `{"customer_id":"CUST1001","requested_loan_amount":400000,"pre_approved_limit":500000,"monthly_salary":0,"interest_rate":10.5,"loan_tenure_months":36}`
	req := httptest.NewRequest(http.MethodPost, "/underwrite", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp underwriteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StatusApproved {
		t.Fatalf("expected approval, got %+v", resp)
	}
}

func TestHandleUnderwriteUnknownCustomerRejects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /credit_score", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"customer not found"}`, http.StatusNotFound)
	})
	svc := newTestService(t, mux)

	body := `{"customer_id":"GHOST","requested_loan_amount":400000,"pre_approved_limit":500000}`
	req := httptest.NewRequest(http.MethodPost, "/underwrite", strings.NewReader(body))
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp underwriteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StatusRejected || !strings.Contains(resp.Reason, "credit history") {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHandleUnderwriteValidatesInput(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, http.NotFoundHandler())

	cases := []string{
		`not json`,
		`{"requested_loan_amount":400000,"pre_approved_limit":500000}`,
		`{"customer_id":"CUST1001","requested_loan_amount":0,"pre_approved_limit":500000}`,
		`{"customer_id":"CUST1001","requested_loan_amount":400000,"pre_approved_limit":0}`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/underwrite", strings.NewReader(body))
		rec := httptest.NewRecorder()
		svc.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestHandleUnderwriteBureauDown(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /credit_score", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	svc := newTestService(t, mux)

	body := `{"customer_id":"CUST1001","requested_loan_amount":400000,"pre_approved_limit":500000}`
	req := httptest.NewRequest(http.MethodPost, "/underwrite", strings.NewReader(body))
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}
