package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	contractx "github.com/finserve-labs/loanflow/agent/contract"
)

// Capability names as they appear in decisions and conversation history.
const (
	NameOfferLookup  = "offer.lookup"
	NameKYCVerify    = "kyc.verify"
	NameUnderwriting = "underwriting.evaluate"
	NameSanction     = "sanction.generate"
)

// Default tenure applied when the customer does not specify one.
const DefaultTenureMonths = 36

// ParamType is the argument wire type accepted by a capability.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
)

// Param describes one named argument of a capability.
type Param struct {
	Name     string
	Type     ParamType
	Desc     string
	Required bool
}

// Descriptor is a static registry entry: the capability's name, argument
// schema, and invocation function. Invocations are idempotent from the
// orchestrator's point of view; retrying a failed call is always safe.
type Descriptor struct {
	Name   string
	Desc   string
	Params []Param
	invoke func(ctx context.Context, args map[string]any) (json.RawMessage, error)
}

// Registry maps capability names to descriptors. Built once at startup;
// read-only afterwards.
type Registry struct {
	descriptors map[string]*Descriptor
	order       []string
}

// NewRegistry builds the static registry over the four loan-origination
// capabilities backed by the given clients.
func NewRegistry(clients *Clients) *Registry {
	r := &Registry{descriptors: make(map[string]*Descriptor, 4)}

	r.add(&Descriptor{
		Name: NameOfferLookup,
		Desc: "Must be called first. Gets the customer's pre-approved loan offer: the pre-approved limit and interest rate options.",
		Params: []Param{
			{Name: "customer_id", Type: ParamString, Desc: "Customer identifier", Required: true},
		},
		invoke: func(ctx context.Context, args map[string]any) (json.RawMessage, error) {
			customerID, err := stringArg(args, "customer_id")
			if err != nil {
				return nil, err
			}
			out, err := clients.Offer.Lookup(ctx, OfferRequest{CustomerID: customerID})
			if err != nil {
				return nil, err
			}
			return json.Marshal(out)
		},
	})

	r.add(&Descriptor{
		Name: NameKYCVerify,
		Desc: "Checks the customer's KYC status. Must be called before underwriting.",
		Params: []Param{
			{Name: "customer_id", Type: ParamString, Desc: "Customer identifier", Required: true},
		},
		invoke: func(ctx context.Context, args map[string]any) (json.RawMessage, error) {
			customerID, err := stringArg(args, "customer_id")
			if err != nil {
				return nil, err
			}
			out, err := clients.KYC.Verify(ctx, KYCRequest{CustomerID: customerID})
			if err != nil {
				return nil, err
			}
			return json.Marshal(out)
		},
	})

	r.add(&Descriptor{
		Name: NameUnderwriting,
		Desc: "Gets a final approved or rejected decision. Requires all loan parameters; pass monthly_salary=0 when the amount is within the pre-approved limit.",
		Params: []Param{
			{Name: "customer_id", Type: ParamString, Desc: "Customer identifier", Required: true},
			{Name: "requested_loan_amount", Type: ParamInteger, Desc: "Requested loan principal", Required: true},
			{Name: "pre_approved_limit", Type: ParamInteger, Desc: "Pre-approved limit from the offer", Required: true},
			{Name: "monthly_salary", Type: ParamInteger, Desc: "Monthly salary, 0 when not required", Required: true},
			{Name: "interest_rate", Type: ParamNumber, Desc: "Annual interest rate as a percentage, e.g. 8.5", Required: true},
			{Name: "loan_tenure_months", Type: ParamInteger, Desc: "Loan tenure in months", Required: true},
		},
		invoke: func(ctx context.Context, args map[string]any) (json.RawMessage, error) {
			customerID, err := stringArg(args, "customer_id")
			if err != nil {
				return nil, err
			}
			amount, err := intArg(args, "requested_loan_amount")
			if err != nil {
				return nil, err
			}
			limit, err := intArg(args, "pre_approved_limit")
			if err != nil {
				return nil, err
			}
			salary, err := intArg(args, "monthly_salary")
			if err != nil {
				return nil, err
			}
			rate, err := floatArg(args, "interest_rate")
			if err != nil {
				return nil, err
			}
			tenure, err := intArg(args, "loan_tenure_months")
			if err != nil {
				return nil, err
			}
			out, err := clients.Underwriting.Evaluate(ctx, UnderwritingRequest{
				CustomerID:       customerID,
				RequestedAmount:  amount,
				PreApprovedLimit: limit,
				MonthlySalary:    salary,
				InterestRate:     rate,
				TenureMonths:     int(tenure),
			})
			if err != nil {
				return nil, err
			}
			return json.Marshal(out)
		},
	})

	r.add(&Descriptor{
		Name: NameSanction,
		Desc: "Generates the sanction letter. Only call after approval and after the customer confirms they want it.",
		Params: []Param{
			{Name: "customer_id", Type: ParamString, Desc: "Customer identifier", Required: true},
			{Name: "loan_amount", Type: ParamInteger, Desc: "Sanctioned loan amount", Required: true},
			{Name: "interest_rate", Type: ParamNumber, Desc: "Annual interest rate as a percentage", Required: true},
			{Name: "tenure_months", Type: ParamInteger, Desc: "Loan tenure in months", Required: true},
		},
		invoke: func(ctx context.Context, args map[string]any) (json.RawMessage, error) {
			customerID, err := stringArg(args, "customer_id")
			if err != nil {
				return nil, err
			}
			amount, err := intArg(args, "loan_amount")
			if err != nil {
				return nil, err
			}
			rate, err := floatArg(args, "interest_rate")
			if err != nil {
				return nil, err
			}
			tenure, err := intArg(args, "tenure_months")
			if err != nil {
				return nil, err
			}
			out, err := clients.Sanction.Generate(ctx, SanctionRequest{
				CustomerID:   customerID,
				LoanAmount:   amount,
				InterestRate: rate,
				TenureMonths: int(tenure),
			})
			if err != nil {
				return nil, err
			}
			return json.Marshal(out)
		},
	})

	return r
}

func (r *Registry) add(d *Descriptor) {
	r.descriptors[d.Name] = d
	r.order = append(r.order, d.Name)
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Descriptors returns all entries in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.descriptors[name])
	}
	return out
}

// Invoke validates the call's arguments against the schema and executes it.
// Validation failures are returned before any network request is made.
func (r *Registry) Invoke(ctx context.Context, call contractx.CapabilityCall) (json.RawMessage, error) {
	d, ok := r.Lookup(call.Name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown capability %q", contractx.ErrValidation, call.Name)
	}
	if err := d.validateArgs(call.Arguments); err != nil {
		return nil, err
	}
	return d.invoke(ctx, call.Arguments)
}

func (d *Descriptor) validateArgs(args map[string]any) error {
	for _, p := range d.Params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				return fmt.Errorf("%w: %s: missing required argument %q", contractx.ErrValidation, d.Name, p.Name)
			}
			continue
		}
		switch p.Type {
		case ParamString:
			if _, err := coerceString(v); err != nil {
				return fmt.Errorf("%w: %s: argument %q: %v", contractx.ErrValidation, d.Name, p.Name, err)
			}
		case ParamInteger:
			if _, err := coerceInt(v); err != nil {
				return fmt.Errorf("%w: %s: argument %q: %v", contractx.ErrValidation, d.Name, p.Name, err)
			}
		case ParamNumber:
			if _, err := coerceFloat(v); err != nil {
				return fmt.Errorf("%w: %s: argument %q: %v", contractx.ErrValidation, d.Name, p.Name, err)
			}
		}
	}
	return nil
}

/* --------------------------- argument coercion --------------------------- */

// Arguments arrive as decoded JSON, so numbers are float64 and models
// occasionally quote them. Coercion accepts both.

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("%w: missing argument %q", contractx.ErrValidation, name)
	}
	s, err := coerceString(v)
	if err != nil {
		return "", fmt.Errorf("%w: argument %q: %v", contractx.ErrValidation, name, err)
	}
	return s, nil
}

func intArg(args map[string]any, name string) (int64, error) {
	v, ok := args[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing argument %q", contractx.ErrValidation, name)
	}
	n, err := coerceInt(v)
	if err != nil {
		return 0, fmt.Errorf("%w: argument %q: %v", contractx.ErrValidation, name, err)
	}
	return n, nil
}

func floatArg(args map[string]any, name string) (float64, error) {
	v, ok := args[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing argument %q", contractx.ErrValidation, name)
	}
	f, err := coerceFloat(v)
	if err != nil {
		return 0, fmt.Errorf("%w: argument %q: %v", contractx.ErrValidation, name, err)
	}
	return f, nil
}

func coerceString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("must not be empty")
	}
	return s, nil
}

func coerceInt(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func coerceFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
