package invoice

import (
	"encoding/json"
	"math"
	"testing"
)

func TestParse_SingleItem(t *testing.T) {
	w := Wire{
		InvoiceDate:   "2026-01-10",
		DueDate:       "2026-02-10",
		Description:   "Logo design work",
		Quantity:      2,
		UnitPrice:     150,
		PaymentMethod: "gcash",
		Status:        StatusDraft,
	}

	d := Parse(w)
	if d.Kind != KindSingle {
		t.Fatalf("Parse() Kind = %v, want KindSingle", d.Kind)
	}
	if d.Description != "Logo design work" {
		t.Errorf("Parse() Description = %q, want %q", d.Description, "Logo design work")
	}
	if got := d.GrandTotal(); got != 300 {
		t.Errorf("GrandTotal() = %v, want 300", got)
	}
}

func TestParse_MultiItemSentinel(t *testing.T) {
	// The sentinel description is the only discriminator on the wire;
	// the comparison must ignore case and surrounding whitespace.
	tests := []struct {
		name        string
		description string
		wantMulti   bool
	}{
		{"exact sentinel", "multi-item invoice", true},
		{"upper case", "MULTI-ITEM INVOICE", true},
		{"mixed case", "Multi-Item Invoice", true},
		{"padded", "  multi-item invoice  ", true},
		{"ordinary description", "Logo design work", false},
		{"sentinel as substring", "multi-item invoice for shoes", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Parse(Wire{Description: tt.description, Status: StatusDraft})
			gotMulti := d.Kind == KindMulti
			if gotMulti != tt.wantMulti {
				t.Errorf("Parse(%q) multi = %v, want %v", tt.description, gotMulti, tt.wantMulti)
			}
		})
	}
}

func TestDetail_GrandTotal_Multi(t *testing.T) {
	d := Parse(Wire{
		Description: MultiItemSentinel,
		Status:      StatusDraft,
		Items: []Item{
			{ProductName: "Shoes", Quantity: 2, UnitPrice: 10, LineTotal: 20},
			{ProductName: "Socks", Quantity: 1, UnitPrice: 5, LineTotal: 5},
		},
	})
	if got := d.GrandTotal(); got != 25 {
		t.Errorf("GrandTotal() = %v, want 25", got)
	}
}

func TestParse_MultiRecomputesMissingLineTotals(t *testing.T) {
	d := Parse(Wire{
		Description: MultiItemSentinel,
		Items: []Item{
			{ProductName: "Shoes", Quantity: 3, UnitPrice: 10},
		},
	})
	if got := float64(d.Items[0].LineTotal); got != 30 {
		t.Errorf("line total = %v, want 30", got)
	}
}

func TestDetail_GrandTotal_ServerTotalWins(t *testing.T) {
	// When the backend supplies total_amount, it is authoritative
	// over the local quantity x price computation.
	total := Amount(999)
	d := Parse(Wire{
		Description: "Logo design work",
		Quantity:    2,
		UnitPrice:   150,
		TotalAmount: &total,
	})
	if got := d.GrandTotal(); got != 999 {
		t.Errorf("GrandTotal() = %v, want 999", got)
	}
}

func TestAmount_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"number", `12.5`, 12.5},
		{"quoted string", `"25.00"`, 25},
		{"integer string", `"7"`, 7},
		{"null", `null`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Amount
			if err := json.Unmarshal([]byte(tt.raw), &a); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.raw, err)
			}
			if math.Abs(float64(a)-tt.want) > 1e-9 {
				t.Errorf("Unmarshal(%s) = %v, want %v", tt.raw, float64(a), tt.want)
			}
		})
	}
}

func TestAmount_UnmarshalJSON_Invalid(t *testing.T) {
	var a Amount
	if err := json.Unmarshal([]byte(`"not-a-number"`), &a); err == nil {
		t.Error("Unmarshal() should fail for non-numeric string")
	}
}

func TestDetail_Wire_MultiRoundTrip(t *testing.T) {
	d := &Detail{
		Kind:          KindMulti,
		Status:        StatusNegotiating,
		InvoiceDate:   "2026-01-10",
		PaymentMethod: "cash",
		Items: []Item{
			{ProductName: "Shoes", Quantity: 2, UnitPrice: 12.5},
		},
	}

	w := d.Wire()
	if w.Description != MultiItemSentinel {
		t.Errorf("Wire() Description = %q, want sentinel", w.Description)
	}
	if w.Quantity != 0 || w.UnitPrice != 0 {
		t.Errorf("Wire() flat fields = (%d, %v), want zeroed", w.Quantity, w.UnitPrice)
	}
	if got := float64(w.Items[0].LineTotal); got != 25 {
		t.Errorf("Wire() item line total = %v, want 25", got)
	}

	back := Parse(w)
	if back.Kind != KindMulti {
		t.Fatalf("Parse(Wire()) Kind = %v, want KindMulti", back.Kind)
	}
	if got := back.GrandTotal(); got != 25 {
		t.Errorf("Parse(Wire()).GrandTotal() = %v, want 25", got)
	}
}

func TestParseJSON_StringAmounts(t *testing.T) {
	// Backend serializers emit decimal fields as strings.
	raw := []byte(`{
		"invoice_date": "2026-01-10",
		"description": "multi-item invoice",
		"quantity": 0,
		"unit_price": "0.00",
		"payment_method": "cash",
		"status": "draft",
		"items": [
			{"product_name": "Shoes", "description": "", "quantity": 2, "unit_price": "12.50", "line_total": "25.00"}
		]
	}`)

	d, err := ParseJSON(raw)
	if err != nil {
		t.Fatalf("ParseJSON() error = %v", err)
	}
	if d.Kind != KindMulti {
		t.Fatalf("ParseJSON() Kind = %v, want KindMulti", d.Kind)
	}
	if got := d.GrandTotal(); got != 25 {
		t.Errorf("GrandTotal() = %v, want 25", got)
	}
}

func TestStatus_Known(t *testing.T) {
	for _, s := range []Status{StatusDraft, StatusNegotiating, StatusPending, StatusUnconfirmedPayment, StatusFinalized} {
		if !s.Known() {
			t.Errorf("Known(%q) = false, want true", s)
		}
	}
	if Status("archived").Known() {
		t.Error(`Known("archived") = true, want false`)
	}
}
