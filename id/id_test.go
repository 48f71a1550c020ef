package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/barre/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"DancerID", id.NewDancerID, "dancer_"},
		{"EventID", id.NewEventID, "event_"},
		{"ChargeID", id.NewChargeID, "charge_"},
		{"PaymentID", id.NewPaymentID, "payment_"},
		{"EventFeeID", id.NewEventFeeID, "efee_"},
		{"ConnectionID", id.NewConnectionID, "aconn_"},
		{"SyncRecordID", id.NewSyncRecordID, "sync_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"DancerID", id.NewDancerID, id.ParseDancerID},
		{"EventID", id.NewEventID, id.ParseEventID},
		{"ChargeID", id.NewChargeID, id.ParseChargeID},
		{"PaymentID", id.NewPaymentID, id.ParsePaymentID},
		{"EventFeeID", id.NewEventFeeID, id.ParseEventFeeID},
		{"ConnectionID", id.NewConnectionID, id.ParseConnectionID},
		{"SyncRecordID", id.NewSyncRecordID, id.ParseSyncRecordID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseChargeID rejects payment_", id.NewPaymentID().String(), id.ParseChargeID},
		{"ParsePaymentID rejects charge_", id.NewChargeID().String(), id.ParsePaymentID},
		{"ParseEventFeeID rejects event_", id.NewEventID().String(), id.ParseEventFeeID},
		{"ParseDancerID rejects aconn_", id.NewConnectionID().String(), id.ParseDancerID},
		{"ParseSyncRecordID rejects efee_", id.NewEventFeeID().String(), id.ParseSyncRecordID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.parseFn(tt.input); err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestParseOptional(t *testing.T) {
	got, err := id.ParseOptional("", id.PrefixEventFee)
	if err != nil {
		t.Fatalf("ParseOptional(\"\") failed: %v", err)
	}
	if !got.IsNil() {
		t.Error("expected nil ID for empty input")
	}

	fee := id.NewEventFeeID()
	got, err = id.ParseOptional(fee.String(), id.PrefixEventFee)
	if err != nil {
		t.Fatalf("ParseOptional failed: %v", err)
	}
	if got.String() != fee.String() {
		t.Errorf("mismatch: %q != %q", got.String(), fee.String())
	}

	if _, err := id.ParseOptional(fee.String(), id.PrefixCharge); err == nil {
		t.Error("expected error for wrong prefix")
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewChargeID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if err := restored.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if restored.String() != original.String() {
		t.Errorf("mismatch: %q != %q", restored.String(), original.String())
	}

	var nilID id.ID
	data, err = nilID.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText(nil) failed: %v", err)
	}
	var restored2 id.ID
	if err := restored2.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !restored2.IsNil() {
		t.Error("expected nil after round-trip of nil ID")
	}
}

func TestScanValue(t *testing.T) {
	original := id.NewSyncRecordID()
	v, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if !fromNil.IsNil() {
		t.Error("expected nil ID from NULL")
	}

	if err := fromNil.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestParseTransactionID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{id.NewChargeID().String(), false},
		{id.NewPaymentID().String(), false},
		{id.NewEventFeeID().String(), true},
		{"not-an-id", true},
		{"", true},
	}

	for _, tt := range tests {
		_, err := id.ParseTransactionID(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTransactionID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}
