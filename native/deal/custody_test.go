package deal

import (
	"errors"
	"math/big"
	"testing"
)

func TestAssetLedgerLifecycle(t *testing.T) {
	ledger, err := NewAssetLedger([]string{"alpha.nd", "beta.nd"})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if ledger.Complete() {
		t.Fatalf("fresh ledger must not be complete")
	}
	if err := ledger.Receive("alpha.nd"); err != nil {
		t.Fatalf("receive alpha: %v", err)
	}
	if got := ledger.HeldCount(); got != 1 {
		t.Fatalf("held count = %d, want 1", got)
	}
	if err := ledger.Receive("alpha.nd"); !errors.Is(err, ErrAssetAlreadyHeld) {
		t.Fatalf("double receive error = %v", err)
	}
	if err := ledger.Receive("gamma.nd"); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("unknown receive error = %v", err)
	}
	if err := ledger.Receive("beta.nd"); err != nil {
		t.Fatalf("receive beta: %v", err)
	}
	if !ledger.Complete() {
		t.Fatalf("ledger should be complete")
	}
	if err := ledger.MarkDisbursed("alpha.nd"); err != nil {
		t.Fatalf("disburse alpha: %v", err)
	}
	if err := ledger.MarkDisbursed("alpha.nd"); err == nil {
		t.Fatalf("double disburse must fail")
	}
	if err := ledger.MarkReturned("beta.nd"); err != nil {
		t.Fatalf("return beta: %v", err)
	}
	if got := len(ledger.Held()); got != 0 {
		t.Fatalf("held after resolution = %d, want 0", got)
	}
}

func TestAssetLedgerValidation(t *testing.T) {
	if _, err := NewAssetLedger(nil); err == nil {
		t.Fatalf("empty declaration must fail")
	}
	if _, err := NewAssetLedger([]string{"a.nd", "a.nd"}); err == nil {
		t.Fatalf("duplicate declaration must fail")
	}
	if _, err := NewAssetLedger([]string{""}); err == nil {
		t.Fatalf("empty identifier must fail")
	}
}

func TestPaymentLedgerTracksLegsSeparately(t *testing.T) {
	ledger, err := NewPaymentLedger(LegCoin, big.NewInt(100))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if ledger.Satisfied() {
		t.Fatalf("unfunded ledger must not be satisfied")
	}
	if err := ledger.Record(LegCoin, big.NewInt(60)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if ledger.Satisfied() {
		t.Fatalf("partial funding must not satisfy")
	}
	if err := ledger.Record(LegToken, big.NewInt(100)); err != nil {
		t.Fatalf("record token: %v", err)
	}
	if ledger.Satisfied() {
		t.Fatalf("token funding must not satisfy a coin expectation")
	}
	if err := ledger.Record(LegCoin, big.NewInt(40)); err != nil {
		t.Fatalf("record remainder: %v", err)
	}
	if !ledger.Satisfied() {
		t.Fatalf("fully funded ledger must be satisfied")
	}
	drained := ledger.Drain(LegCoin)
	if drained.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("drained = %s, want 100", drained)
	}
	if got := ledger.Received(LegCoin); got.Sign() != 0 {
		t.Fatalf("received after drain = %s, want 0", got)
	}
}

func TestPaymentLedgerRejectsBadInput(t *testing.T) {
	if _, err := NewPaymentLedger(Leg(9), big.NewInt(1)); err == nil {
		t.Fatalf("invalid leg must fail")
	}
	if _, err := NewPaymentLedger(LegCoin, big.NewInt(-1)); err == nil {
		t.Fatalf("negative expectation must fail")
	}
	ledger, _ := NewPaymentLedger(LegCoin, big.NewInt(10))
	if err := ledger.Record(LegCoin, big.NewInt(0)); err == nil {
		t.Fatalf("zero payment must fail")
	}
	if err := ledger.Record(Leg(9), big.NewInt(5)); err == nil {
		t.Fatalf("invalid leg record must fail")
	}
}
