package deal

import (
	"errors"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
)

func TestComputeCommission(t *testing.T) {
	tests := []struct {
		name     string
		price    int64
		factor   uint64
		cap      int64
		discount uint64
		want     int64
	}{
		{name: "plain rate", price: 2_000_000_000, factor: 10_000, cap: 0, want: 200_000_000},
		{name: "capped", price: 2_000_000_000, factor: 10_000, cap: 50_000_000, want: 50_000_000},
		{name: "cap above commission", price: 1_000, factor: 10_000, cap: 1_000_000, want: 100},
		{name: "zero price", price: 0, factor: 10_000, cap: 0, want: 0},
		{name: "zero factor", price: 1_000_000, factor: 0, cap: 0, want: 0},
		{name: "half discount", price: 2_000_000_000, factor: 10_000, cap: 0, discount: 50_000, want: 100_000_000},
		{name: "full discount", price: 2_000_000_000, factor: 10_000, cap: 0, discount: FactorDivider, want: 0},
		{name: "floor division", price: 999, factor: 10_000, cap: 0, want: 99},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeCommission(big.NewInt(tc.price), tc.factor, big.NewInt(tc.cap), tc.discount)
			if got.Cmp(big.NewInt(tc.want)) != 0 {
				t.Fatalf("commission = %s, want %d", got, tc.want)
			}
		})
	}
}

func commissionCounterValue(t *testing.T, leg string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "namedeal_commission_paid_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "leg" && label.GetValue() == leg {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestCommissionSettlementRecordsMetric(t *testing.T) {
	engine, state, _, _ := newTestEngine()
	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)
	registerAsset(state, "alpha.nd", seller, 1000)
	state.setBalance(buyer, LegCoin, 2_000_000_000)

	before := commissionCounterValue(t, "coin")

	d, err := engine.CreateSale(saleParams(seller, []string{"alpha.nd"}, 2_000_000_000, 5000))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := engine.Purchase(d.ID, buyer, big.NewInt(2_000_000_000)); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	after := commissionCounterValue(t, "coin")
	if got := after - before; got != 200_000_000 {
		t.Fatalf("commission counter delta = %v, want 200000000", got)
	}
}

func TestCommissionNeverExceedsBound(t *testing.T) {
	prices := []int64{1, 999, 1_000_000, 2_000_000_000}
	factors := []uint64{0, 1, 5_000, FactorDivider}
	caps := []int64{0, 1, 123_456}
	for _, price := range prices {
		for _, factor := range factors {
			for _, capVal := range caps {
				got := ComputeCommission(big.NewInt(price), factor, big.NewInt(capVal), 0)
				if got.Sign() < 0 {
					t.Fatalf("negative commission for price=%d factor=%d", price, factor)
				}
				bound := new(big.Int).Mul(big.NewInt(price), new(big.Int).SetUint64(factor))
				bound.Div(bound, big.NewInt(FactorDivider))
				if capVal > 0 && bound.Cmp(big.NewInt(capVal)) > 0 {
					bound = big.NewInt(capVal)
				}
				if got.Cmp(bound) > 0 {
					t.Fatalf("commission %s exceeds bound %s", got, bound)
				}
			}
		}
	}
}

func signedVoucher(t *testing.T, payer [20]byte, factor uint64, ts int64) (*DiscountVoucher, [20]byte) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	voucher := &DiscountVoucher{Timestamp: ts, Payer: payer, DiscountFactor: factor}
	digest := voucher.Digest()
	sig, err := ethcrypto.Sign(digest[:], key)
	if err != nil {
		t.Fatalf("sign voucher: %v", err)
	}
	voucher.Signature = sig
	return voucher, [20]byte(ethcrypto.PubkeyToAddress(key.PublicKey))
}

func TestDiscountVoucherVerify(t *testing.T) {
	payer := newTestAddress(0x11)
	voucher, signer := signedVoucher(t, payer, 25_000, 1000)

	if err := voucher.Verify(signer, 1000); err != nil {
		t.Fatalf("valid voucher rejected: %v", err)
	}
	if err := voucher.Verify(signer, 1000+VoucherTTL); err != nil {
		t.Fatalf("voucher at window edge rejected: %v", err)
	}
	if err := voucher.Verify(signer, 1000+VoucherTTL+1); !errors.Is(err, ErrVoucherExpired) {
		t.Fatalf("expired voucher error = %v", err)
	}
	if err := voucher.Verify(signer, 999); !errors.Is(err, ErrVoucherExpired) {
		t.Fatalf("pre-dated voucher error = %v", err)
	}
	if err := voucher.Verify(newTestAddress(0x22), 1000); !errors.Is(err, ErrVoucherSignature) {
		t.Fatalf("wrong signer error = %v", err)
	}

	tampered := *voucher
	tampered.DiscountFactor = 99_000
	if err := tampered.Verify(signer, 1000); !errors.Is(err, ErrVoucherSignature) {
		t.Fatalf("tampered voucher error = %v", err)
	}

	truncated := *voucher
	truncated.Signature = voucher.Signature[:10]
	if err := truncated.Verify(signer, 1000); !errors.Is(err, ErrVoucherSignature) {
		t.Fatalf("truncated signature error = %v", err)
	}
}
