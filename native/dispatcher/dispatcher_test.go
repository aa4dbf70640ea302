package dispatcher

import (
	"errors"
	"math/big"
	"testing"

	"namedeal/native/deal"
	"namedeal/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func testSchedules() map[deal.Kind]Schedule {
	schedules := make(map[deal.Kind]Schedule)
	for _, kind := range []deal.Kind{
		deal.KindSale, deal.KindMultiSale,
		deal.KindAuction, deal.KindMultiAuction,
		deal.KindOffer, deal.KindMultiOffer,
		deal.KindSwap,
	} {
		schedules[kind] = Schedule{
			CommissionFactor: 10_000,
			MaxCommission:    big.NewInt(0),
			MinPrice:         big.NewInt(1_000_000),
		}
	}
	return schedules
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *storage.Store) {
	t.Helper()
	store := storage.NewStore(storage.NewMemDB())
	store.SetVaultAddress(deal.LegCoin, testAddr(0xAA))
	store.SetVaultAddress(deal.LegToken, testAddr(0xAB))
	engine := deal.NewEngine()
	engine.SetState(store)
	engine.SetTreasury(testAddr(0xFE))
	engine.SetNowFunc(func() int64 { return 1000 })
	return New(engine, testSchedules(), nil), store
}

func TestDeploySaleSnapshotsSchedule(t *testing.T) {
	dispatcher, store := newTestDispatcher(t)
	seller := testAddr(0x01)
	if err := store.SetAssetOwner("alpha.nd", seller); err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	if err := store.SetAssetLastRenewal("alpha.nd", 1000); err != nil {
		t.Fatalf("seed renewal: %v", err)
	}

	deployed, err := dispatcher.DeploySale(SaleRequest{
		Initiator:  seller,
		PaymentLeg: deal.LegCoin,
		ValidUntil: 5000,
		Assets:     []string{"Alpha.ND."},
		Price:      big.NewInt(2_000_000_000),
		Nonce:      [32]byte{0x01},
	})
	if err != nil {
		t.Fatalf("deploy sale: %v", err)
	}
	if deployed.CommissionFactor != 10_000 {
		t.Fatalf("commission factor = %d, want schedule snapshot", deployed.CommissionFactor)
	}
	if !deployed.Assets.Contains("alpha.nd") {
		t.Fatalf("asset name not normalized: %v", deployed.Assets.All())
	}
	if deployed.State != deal.StateActive {
		t.Fatalf("state = %v, want active", deployed.State)
	}
}

func TestDeployRejectsBelowMinimumPrice(t *testing.T) {
	dispatcher, store := newTestDispatcher(t)
	seller := testAddr(0x01)
	if err := store.SetAssetOwner("alpha.nd", seller); err != nil {
		t.Fatalf("seed owner: %v", err)
	}

	_, err := dispatcher.DeploySale(SaleRequest{
		Initiator:  seller,
		PaymentLeg: deal.LegCoin,
		ValidUntil: 5000,
		Assets:     []string{"alpha.nd"},
		Price:      big.NewInt(999),
		Nonce:      [32]byte{0x02},
	})
	if !errors.Is(err, ErrPriceBelowMinimum) {
		t.Fatalf("below-minimum error = %v", err)
	}
	// Nothing deployed, nothing taken.
	owner, ok, _ := store.AssetOwner("alpha.nd")
	if !ok || owner != seller {
		t.Fatalf("asset moved on rejection, owner = %x", owner)
	}
}

func TestDeployUnknownKindFails(t *testing.T) {
	store := storage.NewStore(storage.NewMemDB())
	engine := deal.NewEngine()
	engine.SetState(store)
	dispatcher := New(engine, map[deal.Kind]Schedule{}, nil)
	_, err := dispatcher.DeploySale(SaleRequest{
		Initiator: testAddr(0x01),
		Assets:    []string{"alpha.nd"},
		Price:     big.NewInt(1),
	})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("unknown kind error = %v", err)
	}
}

func TestDeployRejectsInvalidNames(t *testing.T) {
	dispatcher, _ := newTestDispatcher(t)
	_, err := dispatcher.DeploySale(SaleRequest{
		Initiator:  testAddr(0x01),
		PaymentLeg: deal.LegCoin,
		ValidUntil: 5000,
		Assets:     []string{"a..b"},
		Price:      big.NewInt(2_000_000_000),
		Nonce:      [32]byte{0x03},
	})
	if err == nil {
		t.Fatalf("invalid asset name must fail")
	}
}

func TestDeployOfferEscrowsThroughDispatcher(t *testing.T) {
	dispatcher, store := newTestDispatcher(t)
	buyer := testAddr(0x02)
	seller := testAddr(0x01)
	if err := store.SetAssetOwner("alpha.nd", seller); err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	buyerAcc, _ := store.GetAccount(buyer[:])
	buyerAcc.BalanceCoin = big.NewInt(2_000_000_000)
	if err := store.PutAccount(buyer[:], buyerAcc); err != nil {
		t.Fatalf("seed buyer: %v", err)
	}

	deployed, err := dispatcher.DeployOffer(OfferRequest{
		Initiator:  buyer,
		Seller:     seller,
		PaymentLeg: deal.LegCoin,
		ValidUntil: 5000,
		Assets:     []string{"alpha.nd"},
		Price:      big.NewInt(2_000_000_000),
		Nonce:      [32]byte{0x04},
	})
	if err != nil {
		t.Fatalf("deploy offer: %v", err)
	}
	balance, _ := store.DealBalance(deployed.ID, deal.LegCoin)
	if balance.Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("escrow balance = %s, want 2.0", balance)
	}
}
