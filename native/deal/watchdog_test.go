package deal

import (
	"errors"
	"math/big"
	"testing"
)

func TestTryExpireBeforeDeadline(t *testing.T) {
	engine, state, _, _ := newTestEngine()
	seller := newTestAddress(0x01)
	registerAsset(state, "alpha.nd", seller, 1000)

	d, err := engine.CreateSale(saleParams(seller, []string{"alpha.nd"}, 2_000_000_000, 5000))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := engine.TryExpire(d.ID); !errors.Is(err, ErrDealNotActive) {
		t.Fatalf("early expire error = %v", err)
	}
	// Exactly at the deadline is still too early for non-auction kinds.
	stored, _ := engine.Get(d.ID)
	if stored.State != StateActive {
		t.Fatalf("early expire changed state to %v", stored.State)
	}
}

func TestTryExpireUnwindsSale(t *testing.T) {
	engine, state, emitter, clock := newTestEngine()
	seller := newTestAddress(0x01)
	registerAsset(state, "alpha.nd", seller, 1000)

	d, err := engine.CreateSale(saleParams(seller, []string{"alpha.nd"}, 2_000_000_000, 5000))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	clock.now = 5000
	if _, err := engine.TryExpire(d.ID); !errors.Is(err, ErrDealNotActive) {
		t.Fatalf("expire at deadline error = %v", err)
	}
	clock.now = 5001
	if _, err := engine.TryExpire(d.ID); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if owner := state.assetOwners["alpha.nd"]; owner != seller {
		t.Fatalf("asset owner = %x, want seller", owner)
	}
	stored, _ := engine.Get(d.ID)
	if stored.State != StateCancelled {
		t.Fatalf("state = %v, want cancelled", stored.State)
	}
	if !emitter.has(EventTypeDealExpired) {
		t.Fatalf("expired event missing")
	}
}

func TestTryExpireRefundsOfferEscrow(t *testing.T) {
	engine, state, _, clock := newTestEngine()
	buyer := newTestAddress(0x02)
	seller := newTestAddress(0x01)
	registerAsset(state, "alpha.nd", seller, 1000)

	state.setBalance(buyer, LegCoin, 2_000_000_000)
	d, err := engine.CreateOffer(offerParams(buyer, seller, []string{"alpha.nd"}, 2_000_000_000, 5000))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	// The seller countered and handed the asset over, then went silent.
	payload := &TransferPayload{CounterPrice: big.NewInt(3_000_000_000)}
	if _, err := engine.HandleAssetArrival(d.ID, "alpha.nd", seller, payload); err != nil {
		t.Fatalf("counter transfer: %v", err)
	}

	clock.now = 5001
	out, err := engine.TryExpire(d.ID)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if got := state.balance(buyer, LegCoin); got.Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("buyer refund = %s, want 2.0", got)
	}
	if owner := state.assetOwners["alpha.nd"]; owner != seller {
		t.Fatalf("asset owner = %x, want seller", owner)
	}
	var paymentBack, assetBack bool
	for _, refund := range out.Refunds {
		if refund.To == buyer && refund.Amount != nil && refund.Amount.Cmp(big.NewInt(2_000_000_000)) == 0 {
			paymentBack = true
		}
		if refund.To == seller && refund.AssetID == "alpha.nd" {
			assetBack = true
		}
	}
	if !paymentBack || !assetBack {
		t.Fatalf("restitution report incomplete: %+v", out.Refunds)
	}
	if balance, _ := state.DealBalance(d.ID, LegCoin); balance.Sign() != 0 {
		t.Fatalf("residual escrow = %s", balance)
	}
}

func TestTryExpireSettlesAuctionWithBid(t *testing.T) {
	engine, state, _, clock := newTestEngine()
	seller := newTestAddress(0x01)
	bidder := newTestAddress(0x02)
	treasury := newTestAddress(0xFE)
	registerAsset(state, "alpha.nd", seller, 1000)
	state.setBalance(bidder, LegCoin, 1_000_000_000)

	d, err := engine.CreateAuction(auctionParams(seller, []string{"alpha.nd"}, 1_000_000_000, 0, 5000))
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	if _, err := engine.PlaceBid(d.ID, bidder, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	// The watchdog may not fire before the hammer falls.
	if _, err := engine.TryExpire(d.ID); !errors.Is(err, ErrDealNotActive) {
		t.Fatalf("early expire error = %v", err)
	}
	clock.now = 5000
	if _, err := engine.TryExpire(d.ID); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if owner := state.assetOwners["alpha.nd"]; owner != bidder {
		t.Fatalf("asset owner = %x, want winning bidder", owner)
	}
	if got := state.balance(seller, LegCoin); got.Cmp(big.NewInt(900_000_000)) != 0 {
		t.Fatalf("seller payout = %s, want 0.9", got)
	}
	if got := state.balance(treasury, LegCoin); got.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("treasury = %s, want 0.1", got)
	}
	stored, _ := engine.Get(d.ID)
	if stored.State != StateCompleted {
		t.Fatalf("state = %v, want completed", stored.State)
	}
}

func TestTryExpireTerminalDealIsNoop(t *testing.T) {
	engine, state, _, clock := newTestEngine()
	buyer := newTestAddress(0x02)
	seller := newTestAddress(0x01)
	registerAsset(state, "alpha.nd", seller, 1000)

	state.setBalance(buyer, LegCoin, 2_000_000_000)
	d, err := engine.CreateOffer(offerParams(buyer, seller, []string{"alpha.nd"}, 2_000_000_000, 5000))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if _, err := engine.DeclineOffer(d.ID, seller); err != nil {
		t.Fatalf("decline: %v", err)
	}
	buyerBalance := state.balance(buyer, LegCoin)

	clock.now = 9000
	out, err := engine.TryExpire(d.ID)
	if err != nil {
		t.Fatalf("expire on terminal deal: %v", err)
	}
	if len(out.Refunds) != 0 {
		t.Fatalf("terminal expire produced refunds: %+v", out.Refunds)
	}
	if got := state.balance(buyer, LegCoin); got.Cmp(buyerBalance) != 0 {
		t.Fatalf("terminal expire moved funds: %s -> %s", buyerBalance, got)
	}
	// Repeat calls stay harmless.
	if _, err := engine.TryExpire(d.ID); err != nil {
		t.Fatalf("second expire: %v", err)
	}
}

func TestTryExpireUnknownDeal(t *testing.T) {
	engine, _, _, _ := newTestEngine()
	if _, err := engine.TryExpire([32]byte{0xDE, 0xAD}); !errors.Is(err, ErrDealNotFound) {
		t.Fatalf("unknown deal error = %v", err)
	}
}

func TestAssetAboutToExpireForcesUnwind(t *testing.T) {
	engine, state, _, _ := newTestEngine()
	seller := newTestAddress(0x01)
	registerAsset(state, "alpha.nd", seller, 1000)

	d, err := engine.CreateSale(saleParams(seller, []string{"alpha.nd"}, 2_000_000_000, 5000))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := engine.AssetAboutToExpire(d.ID, "other.nd"); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("foreign asset warning error = %v", err)
	}
	if _, err := engine.AssetAboutToExpire(d.ID, "alpha.nd"); err != nil {
		t.Fatalf("expiry warning: %v", err)
	}
	if owner := state.assetOwners["alpha.nd"]; owner != seller {
		t.Fatalf("asset owner = %x, want seller", owner)
	}
	stored, _ := engine.Get(d.ID)
	if stored.State != StateCancelled {
		t.Fatalf("state = %v, want cancelled", stored.State)
	}
}
