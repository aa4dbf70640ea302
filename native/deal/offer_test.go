package deal

import (
	"errors"
	"math/big"
	"testing"
)

func offerParams(buyer, seller [20]byte, assets []string, price int64, validUntil int64) OfferParams {
	return OfferParams{
		Common: CommonParams{
			Initiator:        buyer,
			PaymentLeg:       LegCoin,
			ValidUntil:       validUntil,
			CommissionFactor: 10_000,
			MaxCommission:    big.NewInt(0),
			Nonce:            [32]byte{0x04},
		},
		Seller: seller,
		Assets: assets,
		Price:  big.NewInt(price),
	}
}

func TestOfferEscrowsPriceAtCreation(t *testing.T) {
	engine, state, _, _ := newTestEngine()
	buyer := newTestAddress(0x02)
	seller := newTestAddress(0x01)
	registerAsset(state, "alpha.nd", seller, 1000)

	state.setBalance(buyer, LegCoin, 3_000_000_000)
	d, err := engine.CreateOffer(offerParams(buyer, seller, []string{"alpha.nd"}, 2_000_000_000, 5000))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if got := state.balance(buyer, LegCoin); got.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("buyer balance = %s, want 1.0", got)
	}
	if balance, _ := state.DealBalance(d.ID, LegCoin); balance.Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("escrow balance = %s, want 2.0", balance)
	}

	// An unfunded buyer cannot deploy at all.
	poor := newTestAddress(0x07)
	params := offerParams(poor, seller, []string{"alpha.nd"}, 2_000_000_000, 5000)
	params.Common.Nonce = [32]byte{0x05}
	if _, err := engine.CreateOffer(params); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("unfunded offer error = %v", err)
	}
}

func TestOfferAcceptedByAssetTransfer(t *testing.T) {
	engine, state, emitter, _ := newTestEngine()
	buyer := newTestAddress(0x02)
	seller := newTestAddress(0x01)
	treasury := newTestAddress(0xFE)
	registerAsset(state, "alpha.nd", seller, 1000)

	state.setBalance(buyer, LegCoin, 2_000_000_000)
	d, err := engine.CreateOffer(offerParams(buyer, seller, []string{"alpha.nd"}, 2_000_000_000, 5000))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if _, err := engine.HandleAssetArrival(d.ID, "alpha.nd", seller, nil); err != nil {
		t.Fatalf("accept by transfer: %v", err)
	}
	if got := state.balance(seller, LegCoin); got.Cmp(big.NewInt(1_800_000_000)) != 0 {
		t.Fatalf("seller balance = %s, want 1.8", got)
	}
	if got := state.balance(treasury, LegCoin); got.Cmp(big.NewInt(200_000_000)) != 0 {
		t.Fatalf("treasury balance = %s, want 0.2", got)
	}
	if owner := state.assetOwners["alpha.nd"]; owner != buyer {
		t.Fatalf("asset owner = %x, want buyer", owner)
	}
	stored, _ := engine.Get(d.ID)
	if stored.State != StateCompleted {
		t.Fatalf("state = %v, want completed", stored.State)
	}
	if balance, _ := state.DealBalance(d.ID, LegCoin); balance.Sign() != 0 {
		t.Fatalf("residual escrow = %s", balance)
	}
	if !emitter.has(EventTypeDealCompleted) {
		t.Fatalf("completion event missing")
	}
}

func TestOfferCounterProposalNegotiation(t *testing.T) {
	engine, state, emitter, _ := newTestEngine()
	buyer := newTestAddress(0x02)
	seller := newTestAddress(0x01)
	registerAsset(state, "alpha.nd", seller, 1000)

	state.setBalance(buyer, LegCoin, 5_000_000_000)
	d, err := engine.CreateOffer(offerParams(buyer, seller, []string{"alpha.nd"}, 2_000_000_000, 5000))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	payload := &TransferPayload{CounterPrice: big.NewInt(3_000_000_000)}
	if _, err := engine.HandleAssetArrival(d.ID, "alpha.nd", seller, payload); err != nil {
		t.Fatalf("counter transfer: %v", err)
	}
	stored, _ := engine.Get(d.ID)
	if stored.State != StateActive {
		t.Fatalf("counter must not complete the deal, state = %v", stored.State)
	}
	if stored.Offer.SellerPrice.Cmp(big.NewInt(3_000_000_000)) != 0 {
		t.Fatalf("seller price = %s, want 3.0", stored.Offer.SellerPrice)
	}
	if !emitter.has(EventTypeCounterOffered) {
		t.Fatalf("counter event missing")
	}

	// A raise below the counter price keeps negotiating.
	if _, err := engine.ChangeOfferPrice(d.ID, buyer, big.NewInt(2_500_000_000), 0); err != nil {
		t.Fatalf("partial raise: %v", err)
	}
	stored, _ = engine.Get(d.ID)
	if stored.State != StateActive {
		t.Fatalf("partial raise completed the deal")
	}

	// Meeting the counter price completes atomically and clears it.
	if _, err := engine.ChangeOfferPrice(d.ID, buyer, big.NewInt(3_000_000_000), 0); err != nil {
		t.Fatalf("meet counter: %v", err)
	}
	stored, _ = engine.Get(d.ID)
	if stored.State != StateCompleted {
		t.Fatalf("state = %v, want completed", stored.State)
	}
	if stored.Offer.SellerPrice.Sign() != 0 {
		t.Fatalf("counter price not cleared: %s", stored.Offer.SellerPrice)
	}
	if got := state.balance(seller, LegCoin); got.Cmp(big.NewInt(2_700_000_000)) != 0 {
		t.Fatalf("seller balance = %s, want 2.7", got)
	}
	if owner := state.assetOwners["alpha.nd"]; owner != buyer {
		t.Fatalf("asset owner = %x, want buyer", owner)
	}
	if balance, _ := state.DealBalance(d.ID, LegCoin); balance.Sign() != 0 {
		t.Fatalf("residual escrow = %s", balance)
	}
}

func TestOfferPriceDecreaseRefundsDelta(t *testing.T) {
	engine, state, _, _ := newTestEngine()
	buyer := newTestAddress(0x02)
	seller := newTestAddress(0x01)
	registerAsset(state, "alpha.nd", seller, 1000)

	state.setBalance(buyer, LegCoin, 2_000_000_000)
	d, err := engine.CreateOffer(offerParams(buyer, seller, []string{"alpha.nd"}, 2_000_000_000, 5000))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	out, err := engine.ChangeOfferPrice(d.ID, buyer, big.NewInt(1_200_000_000), 0)
	if err != nil {
		t.Fatalf("lower offer: %v", err)
	}
	if got := state.balance(buyer, LegCoin); got.Cmp(big.NewInt(800_000_000)) != 0 {
		t.Fatalf("buyer balance = %s, want 0.8", got)
	}
	refunded := false
	for _, refund := range out.Refunds {
		if refund.To == buyer && refund.Amount != nil && refund.Amount.Cmp(big.NewInt(800_000_000)) == 0 {
			refunded = true
		}
	}
	if !refunded {
		t.Fatalf("delta refund missing: %+v", out.Refunds)
	}
	if balance, _ := state.DealBalance(d.ID, LegCoin); balance.Cmp(big.NewInt(1_200_000_000)) != 0 {
		t.Fatalf("escrow balance = %s, want 1.2", balance)
	}
}

func TestOfferDeclineEarnsReward(t *testing.T) {
	engine, state, emitter, _ := newTestEngine()
	buyer := newTestAddress(0x02)
	seller := newTestAddress(0x01)
	registerAsset(state, "alpha.nd", seller, 1000)

	state.setBalance(buyer, LegCoin, 2_000_000_000)
	d, err := engine.CreateOffer(offerParams(buyer, seller, []string{"alpha.nd"}, 2_000_000_000, 5000))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if _, err := engine.DeclineOffer(d.ID, buyer); !errors.Is(err, ErrIncorrectSender) {
		t.Fatalf("buyer decline error = %v", err)
	}
	if _, err := engine.DeclineOffer(d.ID, seller); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if got := state.balance(seller, LegCoin); got.Cmp(DeclineReward) != 0 {
		t.Fatalf("seller reward = %s, want %s", got, DeclineReward)
	}
	wantBuyer := new(big.Int).Sub(big.NewInt(2_000_000_000), DeclineReward)
	if got := state.balance(buyer, LegCoin); got.Cmp(wantBuyer) != 0 {
		t.Fatalf("buyer refund = %s, want %s", got, wantBuyer)
	}
	stored, _ := engine.Get(d.ID)
	if stored.State != StateCancelled {
		t.Fatalf("state = %v, want cancelled", stored.State)
	}
	if !emitter.has(EventTypeDeclined) {
		t.Fatalf("decline event missing")
	}
	if balance, _ := state.DealBalance(d.ID, LegCoin); balance.Sign() != 0 {
		t.Fatalf("residual escrow = %s", balance)
	}
}

func TestOfferBuyerCancelCooldown(t *testing.T) {
	engine, state, _, clock := newTestEngine()
	buyer := newTestAddress(0x02)
	seller := newTestAddress(0x01)
	registerAsset(state, "alpha.nd", seller, 1000)

	state.setBalance(buyer, LegCoin, 2_000_000_000)
	d, err := engine.CreateOffer(offerParams(buyer, seller, []string{"alpha.nd"}, 2_000_000_000, 5000))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if _, err := engine.CancelOffer(d.ID, buyer); !errors.Is(err, ErrCantCancelDeal) {
		t.Fatalf("early cancel error = %v", err)
	}
	clock.advance(OfferCancelCooldown)
	if _, err := engine.CancelOffer(d.ID, buyer); err != nil {
		t.Fatalf("cancel after cooldown: %v", err)
	}
	if got := state.balance(buyer, LegCoin); got.Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("buyer refund = %s, want 2.0", got)
	}
	stored, _ := engine.Get(d.ID)
	if stored.State != StateCancelled {
		t.Fatalf("state = %v, want cancelled", stored.State)
	}
}

func TestMultiOfferUsesLongerCooldown(t *testing.T) {
	engine, state, _, clock := newTestEngine()
	buyer := newTestAddress(0x02)
	seller := newTestAddress(0x01)
	registerAsset(state, "alpha.nd", seller, 1000)
	registerAsset(state, "beta.nd", seller, 1000)

	state.setBalance(buyer, LegCoin, 2_000_000_000)
	d, err := engine.CreateOffer(offerParams(buyer, seller, []string{"alpha.nd", "beta.nd"}, 2_000_000_000, 5000))
	if err != nil {
		t.Fatalf("create multi offer: %v", err)
	}
	if d.Kind != KindMultiOffer {
		t.Fatalf("kind = %v, want multi offer", d.Kind)
	}
	clock.advance(OfferCancelCooldown)
	if _, err := engine.CancelOffer(d.ID, buyer); !errors.Is(err, ErrCantCancelDeal) {
		t.Fatalf("single cooldown must not unlock a multi offer, err = %v", err)
	}
	clock.now = 1000 + MultiOfferCancelCooldown
	if _, err := engine.CancelOffer(d.ID, buyer); err != nil {
		t.Fatalf("cancel after multi cooldown: %v", err)
	}
}

func TestMultiOfferPartialAcceptWaitsForAllAssets(t *testing.T) {
	engine, state, _, _ := newTestEngine()
	buyer := newTestAddress(0x02)
	seller := newTestAddress(0x01)
	registerAsset(state, "alpha.nd", seller, 1000)
	registerAsset(state, "beta.nd", seller, 1000)

	state.setBalance(buyer, LegCoin, 2_000_000_000)
	d, err := engine.CreateOffer(offerParams(buyer, seller, []string{"alpha.nd", "beta.nd"}, 2_000_000_000, 5000))
	if err != nil {
		t.Fatalf("create multi offer: %v", err)
	}
	if _, err := engine.HandleAssetArrival(d.ID, "alpha.nd", seller, nil); err != nil {
		t.Fatalf("first arrival: %v", err)
	}
	stored, _ := engine.Get(d.ID)
	if stored.State != StateActive {
		t.Fatalf("partial transfer completed the deal, state = %v", stored.State)
	}
	if _, err := engine.HandleAssetArrival(d.ID, "beta.nd", seller, nil); err != nil {
		t.Fatalf("second arrival: %v", err)
	}
	stored, _ = engine.Get(d.ID)
	if stored.State != StateCompleted {
		t.Fatalf("state = %v, want completed", stored.State)
	}
	if owner := state.assetOwners["beta.nd"]; owner != buyer {
		t.Fatalf("beta owner = %x, want buyer", owner)
	}
}
