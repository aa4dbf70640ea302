package deal

import (
	"math/big"
)

// handleOfferAsset processes the seller side of an offer. Transferring the
// asset with an empty payload accepts the buyer's price; attaching a counter
// price puts the asset in custody and leaves the deal awaiting the buyer.
func (e *Engine) handleOfferAsset(d *Deal, assetID string, from [20]byte, payload *TransferPayload) (*Outcome, error) {
	if d.State != StateActive {
		return nil, ErrDealNotActive
	}
	if from != d.Seller {
		return nil, ErrIncorrectSender
	}
	if !d.Assets.Contains(assetID) {
		return nil, ErrUnknownAsset
	}
	if e.now() > d.ValidUntil {
		return nil, ErrDealNotActive
	}
	if err := e.takeAssetCustody(assetID, from); err != nil {
		return nil, err
	}
	if err := d.Assets.Receive(assetID); err != nil {
		return nil, err
	}
	out := &Outcome{}
	var counter *big.Int
	if payload != nil && payload.CounterPrice != nil && payload.CounterPrice.Sign() > 0 {
		counter = cloneBigInt(payload.CounterPrice)
	}
	if counter != nil {
		d.Offer.SellerPrice = counter
		e.touch(d)
		if err := e.storeDeal(d); err != nil {
			return nil, err
		}
		e.emit(NewAssetReceivedEvent(d, assetID))
		e.emit(NewCounterOfferedEvent(d))
		return out, nil
	}
	if d.Assets.Complete() && d.Offer.SellerPrice.Sign() == 0 {
		if err := e.completeOffer(d, d.Price, out); err != nil {
			return nil, err
		}
		return out, nil
	}
	e.touch(d)
	if err := e.storeDeal(d); err != nil {
		return nil, err
	}
	e.emit(NewAssetReceivedEvent(d, assetID))
	return out, nil
}

// ChangeOfferPrice lets the buyer adjust the offered price, settling the
// escrow delta in the same step. When the new price meets an outstanding
// counter-proposal and every asset is in custody, the deal completes
// atomically at the new price.
func (e *Engine) ChangeOfferPrice(id [32]byte, caller [20]byte, newPrice *big.Int, newValidUntil int64) (*Outcome, error) {
	defer e.lockDeal(id)()
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	if d.Kind != KindOffer && d.Kind != KindMultiOffer {
		return nil, ErrDealNotActive
	}
	if d.State != StateActive {
		return nil, ErrDealNotActive
	}
	if caller != d.Buyer {
		return nil, ErrIncorrectSender
	}
	price := cloneBigInt(newPrice)
	if price.Sign() <= 0 {
		return nil, ErrPriceTooLow
	}
	now := e.now()
	if newValidUntil != 0 {
		floor := now + MinPriceExtension
		if d.ValidUntil > floor {
			floor = d.ValidUntil
		}
		if newValidUntil < floor {
			return nil, ErrIncorrectValidUntil
		}
		if err := e.checkHorizon(d.Assets, newValidUntil); err != nil {
			return nil, err
		}
	}
	out := &Outcome{}
	delta := new(big.Int).Sub(price, d.Price)
	switch {
	case delta.Sign() > 0:
		if err := e.takePayment(d, d.Buyer, d.PaymentLeg, delta); err != nil {
			return nil, err
		}
	case delta.Sign() < 0:
		back := new(big.Int).Neg(delta)
		if err := e.payOut(d, d.Buyer, d.PaymentLeg, back); err != nil {
			return nil, err
		}
		out.addPayment(d.Buyer, d.PaymentLeg, back)
	}
	d.Price = price
	d.Payments.Drain(d.PaymentLeg)
	ledger, err := NewPaymentLedger(d.PaymentLeg, price)
	if err != nil {
		return nil, err
	}
	d.Payments = ledger
	if err := d.Payments.Record(d.PaymentLeg, price); err != nil {
		return nil, err
	}
	if newValidUntil != 0 {
		d.ValidUntil = newValidUntil
	}
	if d.Offer.SellerPrice.Sign() > 0 && price.Cmp(d.Offer.SellerPrice) >= 0 && d.Assets.Complete() {
		if err := e.completeOffer(d, price, out); err != nil {
			return nil, err
		}
		return out, nil
	}
	e.touch(d)
	if err := e.storeDeal(d); err != nil {
		return nil, err
	}
	e.emit(NewPriceChangedEvent(d))
	return out, nil
}

// DeclineOffer lets the seller reject the offer outright. The seller keeps
// (or gets back) the assets and earns a small fixed reward out of the buyer's
// escrow; the rest of the escrow returns to the buyer.
func (e *Engine) DeclineOffer(id [32]byte, caller [20]byte) (*Outcome, error) {
	defer e.lockDeal(id)()
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	if d.Kind != KindOffer && d.Kind != KindMultiOffer {
		return nil, ErrDealNotActive
	}
	if d.State.Terminal() {
		return nil, ErrDealNotActive
	}
	if caller != d.Seller {
		return nil, ErrIncorrectSender
	}
	out := &Outcome{}
	if err := e.releaseAllHeld(d.Assets, d.Seller, true, out); err != nil {
		return nil, err
	}
	escrowed := d.Payments.Drain(d.PaymentLeg)
	reward := cloneBigInt(DeclineReward)
	if reward.Cmp(escrowed) > 0 {
		reward = cloneBigInt(escrowed)
	}
	if reward.Sign() > 0 {
		if err := e.payOut(d, d.Seller, d.PaymentLeg, reward); err != nil {
			return nil, err
		}
	}
	refund := new(big.Int).Sub(escrowed, reward)
	if refund.Sign() > 0 {
		if err := e.payOut(d, d.Buyer, d.PaymentLeg, refund); err != nil {
			return nil, err
		}
		out.addPayment(d.Buyer, d.PaymentLeg, refund)
	}
	if err := e.cancelDeal(d); err != nil {
		return nil, err
	}
	e.emit(NewDeclinedEvent(d, reward))
	return out, nil
}

// completeOffer settles the offer at the given price: seller paid net of
// commission, assets to the buyer, any outstanding counter-price cleared in
// the same atomic step.
func (e *Engine) completeOffer(d *Deal, price *big.Int, out *Outcome) error {
	settled := d.Payments.Drain(d.PaymentLeg)
	if settled.Cmp(price) < 0 {
		return ErrInsufficientPayment
	}
	commission, err := e.disburseProceeds(d, d.Seller, d.PaymentLeg, settled)
	if err != nil {
		return err
	}
	d.Price = cloneBigInt(price)
	d.Offer.SellerPrice = big.NewInt(0)
	if err := e.releaseAllHeld(d.Assets, d.Buyer, false, out); err != nil {
		return err
	}
	if err := e.completeDeal(d); err != nil {
		return err
	}
	e.emit(NewCommissionPaidEvent(d, commission))
	return nil
}

// CancelOffer lets the buyer walk away from their own offer once the
// cancellation cooldown has elapsed. The cooldown differs between the single
// and multi offer kinds.
func (e *Engine) CancelOffer(id [32]byte, caller [20]byte) (*Outcome, error) {
	defer e.lockDeal(id)()
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	if d.Kind != KindOffer && d.Kind != KindMultiOffer {
		return nil, ErrDealNotActive
	}
	if d.State.Terminal() {
		return nil, ErrDealNotActive
	}
	if caller != d.Buyer {
		return nil, ErrIncorrectSender
	}
	if e.now() < d.CreatedAt+d.Offer.CancelCooldown {
		return nil, ErrCantCancelDeal
	}
	out, err := e.unwind(d)
	if err != nil {
		return nil, err
	}
	if err := e.cancelDeal(d); err != nil {
		return nil, err
	}
	return out, nil
}
