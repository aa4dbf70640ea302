package deal

import (
	"math/big"
)

// Purchase settles a fixed-price sale. The buyer's message must carry at
// least the asking price; only the price itself is taken into escrow, so any
// overshoot never leaves the buyer and is reported as refunded.
func (e *Engine) Purchase(id [32]byte, buyer [20]byte, offered *big.Int) (*Outcome, error) {
	defer e.lockDeal(id)()
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	if d.Kind != KindSale && d.Kind != KindMultiSale {
		return nil, ErrDealNotActive
	}
	if d.State != StateActive {
		return nil, ErrDealNotActive
	}
	now := e.now()
	if now > d.ValidUntil {
		return nil, ErrDealNotActive
	}
	amount := cloneBigInt(offered)
	if amount.Cmp(d.Price) < 0 {
		return nil, ErrPriceTooLow
	}
	if err := e.takePayment(d, buyer, d.PaymentLeg, d.Price); err != nil {
		return nil, err
	}
	if err := d.Payments.Record(d.PaymentLeg, d.Price); err != nil {
		return nil, err
	}
	out := &Outcome{}
	overshoot := new(big.Int).Sub(amount, d.Price)
	out.addPayment(buyer, d.PaymentLeg, overshoot)

	price := d.Payments.Drain(d.PaymentLeg)
	commission, err := e.disburseProceeds(d, d.Seller, d.PaymentLeg, price)
	if err != nil {
		return nil, err
	}
	d.Buyer = buyer
	if err := e.releaseAllHeld(d.Assets, buyer, false, out); err != nil {
		return nil, err
	}
	if err := e.completeDeal(d); err != nil {
		return nil, err
	}
	e.emit(NewCommissionPaidEvent(d, commission))
	return out, nil
}

// ChangeSalePrice lets the seller adjust the asking price and deadline of an
// active sale. The new deadline must extend the current one by at least the
// minimum extension and stay inside the assets' renewal horizon; a violation
// changes nothing.
func (e *Engine) ChangeSalePrice(id [32]byte, caller [20]byte, newPrice *big.Int, newValidUntil int64) error {
	defer e.lockDeal(id)()
	d, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	if d.Kind != KindSale && d.Kind != KindMultiSale {
		return ErrDealNotActive
	}
	if d.State != StateActive && d.State != StateCollecting {
		return ErrDealNotActive
	}
	if caller != d.Seller {
		return ErrIncorrectSender
	}
	price := cloneBigInt(newPrice)
	if price.Sign() <= 0 {
		return ErrPriceTooLow
	}
	now := e.now()
	floor := now + MinPriceExtension
	if d.ValidUntil > floor {
		floor = d.ValidUntil
	}
	if newValidUntil < floor {
		return ErrIncorrectValidUntil
	}
	if err := e.checkHorizon(d.Assets, newValidUntil); err != nil {
		return err
	}
	d.Price = price
	d.ValidUntil = newValidUntil
	ledger, err := NewPaymentLedger(d.PaymentLeg, price)
	if err != nil {
		return err
	}
	d.Payments = ledger
	e.touch(d)
	if err := e.storeDeal(d); err != nil {
		return err
	}
	e.emit(NewPriceChangedEvent(d))
	return nil
}
