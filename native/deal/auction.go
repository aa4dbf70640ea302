package deal

import (
	"math/big"
)

// PlaceBid processes a bid message. An accepted bid refunds the previous
// bidder exactly their prior bid and may extend the auction when it lands
// inside the trailing anti-snipe window. A bid at or above the buyout ceiling
// clamps to the ceiling and settles the auction immediately.
func (e *Engine) PlaceBid(id [32]byte, bidder [20]byte, amount *big.Int) (*Outcome, error) {
	defer e.lockDeal(id)()
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	if d.Kind != KindAuction && d.Kind != KindMultiAuction {
		return nil, ErrDealNotActive
	}
	if d.State != StateActive {
		return nil, ErrDealNotActive
	}
	terms := d.Auction
	now := e.now()
	if now < terms.StartTime || now >= terms.EndTime {
		return nil, ErrDealNotActive
	}
	if terms.Deferred {
		terms.Deferred = false
	}
	bid := cloneBigInt(amount)
	floor := cloneBigInt(terms.MinBid)
	if terms.LastBid.Sign() > 0 {
		floor = new(big.Int).Mul(terms.LastBid, new(big.Int).SetUint64(terms.MinIncrement))
		floor.Div(floor, big.NewInt(IncrementDivider))
	}
	if bid.Cmp(floor) < 0 {
		return nil, ErrBidTooLow
	}
	buyout := terms.MaxBid.Sign() > 0 && bid.Cmp(terms.MaxBid) >= 0
	if buyout {
		bid = cloneBigInt(terms.MaxBid)
	}

	out := &Outcome{}
	if err := e.takePayment(d, bidder, d.PaymentLeg, bid); err != nil {
		return nil, err
	}
	if terms.LastBid.Sign() > 0 {
		prev := d.Payments.Drain(d.PaymentLeg)
		if prev.Sign() > 0 {
			if err := e.payOut(d, terms.LastBidder, d.PaymentLeg, prev); err != nil {
				return nil, err
			}
			out.addPayment(terms.LastBidder, d.PaymentLeg, prev)
		}
	}
	if err := d.Payments.Record(d.PaymentLeg, bid); err != nil {
		return nil, err
	}
	terms.LastBid = bid
	terms.LastBidder = bidder
	terms.LastBidAt = now
	if !buyout && terms.TimeIncrement > 0 && terms.EndTime-now < terms.TimeIncrement {
		terms.EndTime = now + terms.TimeIncrement
		d.ValidUntil = terms.EndTime
	}
	e.touch(d)

	if buyout {
		if err := e.settleAuction(d, out); err != nil {
			return nil, err
		}
		return out, nil
	}
	if err := e.storeDeal(d); err != nil {
		return nil, err
	}
	e.emit(NewBidPlacedEvent(d))
	return out, nil
}

// FinishAuction finalizes an auction past its end time. The call is
// permissionless: with a standing bid the auction settles, without one the
// assets go back to the seller.
func (e *Engine) FinishAuction(id [32]byte) (*Outcome, error) {
	defer e.lockDeal(id)()
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	return e.finishAuction(d)
}

func (e *Engine) finishAuction(d *Deal) (*Outcome, error) {
	if d.Kind != KindAuction && d.Kind != KindMultiAuction {
		return nil, ErrDealNotActive
	}
	if d.State.Terminal() {
		return nil, ErrDealNotActive
	}
	terms := d.Auction
	if e.now() < terms.EndTime {
		return nil, ErrDealNotActive
	}
	out := &Outcome{}
	if d.State == StateActive && terms.LastBid.Sign() > 0 {
		if err := e.settleAuction(d, out); err != nil {
			return nil, err
		}
		return out, nil
	}
	// No bid, or the declared asset set never completed: unwind.
	unwound, err := e.unwind(d)
	if err != nil {
		return nil, err
	}
	out.Refunds = append(out.Refunds, unwound.Refunds...)
	if err := e.cancelDeal(d); err != nil {
		return nil, err
	}
	return out, nil
}

// settleAuction pays the seller, routes the commission, and hands the assets
// to the winning bidder.
func (e *Engine) settleAuction(d *Deal, out *Outcome) error {
	terms := d.Auction
	price := d.Payments.Drain(d.PaymentLeg)
	commission, err := e.disburseProceeds(d, d.Seller, d.PaymentLeg, price)
	if err != nil {
		return err
	}
	d.Buyer = terms.LastBidder
	d.Price = cloneBigInt(terms.LastBid)
	if err := e.releaseAllHeld(d.Assets, terms.LastBidder, false, out); err != nil {
		return err
	}
	if err := e.completeDeal(d); err != nil {
		return err
	}
	e.emit(NewCommissionPaidEvent(d, commission))
	return nil
}
