package deal

import (
	"math/big"
)

// collectingSide resolves which swap side is currently allowed to contribute.
func (d *Deal) collectingSide() *SwapSide {
	switch d.State {
	case StateWaitingLeft:
		return d.Swap.Left
	case StateWaitingRight:
		return d.Swap.Right
	default:
		return nil
	}
}

func (d *Deal) counterparty(side *SwapSide) *SwapSide {
	if side == d.Swap.Left {
		return d.Swap.Right
	}
	return d.Swap.Left
}

// handleSwapAsset accepts a declared asset from the side whose turn it is to
// contribute. Anything else bounces.
func (e *Engine) handleSwapAsset(d *Deal, assetID string, from [20]byte) (*Outcome, error) {
	side := d.collectingSide()
	if side == nil {
		return nil, ErrDealNotActive
	}
	if e.now() > d.ValidUntil {
		return nil, ErrDealNotActive
	}
	if from != side.Owner {
		return nil, ErrIncorrectSender
	}
	if side.Assets == nil || !side.Assets.Contains(assetID) {
		return nil, ErrUnknownAsset
	}
	if err := e.takeAssetCustody(assetID, from); err != nil {
		return nil, err
	}
	if err := side.Assets.Receive(assetID); err != nil {
		return nil, err
	}
	if side.FirstContributionAt == 0 {
		side.FirstContributionAt = e.now()
	}
	e.emit(NewAssetReceivedEvent(d, assetID))
	return e.advanceSwap(d)
}

// handleSwapPayment accepts a payment contribution from the collecting side.
// Overshoot stays in escrow and flows back to the contributor at settlement
// or unwind.
func (e *Engine) handleSwapPayment(d *Deal, from [20]byte, leg Leg, amount *big.Int) (*Outcome, error) {
	side := d.collectingSide()
	if side == nil {
		return nil, ErrDealNotActive
	}
	if e.now() > d.ValidUntil {
		return nil, ErrDealNotActive
	}
	if from != side.Owner {
		return nil, ErrIncorrectSender
	}
	if leg != side.Leg || side.PaymentExpected.Sign() == 0 {
		return nil, ErrInsufficientValue
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, ErrInsufficientValue
	}
	if err := e.takePayment(d, from, leg, amt); err != nil {
		return nil, err
	}
	side.PaymentReceived = new(big.Int).Add(side.PaymentReceived, amt)
	if side.FirstContributionAt == 0 {
		side.FirstContributionAt = e.now()
	}
	e.emit(NewPaymentReceivedEvent(d, from, leg, amt))
	return e.advanceSwap(d)
}

// advanceSwap re-evaluates the collection phase after a contribution: a
// completed left side hands the turn to the right side, a completed right
// side triggers settlement.
func (e *Engine) advanceSwap(d *Deal) (*Outcome, error) {
	out := &Outcome{}
	if d.State == StateWaitingLeft && d.Swap.Left.Complete() {
		d.State = StateWaitingRight
		e.touch(d)
		if err := e.storeDeal(d); err != nil {
			return nil, err
		}
		e.emit(NewSwapSideReadyEvent(d, "left"))
		return out, nil
	}
	if d.State == StateWaitingRight && d.Swap.Right.Complete() {
		if err := e.settleSwap(d, out); err != nil {
			return nil, err
		}
		return out, nil
	}
	e.touch(d)
	if err := e.storeDeal(d); err != nil {
		return nil, err
	}
	return out, nil
}

// settleSwap performs the all-or-nothing exchange: every asset crosses to the
// other owner, expected payments net out minus commission, overshoot returns
// to its contributor.
func (e *Engine) settleSwap(d *Deal, out *Outcome) error {
	if err := e.settleSwapPayments(d, d.Swap.Left, d.Swap.Right.Owner, out); err != nil {
		return err
	}
	if err := e.settleSwapPayments(d, d.Swap.Right, d.Swap.Left.Owner, out); err != nil {
		return err
	}
	if d.Swap.Left.Assets != nil {
		if err := e.releaseAllHeld(d.Swap.Left.Assets, d.Swap.Right.Owner, false, out); err != nil {
			return err
		}
	}
	if d.Swap.Right.Assets != nil {
		if err := e.releaseAllHeld(d.Swap.Right.Assets, d.Swap.Left.Owner, false, out); err != nil {
			return err
		}
	}
	return e.completeDeal(d)
}

func (e *Engine) settleSwapPayments(d *Deal, side *SwapSide, recipient [20]byte, out *Outcome) error {
	received := cloneBigInt(side.PaymentReceived)
	if received.Sign() == 0 {
		return nil
	}
	expected := cloneBigInt(side.PaymentExpected)
	overshoot := new(big.Int).Sub(received, expected)
	if overshoot.Sign() > 0 {
		if err := e.payOut(d, side.Owner, side.Leg, overshoot); err != nil {
			return err
		}
		out.addPayment(side.Owner, side.Leg, overshoot)
	}
	commission := ComputeCommission(expected, d.CommissionFactor, d.MaxCommission, d.DiscountFactor)
	payout := new(big.Int).Sub(expected, commission)
	if payout.Sign() > 0 {
		if err := e.payOut(d, recipient, side.Leg, payout); err != nil {
			return err
		}
	}
	if commission.Sign() > 0 {
		if err := e.ensureTreasuryConfigured(); err != nil {
			return err
		}
		if err := e.payOut(d, e.treasury, side.Leg, commission); err != nil {
			return err
		}
		e.observeCommission(side.Leg, commission)
		e.emit(NewCommissionPaidEvent(d, commission))
	}
	side.PaymentReceived = big.NewInt(0)
	return nil
}

// unwindSwapSide returns a side's held assets and escrowed payment to its
// owner.
func (e *Engine) unwindSwapSide(d *Deal, side *SwapSide, out *Outcome) error {
	if side == nil {
		return nil
	}
	if side.Assets != nil {
		if err := e.releaseAllHeld(side.Assets, side.Owner, true, out); err != nil {
			return err
		}
	}
	received := cloneBigInt(side.PaymentReceived)
	if received.Sign() > 0 {
		if err := e.payOut(d, side.Owner, side.Leg, received); err != nil {
			return err
		}
		out.addPayment(side.Owner, side.Leg, received)
		side.PaymentReceived = big.NewInt(0)
	}
	return nil
}

// CancelSwap lets either participant abandon an incomplete swap. Once the
// counterparty has started contributing, a cooldown protects them from being
// griefed mid-funding.
func (e *Engine) CancelSwap(id [32]byte, caller [20]byte) (*Outcome, error) {
	defer e.lockDeal(id)()
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	if d.Kind != KindSwap {
		return nil, ErrDealNotActive
	}
	if d.State.Terminal() {
		return nil, ErrDealNotActive
	}
	var side *SwapSide
	switch caller {
	case d.Swap.Left.Owner:
		side = d.Swap.Left
	case d.Swap.Right.Owner:
		side = d.Swap.Right
	default:
		return nil, ErrIncorrectSender
	}
	other := d.counterparty(side)
	if other.FirstContributionAt > 0 && e.now() < other.FirstContributionAt+SwapCancelCooldown {
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
