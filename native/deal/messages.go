package deal

import (
	"math/big"
)

// TransferPayload is the opaque forward payload carried by an asset transfer
// notification. Offer negotiation uses it to attach a counter-proposal; an
// empty payload on an offer means plain acceptance.
type TransferPayload struct {
	CounterPrice *big.Int
}

// HandleAssetArrival processes an asset-transfer-with-notification message.
// The transition is checked against fresh state; on any rejection the asset
// stays with the sender and the returned error names the cause.
func (e *Engine) HandleAssetArrival(id [32]byte, assetID string, from [20]byte, payload *TransferPayload) (*Outcome, error) {
	defer e.lockDeal(id)()
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	if d.State.Terminal() {
		return nil, ErrDealNotActive
	}
	switch d.Kind {
	case KindSale, KindMultiSale, KindAuction, KindMultiAuction:
		return e.handleCollectingAsset(d, assetID, from)
	case KindOffer, KindMultiOffer:
		return e.handleOfferAsset(d, assetID, from, payload)
	case KindSwap:
		return e.handleSwapAsset(d, assetID, from)
	default:
		return nil, ErrDealNotActive
	}
}

// handleCollectingAsset accepts seller assets while a multi sale or auction
// is still collecting its declared set. Once the set is complete the deal
// goes active.
func (e *Engine) handleCollectingAsset(d *Deal, assetID string, from [20]byte) (*Outcome, error) {
	if d.State != StateCollecting {
		return nil, ErrDealNotActive
	}
	if from != d.Seller {
		return nil, ErrIncorrectSender
	}
	if !d.Assets.Contains(assetID) {
		return nil, ErrUnknownAsset
	}
	if err := e.takeAssetCustody(assetID, from); err != nil {
		return nil, err
	}
	if err := d.Assets.Receive(assetID); err != nil {
		return nil, err
	}
	out := &Outcome{}
	if d.Assets.Complete() {
		d.State = StateActive
	}
	e.touch(d)
	if err := e.storeDeal(d); err != nil {
		return nil, err
	}
	e.emit(NewAssetReceivedEvent(d, assetID))
	if d.State == StateActive {
		e.emit(NewActivatedEvent(d))
	}
	return out, nil
}

// HandlePayment processes a fungible-token or native-coin transfer
// notification addressed to a deal. Only swaps accept free-standing payment
// contributions; other kinds settle value inside their command transitions.
func (e *Engine) HandlePayment(id [32]byte, from [20]byte, leg Leg, amount *big.Int) (*Outcome, error) {
	defer e.lockDeal(id)()
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	if d.State.Terminal() {
		return nil, ErrDealNotActive
	}
	if d.Kind != KindSwap {
		return nil, ErrDealNotActive
	}
	return e.handleSwapPayment(d, from, leg, amount)
}

// AssetAboutToExpire reacts to an unsolicited expiry warning from the naming
// registry by forcing the deal to resolve before the asset lapses.
func (e *Engine) AssetAboutToExpire(id [32]byte, assetID string) (*Outcome, error) {
	defer e.lockDeal(id)()
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	if d.State.Terminal() {
		return &Outcome{}, nil
	}
	ledger := d.assetLedgerFor(assetID)
	if ledger == nil || !ledger.Contains(assetID) {
		return nil, ErrUnknownAsset
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

// unwind returns every held asset and escrowed payment to its original owner.
// It is the shared tail of cancellation, expiry, and forced resolution.
func (e *Engine) unwind(d *Deal) (*Outcome, error) {
	out := &Outcome{}
	switch d.Kind {
	case KindSale, KindMultiSale:
		if err := e.releaseAllHeld(d.Assets, d.Seller, true, out); err != nil {
			return nil, err
		}
	case KindAuction, KindMultiAuction:
		if err := e.releaseAllHeld(d.Assets, d.Seller, true, out); err != nil {
			return nil, err
		}
		if d.Auction != nil && d.Auction.LastBid != nil && d.Auction.LastBid.Sign() > 0 {
			refund := d.Payments.Drain(d.PaymentLeg)
			if refund.Sign() > 0 {
				if err := e.payOut(d, d.Auction.LastBidder, d.PaymentLeg, refund); err != nil {
					return nil, err
				}
				out.addPayment(d.Auction.LastBidder, d.PaymentLeg, refund)
			}
		}
	case KindOffer, KindMultiOffer:
		if err := e.releaseAllHeld(d.Assets, d.Seller, true, out); err != nil {
			return nil, err
		}
		refund := d.Payments.Drain(d.PaymentLeg)
		if refund.Sign() > 0 {
			if err := e.payOut(d, d.Buyer, d.PaymentLeg, refund); err != nil {
				return nil, err
			}
			out.addPayment(d.Buyer, d.PaymentLeg, refund)
		}
	case KindSwap:
		if err := e.unwindSwapSide(d, d.Swap.Left, out); err != nil {
			return nil, err
		}
		if err := e.unwindSwapSide(d, d.Swap.Right, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Engine) cancelDeal(d *Deal) error {
	d.State = StateCancelled
	e.touch(d)
	if err := e.storeDeal(d); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(d))
	return nil
}

func (e *Engine) completeDeal(d *Deal) error {
	d.State = StateCompleted
	e.touch(d)
	if err := e.storeDeal(d); err != nil {
		return err
	}
	e.emit(NewCompletedEvent(d))
	return nil
}
