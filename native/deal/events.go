package deal

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"namedeal/core/types"
)

const (
	EventTypeDealCreated     = "deal.created"
	EventTypeDealActivated   = "deal.activated"
	EventTypeAssetReceived   = "deal.asset_received"
	EventTypePaymentReceived = "deal.payment_received"
	EventTypeBidPlaced       = "deal.bid_placed"
	EventTypePriceChanged    = "deal.price_changed"
	EventTypeCounterOffered  = "deal.counter_offered"
	EventTypeSwapSideReady   = "deal.swap_side_ready"
	EventTypeDeclined        = "deal.declined"
	EventTypeCommissionPaid  = "deal.commission_paid"
	EventTypeAssetRenewed    = "deal.asset_renewed"
	EventTypeDealCompleted   = "deal.completed"
	EventTypeDealCancelled   = "deal.cancelled"
	EventTypeDealExpired     = "deal.expired"
)

// NewCreatedEvent returns the canonical payload for a freshly deployed deal.
func NewCreatedEvent(d *Deal) *types.Event { return newDealEvent(EventTypeDealCreated, d) }

// NewActivatedEvent is emitted when a collecting deal has received every
// declared asset.
func NewActivatedEvent(d *Deal) *types.Event { return newDealEvent(EventTypeDealActivated, d) }

// NewCompletedEvent is emitted when a deal settles successfully.
func NewCompletedEvent(d *Deal) *types.Event { return newDealEvent(EventTypeDealCompleted, d) }

// NewCancelledEvent is emitted when a deal unwinds.
func NewCancelledEvent(d *Deal) *types.Event { return newDealEvent(EventTypeDealCancelled, d) }

// NewExpiredEvent is emitted when the watchdog forces resolution.
func NewExpiredEvent(d *Deal) *types.Event { return newDealEvent(EventTypeDealExpired, d) }

// NewPriceChangedEvent is emitted after a successful price change.
func NewPriceChangedEvent(d *Deal) *types.Event { return newDealEvent(EventTypePriceChanged, d) }

// NewAssetReceivedEvent is emitted when an asset enters custody.
func NewAssetReceivedEvent(d *Deal, assetID string) *types.Event {
	evt := newDealEvent(EventTypeAssetReceived, d)
	evt.Attributes["asset"] = assetID
	return evt
}

// NewAssetRenewedEvent is emitted when an escrowed asset's renewal clock is
// pushed forward.
func NewAssetRenewedEvent(d *Deal, assetID string) *types.Event {
	evt := newDealEvent(EventTypeAssetRenewed, d)
	evt.Attributes["asset"] = assetID
	return evt
}

// NewPaymentReceivedEvent is emitted when a payment contribution lands.
func NewPaymentReceivedEvent(d *Deal, from [20]byte, leg Leg, amount *big.Int) *types.Event {
	evt := newDealEvent(EventTypePaymentReceived, d)
	evt.Attributes["from"] = hex.EncodeToString(from[:])
	evt.Attributes["leg"] = leg.String()
	evt.Attributes["amount"] = cloneBigInt(amount).String()
	return evt
}

// NewBidPlacedEvent is emitted after an accepted bid.
func NewBidPlacedEvent(d *Deal) *types.Event {
	evt := newDealEvent(EventTypeBidPlaced, d)
	if d != nil && d.Auction != nil {
		evt.Attributes["bid"] = cloneBigInt(d.Auction.LastBid).String()
		evt.Attributes["bidder"] = hex.EncodeToString(d.Auction.LastBidder[:])
		evt.Attributes["endTime"] = strconv.FormatInt(d.Auction.EndTime, 10)
	}
	return evt
}

// NewCounterOfferedEvent is emitted when the seller attaches a counter price.
func NewCounterOfferedEvent(d *Deal) *types.Event {
	evt := newDealEvent(EventTypeCounterOffered, d)
	if d != nil && d.Offer != nil {
		evt.Attributes["sellerPrice"] = cloneBigInt(d.Offer.SellerPrice).String()
	}
	return evt
}

// NewSwapSideReadyEvent is emitted when one swap side has fully contributed.
func NewSwapSideReadyEvent(d *Deal, sideName string) *types.Event {
	evt := newDealEvent(EventTypeSwapSideReady, d)
	evt.Attributes["side"] = sideName
	return evt
}

// NewDeclinedEvent is emitted when the seller declines an offer.
func NewDeclinedEvent(d *Deal, reward *big.Int) *types.Event {
	evt := newDealEvent(EventTypeDeclined, d)
	evt.Attributes["reward"] = cloneBigInt(reward).String()
	return evt
}

// NewCommissionPaidEvent is emitted when a commission reaches the treasury.
func NewCommissionPaidEvent(d *Deal, commission *big.Int) *types.Event {
	evt := newDealEvent(EventTypeCommissionPaid, d)
	evt.Attributes["commission"] = cloneBigInt(commission).String()
	return evt
}

func newDealEvent(eventType string, d *Deal) *types.Event {
	attrs := make(map[string]string)
	if d == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(d.ID[:])
	attrs["kind"] = d.Kind.String()
	attrs["state"] = d.State.String()
	attrs["seller"] = hex.EncodeToString(d.Seller[:])
	if d.Buyer != ([20]byte{}) {
		attrs["buyer"] = hex.EncodeToString(d.Buyer[:])
	}
	attrs["price"] = cloneBigInt(d.Price).String()
	attrs["validUntil"] = strconv.FormatInt(d.ValidUntil, 10)
	attrs["createdAt"] = strconv.FormatInt(d.CreatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
