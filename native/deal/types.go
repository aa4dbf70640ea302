package deal

import (
	"fmt"
	"math/big"
)

// Kind selects the transition behaviour of a deal instance. Multi variants
// escrow several naming assets and collect them before going active.
type Kind uint8

const (
	KindSale Kind = iota + 1
	KindMultiSale
	KindAuction
	KindMultiAuction
	KindOffer
	KindMultiOffer
	KindSwap
)

// Valid reports whether the kind value is supported.
func (k Kind) Valid() bool {
	switch k {
	case KindSale, KindMultiSale, KindAuction, KindMultiAuction, KindOffer, KindMultiOffer, KindSwap:
		return true
	default:
		return false
	}
}

// Multi reports whether the kind escrows more than one asset on a side.
func (k Kind) Multi() bool {
	switch k {
	case KindMultiSale, KindMultiAuction, KindMultiOffer, KindSwap:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	switch k {
	case KindSale:
		return "sale"
	case KindMultiSale:
		return "multi_sale"
	case KindAuction:
		return "auction"
	case KindMultiAuction:
		return "multi_auction"
	case KindOffer:
		return "offer"
	case KindMultiOffer:
		return "multi_offer"
	case KindSwap:
		return "swap"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// State represents the lifecycle phase of a deal instance. Transitions are
// monotonic: a deal that reached StateCompleted or StateCancelled never leaves
// it.
type State uint8

const (
	StateUninitialized State = iota
	StateCollecting
	StateActive
	StateWaitingLeft
	StateWaitingRight
	StateCompleted
	StateCancelled
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Valid reports whether the state value is within the supported range.
func (s State) Valid() bool {
	return s <= StateCancelled
}

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCollecting:
		return "collecting"
	case StateActive:
		return "active"
	case StateWaitingLeft:
		return "waiting_left"
	case StateWaitingRight:
		return "waiting_right"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Leg identifies which transfer protocol a payment travels on.
type Leg uint8

const (
	LegCoin Leg = iota + 1
	LegToken
)

// Valid reports whether the leg value is supported.
func (l Leg) Valid() bool {
	return l == LegCoin || l == LegToken
}

func (l Leg) String() string {
	switch l {
	case LegCoin:
		return "coin"
	case LegToken:
		return "token"
	default:
		return fmt.Sprintf("leg(%d)", uint8(l))
	}
}

// AuctionTerms carries the bid parameters and running bid record for auction
// kinds. EndTime may be pushed forward by a bid landing inside the trailing
// TimeIncrement window.
type AuctionTerms struct {
	MinBid        *big.Int
	MaxBid        *big.Int
	MinIncrement  uint64
	TimeIncrement int64
	StartTime     int64
	EndTime       int64
	Deferred      bool
	LastBid       *big.Int
	LastBidder    [20]byte
	LastBidAt     int64
}

// Clone returns a deep copy of the auction terms.
func (a *AuctionTerms) Clone() *AuctionTerms {
	if a == nil {
		return nil
	}
	clone := *a
	clone.MinBid = cloneBigInt(a.MinBid)
	clone.MaxBid = cloneBigInt(a.MaxBid)
	if a.LastBid != nil {
		clone.LastBid = new(big.Int).Set(a.LastBid)
	}
	return &clone
}

// OfferTerms carries the negotiation record for offer kinds. SellerPrice is
// the outstanding counter-proposal, zero when none is pending.
type OfferTerms struct {
	SellerPrice    *big.Int
	CancelCooldown int64
}

// Clone returns a deep copy of the offer terms.
func (o *OfferTerms) Clone() *OfferTerms {
	if o == nil {
		return nil
	}
	clone := *o
	clone.SellerPrice = cloneBigInt(o.SellerPrice)
	return &clone
}

// SwapSide tracks one participant's declared and received contribution to a
// two-party swap.
type SwapSide struct {
	Owner               [20]byte
	Assets              *AssetLedger
	Leg                 Leg
	PaymentExpected     *big.Int
	PaymentReceived     *big.Int
	FirstContributionAt int64
}

// Complete reports whether the side has contributed everything it declared.
func (s *SwapSide) Complete() bool {
	if s == nil {
		return false
	}
	if s.Assets != nil && !s.Assets.Complete() {
		return false
	}
	expected := cloneBigInt(s.PaymentExpected)
	received := cloneBigInt(s.PaymentReceived)
	return received.Cmp(expected) >= 0
}

// Clone returns a deep copy of the swap side.
func (s *SwapSide) Clone() *SwapSide {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Assets = s.Assets.Clone()
	clone.PaymentExpected = cloneBigInt(s.PaymentExpected)
	clone.PaymentReceived = cloneBigInt(s.PaymentReceived)
	return &clone
}

// SwapTerms holds both sides of a two-party swap.
type SwapTerms struct {
	Left  *SwapSide
	Right *SwapSide
}

// Clone returns a deep copy of the swap terms.
func (s *SwapTerms) Clone() *SwapTerms {
	if s == nil {
		return nil
	}
	return &SwapTerms{Left: s.Left.Clone(), Right: s.Right.Clone()}
}

// Deal captures the full persisted record of a single deal instance. The
// totals are fixed at creation; the record is mutated exclusively by engine
// transitions and frozen once terminal.
type Deal struct {
	ID               [32]byte
	Kind             Kind
	State            State
	Seller           [20]byte
	Buyer            [20]byte
	PaymentLeg       Leg
	Price            *big.Int
	CreatedAt        int64
	ValidUntil       int64
	LastActionAt     int64
	CommissionFactor uint64
	MaxCommission    *big.Int
	DiscountFactor   uint64

	Assets   *AssetLedger
	Payments *PaymentLedger

	Auction *AuctionTerms
	Offer   *OfferTerms
	Swap    *SwapTerms
}

// Clone returns a deep copy of the deal so callers can safely mutate the copy
// without affecting the stored instance.
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Price = cloneBigInt(d.Price)
	clone.MaxCommission = cloneBigInt(d.MaxCommission)
	clone.Assets = d.Assets.Clone()
	clone.Payments = d.Payments.Clone()
	clone.Auction = d.Auction.Clone()
	clone.Offer = d.Offer.Clone()
	clone.Swap = d.Swap.Clone()
	return &clone
}

// Sanitize validates the supplied deal record and returns a cloned instance
// with non-nil amounts. The original value is not mutated.
func Sanitize(d *Deal) (*Deal, error) {
	if d == nil {
		return nil, fmt.Errorf("deal: nil deal")
	}
	clone := d.Clone()
	if !clone.Kind.Valid() {
		return nil, fmt.Errorf("deal: invalid kind %d", clone.Kind)
	}
	if !clone.State.Valid() {
		return nil, fmt.Errorf("deal: invalid state %d", clone.State)
	}
	if clone.Kind != KindSwap && !clone.PaymentLeg.Valid() {
		return nil, fmt.Errorf("deal: invalid payment leg %d", clone.PaymentLeg)
	}
	if clone.Price.Sign() < 0 {
		return nil, fmt.Errorf("deal: price must be non-negative")
	}
	if clone.MaxCommission.Sign() < 0 {
		return nil, fmt.Errorf("deal: commission cap must be non-negative")
	}
	if clone.CommissionFactor > FactorDivider {
		return nil, fmt.Errorf("deal: commission factor out of range: %d", clone.CommissionFactor)
	}
	if clone.DiscountFactor > FactorDivider {
		return nil, fmt.Errorf("deal: discount factor out of range: %d", clone.DiscountFactor)
	}
	switch clone.Kind {
	case KindAuction, KindMultiAuction:
		if clone.Auction == nil {
			return nil, fmt.Errorf("deal: auction terms missing")
		}
	case KindOffer, KindMultiOffer:
		if clone.Offer == nil {
			return nil, fmt.Errorf("deal: offer terms missing")
		}
	case KindSwap:
		if clone.Swap == nil || clone.Swap.Left == nil || clone.Swap.Right == nil {
			return nil, fmt.Errorf("deal: swap terms missing")
		}
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
