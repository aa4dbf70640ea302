package deal

import (
	"fmt"
	"math/big"
	"sort"
)

// AssetStatus tracks where a declared asset currently sits relative to the
// deal's custody.
type AssetStatus uint8

const (
	AssetPending AssetStatus = iota
	AssetHeld
	AssetDisbursed
	AssetReturned
)

// AssetLedger records, for each declared asset, whether it has arrived and
// where it went. The declared set is fixed at creation; arrivals outside the
// set are rejected so the asset can be bounced back to its sender.
type AssetLedger struct {
	Entries map[string]AssetStatus
}

// NewAssetLedger builds a ledger over the declared asset identifiers.
func NewAssetLedger(ids []string) (*AssetLedger, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("deal: at least one asset required")
	}
	entries := make(map[string]AssetStatus, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("deal: empty asset identifier")
		}
		if _, ok := entries[id]; ok {
			return nil, fmt.Errorf("deal: duplicate asset %s", id)
		}
		entries[id] = AssetPending
	}
	return &AssetLedger{Entries: entries}, nil
}

// Clone returns a deep copy of the ledger.
func (l *AssetLedger) Clone() *AssetLedger {
	if l == nil {
		return nil
	}
	entries := make(map[string]AssetStatus, len(l.Entries))
	for id, st := range l.Entries {
		entries[id] = st
	}
	return &AssetLedger{Entries: entries}
}

// Receive marks the asset as held. It rejects assets outside the declared set
// and double arrivals, leaving the ledger untouched in both cases.
func (l *AssetLedger) Receive(id string) error {
	if l == nil {
		return ErrUnknownAsset
	}
	status, ok := l.Entries[id]
	if !ok {
		return ErrUnknownAsset
	}
	if status != AssetPending {
		return ErrAssetAlreadyHeld
	}
	l.Entries[id] = AssetHeld
	return nil
}

// MarkDisbursed records that a held asset was delivered to its new owner.
func (l *AssetLedger) MarkDisbursed(id string) error {
	return l.mark(id, AssetDisbursed)
}

// MarkReturned records that a held asset was handed back to its original
// owner.
func (l *AssetLedger) MarkReturned(id string) error {
	return l.mark(id, AssetReturned)
}

func (l *AssetLedger) mark(id string, status AssetStatus) error {
	if l == nil {
		return ErrUnknownAsset
	}
	current, ok := l.Entries[id]
	if !ok {
		return ErrUnknownAsset
	}
	if current != AssetHeld {
		return fmt.Errorf("deal: asset %s not in custody", id)
	}
	l.Entries[id] = status
	return nil
}

// Held returns the identifiers currently in custody in deterministic order.
func (l *AssetLedger) Held() []string {
	if l == nil {
		return nil
	}
	held := make([]string, 0, len(l.Entries))
	for id, st := range l.Entries {
		if st == AssetHeld {
			held = append(held, id)
		}
	}
	sort.Strings(held)
	return held
}

// All returns every declared identifier in deterministic order.
func (l *AssetLedger) All() []string {
	if l == nil {
		return nil
	}
	ids := make([]string, 0, len(l.Entries))
	for id := range l.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Contains reports whether the identifier is part of the declared set.
func (l *AssetLedger) Contains(id string) bool {
	if l == nil {
		return false
	}
	_, ok := l.Entries[id]
	return ok
}

// HeldCount returns the number of assets currently in custody.
func (l *AssetLedger) HeldCount() int {
	if l == nil {
		return 0
	}
	count := 0
	for _, st := range l.Entries {
		if st == AssetHeld {
			count++
		}
	}
	return count
}

// Total returns the declared asset count.
func (l *AssetLedger) Total() int {
	if l == nil {
		return 0
	}
	return len(l.Entries)
}

// Complete reports whether every declared asset is in custody.
func (l *AssetLedger) Complete() bool {
	if l == nil {
		return false
	}
	for _, st := range l.Entries {
		if st != AssetHeld {
			return false
		}
	}
	return true
}

// PaymentLedger tracks received against expected value per transfer leg.
// Coin and token totals are kept apart because they settle through different
// protocols and must never be mixed.
type PaymentLedger struct {
	CoinExpected  *big.Int
	CoinReceived  *big.Int
	TokenExpected *big.Int
	TokenReceived *big.Int
}

// NewPaymentLedger builds a ledger expecting the given amount on one leg.
func NewPaymentLedger(leg Leg, expected *big.Int) (*PaymentLedger, error) {
	if !leg.Valid() {
		return nil, fmt.Errorf("deal: invalid payment leg %d", leg)
	}
	ledger := &PaymentLedger{
		CoinExpected:  big.NewInt(0),
		CoinReceived:  big.NewInt(0),
		TokenExpected: big.NewInt(0),
		TokenReceived: big.NewInt(0),
	}
	amt := cloneBigInt(expected)
	if amt.Sign() < 0 {
		return nil, fmt.Errorf("deal: expected payment must be non-negative")
	}
	switch leg {
	case LegCoin:
		ledger.CoinExpected = amt
	case LegToken:
		ledger.TokenExpected = amt
	}
	return ledger, nil
}

// Clone returns a deep copy of the ledger.
func (p *PaymentLedger) Clone() *PaymentLedger {
	if p == nil {
		return nil
	}
	return &PaymentLedger{
		CoinExpected:  cloneBigInt(p.CoinExpected),
		CoinReceived:  cloneBigInt(p.CoinReceived),
		TokenExpected: cloneBigInt(p.TokenExpected),
		TokenReceived: cloneBigInt(p.TokenReceived),
	}
}

// Record adds a received amount to the given leg.
func (p *PaymentLedger) Record(leg Leg, amount *big.Int) error {
	if p == nil {
		return fmt.Errorf("deal: nil payment ledger")
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("deal: payment must be positive")
	}
	switch leg {
	case LegCoin:
		p.CoinReceived = new(big.Int).Add(cloneBigInt(p.CoinReceived), amt)
	case LegToken:
		p.TokenReceived = new(big.Int).Add(cloneBigInt(p.TokenReceived), amt)
	default:
		return fmt.Errorf("deal: invalid payment leg %d", leg)
	}
	return nil
}

// Drain zeroes the received counter on the given leg and returns the drained
// amount. Settlement and unwind paths use it so terminal deals never report a
// residual balance.
func (p *PaymentLedger) Drain(leg Leg) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	switch leg {
	case LegCoin:
		drained := cloneBigInt(p.CoinReceived)
		p.CoinReceived = big.NewInt(0)
		return drained
	case LegToken:
		drained := cloneBigInt(p.TokenReceived)
		p.TokenReceived = big.NewInt(0)
		return drained
	default:
		return big.NewInt(0)
	}
}

// Received returns the received amount on the given leg.
func (p *PaymentLedger) Received(leg Leg) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	switch leg {
	case LegCoin:
		return cloneBigInt(p.CoinReceived)
	case LegToken:
		return cloneBigInt(p.TokenReceived)
	default:
		return big.NewInt(0)
	}
}

// Expected returns the expected amount on the given leg.
func (p *PaymentLedger) Expected(leg Leg) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	switch leg {
	case LegCoin:
		return cloneBigInt(p.CoinExpected)
	case LegToken:
		return cloneBigInt(p.TokenExpected)
	default:
		return big.NewInt(0)
	}
}

// Satisfied reports whether every leg with a declared expectation has received
// at least that much.
func (p *PaymentLedger) Satisfied() bool {
	if p == nil {
		return false
	}
	if cloneBigInt(p.CoinReceived).Cmp(cloneBigInt(p.CoinExpected)) < 0 {
		return false
	}
	if cloneBigInt(p.TokenReceived).Cmp(cloneBigInt(p.TokenExpected)) < 0 {
		return false
	}
	return true
}

// Refund describes a single restitution owed to a party: either a payment on
// a leg or the return of a held asset. Rejection and unwind paths report the
// restitutions they performed so callers never have to rely on implicit
// bounce semantics.
type Refund struct {
	To      [20]byte
	Leg     Leg
	Amount  *big.Int
	AssetID string
}

// Outcome summarises the side effects of applying a transition: payouts made,
// refunds issued, and assets delivered.
type Outcome struct {
	Refunds []Refund
}

func (o *Outcome) addPayment(to [20]byte, leg Leg, amount *big.Int) {
	if o == nil || amount == nil || amount.Sign() == 0 {
		return
	}
	o.Refunds = append(o.Refunds, Refund{To: to, Leg: leg, Amount: new(big.Int).Set(amount)})
}

func (o *Outcome) addAsset(to [20]byte, assetID string) {
	if o == nil || assetID == "" {
		return
	}
	o.Refunds = append(o.Refunds, Refund{To: to, AssetID: assetID})
}
