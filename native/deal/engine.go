package deal

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"namedeal/core/events"
	"namedeal/core/types"
	nativecommon "namedeal/native/common"
	"namedeal/observability/metrics"
)

const dealModuleName = "deal"

// Engine-wide timing and reward constants. The cancellation cooldowns are
// deliberately different between the single and multi offer kinds.
const (
	MinPriceExtension        int64 = 600
	AssetMaxLifetime         int64 = 365 * 24 * 3600
	ExpirySafetyMargin       int64 = 600
	OfferCancelCooldown      int64 = 600
	MultiOfferCancelCooldown int64 = 3600
	SwapCancelCooldown       int64 = 3600
	IncrementDivider         int64 = 1000
)

// DeclineReward is the fixed payment a seller earns for explicitly declining
// an offer, taken out of the buyer's escrowed funds.
var DeclineReward = big.NewInt(50_000_000)

var (
	errNilState    = errors.New("deal engine: state not configured")
	errNilTreasury = errors.New("deal engine: treasury not configured")
)

// engineState is the persistence boundary of the engine. Implementations must
// apply each call atomically; the engine performs one store round-trip per
// transition step and re-reads state on every message entry.
type engineState interface {
	DealPut(*Deal) error
	DealGet(id [32]byte) (*Deal, bool)
	DealCredit(id [32]byte, leg Leg, amount *big.Int) error
	DealDebit(id [32]byte, leg Leg, amount *big.Int) error
	DealBalance(id [32]byte, leg Leg) (*big.Int, error)
	DealVaultAddress(leg Leg) ([20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	AssetOwner(assetID string) ([20]byte, bool, error)
	SetAssetOwner(assetID string, owner [20]byte) error
	AssetLastRenewal(assetID string) (int64, error)
	SetAssetLastRenewal(assetID string, ts int64) error
}

type dealEvent struct {
	evt *types.Event
}

func (e dealEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// Event exposes the structured payload to subscribers.
func (e dealEvent) Event() *types.Event { return e.evt }

// Engine drives every deal kind through its state machine. It owns no state
// of its own beyond configuration: all custody lives behind the engineState
// interface so each inbound message is one atomic transition against fresh
// state.
type Engine struct {
	state         engineState
	emitter       events.Emitter
	treasury      [20]byte
	voucherSigner [20]byte
	nowFn         func() int64
	pauses        nativecommon.PauseView
	telemetry     *metrics.DealMetrics
	locks         sync.Map
}

// NewEngine creates a deal engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
		telemetry: metrics.Deal(),
	}
}

// lockDeal serializes transitions on a single deal. Callers hold the lock for
// the whole load-check-mutate-store span so every message observes the state
// the previous one left behind. The returned func releases the lock.
func (e *Engine) lockDeal(id [32]byte) func() {
	if e == nil {
		return func() {}
	}
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTreasury configures the address that receives commissions.
func (e *Engine) SetTreasury(addr [20]byte) { e.treasury = addr }

// SetVoucherSigner configures the address whose signature authorises discount
// vouchers.
func (e *Engine) SetVoucherSigner(addr [20]byte) { e.voucherSigner = addr }

// SetPauses configures the operator pause view consulted at deal creation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(dealEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Get returns a copy of the stored deal record. Read-only: callers can
// reconstruct the full deal view without side effects.
func (e *Engine) Get(id [32]byte) (*Deal, error) {
	return e.loadDeal(id)
}

func (e *Engine) loadDeal(id [32]byte) (*Deal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	d, ok := e.state.DealGet(id)
	if !ok {
		return nil, ErrDealNotFound
	}
	return Sanitize(d)
}

func (e *Engine) storeDeal(d *Deal) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.DealPut(d)
}

func (e *Engine) ensureTreasuryConfigured() error {
	if e == nil {
		return errNilTreasury
	}
	if e.treasury == ([20]byte{}) {
		return errNilTreasury
	}
	return nil
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{BalanceCoin: big.NewInt(0), BalanceToken: big.NewInt(0)}
	}
	if acc.BalanceCoin == nil {
		acc.BalanceCoin = big.NewInt(0)
	}
	if acc.BalanceToken == nil {
		acc.BalanceToken = big.NewInt(0)
	}
	return acc
}

func (e *Engine) transferValue(from, to [20]byte, leg Leg, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("deal: negative transfer amount")
	}
	if !leg.Valid() {
		return fmt.Errorf("deal: invalid payment leg %d", leg)
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	switch leg {
	case LegCoin:
		if fromAcc.BalanceCoin.Cmp(amt) < 0 {
			return ErrInsufficientPayment
		}
		fromAcc.BalanceCoin = new(big.Int).Sub(fromAcc.BalanceCoin, amt)
		toAcc.BalanceCoin = new(big.Int).Add(toAcc.BalanceCoin, amt)
	case LegToken:
		if fromAcc.BalanceToken.Cmp(amt) < 0 {
			return ErrInsufficientPayment
		}
		fromAcc.BalanceToken = new(big.Int).Sub(fromAcc.BalanceToken, amt)
		toAcc.BalanceToken = new(big.Int).Add(toAcc.BalanceToken, amt)
	}
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// takePayment pulls value from the sender into the deal vault and credits the
// deal's escrow balance. Nothing moves when the sender cannot cover the
// amount, which keeps rejections bounce-free by construction.
func (e *Engine) takePayment(d *Deal, from [20]byte, leg Leg, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("deal: payment must be positive")
	}
	vault, err := e.state.DealVaultAddress(leg)
	if err != nil {
		return err
	}
	if err := e.transferValue(from, vault, leg, amt); err != nil {
		return err
	}
	return e.state.DealCredit(d.ID, leg, amt)
}

// payOut releases escrowed value from the deal vault to the recipient and
// debits the deal's escrow balance.
func (e *Engine) payOut(d *Deal, to [20]byte, leg Leg, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	vault, err := e.state.DealVaultAddress(leg)
	if err != nil {
		return err
	}
	if err := e.state.DealDebit(d.ID, leg, amt); err != nil {
		return err
	}
	return e.transferValue(vault, to, leg, amt)
}

// takeAssetCustody moves ownership of the asset from the sender to the deal
// vault. The sender must be the current owner; otherwise nothing changes and
// the arrival is rejected.
func (e *Engine) takeAssetCustody(assetID string, from [20]byte) error {
	owner, ok, err := e.state.AssetOwner(assetID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownAsset
	}
	if owner != from {
		return ErrIncorrectSender
	}
	vault, err := e.state.DealVaultAddress(LegCoin)
	if err != nil {
		return err
	}
	return e.state.SetAssetOwner(assetID, vault)
}

// releaseAsset hands a held asset to the recipient and records the movement
// on the ledger.
func (e *Engine) releaseAsset(ledger *AssetLedger, assetID string, to [20]byte, returned bool) error {
	if err := e.state.SetAssetOwner(assetID, to); err != nil {
		return err
	}
	if returned {
		return ledger.MarkReturned(assetID)
	}
	return ledger.MarkDisbursed(assetID)
}

// releaseAllHeld delivers every held asset on the ledger to the recipient.
func (e *Engine) releaseAllHeld(ledger *AssetLedger, to [20]byte, returned bool, out *Outcome) error {
	for _, id := range ledger.Held() {
		if err := e.releaseAsset(ledger, id, to, returned); err != nil {
			return err
		}
		out.addAsset(to, id)
	}
	return nil
}

// renewalHorizon returns the latest deadline a deal over the given assets may
// carry: the earliest renewal plus the asset lifetime, minus the safety
// margin.
func (e *Engine) renewalHorizon(ledger *AssetLedger) (int64, error) {
	if ledger == nil || ledger.Total() == 0 {
		return 0, fmt.Errorf("deal: no assets declared")
	}
	horizon := int64(0)
	for _, id := range ledger.All() {
		renewed, err := e.state.AssetLastRenewal(id)
		if err != nil {
			return 0, err
		}
		candidate := renewed + AssetMaxLifetime - ExpirySafetyMargin
		if horizon == 0 || candidate < horizon {
			horizon = candidate
		}
	}
	return horizon, nil
}

// disburseProceeds splits a settled price into the seller payout and the
// treasury commission and releases both from escrow.
func (e *Engine) disburseProceeds(d *Deal, seller [20]byte, leg Leg, price *big.Int) (*big.Int, error) {
	if err := e.ensureTreasuryConfigured(); err != nil {
		return nil, err
	}
	commission := ComputeCommission(price, d.CommissionFactor, d.MaxCommission, d.DiscountFactor)
	payout := new(big.Int).Sub(cloneBigInt(price), commission)
	if payout.Sign() < 0 {
		return nil, fmt.Errorf("deal: commission exceeds price")
	}
	if err := e.payOut(d, seller, leg, payout); err != nil {
		return nil, err
	}
	if commission.Sign() > 0 {
		if err := e.payOut(d, e.treasury, leg, commission); err != nil {
			return nil, err
		}
		e.observeCommission(leg, commission)
	}
	return commission, nil
}

func (e *Engine) observeCommission(leg Leg, commission *big.Int) {
	if e == nil || e.telemetry == nil || commission == nil || commission.Sign() <= 0 {
		return
	}
	amt, _ := new(big.Float).SetInt(commission).Float64()
	e.telemetry.ObserveCommission(leg.String(), amt)
}

// RenewAsset pushes the renewal clock of an escrowed asset forward. Anyone
// may trigger it; deal state is unaffected.
func (e *Engine) RenewAsset(id [32]byte, assetID string) error {
	defer e.lockDeal(id)()
	d, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	ledger := d.assetLedgerFor(assetID)
	if ledger == nil || !ledger.Contains(assetID) {
		return ErrUnknownAsset
	}
	if err := e.state.SetAssetLastRenewal(assetID, e.now()); err != nil {
		return err
	}
	e.emit(NewAssetRenewedEvent(d, assetID))
	return nil
}

// assetLedgerFor resolves which ledger tracks the asset; swaps keep one per
// side.
func (d *Deal) assetLedgerFor(assetID string) *AssetLedger {
	if d == nil {
		return nil
	}
	if d.Kind == KindSwap {
		if d.Swap == nil {
			return nil
		}
		if d.Swap.Left != nil && d.Swap.Left.Assets.Contains(assetID) {
			return d.Swap.Left.Assets
		}
		if d.Swap.Right != nil && d.Swap.Right.Assets.Contains(assetID) {
			return d.Swap.Right.Assets
		}
		return nil
	}
	return d.Assets
}

func (e *Engine) touch(d *Deal) {
	d.LastActionAt = e.now()
}
