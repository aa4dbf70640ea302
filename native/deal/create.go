package deal

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	nativecommon "namedeal/native/common"
)

// CommonParams carries the fields shared by every deploy request. The
// commission fields are a snapshot of the dispatcher schedule; once deployed
// the deal never consults shared configuration again.
type CommonParams struct {
	Initiator        [20]byte
	PaymentLeg       Leg
	ValidUntil       int64
	CommissionFactor uint64
	MaxCommission    *big.Int
	Voucher          *DiscountVoucher
	Nonce            [32]byte
}

// SaleParams describes a fixed-price sale or multi-sale deployment.
type SaleParams struct {
	Common CommonParams
	Assets []string
	Price  *big.Int
}

// AuctionParams describes an auction or multi-auction deployment. StartTime
// zero means the auction opens immediately; a future StartTime deploys the
// auction deferred.
type AuctionParams struct {
	Common        CommonParams
	Assets        []string
	MinBid        *big.Int
	MaxBid        *big.Int
	MinIncrement  uint64
	TimeIncrement int64
	StartTime     int64
	EndTime       int64
}

// OfferParams describes a buyer-initiated offer or multi-offer deployment.
// The price is escrowed from the buyer at creation.
type OfferParams struct {
	Common CommonParams
	Seller [20]byte
	Assets []string
	Price  *big.Int
}

// SwapSideParams declares one participant's contribution to a swap.
type SwapSideParams struct {
	Owner   [20]byte
	Assets  []string
	Leg     Leg
	Payment *big.Int
}

// SwapParams describes a two-party swap deployment.
type SwapParams struct {
	Common CommonParams
	Left   SwapSideParams
	Right  SwapSideParams
}

func dealID(kind Kind, a, b [20]byte, nonce [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash([]byte{byte(kind)}, a[:], b[:], nonce[:])
}

func (e *Engine) applyVoucher(common *CommonParams) (uint64, error) {
	if common.Voucher == nil {
		return 0, nil
	}
	if common.Voucher.Payer != common.Initiator {
		return 0, ErrVoucherSignature
	}
	if err := common.Voucher.Verify(e.voucherSigner, e.now()); err != nil {
		return 0, err
	}
	return common.Voucher.DiscountFactor, nil
}

func (e *Engine) validateCommon(common CommonParams) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !common.PaymentLeg.Valid() {
		return fmt.Errorf("deal: invalid payment leg %d", common.PaymentLeg)
	}
	if common.CommissionFactor > FactorDivider {
		return fmt.Errorf("deal: commission factor out of range: %d", common.CommissionFactor)
	}
	if common.ValidUntil <= e.now() {
		return ErrIncorrectValidUntil
	}
	return nil
}

// checkHorizon rejects deadlines beyond the renewal horizon of the declared
// assets, so a deal can never outlive the assets it escrows. An asset whose
// horizon already lies in the past cannot anchor any deadline at all.
func (e *Engine) checkHorizon(ledger *AssetLedger, validUntil int64) error {
	horizon, err := e.renewalHorizon(ledger)
	if err != nil {
		return err
	}
	if horizon <= e.now() {
		return ErrAssetExpired
	}
	if validUntil > horizon {
		return ErrIncorrectValidUntil
	}
	return nil
}

// existingOrConflict implements idempotent deployment: re-deploying the exact
// same definition returns the stored deal, anything else is a conflict.
func (e *Engine) existingOrConflict(id [32]byte, fresh *Deal) (*Deal, bool, error) {
	stored, ok := e.state.DealGet(id)
	if !ok {
		return nil, false, nil
	}
	sanitized, err := Sanitize(stored)
	if err != nil {
		return nil, false, err
	}
	if sameDefinition(sanitized, fresh) {
		return sanitized, true, nil
	}
	return nil, false, ErrAlreadyDeployed
}

func sameDefinition(a, b *Deal) bool {
	if a.Kind != b.Kind || a.Seller != b.Seller || a.Buyer != b.Buyer {
		return false
	}
	if a.PaymentLeg != b.PaymentLeg || a.ValidUntil != b.ValidUntil {
		return false
	}
	if a.Price.Cmp(b.Price) != 0 || a.CommissionFactor != b.CommissionFactor {
		return false
	}
	if a.MaxCommission.Cmp(b.MaxCommission) != 0 || a.DiscountFactor != b.DiscountFactor {
		return false
	}
	if a.Assets != nil || b.Assets != nil {
		if a.Assets == nil || b.Assets == nil {
			return false
		}
		av, bv := a.Assets.All(), b.Assets.All()
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
	}
	return sameAuctionTerms(a.Auction, b.Auction) && sameOfferTerms(a.Offer, b.Offer)
}

func sameAuctionTerms(a, b *AuctionTerms) bool {
	if a == nil || b == nil {
		return a == b
	}
	if cloneBigInt(a.MinBid).Cmp(cloneBigInt(b.MinBid)) != 0 {
		return false
	}
	if cloneBigInt(a.MaxBid).Cmp(cloneBigInt(b.MaxBid)) != 0 {
		return false
	}
	if a.MinIncrement != b.MinIncrement || a.TimeIncrement != b.TimeIncrement {
		return false
	}
	return a.StartTime == b.StartTime && a.EndTime == b.EndTime
}

func sameOfferTerms(a, b *OfferTerms) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.CancelCooldown == b.CancelCooldown
}

// CreateSale deploys a fixed-price sale. The single-asset variant takes
// custody of the asset immediately and goes active; the multi variant starts
// collecting and activates once every declared asset has arrived.
func (e *Engine) CreateSale(params SaleParams) (*Deal, error) {
	if err := e.validateCommon(params.Common); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, dealModuleName); err != nil {
		return nil, err
	}
	price := cloneBigInt(params.Price)
	if price.Sign() <= 0 {
		return nil, ErrPriceTooLow
	}
	kind := KindSale
	if len(params.Assets) > 1 {
		kind = KindMultiSale
	}
	ledger, err := NewAssetLedger(params.Assets)
	if err != nil {
		return nil, err
	}
	if err := e.checkHorizon(ledger, params.Common.ValidUntil); err != nil {
		return nil, err
	}
	discount, err := e.applyVoucher(&params.Common)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentLedger(params.Common.PaymentLeg, price)
	if err != nil {
		return nil, err
	}
	now := e.now()
	d := &Deal{
		ID:               dealID(kind, params.Common.Initiator, [20]byte{}, params.Common.Nonce),
		Kind:             kind,
		State:            StateCollecting,
		Seller:           params.Common.Initiator,
		PaymentLeg:       params.Common.PaymentLeg,
		Price:            price,
		CreatedAt:        now,
		ValidUntil:       params.Common.ValidUntil,
		LastActionAt:     now,
		CommissionFactor: params.Common.CommissionFactor,
		MaxCommission:    cloneBigInt(params.Common.MaxCommission),
		DiscountFactor:   discount,
		Assets:           ledger,
		Payments:         payments,
	}
	defer e.lockDeal(d.ID)()
	if existing, ok, err := e.existingOrConflict(d.ID, d); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}
	if kind == KindSale {
		assetID := params.Assets[0]
		if err := e.takeAssetCustody(assetID, d.Seller); err != nil {
			return nil, err
		}
		if err := d.Assets.Receive(assetID); err != nil {
			return nil, err
		}
		d.State = StateActive
	}
	if err := e.storeDeal(d); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(d))
	return d.Clone(), nil
}

// CreateAuction deploys an auction or multi-auction.
func (e *Engine) CreateAuction(params AuctionParams) (*Deal, error) {
	if err := e.validateCommon(params.Common); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, dealModuleName); err != nil {
		return nil, err
	}
	minBid := cloneBigInt(params.MinBid)
	if minBid.Sign() <= 0 {
		return nil, ErrPriceTooLow
	}
	maxBid := cloneBigInt(params.MaxBid)
	if maxBid.Sign() > 0 && maxBid.Cmp(minBid) < 0 {
		return nil, fmt.Errorf("deal: max bid below min bid")
	}
	if params.MinIncrement < uint64(IncrementDivider) {
		return nil, fmt.Errorf("deal: bid increment below divider")
	}
	now := e.now()
	start := params.StartTime
	deferred := false
	if start == 0 {
		start = now
	} else if start > now {
		deferred = true
	}
	if params.EndTime <= start {
		return nil, ErrIncorrectValidUntil
	}
	kind := KindAuction
	if len(params.Assets) > 1 {
		kind = KindMultiAuction
	}
	ledger, err := NewAssetLedger(params.Assets)
	if err != nil {
		return nil, err
	}
	if err := e.checkHorizon(ledger, params.EndTime); err != nil {
		return nil, err
	}
	discount, err := e.applyVoucher(&params.Common)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentLedger(params.Common.PaymentLeg, minBid)
	if err != nil {
		return nil, err
	}
	d := &Deal{
		ID:               dealID(kind, params.Common.Initiator, [20]byte{}, params.Common.Nonce),
		Kind:             kind,
		State:            StateCollecting,
		Seller:           params.Common.Initiator,
		PaymentLeg:       params.Common.PaymentLeg,
		Price:            minBid,
		CreatedAt:        now,
		ValidUntil:       params.EndTime,
		LastActionAt:     now,
		CommissionFactor: params.Common.CommissionFactor,
		MaxCommission:    cloneBigInt(params.Common.MaxCommission),
		DiscountFactor:   discount,
		Assets:           ledger,
		Payments:         payments,
		Auction: &AuctionTerms{
			MinBid:        minBid,
			MaxBid:        maxBid,
			MinIncrement:  params.MinIncrement,
			TimeIncrement: params.TimeIncrement,
			StartTime:     start,
			EndTime:       params.EndTime,
			Deferred:      deferred,
			LastBid:       big.NewInt(0),
		},
	}
	defer e.lockDeal(d.ID)()
	if existing, ok, err := e.existingOrConflict(d.ID, d); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}
	if kind == KindAuction {
		assetID := params.Assets[0]
		if err := e.takeAssetCustody(assetID, d.Seller); err != nil {
			return nil, err
		}
		if err := d.Assets.Receive(assetID); err != nil {
			return nil, err
		}
		d.State = StateActive
	}
	if err := e.storeDeal(d); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(d))
	return d.Clone(), nil
}

// CreateOffer deploys a buyer-initiated offer. The offered price moves into
// escrow before the deal is stored; when escrow fails nothing is deployed.
func (e *Engine) CreateOffer(params OfferParams) (*Deal, error) {
	if err := e.validateCommon(params.Common); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, dealModuleName); err != nil {
		return nil, err
	}
	price := cloneBigInt(params.Price)
	if price.Sign() <= 0 {
		return nil, ErrPriceTooLow
	}
	if params.Seller == ([20]byte{}) {
		return nil, ErrIncorrectSender
	}
	kind := KindOffer
	cooldown := OfferCancelCooldown
	if len(params.Assets) > 1 {
		kind = KindMultiOffer
		cooldown = MultiOfferCancelCooldown
	}
	ledger, err := NewAssetLedger(params.Assets)
	if err != nil {
		return nil, err
	}
	if err := e.checkHorizon(ledger, params.Common.ValidUntil); err != nil {
		return nil, err
	}
	discount, err := e.applyVoucher(&params.Common)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentLedger(params.Common.PaymentLeg, price)
	if err != nil {
		return nil, err
	}
	now := e.now()
	d := &Deal{
		ID:               dealID(kind, params.Seller, params.Common.Initiator, params.Common.Nonce),
		Kind:             kind,
		State:            StateActive,
		Seller:           params.Seller,
		Buyer:            params.Common.Initiator,
		PaymentLeg:       params.Common.PaymentLeg,
		Price:            price,
		CreatedAt:        now,
		ValidUntil:       params.Common.ValidUntil,
		LastActionAt:     now,
		CommissionFactor: params.Common.CommissionFactor,
		MaxCommission:    cloneBigInt(params.Common.MaxCommission),
		DiscountFactor:   discount,
		Assets:           ledger,
		Payments:         payments,
		Offer: &OfferTerms{
			SellerPrice:    big.NewInt(0),
			CancelCooldown: cooldown,
		},
	}
	defer e.lockDeal(d.ID)()
	if existing, ok, err := e.existingOrConflict(d.ID, d); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}
	if err := e.takePayment(d, d.Buyer, d.PaymentLeg, price); err != nil {
		return nil, err
	}
	if err := d.Payments.Record(d.PaymentLeg, price); err != nil {
		return nil, err
	}
	if err := e.storeDeal(d); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(d))
	return d.Clone(), nil
}

// CreateSwap deploys a two-party swap. Collection starts with the left side.
func (e *Engine) CreateSwap(params SwapParams) (*Deal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, dealModuleName); err != nil {
		return nil, err
	}
	if params.Common.ValidUntil <= e.now() {
		return nil, ErrIncorrectValidUntil
	}
	if params.Common.CommissionFactor > FactorDivider {
		return nil, fmt.Errorf("deal: commission factor out of range: %d", params.Common.CommissionFactor)
	}
	if params.Left.Owner == ([20]byte{}) || params.Right.Owner == ([20]byte{}) {
		return nil, ErrIncorrectSender
	}
	if params.Left.Owner == params.Right.Owner {
		return nil, fmt.Errorf("deal: swap sides share an owner")
	}
	if overlap(params.Left.Assets, params.Right.Assets) {
		return nil, fmt.Errorf("deal: swap sides share an asset")
	}
	left, err := newSwapSide(params.Left)
	if err != nil {
		return nil, err
	}
	right, err := newSwapSide(params.Right)
	if err != nil {
		return nil, err
	}
	if left.Assets == nil && right.Assets == nil {
		return nil, fmt.Errorf("deal: swap declares no assets")
	}
	discount, err := e.applyVoucher(&params.Common)
	if err != nil {
		return nil, err
	}
	if left.Assets != nil {
		if err := e.checkHorizon(left.Assets, params.Common.ValidUntil); err != nil {
			return nil, err
		}
	}
	if right.Assets != nil {
		if err := e.checkHorizon(right.Assets, params.Common.ValidUntil); err != nil {
			return nil, err
		}
	}
	now := e.now()
	d := &Deal{
		ID:               dealID(KindSwap, params.Left.Owner, params.Right.Owner, params.Common.Nonce),
		Kind:             KindSwap,
		State:            StateWaitingLeft,
		Seller:           params.Left.Owner,
		Buyer:            params.Right.Owner,
		Price:            big.NewInt(0),
		CreatedAt:        now,
		ValidUntil:       params.Common.ValidUntil,
		LastActionAt:     now,
		CommissionFactor: params.Common.CommissionFactor,
		MaxCommission:    cloneBigInt(params.Common.MaxCommission),
		DiscountFactor:   discount,
		Swap:             &SwapTerms{Left: left, Right: right},
	}
	defer e.lockDeal(d.ID)()
	if stored, ok := e.state.DealGet(d.ID); ok {
		sanitized, err := Sanitize(stored)
		if err != nil {
			return nil, err
		}
		if sameSwapDefinition(sanitized, d) {
			return sanitized, nil
		}
		return nil, ErrAlreadyDeployed
	}
	if err := e.storeDeal(d); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(d))
	return d.Clone(), nil
}

func newSwapSide(params SwapSideParams) (*SwapSide, error) {
	payment := cloneBigInt(params.Payment)
	if payment.Sign() < 0 {
		return nil, fmt.Errorf("deal: swap payment must be non-negative")
	}
	if payment.Sign() > 0 && !params.Leg.Valid() {
		return nil, fmt.Errorf("deal: invalid payment leg %d", params.Leg)
	}
	leg := params.Leg
	if !leg.Valid() {
		leg = LegCoin
	}
	side := &SwapSide{
		Owner:           params.Owner,
		Leg:             leg,
		PaymentExpected: payment,
		PaymentReceived: big.NewInt(0),
	}
	if len(params.Assets) > 0 {
		ledger, err := NewAssetLedger(params.Assets)
		if err != nil {
			return nil, err
		}
		side.Assets = ledger
	}
	return side, nil
}

func sameSwapDefinition(a, b *Deal) bool {
	if a.Kind != KindSwap || b.Kind != KindSwap {
		return false
	}
	if a.ValidUntil != b.ValidUntil || a.CommissionFactor != b.CommissionFactor {
		return false
	}
	if cloneBigInt(a.MaxCommission).Cmp(cloneBigInt(b.MaxCommission)) != 0 || a.DiscountFactor != b.DiscountFactor {
		return false
	}
	return sameSwapSide(a.Swap.Left, b.Swap.Left) && sameSwapSide(a.Swap.Right, b.Swap.Right)
}

func sameSwapSide(a, b *SwapSide) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Owner != b.Owner || a.Leg != b.Leg {
		return false
	}
	if cloneBigInt(a.PaymentExpected).Cmp(cloneBigInt(b.PaymentExpected)) != 0 {
		return false
	}
	av, bv := a.Assets.All(), b.Assets.All()
	if len(av) != len(bv) {
		return false
	}
	for i := range av {
		if av[i] != bv[i] {
			return false
		}
	}
	return true
}

func overlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; ok {
			return true
		}
	}
	return false
}
