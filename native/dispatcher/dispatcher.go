package dispatcher

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"namedeal/native/deal"
	"namedeal/native/nameasset"
	"namedeal/observability/metrics"
)

// ErrUnknownKind is returned when no schedule is configured for the requested
// deal kind.
var ErrUnknownKind = errors.New("dispatcher: unknown deal kind")

// ErrPriceBelowMinimum is returned when a deploy request undercuts the
// schedule's minimum price.
var ErrPriceBelowMinimum = errors.New("dispatcher: price below schedule minimum")

// Schedule is the deployment policy for one deal kind. The commission fields
// are copied into the deal at deploy time, so schedule changes never affect
// deals already in flight.
type Schedule struct {
	CommissionFactor uint64
	MaxCommission    *big.Int
	MinPrice         *big.Int
}

// Dispatcher validates deploy requests against per-kind schedules and hands
// them to the engine. It is the only component that consults shared
// configuration; everything downstream reads its own deal record.
type Dispatcher struct {
	engine    *deal.Engine
	schedules map[deal.Kind]Schedule
	logger    *slog.Logger
	metrics   *metrics.DealMetrics
}

// New creates a dispatcher over the engine with the given per-kind schedules.
func New(engine *deal.Engine, schedules map[deal.Kind]Schedule, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		engine:    engine,
		schedules: schedules,
		logger:    logger.With("component", "dispatcher"),
		metrics:   metrics.Deal(),
	}
}

func (d *Dispatcher) schedule(kind deal.Kind) (Schedule, error) {
	schedule, ok := d.schedules[kind]
	if !ok {
		return Schedule{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return schedule, nil
}

func (d *Dispatcher) common(initiator [20]byte, leg deal.Leg, validUntil int64, voucher *deal.DiscountVoucher, nonce [32]byte, schedule Schedule) deal.CommonParams {
	return deal.CommonParams{
		Initiator:        initiator,
		PaymentLeg:       leg,
		ValidUntil:       validUntil,
		CommissionFactor: schedule.CommissionFactor,
		MaxCommission:    schedule.MaxCommission,
		Voucher:          voucher,
		Nonce:            nonce,
	}
}

func checkMinPrice(schedule Schedule, price *big.Int) error {
	if schedule.MinPrice == nil || schedule.MinPrice.Sign() <= 0 {
		return nil
	}
	if price == nil || price.Cmp(schedule.MinPrice) < 0 {
		return ErrPriceBelowMinimum
	}
	return nil
}

// SaleRequest asks for a fixed-price sale or multi-sale deployment.
type SaleRequest struct {
	Initiator  [20]byte
	PaymentLeg deal.Leg
	ValidUntil int64
	Assets     []string
	Price      *big.Int
	Voucher    *deal.DiscountVoucher
	Nonce      [32]byte
}

// DeploySale validates and deploys a sale.
func (d *Dispatcher) DeploySale(req SaleRequest) (*deal.Deal, error) {
	kind := deal.KindSale
	if len(req.Assets) > 1 {
		kind = deal.KindMultiSale
	}
	schedule, err := d.schedule(kind)
	if err != nil {
		return nil, err
	}
	if err := checkMinPrice(schedule, req.Price); err != nil {
		return nil, err
	}
	assets, err := nameasset.NormalizeAll(req.Assets)
	if err != nil {
		return nil, err
	}
	deployed, err := d.engine.CreateSale(deal.SaleParams{
		Common: d.common(req.Initiator, req.PaymentLeg, req.ValidUntil, req.Voucher, req.Nonce, schedule),
		Assets: assets,
		Price:  req.Price,
	})
	if err != nil {
		d.metrics.ObserveRejection("deploy_sale")
		return nil, err
	}
	d.logger.Info("deal deployed", "kind", deployed.Kind.String(), "id", fmt.Sprintf("%x", deployed.ID))
	d.metrics.ObserveDeployed(deployed.Kind.String())
	return deployed, nil
}

// AuctionRequest asks for an auction or multi-auction deployment.
type AuctionRequest struct {
	Initiator     [20]byte
	PaymentLeg    deal.Leg
	Assets        []string
	MinBid        *big.Int
	MaxBid        *big.Int
	MinIncrement  uint64
	TimeIncrement int64
	StartTime     int64
	EndTime       int64
	Voucher       *deal.DiscountVoucher
	Nonce         [32]byte
}

// DeployAuction validates and deploys an auction.
func (d *Dispatcher) DeployAuction(req AuctionRequest) (*deal.Deal, error) {
	kind := deal.KindAuction
	if len(req.Assets) > 1 {
		kind = deal.KindMultiAuction
	}
	schedule, err := d.schedule(kind)
	if err != nil {
		return nil, err
	}
	if err := checkMinPrice(schedule, req.MinBid); err != nil {
		return nil, err
	}
	assets, err := nameasset.NormalizeAll(req.Assets)
	if err != nil {
		return nil, err
	}
	deployed, err := d.engine.CreateAuction(deal.AuctionParams{
		Common:        d.common(req.Initiator, req.PaymentLeg, req.EndTime, req.Voucher, req.Nonce, schedule),
		Assets:        assets,
		MinBid:        req.MinBid,
		MaxBid:        req.MaxBid,
		MinIncrement:  req.MinIncrement,
		TimeIncrement: req.TimeIncrement,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
	})
	if err != nil {
		d.metrics.ObserveRejection("deploy_auction")
		return nil, err
	}
	d.logger.Info("deal deployed", "kind", deployed.Kind.String(), "id", fmt.Sprintf("%x", deployed.ID))
	d.metrics.ObserveDeployed(deployed.Kind.String())
	return deployed, nil
}

// OfferRequest asks for an offer or multi-offer deployment.
type OfferRequest struct {
	Initiator  [20]byte
	Seller     [20]byte
	PaymentLeg deal.Leg
	ValidUntil int64
	Assets     []string
	Price      *big.Int
	Voucher    *deal.DiscountVoucher
	Nonce      [32]byte
}

// DeployOffer validates and deploys an offer.
func (d *Dispatcher) DeployOffer(req OfferRequest) (*deal.Deal, error) {
	kind := deal.KindOffer
	if len(req.Assets) > 1 {
		kind = deal.KindMultiOffer
	}
	schedule, err := d.schedule(kind)
	if err != nil {
		return nil, err
	}
	if err := checkMinPrice(schedule, req.Price); err != nil {
		return nil, err
	}
	assets, err := nameasset.NormalizeAll(req.Assets)
	if err != nil {
		return nil, err
	}
	deployed, err := d.engine.CreateOffer(deal.OfferParams{
		Common: d.common(req.Initiator, req.PaymentLeg, req.ValidUntil, req.Voucher, req.Nonce, schedule),
		Seller: req.Seller,
		Assets: assets,
		Price:  req.Price,
	})
	if err != nil {
		d.metrics.ObserveRejection("deploy_offer")
		return nil, err
	}
	d.logger.Info("deal deployed", "kind", deployed.Kind.String(), "id", fmt.Sprintf("%x", deployed.ID))
	d.metrics.ObserveDeployed(deployed.Kind.String())
	return deployed, nil
}

// SwapSideRequest declares one side of a swap deployment.
type SwapSideRequest struct {
	Owner   [20]byte
	Assets  []string
	Leg     deal.Leg
	Payment *big.Int
}

// SwapRequest asks for a two-party swap deployment.
type SwapRequest struct {
	Initiator  [20]byte
	ValidUntil int64
	Left       SwapSideRequest
	Right      SwapSideRequest
	Voucher    *deal.DiscountVoucher
	Nonce      [32]byte
}

// DeploySwap validates and deploys a swap.
func (d *Dispatcher) DeploySwap(req SwapRequest) (*deal.Deal, error) {
	schedule, err := d.schedule(deal.KindSwap)
	if err != nil {
		return nil, err
	}
	left, err := normalizeSide(req.Left)
	if err != nil {
		return nil, err
	}
	right, err := normalizeSide(req.Right)
	if err != nil {
		return nil, err
	}
	deployed, err := d.engine.CreateSwap(deal.SwapParams{
		Common: d.common(req.Initiator, deal.LegCoin, req.ValidUntil, req.Voucher, req.Nonce, schedule),
		Left:   left,
		Right:  right,
	})
	if err != nil {
		d.metrics.ObserveRejection("deploy_swap")
		return nil, err
	}
	d.logger.Info("deal deployed", "kind", deployed.Kind.String(), "id", fmt.Sprintf("%x", deployed.ID))
	d.metrics.ObserveDeployed(deployed.Kind.String())
	return deployed, nil
}

func normalizeSide(req SwapSideRequest) (deal.SwapSideParams, error) {
	params := deal.SwapSideParams{
		Owner:   req.Owner,
		Leg:     req.Leg,
		Payment: req.Payment,
	}
	if len(req.Assets) > 0 {
		assets, err := nameasset.NormalizeAll(req.Assets)
		if err != nil {
			return deal.SwapSideParams{}, err
		}
		params.Assets = assets
	}
	return params, nil
}
