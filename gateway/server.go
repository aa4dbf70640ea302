package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ndcrypto "namedeal/crypto"
	"namedeal/native/deal"
	"namedeal/native/dispatcher"
	"namedeal/native/nameasset"
	"namedeal/observability/metrics"
)

// Server exposes the deal engine over REST. Mutating deal endpoints sit behind
// the authenticator; the watchdog endpoints stay open because expiry is
// permissionless by design.
type Server struct {
	engine  *deal.Engine
	disp    *dispatcher.Dispatcher
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	metrics *metrics.DealMetrics
}

// NewServer wires the REST surface over the engine and dispatcher.
func NewServer(engine *deal.Engine, disp *dispatcher.Dispatcher, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		disp:    disp,
		auth:    auth,
		limiter: limiter,
		logger:  logger.With("component", "gateway"),
		metrics: metrics.Deal(),
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/deals/{id}", s.handleGetDeal)
		// Anyone may resolve an overdue deal.
		v1.Post("/deals/{id}/expire", s.handleExpire)
		v1.Post("/deals/{id}/finish", s.handleFinishAuction)

		v1.Group(func(pr chi.Router) {
			if s.auth != nil {
				pr.Use(s.auth.Middleware)
			}
			pr.Post("/deals/sale", s.handleDeploySale)
			pr.Post("/deals/auction", s.handleDeployAuction)
			pr.Post("/deals/offer", s.handleDeployOffer)
			pr.Post("/deals/swap", s.handleDeploySwap)
			pr.Post("/deals/{id}/purchase", s.handlePurchase)
			pr.Post("/deals/{id}/bid", s.handleBid)
			pr.Post("/deals/{id}/price", s.handleChangePrice)
			pr.Post("/deals/{id}/cancel", s.handleCancel)
			pr.Post("/deals/{id}/decline", s.handleDecline)
			pr.Post("/hooks/asset-transfer", s.handleAssetTransfer)
			pr.Post("/hooks/payment", s.handlePaymentHook)
			pr.Post("/hooks/renewal", s.handleRenewal)
			pr.Post("/hooks/expiry-warning", s.handleExpiryWarning)
		})
	})
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.metrics.ObserveRequest(route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
	})
}

// --- wire types ---

type voucherPayload struct {
	Timestamp      int64  `json:"timestamp"`
	Payer          string `json:"payer"`
	DiscountFactor uint64 `json:"discountFactor"`
	Signature      string `json:"signature"`
}

type saleRequest struct {
	Initiator  string          `json:"initiator"`
	PaymentLeg string          `json:"paymentLeg"`
	ValidUntil int64           `json:"validUntil"`
	Assets     []string        `json:"assets"`
	Price      string          `json:"price"`
	Voucher    *voucherPayload `json:"voucher,omitempty"`
	Nonce      string          `json:"nonce"`
}

type auctionRequest struct {
	Initiator     string          `json:"initiator"`
	PaymentLeg    string          `json:"paymentLeg"`
	Assets        []string        `json:"assets"`
	MinBid        string          `json:"minBid"`
	MaxBid        string          `json:"maxBid,omitempty"`
	MinIncrement  uint64          `json:"minIncrement"`
	TimeIncrement int64           `json:"timeIncrement"`
	StartTime     int64           `json:"startTime,omitempty"`
	EndTime       int64           `json:"endTime"`
	Voucher       *voucherPayload `json:"voucher,omitempty"`
	Nonce         string          `json:"nonce"`
}

type offerRequest struct {
	Initiator  string          `json:"initiator"`
	Seller     string          `json:"seller"`
	PaymentLeg string          `json:"paymentLeg"`
	ValidUntil int64           `json:"validUntil"`
	Assets     []string        `json:"assets"`
	Price      string          `json:"price"`
	Voucher    *voucherPayload `json:"voucher,omitempty"`
	Nonce      string          `json:"nonce"`
}

type swapSidePayload struct {
	Owner   string   `json:"owner"`
	Assets  []string `json:"assets,omitempty"`
	Leg     string   `json:"leg,omitempty"`
	Payment string   `json:"payment,omitempty"`
}

type swapRequest struct {
	Initiator  string          `json:"initiator"`
	ValidUntil int64           `json:"validUntil"`
	Left       swapSidePayload `json:"left"`
	Right      swapSidePayload `json:"right"`
	Voucher    *voucherPayload `json:"voucher,omitempty"`
	Nonce      string          `json:"nonce"`
}

type actionRequest struct {
	Sender     string `json:"sender"`
	Amount     string `json:"amount,omitempty"`
	Price      string `json:"price,omitempty"`
	ValidUntil int64  `json:"validUntil,omitempty"`
}

type transferHook struct {
	DealID       string `json:"dealId"`
	AssetID      string `json:"assetId"`
	From         string `json:"from"`
	CounterPrice string `json:"counterPrice,omitempty"`
}

type paymentHook struct {
	DealID string `json:"dealId"`
	From   string `json:"from"`
	Leg    string `json:"leg"`
	Amount string `json:"amount"`
}

type assetHook struct {
	DealID  string `json:"dealId"`
	AssetID string `json:"assetId"`
}

type refundView struct {
	To      string `json:"to"`
	Leg     string `json:"leg,omitempty"`
	Amount  string `json:"amount,omitempty"`
	AssetID string `json:"assetId,omitempty"`
}

type outcomeView struct {
	Refunds []refundView `json:"refunds"`
}

type auctionTermsView struct {
	MinBid        string `json:"minBid"`
	MaxBid        string `json:"maxBid,omitempty"`
	MinIncrement  uint64 `json:"minIncrement"`
	TimeIncrement int64  `json:"timeIncrement"`
	StartTime     int64  `json:"startTime"`
	EndTime       int64  `json:"endTime"`
	LastBid       string `json:"lastBid"`
	LastBidder    string `json:"lastBidder,omitempty"`
}

type offerTermsView struct {
	SellerPrice    string `json:"sellerPrice"`
	CancelCooldown int64  `json:"cancelCooldown"`
}

type swapSideView struct {
	Owner           string   `json:"owner"`
	Leg             string   `json:"leg"`
	Assets          []string `json:"assets,omitempty"`
	AssetsHeld      int      `json:"assetsHeld"`
	PaymentExpected string   `json:"paymentExpected"`
	PaymentReceived string   `json:"paymentReceived"`
}

type swapTermsView struct {
	Left  swapSideView `json:"left"`
	Right swapSideView `json:"right"`
}

type dealView struct {
	ID               string            `json:"id"`
	Kind             string            `json:"kind"`
	State            string            `json:"state"`
	Seller           string            `json:"seller"`
	Buyer            string            `json:"buyer,omitempty"`
	PaymentLeg       string            `json:"paymentLeg,omitempty"`
	Price            string            `json:"price"`
	CreatedAt        int64             `json:"createdAt"`
	ValidUntil       int64             `json:"validUntil"`
	LastActionAt     int64             `json:"lastActionAt"`
	CommissionFactor uint64            `json:"commissionFactor"`
	Assets           []string          `json:"assets,omitempty"`
	Auction          *auctionTermsView `json:"auction,omitempty"`
	Offer            *offerTermsView   `json:"offer,omitempty"`
	Swap             *swapTermsView    `json:"swap,omitempty"`
}

// --- parsing helpers ---

// parseAddress accepts either a 20-byte hex address or a bech32 marketplace
// address.
func parseAddress(value string) ([20]byte, error) {
	if common.IsHexAddress(value) {
		return common.HexToAddress(value), nil
	}
	return ndcrypto.ParseAccount(value)
}

func parseDealID(value string) ([32]byte, error) {
	var id [32]byte
	cleaned := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(cleaned)
	if err != nil || len(decoded) != 32 {
		return id, fmt.Errorf("invalid deal id %q", value)
	}
	copy(id[:], decoded)
	return id, nil
}

func parseAmount(value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func parseLeg(value string) (deal.Leg, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "coin":
		return deal.LegCoin, nil
	case "token":
		return deal.LegToken, nil
	default:
		return 0, fmt.Errorf("invalid payment leg %q", value)
	}
}

func parseNonce(value string) ([32]byte, error) {
	var nonce [32]byte
	cleaned := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if cleaned == "" {
		return nonce, fmt.Errorf("nonce required")
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil || len(decoded) > 32 {
		return nonce, fmt.Errorf("invalid nonce %q", value)
	}
	copy(nonce[32-len(decoded):], decoded)
	return nonce, nil
}

func parseVoucher(payload *voucherPayload) (*deal.DiscountVoucher, error) {
	if payload == nil {
		return nil, nil
	}
	payer, err := parseAddress(payload.Payer)
	if err != nil {
		return nil, err
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(payload.Signature), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid voucher signature")
	}
	return &deal.DiscountVoucher{
		Timestamp:      payload.Timestamp,
		Payer:          payer,
		DiscountFactor: payload.DiscountFactor,
		Signature:      sig,
	}, nil
}

func viewDeal(d *deal.Deal) dealView {
	view := dealView{
		ID:               hex.EncodeToString(d.ID[:]),
		Kind:             d.Kind.String(),
		State:            d.State.String(),
		Seller:           common.Address(d.Seller).Hex(),
		Price:            d.Price.String(),
		CreatedAt:        d.CreatedAt,
		ValidUntil:       d.ValidUntil,
		LastActionAt:     d.LastActionAt,
		CommissionFactor: d.CommissionFactor,
	}
	if d.Buyer != ([20]byte{}) {
		view.Buyer = common.Address(d.Buyer).Hex()
	}
	if d.Kind != deal.KindSwap {
		view.PaymentLeg = d.PaymentLeg.String()
	}
	if d.Assets != nil {
		view.Assets = d.Assets.All()
	}
	if d.Auction != nil {
		terms := &auctionTermsView{
			MinBid:        d.Auction.MinBid.String(),
			MinIncrement:  d.Auction.MinIncrement,
			TimeIncrement: d.Auction.TimeIncrement,
			StartTime:     d.Auction.StartTime,
			EndTime:       d.Auction.EndTime,
			LastBid:       d.Auction.LastBid.String(),
		}
		if d.Auction.MaxBid != nil && d.Auction.MaxBid.Sign() > 0 {
			terms.MaxBid = d.Auction.MaxBid.String()
		}
		if d.Auction.LastBidder != ([20]byte{}) {
			terms.LastBidder = common.Address(d.Auction.LastBidder).Hex()
		}
		view.Auction = terms
	}
	if d.Offer != nil {
		view.Offer = &offerTermsView{
			SellerPrice:    d.Offer.SellerPrice.String(),
			CancelCooldown: d.Offer.CancelCooldown,
		}
	}
	if d.Swap != nil {
		view.Swap = &swapTermsView{
			Left:  viewSwapSide(d.Swap.Left),
			Right: viewSwapSide(d.Swap.Right),
		}
	}
	return view
}

func viewSwapSide(side *deal.SwapSide) swapSideView {
	if side == nil {
		return swapSideView{}
	}
	view := swapSideView{
		Owner:           common.Address(side.Owner).Hex(),
		Leg:             side.Leg.String(),
		AssetsHeld:      side.Assets.HeldCount(),
		PaymentExpected: side.PaymentExpected.String(),
		PaymentReceived: side.PaymentReceived.String(),
	}
	if side.Assets != nil {
		view.Assets = side.Assets.All()
	}
	return view
}

func viewOutcome(out *deal.Outcome) outcomeView {
	view := outcomeView{Refunds: []refundView{}}
	if out == nil {
		return view
	}
	for _, refund := range out.Refunds {
		rv := refundView{To: common.Address(refund.To).Hex(), AssetID: refund.AssetID}
		if refund.Amount != nil && refund.Amount.Sign() > 0 {
			rv.Amount = refund.Amount.String()
			rv.Leg = refund.Leg.String()
		}
		view.Refunds = append(view.Refunds, rv)
	}
	return view
}

// --- response plumbing ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.metrics.ObserveRejection(reasonFor(err))
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, deal.ErrDealNotFound):
		return http.StatusNotFound
	case errors.Is(err, deal.ErrIncorrectSender):
		return http.StatusForbidden
	case errors.Is(err, deal.ErrAlreadyDeployed),
		errors.Is(err, deal.ErrDealNotActive),
		errors.Is(err, deal.ErrCantCancelDeal):
		return http.StatusConflict
	case errors.Is(err, deal.ErrPriceTooLow),
		errors.Is(err, deal.ErrBidTooLow),
		errors.Is(err, deal.ErrIncorrectValidUntil),
		errors.Is(err, deal.ErrInsufficientValue),
		errors.Is(err, deal.ErrInsufficientPayment),
		errors.Is(err, deal.ErrAssetExpired),
		errors.Is(err, deal.ErrUnknownAsset),
		errors.Is(err, deal.ErrAssetAlreadyHeld),
		errors.Is(err, deal.ErrVoucherExpired),
		errors.Is(err, deal.ErrVoucherSignature),
		errors.Is(err, dispatcher.ErrUnknownKind),
		errors.Is(err, dispatcher.ErrPriceBelowMinimum),
		errors.Is(err, nameasset.ErrInvalidName),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, deal.ErrDealNotFound):
		return "not_found"
	case errors.Is(err, deal.ErrIncorrectSender):
		return "incorrect_sender"
	case errors.Is(err, deal.ErrDealNotActive):
		return "not_active"
	case errors.Is(err, deal.ErrPriceTooLow), errors.Is(err, deal.ErrBidTooLow):
		return "price"
	case errors.Is(err, deal.ErrInsufficientPayment), errors.Is(err, deal.ErrInsufficientValue):
		return "funds"
	default:
		return "other"
	}
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errBadRequest}, args...)...)
}

func (s *Server) decode(r *http.Request, into any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}

func (s *Server) dealIDFromRoute(r *http.Request) ([32]byte, error) {
	id, err := parseDealID(chi.URLParam(r, "id"))
	if err != nil {
		return [32]byte{}, badRequest("%v", err)
	}
	return id, nil
}

// --- handlers ---

func (s *Server) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	id, err := s.dealIDFromRoute(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.engine.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewDeal(d))
}

func (s *Server) handleDeploySale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	initiator, err := parseAddress(req.Initiator)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	leg, err := parseLeg(req.PaymentLeg)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	nonce, err := parseNonce(req.Nonce)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	voucher, err := parseVoucher(req.Voucher)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	deployed, err := s.disp.DeploySale(dispatcher.SaleRequest{
		Initiator:  initiator,
		PaymentLeg: leg,
		ValidUntil: req.ValidUntil,
		Assets:     req.Assets,
		Price:      price,
		Voucher:    voucher,
		Nonce:      nonce,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, viewDeal(deployed))
}

func (s *Server) handleDeployAuction(w http.ResponseWriter, r *http.Request) {
	var req auctionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	initiator, err := parseAddress(req.Initiator)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	leg, err := parseLeg(req.PaymentLeg)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	minBid, err := parseAmount(req.MinBid)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	maxBid, err := parseAmount(req.MaxBid)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	nonce, err := parseNonce(req.Nonce)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	voucher, err := parseVoucher(req.Voucher)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	deployed, err := s.disp.DeployAuction(dispatcher.AuctionRequest{
		Initiator:     initiator,
		PaymentLeg:    leg,
		Assets:        req.Assets,
		MinBid:        minBid,
		MaxBid:        maxBid,
		MinIncrement:  req.MinIncrement,
		TimeIncrement: req.TimeIncrement,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Voucher:       voucher,
		Nonce:         nonce,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, viewDeal(deployed))
}

func (s *Server) handleDeployOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	initiator, err := parseAddress(req.Initiator)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	seller, err := parseAddress(req.Seller)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	leg, err := parseLeg(req.PaymentLeg)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	nonce, err := parseNonce(req.Nonce)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	voucher, err := parseVoucher(req.Voucher)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	deployed, err := s.disp.DeployOffer(dispatcher.OfferRequest{
		Initiator:  initiator,
		Seller:     seller,
		PaymentLeg: leg,
		ValidUntil: req.ValidUntil,
		Assets:     req.Assets,
		Price:      price,
		Voucher:    voucher,
		Nonce:      nonce,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, viewDeal(deployed))
}

func (s *Server) handleDeploySwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	initiator, err := parseAddress(req.Initiator)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	left, err := parseSwapSide(req.Left)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	right, err := parseSwapSide(req.Right)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	nonce, err := parseNonce(req.Nonce)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	voucher, err := parseVoucher(req.Voucher)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	deployed, err := s.disp.DeploySwap(dispatcher.SwapRequest{
		Initiator:  initiator,
		ValidUntil: req.ValidUntil,
		Left:       left,
		Right:      right,
		Voucher:    voucher,
		Nonce:      nonce,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, viewDeal(deployed))
}

func parseSwapSide(payload swapSidePayload) (dispatcher.SwapSideRequest, error) {
	owner, err := parseAddress(payload.Owner)
	if err != nil {
		return dispatcher.SwapSideRequest{}, err
	}
	leg, err := parseLeg(payload.Leg)
	if err != nil {
		return dispatcher.SwapSideRequest{}, err
	}
	payment, err := parseAmount(payload.Payment)
	if err != nil {
		return dispatcher.SwapSideRequest{}, err
	}
	return dispatcher.SwapSideRequest{
		Owner:   owner,
		Assets:  payload.Assets,
		Leg:     leg,
		Payment: payment,
	}, nil
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	id, err := s.dealIDFromRoute(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req actionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	sender, err := parseAddress(req.Sender)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	out, err := s.engine.Purchase(id, sender, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.ObserveCompleted("sale")
	s.writeJSON(w, http.StatusOK, viewOutcome(out))
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	id, err := s.dealIDFromRoute(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req actionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	sender, err := parseAddress(req.Sender)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	out, err := s.engine.PlaceBid(id, sender, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.ObserveBid()
	s.writeJSON(w, http.StatusOK, viewOutcome(out))
}

// handleChangePrice routes to the sale or offer price change depending on the
// deal kind.
func (s *Server) handleChangePrice(w http.ResponseWriter, r *http.Request) {
	id, err := s.dealIDFromRoute(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req actionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	sender, err := parseAddress(req.Sender)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	d, err := s.engine.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	switch d.Kind {
	case deal.KindSale, deal.KindMultiSale:
		if err := s.engine.ChangeSalePrice(id, sender, price, req.ValidUntil); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, viewOutcome(&deal.Outcome{}))
	case deal.KindOffer, deal.KindMultiOffer:
		out, err := s.engine.ChangeOfferPrice(id, sender, price, req.ValidUntil)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, viewOutcome(out))
	default:
		s.writeError(w, deal.ErrDealNotActive)
	}
}

// handleCancel routes to the offer or swap cancellation depending on the deal
// kind.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := s.dealIDFromRoute(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req actionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	sender, err := parseAddress(req.Sender)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	d, err := s.engine.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var out *deal.Outcome
	switch d.Kind {
	case deal.KindOffer, deal.KindMultiOffer:
		out, err = s.engine.CancelOffer(id, sender)
	case deal.KindSwap:
		out, err = s.engine.CancelSwap(id, sender)
	default:
		err = deal.ErrCantCancelDeal
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.ObserveCancelled(d.Kind.String())
	s.writeJSON(w, http.StatusOK, viewOutcome(out))
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	id, err := s.dealIDFromRoute(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req actionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	sender, err := parseAddress(req.Sender)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	out, err := s.engine.DeclineOffer(id, sender)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.ObserveCancelled("offer")
	s.writeJSON(w, http.StatusOK, viewOutcome(out))
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	id, err := s.dealIDFromRoute(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.engine.TryExpire(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if d, lookupErr := s.engine.Get(id); lookupErr == nil {
		s.metrics.ObserveExpired(d.Kind.String())
	}
	s.writeJSON(w, http.StatusOK, viewOutcome(out))
}

func (s *Server) handleFinishAuction(w http.ResponseWriter, r *http.Request) {
	id, err := s.dealIDFromRoute(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.engine.FinishAuction(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOutcome(out))
}

func (s *Server) handleAssetTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferHook
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	id, err := parseDealID(req.DealID)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	from, err := parseAddress(req.From)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	assetID, err := nameasset.Normalize(req.AssetID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var payload *deal.TransferPayload
	if strings.TrimSpace(req.CounterPrice) != "" {
		counter, err := parseAmount(req.CounterPrice)
		if err != nil {
			s.writeError(w, badRequest("%v", err))
			return
		}
		payload = &deal.TransferPayload{CounterPrice: counter}
	}
	out, err := s.engine.HandleAssetArrival(id, assetID, from, payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOutcome(out))
}

func (s *Server) handlePaymentHook(w http.ResponseWriter, r *http.Request) {
	var req paymentHook
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	id, err := parseDealID(req.DealID)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	from, err := parseAddress(req.From)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	leg, err := parseLeg(req.Leg)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	out, err := s.engine.HandlePayment(id, from, leg, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOutcome(out))
}

func (s *Server) handleRenewal(w http.ResponseWriter, r *http.Request) {
	var req assetHook
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	id, err := parseDealID(req.DealID)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	assetID, err := nameasset.Normalize(req.AssetID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.RenewAsset(id, assetID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExpiryWarning(w http.ResponseWriter, r *http.Request) {
	var req assetHook
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	id, err := parseDealID(req.DealID)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	assetID, err := nameasset.Normalize(req.AssetID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.engine.AssetAboutToExpire(id, assetID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOutcome(out))
}
