package deal

import "errors"

// Sentinel errors reported by deal transitions. Every rejection is terminal
// for the triggering message: the engine never partially applies a rejected
// transition and anything attached to the message stays with (or is returned
// to) the sender.
var (
	ErrDealNotActive       = errors.New("deal: not active")
	ErrPriceTooLow         = errors.New("deal: price too low")
	ErrBidTooLow           = errors.New("deal: bid too low")
	ErrIncorrectValidUntil = errors.New("deal: incorrect valid until")
	ErrCantCancelDeal      = errors.New("deal: cancellation cooldown not elapsed")
	ErrInsufficientValue   = errors.New("deal: attached value insufficient")
	ErrInsufficientPayment = errors.New("deal: insufficient payment")
	ErrIncorrectSender     = errors.New("deal: sender not authorized")
	ErrAssetExpired        = errors.New("deal: asset expired")
	ErrAlreadyDeployed     = errors.New("deal: already deployed")
	ErrDealNotFound        = errors.New("deal: not found")
	ErrUnknownAsset        = errors.New("deal: asset not part of this deal")
	ErrAssetAlreadyHeld    = errors.New("deal: asset already in custody")
)
