package nameasset

import (
	"errors"
	"math/big"
	"strings"

	"github.com/miekg/dns"
)

// ErrInvalidName is returned for identifiers that are not well-formed domain
// names.
var ErrInvalidName = errors.New("nameasset: invalid name")

// Normalize canonicalises a naming-asset identifier: lowercased, no trailing
// dot, validated as a DNS name. Every identifier entering the engine passes
// through here so custody lookups never miss on case or dot variants.
func Normalize(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed == "." {
		return "", ErrInvalidName
	}
	if _, ok := dns.IsDomainName(trimmed); !ok {
		return "", ErrInvalidName
	}
	canonical := strings.TrimSuffix(dns.CanonicalName(trimmed), ".")
	if canonical == "" {
		return "", ErrInvalidName
	}
	if strings.Contains(canonical, "..") {
		return "", ErrInvalidName
	}
	return canonical, nil
}

// NormalizeAll canonicalises a declared asset set, rejecting the whole set on
// the first invalid name.
func NormalizeAll(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		canonical, err := Normalize(name)
		if err != nil {
			return nil, err
		}
		out = append(out, canonical)
	}
	return out, nil
}

// TransferNotice is the registry's notification that an asset was transferred
// to a deal, together with the opaque forward payload the sender attached.
type TransferNotice struct {
	DealID  [32]byte
	AssetID string
	From    [20]byte
	Payload []byte
}

// PaymentNotice is the notification that value arrived addressed to a deal.
type PaymentNotice struct {
	DealID [32]byte
	From   [20]byte
	Token  bool
	Amount *big.Int
}

// RenewalNotice reports that an asset's registration was renewed.
type RenewalNotice struct {
	DealID  [32]byte
	AssetID string
}

// ExpiryWarning is the registry's unsolicited warning that an escrowed asset
// is approaching the end of its registration lifetime.
type ExpiryWarning struct {
	DealID  [32]byte
	AssetID string
}
