package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix is the human-readable part of a bech32 marketplace address.
type AddressPrefix string

// NDPrefix is the prefix used for marketplace participant addresses.
const NDPrefix AddressPrefix = "nd"

// Address represents a 20-byte account address with a bech32 prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: b}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// DecodeAddress parses a bech32 address with the marketplace prefix.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != string(NDPrefix) {
		return Address{}, fmt.Errorf("unsupported address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 payload: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("invalid address length %d", len(conv))
	}
	return Address{prefix: AddressPrefix(prefix), bytes: conv}, nil
}

// ParseAccount accepts either a bech32 marketplace address or a 20-byte hex
// address and returns the raw account bytes.
func ParseAccount(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, string(NDPrefix)+"1") {
		addr, err := DecodeAddress(trimmed)
		if err != nil {
			return out, err
		}
		copy(out[:], addr.Bytes())
		return out, nil
	}
	cleaned := strings.TrimPrefix(trimmed, "0x")
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, fmt.Errorf("invalid address %q: %w", value, err)
	}
	if len(decoded) != 20 {
		return out, fmt.Errorf("invalid address %q: want 20 bytes, got %d", value, len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}
