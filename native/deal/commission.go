package deal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// FactorDivider is the denominator of commission and discount factors. A
// factor of 5_000 over the divider is a 5% rate.
const FactorDivider = 100_000

// VoucherTTL bounds how long a signed discount voucher stays redeemable after
// its timestamp.
const VoucherTTL int64 = 600

var (
	ErrVoucherExpired   = errors.New("deal: discount voucher expired")
	ErrVoucherSignature = errors.New("deal: discount voucher signature invalid")
)

// ComputeCommission returns min(price*factor/FactorDivider, cap), reduced by
// the discount factor when one applies. All arithmetic floors; the result is
// never negative and never exceeds the cap.
func ComputeCommission(price *big.Int, factor uint64, cap *big.Int, discountFactor uint64) *big.Int {
	amount := cloneBigInt(price)
	if amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	commission := new(big.Int).Mul(amount, new(big.Int).SetUint64(factor))
	commission.Div(commission, big.NewInt(FactorDivider))
	ceiling := cloneBigInt(cap)
	if ceiling.Sign() > 0 && commission.Cmp(ceiling) > 0 {
		commission = ceiling
	}
	if discountFactor > 0 {
		if discountFactor >= FactorDivider {
			return big.NewInt(0)
		}
		remainder := new(big.Int).SetUint64(FactorDivider - discountFactor)
		commission.Mul(commission, remainder)
		commission.Div(commission, big.NewInt(FactorDivider))
	}
	if commission.Sign() < 0 {
		return big.NewInt(0)
	}
	return commission
}

// DiscountVoucher is a signed, time-bounded authorization reducing the
// commission for a single deployment. It is consumed at deploy time and never
// replay-checked afterwards: each deal instance uses it at most once.
type DiscountVoucher struct {
	Timestamp      int64
	Payer          [20]byte
	DiscountFactor uint64
	Signature      []byte
}

// Digest returns the keccak256 hash the voucher signer commits to.
func (v *DiscountVoucher) Digest() [32]byte {
	var ts, factor [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(v.Timestamp))
	binary.BigEndian.PutUint64(factor[:], v.DiscountFactor)
	return ethcrypto.Keccak256Hash([]byte("namedeal.discount"), ts[:], v.Payer[:], factor[:])
}

// Verify checks the voucher against the expected signer address and the
// validity window around its timestamp.
func (v *DiscountVoucher) Verify(signer [20]byte, now int64) error {
	if v == nil {
		return ErrVoucherSignature
	}
	if v.DiscountFactor == 0 || v.DiscountFactor > FactorDivider {
		return fmt.Errorf("deal: discount factor out of range: %d", v.DiscountFactor)
	}
	if now < v.Timestamp || now > v.Timestamp+VoucherTTL {
		return ErrVoucherExpired
	}
	if len(v.Signature) != 65 {
		return ErrVoucherSignature
	}
	digest := v.Digest()
	pub, err := ethcrypto.SigToPub(digest[:], v.Signature)
	if err != nil {
		return ErrVoucherSignature
	}
	recovered := ethcrypto.PubkeyToAddress(*pub)
	if [20]byte(recovered) != signer {
		return ErrVoucherSignature
	}
	return nil
}
