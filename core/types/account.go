package types

import "math/big"

// Account holds the balances tracked for a marketplace participant. The
// native coin and the fungible token settle through different transfer
// protocols, so their balances are kept on separate legs.
type Account struct {
	Nonce        uint64   `json:"nonce"`
	BalanceCoin  *big.Int `json:"balanceCoin"`
	BalanceToken *big.Int `json:"balanceToken"`
}

// Clone returns a deep copy of the account so callers can mutate the result
// without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce, BalanceCoin: big.NewInt(0), BalanceToken: big.NewInt(0)}
	if a.BalanceCoin != nil {
		clone.BalanceCoin = new(big.Int).Set(a.BalanceCoin)
	}
	if a.BalanceToken != nil {
		clone.BalanceToken = new(big.Int).Set(a.BalanceToken)
	}
	return clone
}
