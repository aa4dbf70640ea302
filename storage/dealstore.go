package storage

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"namedeal/core/types"
	"namedeal/native/deal"
)

// Key prefixes keep the deal records, escrow balances, accounts and the asset
// registry in disjoint regions of the underlying key-value store.
const (
	prefixDeal       = "deal/"
	prefixBalance    = "bal/"
	prefixAccount    = "acct/"
	prefixAssetOwner = "asset/owner/"
	prefixAssetRenew = "asset/renew/"
)

// Store persists deals, escrow balances, accounts and the naming-asset
// registry behind the engine's persistence boundary. Every mutation is guarded
// by a single mutex so read-modify-write sequences apply atomically.
type Store struct {
	mu     sync.Mutex
	db     Database
	vaults map[deal.Leg][20]byte
}

// NewStore wraps the database in a deal store. Vault addresses must be
// configured before the store backs a live engine.
func NewStore(db Database) *Store {
	return &Store{
		db:     db,
		vaults: make(map[deal.Leg][20]byte),
	}
}

// SetVaultAddress configures the custody address for one payment leg.
func (s *Store) SetVaultAddress(leg deal.Leg, addr [20]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaults[leg] = addr
}

func dealKey(id [32]byte) []byte {
	return []byte(prefixDeal + hex.EncodeToString(id[:]))
}

func balanceKey(id [32]byte, leg deal.Leg) []byte {
	return []byte(prefixBalance + leg.String() + "/" + hex.EncodeToString(id[:]))
}

func accountKey(addr []byte) []byte {
	return []byte(prefixAccount + hex.EncodeToString(addr))
}

func assetOwnerKey(assetID string) []byte {
	return []byte(prefixAssetOwner + assetID)
}

func assetRenewKey(assetID string) []byte {
	return []byte(prefixAssetRenew + assetID)
}

// DealPut stores the full deal record.
func (s *Store) DealPut(d *deal.Deal) error {
	if d == nil {
		return fmt.Errorf("storage: nil deal")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("storage: encode deal: %w", err)
	}
	return s.db.Put(dealKey(d.ID), raw)
}

// DealGet loads a deal record by its identifier.
func (s *Store) DealGet(id [32]byte) (*deal.Deal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dealKey(id)
	ok, err := s.db.Has(key)
	if err != nil || !ok {
		return nil, false
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return nil, false
	}
	var d deal.Deal
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, false
	}
	return &d, true
}

// DealCredit adds escrowed value to a deal's balance on the given leg.
func (s *Store) DealCredit(id [32]byte, leg deal.Leg, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("storage: invalid credit amount")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.readBalance(id, leg)
	if err != nil {
		return err
	}
	return s.writeBalance(id, leg, new(big.Int).Add(current, amount))
}

// DealDebit removes escrowed value from a deal's balance on the given leg.
// Debiting past zero fails, which surfaces engine accounting bugs immediately.
func (s *Store) DealDebit(id [32]byte, leg deal.Leg, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("storage: invalid debit amount")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.readBalance(id, leg)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("storage: deal balance underflow")
	}
	return s.writeBalance(id, leg, new(big.Int).Sub(current, amount))
}

// DealBalance returns the escrowed balance of a deal on the given leg.
func (s *Store) DealBalance(id [32]byte, leg deal.Leg) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readBalance(id, leg)
}

func (s *Store) readBalance(id [32]byte, leg deal.Leg) (*big.Int, error) {
	key := balanceKey(id, leg)
	ok, err := s.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	value, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("storage: corrupt balance record")
	}
	return value, nil
}

func (s *Store) writeBalance(id [32]byte, leg deal.Leg, value *big.Int) error {
	return s.db.Put(balanceKey(id, leg), []byte(value.String()))
}

// DealVaultAddress returns the configured custody address for the leg.
func (s *Store) DealVaultAddress(leg deal.Leg) ([20]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.vaults[leg]
	if !ok || addr == ([20]byte{}) {
		return [20]byte{}, fmt.Errorf("storage: vault not configured for leg %s", leg)
	}
	return addr, nil
}

// GetAccount loads an account record, returning a zeroed account when none is
// stored yet.
func (s *Store) GetAccount(addr []byte) (*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountKey(addr)
	ok, err := s.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{BalanceCoin: big.NewInt(0), BalanceToken: big.NewInt(0)}, nil
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	var account types.Account
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, fmt.Errorf("storage: decode account: %w", err)
	}
	if account.BalanceCoin == nil {
		account.BalanceCoin = big.NewInt(0)
	}
	if account.BalanceToken == nil {
		account.BalanceToken = big.NewInt(0)
	}
	return &account, nil
}

// PutAccount stores an account record.
func (s *Store) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("storage: nil account")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("storage: encode account: %w", err)
	}
	return s.db.Put(accountKey(addr), raw)
}

// AssetOwner resolves the registered owner of a naming asset.
func (s *Store) AssetOwner(assetID string) ([20]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assetOwnerKey(assetID)
	ok, err := s.db.Has(key)
	if err != nil {
		return [20]byte{}, false, err
	}
	if !ok {
		return [20]byte{}, false, nil
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return [20]byte{}, false, err
	}
	decoded, err := hex.DecodeString(string(raw))
	if err != nil || len(decoded) != 20 {
		return [20]byte{}, false, fmt.Errorf("storage: corrupt owner record for %s", assetID)
	}
	var owner [20]byte
	copy(owner[:], decoded)
	return owner, true, nil
}

// SetAssetOwner records the owner of a naming asset.
func (s *Store) SetAssetOwner(assetID string, owner [20]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(assetOwnerKey(assetID), []byte(hex.EncodeToString(owner[:])))
}

// AssetLastRenewal returns the recorded renewal timestamp, zero when unknown.
func (s *Store) AssetLastRenewal(assetID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assetRenewKey(assetID)
	ok, err := s.db.Has(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return 0, err
	}
	ts, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("storage: corrupt renewal record for %s", assetID)
	}
	return ts, nil
}

// SetAssetLastRenewal records the renewal timestamp of a naming asset.
func (s *Store) SetAssetLastRenewal(assetID string, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(assetRenewKey(assetID), []byte(strconv.FormatInt(ts, 10)))
}
