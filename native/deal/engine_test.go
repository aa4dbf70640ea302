package deal

import (
	"bytes"
	"fmt"
	"math/big"

	"namedeal/core/events"
	"namedeal/core/types"
)

type mockState struct {
	deals         map[[32]byte]*Deal
	accounts      map[[20]byte]*types.Account
	dealBalances  map[Leg]map[[32]byte]*big.Int
	vaultAddrs    map[Leg][20]byte
	assetOwners   map[string][20]byte
	assetRenewals map[string]int64
}

func newMockState() *mockState {
	return &mockState{
		deals:    make(map[[32]byte]*Deal),
		accounts: make(map[[20]byte]*types.Account),
		dealBalances: map[Leg]map[[32]byte]*big.Int{
			LegCoin:  make(map[[32]byte]*big.Int),
			LegToken: make(map[[32]byte]*big.Int),
		},
		vaultAddrs: map[Leg][20]byte{
			LegCoin:  newTestAddress(0xAA),
			LegToken: newTestAddress(0xAA),
		},
		assetOwners:   make(map[string][20]byte),
		assetRenewals: make(map[string]int64),
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockState) DealPut(d *Deal) error {
	if d == nil {
		return fmt.Errorf("nil deal")
	}
	sanitized, err := Sanitize(d)
	if err != nil {
		return err
	}
	m.deals[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) DealGet(id [32]byte) (*Deal, bool) {
	d, ok := m.deals[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

func (m *mockState) DealCredit(id [32]byte, leg Leg, amount *big.Int) error {
	balances, ok := m.dealBalances[leg]
	if !ok {
		return fmt.Errorf("unknown leg %d", leg)
	}
	current := balances[id]
	if current == nil {
		current = big.NewInt(0)
	}
	balances[id] = new(big.Int).Add(current, amount)
	return nil
}

func (m *mockState) DealDebit(id [32]byte, leg Leg, amount *big.Int) error {
	balances, ok := m.dealBalances[leg]
	if !ok {
		return fmt.Errorf("unknown leg %d", leg)
	}
	current := balances[id]
	if current == nil || current.Cmp(amount) < 0 {
		return fmt.Errorf("deal balance underflow")
	}
	balances[id] = new(big.Int).Sub(current, amount)
	return nil
}

func (m *mockState) DealBalance(id [32]byte, leg Leg) (*big.Int, error) {
	balances, ok := m.dealBalances[leg]
	if !ok {
		return nil, fmt.Errorf("unknown leg %d", leg)
	}
	current := balances[id]
	if current == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(current), nil
}

func (m *mockState) DealVaultAddress(leg Leg) ([20]byte, error) {
	addr, ok := m.vaultAddrs[leg]
	if !ok {
		return [20]byte{}, fmt.Errorf("unknown leg %d", leg)
	}
	return addr, nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	acc, ok := m.accounts[key]
	if !ok {
		return &types.Account{BalanceCoin: big.NewInt(0), BalanceToken: big.NewInt(0)}, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = account.Clone()
	return nil
}

func (m *mockState) AssetOwner(assetID string) ([20]byte, bool, error) {
	owner, ok := m.assetOwners[assetID]
	return owner, ok, nil
}

func (m *mockState) SetAssetOwner(assetID string, owner [20]byte) error {
	m.assetOwners[assetID] = owner
	return nil
}

func (m *mockState) AssetLastRenewal(assetID string) (int64, error) {
	return m.assetRenewals[assetID], nil
}

func (m *mockState) SetAssetLastRenewal(assetID string, ts int64) error {
	m.assetRenewals[assetID] = ts
	return nil
}

func (m *mockState) setBalance(addr [20]byte, leg Leg, amount int64) {
	acc, _ := m.GetAccount(addr[:])
	switch leg {
	case LegCoin:
		acc.BalanceCoin = big.NewInt(amount)
	case LegToken:
		acc.BalanceToken = big.NewInt(amount)
	}
	m.accounts[addr] = acc
}

func (m *mockState) balance(addr [20]byte, leg Leg) *big.Int {
	acc, _ := m.GetAccount(addr[:])
	switch leg {
	case LegCoin:
		return acc.BalanceCoin
	case LegToken:
		return acc.BalanceToken
	}
	return big.NewInt(0)
}

type capturingEmitter struct {
	events []*types.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	typed, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	c.events = append(c.events, typed.Event())
}

func (c *capturingEmitter) typesSeen() []string {
	seen := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		seen = append(seen, evt.Type)
	}
	return seen
}

func (c *capturingEmitter) has(eventType string) bool {
	for _, evt := range c.events {
		if evt.Type == eventType {
			return true
		}
	}
	return false
}

type testClock struct {
	now int64
}

func (c *testClock) fn() func() int64 {
	return func() int64 { return c.now }
}

func (c *testClock) advance(secs int64) { c.now += secs }

// newTestEngine wires an engine against fresh mock state with a deterministic
// clock starting at t=1000.
func newTestEngine() (*Engine, *mockState, *capturingEmitter, *testClock) {
	state := newMockState()
	emitter := &capturingEmitter{}
	clock := &testClock{now: 1000}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(clock.fn())
	engine.SetTreasury(newTestAddress(0xFE))
	return engine, state, emitter, clock
}

func registerAsset(state *mockState, assetID string, owner [20]byte, renewedAt int64) {
	state.assetOwners[assetID] = owner
	state.assetRenewals[assetID] = renewedAt
}
