package deal

// TryExpire is the permissionless watchdog transition: once the deal's
// deadline has passed anyone may force resolution. A qualifying auction
// settles; everything else unwinds to its original owners. Calling it on a
// terminal deal is a no-op.
func (e *Engine) TryExpire(id [32]byte) (*Outcome, error) {
	defer e.lockDeal(id)()
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	if d.State.Terminal() {
		return &Outcome{}, nil
	}
	now := e.now()
	if d.Kind == KindAuction || d.Kind == KindMultiAuction {
		if now < d.Auction.EndTime {
			return nil, ErrDealNotActive
		}
		return e.finishAuction(d)
	}
	if now <= d.ValidUntil {
		return nil, ErrDealNotActive
	}
	out, err := e.unwind(d)
	if err != nil {
		return nil, err
	}
	if err := e.cancelDeal(d); err != nil {
		return nil, err
	}
	e.emit(NewExpiredEvent(d))
	return out, nil
}
