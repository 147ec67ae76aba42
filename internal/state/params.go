// Package state holds the live order and position state shared by the
// stream consumers, the order engine and the quoting loop.
package state

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/grandb369/tradebot/pkg/exchanges/common"
)

var (
	ErrRegularLimit   = errors.New("regular order limit reached")
	ErrAlreadyTracked = errors.New("order already tracked")
	ErrInvalidBracket = errors.New("bracket needs three distinct order ids")
)

// Role is the part an order plays in a bracket.
type Role string

const (
	RoleRegular    Role = "regular"
	RoleTakeProfit Role = "take_profit"
	RoleStopLoss   Role = "stop_loss"
)

// Bracket links a filled regular order to its two exit legs.
type Bracket struct {
	RegularID    string `json:"regular_id"`
	TakeProfitID string `json:"take_profit_id"`
	StopLossID   string `json:"stop_loss_id"`
}

// Sibling returns the other exit leg of role.
func (b Bracket) Sibling(role Role) (string, Role) {
	if role == RoleTakeProfit {
		return b.StopLossID, RoleStopLoss
	}
	return b.TakeProfitID, RoleTakeProfit
}

// Orphan is an exit leg that outlived its bracket and still needs a cancel.
type Orphan struct {
	ID    string    `json:"id"`
	Role  Role      `json:"role"`
	Since time.Time `json:"since"`
}

// ParamStore is the single owner of order tracking and the position
// snapshot. Every method runs under one mutex and never does I/O, so a
// caller sees either all of a bracket's link entries or none of them.
type ParamStore struct {
	mu         sync.Mutex
	maxRegular int

	regular  map[string]time.Time // exchange id -> tracked since
	pending  map[string]struct{}  // client ids with a placement in flight
	consumed map[string]string    // client id -> exchange id, filled before confirmation
	stale    map[string]time.Time // regular ids whose cancel reported "unknown order"

	// Two forward entries per leg, anchored on the regular id:
	// takeProfit[tp]=reg, takeProfit[reg]=tp, stopLoss[sl]=reg, stopLoss[reg]=sl.
	takeProfit map[string]string
	stopLoss   map[string]string

	orphans  map[string]Orphan
	position common.Position

	now func() time.Time
}

// NewParamStore returns an empty store capping regular orders at maxRegular.
func NewParamStore(maxRegular int) *ParamStore {
	return &ParamStore{
		maxRegular: maxRegular,
		regular:    make(map[string]time.Time),
		pending:    make(map[string]struct{}),
		consumed:   make(map[string]string),
		stale:      make(map[string]time.Time),
		takeProfit: make(map[string]string),
		stopLoss:   make(map[string]string),
		orphans:    make(map[string]Orphan),
		now:        time.Now,
	}
}

// ReservePending claims a slot for a regular order about to be submitted.
func (s *ParamStore) ReservePending(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[clientID]; ok {
		return ErrAlreadyTracked
	}
	if len(s.regular)+len(s.pending) >= s.maxRegular {
		return ErrRegularLimit
	}
	s.pending[clientID] = struct{}{}
	return nil
}

// ReleasePending drops a reservation whose submission failed.
func (s *ParamStore) ReleasePending(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, clientID)
	delete(s.consumed, clientID)
}

// ConfirmRegular moves a reservation into the regular set under its exchange
// id. It returns false when a fill already consumed the reservation.
func (s *ParamStore) ConfirmRegular(clientID, orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, clientID)
	if _, filled := s.consumed[clientID]; filled {
		delete(s.consumed, clientID)
		return false
	}
	s.regular[orderID] = s.now()
	return true
}

// TakeRegular removes a regular order on fill. It matches the exchange id or,
// for a placement still in flight, the client id.
func (s *ParamStore) TakeRegular(orderID, clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regular[orderID]; ok {
		delete(s.regular, orderID)
		delete(s.stale, orderID)
		return true
	}
	if clientID == "" {
		return false
	}
	if _, ok := s.pending[clientID]; ok {
		delete(s.pending, clientID)
		s.consumed[clientID] = orderID
		return true
	}
	return false
}

// RemoveRegular drops a regular order after a confirmed cancel.
func (s *ParamStore) RemoveRegular(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.regular[orderID]
	delete(s.regular, orderID)
	delete(s.stale, orderID)
	return ok
}

// IsRegular reports whether orderID is tracked as a regular order.
func (s *ParamStore) IsRegular(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.regular[orderID]
	return ok
}

// MarkStale flags a tracked regular order whose cancel said it no longer exists.
func (s *ParamStore) MarkStale(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regular[orderID]; !ok {
		return
	}
	if _, ok := s.stale[orderID]; !ok {
		s.stale[orderID] = s.now()
	}
}

// StaleRegular returns regular ids marked stale for at least grace.
func (s *ParamStore) StaleRegular(grace time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []string
	for id, since := range s.stale {
		if now.Sub(since) >= grace {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// RegularIDs returns the confirmed regular ids, sorted.
func (s *ParamStore) RegularIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.regular))
	for id := range s.regular {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RegularCount counts confirmed and in-flight regular orders.
func (s *ParamStore) RegularCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regular) + len(s.pending)
}

// LinkBracket inserts all link entries of b at once.
func (s *ParamStore) LinkBracket(b Bracket) error {
	if b.RegularID == "" || b.TakeProfitID == "" || b.StopLossID == "" ||
		b.RegularID == b.TakeProfitID || b.RegularID == b.StopLossID || b.TakeProfitID == b.StopLossID {
		return ErrInvalidBracket
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range []string{b.RegularID, b.TakeProfitID, b.StopLossID} {
		if _, ok := s.takeProfit[id]; ok {
			return ErrAlreadyTracked
		}
		if _, ok := s.stopLoss[id]; ok {
			return ErrAlreadyTracked
		}
	}
	s.takeProfit[b.TakeProfitID] = b.RegularID
	s.takeProfit[b.RegularID] = b.TakeProfitID
	s.stopLoss[b.StopLossID] = b.RegularID
	s.stopLoss[b.RegularID] = b.StopLossID
	return nil
}

// ResolveExit claims the bracket of a filled exit leg and removes every link
// entry of that bracket. The second call for the same id finds nothing.
func (s *ParamStore) ResolveExit(orderID string) (Bracket, Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reg, ok := s.takeProfit[orderID]; ok {
		if sl, isLeg := s.stopLoss[reg]; isLeg {
			b := Bracket{RegularID: reg, TakeProfitID: orderID, StopLossID: sl}
			s.unlinkLocked(b)
			return b, RoleTakeProfit, true
		}
	}
	if reg, ok := s.stopLoss[orderID]; ok {
		if tp, isLeg := s.takeProfit[reg]; isLeg {
			b := Bracket{RegularID: reg, TakeProfitID: tp, StopLossID: orderID}
			s.unlinkLocked(b)
			return b, RoleStopLoss, true
		}
	}
	return Bracket{}, "", false
}

func (s *ParamStore) unlinkLocked(b Bracket) {
	delete(s.takeProfit, b.TakeProfitID)
	delete(s.takeProfit, b.RegularID)
	delete(s.stopLoss, b.StopLossID)
	delete(s.stopLoss, b.RegularID)
}

// Brackets returns the live brackets ordered by regular id.
func (s *ParamStore) Brackets() []Bracket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bracketsLocked()
}

func (s *ParamStore) bracketsLocked() []Bracket {
	var out []Bracket
	for id, linked := range s.takeProfit {
		// anchor entries are the ones whose key also anchors a stop-loss
		sl, isAnchor := s.stopLoss[id]
		if !isAnchor {
			continue
		}
		out = append(out, Bracket{RegularID: id, TakeProfitID: linked, StopLossID: sl})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegularID < out[j].RegularID })
	return out
}

// AddOrphan records an exit leg that still needs a cancel.
func (s *ParamStore) AddOrphan(orderID string, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orphans[orderID]; ok {
		return
	}
	s.orphans[orderID] = Orphan{ID: orderID, Role: role, Since: s.now()}
}

// RemoveOrphan forgets an orphan once its cancel went through or it filled.
func (s *ParamStore) RemoveOrphan(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.orphans[orderID]
	delete(s.orphans, orderID)
	return ok
}

// Orphans returns the orphaned legs ordered by id.
func (s *ParamStore) Orphans() []Orphan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orphansLocked()
}

func (s *ParamStore) orphansLocked() []Orphan {
	out := make([]Orphan, 0, len(s.orphans))
	for _, o := range s.orphans {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetPosition overwrites the position snapshot.
func (s *ParamStore) SetPosition(p common.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	s.position = p
}

// Position returns the latest position snapshot.
func (s *ParamStore) Position() common.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Clear empties every order collection. The position snapshot is kept.
func (s *ParamStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regular = make(map[string]time.Time)
	s.pending = make(map[string]struct{})
	s.consumed = make(map[string]string)
	s.stale = make(map[string]time.Time)
	s.takeProfit = make(map[string]string)
	s.stopLoss = make(map[string]string)
	s.orphans = make(map[string]Orphan)
}

// Snapshot is a consistent copy of the store for reporting.
type Snapshot struct {
	Regular  []string        `json:"regular"`
	Pending  int             `json:"pending"`
	Stale    []string        `json:"stale"`
	Brackets []Bracket       `json:"brackets"`
	Orphans  []Orphan        `json:"orphans"`
	Position common.Position `json:"position"`
}

// Snapshot copies every collection under a single lock.
func (s *ParamStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Regular:  make([]string, 0, len(s.regular)),
		Pending:  len(s.pending),
		Brackets: s.bracketsLocked(),
		Orphans:  s.orphansLocked(),
		Position: s.position,
	}
	for id := range s.regular {
		snap.Regular = append(snap.Regular, id)
	}
	for id := range s.stale {
		snap.Stale = append(snap.Stale, id)
	}
	sort.Strings(snap.Regular)
	sort.Strings(snap.Stale)
	return snap
}
