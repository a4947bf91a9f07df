// Package quote holds the state of a quotation being assembled: the
// protocols, the tests selected in each and the price types chosen per test.
// It also drives catalog loading and document generation against the
// backend.
package quote

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

var (
	ErrSelectionNotFound = errors.New("selection not found")
	ErrProtocolNotFound  = errors.New("protocol not found")
	ErrDuplicateProtocol = errors.New("a protocol with that name already exists")
	ErrProtocolIndex     = errors.New("protocol index out of range")
)

// Quote owns both the protocol list and the selections so that renaming or
// removing a protocol updates its selections in the same step. A Quote is
// safe for concurrent use.
type Quote struct {
	mu         sync.RWMutex
	protocols  []Protocol
	active     string
	selections []Selection
	lastID     int64
}

// New returns a quote with the default protocol active and no selections.
func New() *Quote {
	return &Quote{
		protocols: []Protocol{{Name: DefaultProtocol}},
		active:    DefaultProtocol,
	}
}

// -- Selections --

// ToggleType flips t for test in the active protocol. The first type added
// creates a selection seeded with the test's current prices; removing the
// last type deletes it.
func (q *Quote) ToggleType(test Test, t PriceType) error {
	if !t.Valid() {
		return fmt.Errorf("toggle %q: invalid price type", t)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.findLocked(test.ID, q.active)
	if idx < 0 {
		q.lastID++
		q.selections = append(q.selections, Selection{
			ID:        q.lastID,
			TestID:    test.ID,
			Name:      test.Name,
			Category:  test.Category,
			Protocol:  q.active,
			Types:     []PriceType{t},
			Prices:    test.Prices.clone(),
			Overrides: Prices{},
		})
		return nil
	}

	sel := &q.selections[idx]
	if sel.HasType(t) {
		types := sel.Types[:0:0]
		for _, x := range sel.Types {
			if x != t {
				types = append(types, x)
			}
		}
		if len(types) == 0 {
			q.selections = append(q.selections[:idx], q.selections[idx+1:]...)
			return nil
		}
		sel.Types = types
		return nil
	}
	sel.Types = append(sel.Types, t)
	return nil
}

// Remove deletes the selection with the given id and reports whether it
// existed.
func (q *Quote) Remove(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, s := range q.selections {
		if s.ID == id {
			q.selections = append(q.selections[:i], q.selections[i+1:]...)
			return true
		}
	}
	return false
}

// SetClassification sets or clears (nil) the classification of a selection.
// Clearing it or setting Adicional also clears the detail.
func (q *Quote) SetClassification(id int64, c *Classification) error {
	if c != nil && !c.Valid() {
		return fmt.Errorf("invalid classification: %q", *c)
	}
	return q.update(id, func(s *Selection) {
		if c == nil {
			s.Classification = nil
		} else {
			v := *c
			s.Classification = &v
		}
		if !keepsDetail(s.Classification) {
			s.Detail = ""
		}
	})
}

// SetDetail stores free text on a selection. The write is accepted whatever
// the classification; callers decide whether the field is editable.
func (q *Quote) SetDetail(id int64, detail string) error {
	return q.update(id, func(s *Selection) { s.Detail = detail })
}

// SetOverride replaces the price of t on one selection. A NaN amount clears
// the override.
func (q *Quote) SetOverride(id int64, t PriceType, amount float64) error {
	if !t.Valid() {
		return fmt.Errorf("override %q: invalid price type", t)
	}
	return q.update(id, func(s *Selection) {
		if math.IsNaN(amount) {
			delete(s.Overrides, t)
			return
		}
		if s.Overrides == nil {
			s.Overrides = Prices{}
		}
		s.Overrides[t] = amount
	})
}

// ClearOverride drops the override of t, restoring the catalog price.
func (q *Quote) ClearOverride(id int64, t PriceType) error {
	return q.SetOverride(id, t, math.NaN())
}

// Resync refreshes the prices of every selection whose test appears in
// catalog, leaving types, classification, detail and overrides untouched. An
// empty catalog means "not loaded" and changes nothing. It returns the number
// of selections refreshed.
func (q *Quote) Resync(catalog []Test) int {
	if len(catalog) == 0 {
		return 0
	}
	byID := make(map[int64]Prices, len(catalog))
	for _, t := range catalog {
		if t.Prices != nil {
			byID[t.ID] = t.Prices
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for i := range q.selections {
		if p, ok := byID[q.selections[i].TestID]; ok {
			q.selections[i].Prices = p.clone()
			n++
		}
	}
	return n
}

// ActiveTypes maps test id to the chosen types in the active protocol.
func (q *Quote) ActiveTypes() map[int64][]PriceType {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make(map[int64][]PriceType)
	for _, s := range q.selections {
		if s.Protocol == q.active {
			out[s.TestID] = append([]PriceType(nil), s.Types...)
		}
	}
	return out
}

// ActiveSelections returns the selections of the active protocol in
// insertion order.
func (q *Quote) ActiveSelections() []Selection {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.selectionsInLocked(q.active)
}

// SelectionsIn returns the selections of one protocol in insertion order.
func (q *Quote) SelectionsIn(protocol string) []Selection {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.selectionsInLocked(protocol)
}

// Selections returns every selection in insertion order.
func (q *Quote) Selections() []Selection {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Selection, len(q.selections))
	for i, s := range q.selections {
		out[i] = s.clone()
	}
	return out
}

// Selection returns a copy of one selection.
func (q *Quote) Selection(id int64) (Selection, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, s := range q.selections {
		if s.ID == id {
			return s.clone(), nil
		}
	}
	return Selection{}, ErrSelectionNotFound
}

// -- Protocols --

// AddProtocol creates a protocol and makes it active. A name that already
// exists is only activated; a blank name is ignored. It reports whether a
// protocol was created.
func (q *Quote) AddProtocol(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	created := false
	if q.protocolIndexLocked(name) < 0 {
		q.protocols = append(q.protocols, Protocol{Name: name})
		created = true
	}
	q.active = name
	return created
}

// RemoveProtocol deletes a protocol together with its selections and returns
// how many selections went with it. Removing the last protocol reinstates
// DefaultProtocol. When the active protocol is removed the first remaining
// one becomes active.
func (q *Quote) RemoveProtocol(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	remaining := q.protocols[:0:0]
	for _, p := range q.protocols {
		if p.Name != name {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) == 0 {
		remaining = []Protocol{{Name: DefaultProtocol}}
	}
	q.protocols = remaining
	if q.active == name || q.protocolIndexLocked(q.active) < 0 {
		q.active = remaining[0].Name
	}

	kept := q.selections[:0:0]
	for _, s := range q.selections {
		if s.Protocol != name {
			kept = append(kept, s)
		}
	}
	removed := len(q.selections) - len(kept)
	q.selections = kept
	return removed
}

// RenameProtocol relabels a protocol and every selection in it. A blank new
// name is a no-op. Renaming onto another existing protocol fails with
// ErrDuplicateProtocol and changes nothing.
func (q *Quote) RenameProtocol(oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" || newName == oldName {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.protocolIndexLocked(oldName)
	if idx < 0 {
		return fmt.Errorf("rename %q: %w", oldName, ErrProtocolNotFound)
	}
	if q.protocolIndexLocked(newName) >= 0 {
		return fmt.Errorf("rename %q to %q: %w", oldName, newName, ErrDuplicateProtocol)
	}

	q.protocols[idx].Name = newName
	for i := range q.selections {
		if q.selections[i].Protocol == oldName {
			q.selections[i].Protocol = newName
		}
	}
	if q.active == oldName {
		q.active = newName
	}
	return nil
}

// ReorderProtocols moves the protocol at index from to index to.
func (q *Quote) ReorderProtocols(from, to int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.protocols)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("move %d to %d of %d: %w", from, to, n, ErrProtocolIndex)
	}
	if from == to {
		return nil
	}
	p := q.protocols[from]
	q.protocols = append(q.protocols[:from], q.protocols[from+1:]...)
	q.protocols = append(q.protocols[:to], append([]Protocol{p}, q.protocols[to:]...)...)
	return nil
}

// SetActive makes an existing protocol the target of ToggleType.
func (q *Quote) SetActive(name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.protocolIndexLocked(name) < 0 {
		return fmt.Errorf("activate %q: %w", name, ErrProtocolNotFound)
	}
	q.active = name
	return nil
}

func (q *Quote) Protocols() []Protocol {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]Protocol(nil), q.protocols...)
}

func (q *Quote) Active() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.active
}

// ProtocolRecord summarizes one protocol for the save-protocol audit entry.
func (q *Quote) ProtocolRecord(name string) (ProtocolRecord, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.protocolIndexLocked(name) < 0 {
		return ProtocolRecord{}, fmt.Errorf("summarize %q: %w", name, ErrProtocolNotFound)
	}
	rec := ProtocolRecord{ProtocolName: name}
	for _, s := range q.selections {
		if s.Protocol != name {
			continue
		}
		rec.TotalTests++
		if s.Classification == nil {
			continue
		}
		switch *s.Classification {
		case Condicional:
			rec.CountCondicional++
		case Requisito:
			rec.CountRequisito++
		case Adicional:
			rec.CountAdicional++
		}
	}
	return rec, nil
}

// Snapshot is a consistent copy of a quote.
type Snapshot struct {
	Protocols  []Protocol
	Active     string
	Selections []Selection
}

// Snapshot copies protocols and selections under one lock.
func (q *Quote) Snapshot() Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()
	snap := Snapshot{
		Protocols:  append([]Protocol(nil), q.protocols...),
		Active:     q.active,
		Selections: make([]Selection, len(q.selections)),
	}
	for i, s := range q.selections {
		snap.Selections[i] = s.clone()
	}
	return snap
}

// -- internal --

func (q *Quote) update(id int64, fn func(*Selection)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.selections {
		if q.selections[i].ID == id {
			fn(&q.selections[i])
			return nil
		}
	}
	return fmt.Errorf("selection %d: %w", id, ErrSelectionNotFound)
}

func (q *Quote) findLocked(testID int64, protocol string) int {
	for i, s := range q.selections {
		if s.TestID == testID && s.Protocol == protocol {
			return i
		}
	}
	return -1
}

func (q *Quote) protocolIndexLocked(name string) int {
	for i, p := range q.protocols {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func (q *Quote) selectionsInLocked(protocol string) []Selection {
	var out []Selection
	for _, s := range q.selections {
		if s.Protocol == protocol {
			out = append(out, s.clone())
		}
	}
	return out
}
