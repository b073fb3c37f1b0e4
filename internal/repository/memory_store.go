package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vinzhub-gamestate/internal/model"
)

// Store operation names, used for call counting and fault injection.
const (
	OpLoadUser        = "LoadUser"
	OpSaveUser        = "SaveUser"
	OpInsertInventory = "InsertInventory"
	OpDeleteInventory = "DeleteInventory"
	OpUpdateInventory = "UpdateInventory"
	OpFetchInventory  = "FetchInventory"
	OpInsertCreatures = "InsertCreatures"
	OpDeleteCreatures = "DeleteCreatures"
	OpUpdateCreatures = "UpdateCreatures"
	OpFetchCreatures  = "FetchCreatures"
)

type storedRow struct {
	row   model.InventoryRow
	token int64
}

type storedCreature struct {
	creature model.Creature
	token    int64
}

type memUser struct {
	fields    model.UserState
	inventory map[int64]*storedRow
	creatures map[int64]*storedCreature
}

// MemoryStore implements Store in memory. It counts calls per operation and can
// be told to fail or delay specific operations.
type MemoryStore struct {
	mu     sync.Mutex
	users  map[int64]*memUser
	nextID int64
	calls  map[string]int
	faults map[string][]error
	delay  map[string]time.Duration
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[int64]*memUser),
		nextID: 1000,
		calls:  make(map[string]int),
		faults: make(map[string][]error),
		delay:  make(map[string]time.Duration),
	}
}

// FailNext makes the next call of op return err. Calls queue up.
func (s *MemoryStore) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

// Delay makes every call of op sleep for d before running.
func (s *MemoryStore) Delay(op string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay[op] = d
}

// Calls returns how many times op was invoked, failed calls included.
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls returns the number of calls across all operations.
func (s *MemoryStore) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// ResetCalls zeroes the call counters.
func (s *MemoryStore) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

// Seed stores st, collections included, assigning durable ids to rows without one.
func (s *MemoryStore) Seed(st *model.UserState) *model.UserState {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(st.UserID)
	u.fields = *st
	u.fields.Inventory = nil
	u.fields.Creatures = nil

	out := st.Clone()
	for i := range out.Inventory {
		r := &out.Inventory[i]
		if !r.ID.IsDurable() {
			r.ID = s.newID()
		} else if r.ID.Value >= s.nextID {
			s.nextID = r.ID.Value + 1
		}
		u.inventory[r.ID.Value] = &storedRow{row: *r}
	}
	for i := range out.Creatures {
		cr := &out.Creatures[i]
		if !cr.ID.IsDurable() {
			cr.ID = s.newID()
		} else if cr.ID.Value >= s.nextID {
			s.nextID = cr.ID.Value + 1
		}
		u.creatures[cr.ID.Value] = &storedCreature{creature: *cr}
	}
	return out
}

func (s *MemoryStore) newID() model.EntityID {
	s.nextID++
	return model.Durable(s.nextID)
}

func (s *MemoryStore) user(userID int64) *memUser {
	u, ok := s.users[userID]
	if !ok {
		u = &memUser{
			inventory: make(map[int64]*storedRow),
			creatures: make(map[int64]*storedCreature),
		}
		s.users[userID] = u
	}
	return u
}

// begin counts the call, applies any delay and returns an injected fault.
// It returns with s.mu held.
func (s *MemoryStore) begin(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	d := s.delay[op]
	var fault error
	if q := s.faults[op]; len(q) > 0 {
		fault, s.faults[op] = q[0], q[1:]
	}
	s.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			s.mu.Lock()
			return ctx.Err()
		}
	}
	s.mu.Lock()
	return fault
}

// LoadUser implements UserRepository.
func (s *MemoryStore) LoadUser(ctx context.Context, userID int64) (*model.UserState, error) {
	err := s.begin(ctx, OpLoadUser)
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	st := u.fields
	st.UserID = userID
	return &st, nil
}

// SaveUser implements UserRepository.
func (s *MemoryStore) SaveUser(ctx context.Context, st *model.UserState) error {
	err := s.begin(ctx, OpSaveUser)
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	u := s.user(st.UserID)
	u.fields = *st
	u.fields.Inventory = nil
	u.fields.Creatures = nil
	return nil
}

// InsertInventory implements InventoryRepository.
func (s *MemoryStore) InsertInventory(ctx context.Context, userID int64, rows []model.InventoryRow) error {
	err := s.begin(ctx, OpInsertInventory)
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	u := s.user(userID)
	for _, r := range rows {
		if !r.ID.IsPending() {
			return fmt.Errorf("insert of non-pending inventory id %s", r.ID)
		}
		if existing := u.inventoryByToken(r.ID.Value); existing != nil {
			existing.row.Quantity = r.Quantity
			existing.row.Order = r.Order
			continue
		}
		stored := r
		stored.ID = s.newID()
		u.inventory[stored.ID.Value] = &storedRow{row: stored, token: r.ID.Value}
	}
	return nil
}

func (u *memUser) inventoryByToken(token int64) *storedRow {
	for _, sr := range u.inventory {
		if sr.token == token {
			return sr
		}
	}
	return nil
}

// DeleteInventory implements InventoryRepository.
func (s *MemoryStore) DeleteInventory(ctx context.Context, userID int64, ids []int64) error {
	err := s.begin(ctx, OpDeleteInventory)
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	u := s.user(userID)
	for _, id := range ids {
		delete(u.inventory, id)
	}
	return nil
}

// UpdateInventory implements InventoryRepository.
func (s *MemoryStore) UpdateInventory(ctx context.Context, userID int64, rows []model.InventoryRow) error {
	err := s.begin(ctx, OpUpdateInventory)
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	u := s.user(userID)
	for _, r := range rows {
		if sr, ok := u.inventory[r.ID.Value]; ok {
			sr.row.Quantity = r.Quantity
			sr.row.Order = r.Order
		}
	}
	return nil
}

// FetchInventory implements InventoryRepository.
func (s *MemoryStore) FetchInventory(ctx context.Context, userID int64) ([]model.InventoryRow, error) {
	err := s.begin(ctx, OpFetchInventory)
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	u := s.user(userID)
	out := make([]model.InventoryRow, 0, len(u.inventory))
	for _, sr := range u.inventory {
		r := sr.row
		r.PendingToken = sr.token
		out = append(out, r)
	}
	model.SortInventory(out)
	return out, nil
}

// InsertCreatures implements CreatureRepository.
func (s *MemoryStore) InsertCreatures(ctx context.Context, userID int64, creatures []model.Creature) error {
	err := s.begin(ctx, OpInsertCreatures)
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	u := s.user(userID)
	for _, cr := range creatures {
		if !cr.ID.IsPending() {
			return fmt.Errorf("insert of non-pending creature id %s", cr.ID)
		}
		if existing := u.creatureByToken(cr.ID.Value); existing != nil {
			id := existing.creature.ID
			existing.creature = cr
			existing.creature.ID = id
			continue
		}
		stored := cr
		stored.ID = s.newID()
		u.creatures[stored.ID.Value] = &storedCreature{creature: stored, token: cr.ID.Value}
	}
	return nil
}

func (u *memUser) creatureByToken(token int64) *storedCreature {
	for _, sc := range u.creatures {
		if sc.token == token {
			return sc
		}
	}
	return nil
}

// DeleteCreatures implements CreatureRepository.
func (s *MemoryStore) DeleteCreatures(ctx context.Context, userID int64, ids []int64) error {
	err := s.begin(ctx, OpDeleteCreatures)
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	u := s.user(userID)
	for _, id := range ids {
		delete(u.creatures, id)
	}
	return nil
}

// UpdateCreatures implements CreatureRepository.
func (s *MemoryStore) UpdateCreatures(ctx context.Context, userID int64, creatures []model.Creature) error {
	err := s.begin(ctx, OpUpdateCreatures)
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	u := s.user(userID)
	for _, cr := range creatures {
		if sc, ok := u.creatures[cr.ID.Value]; ok {
			created := sc.creature.CreatedAt
			sc.creature = cr
			sc.creature.CreatedAt = created
		}
	}
	return nil
}

// FetchCreatures implements CreatureRepository.
func (s *MemoryStore) FetchCreatures(ctx context.Context, userID int64) ([]model.Creature, error) {
	err := s.begin(ctx, OpFetchCreatures)
	defer s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	u := s.user(userID)
	out := make([]model.Creature, 0, len(u.creatures))
	for _, sc := range u.creatures {
		cr := sc.creature
		cr.PendingToken = sc.token
		out = append(out, cr)
	}
	model.SortCreatures(out)
	return out, nil
}

// Rows returns the stored inventory of a user ordered by durable id, for inspection.
func (s *MemoryStore) Rows(userID int64) []model.InventoryRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(userID)
	out := make([]model.InventoryRow, 0, len(u.inventory))
	for _, sr := range u.inventory {
		out = append(out, sr.row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Value < out[j].ID.Value })
	return out
}

// Fields returns the stored scalar fields of a user.
func (s *MemoryStore) Fields(userID int64) (model.UserState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.UserState{}, false
	}
	return u.fields, true
}

// GetStats implements Store.
func (s *MemoryStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows, creatures int
	for _, u := range s.users {
		rows += len(u.inventory)
		creatures += len(u.creatures)
	}
	return map[string]interface{}{
		"type":            "memory",
		"total_users":     len(s.users),
		"total_inventory": rows,
		"total_creatures": creatures,
	}, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
