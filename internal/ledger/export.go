package ledger

import "vinzhub-gamestate/internal/model"

// Entry is one serialised operation.
type Entry struct {
	ID  model.EntityID `json:"id"`
	Key model.SlotKey  `json:"key"`
}

// ExportedOps is the serialised form of Ops.
type ExportedOps struct {
	Creates []Entry          `json:"creates,omitempty"`
	Updates []Entry          `json:"updates,omitempty"`
	Deletes []Entry          `json:"deletes,omitempty"`
	Orphans []Entry          `json:"orphans,omitempty"`
	InDoubt []model.EntityID `json:"in_doubt,omitempty"`
}

// Exported is the serialised ledger of one user, carried inside snapshots so that
// pending work survives a restart.
type Exported struct {
	Inventory      ExportedOps     `json:"inventory"`
	Creatures      ExportedOps     `json:"creatures"`
	FieldsDirty    bool            `json:"fields_dirty,omitempty"`
	InventoryRemap map[int64]int64 `json:"inventory_remap,omitempty"`
	CreatureRemap  map[int64]int64 `json:"creature_remap,omitempty"`
}

// Empty reports whether the export carries no pending work.
func (e Exported) Empty() bool {
	return !e.FieldsDirty && e.Inventory.empty() && e.Creatures.empty()
}

func (e ExportedOps) empty() bool {
	return len(e.Creates) == 0 && len(e.Updates) == 0 && len(e.Deletes) == 0 && len(e.Orphans) == 0
}

func exportEntries(m map[model.EntityID]model.SlotKey) []Entry {
	if len(m) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(m))
	for id, k := range m {
		out = append(out, Entry{ID: id, Key: k})
	}
	return out
}

func exportOps(o Ops) ExportedOps {
	e := ExportedOps{
		Creates: exportEntries(o.Creates),
		Updates: exportEntries(o.Updates),
		Deletes: exportEntries(o.Deletes),
		Orphans: exportEntries(o.Orphans),
	}
	for id := range o.InDoubt {
		e.InDoubt = append(e.InDoubt, id)
	}
	return e
}

func importOps(e ExportedOps) Ops {
	o := newOps()
	for _, en := range e.Creates {
		o.Creates[en.ID] = en.Key
	}
	for _, en := range e.Updates {
		o.Updates[en.ID] = en.Key
	}
	for _, en := range e.Deletes {
		o.Deletes[en.ID] = en.Key
	}
	for _, en := range e.Orphans {
		o.Orphans[en.ID] = en.Key
	}
	for _, id := range e.InDoubt {
		o.InDoubt[id] = true
	}
	return o
}

func copyRemap(m map[int64]int64) map[int64]int64 {
	cp := make(map[int64]int64, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// Export serialises the user's ledger.
func (l *Ledger) Export(userID int64) Exported {
	l.mu.Lock()
	defer l.mu.Unlock()

	ul, ok := l.users[userID]
	if !ok {
		return Exported{}
	}
	return Exported{
		Inventory:      exportOps(ul.ops[Inventory]),
		Creatures:      exportOps(ul.ops[Creatures]),
		FieldsDirty:    ul.fieldsDirty,
		InventoryRemap: copyRemap(ul.remap[Inventory]),
		CreatureRemap:  copyRemap(ul.remap[Creatures]),
	}
}

// Restore replaces the user's ledger with a previously exported one.
func (l *Ledger) Restore(userID int64, e Exported) {
	ul := newUserLedger()
	ul.ops[Inventory] = importOps(e.Inventory)
	ul.ops[Creatures] = importOps(e.Creatures)
	ul.fieldsDirty = e.FieldsDirty
	ul.remap[Inventory] = copyRemap(e.InventoryRemap)
	ul.remap[Creatures] = copyRemap(e.CreatureRemap)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.users[userID] = ul
}
