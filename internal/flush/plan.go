// Package flush drains a user's pending operations to the backing store and
// reconciles the resident state with what the store confirmed.
package flush

import (
	"sort"

	"vinzhub-gamestate/internal/ledger"
	"vinzhub-gamestate/internal/model"
)

// Plan is the set of store calls one flush issues before re-fetching.
type Plan struct {
	InventoryDeletes []int64
	InventoryCreates []model.InventoryRow
	InventoryUpdates []model.InventoryRow

	CreatureDeletes []int64
	CreatureCreates []model.Creature
	CreatureUpdates []model.Creature

	// Orphan tokens are removed by durable id once the re-fetch shows which
	// rows they landed on.
	InventoryOrphans []int64
	CreatureOrphans  []int64

	SaveFields bool
}

// Empty reports whether the plan needs no store call at all.
func (p *Plan) Empty() bool {
	return len(p.InventoryDeletes) == 0 && len(p.InventoryCreates) == 0 && len(p.InventoryUpdates) == 0 &&
		len(p.CreatureDeletes) == 0 && len(p.CreatureCreates) == 0 && len(p.CreatureUpdates) == 0 &&
		len(p.InventoryOrphans) == 0 && len(p.CreatureOrphans) == 0 && !p.SaveFields
}

// BuildPlan nets the pending operations of one user against the resident state.
//
// Inventory is netted per slot key: the target quantity of a touched key is the
// sum of resident rows with that key. A positive target is written as one
// absolute update of the newest resident durable row, else of the newest
// delete-marked durable row, else as one create carrying the oldest pending
// token. Every other durable row of the key is deleted. Creatures are not fungible and map one to one.
func BuildPlan(st *model.UserState, ops ledger.UserOps) *Plan {
	p := &Plan{SaveFields: ops.FieldsDirty}
	planInventory(p, st, ops.Inventory)
	planCreatures(p, st, ops.Creatures)

	p.InventoryOrphans = tokens(ops.Inventory.Orphans)
	p.CreatureOrphans = tokens(ops.Creatures.Orphans)

	sortInt64s(p.InventoryDeletes)
	sortInt64s(p.CreatureDeletes)
	sort.Slice(p.InventoryCreates, func(i, j int) bool { return p.InventoryCreates[i].ID.Value < p.InventoryCreates[j].ID.Value })
	sort.Slice(p.InventoryUpdates, func(i, j int) bool { return p.InventoryUpdates[i].ID.Value < p.InventoryUpdates[j].ID.Value })
	sort.Slice(p.CreatureCreates, func(i, j int) bool { return p.CreatureCreates[i].ID.Value < p.CreatureCreates[j].ID.Value })
	sort.Slice(p.CreatureUpdates, func(i, j int) bool { return p.CreatureUpdates[i].ID.Value < p.CreatureUpdates[j].ID.Value })
	return p
}

func planInventory(p *Plan, st *model.UserState, ops ledger.Ops) {
	byKey := make(map[model.SlotKey][]model.InventoryRow)
	for _, r := range st.Inventory {
		byKey[r.Key()] = append(byKey[r.Key()], r)
	}
	deletedByKey := make(map[model.SlotKey][]int64)
	for id, k := range ops.Deletes {
		deletedByKey[k] = append(deletedByKey[k], id.Value)
	}

	for key := range ops.TouchedKeys() {
		rows := byKey[key]
		deleted := deletedByKey[key]
		if len(rows) == 0 {
			p.InventoryDeletes = append(p.InventoryDeletes, deleted...)
			continue
		}

		var (
			total   int64
			order   = rows[0].Order
			durable *model.InventoryRow
			oldest  *model.InventoryRow
		)
		for i := range rows {
			r := &rows[i]
			total += r.Quantity
			if r.Order < order {
				order = r.Order
			}
			switch {
			case r.ID.IsDurable():
				if durable == nil || r.ID.Value > durable.ID.Value {
					durable = r
				}
			case r.ID.IsPending():
				if oldest == nil || r.ID.Value < oldest.ID.Value {
					oldest = r
				}
			}
		}

		if durable != nil {
			p.InventoryDeletes = append(p.InventoryDeletes, deleted...)
			for _, r := range rows {
				if r.ID.IsDurable() && r.ID != durable.ID {
					p.InventoryDeletes = append(p.InventoryDeletes, r.ID.Value)
				}
			}
			up := *durable
			up.Quantity = total
			up.Order = order
			p.InventoryUpdates = append(p.InventoryUpdates, up)
			continue
		}
		// A removed durable row of a key that ends up non-empty is rewritten in
		// place; the pending rows resolve to it by slot key.
		if len(deleted) > 0 && oldest != nil {
			target := deleted[0]
			for _, id := range deleted {
				if id > target {
					target = id
				}
			}
			for _, id := range deleted {
				if id != target {
					p.InventoryDeletes = append(p.InventoryDeletes, id)
				}
			}
			up := *oldest
			up.ID = model.Durable(target)
			up.Quantity = total
			up.Order = order
			p.InventoryUpdates = append(p.InventoryUpdates, up)
			continue
		}
		if oldest != nil {
			create := *oldest
			create.Quantity = total
			create.Order = order
			p.InventoryCreates = append(p.InventoryCreates, create)
		}
	}
}

func planCreatures(p *Plan, st *model.UserState, ops ledger.Ops) {
	for id := range ops.Deletes {
		p.CreatureDeletes = append(p.CreatureDeletes, id.Value)
	}
	for _, cr := range st.Creatures {
		if _, ok := ops.Creates[cr.ID]; ok {
			p.CreatureCreates = append(p.CreatureCreates, cr)
			continue
		}
		if _, ok := ops.Updates[cr.ID]; ok {
			p.CreatureUpdates = append(p.CreatureUpdates, cr)
		}
	}
}

func tokens(m map[model.EntityID]model.SlotKey) []int64 {
	if len(m) == 0 {
		return nil
	}
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id.Value)
	}
	sortInt64s(out)
	return out
}

func sortInt64s(s []int64) {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
}
