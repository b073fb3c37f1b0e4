package flush

import (
	"vinzhub-gamestate/internal/ledger"
	"vinzhub-gamestate/internal/model"
	"vinzhub-gamestate/internal/stateerr"
)

// remapInventory resolves every pending create to a fetched durable row. A row
// carrying the pending token wins; otherwise the newest row with the same slot key
// is chosen, which covers pending rows netted into another row's write.
func remapInventory(userID int64, ops ledger.Ops, fetched []model.InventoryRow) (map[model.EntityID]model.EntityID, error) {
	if len(ops.Creates) == 0 {
		return nil, nil
	}
	byToken := make(map[int64]model.EntityID, len(fetched))
	newest := make(map[model.SlotKey]model.EntityID)
	for _, r := range fetched {
		if r.PendingToken != 0 {
			byToken[r.PendingToken] = r.ID
		}
		if cur, ok := newest[r.Key()]; !ok || r.ID.Value > cur.Value {
			newest[r.Key()] = r.ID
		}
	}
	return resolve(userID, "flush.remap_inventory", ops.Creates, byToken, newest)
}

// remapCreatures resolves pending creatures by token, then by species.
func remapCreatures(userID int64, ops ledger.Ops, fetched []model.Creature) (map[model.EntityID]model.EntityID, error) {
	if len(ops.Creates) == 0 {
		return nil, nil
	}
	byToken := make(map[int64]model.EntityID, len(fetched))
	newest := make(map[model.SlotKey]model.EntityID)
	for _, cr := range fetched {
		if cr.PendingToken != 0 {
			byToken[cr.PendingToken] = cr.ID
		}
		if cur, ok := newest[cr.Key()]; !ok || cr.ID.Value > cur.Value {
			newest[cr.Key()] = cr.ID
		}
	}
	return resolve(userID, "flush.remap_creatures", ops.Creates, byToken, newest)
}

func resolve(userID int64, op string, creates map[model.EntityID]model.SlotKey,
	byToken map[int64]model.EntityID, newest map[model.SlotKey]model.EntityID) (map[model.EntityID]model.EntityID, error) {
	out := make(map[model.EntityID]model.EntityID, len(creates))
	for pending, key := range creates {
		if id, ok := byToken[pending.Value]; ok {
			out[pending] = id
			continue
		}
		id, ok := newest[key]
		if !ok {
			return nil, stateerr.Reconciliation(userID, op, "no stored row matches %s (%s)", pending, key)
		}
		out[pending] = id
	}
	return out, nil
}
