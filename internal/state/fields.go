package state

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"vinzhub-gamestate/internal/ledger"
	"vinzhub-gamestate/internal/model"
	"vinzhub-gamestate/internal/stateerr"
)

// Field names a scalar user field.
type Field string

const (
	FieldUsername Field = "username"
	FieldGold     Field = "gold"
	FieldGems     Field = "gems"
	FieldLevel    Field = "level"
	FieldXP       Field = "xp"
	FieldEnergy   Field = "energy"
)

// CombatField names a field of the combat sub-record.
type CombatField string

const (
	CombatHP             CombatField = "hp"
	CombatMaxHP          CombatField = "max_hp"
	CombatAttack         CombatField = "attack"
	CombatDefense        CombatField = "defense"
	CombatSpeed          CombatField = "speed"
	CombatCritRate       CombatField = "crit_rate"
	CombatActiveCreature CombatField = "active_creature"
)

// UpdateField sets a scalar field. Values are type-checked; currencies and
// counters must not go negative and the level starts at 1.
func (h *Handle) UpdateField(f Field, value interface{}) error {
	const op = "state.field"
	st, err := h.State()
	if err != nil {
		return err
	}

	if f == FieldUsername {
		name, ok := value.(string)
		if !ok {
			return stateerr.Validation(h.userID, op, "%s expects a string, got %T", f, value)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return stateerr.Validation(h.userID, op, "%s must not be empty", f)
		}
		st.Username = name
		h.fieldsChanged(st)
		return nil
	}

	n, ok := toInt64(value)
	if !ok {
		return stateerr.Validation(h.userID, op, "%s expects an integer, got %T", f, value)
	}
	switch f {
	case FieldGold, FieldGems, FieldXP, FieldEnergy:
		if n < 0 {
			return stateerr.Validation(h.userID, op, "%s must not be negative, got %d", f, n)
		}
	case FieldLevel:
		if n < 1 || n > math.MaxInt32 {
			return stateerr.Validation(h.userID, op, "%s out of range: %d", f, n)
		}
	default:
		return stateerr.Validation(h.userID, op, "unknown field %q", f)
	}

	switch f {
	case FieldGold:
		st.Gold = n
	case FieldGems:
		st.Gems = n
	case FieldXP:
		st.XP = n
	case FieldEnergy:
		st.Energy = n
	case FieldLevel:
		st.Level = int(n)
	}
	h.fieldsChanged(st)
	return nil
}

// AddCurrency adjusts gold or gems by delta, refusing to go below zero.
func (h *Handle) AddCurrency(f Field, delta int64) (int64, error) {
	st, err := h.State()
	if err != nil {
		return 0, err
	}
	var cur int64
	switch f {
	case FieldGold:
		cur = st.Gold
	case FieldGems:
		cur = st.Gems
	default:
		return 0, stateerr.Validation(h.userID, "state.currency", "%s is not a currency", f)
	}
	if cur+delta < 0 {
		return 0, stateerr.Validation(h.userID, "state.currency", "insufficient %s: have %d, delta %d", f, cur, delta)
	}
	if err := h.UpdateField(f, cur+delta); err != nil {
		return 0, err
	}
	return cur + delta, nil
}

// UpdateCombatField sets one combat field. The active creature must be owned by
// the user or unset.
func (h *Handle) UpdateCombatField(f CombatField, value interface{}) error {
	const op = "state.combat"
	st, err := h.State()
	if err != nil {
		return err
	}
	combat := st.Combat

	switch f {
	case CombatActiveCreature:
		id, err := toEntityID(value)
		if err != nil {
			return stateerr.Validation(h.userID, op, "%s: %v", f, err)
		}
		id = h.Resolve(ledger.Creatures, id)
		if !id.IsZero() && st.FindCreature(id) < 0 {
			return stateerr.Validation(h.userID, op, "%s %s is not owned by the user", f, id)
		}
		combat.ActiveCreature = id
	case CombatCritRate:
		r, ok := toFloat64(value)
		if !ok {
			return stateerr.Validation(h.userID, op, "%s expects a number, got %T", f, value)
		}
		if r < 0 || r > 1 || math.IsNaN(r) {
			return stateerr.Validation(h.userID, op, "%s must be within [0, 1], got %v", f, r)
		}
		combat.CritRate = r
	default:
		n, ok := toInt64(value)
		if !ok {
			return stateerr.Validation(h.userID, op, "%s expects an integer, got %T", f, value)
		}
		if n < 0 {
			return stateerr.Validation(h.userID, op, "%s must not be negative, got %d", f, n)
		}
		switch f {
		case CombatHP:
			combat.HP = n
		case CombatMaxHP:
			combat.MaxHP = n
		case CombatAttack:
			combat.Attack = n
		case CombatDefense:
			combat.Defense = n
		case CombatSpeed:
			combat.Speed = n
		default:
			return stateerr.Validation(h.userID, op, "unknown combat field %q", f)
		}
		if combat.MaxHP > 0 && combat.HP > combat.MaxHP {
			return stateerr.Validation(h.userID, op, "hp %d exceeds max_hp %d", combat.HP, combat.MaxHP)
		}
	}

	st.Combat = combat
	h.fieldsChanged(st)
	return nil
}

func (h *Handle) fieldsChanged(st *model.UserState) {
	h.c.ledger.MarkFields(h.userID)
	h.mutated(st)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.Abs(n) > 1<<53 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		i, ok := toInt64(v)
		return float64(i), ok
	}
}

func toEntityID(v interface{}) (model.EntityID, error) {
	switch id := v.(type) {
	case model.EntityID:
		return id, nil
	case nil:
		return model.EntityID{}, nil
	case string:
		return model.ParseEntityID(id)
	default:
		return model.EntityID{}, fmt.Errorf("expects an entity id, got %T", v)
	}
}
