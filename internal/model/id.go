package model

import (
	"fmt"
	"strconv"
	"strings"
)

// IDKind tells whether an entity identifier was assigned by the store or locally.
type IDKind uint8

const (
	// KindUnset is the zero value; no entity in a collection may carry it.
	KindUnset IDKind = iota
	// KindDurable identifiers are assigned by the backing store.
	KindDurable
	// KindPending identifiers are placeholders minted before persistence.
	KindPending
)

// EntityID identifies an inventory row or a creature.
type EntityID struct {
	Kind  IDKind
	Value int64
}

// Durable returns a store-assigned identifier.
func Durable(id int64) EntityID {
	return EntityID{Kind: KindDurable, Value: id}
}

// Pending returns a locally-assigned placeholder identifier.
func Pending(token int64) EntityID {
	return EntityID{Kind: KindPending, Value: token}
}

// IsDurable reports whether the identifier was assigned by the store.
func (id EntityID) IsDurable() bool { return id.Kind == KindDurable }

// IsPending reports whether the identifier is still a placeholder.
func (id EntityID) IsPending() bool { return id.Kind == KindPending }

// IsZero reports whether the identifier is unset.
func (id EntityID) IsZero() bool { return id.Kind == KindUnset }

// String renders the identifier as "d:<id>" or "p:<token>".
func (id EntityID) String() string {
	switch id.Kind {
	case KindDurable:
		return "d:" + strconv.FormatInt(id.Value, 10)
	case KindPending:
		return "p:" + strconv.FormatInt(id.Value, 10)
	default:
		return "unset"
	}
}

// MarshalText implements encoding.TextMarshaler so identifiers can be JSON map keys.
func (id EntityID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *EntityID) UnmarshalText(text []byte) error {
	parsed, err := ParseEntityID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseEntityID parses the String form of an identifier. A bare positive integer is
// accepted as a durable identifier.
func ParseEntityID(s string) (EntityID, error) {
	if s == "" || s == "unset" {
		return EntityID{}, nil
	}
	kind := KindDurable
	raw := s
	switch {
	case strings.HasPrefix(s, "d:"):
		raw = s[2:]
	case strings.HasPrefix(s, "p:"):
		kind = KindPending
		raw = s[2:]
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return EntityID{}, fmt.Errorf("invalid entity id %q", s)
	}
	return EntityID{Kind: kind, Value: v}, nil
}
