// Package rules implements the declaration parser: it lexes sysusers.d
// style lines into normalized Item records, expands specifier tokens,
// validates names and GECOS fields, and merges declarations found across
// multiple files with first-parsed-wins semantics.
package rules

// ItemType discriminates between a user and a group declaration.
type ItemType int

const (
	// User is a declaration of a system user account.
	User ItemType = iota
	// Group is a declaration of a system group.
	Group
)

func (t ItemType) String() string {
	if t == Group {
		return "group"
	}

	return "user"
}

// Item is the normalized declaration record described in the data model:
// at most one of {UID, UIDPath} is authoritative for a User item, and the
// group analogue holds for a Group item. A User item's GID/GIDPath fields
// are populated by the allocator's cross-type merge before user
// allocation runs (see the alloc package), so both fields live on every
// Item regardless of its Type.
type Item struct {
	Type ItemType
	Name string

	UID    uint32
	UIDSet bool

	GID    uint32
	GIDSet bool

	UIDPath string
	GIDPath string

	Description string

	// Todo is set by the allocator once this item has been scheduled
	// for creation. GIDSet is then true; for a User item, UIDSet is also
	// true once the allocator has finished with it. A Group item never
	// gets UIDSet from the allocator.
	Todo bool
}

// Equal reports whether two items have identical significant fields, per
// the insertion policy: duplicate declarations with identical content are
// silently merged, conflicting ones are dropped with a warning.
func Equal(a, b *Item) bool {
	if a.Type != b.Type {
		return false
	}

	if a.Name != b.Name {
		return false
	}

	if a.UIDPath != b.UIDPath {
		return false
	}

	if a.GIDPath != b.GIDPath {
		return false
	}

	if a.Description != b.Description {
		return false
	}

	if a.UIDSet != b.UIDSet {
		return false
	}

	if a.UIDSet && a.UID != b.UID {
		return false
	}

	if a.GIDSet != b.GIDSet {
		return false
	}

	if a.GIDSet && a.GID != b.GID {
		return false
	}

	return true
}
