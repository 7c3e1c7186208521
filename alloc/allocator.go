// Package alloc implements the identifier allocation and todo-scheduling
// engine: it walks a parsed declaration universe, resolves each item
// against the live account databases (and, absent an alternate root, NSS)
// and decides the UID/GID each new user or group will receive.
package alloc

import (
	"os"
	"sort"
	"syscall"

	"github.com/canonical/lxd-sysusers/accountsdb"
	"github.com/canonical/lxd-sysusers/nssquery"
	"github.com/canonical/lxd-sysusers/rootpath"
	"github.com/canonical/lxd-sysusers/rules"
	"github.com/canonical/lxd-sysusers/sysuserr"
)

// SystemUIDMax and SystemGIDMax bound both the path-derived id acceptance
// window and the descending search range. Id 0 is never considered: the
// search stops at 1.
const (
	SystemUIDMax = 999
	SystemGIDMax = 999
)

// Allocator resolves declaration items against the loaded account
// databases and NSS, scheduling new entries into TodoUIDs/TodoGIDs.
type Allocator struct {
	Root    string
	UserDB  *accountsdb.Database
	GroupDB *accountsdb.Database

	TodoUIDs map[uint32]*rules.Item
	TodoGIDs map[uint32]*rules.Item

	searchUID uint32
	searchGID uint32
}

// New returns an Allocator ready to process a universe against the given
// databases. root is the alternate root the run was invoked with, or "".
func New(root string, userDB, groupDB *accountsdb.Database) *Allocator {
	return &Allocator{
		Root:      root,
		UserDB:    userDB,
		GroupDB:   groupDB,
		TodoUIDs:  make(map[uint32]*rules.Item),
		TodoGIDs:  make(map[uint32]*rules.Item),
		searchUID: SystemUIDMax,
		searchGID: SystemGIDMax,
	}
}

func (a *Allocator) altRoot() bool {
	return a.Root != ""
}

// Run resolves every item in uni, in two passes: groups first (absorbing
// any group declaration that shares a name with a user declaration into
// that user's primary-group fields, rather than scheduling a standalone
// group), then users, each of which first resolves its own primary group.
func (a *Allocator) Run(uni *rules.Universe) error {
	for name, g := range uni.Groups {
		u, ok := uni.Users[name]
		if !ok {
			continue
		}

		if g.GIDSet {
			u.GID = g.GID
			u.GIDSet = true
		}

		if g.GIDPath != "" {
			u.GIDPath = g.GIDPath
		}

		delete(uni.Groups, name)
	}

	for _, name := range sortedKeys(uni.Groups) {
		if err := a.addGroup(uni.Groups[name]); err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(uni.Users) {
		item := uni.Users[name]

		if err := a.addGroup(item); err != nil {
			return err
		}

		if err := a.addUser(item); err != nil {
			return err
		}
	}

	return nil
}

func sortedKeys(m map[string]*rules.Item) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// addGroup resolves the primary-group fields of item: the fast path
// against the live group database and NSS, then the hinted GID, then
// reusing a hinted UID as the GID, then a path-derived GID, and finally a
// descending scan. The path-derived GID is the owning group of GIDPath, or,
// for a User item without a GIDPath, of UIDPath. item is scheduled into
// TodoGIDs unless resolved by the fast path.
func (a *Allocator) addGroup(item *rules.Item) error {
	if gid, ok := a.GroupDB.ByName[item.Name]; ok {
		item.GID = gid
		item.GIDSet = true
		return nil
	}

	if !a.altRoot() {
		g, found, err := nssquery.LookupGroup(item.Name)
		if err != nil {
			return err
		}

		if found {
			item.GID = g.GID
			item.GIDSet = true
			return nil
		}
	}

	if item.GIDSet {
		ok, err := a.gidIsOK(item.GID)
		if err != nil {
			return err
		}

		if !ok {
			item.GIDSet = false
		}
	}

	if !item.GIDSet && item.UIDSet {
		ok, err := a.gidIsOK(item.UID)
		if err != nil {
			return err
		}

		if ok {
			item.GID = item.UID
			item.GIDSet = true
		}
	}

	gidPath := item.GIDPath
	if gidPath == "" && item.Type == rules.User {
		gidPath = item.UIDPath
	}

	if !item.GIDSet && gidPath != "" {
		gid, found, err := idFromPath(a.Root, gidPath, true)
		if err != nil {
			return err
		}

		if found && gid > 0 && gid <= SystemGIDMax {
			ok, err := a.gidIsOK(gid)
			if err != nil {
				return err
			}

			if ok {
				item.GID = gid
				item.GIDSet = true
			}
		}
	}

	if !item.GIDSet {
		gid, err := a.scanGID()
		if err != nil {
			return &sysuserr.ExhaustionError{Name: item.Name, IsGID: true}
		}

		item.GID = gid
		item.GIDSet = true
	}

	item.Todo = true
	a.TodoGIDs[item.GID] = item

	return nil
}

// addUser resolves the UID of item, in the order: fast path against the
// live user database and NSS (with a shadow-without-passwd consistency
// check when neither database nor NSS knows the name), the hinted UID, a
// path-derived UID, reusing the already-resolved GID as the UID, and
// finally a descending scan.
func (a *Allocator) addUser(item *rules.Item) error {
	if uid, ok := a.UserDB.ByName[item.Name]; ok {
		item.UID = uid
		item.UIDSet = true
		return nil
	}

	if !a.altRoot() {
		u, found, err := nssquery.LookupUser(item.Name)
		if err != nil {
			return err
		}

		if found {
			item.UID = u.UID
			item.UIDSet = true

			if item.Description == "" {
				item.Description = u.GECOS
			}

			return nil
		}

		hasShadow, err := nssquery.ShadowHasName(item.Name)
		if err != nil {
			return err
		}

		if hasShadow {
			return &sysuserr.ConsistencyError{Kind: sysuserr.ShadowWithoutPasswd, Name: item.Name}
		}
	}

	if item.UIDSet {
		ok, err := a.uidIsOK(item.UID, item.Name)
		if err != nil {
			return err
		}

		if !ok {
			item.UIDSet = false
		}
	}

	if !item.UIDSet && item.UIDPath != "" {
		uid, found, err := idFromPath(a.Root, item.UIDPath, false)
		if err != nil {
			return err
		}

		if found && uid > 0 && uid <= SystemUIDMax {
			ok, err := a.uidIsOK(uid, item.Name)
			if err != nil {
				return err
			}

			if ok {
				item.UID = uid
				item.UIDSet = true
			}
		}
	}

	if !item.UIDSet && item.GIDSet {
		ok, err := a.uidIsOK(item.GID, item.Name)
		if err != nil {
			return err
		}

		if ok {
			item.UID = item.GID
			item.UIDSet = true
		}
	}

	if !item.UIDSet {
		uid, err := a.scanUID(item.Name)
		if err != nil {
			return &sysuserr.ExhaustionError{Name: item.Name, IsGID: false}
		}

		item.UID = uid
		item.UIDSet = true
	}

	item.Todo = true
	a.TodoUIDs[item.UID] = item

	return nil
}

// uidIsOK reports whether uid is free to assign to a user named name: it
// must not collide with any pending or existing uid, nor with a pending
// or existing gid owned by a different name (a uid may coincide with a
// same-named group's gid, matching the usual private-group convention).
func (a *Allocator) uidIsOK(uid uint32, name string) (bool, error) {
	if _, ok := a.TodoUIDs[uid]; ok {
		return false, nil
	}

	if item, ok := a.TodoGIDs[uid]; ok && item.Name != name {
		return false, nil
	}

	if _, ok := a.UserDB.ByID[uid]; ok {
		return false, nil
	}

	if gname, ok := a.GroupDB.ByID[uid]; ok && gname != name {
		return false, nil
	}

	if !a.altRoot() {
		found, err := nssquery.LookupUserByUID(uid)
		if err != nil {
			return false, err
		}

		if found {
			return false, nil
		}

		gname, found, err := nssquery.LookupGroupByGID(uid)
		if err != nil {
			return false, err
		}

		if found && gname != name {
			return false, nil
		}
	}

	return true, nil
}

// gidIsOK reports whether gid is free to assign to a new group: unlike
// uidIsOK there is no same-name exception, since nothing may already be
// using this id for anything.
func (a *Allocator) gidIsOK(gid uint32) (bool, error) {
	if _, ok := a.TodoGIDs[gid]; ok {
		return false, nil
	}

	if _, ok := a.TodoUIDs[gid]; ok {
		return false, nil
	}

	if _, ok := a.GroupDB.ByID[gid]; ok {
		return false, nil
	}

	if _, ok := a.UserDB.ByID[gid]; ok {
		return false, nil
	}

	if !a.altRoot() {
		_, found, err := nssquery.LookupGroupByGID(gid)
		if err != nil {
			return false, err
		}

		if found {
			return false, nil
		}

		found, err = nssquery.LookupUserByUID(gid)
		if err != nil {
			return false, err
		}

		if found {
			return false, nil
		}
	}

	return true, nil
}

// scanUID walks the UID cursor downward from its current position to 1,
// post-decrementing, returning the first id that passes uidIsOK.
func (a *Allocator) scanUID(name string) (uint32, error) {
	for a.searchUID > 0 {
		c := a.searchUID
		a.searchUID--

		ok, err := a.uidIsOK(c, name)
		if err != nil {
			return 0, err
		}

		if ok {
			return c, nil
		}
	}

	return 0, &sysuserr.ExhaustionError{Name: name, IsGID: false}
}

// scanGID is the group analogue of scanUID.
func (a *Allocator) scanGID() (uint32, error) {
	for a.searchGID > 0 {
		c := a.searchGID
		a.searchGID--

		ok, err := a.gidIsOK(c)
		if err != nil {
			return 0, err
		}

		if ok {
			return c, nil
		}
	}

	return 0, &sysuserr.ExhaustionError{IsGID: true}
}

// idFromPath stats path under root and returns the owning uid (wantGID
// false) or gid (wantGID true) of the inode found there. A missing path
// is not an error: it simply yields no candidate.
func idFromPath(root, path string, wantGID bool) (uint32, bool, error) {
	full := rootpath.Join(root, path)

	st, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}

		return 0, false, err
	}

	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false, nil
	}

	if wantGID {
		return sys.Gid, true, nil
	}

	return sys.Uid, true, nil
}
