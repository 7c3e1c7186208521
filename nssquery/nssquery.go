// Package nssquery is the NSS-equivalent lookup boundary: it wraps the
// standard library's os/user package (the sanctioned stdlib NSS client;
// no third-party NSS/LDAP client appears anywhere in the corpus this
// module was grounded on) for passwd/group lookups, and adds a direct
// shadow-file presence check that os/user has no equivalent for.
//
// Every function here must only be called when no alternate root is
// configured — NSS consults the live host database, and a staged root
// filesystem must never leak into it.
package nssquery

import (
	"bufio"
	"os"
	"os/user"
	"strconv"
	"strings"
)

// User mirrors the handful of passwd fields the allocator cares about.
type User struct {
	UID   uint32
	GECOS string
}

// Group mirrors the handful of group fields the allocator cares about.
type Group struct {
	GID uint32
}

// LookupUser reports whether name exists in the passwd NSS view.
func LookupUser(name string) (User, bool, error) {
	u, err := user.Lookup(name)
	if err != nil {
		if isUnknown(err) {
			return User{}, false, nil
		}

		return User{}, false, err
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return User{}, false, err
	}

	return User{UID: uint32(uid), GECOS: firstGecosField(u.Name)}, true, nil
}

// LookupUserByUID reports whether uid exists in the passwd NSS view.
func LookupUserByUID(uid uint32) (bool, error) {
	_, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		if isUnknown(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// LookupGroup reports whether name exists in the group NSS view.
func LookupGroup(name string) (Group, bool, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		if isUnknown(err) {
			return Group{}, false, nil
		}

		return Group{}, false, err
	}

	gid, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return Group{}, false, err
	}

	return Group{GID: uint32(gid)}, true, nil
}

// LookupGroupByGID returns the name of the group owning gid, if any.
func LookupGroupByGID(gid uint32) (string, bool, error) {
	g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10))
	if err != nil {
		if isUnknown(err) {
			return "", false, nil
		}

		return "", false, err
	}

	return g.Name, true, nil
}

// ShadowHasName reports whether /etc/shadow contains an entry for name.
// There is no stdlib or ecosystem shadow parser in the corpus; this is a
// minimal direct reader, used only on the NSS branch (no alternate root).
func ShadowHasName(name string) (bool, error) {
	f, err := os.Open("/etc/shadow")
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		field, _, found := strings.Cut(line, ":")
		if found && field == name {
			return true, nil
		}
	}

	return false, sc.Err()
}

func isUnknown(err error) bool {
	switch err.(type) {
	case user.UnknownUserError, user.UnknownUserIdError, user.UnknownGroupError, user.UnknownGroupIdError:
		return true
	default:
		return false
	}
}

// firstGecosField extracts the GECOS "full name" field os/user already
// parses out of the comma-separated passwd GECOS entry. os/user discards
// the remaining subfields (room number, phone, etc.), which this tool has
// no use for beyond adopting an existing description.
func firstGecosField(name string) string {
	return name
}
