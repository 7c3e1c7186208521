// Package accountsdb loads the passwd/group account databases into
// in-memory indices and atomically rewrites them with the allocator's
// pending insertions merged in.
package accountsdb

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/canonical/lxd-sysusers/rootpath"
)

// Database is the in-memory view of one account database (passwd or
// group): a name-keyed index and an id-keyed index, kept mutually
// consistent. A duplicate name or id in the source file is tolerated —
// first one wins — matching the loader's tolerance of pre-existing,
// lightly malformed files.
type Database struct {
	ByName map[string]uint32
	ByID   map[uint32]string
}

func newDatabase() *Database {
	return &Database{
		ByName: make(map[string]uint32),
		ByID:   make(map[uint32]string),
	}
}

// LoadUserDatabase reads ${root}/etc/passwd into a Database keyed on the
// login name and UID. A missing file is not an error.
func LoadUserDatabase(root string) (*Database, error) {
	return loadDatabase(rootpath.Join(root, "/etc/passwd"), 2)
}

// LoadGroupDatabase reads ${root}/etc/group into a Database keyed on the
// group name and GID. A missing file is not an error.
func LoadGroupDatabase(root string) (*Database, error) {
	return loadDatabase(rootpath.Join(root, "/etc/group"), 2)
}

// loadDatabase parses a colon-separated account file, taking the name
// from field 0 and the numeric id from idField.
func loadDatabase(path string, idField int) (*Database, error) {
	db := newDatabase()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return db, nil
		}

		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}

		fields := strings.Split(line, ":")
		if len(fields) <= idField {
			continue
		}

		name := fields[0]

		id64, err := strconv.ParseUint(fields[idField], 10, 32)
		if err != nil {
			continue
		}

		id := uint32(id64)

		if _, ok := db.ByName[name]; !ok {
			db.ByName[name] = id
		}

		if _, ok := db.ByID[id]; !ok {
			db.ByID[id] = name
		}
	}

	return db, sc.Err()
}
