package rules

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/canonical/lxd-sysusers/hostfacts"
	"github.com/canonical/lxd-sysusers/rootpath"
	"github.com/canonical/lxd-sysusers/synclog"
)

// ConfFileDirs are the declaration directories searched, in precedence
// order, when no explicit files are given on the command line.
var ConfFileDirs = []string{
	"/usr/local/lib/sysusers.d",
	"/usr/lib/sysusers.d",
	"/lib/sysusers.d",
}

// Universe is the parsed set of user and group declarations, keyed by
// name within their type.
type Universe struct {
	Users  map[string]*Item
	Groups map[string]*Item
}

// NewUniverse returns an empty Universe.
func NewUniverse() *Universe {
	return &Universe{
		Users:  make(map[string]*Item),
		Groups: make(map[string]*Item),
	}
}

// Discover enumerates ConfFileDirs under root, returning the merged set of
// *.conf files with first-in-precedence-order wins on basename collisions,
// sorted by basename for deterministic parse order.
func Discover(root string) ([]string, error) {
	seen := make(map[string]string)

	for _, dir := range ConfFileDirs {
		entries, err := os.ReadDir(rootpath.Join(root, dir))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, err
		}

		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".conf") {
				continue
			}

			if _, ok := seen[e.Name()]; ok {
				continue
			}

			seen[e.Name()] = filepath.Join(rootpath.Join(root, dir), e.Name())
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	sort.Strings(names)

	files := make([]string, 0, len(names))
	for _, name := range names {
		files = append(files, seen[name])
	}

	return files, nil
}

// LoadFile parses one declaration file, line by line, and merges its items
// into the universe using first-parsed-for-a-name-wins semantics.
func (u *Universe) LoadFile(path string, facts hostfacts.Facts) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var firstErr error

	sc := bufio.NewScanner(f)
	lineNo := 0

	for sc.Scan() {
		lineNo++

		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		item, err := ParseLine(path, lineNo, line, facts)
		if err != nil {
			synclog.Error(err.Error(), synclog.Ctx{"file": path, "line": lineNo})

			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		u.insert(item, path, lineNo)
	}

	if err := sc.Err(); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (u *Universe) insert(item *Item, path string, lineNo int) {
	table := u.Users
	if item.Type == Group {
		table = u.Groups
	}

	existing, ok := table[item.Name]
	if !ok {
		table[item.Name] = item
		return
	}

	if !Equal(existing, item) {
		synclog.Warn("Two or more conflicting lines configured, ignoring", synclog.Ctx{
			"name": item.Name,
			"file": path,
			"line": lineNo,
		})
	}
}

// DiscoverAndLoad discovers and loads declaration files from ConfFileDirs.
func DiscoverAndLoad(root string, facts hostfacts.Facts) (*Universe, error) {
	files, err := Discover(root)
	if err != nil {
		return nil, err
	}

	u := NewUniverse()

	var firstErr error

	for _, f := range files {
		if err := u.LoadFile(f, facts); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return u, firstErr
}

// LoadExplicit loads exactly the given files, replacing discovery.
func LoadExplicit(paths []string, facts hostfacts.Facts) (*Universe, error) {
	u := NewUniverse()

	var firstErr error

	for _, p := range paths {
		if err := u.LoadFile(p, facts); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return u, firstErr
}
