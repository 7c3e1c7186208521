package accountsdb

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/canonical/lxd-sysusers/rootpath"
	"github.com/canonical/lxd-sysusers/rules"
	"github.com/canonical/lxd-sysusers/sysuserr"
)

// Write fuses the on-disk passwd/group files with the pending insertions
// recorded in todoUIDs/todoGIDs, replacing each file atomically and
// leaving a byte-identical backup of the prior content at "<file>-". It
// runs only for a namespace whose todo map is non-empty. Each file is
// either fully replaced or left untouched, and temp files are unlinked
// before returning on any error. The group file is renamed into place
// before the passwd file, so a failure of the passwd rename leaves the
// new group file installed.
func Write(root string, uni *rules.Universe, todoUIDs, todoGIDs map[uint32]*rules.Item) error {
	groupPath := rootpath.Join(root, "/etc/group")
	passwdPath := rootpath.Join(root, "/etc/passwd")

	var groupTmp, passwdTmp string

	cleanup := func() {
		if groupTmp != "" {
			os.Remove(groupTmp)
		}

		if passwdTmp != "" {
			os.Remove(passwdTmp)
		}
	}

	if len(todoGIDs) > 0 {
		tmp, err := writeGroupFile(groupPath, uni, todoGIDs)
		groupTmp = tmp
		if err != nil {
			cleanup()
			return fmt.Errorf("writing group file: %w", err)
		}
	}

	if len(todoUIDs) > 0 {
		tmp, err := writePasswdFile(passwdPath, uni, todoUIDs)
		passwdTmp = tmp
		if err != nil {
			cleanup()
			return fmt.Errorf("writing passwd file: %w", err)
		}
	}

	if groupTmp != "" {
		if err := makeBackup(groupPath); err != nil {
			cleanup()
			return fmt.Errorf("backing up group file: %w", err)
		}
	}

	if passwdTmp != "" {
		if err := makeBackup(passwdPath); err != nil {
			cleanup()
			return fmt.Errorf("backing up passwd file: %w", err)
		}
	}

	if groupTmp != "" {
		if err := os.Rename(groupTmp, groupPath); err != nil {
			cleanup()
			return fmt.Errorf("installing group file: %w", err)
		}

		groupTmp = ""
	}

	if passwdTmp != "" {
		if err := os.Rename(passwdTmp, passwdPath); err != nil {
			cleanup()
			return fmt.Errorf("installing passwd file: %w", err)
		}

		passwdTmp = ""
	}

	return nil
}

func createSiblingTemp(target string) (*os.File, error) {
	dir := filepath.Dir(target)
	base := filepath.Base(target)

	f, err := os.CreateTemp(dir, base+".*")
	if err != nil {
		return nil, err
	}

	if err := f.Chmod(0644); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}

	return f, nil
}

func writeGroupFile(path string, uni *rules.Universe, todoGIDs map[uint32]*rules.Item) (tmpPath string, err error) {
	tmp, err := createSiblingTemp(path)
	if err != nil {
		return "", err
	}

	defer func() {
		if err != nil {
			tmp.Close()
		}
	}()

	tmpPath = tmp.Name()

	w := bufio.NewWriter(tmp)

	if orig, openErr := os.Open(path); openErr == nil {
		defer orig.Close()

		sc := bufio.NewScanner(orig)
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				continue
			}

			fields := strings.Split(line, ":")
			name := fields[0]

			if existing, ok := uni.Groups[name]; ok && existing.Todo {
				return tmpPath, &sysuserr.ConsistencyError{Kind: sysuserr.DuplicateUnderLock, Name: name}
			}

			if len(fields) > 2 {
				if gid, perr := strconv.ParseUint(fields[2], 10, 32); perr == nil {
					if _, ok := todoGIDs[uint32(gid)]; ok {
						return tmpPath, &sysuserr.ConsistencyError{Kind: sysuserr.DuplicateUnderLock, Name: name}
					}
				}
			}

			fmt.Fprintln(w, line)
		}

		if serr := sc.Err(); serr != nil {
			return tmpPath, serr
		}
	} else if !os.IsNotExist(openErr) {
		return tmpPath, openErr
	}

	for gid, item := range todoGIDs {
		fmt.Fprintf(w, "%s:x:%d:\n", item.Name, gid)
	}

	if err = w.Flush(); err != nil {
		return tmpPath, err
	}

	if err = tmp.Sync(); err != nil {
		return tmpPath, err
	}

	err = tmp.Close()
	return tmpPath, err
}

func writePasswdFile(path string, uni *rules.Universe, todoUIDs map[uint32]*rules.Item) (tmpPath string, err error) {
	tmp, err := createSiblingTemp(path)
	if err != nil {
		return "", err
	}

	defer func() {
		if err != nil {
			tmp.Close()
		}
	}()

	tmpPath = tmp.Name()

	w := bufio.NewWriter(tmp)

	if orig, openErr := os.Open(path); openErr == nil {
		defer orig.Close()

		sc := bufio.NewScanner(orig)
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				continue
			}

			fields := strings.Split(line, ":")
			name := fields[0]

			if existing, ok := uni.Users[name]; ok && existing.Todo {
				return tmpPath, &sysuserr.ConsistencyError{Kind: sysuserr.DuplicateUnderLock, Name: name}
			}

			if len(fields) > 2 {
				if uid, perr := strconv.ParseUint(fields[2], 10, 32); perr == nil {
					if _, ok := todoUIDs[uint32(uid)]; ok {
						return tmpPath, &sysuserr.ConsistencyError{Kind: sysuserr.DuplicateUnderLock, Name: name}
					}
				}
			}

			fmt.Fprintln(w, line)
		}

		if serr := sc.Err(); serr != nil {
			return tmpPath, serr
		}
	} else if !os.IsNotExist(openErr) {
		return tmpPath, openErr
	}

	for uid, item := range todoUIDs {
		home, shell := "/", "/sbin/nologin"
		if uid == 0 {
			home, shell = "/root", "/bin/sh"
		}

		fmt.Fprintf(w, "%s:x:%d:%d:%s:%s:%s\n", item.Name, uid, item.GID, item.Description, home, shell)
	}

	if err = w.Flush(); err != nil {
		return tmpPath, err
	}

	if err = tmp.Sync(); err != nil {
		return tmpPath, err
	}

	err = tmp.Close()
	return tmpPath, err
}

// makeBackup copies the current content of x to "x-", byte for byte,
// preserving mode, best-effort owner/group, and atime/mtime. If x does
// not exist yet, no backup is necessary.
func makeBackup(x string) (err error) {
	src, err := os.Open(x)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}
	defer src.Close()

	st, err := src.Stat()
	if err != nil {
		return err
	}

	dir := filepath.Dir(x)
	tmp, err := os.CreateTemp(dir, filepath.Base(x)+".bak.*")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmp, src); err != nil {
		return err
	}

	if err = tmp.Chmod(st.Mode().Perm()); err != nil {
		return err
	}

	stat, hasStat := st.Sys().(*syscall.Stat_t)

	// Best-effort: failing to preserve ownership is not fatal.
	if hasStat {
		_ = tmp.Chown(int(stat.Uid), int(stat.Gid))
	}

	if err = tmp.Close(); err != nil {
		return err
	}

	accessTime := st.ModTime()
	if hasStat {
		accessTime = time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
	}

	if err = os.Chtimes(tmpPath, accessTime, st.ModTime()); err != nil {
		return err
	}

	backup := x + "-"

	err = os.Rename(tmpPath, backup)
	return err
}
