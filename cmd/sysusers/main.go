// Command sysusers creates the system users and groups declared in
// sysusers.d-style configuration files, reconciling them against the
// existing passwd/group databases under an exclusive lock.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canonical/lxd-sysusers/accountsdb"
	"github.com/canonical/lxd-sysusers/alloc"
	"github.com/canonical/lxd-sysusers/hostfacts"
	"github.com/canonical/lxd-sysusers/locking"
	"github.com/canonical/lxd-sysusers/rules"
	"github.com/canonical/lxd-sysusers/synclog"
)

// version is overridden at release build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var root string
	var logLevel string

	cmd := &cobra.Command{
		Use:          "sysusers [file...]",
		Short:        "Create system users and groups from declarative configuration",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			synclog.SetLevel(logLevel)
			return run(root, args)
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "operate on an alternate root filesystem")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

// keepFirstErr returns the error the run should ultimately report: the
// earlier retained error if there is one (err is then logged under msg),
// otherwise err itself wrapped with msg. Per spec.md §7, the first error in
// each phase is retained and later ones are logged but never overwrite it.
func keepFirstErr(first, err error, msg string) error {
	if err == nil {
		return first
	}

	if first == nil {
		return fmt.Errorf("%s: %w", msg, err)
	}

	synclog.Error(msg, synclog.Ctx{"err": err})
	return first
}

func run(root string, files []string) error {
	facts, err := hostfacts.Collect(root)
	if err != nil {
		return fmt.Errorf("collecting host facts: %w", err)
	}

	var uni *rules.Universe

	if len(files) > 0 {
		uni, err = rules.LoadExplicit(files, facts)
	} else {
		uni, err = rules.DiscoverAndLoad(root, facts)
	}

	// A parse error is logged and recorded, but the run continues with
	// whatever declarations were successfully parsed into uni: it does
	// not abort lock/load/allocate/write.
	firstErr := keepFirstErr(nil, err, "loading declarations")

	if uni == nil {
		uni = rules.NewUniverse()
	}

	lock, err := locking.Take(root)
	if err != nil {
		return keepFirstErr(firstErr, err, "acquiring account database lock")
	}
	defer lock.Release()

	userDB, err := accountsdb.LoadUserDatabase(root)
	if err != nil {
		return keepFirstErr(firstErr, err, "loading user database")
	}

	groupDB, err := accountsdb.LoadGroupDatabase(root)
	if err != nil {
		return keepFirstErr(firstErr, err, "loading group database")
	}

	allocator := alloc.New(root, userDB, groupDB)

	if err := allocator.Run(uni); err != nil {
		return keepFirstErr(firstErr, err, "allocating identifiers")
	}

	if len(allocator.TodoUIDs) == 0 && len(allocator.TodoGIDs) == 0 {
		synclog.Info("nothing to do")
		return firstErr
	}

	if err := accountsdb.Write(root, uni, allocator.TodoUIDs, allocator.TodoGIDs); err != nil {
		return keepFirstErr(firstErr, err, "writing account databases")
	}

	synclog.Info("reconciliation complete", synclog.Ctx{
		"users_created":  len(allocator.TodoUIDs),
		"groups_created": len(allocator.TodoGIDs),
	})

	return firstErr
}
