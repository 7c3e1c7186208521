package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// setupFixtureRoot builds a throwaway --root tree with empty passwd/group,
// the way the teacher's own DB-schema tests build a disposable on-disk
// fixture rather than mocking the filesystem.
func setupFixtureRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc"), 0755))
	return root
}

func TestRunFreshAllocation(t *testing.T) {
	root := setupFixtureRoot(t)
	conf := writeConf(t, root, "httpd.conf", `u httpd - "HTTP server"`+"\n")

	require.NoError(t, run(root, []string{conf}))

	passwd := readFile(t, filepath.Join(root, "etc/passwd"))
	group := readFile(t, filepath.Join(root, "etc/group"))

	assert.Contains(t, passwd, "httpd:x:999:999:HTTP server:/:/sbin/nologin\n")
	assert.Contains(t, group, "httpd:x:999:\n")
}

func TestRunExplicitIDCollisionAdoptsExisting(t *testing.T) {
	root := setupFixtureRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc/passwd"), []byte("backup:x:34:34::/:/sbin/nologin\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc/group"), []byte("backup:x:34:\n"), 0644))

	conf := writeConf(t, root, "backup.conf", "u backup 34\n")

	require.NoError(t, run(root, []string{conf}))

	// Nothing changes: the declared UID matches the existing record, so
	// the fast path adopts it and no backup file is written.
	_, err := os.Stat(filepath.Join(root, "etc/passwd-"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunPathDerivedID(t *testing.T) {
	root := setupFixtureRoot(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc/ssh"), 0755))

	sshdConfig := filepath.Join(root, "etc/ssh/sshd_config")
	require.NoError(t, os.WriteFile(sshdConfig, []byte("# sshd config\n"), 0644))
	require.NoError(t, os.Chown(sshdConfig, 71, 71))

	conf := writeConf(t, root, "sshd.conf", "u sshd /etc/ssh/sshd_config\n")

	require.NoError(t, run(root, []string{conf}))

	passwd := readFile(t, filepath.Join(root, "etc/passwd"))
	group := readFile(t, filepath.Join(root, "etc/group"))

	assert.Contains(t, passwd, "sshd:x:71:71::/:/sbin/nologin\n")
	assert.Contains(t, group, "sshd:x:71:\n")
}

func TestRunExhaustionLeavesFilesUnchanged(t *testing.T) {
	root := setupFixtureRoot(t)

	var b strings.Builder
	for i := 1; i <= 999; i++ {
		n := strconv.Itoa(i)
		b.WriteString("occupied" + n + ":x:" + n + ":" + n + "::/:/sbin/nologin\n")
	}

	passwd := b.String()

	require.NoError(t, os.WriteFile(filepath.Join(root, "etc/passwd"), []byte(passwd), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc/group"), nil, 0644))

	conf := writeConf(t, root, "newbie.conf", "u newbie -\n")

	err := run(root, []string{conf})
	require.Error(t, err)

	unchanged := readFile(t, filepath.Join(root, "etc/passwd"))
	assert.Equal(t, passwd, unchanged)

	_, statErr := os.Stat(filepath.Join(root, "etc/passwd-"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunMergedUserGroupDeclarationsShareOneID(t *testing.T) {
	root := setupFixtureRoot(t)
	conf := writeConf(t, root, "staff.conf", "g staff -\nu staff -\n")

	require.NoError(t, run(root, []string{conf}))

	passwd := readFile(t, filepath.Join(root, "etc/passwd"))
	group := readFile(t, filepath.Join(root, "etc/group"))

	assert.Contains(t, passwd, "staff:x:999:999::/:/sbin/nologin\n")
	assert.Contains(t, group, "staff:x:999:\n")

	// Only one group line exists; the standalone group declaration was
	// absorbed into the user's primary-group fields rather than scheduled
	// separately.
	assert.Equal(t, 1, strings.Count(group, "staff:x:"))
}

func TestRunContinuesPastParseErrorAndStillWritesGoodItems(t *testing.T) {
	root := setupFixtureRoot(t)
	conf := writeConf(t, root, "mixed.conf", "x bad - -\nu good - -\n")

	err := run(root, []string{conf})
	require.Error(t, err)

	// The bad line is retained as the run's error, but the good
	// declaration that parsed successfully still went through lock, load,
	// allocate, and write.
	passwd := readFile(t, filepath.Join(root, "etc/passwd"))
	assert.Contains(t, passwd, "good:x:999:999::/:/sbin/nologin\n")
}

func TestRunIdempotentOnSecondInvocation(t *testing.T) {
	root := setupFixtureRoot(t)
	conf := writeConf(t, root, "httpd.conf", `u httpd - "HTTP server"`+"\n")

	require.NoError(t, run(root, []string{conf}))

	passwdAfterFirst := readFile(t, filepath.Join(root, "etc/passwd"))
	groupAfterFirst := readFile(t, filepath.Join(root, "etc/group"))

	require.NoError(t, run(root, []string{conf}))

	assert.Equal(t, passwdAfterFirst, readFile(t, filepath.Join(root, "etc/passwd")))
	assert.Equal(t, groupAfterFirst, readFile(t, filepath.Join(root, "etc/group")))
}
