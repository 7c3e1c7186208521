package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/lxd-sysusers/hostfacts"
)

var testFacts = hostfacts.Facts{
	MachineID:     "abc123",
	BootID:        "def456",
	Hostname:      "myhost",
	KernelRelease: "6.8.0",
}

func TestParseLineUserWithNumericUID(t *testing.T) {
	item, err := ParseLine("test.conf", 1, `u httpd 83 "HTTP daemon"`, testFacts)
	require.NoError(t, err)
	assert.Equal(t, User, item.Type)
	assert.Equal(t, "httpd", item.Name)
	assert.True(t, item.UIDSet)
	assert.EqualValues(t, 83, item.UID)
	assert.Equal(t, "HTTP daemon", item.Description)
}

func TestParseLineGroupNoID(t *testing.T) {
	item, err := ParseLine("test.conf", 2, "g wheel -", testFacts)
	require.NoError(t, err)
	assert.Equal(t, Group, item.Type)
	assert.Equal(t, "wheel", item.Name)
	assert.False(t, item.GIDSet)
}

func TestParseLinePathHint(t *testing.T) {
	item, err := ParseLine("test.conf", 3, "u dhcp /var/lib/dhcp", testFacts)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/dhcp", item.UIDPath)
	assert.False(t, item.UIDSet)
}

func TestParseLineSpecifierExpansion(t *testing.T) {
	item, err := ParseLine("test.conf", 4, "u user-%m - -", testFacts)
	require.NoError(t, err)
	assert.Equal(t, "user-abc123", item.Name)
}

func TestParseLineUnknownSpecifier(t *testing.T) {
	_, err := ParseLine("test.conf", 5, "u user-%q - -", testFacts)
	require.Error(t, err)
}

func TestParseLineUnknownAction(t *testing.T) {
	_, err := ParseLine("test.conf", 6, "x foo - -", testFacts)
	require.Error(t, err)
}

func TestParseLineInvalidName(t *testing.T) {
	_, err := ParseLine("test.conf", 7, "u 1bad - -", testFacts)
	require.Error(t, err)
}

func TestParseLineQuotedDescription(t *testing.T) {
	item, err := ParseLine("test.conf", 8, `u foo - "quoted text"`, testFacts)
	require.NoError(t, err)
	assert.Equal(t, "quoted text", item.Description)
}

func TestParseLineInvalidGecos(t *testing.T) {
	_, err := ParseLine("test.conf", 9, "u foo - \"bad:gecos\"", testFacts)
	require.Error(t, err)
}
