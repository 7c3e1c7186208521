package rules

import (
	"fmt"
	"strings"

	"github.com/canonical/lxd-sysusers/hostfacts"
)

// ExpandSpecifiers substitutes %m %b %H %v tokens in s with the
// corresponding host fact, once, before name validation runs. %% yields a
// literal %. An unrecognized %x fails the line.
func ExpandSpecifiers(s string, facts hostfacts.Facts) (string, error) {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}

		if i+1 >= len(s) {
			return "", fmt.Errorf("trailing %% specifier in %q", s)
		}

		spec := s[i+1]
		i++

		switch spec {
		case '%':
			b.WriteByte('%')
		case 'm':
			b.WriteString(facts.MachineID)
		case 'b':
			b.WriteString(facts.BootID)
		case 'H':
			b.WriteString(facts.Hostname)
		case 'v':
			b.WriteString(facts.KernelRelease)
		default:
			return "", fmt.Errorf("unknown specifier '%%%c' in %q", spec, s)
		}
	}

	return b.String(), nil
}
