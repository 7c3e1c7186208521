package rules

import (
	"strconv"
	"strings"

	"github.com/canonical/lxd-sysusers/hostfacts"
	"github.com/canonical/lxd-sysusers/sysuserr"
)

// ParseLine parses one non-blank, non-comment declaration line of the form
// "<action> <name> <id-or-dash> [description]" into an Item. file and
// lineNo are used only to annotate errors.
func ParseLine(file string, lineNo int, line string, facts hostfacts.Facts) (*Item, error) {
	action, rest := splitField(line)
	name, rest := splitField(rest)
	id, rest := splitField(rest)

	if action == "" || name == "" {
		return nil, &sysuserr.ParseError{File: file, Line: lineNo, Msg: "syntax error"}
	}

	if len(action) != 1 {
		return nil, &sysuserr.ParseError{File: file, Line: lineNo, Msg: "unknown modifier '" + action + "'"}
	}

	item := &Item{}

	switch action[0] {
	case 'u':
		item.Type = User
	case 'g':
		item.Type = Group
	default:
		return nil, &sysuserr.ParseError{File: file, Line: lineNo, Msg: "unknown command type '" + action + "'"}
	}

	expanded, err := ExpandSpecifiers(name, facts)
	if err != nil {
		return nil, &sysuserr.ParseError{File: file, Line: lineNo, Msg: "failed to replace specifiers: " + err.Error()}
	}

	if !ValidName(expanded) {
		return nil, &sysuserr.ParseError{File: file, Line: lineNo, Msg: "'" + expanded + "' is not a valid user or group name"}
	}

	item.Name = expanded

	if id != "" && id != "-" {
		if strings.HasPrefix(id, "/") {
			p := cleanPath(id)
			if item.Type == User {
				item.UIDPath = p
			} else {
				item.GIDPath = p
			}
		} else {
			n, err := strconv.ParseUint(id, 10, 32)
			if err != nil {
				return nil, &sysuserr.ParseError{File: file, Line: lineNo, Msg: "failed to parse numeric id: " + id}
			}

			if item.Type == User {
				item.UID = uint32(n)
				item.UIDSet = true
			} else {
				item.GID = uint32(n)
				item.GIDSet = true
			}
		}
	}

	desc := strings.TrimSpace(rest)
	if desc != "" && desc != "-" {
		desc = unquote(desc)

		if !ValidGecos(desc) {
			return nil, &sysuserr.ParseError{File: file, Line: lineNo, Msg: "'" + desc + "' is not a valid GECOS field"}
		}

		item.Description = desc
	}

	return item, nil
}

// splitField returns the first whitespace-delimited field of s and the
// remainder of the string after it (with leading whitespace stripped).
func splitField(s string) (field, rest string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}

	return s[:i], strings.TrimLeft(s[i:], " \t")
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}

	return s
}

func cleanPath(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}

	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}

	return p
}
