// Package tidyhq talks to the TidyHQ CRM and maintains the local snapshot
// cache of its contacts and groups.
//
// Machine authorizations are modeled as group memberships: a contact who is a
// member of the group "Machine Operator - Laser Cutter" is authorized to
// operate the laser cutter. Group descriptions carry key=value configuration
// lines that describe the machine (risk level, categories, check-in policy).
package tidyhq

import (
	"encoding/json"
	"unicode"
	"unicode/utf8"
)

// Group is a CRM group. Only groups whose label carries the configured
// prefix are treated as machines; everything else is an unrelated group.
type Group struct {
	ID          int64  `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// CustomField is one CRM contact custom field. The cache retains only the
// field that links a contact to their chat platform account.
type CustomField struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Value string `json:"value"`
}

// Contact is a person known to the CRM, trimmed to the fields the bot needs.
// Groups holds group IDs; on the wire TidyHQ sends full group objects, which
// GroupIDs accepts transparently.
type Contact struct {
	ID           int64         `json:"id"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	NickName     string        `json:"nick_name,omitempty"`
	CustomFields []CustomField `json:"custom_fields,omitempty"`
	Groups       GroupIDs      `json:"groups"`
}

// Format renders a contact as "First Last" with an optional "(Nick)" suffix.
func (c Contact) Format() string {
	name := capitalize(c.FirstName) + " " + capitalize(c.LastName)
	if c.NickName != "" {
		name += " (" + c.NickName + ")"
	}
	return name
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError && size <= 1 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// GroupIDs is a list of group IDs. It unmarshals from either a plain ID list
// (the cache file format) or a list of group objects (the CRM wire format).
type GroupIDs []int64

// UnmarshalJSON accepts [101, 102] as well as [{"id": 101, ...}, ...].
func (g *GroupIDs) UnmarshalJSON(data []byte) error {
	var ids []int64
	if err := json.Unmarshal(data, &ids); err == nil {
		*g = ids
		return nil
	}

	var objects []struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(data, &objects); err != nil {
		return err
	}
	ids = make([]int64, 0, len(objects))
	for _, o := range objects {
		ids = append(ids, o.ID)
	}
	*g = ids
	return nil
}

// Contains reports whether id is in the list.
func (g GroupIDs) Contains(id int64) bool {
	for _, got := range g {
		if got == id {
			return true
		}
	}
	return false
}
