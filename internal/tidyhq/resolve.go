package tidyhq

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MachineInfo is the parsed, canonical form of a machine group: the label
// with the prefix stripped plus the key=value configuration lines from the
// group description.
//
// A group with no categories is not a machine and is excluded from the
// taxonomy (IsMachine).
type MachineInfo struct {
	ID   int64
	Name string

	// Level is the risk level marker, e.g. "🔴".
	Level string

	// Categories lists the taxonomy categories the machine belongs to.
	Categories []string

	// CheckInDays is the first-use check-in window in days. Zero means no
	// check-in is required.
	CheckInDays int

	// Children are machines granted automatically alongside this one.
	Children []int64

	// ExclusiveWith are machines revoked automatically when this one is
	// granted.
	ExclusiveWith []int64

	// Training is a free-text training hint.
	Training string

	// TraineeMessage names a canned message sent to the trainee on grant.
	TraineeMessage string

	// URL links to machine documentation.
	URL string

	// Extra holds unrecognized description keys, preserved verbatim.
	Extra map[string]string
}

// IsMachine reports whether the group is part of the machine taxonomy.
func (m MachineInfo) IsMachine() bool {
	return len(m.Categories) > 0
}

// RequiresCheckIn reports whether a grant opens a first-use check-in case.
func (m MachineInfo) RequiresCheckIn() bool {
	return m.CheckInDays > 0
}

// Describe re-serializes the parsed configuration to key=value lines in a
// stable order. Describe and ParseGroup round-trip.
func (m MachineInfo) Describe() string {
	var lines []string
	add := func(key, value string) {
		if value != "" {
			lines = append(lines, key+"="+value)
		}
	}

	add("level", m.Level)
	add("categories", strings.Join(m.Categories, ","))
	if m.CheckInDays > 0 {
		add("first_use_check_in", strconv.Itoa(m.CheckInDays))
	}
	add("children", joinIDs(m.Children))
	add("exclusive_with", joinIDs(m.ExclusiveWith))
	add("training", m.Training)
	add("trainee_message", m.TraineeMessage)
	add("url", m.URL)

	extraKeys := make([]string, 0, len(m.Extra))
	for key := range m.Extra {
		extraKeys = append(extraKeys, key)
	}
	sort.Strings(extraKeys)
	for _, key := range extraKeys {
		add(key, m.Extra[key])
	}

	return strings.Join(lines, "\n")
}

// ParseGroup strips the prefix from the group label and parses its
// description into a MachineInfo. Malformed description lines are skipped;
// parsing never fails.
func ParseGroup(group Group, prefix string) MachineInfo {
	info := MachineInfo{
		ID:   group.ID,
		Name: strings.TrimPrefix(group.Label, prefix),
	}

	for _, line := range strings.Split(group.Description, "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = norm.NFC.String(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}

		switch key {
		case "level":
			info.Level = value
		case "categories":
			info.Categories = splitList(value)
		case "first_use_check_in":
			if days, err := strconv.Atoi(value); err == nil && days > 0 {
				info.CheckInDays = days
			}
		case "children":
			info.Children = splitIDs(value)
		case "exclusive_with":
			info.ExclusiveWith = splitIDs(value)
		case "training":
			info.Training = value
		case "trainee_message":
			info.TraineeMessage = value
		case "url":
			info.URL = value
		default:
			if info.Extra == nil {
				info.Extra = make(map[string]string)
			}
			info.Extra[key] = value
		}
	}

	return info
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// splitIDs parses a comma-separated group ID list, skipping malformed
// entries.
func splitIDs(value string) []int64 {
	var ids []int64
	for _, item := range strings.Split(value, ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(item), 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func joinIDs(ids []int64) string {
	items := make([]string, len(ids))
	for i, id := range ids {
		items[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(items, ",")
}

// Resolver maps between the two identity namespaces (chat platform user IDs
// and CRM contact IDs) and between groups and machine metadata.
type Resolver struct {
	// GroupPrefix marks machine groups.
	GroupPrefix string
	// SlackFieldID is the contact custom field holding the linked chat ID.
	SlackFieldID string
}

// ResolveIdentity translates an identity token to a CRM contact ID. The
// token is either a chat platform user ID (namespace prefix "U" or "W") or a
// numeric contact ID. Returns false when the token cannot be resolved;
// callers treat that as "no authorizations", not an error.
func (r Resolver) ResolveIdentity(cache *Cache, token string) (int64, bool) {
	if token == "" {
		return 0, false
	}

	if strings.HasPrefix(token, "U") || strings.HasPrefix(token, "W") {
		for _, contact := range cache.Contacts {
			if r.SlackID(contact) == token {
				return contact.ID, true
			}
		}
		return 0, false
	}

	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, false
	}
	if _, ok := cache.Contact(id); !ok {
		return 0, false
	}
	return id, true
}

// SlackID returns the contact's linked chat platform user ID, or "" when the
// accounts were never linked.
func (r Resolver) SlackID(contact Contact) string {
	for _, field := range contact.CustomFields {
		if field.ID == r.SlackFieldID {
			return strings.TrimSpace(field.Value)
		}
	}
	return ""
}

// GroupsForContact filters a contact's memberships to machine groups.
func (r Resolver) GroupsForContact(cache *Cache, contact Contact) []int64 {
	var ids []int64
	for _, id := range contact.Groups {
		if group, ok := cache.Groups[id]; ok && strings.HasPrefix(group.Label, r.GroupPrefix) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Machine returns the parsed machine record for a cached group.
func (r Resolver) Machine(cache *Cache, groupID int64) (MachineInfo, bool) {
	group, ok := cache.Groups[groupID]
	if !ok {
		return MachineInfo{}, false
	}
	return ParseGroup(group, r.GroupPrefix), true
}
