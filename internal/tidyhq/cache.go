package tidyhq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Cache is a point-in-time snapshot of CRM state. Snapshots are values:
// consumers never mutate a cache, they request a fresh one. A cache is
// replaced wholesale, never patched.
type Cache struct {
	Contacts []Contact       `json:"contacts"`
	Groups   map[int64]Group `json:"groups"`

	// Time is the unix timestamp of snapshot construction.
	Time int64 `json:"time"`
}

// Contact looks up a cached contact by ID.
func (c *Cache) Contact(id int64) (Contact, bool) {
	for _, contact := range c.Contacts {
		if contact.ID == id {
			return contact, true
		}
	}
	return Contact{}, false
}

// MembersOf returns every cached contact holding a membership in the group.
// The group endpoint doesn't return contacts, so membership is read off the
// contact records.
func (c *Cache) MembersOf(groupID int64) []Contact {
	var members []Contact
	for _, contact := range c.Contacts {
		if contact.Groups.Contains(groupID) {
			members = append(members, contact)
		}
	}
	return members
}

// Clock supplies wall-clock time. Satisfied by RealClock in production and by
// testutil.FakeClock in tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// ManagerConfig holds configuration for creating a Manager.
type ManagerConfig struct {
	// API is the CRM client used for rebuilds.
	API API
	// Path is the persisted cache file, overwritten on every rebuild.
	Path string
	// TTL is the snapshot lifetime in seconds. Zero disables caching.
	TTL int64
	// GroupPrefix marks machine groups; contact memberships are filtered
	// to prefixed groups at build time.
	GroupPrefix string
	// SlackFieldID is the only custom field retained on cached contacts.
	SlackFieldID string
	// Clock supplies time. If nil, RealClock is used.
	Clock Clock
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Manager owns cache freshness: it decides whether an existing snapshot is
// still servable and rebuilds from the CRM when it is not.
type Manager struct {
	api          API
	path         string
	ttl          int64
	groupPrefix  string
	slackFieldID string
	clock        Clock
	logger       *slog.Logger
}

// NewManager creates a cache manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.API == nil {
		return nil, fmt.Errorf("tidyhq: API is required")
	}
	if config.Path == "" {
		return nil, fmt.Errorf("tidyhq: Path is required")
	}
	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		api:          config.API,
		path:         config.Path,
		ttl:          config.TTL,
		groupPrefix:  config.GroupPrefix,
		slackFieldID: config.SlackFieldID,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Get returns a servable snapshot. Decision order:
//
//  1. force: always rebuild from the CRM.
//  2. existing in-memory snapshot younger than the TTL: returned unchanged.
//  3. persisted cache file younger than the TTL: loaded and returned.
//  4. otherwise: rebuild from the CRM and persist.
//
// A rebuild failure is returned as an error and aborts the calling
// operation; expired data is never served silently.
func (m *Manager) Get(ctx context.Context, existing *Cache, force bool) (*Cache, error) {
	if force {
		return m.Build(ctx)
	}

	now := m.clock.Now().Unix()
	if existing != nil && m.fresh(existing, now) {
		return existing, nil
	}

	loaded, err := m.load()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// No persisted cache yet.
	case err != nil:
		m.logger.Warn("discarding unreadable cache file", "path", m.path, "error", err)
	case m.fresh(loaded, now):
		m.logger.Debug("loaded cache from file",
			"path", m.path, "contacts", len(loaded.Contacts), "groups", len(loaded.Groups))
		return loaded, nil
	default:
		m.logger.Info("cache file is stale, rebuilding", "path", m.path, "ttl", m.ttl)
	}

	return m.Build(ctx)
}

// fresh reports whether the snapshot is younger than the TTL. A TTL of zero
// means nothing is ever fresh.
func (m *Manager) fresh(c *Cache, now int64) bool {
	return m.ttl > 0 && now-c.Time < m.ttl
}

// Build rebuilds the snapshot from the CRM and persists it, fully
// overwriting the cache file.
func (m *Manager) Build(ctx context.Context) (*Cache, error) {
	m.logger.Debug("getting groups from TidyHQ")
	groups, err := m.api.Groups(ctx)
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	m.logger.Debug("getting contacts from TidyHQ")
	contacts, err := m.api.Contacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	indexed := make(map[int64]Group, len(groups))
	for _, group := range groups {
		indexed[group.ID] = group
	}

	cache := &Cache{
		Contacts: make([]Contact, 0, len(contacts)),
		Groups:   indexed,
		Time:     m.clock.Now().Unix(),
	}
	for _, contact := range contacts {
		cache.Contacts = append(cache.Contacts, m.trim(contact, indexed))
	}

	if err := m.persist(cache); err != nil {
		return nil, err
	}
	m.logger.Info("cache rebuilt",
		"contacts", len(cache.Contacts), "groups", len(cache.Groups))
	return cache, nil
}

// trim keeps only the contact fields used downstream: the chat link custom
// field and memberships in machine groups.
func (m *Manager) trim(contact Contact, groups map[int64]Group) Contact {
	var fields []CustomField
	for _, field := range contact.CustomFields {
		if field.ID == m.slackFieldID {
			fields = append(fields, field)
		}
	}

	var memberships GroupIDs
	for _, id := range contact.Groups {
		if group, ok := groups[id]; ok && strings.HasPrefix(group.Label, m.groupPrefix) {
			memberships = append(memberships, id)
		}
	}

	contact.CustomFields = fields
	contact.Groups = memberships
	return contact
}

func (m *Manager) load() (*Cache, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	var cache Cache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parse cache file: %w", err)
	}
	if cache.Contacts == nil || cache.Groups == nil {
		return nil, fmt.Errorf("cache file is missing contacts or groups")
	}
	return &cache, nil
}

func (m *Manager) persist(cache *Cache) error {
	data, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}
