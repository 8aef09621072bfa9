// Package audit maintains the append-only log of authorization mutations.
//
// The log is line-oriented — "timestamp,actor,action,contact_id,group_id" —
// appended one line per mutation and never rewritten or compacted. Other
// tooling consumes the file directly, so the format is a fixed contract.
package audit

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Action is the audited mutation kind.
type Action string

const (
	// ActionAdd records a grant.
	ActionAdd Action = "add"
	// ActionRemove records a revoke.
	ActionRemove Action = "remove"
)

// Entry is one audited mutation.
type Entry struct {
	// Time is the unix timestamp of the mutation.
	Time int64
	// Actor is the chat platform ID of whoever drove the change, or the
	// bot's own marker for system-driven changes.
	Actor string
	// Action is add or remove.
	Action Action
	// ContactID is the affected CRM contact.
	ContactID int64
	// GroupID is the affected machine group.
	GroupID int64
}

func (e Entry) line() string {
	return fmt.Sprintf("%d,%s,%s,%d,%d\n", e.Time, e.Actor, e.Action, e.ContactID, e.GroupID)
}

// Writer appends entries to the log file.
type Writer struct {
	path   string
	logger *slog.Logger
}

// NewWriter creates a writer for the given log file. The file is created on
// first append.
func NewWriter(path string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{path: path, logger: logger}
}

// Append writes one entry as a single newline-terminated line.
func (w *Writer) Append(entry Entry) error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open log %s: %w", w.path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(entry.line()); err != nil {
		return fmt.Errorf("audit: append to %s: %w", w.path, err)
	}
	w.logger.Debug("audit entry written",
		"actor", entry.Actor, "action", string(entry.Action),
		"contact", entry.ContactID, "group", entry.GroupID)
	return nil
}

// Read parses the log back into entries, oldest first. Malformed lines are
// logged and skipped; one bad line never hides the rest of the log.
func Read(path string, logger *slog.Logger) ([]Entry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open log %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseLine(line)
		if err != nil {
			logger.Warn("skipping malformed audit line", "path", path, "line", lineNo, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read log %s: %w", path, err)
	}
	return entries, nil
}

func parseLine(line string) (Entry, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 5 {
		return Entry{}, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Entry{}, fmt.Errorf("bad timestamp %q", fields[0])
	}
	action := Action(fields[2])
	if action != ActionAdd && action != ActionRemove {
		return Entry{}, fmt.Errorf("bad action %q", fields[2])
	}
	contactID, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("bad contact id %q", fields[3])
	}
	groupID, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("bad group id %q", fields[4])
	}

	return Entry{
		Time:      int64(ts),
		Actor:     fields[1],
		Action:    action,
		ContactID: contactID,
		GroupID:   groupID,
	}, nil
}
