// Package report renders operator and induction summaries off a cache
// snapshot: a per-category operator matrix and distribution statistics.
package report

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/makerhaus/toolbot/internal/machines"
	"github.com/makerhaus/toolbot/internal/tidyhq"
)

// OperatorMatrix renders a markdown table of who is authorized for what
// within one category. Machines are sorted by name and become columns;
// operators are sorted rows with a ✅ or ❌ per machine. Machine names link
// to their wiki page when the group declares one.
func OperatorMatrix(cache *tidyhq.Cache, tax machines.Taxonomy, r tidyhq.Resolver, category string) (string, error) {
	ids := tax.IDs(category)
	if len(ids) == 0 {
		return "", fmt.Errorf("report: no machines in category %q", category)
	}

	var tools []tidyhq.MachineInfo
	for _, id := range ids {
		machine, ok := r.Machine(cache, id)
		if !ok {
			continue
		}
		tools = append(tools, machine)
	}
	if len(tools) == 0 {
		return "", fmt.Errorf("report: no cached machines in category %q", category)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	// Operator display names are NFC normalized so the same person entered
	// with different unicode forms collapses to one row.
	operators := map[string]map[int64]bool{}
	for _, machine := range tools {
		for _, contact := range cache.MembersOf(machine.ID) {
			name := norm.NFC.String(contact.Format())
			if operators[name] == nil {
				operators[name] = map[int64]bool{}
			}
			operators[name][machine.ID] = true
		}
	}

	names := make([]string, 0, len(operators))
	for name := range operators {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("| Operator | ")
	for _, machine := range tools {
		if machine.URL != "" {
			fmt.Fprintf(&b, "[%s](%s) %s| ", machine.Name, machine.URL, machine.Level)
		} else {
			fmt.Fprintf(&b, "%s %s| ", machine.Name, machine.Level)
		}
	}
	b.WriteString("\n| --- | ")
	b.WriteString(strings.Repeat("--- | ", len(tools)))
	b.WriteString("\n")

	for _, name := range names {
		fmt.Fprintf(&b, "| %s | ", name)
		for _, machine := range tools {
			if operators[name][machine.ID] {
				b.WriteString("✅ | ")
			} else {
				b.WriteString("❌ | ")
			}
		}
		b.WriteString("\n")
	}

	return b.String(), nil
}
