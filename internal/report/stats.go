package report

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/makerhaus/toolbot/internal/tidyhq"
)

// MemberRow is one member's induction tally.
type MemberRow struct {
	Name       string
	Inductions int
	// Percent is Inductions over the total number of machine groups.
	Percent int
}

// Bucket is one row of a distribution table.
type Bucket struct {
	Label string
	Count int
	// MemberPercent is the bucket's share of all members; only set on the
	// member distribution.
	MemberPercent int
}

// Stats summarizes induction coverage: who holds how many, and which tools
// sit unused.
type Stats struct {
	TotalMembers        int
	TotalMachines       int
	AverageInductions   int
	TotalInductions     int
	MemberInductions    int
	NonMemberInductions int

	// Members is sorted by induction count, most first.
	Members []MemberRow

	// MemberDistribution buckets members by coverage percentage in 10%
	// steps, with a dedicated bucket for zero.
	MemberDistribution []Bucket

	// ToolDistribution buckets tools by inducted-user count in steps of
	// five, with a dedicated bucket for zero. Useful for spotting tools
	// nobody is signed off on.
	ToolDistribution []Bucket
}

// ComputeStats builds the induction summary for the given current members.
// Inductions held by contacts outside memberIDs are counted in the totals
// but attributed to non-members.
func ComputeStats(cache *tidyhq.Cache, r tidyhq.Resolver, memberIDs []int64) Stats {
	var machineIDs []int64
	for id, group := range cache.Groups {
		if tidyhq.ParseGroup(group, r.GroupPrefix).IsMachine() {
			machineIDs = append(machineIDs, id)
		}
	}
	sort.Slice(machineIDs, func(i, j int) bool { return machineIDs[i] < machineIDs[j] })

	stats := Stats{TotalMachines: len(machineIDs)}

	inductionCounts := map[int64]int{}
	for _, id := range machineIDs {
		count := len(cache.MembersOf(id))
		inductionCounts[id] = count
		stats.TotalInductions += count
	}

	for _, memberID := range memberIDs {
		contact, ok := cache.Contact(memberID)
		if !ok {
			continue
		}
		inductions := len(r.GroupsForContact(cache, contact))
		percent := 0
		if len(machineIDs) > 0 {
			percent = roundPercent(inductions, len(machineIDs))
		}
		stats.Members = append(stats.Members, MemberRow{
			Name:       norm.NFC.String(contact.Format()),
			Inductions: inductions,
			Percent:    percent,
		})
		stats.MemberInductions += inductions
	}
	stats.TotalMembers = len(stats.Members)
	stats.NonMemberInductions = stats.TotalInductions - stats.MemberInductions
	if stats.TotalMembers > 0 {
		stats.AverageInductions = int(math.Round(float64(stats.MemberInductions) / float64(stats.TotalMembers)))
	}

	sort.SliceStable(stats.Members, func(i, j int) bool {
		if stats.Members[i].Inductions != stats.Members[j].Inductions {
			return stats.Members[i].Inductions > stats.Members[j].Inductions
		}
		return stats.Members[i].Name < stats.Members[j].Name
	})

	stats.MemberDistribution = memberDistribution(stats.Members, stats.TotalMembers)
	stats.ToolDistribution = toolDistribution(machineIDs, inductionCounts)

	return stats
}

// memberDistribution buckets members by coverage percentage: zero gets its
// own bucket, everyone else lands in 10% steps.
func memberDistribution(members []MemberRow, total int) []Bucket {
	// Zero coverage gets its own bucket, below the 0-9% range.
	counts := map[int]int{}
	for _, member := range members {
		bucket := -1
		if member.Percent > 0 {
			bucket = member.Percent / 10 * 10
		}
		counts[bucket]++
	}

	keys := sortedKeys(counts)
	buckets := make([]Bucket, 0, len(keys))
	for _, key := range keys {
		label := "0%"
		switch {
		case key == 0:
			label = "1-9%"
		case key >= 100:
			// Coverage tops out at 100; no open-ended range.
			label = "100%"
		case key > 0:
			label = fmt.Sprintf("%d-%d%%", key, key+9)
		}
		buckets = append(buckets, Bucket{
			Label:         label,
			Count:         counts[key],
			MemberPercent: roundPercent(counts[key], total),
		})
	}
	return buckets
}

// toolDistribution buckets tools by how many people are inducted on them:
// zero gets its own bucket, everyone else lands in steps of five.
func toolDistribution(machineIDs []int64, inductionCounts map[int64]int) []Bucket {
	counts := map[int]int{}
	for _, id := range machineIDs {
		count := inductionCounts[id]
		bucket := 0
		if count > 0 {
			bucket = ((count-1)/5 + 1) * 5
		}
		counts[bucket]++
	}

	keys := sortedKeys(counts)
	buckets := make([]Bucket, 0, len(keys))
	for _, key := range keys {
		label := "0 inducted users"
		if key > 0 {
			start := key - 4
			if key == 5 {
				start = 1
			}
			label = fmt.Sprintf("%d-%d inducted users", start, key)
		}
		buckets = append(buckets, Bucket{Label: label, Count: counts[key]})
	}
	return buckets
}

// Render formats the stats as a markdown document.
func (s Stats) Render() string {
	var b strings.Builder

	b.WriteString("## Basic stats\n\n")
	fmt.Fprintf(&b, "| Total current members | %d |\n", s.TotalMembers)
	fmt.Fprintf(&b, "| Average inductions of current members | %d |\n", s.AverageInductions)
	fmt.Fprintf(&b, "| Total inductions | %d |\n", s.TotalInductions)
	fmt.Fprintf(&b, "| Total inductions for current members | %d |\n", s.MemberInductions)
	fmt.Fprintf(&b, "| Total inductions for non members (or past members) | %d |\n", s.NonMemberInductions)

	b.WriteString("\n## Individual sign-off distribution\n\n")
	b.WriteString("| Range | Number of members | Percentage of total members |\n| --- | --- | --- |\n")
	for _, bucket := range s.MemberDistribution {
		fmt.Fprintf(&b, "| %s | %d | %d%% |\n", bucket.Label, bucket.Count, bucket.MemberPercent)
	}

	b.WriteString("\n## Tool induction distribution\n\n")
	b.WriteString("| Range | Tools |\n| --- | --- |\n")
	for _, bucket := range s.ToolDistribution {
		fmt.Fprintf(&b, "| %s | %d |\n", bucket.Label, bucket.Count)
	}

	b.WriteString("\n## Individual members\n\n")
	fmt.Fprintf(&b, "| Name | Inductions | %% of %d |\n| --- | --- | --- |\n", s.TotalMachines)
	for _, member := range s.Members {
		fmt.Fprintf(&b, "| %s | %d | %d%% |\n", member.Name, member.Inductions, member.Percent)
	}

	return b.String()
}

func roundPercent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(whole) * 100))
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Ints(keys)
	return keys
}
