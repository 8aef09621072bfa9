// Package machines owns the tool taxonomy and the authorization engine: which
// categories exist, which tools belong to them, who is authorized for what,
// and the grant/revoke mutations with their cascades.
package machines

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/makerhaus/toolbot/internal/tidyhq"
)

// Taxonomy maps category names to ordered lists of machine group IDs.
//
// Two names are reserved: CategoryExclude lists group IDs omitted from every
// category that also names them, and CategoryAll is a pseudo-category meaning
// the union of all real categories. Taxonomies built from a static file and
// taxonomies derived from the cache are interchangeable.
type Taxonomy map[string][]int64

const (
	// CategoryExclude lists group IDs suppressed from all categories.
	CategoryExclude = "exclude"
	// CategoryAll is the union of every real category.
	CategoryAll = "all"
)

// LoadTaxonomy reads a taxonomy from a YAML file mapping category names to
// lists of group IDs.
func LoadTaxonomy(path string) (Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("machines: read taxonomy %s: %w", path, err)
	}
	var tax Taxonomy
	if err := yaml.Unmarshal(data, &tax); err != nil {
		return nil, fmt.Errorf("machines: parse taxonomy %s: %w", path, err)
	}
	return tax, nil
}

// DeriveTaxonomy builds a taxonomy from the cache by scanning machine group
// descriptions for their categories. Group IDs within a category are sorted
// so derived taxonomies are stable across rebuilds.
func DeriveTaxonomy(cache *tidyhq.Cache, prefix string) Taxonomy {
	tax := Taxonomy{}
	for _, group := range cache.Groups {
		info := tidyhq.ParseGroup(group, prefix)
		if !info.IsMachine() {
			continue
		}
		for _, category := range info.Categories {
			tax[category] = append(tax[category], group.ID)
		}
	}
	for category := range tax {
		sort.Slice(tax[category], func(i, j int) bool {
			return tax[category][i] < tax[category][j]
		})
	}
	return tax
}

// Categories returns the real category names, sorted. Reserved names are
// never included.
func (t Taxonomy) Categories() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		if name == CategoryExclude || name == CategoryAll {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IDs returns the group IDs of one category with the exclude list applied.
// CategoryAll yields the deduplicated union of every real category.
func (t Taxonomy) IDs(category string) []int64 {
	excluded := t.excluded()
	if category == CategoryAll {
		var union []int64
		seen := map[int64]bool{}
		for _, name := range t.Categories() {
			for _, id := range t[name] {
				if excluded[id] || seen[id] {
					continue
				}
				seen[id] = true
				union = append(union, id)
			}
		}
		return union
	}

	var ids []int64
	for _, id := range t[category] {
		if excluded[id] {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (t Taxonomy) excluded() map[int64]bool {
	excluded := map[int64]bool{}
	for _, id := range t[CategoryExclude] {
		excluded[id] = true
	}
	return excluded
}

// All materializes every tool in every real category, applying the exclude
// list. Group IDs the cache doesn't know are skipped.
func All(cache *tidyhq.Cache, tax Taxonomy, prefix string) map[string][]tidyhq.MachineInfo {
	result := map[string][]tidyhq.MachineInfo{}
	for _, category := range tax.Categories() {
		var infos []tidyhq.MachineInfo
		for _, id := range tax.IDs(category) {
			group, ok := cache.Groups[id]
			if !ok {
				continue
			}
			infos = append(infos, tidyhq.ParseGroup(group, prefix))
		}
		result[category] = infos
	}
	return result
}

// Authorized computes the identity's current grants per category. The second
// return is false exactly when the identity cannot be resolved to a contact;
// a resolved contact with no grants yields an empty, non-nil map. A tool
// listed under multiple categories appears under each.
func Authorized(cache *tidyhq.Cache, tax Taxonomy, r tidyhq.Resolver, identity string) (map[string][]int64, bool) {
	contactID, ok := r.ResolveIdentity(cache, identity)
	if !ok {
		return nil, false
	}
	contact, ok := cache.Contact(contactID)
	if !ok {
		return nil, false
	}

	held := map[int64]bool{}
	for _, id := range r.GroupsForContact(cache, contact) {
		held[id] = true
	}

	result := map[string][]int64{}
	for _, category := range tax.Categories() {
		for _, id := range tax.IDs(category) {
			if held[id] {
				result[category] = append(result[category], id)
			}
		}
	}
	return result, true
}
