package tidyhq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGroup(t *testing.T) {
	group := Group{
		ID:    101,
		Label: "Machine Operator - Laser Cutter",
		Description: "level=🔴\n" +
			"categories=laser, woodwork\n" +
			"first_use_check_in=3\n" +
			"children=102,103\n" +
			"exclusive_with=104\n" +
			"wiki=https://wiki.example.org/laser",
	}

	info := ParseGroup(group, "Machine Operator - ")

	assert.Equal(t, "Laser Cutter", info.Name)
	assert.Equal(t, "🔴", info.Level)
	assert.Equal(t, []string{"laser", "woodwork"}, info.Categories)
	assert.Equal(t, 3, info.CheckInDays)
	assert.Equal(t, []int64{102, 103}, info.Children)
	assert.Equal(t, []int64{104}, info.ExclusiveWith)
	assert.Equal(t, "https://wiki.example.org/laser", info.Extra["wiki"])
	assert.True(t, info.IsMachine())
	assert.True(t, info.RequiresCheckIn())
}

func TestParseGroup_MalformedLinesSkipped(t *testing.T) {
	group := Group{
		ID:    7,
		Label: "Machine Operator - Bandsaw",
		Description: "this line has no separator\n" +
			"=value without key\n" +
			"first_use_check_in=soon\n" +
			"children=102,not-a-number,103\n" +
			"categories=woodwork",
	}

	info := ParseGroup(group, "Machine Operator - ")

	assert.Equal(t, 0, info.CheckInDays)
	assert.Equal(t, []int64{102, 103}, info.Children)
	assert.Equal(t, []string{"woodwork"}, info.Categories)
}

func TestParseGroup_NoCategoriesIsNotAMachine(t *testing.T) {
	info := ParseGroup(Group{ID: 9, Label: "Committee", Description: "level=🟢"}, "Machine Operator - ")
	assert.False(t, info.IsMachine())
}

func TestParseGroup_EmptyDescription(t *testing.T) {
	info := ParseGroup(Group{ID: 9, Label: "Machine Operator - Drill"}, "Machine Operator - ")
	assert.Equal(t, "Drill", info.Name)
	assert.False(t, info.IsMachine())
}

func TestMachineInfo_DescribeRoundTrip(t *testing.T) {
	original := Group{
		ID:    101,
		Label: "Machine Operator - Laser Cutter",
		Description: "level=🔴\n" +
			"categories=laser\n" +
			"first_use_check_in=3\n" +
			"children=102\n" +
			"training=bookable\n" +
			"wiki=https://wiki.example.org/laser",
	}

	info := ParseGroup(original, "Machine Operator - ")
	reparsed := ParseGroup(Group{
		ID:          original.ID,
		Label:       original.Label,
		Description: info.Describe(),
	}, "Machine Operator - ")

	assert.Equal(t, info, reparsed)
}

func testCache() *Cache {
	return &Cache{
		Contacts: []Contact{
			{
				ID:           42,
				FirstName:    "ada",
				LastName:     "lovelace",
				CustomFields: []CustomField{{ID: "f-slack", Value: "U0ADA"}},
				Groups:       GroupIDs{101},
			},
			{ID: 43, FirstName: "joe", LastName: "bloggs"},
		},
		Groups: map[int64]Group{
			101: {ID: 101, Label: "Machine Operator - Laser", Description: "categories=laser"},
			999: {ID: 999, Label: "Committee"},
		},
	}
}

func TestResolver_ResolveIdentity(t *testing.T) {
	r := Resolver{GroupPrefix: "Machine Operator - ", SlackFieldID: "f-slack"}
	cache := testCache()

	tests := []struct {
		name   string
		token  string
		wantID int64
		wantOK bool
	}{
		{"linked slack id", "U0ADA", 42, true},
		{"unlinked slack id", "U0NOBODY", 0, false},
		{"numeric contact id", "43", 43, true},
		{"unknown contact id", "9999", 0, false},
		{"garbage", "not-an-id", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := r.ResolveIdentity(cache, tt.token)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestResolver_SlackID(t *testing.T) {
	r := Resolver{SlackFieldID: "f-slack"}
	cache := testCache()

	assert.Equal(t, "U0ADA", r.SlackID(cache.Contacts[0]))
	assert.Equal(t, "", r.SlackID(cache.Contacts[1]))
}

func TestResolver_GroupsForContact(t *testing.T) {
	r := Resolver{GroupPrefix: "Machine Operator - ", SlackFieldID: "f-slack"}
	cache := testCache()

	// Membership in a non-machine group is filtered out even if present.
	contact := cache.Contacts[0]
	contact.Groups = GroupIDs{101, 999}

	assert.Equal(t, []int64{101}, r.GroupsForContact(cache, contact))
}

func TestResolver_Machine(t *testing.T) {
	r := Resolver{GroupPrefix: "Machine Operator - ", SlackFieldID: "f-slack"}
	cache := testCache()

	info, ok := r.Machine(cache, 101)
	require.True(t, ok)
	assert.Equal(t, "Laser", info.Name)

	_, ok = r.Machine(cache, 12345)
	assert.False(t, ok)
}

func TestContact_Format(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", Contact{FirstName: "ada", LastName: "lovelace"}.Format())
	assert.Equal(t, "Ada Lovelace (al)", Contact{FirstName: "ada", LastName: "lovelace", NickName: "al"}.Format())
	// Names starting with a multi-byte rune capitalize as a rune, not a byte.
	assert.Equal(t, "Émile Zola", Contact{FirstName: "émile", LastName: "zola"}.Format())
	assert.Equal(t, "Øyvind Берг", Contact{FirstName: "øyvind", LastName: "берг"}.Format())
}
