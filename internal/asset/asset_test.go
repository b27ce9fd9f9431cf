package asset

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sbsrf-update/internal/release"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name     string
		asset    string
		variant  string
		sentence bool
		want     bool
	}{
		{"core always matches", "sbsrf-dict.zip", "Weasel", false, true},
		{"core ignores variant", "sbsrf.zip", "", true, true},
		{"sentence model off", "octagram-cn.zip", "Squirrel", false, false},
		{"sentence model on", "octagram-cn.zip", "Squirrel", true, true},
		{"variant prefix lowercased", "squirrel-core.zip", "Squirrel", false, true},
		{"variant prefix is case-sensitive on the asset", "Squirrel-core.zip", "Squirrel", false, false},
		{"other variant", "weasel.zip", "Squirrel", false, false},
		{"sentence rule wins over variant", "octagram.zip", "Octagram", false, false},
		{"empty variant matches nothing else", "hamster.zip", "", false, false},
		{"unrelated", "README.md", "Hamster", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.asset, tt.variant, tt.sentence))
		})
	}
}

func TestFilterKeepsOrder(t *testing.T) {
	assets := []release.Asset{
		{Name: "weasel.zip"},
		{Name: "sbsrf.zip"},
		{Name: "octagram.zip"},
		{Name: "hamster.zip"},
		{Name: "squirrel.zip"},
	}

	got := Filter(assets, "Hamster", true)
	assert.Equal(t, []release.Asset{{Name: "sbsrf.zip"}, {Name: "octagram.zip"}, {Name: "hamster.zip"}}, got)

	assert.Empty(t, Filter(nil, "Hamster", true))
}
