package kb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"enabled to disabled", StatusEnabled, StatusDisabled, true},
		{"enabled to deleted", StatusEnabled, StatusDeleted, true},
		{"disabled to enabled", StatusDisabled, StatusEnabled, true},
		{"disabled to deleted", StatusDisabled, StatusDeleted, true},
		{"deleted is terminal (enabled)", StatusDeleted, StatusEnabled, false},
		{"deleted is terminal (disabled)", StatusDeleted, StatusDisabled, false},
		{"no self transition", StatusEnabled, StatusEnabled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusEnabled.Valid())
	assert.True(t, StatusDisabled.Valid())
	assert.True(t, StatusDeleted.Valid())
	assert.False(t, Status("archived").Valid())
	assert.False(t, Status("").Valid())
}

func TestStatusSearchable(t *testing.T) {
	assert.True(t, StatusEnabled.Searchable())
	assert.False(t, StatusDisabled.Searchable())
	assert.False(t, StatusDeleted.Searchable())
}
