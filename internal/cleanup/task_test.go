package cleanup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"pending to running", StatusPending, StatusRunning, true},
		{"running to completed", StatusRunning, StatusCompleted, true},
		{"running to failed", StatusRunning, StatusFailed, true},
		{"running back to pending", StatusRunning, StatusPending, true},
		{"failed to pending via retry", StatusFailed, StatusPending, true},
		{"completed is terminal", StatusCompleted, StatusPending, false},
		{"pending cannot complete directly", StatusPending, StatusCompleted, false},
		{"pending cannot fail directly", StatusPending, StatusFailed, false},
		{"failed cannot run directly", StatusFailed, StatusRunning, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestProgressPercentage(t *testing.T) {
	t.Run("unknown total", func(t *testing.T) {
		p := Progress{Processed: 3}
		assert.Nil(t, p.Percentage())
	})

	t.Run("zero total is complete", func(t *testing.T) {
		total := int64(0)
		p := Progress{Processed: 0, Total: &total}
		pct := p.Percentage()
		require.NotNil(t, pct)
		assert.Equal(t, 1.0, *pct)
	})

	t.Run("partial", func(t *testing.T) {
		total := int64(4)
		p := Progress{Processed: 1, Total: &total}
		pct := p.Percentage()
		require.NotNil(t, pct)
		assert.InDelta(t, 0.25, *pct, 1e-9)
	})
}
