package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortableAndValid(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		require.Greater(t, next, prev)
		require.Truef(t, Valid(next), "generated id %q", next)
		prev = next
	}
}

func TestAtOrdersByTime(t *testing.T) {
	early := At(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	late := At(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Less(t, early, late)
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "42", "not-an-id", "01ARZ3NDEKTSV4RRFFQ69G5FA"} {
		assert.Falsef(t, Valid(s), "Valid(%q)", s)
	}
}
