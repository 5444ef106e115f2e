package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etiasassist.app/internal/apperr"
)

type sliceStore struct {
	events []Event
	err    error
}

func (s *sliceStore) InsertEvent(_ context.Context, e Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func TestRecorderFillsDefaults(t *testing.T) {
	store := &sliceStore{}
	rec := NewRecorder(store)

	require.NoError(t, rec.Track(context.Background(), Event{Type: " page_view ", SessionID: "s1"}))
	require.Len(t, store.events, 1)

	got := store.events[0]
	assert.Equal(t, "page_view", got.Type)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRecorderRejectsEmptyType(t *testing.T) {
	rec := NewRecorder(&sliceStore{})
	err := rec.Track(context.Background(), Event{Type: "   "})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestEmitSwallowsErrors(t *testing.T) {
	store := &sliceStore{err: errors.New("db down")}
	Emit(context.Background(), NewRecorder(store), Event{Type: EligibilityCheck})
	Emit(context.Background(), nil, Event{Type: EligibilityCheck})
	assert.Empty(t, store.events)
}
