package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"

	"customs-tracker/internal/events"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChecker returns scripted statuses per reference.
type fakeChecker struct {
	mu       sync.Mutex
	statuses map[string]string
	errs     map[string]error
	calls    []string
}

func (f *fakeChecker) CheckStatus(ctx context.Context, reference string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reference)
	if err, ok := f.errs[reference]; ok {
		return "", err
	}
	if status, ok := f.statuses[reference]; ok {
		return status, nil
	}
	return StatusPending, nil
}

type capturedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturedEvents) byType(t events.EventType) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(t *testing.T, checker StatusChecker) (*Service, *capturedEvents) {
	t.Helper()

	repo := newTestRepo(t)
	bus := events.NewBus(zerolog.Nop())
	manager := events.NewManager(bus, zerolog.Nop())

	captured := &capturedEvents{}
	for _, eventType := range events.AllEventTypes {
		et := eventType
		bus.Subscribe(et, "capture", func(e events.Event) {
			captured.mu.Lock()
			captured.events = append(captured.events, e)
			captured.mu.Unlock()
		})
	}

	return NewService(repo, checker, manager, zerolog.Nop()), captured
}

func TestService_AddEmitsTrackingAdded(t *testing.T) {
	svc, captured := newTestService(t, &fakeChecker{})

	_, err := svc.Add("26GR0001", "import")
	require.NoError(t, err)

	added := captured.byType(events.TrackingAdded)
	require.Len(t, added, 1)
	assert.Equal(t, "26GR0001", added[0].Data["reference"])
}

func TestService_CheckClearances_TransitionsAndEvents(t *testing.T) {
	checker := &fakeChecker{statuses: map[string]string{
		"26GR0001": StatusCleared,
		"26GR0002": StatusUnderControl,
	}}
	svc, captured := newTestService(t, checker)

	_, err := svc.Add("26GR0001", "import")
	require.NoError(t, err)
	_, err = svc.Add("26GR0002", "import")
	require.NoError(t, err)

	require.NoError(t, svc.CheckClearances(context.Background()))

	// Every pending declaration was checked
	assert.Len(t, captured.byType(events.ClearanceChecked), 2)

	// Both changed status
	assert.Len(t, captured.byType(events.TrackingUpdated), 2)

	// Only the cleared one produced a cleared event and a notification
	cleared := captured.byType(events.ClearanceCleared)
	require.Len(t, cleared, 1)
	assert.Equal(t, "26GR0001", cleared[0].Data["reference"])
	assert.Len(t, captured.byType(events.NotificationShow), 1)

	// Persisted transitions
	decl, err := svc.Repository().GetByReference("26GR0001")
	require.NoError(t, err)
	assert.True(t, decl.IsCleared())

	// Cleared declarations leave the pending set
	pending, err := svc.Repository().ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "26GR0002", pending[0].Reference)
}

func TestService_CheckClearances_OneFailureDoesNotAbortPass(t *testing.T) {
	checker := &fakeChecker{
		statuses: map[string]string{"26GR0002": StatusCleared},
		errs:     map[string]error{"26GR0001": errors.New("source unreachable")},
	}
	svc, captured := newTestService(t, checker)

	_, err := svc.Add("26GR0001", "import")
	require.NoError(t, err)
	_, err = svc.Add("26GR0002", "import")
	require.NoError(t, err)

	err = svc.CheckClearances(context.Background())
	assert.Error(t, err, "overall pass reports the failure")

	// The failing declaration did not stop the second from being checked
	assert.Len(t, checker.calls, 2)
	assert.Len(t, captured.byType(events.ClearanceCleared), 1)
}

func TestService_CheckClearances_EmptySet(t *testing.T) {
	svc, _ := newTestService(t, &fakeChecker{})
	assert.NoError(t, svc.CheckClearances(context.Background()))
}

func TestService_CheckClearances_ContextCancel(t *testing.T) {
	svc, _ := newTestService(t, &fakeChecker{})

	_, err := svc.Add("26GR0001", "import")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, svc.CheckClearances(ctx), context.Canceled)
}
