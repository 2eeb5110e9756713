// ABOUTME: Tests for the request correlator.
// ABOUTME: Covers id allocation, exactly-once completion, stale responses, and FailAll.

package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCorrelator_RegisterAllocatesIncreasingIDs(t *testing.T) {
	c := NewCorrelator(testLogger())

	id1, _ := c.Register()
	id2, _ := c.Register()
	id3, _ := c.Register()

	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)
	assert.Equal(t, int64(3), id3)
	assert.Equal(t, 3, c.PendingCount())
}

func TestCorrelator_Resolve(t *testing.T) {
	c := NewCorrelator(testLogger())

	id, ch := c.Register()
	c.Resolve(id, json.RawMessage(`{"value":42}`))

	out := <-ch
	assert.Empty(t, out.Err)
	assert.JSONEq(t, `{"value":42}`, string(out.Result))
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelator_Reject(t *testing.T) {
	c := NewCorrelator(testLogger())

	id, ch := c.Register()
	c.Reject(id, "target crashed")

	out := <-ch
	assert.Equal(t, "target crashed", out.Err)
	assert.Nil(t, out.Result)
}

func TestCorrelator_CompletionIsExactlyOnce(t *testing.T) {
	c := NewCorrelator(testLogger())

	id, ch := c.Register()
	c.Resolve(id, json.RawMessage(`{}`))

	// A second response for the same id is stale: dropped, never delivered
	c.Resolve(id, json.RawMessage(`{"late":true}`))
	c.Reject(id, "late error")

	out := <-ch
	assert.JSONEq(t, `{}`, string(out.Result))

	select {
	case extra := <-ch:
		t.Fatalf("unexpected second outcome: %+v", extra)
	default:
	}
}

func TestCorrelator_UnknownIDIsDropped(t *testing.T) {
	c := NewCorrelator(testLogger())

	// Must not panic or disturb other pending requests
	c.Resolve(99, json.RawMessage(`{}`))
	c.Reject(99, "nope")

	id, ch := c.Register()
	c.Resolve(id, json.RawMessage(`"ok"`))
	out := <-ch
	assert.JSONEq(t, `"ok"`, string(out.Result))
}

func TestCorrelator_FailAll(t *testing.T) {
	c := NewCorrelator(testLogger())

	_, ch1 := c.Register()
	_, ch2 := c.Register()
	_, ch3 := c.Register()

	c.FailAll("connection closed")

	for _, ch := range []<-chan Outcome{ch1, ch2, ch3} {
		out := <-ch
		assert.Equal(t, "connection closed", out.Err)
	}
	assert.Equal(t, 0, c.PendingCount())

	// Table keeps working after a FailAll; ids keep increasing
	id, ch := c.Register()
	require.Equal(t, int64(4), id)
	c.Resolve(id, json.RawMessage(`{}`))
	out := <-ch
	assert.Empty(t, out.Err)
}
