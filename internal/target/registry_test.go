// ABOUTME: Tests for the target registry.
// ABOUTME: Covers attach/detach sequences, lookups, snapshot isolation, and clearing.

package target

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cdp-relay/internal/protocol"
)

func pageInfo(targetID, url string) protocol.TargetInfo {
	return protocol.TargetInfo{
		TargetID: targetID,
		Type:     "page",
		URL:      url,
		Attached: false,
	}
}

func TestRegistry_AddAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Add("sess-1", "tgt-1", pageInfo("tgt-1", "https://example.org"))

	got, ok := r.BySession("sess-1")
	require.True(t, ok)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "tgt-1", got.TargetID)
	assert.Equal(t, "https://example.org", got.Info.URL)

	_, ok = r.BySession("sess-2")
	assert.False(t, ok)
}

func TestRegistry_AddOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Add("sess-1", "tgt-1", pageInfo("tgt-1", "https://old.example.org"))
	r.Add("sess-1", "tgt-1", pageInfo("tgt-1", "https://new.example.org"))

	require.Equal(t, 1, r.Len())
	got, ok := r.BySession("sess-1")
	require.True(t, ok)
	assert.Equal(t, "https://new.example.org", got.Info.URL)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Add("sess-1", "tgt-1", pageInfo("tgt-1", ""))

	r.Remove("sess-1")
	assert.Equal(t, 0, r.Len())

	// Removing again, or removing a session never added, is a no-op
	r.Remove("sess-1")
	r.Remove("never-existed")
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ByTargetID(t *testing.T) {
	r := NewRegistry()
	r.Add("sess-1", "tgt-1", pageInfo("tgt-1", ""))
	r.Add("sess-2", "tgt-2", pageInfo("tgt-2", ""))

	got, ok := r.ByTargetID("tgt-2")
	require.True(t, ok)
	assert.Equal(t, "sess-2", got.SessionID)

	_, ok = r.ByTargetID("tgt-404")
	assert.False(t, ok)
}

// TestRegistry_AttachDetachSequences verifies that after any sequence of
// attach/detach events the key set equals exactly the sessions whose most
// recent event was an attach.
func TestRegistry_AttachDetachSequences(t *testing.T) {
	type op struct {
		attach  bool
		session string
	}
	tests := []struct {
		name string
		ops  []op
		want []string
	}{
		{
			name: "attach then detach leaves nothing",
			ops:  []op{{true, "a"}, {false, "a"}},
			want: nil,
		},
		{
			name: "detach before attach is ignored",
			ops:  []op{{false, "a"}, {true, "a"}},
			want: []string{"a"},
		},
		{
			name: "interleaved sessions",
			ops:  []op{{true, "a"}, {true, "b"}, {false, "a"}, {true, "c"}, {false, "b"}},
			want: []string{"c"},
		},
		{
			name: "reattach after detach",
			ops:  []op{{true, "a"}, {false, "a"}, {true, "a"}},
			want: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for i, o := range tt.ops {
				if o.attach {
					tid := fmt.Sprintf("tgt-%d", i)
					r.Add(o.session, tid, pageInfo(tid, ""))
				} else {
					r.Remove(o.session)
				}
			}

			var sessions []string
			for _, c := range r.All() {
				sessions = append(sessions, c.SessionID)
			}
			assert.ElementsMatch(t, tt.want, sessions)
		})
	}
}

func TestRegistry_AllReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Add("sess-1", "tgt-1", pageInfo("tgt-1", ""))

	snapshot := r.All()
	require.Len(t, snapshot, 1)

	// Later mutations must not show up in an already-taken snapshot
	r.Add("sess-2", "tgt-2", pageInfo("tgt-2", ""))
	assert.Len(t, snapshot, 1)

	// Mutating the snapshot entry must not write through to the registry
	snapshot[0].Info.URL = "https://mutated.example.org"
	got, ok := r.BySession("sess-1")
	require.True(t, ok)
	assert.Empty(t, got.Info.URL)
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry()
	r.Add("sess-1", "tgt-1", pageInfo("tgt-1", ""))
	r.Add("sess-2", "tgt-2", pageInfo("tgt-2", ""))

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.All())

	// Registry stays usable after a clear
	r.Add("sess-3", "tgt-3", pageInfo("tgt-3", ""))
	assert.Equal(t, 1, r.Len())
}
