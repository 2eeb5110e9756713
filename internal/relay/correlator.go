// ABOUTME: Pairs commands forwarded to the agent with their eventual responses.
// ABOUTME: Ids come from a single per-process counter; stale responses are logged and dropped.

package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Outcome is the terminal result of one forwarded command: a raw result on
// success, or the agent's error message. A forwarded command produces
// exactly one Outcome; there are no retries.
type Outcome struct {
	Result json.RawMessage
	Err    string
}

// Correlator tracks in-flight commands sent to the agent, keyed by id. Ids
// are allocated by incrementing a per-process counter before use; an id is
// unique only while its request is outstanding.
type Correlator struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan Outcome
	logger  *slog.Logger
}

// NewCorrelator creates an empty Correlator.
func NewCorrelator(logger *slog.Logger) *Correlator {
	return &Correlator{
		pending: make(map[int64]chan Outcome),
		logger:  logger,
	}
}

// Register allocates the next command id and the channel its Outcome will
// arrive on. The channel is buffered: completion never blocks on a slow
// consumer.
func (c *Correlator) Register() (int64, <-chan Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	ch := make(chan Outcome, 1)
	c.pending[id] = ch
	return id, ch
}

// Resolve completes the pending command id with a result.
func (c *Correlator) Resolve(id int64, result json.RawMessage) {
	c.complete(id, Outcome{Result: result})
}

// Reject completes the pending command id with an error message.
func (c *Correlator) Reject(id int64, msg string) {
	c.complete(id, Outcome{Err: msg})
}

func (c *Correlator) complete(id int64, out Outcome) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		// Stale or unknown id. Not fatal: the agent may answer after a
		// disconnect already failed the request.
		c.logger.Warn("response for unknown request", "id", id)
		return
	}
	ch <- out
}

// FailAll rejects every pending command with msg and clears the table.
// Called when the agent connection goes away.
func (c *Correlator) FailAll(msg string) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan Outcome)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- Outcome{Err: msg}
	}
}

// PendingCount returns the number of in-flight commands.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}
