package paxos

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingHost captures every message a role sends instead of delivering it.
type recordingHost struct {
	id     string
	others []string

	mu    sync.Mutex
	sent  []Message
	err   error
	calls int
}

func newRecordingHost(id string, others ...string) *recordingHost {
	return &recordingHost{id: id, others: others}
}

func (h *recordingHost) ID() string           { return h.id }
func (h *recordingHost) OtherNodes() []string { return h.others }

func (h *recordingHost) SendMessage(_ context.Context, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.err != nil {
		return h.err
	}
	h.sent = append(h.sent, msg)
	return nil
}

func (h *recordingHost) messages(typ MessageType) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Message
	for _, m := range h.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (h *recordingHost) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = nil
	h.calls = 0
}

func targets(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.To)
	}
	return out
}

func TestFailureInjector(t *testing.T) {
	var nilInjector *FailureInjector
	assert.NoError(t, nilInjector.MaybeFail())
	assert.NoError(t, NewFailureInjector(0).MaybeFail())
	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, NewFailureInjector(1).MaybeFail(), ErrSimulatedFailure)
	}
}

func TestClusterSizeCountsSelf(t *testing.T) {
	assert.Equal(t, 1, clusterSize(newRecordingHost("a")))
	assert.Equal(t, 3, clusterSize(newRecordingHost("a", "b", "c")))
}
