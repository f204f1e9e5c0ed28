package audit_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate-io/cleargate/pkg/audit"
)

func TestChainedTrail_AppendAndVerify(t *testing.T) {
	trail := audit.NewChainedTrail()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := trail.Record(ctx, audit.Event{
			Action:       "qc_submitted",
			ActorID:      "agent-tax-01",
			ResourceType: "qc_review",
			ResourceID:   "qcr_1",
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 5, trail.Size())
	assert.NoError(t, trail.VerifyChain())
	assert.NotEqual(t, "genesis", trail.ChainHead())
}

func TestChainedTrail_OrderingKeys(t *testing.T) {
	trail := audit.NewChainedTrail()
	ctx := context.Background()

	require.NoError(t, trail.Record(ctx, audit.Event{ResourceType: "qc_review", ResourceID: "qcr_1", Action: "a"}))
	require.NoError(t, trail.Record(ctx, audit.Event{ResourceType: "release", ResourceID: "rel_1", Action: "b"}))
	require.NoError(t, trail.Record(ctx, audit.Event{ResourceType: "qc_review", ResourceID: "qcr_1", Action: "c"}))

	entries := trail.Query(audit.Filter{ResourceID: "qcr_1"})
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].ResourceSeq)
	assert.Equal(t, uint64(2), entries[1].ResourceSeq)
	assert.Equal(t, uint64(3), entries[1].Sequence)
}

func TestChainedTrail_QueryFilter(t *testing.T) {
	trail := audit.NewChainedTrail()
	ctx := context.Background()

	require.NoError(t, trail.Record(ctx, audit.Event{Action: "qc_submitted", ActorID: "a1", ResourceType: "qc_review", ResourceID: "r1"}))
	require.NoError(t, trail.Record(ctx, audit.Event{Action: "release_requested", ActorID: "a2", ResourceType: "release", ResourceID: "r2"}))

	assert.Len(t, trail.Query(audit.Filter{Action: "qc_submitted"}), 1)
	assert.Len(t, trail.Query(audit.Filter{ActorID: "a2"}), 1)
	assert.Len(t, trail.Query(audit.Filter{}), 2)
	assert.Len(t, trail.Query(audit.Filter{MaxResults: 1}), 1)
}

type failingTrail struct{ calls int }

func (f *failingTrail) Record(ctx context.Context, event audit.Event) error {
	f.calls++
	return errors.New("sink unavailable")
}

func TestRecorder_SinkFailureIsSwallowed(t *testing.T) {
	sink := &failingTrail{}
	var failed []audit.Event
	rec := audit.NewRecorder(sink, func(event audit.Event, err error) {
		failed = append(failed, event)
	})

	// Record must not panic or surface the error.
	rec.Record(context.Background(), "authorize_release", "governor-1", "release", "rel_1", nil)

	assert.Equal(t, 1, sink.calls)
	require.Len(t, failed, 1)
	assert.Equal(t, "authorize_release", failed[0].Action)
}

func TestRecorder_NilHandlerTolerated(t *testing.T) {
	rec := audit.NewRecorder(&failingTrail{}, nil)
	assert.NotPanics(t, func() {
		rec.Record(context.Background(), "x", "y", "z", "id", nil)
	})
}

func TestWriterTrail_PrefixedJSONLines(t *testing.T) {
	var buf bytes.Buffer
	trail := audit.NewWriterTrail(&buf)

	require.NoError(t, trail.Record(context.Background(), audit.Event{
		Action:       "qc_transitioned_to_pass",
		ActorID:      "guardian-1",
		ResourceType: "qc_review",
		ResourceID:   "qcr_9",
	}))

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "AUDIT: "))
	assert.Contains(t, line, `"qc_transitioned_to_pass"`)
	assert.Contains(t, line, `"sequence":1`)
}
