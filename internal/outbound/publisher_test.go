package outbound_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"BoardLedger/internal/observability"
	"BoardLedger/internal/outbound"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeJetStream struct {
	mu       sync.Mutex
	msgs     []published
	failNext bool
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("no responders")
	}
	f.msgs = append(f.msgs, published{subject: subject, data: payload})
	return &jetstream.PubAck{Stream: outbound.ReportStream}, nil
}

func TestSubject(t *testing.T) {
	tests := map[string]string{
		"12345":     "board.ledger.reports.12345",
		"la.liga":   "board.ledger.reports.la_liga",
		"a*b>c":     "board.ledger.reports.a_b_c",
		"my league": "board.ledger.reports.my_league",
		"":          "board.ledger.reports._",
	}
	for in, want := range tests {
		assert.Equal(t, want, outbound.Subject(in), "league %q", in)
	}
}

func TestReportPublisher_Run(t *testing.T) {
	js := &fakeJetStream{failNext: true}
	m := observability.NewMetrics(prometheus.NewRegistry())
	ch := make(chan outbound.ReportMessage, 2)
	pub := outbound.NewReportPublisher(js, ch, m, zerolog.Nop())

	first := outbound.ReportMessage{ReportID: uuid.New(), LeagueID: "7", Summary: json.RawMessage(`{"initial_budget":1}`), CreatedAt: time.Now()}
	second := first
	second.ReportID = uuid.New()
	ch <- first
	ch <- second
	close(ch)

	require.NoError(t, pub.Run(context.Background()))

	require.Len(t, js.msgs, 1, "failed publish is not retried")
	assert.Equal(t, "board.ledger.reports.7", js.msgs[0].subject)

	var got outbound.ReportMessage
	require.NoError(t, json.Unmarshal(js.msgs[0].data, &got))
	assert.Equal(t, second.ReportID, got.ReportID)
	assert.JSONEq(t, `{"initial_budget":1}`, string(got.Summary))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PublishErrors))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReportsPublished))
}

func TestReportPublisher_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub := outbound.NewReportPublisher(&fakeJetStream{}, make(chan outbound.ReportMessage), nil, zerolog.Nop())

	assert.ErrorIs(t, pub.Run(ctx), context.Canceled)
}
