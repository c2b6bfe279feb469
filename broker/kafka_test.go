package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/irsalhamdi/course-reconcile/provider"
	"github.com/irsalhamdi/course-reconcile/reconcile"
	"github.com/irsalhamdi/course-reconcile/tenant"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublish(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	w := &fakeWriter{}
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	p := &Publisher{writer: w, log: log, now: func() time.Time { return now }}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rep := reconcile.Report{
		RunID:    "run-1",
		Tenant:   tenant.Bootcamp,
		Provider: "stripe",
		Window:   provider.Window{Start: start, End: start.AddDate(0, 1, 0)},
		State:    reconcile.Done,
		Counts:   reconcile.Counts{Matched: 2, LocalMissing: 1},
		Outcomes: reconcile.Outcomes{Applied: 1},
		Discrepancies: []reconcile.Discrepancy{
			{ExternalID: "pi_3"},
		},
		AppliedAnyWrites: true,
		StartedAt:        now,
		FinishedAt:       now,
		Unverified:       []string{"pi_0"},
	}

	if err := p.Publish(context.Background(), rep); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	if got := string(w.msgs[0].Key); got != "bootcamp" {
		t.Errorf("expected key bootcamp, got %s", got)
	}

	var got RunFinished
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatal(err)
	}
	exp := RunFinished{
		Type:             "reconciliation.run.finished",
		RunID:            "run-1",
		Tenant:           "bootcamp",
		Provider:         "stripe",
		WindowStart:      start,
		WindowEnd:        start.AddDate(0, 1, 0),
		State:            reconcile.Done,
		Counts:           reconcile.Counts{Matched: 2, LocalMissing: 1},
		Outcomes:         reconcile.Outcomes{Applied: 1},
		Unverified:       1,
		AppliedAnyWrites: true,
		StartedAt:        now,
		FinishedAt:       now,
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("event (-want +got):\n%s", diff)
	}
}

func TestPublishError(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	boom := errors.New("leader not available")
	p := &Publisher{writer: &fakeWriter{err: boom}, log: log, now: time.Now}

	if err := p.Publish(context.Background(), reconcile.Report{}); !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
}

func TestEnabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Error("empty config must be disabled")
	}
	if (Config{Brokers: []string{""}}).Enabled() {
		t.Error("blank broker must be disabled")
	}
	if !(Config{Brokers: []string{"kafka:9092"}}).Enabled() {
		t.Error("expected enabled")
	}
}
