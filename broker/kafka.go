// Package broker publishes reconciliation run summaries to Kafka.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/irsalhamdi/course-reconcile/reconcile"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Brokers []string
	Topic   string   `conf:"default:reconciliation-runs"`
}

// Enabled reports whether a broker address is configured.
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0 && strings.TrimSpace(c.Brokers[0]) != ""
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one RunFinished event per run, keyed by tenant so that
// the runs of a tenant stay ordered within a partition.
type Publisher struct {
	writer writer
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewPublisher(cfg Config, log logrus.FieldLogger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return &Publisher{writer: w, log: log, now: time.Now}
}

// RunFinished summarizes a run without its discrepancy details, which stay
// available through the audit records.
type RunFinished struct {
	Type             string             `json:"type"`
	RunID            string             `json:"runId"`
	Tenant           string             `json:"tenant"`
	Provider         string             `json:"provider"`
	WindowStart      time.Time          `json:"windowStart"`
	WindowEnd        time.Time          `json:"windowEnd"`
	DryRun           bool               `json:"dryRun"`
	State            reconcile.State    `json:"state"`
	Counts           reconcile.Counts   `json:"counts"`
	Outcomes         reconcile.Outcomes `json:"outcomes"`
	Unverified       int                `json:"unverified,omitempty"`
	AppliedAnyWrites bool               `json:"appliedAnyWrites"`
	Cursor           string             `json:"cursor,omitempty"`
	StartedAt        time.Time          `json:"startedAt"`
	FinishedAt       time.Time          `json:"finishedAt"`
}

func (p *Publisher) Publish(ctx context.Context, r reconcile.Report) error {
	ev := RunFinished{
		Type:             "reconciliation.run.finished",
		RunID:            r.RunID,
		Tenant:           r.Tenant.String(),
		Provider:         r.Provider,
		WindowStart:      r.Window.Start,
		WindowEnd:        r.Window.End,
		DryRun:           r.DryRun,
		State:            r.State,
		Counts:           r.Counts,
		Outcomes:         r.Outcomes,
		Unverified:       len(r.Unverified),
		AppliedAnyWrites: r.AppliedAnyWrites,
		Cursor:           string(r.Cursor),
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling run summary: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.Tenant),
		Value: b,
		Time:  p.now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing run summary to kafka: %w", err)
	}

	p.log.WithFields(logrus.Fields{"run_id": r.RunID, "tenant": ev.Tenant}).Debug("run summary published")
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
