package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"MarketLens/internal/domain/models"
	"MarketLens/internal/domain/repository"
	pkgkafka "MarketLens/pkg/kafka"
)

// KafkaTickPublisher forwards live ticks to a Kafka topic, keyed by symbol
// so per-symbol ordering survives partitioning.
type KafkaTickPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaTickPublisher creates a Kafka-backed tick sink.
func NewKafkaTickPublisher(producer *pkgkafka.Producer, topic string) repository.TickSink {
	return &KafkaTickPublisher{producer: producer, topic: topic}
}

func (p *KafkaTickPublisher) Write(ctx context.Context, t *models.LiveTick) error {
	if t == nil || t.Symbol == "" {
		return nil
	}
	return p.producer.Publish(ctx, p.topic, []byte(t.Symbol), t)
}

func (p *KafkaTickPublisher) Close() error {
	return p.producer.Close()
}

// ClickHouseTickArchive appends live ticks to a ClickHouse table for
// later replay and analysis.
type ClickHouseTickArchive struct {
	db    *sql.DB
	table string
}

// NewClickHouseTickArchive creates a ClickHouse-backed tick sink.
func NewClickHouseTickArchive(db *sql.DB, table string) repository.TickSink {
	return &ClickHouseTickArchive{db: db, table: table}
}

// TickArchiveSchema returns idempotent DDL for the archive table.
func TickArchiveSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			ts DateTime64(3),
			symbol String,
			price Float64,
			change Float64,
			change_percent Float64,
			volume Float64
		) ENGINE=MergeTree ORDER BY (symbol, ts)`, database, table),
	}
}

func (a *ClickHouseTickArchive) Write(ctx context.Context, t *models.LiveTick) error {
	if t == nil || t.Symbol == "" || t.Price == nil {
		return nil
	}
	ts := time.Now()
	if t.Timestamp != nil {
		ts = time.UnixMilli(*t.Timestamp)
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, symbol, price, change, change_percent, volume) VALUES (?, ?, ?, ?, ?, ?)", a.table)
	_, err := a.db.ExecContext(ctx, q,
		ts,
		t.Symbol,
		*t.Price,
		deref(t.Change),
		deref(t.ChangePercent),
		deref(t.Volume),
	)
	return err
}

// WriteBatch appends many ticks in one round-trip; the pipeline's flusher
// uses it when draining its retry buffer.
func (a *ClickHouseTickArchive) WriteBatch(ctx context.Context, ticks []*models.LiveTick) error {
	if len(ticks) == 0 {
		return nil
	}
	values := make([]string, 0, len(ticks))
	args := make([]interface{}, 0, len(ticks)*6)
	for _, t := range ticks {
		if t == nil || t.Symbol == "" || t.Price == nil {
			continue
		}
		ts := time.Now()
		if t.Timestamp != nil {
			ts = time.UnixMilli(*t.Timestamp)
		}
		values = append(values, "(?, ?, ?, ?, ?, ?)")
		args = append(args, ts, t.Symbol, *t.Price, deref(t.Change), deref(t.ChangePercent), deref(t.Volume))
	}
	if len(values) == 0 {
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, symbol, price, change, change_percent, volume) VALUES %s", a.table, strings.Join(values, ","))
	_, err := a.db.ExecContext(ctx, q, args...)
	return err
}

func (a *ClickHouseTickArchive) Close() error {
	return nil // connection pool owned by pkg/clickhouse
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
