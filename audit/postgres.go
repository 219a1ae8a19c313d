package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"charge_point/ocppclient"
)

const bufferSize = 1024

const createTable = `
	create table if not exists ocpp_session_log (
		id            bigserial primary key,
		station       text        not null,
		seq           bigint      not null,
		connection_id text,
		direction     text        not null,
		ts            timestamptz not null,
		frame         text,
		anomaly       text,
		detail        text
	)`

const insertRecord = `
	insert into ocpp_session_log (station, seq, connection_id, direction, ts, frame, anomaly, detail)
	values ($1,$2,$3,$4,$5,$6,$7,$8)`

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresSink inserts records from a background worker so Record never
// blocks the dispatcher. Records arriving while the buffer is full are dropped
// and counted.
type PostgresSink struct {
	db      execer
	pool    *pgxpool.Pool
	log     *logrus.Entry
	records chan Record
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int
}

// ConnectPostgres opens a pool, makes sure the table exists and starts the
// writer.
func ConnectPostgres(ctx context.Context, url string, log *logrus.Entry) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}
	sink := NewPostgresSink(pool, log)
	sink.pool = pool
	return sink, nil
}

func NewPostgresSink(db execer, log *logrus.Entry) *PostgresSink {
	s := &PostgresSink{
		db:      db,
		log:     log,
		records: make(chan Record, bufferSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *PostgresSink) run() {
	defer s.wg.Done()
	for record := range s.records {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := s.db.Exec(ctx, insertRecord,
			record.Station, int64(record.Seq), record.ConnectionID, record.Direction,
			record.Timestamp, record.Frame, record.Anomaly, record.Detail)
		cancel()
		if err != nil {
			s.log.WithField("station", record.Station).Errorf("audit insert failed: %v", err)
		}
	}
}

func (s *PostgresSink) Record(station string, entry ocppclient.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.records <- newRecord(station, entry):
	default:
		s.dropped++
		if s.dropped == 1 || s.dropped%100 == 0 {
			s.log.Warnf("audit buffer full, %d records dropped", s.dropped)
		}
	}
}

func (s *PostgresSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close flushes buffered records and releases the pool.
func (s *PostgresSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.records)
	s.mu.Unlock()

	s.wg.Wait()
	if s.pool != nil {
		s.pool.Close()
	}
}

var _ ocppclient.LogSink = (*PostgresSink)(nil)
