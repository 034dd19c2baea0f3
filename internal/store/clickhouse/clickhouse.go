// Package clickhouse implements internal/store.Store on top of ClickHouse.
// The schema and its indexes are created by the migrations under
// migrations/clickhouse; this package only issues DML.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/SakshamSinghal20/Whisper/internal/store"
	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

// Metrics observes store operations. internal/metrics.Store implements it.
type Metrics interface {
	Observe(operation string, err error, started time.Time)
}

// Repository implements store.Store against a ClickHouse connection.
type Repository struct {
	conn    clickhouse.Conn
	metrics Metrics
}

var _ store.Store = (*Repository)(nil)

// NewRepository opens a ClickHouse connection from dsn.
func NewRepository(dsn string, metrics Metrics) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("clickhouse dsn is required")
	}

	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	return &Repository{conn: conn, metrics: metrics}, nil
}

// classifyConnErr maps a driver-level failure to the whisperr taxonomy: a
// context deadline is a Timeout, anything else touching the wire is
// StoreUnavailable, since ClickHouse gives no distinct "pool exhausted"
// signal the way a fixed-size connection pool would.
func classifyConnErr(reason string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return whisperr.Wrap(whisperr.Timeout, reason, err)
	}
	return whisperr.Wrap(whisperr.StoreUnavailable, reason, err)
}
