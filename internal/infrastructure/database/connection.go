package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/treumlabs/risk-engine/internal/infrastructure/config"
)

// ConnectionPool wraps a pgx pool with a circuit breaker, periodic
// health checks and pool statistics.
type ConnectionPool struct {
	pool            *pgxpool.Pool
	config          *config.DatabaseConfig
	logger          *zap.Logger
	healthCheckStop chan struct{}
	stopOnce        sync.Once
	metrics         *ConnectionMetrics
	circuitBreaker  *CircuitBreaker
}

// ConnectionMetrics tracks pool-level counters. Exported through the
// metrics registry's gauge callbacks.
type ConnectionMetrics struct {
	mu sync.RWMutex

	TotalConnections  int64
	ActiveConnections int64
	IdleConnections   int64

	TransactionsStarted    int64
	TransactionsCommitted  int64
	TransactionsRolledBack int64

	LastHealthCheck time.Time
}

// CircuitBreaker stops handing out connections after repeated failures
// so a dead database does not stall every assessment for its full
// timeout.
type CircuitBreaker struct {
	mu              sync.Mutex
	failureCount    int
	lastFailureTime time.Time
	state           CircuitState
	timeout         time.Duration
	threshold       int
}

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// NewConnectionPool connects to the primary database and starts the
// health check routine.
func NewConnectionPool(cfg *config.DatabaseConfig, logger *zap.Logger) (*ConnectionPool, error) {
	cp := &ConnectionPool{
		config:          cfg,
		logger:          logger,
		healthCheckStop: make(chan struct{}),
		metrics:         &ConnectionMetrics{},
		circuitBreaker: &CircuitBreaker{
			timeout:   30 * time.Second,
			threshold: 10,
			state:     CircuitClosed,
		},
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	cp.configurePool(poolCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cp.pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := cp.pool.Ping(ctx); err != nil {
		cp.pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	go cp.healthCheckRoutine()

	logger.Info("database connection pool initialized",
		zap.Int("max_connections", int(poolCfg.MaxConns)))

	return cp, nil
}

func (p *ConnectionPool) configurePool(cfg *pgxpool.Config) {
	if p.config.MaxOpenConns > 0 {
		cfg.MaxConns = int32(p.config.MaxOpenConns)
	} else {
		cfg.MaxConns = 25
	}
	if p.config.MaxIdleConns > 0 {
		cfg.MinConns = int32(p.config.MaxIdleConns)
	}
	if p.config.ConnMaxLifetime > 0 {
		cfg.MaxConnLifetime = p.config.ConnMaxLifetime
	} else {
		cfg.MaxConnLifetime = 30 * time.Minute
	}
	cfg.MaxConnIdleTime = 10 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	cfg.ConnConfig.ConnectTimeout = 5 * time.Second
	cfg.ConnConfig.RuntimeParams = map[string]string{
		"application_name":  "risk_engine",
		"search_path":       "riskengine,public",
		"timezone":          "UTC",
		"lock_timeout":      "10s",
		"statement_timeout": "30s",
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		p.metrics.mu.Lock()
		p.metrics.TotalConnections++
		p.metrics.mu.Unlock()
		return nil
	}

	cfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		return p.circuitBreaker.Allow()
	}
}

// Pool returns the underlying pgx pool.
func (p *ConnectionPool) Pool() *pgxpool.Pool {
	return p.pool
}

// Transaction runs fn inside a database transaction. Any error from fn
// rolls back.
func (p *ConnectionPool) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	return p.TransactionWithOptions(ctx, pgx.TxOptions{}, fn)
}

// TransactionWithOptions is Transaction with explicit isolation options.
func (p *ConnectionPool) TransactionWithOptions(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	p.metrics.mu.Lock()
	p.metrics.TransactionsStarted++
	p.metrics.mu.Unlock()

	err := pgx.BeginTxFunc(ctx, p.pool, opts, fn)

	p.metrics.mu.Lock()
	if err != nil {
		p.metrics.TransactionsRolledBack++
	} else {
		p.metrics.TransactionsCommitted++
	}
	p.metrics.mu.Unlock()

	if err != nil {
		p.circuitBreaker.RecordFailure()
	} else {
		p.circuitBreaker.RecordSuccess()
	}
	return err
}

// Stats returns a snapshot of the pool counters.
func (p *ConnectionPool) Stats() ConnectionMetrics {
	stats := p.pool.Stat()

	p.metrics.mu.Lock()
	p.metrics.ActiveConnections = int64(stats.AcquiredConns())
	p.metrics.IdleConnections = int64(stats.IdleConns())
	snapshot := ConnectionMetrics{
		TotalConnections:       p.metrics.TotalConnections,
		ActiveConnections:      p.metrics.ActiveConnections,
		IdleConnections:        p.metrics.IdleConnections,
		TransactionsStarted:    p.metrics.TransactionsStarted,
		TransactionsCommitted:  p.metrics.TransactionsCommitted,
		TransactionsRolledBack: p.metrics.TransactionsRolledBack,
		LastHealthCheck:        p.metrics.LastHealthCheck,
	}
	p.metrics.mu.Unlock()

	return snapshot
}

func (p *ConnectionPool) healthCheckRoutine() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performHealthCheck()
		case <-p.healthCheckStop:
			return
		}
	}
}

func (p *ConnectionPool) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.pool.Ping(ctx); err != nil {
		p.logger.Error("database health check failed", zap.Error(err))
		p.circuitBreaker.RecordFailure()
	} else {
		p.circuitBreaker.RecordSuccess()
	}

	p.metrics.mu.Lock()
	p.metrics.LastHealthCheck = time.Now()
	p.metrics.mu.Unlock()
}

// Close stops the health check routine and closes the pool.
func (p *ConnectionPool) Close() error {
	p.stopOnce.Do(func() { close(p.healthCheckStop) })
	p.pool.Close()
	p.logger.Info("database connection pool closed")
	return nil
}

// GetDB returns a database/sql view of the pool for libraries that
// require the standard interface, such as migrations.
func (p *ConnectionPool) GetDB() *sql.DB {
	return stdlib.OpenDBFromPool(p.pool)
}

// CircuitBreaker methods

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.timeout {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.state = CircuitClosed
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.state = CircuitOpen
	}
}
