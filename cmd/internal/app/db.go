package app

import (
	"context"
	"time"

	"messenger/cmd/internal/dbschema"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
// It does not run migrations; see Migrate.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}
	if pcfg.ConnConfig.RuntimeParams["application_name"] == "" {
		pcfg.ConnConfig.RuntimeParams["application_name"] = "messenger"
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// Migrate applies the messenger DDL to cfg.DBSchema.
func Migrate(ctx context.Context, cfg Config, log Logger) error {
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := dbschema.Apply(ctx, pool, cfg.DBSchema); err != nil {
		return err
	}
	log.Info("db.migrate.done", "schema", cfg.DBSchema)
	return nil
}

// dbPoolCollector exports pgxpool.Stat on scrape.
type dbPoolCollector struct {
	pool *pgxpool.Pool

	total, idle, acquired, maxConns *prometheus.Desc
	acquireCount, emptyAcquire     *prometheus.Desc
	acquireSeconds                 *prometheus.Desc
}

func newDBPoolCollector(pool *pgxpool.Pool) *dbPoolCollector {
	d := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("messenger_db_pool_"+name, help, nil, nil)
	}
	return &dbPoolCollector{
		pool:           pool,
		total:          d("conns", "Connections currently open."),
		idle:           d("idle_conns", "Idle connections."),
		acquired:       d("acquired_conns", "Connections checked out."),
		maxConns:       d("max_conns", "Configured pool size."),
		acquireCount:   d("acquires_total", "Successful acquires."),
		emptyAcquire:   d("empty_acquires_total", "Acquires that had to wait for a connection."),
		acquireSeconds: d("acquire_seconds_total", "Time spent waiting in Acquire."),
	}
}

func (c *dbPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.total, c.idle, c.acquired, c.maxConns, c.acquireCount, c.emptyAcquire, c.acquireSeconds} {
		ch <- d
	}
}

func (c *dbPoolCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(st.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(st.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(st.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(st.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(st.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(st.EmptyAcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireSeconds, prometheus.CounterValue, st.AcquireDuration().Seconds())
}
