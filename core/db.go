package core

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/commondao/commondao/cache"
	"github.com/commondao/commondao/logger"
	"github.com/commondao/commondao/pool"
)

// Config describes how to reach the database and how the pool and
// statement timeouts behave.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// Params are extra DSN parameters (charset, collation, ...).
	Params map[string]string

	MinSize          int
	MaxSize          int
	IdleTimeout      time.Duration
	AcquireTimeout   time.Duration
	StatementTimeout time.Duration
}

// DSN renders the MySQL connection string. parseTime is always enabled so
// DATETIME/TIMESTAMP columns scan as time.Time.
func (c Config) DSN() string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	port := c.Port
	if port == 0 {
		port = 3306
	}
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
	mc.DBName = c.Database
	mc.ParseTime = true
	if len(c.Params) > 0 {
		mc.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN()
}

func (c Config) poolConfig() pool.Config {
	return pool.Config{
		MinSize:        c.MinSize,
		MaxSize:        c.MaxSize,
		IdleTimeout:    c.IdleTimeout,
		AcquireTimeout: c.AcquireTimeout,
	}
}

// DB owns the connection pool and hands out sessions. It is safe for
// concurrent use; individual sessions are not.
type DB struct {
	sqlDB       *sql.DB
	pool        *pool.Pool
	log         logger.Logger
	cache       cache.Cache
	stmtTimeout time.Duration
}

// Open connects to MySQL with the given configuration and builds the pool.
func Open(cfg Config) (*DB, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("commondao: config: host is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("commondao: config: database is required")
	}
	sqlDB, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("commondao: open: %w", err)
	}
	db, err := New(sqlDB, cfg)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// New builds a DB around an already-opened handle. Used directly by tests
// and by callers that configure the handle themselves.
func New(sqlDB *sql.DB, cfg Config) (*DB, error) {
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("commondao: ping: %w", err)
	}
	p, err := pool.New(sqlDB, cfg.poolConfig())
	if err != nil {
		return nil, fmt.Errorf("commondao: pool: %w", err)
	}
	db := &DB{
		sqlDB:       sqlDB,
		pool:        p,
		log:         logger.New(),
		stmtTimeout: cfg.StatementTimeout,
	}
	p.SetLogger(db.log)
	return db, nil
}

// Close drains the pool and closes the underlying handle.
func (db *DB) Close() error {
	err := db.pool.Close()
	if cerr := db.sqlDB.Close(); err == nil {
		err = cerr
	}
	if db.cache != nil {
		_ = db.cache.Close()
	}
	return err
}

// SetLogger replaces the logger used for SQL tracing and pool events.
func (db *DB) SetLogger(l logger.Logger) {
	db.log = l
	db.pool.SetLogger(l)
}

// SetCache installs a result cache consulted by Mapper.Get under a TTL
// opt-in. The cache is closed together with the DB.
func (db *DB) SetCache(c cache.Cache) {
	db.cache = c
}

// Pool exposes pool statistics for monitoring.
func (db *DB) Pool() *pool.Pool {
	return db.pool
}

// Session acquires a connection and binds a new session to it. The caller
// must Close the session to return the connection.
func (db *DB) Session(ctx context.Context) (*Session, error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{db: db, conn: conn}, nil
}

// WithSession runs fn with a session scoped to the call: the connection is
// released on every exit path, including panics.
func (db *DB) WithSession(ctx context.Context, fn func(*Session) error) error {
	sess, err := db.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(sess)
}

// Transaction runs fn inside a transaction on a dedicated session.
// A panic or error rolls back; a nil return commits. If fn already
// finished the transaction itself, its outcome stands.
func (db *DB) Transaction(ctx context.Context, fn func(*Session) error) error {
	sess, err := db.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Begin(ctx); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sess.Rollback()
			panic(p)
		}
	}()

	if err := fn(sess); err != nil {
		if sess.InTransaction() {
			_ = sess.Rollback()
		}
		return err
	}
	if !sess.InTransaction() {
		// fn committed or rolled back explicitly.
		return nil
	}
	return sess.Commit()
}

func (db *DB) logSQL(sqlStr string, duration time.Duration, args ...any) {
	if db.log != nil {
		db.log.SQL(sqlStr, duration, args...)
	}
}
