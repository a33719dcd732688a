package storage

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"regexp"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string

	// Database is the ClickHouse database name.
	Database string

	// Username for authentication.
	Username string

	// Password for authentication.
	Password string

	// Table holds the log lines. It needs timestamp, source, file_path,
	// message, raw and id columns.
	Table string

	// PageSize is the number of rows fetched per search page.
	PageSize int

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// Compression enables LZ4 compression.
	Compression bool
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func (c *ClickHouseConfig) setDefaults() {
	if c.Table == "" {
		c.Table = "logs"
	}
	if c.PageSize == 0 {
		c.PageSize = 1000
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 5
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
}

// Validate checks the configuration after defaults are applied.
func (c *ClickHouseConfig) Validate() error {
	if len(c.Addresses) == 0 {
		return fmt.Errorf("clickhouse: at least one address is required")
	}
	if !identRe.MatchString(c.Table) {
		return fmt.Errorf("clickhouse: invalid table name %q", c.Table)
	}
	if c.PageSize < 0 {
		return fmt.Errorf("clickhouse: page size must not be negative")
	}
	return nil
}

// ClickHouseSearcher runs keyword searches against a ClickHouse log table
// with keyset pagination over (timestamp, id).
type ClickHouseSearcher struct {
	config *ClickHouseConfig
	db     *sql.DB
}

// NewClickHouseSearcher creates a searcher. Call Open before searching.
func NewClickHouseSearcher(config *ClickHouseConfig) *ClickHouseSearcher {
	config.setDefaults()
	return &ClickHouseSearcher{config: config}
}

// Open initializes the ClickHouse connection.
func (s *ClickHouseSearcher) Open() error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	opts := &clickhouse.Options{
		Addr: s.config.Addresses,
		Auth: clickhouse.Auth{
			Database: s.config.Database,
			Username: s.config.Username,
			Password: s.config.Password,
		},
		DialTimeout:  s.config.DialTimeout,
		MaxOpenConns: s.config.MaxOpenConns,
		MaxIdleConns: s.config.MaxIdleConns,
	}
	if s.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *ClickHouseSearcher) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the connection health.
func (s *ClickHouseSearcher) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// searchCursor is the keyset position after the last returned row.
type searchCursor struct {
	ts time.Time
	id string
}

// lineExpr prefers the raw line and falls back to the parsed message.
const lineExpr = "if(raw != '', raw, message)"

// Search returns matches for q one page at a time. Iteration stops at the
// first error, which is yielded once.
func (s *ClickHouseSearcher) Search(ctx context.Context, q models.SearchQuery) iter.Seq2[models.LogMatch, error] {
	return func(yield func(models.LogMatch, error) bool) {
		var after *searchCursor
		for {
			query, args := s.buildSearchQuery(q, after)
			n, last, err := s.fetchPage(ctx, query, args, yield)
			if err != nil {
				yield(models.LogMatch{}, err)
				return
			}
			if last == nil {
				// Consumer stopped early.
				return
			}
			if n < s.config.PageSize {
				return
			}
			after = last
		}
	}
}

// fetchPage streams one page into yield. It returns a nil cursor when the
// consumer stopped iterating.
func (s *ClickHouseSearcher) fetchPage(ctx context.Context, query string, args []any, yield func(models.LogMatch, error) bool) (int, *searchCursor, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("clickhouse search: %w", err)
	}
	defer rows.Close()

	n := 0
	cur := &searchCursor{}
	for rows.Next() {
		var m models.LogMatch
		if err := rows.Scan(&m.Timestamp, &m.Stream, &m.Line, &cur.id); err != nil {
			return n, nil, fmt.Errorf("clickhouse scan: %w", err)
		}
		cur.ts = m.Timestamp
		n++
		if !yield(m, nil) {
			return n, nil, nil
		}
	}
	if err := rows.Err(); err != nil {
		return n, nil, fmt.Errorf("clickhouse rows: %w", err)
	}
	return n, cur, nil
}

// buildSearchQuery constructs one page of a keyword search.
func (s *ClickHouseSearcher) buildSearchQuery(q models.SearchQuery, after *searchCursor) (string, []any) {
	var sb strings.Builder
	var args []any

	sb.WriteString("SELECT timestamp, file_path, ")
	sb.WriteString(lineExpr)
	sb.WriteString(", toString(id) FROM ")
	sb.WriteString(s.config.Table)

	conditions := []string{"timestamp >= ?", "timestamp < ?"}
	args = append(args, q.Start, q.End)

	if q.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, q.Source)
	}
	if q.StreamPrefix != "" {
		conditions = append(conditions, "startsWith(file_path, ?)")
		args = append(args, q.StreamPrefix)
	}

	// Case-sensitive literal match.
	conditions = append(conditions, "position("+lineExpr+", ?) > 0")
	args = append(args, q.Keyword)

	if after != nil {
		conditions = append(conditions, "(timestamp, id) > (?, toUUID(?))")
		args = append(args, after.ts, after.id)
	}

	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(conditions, " AND "))
	sb.WriteString(fmt.Sprintf(" ORDER BY timestamp ASC, id ASC LIMIT %d", s.config.PageSize))

	return sb.String(), args
}
