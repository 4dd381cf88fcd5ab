package remote

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kpisync/kpisync/internal/store"
)

// Entity is a table or view available for sync.
type Entity struct {
	Name   string           `json:"name"`
	Origin store.OriginType `json:"origin"`
}

// Source is an open read-only handle on a remote database.
type Source struct {
	db     *sql.DB
	driver Driver
	schema string
	host   string
}

// Open validates cfg, connects and pings. Validation failures are *ConfigError and connection
// failures are *ConnectionError.
func Open(ctx context.Context, cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driverName := "mysql"
	if cfg.Driver == DriverPostgres {
		driverName = "pgx"
	}
	db, err := sql.Open(driverName, cfg.DSN())
	if err != nil {
		return nil, &ConnectionError{Driver: cfg.Driver, Host: cfg.Host, Err: err}
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Driver: cfg.Driver, Host: cfg.Host, Err: err}
	}
	source := NewSource(db, cfg.Driver, cfg.schema())
	source.host = cfg.Host
	return source, nil
}

// NewSource wraps an already open handle.
func NewSource(db *sql.DB, driver Driver, schema string) *Source {
	return &Source{db: db, driver: driver, schema: schema}
}

func (s *Source) Close() error {
	return s.db.Close()
}

// ListEntities returns base tables and views of the configured schema sorted by name.
func (s *Source) ListEntities(ctx context.Context) ([]Entity, error) {
	query := `
SELECT table_name, table_type
FROM information_schema.tables
WHERE table_schema = ` + s.placeholder(1) + `
  AND table_type IN ('BASE TABLE', 'VIEW')`

	rows, err := s.db.QueryContext(ctx, query, s.schema)
	if err != nil {
		return nil, &ConnectionError{Driver: s.driver, Host: s.host, Err: fmt.Errorf("list entities: %w", err)}
	}
	defer func() { _ = rows.Close() }()

	entities := make([]Entity, 0)
	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		origin := store.OriginTable
		if strings.EqualFold(tableType, "VIEW") {
			origin = store.OriginView
		}
		entities = append(entities, Entity{Name: name, Origin: origin})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity rows: %w", err)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	return entities, nil
}

// ReadEntity loads the full contents of one entity.
func (s *Source) ReadEntity(ctx context.Context, entity Entity) (store.TableData, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT * FROM `+s.qualified(entity.Name))
	if err != nil {
		return store.TableData{}, fmt.Errorf("select from %s: %w", entity.Name, err)
	}
	defer func() { _ = rows.Close() }()

	types, err := rows.ColumnTypes()
	if err != nil {
		return store.TableData{}, fmt.Errorf("column types of %s: %w", entity.Name, err)
	}
	data := store.TableData{
		Name:    entity.Name,
		Origin:  entity.Origin,
		Columns: make([]store.SourceColumn, len(types)),
		Rows:    make([][]any, 0),
	}
	for i, columnType := range types {
		data.Columns[i] = store.SourceColumn{Name: columnType.Name(), RemoteType: columnType.DatabaseTypeName()}
	}

	for rows.Next() {
		values := make([]any, len(types))
		targets := make([]any, len(types))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return store.TableData{}, fmt.Errorf("scan %s row: %w", entity.Name, err)
		}
		for i, value := range values {
			values[i] = scalar(value)
		}
		data.Rows = append(data.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return store.TableData{}, fmt.Errorf("read %s rows: %w", entity.Name, err)
	}
	return data, nil
}

func (s *Source) placeholder(n int) string {
	if s.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *Source) qualified(name string) string {
	if s.driver == DriverPostgres {
		return quotePostgres(s.schema) + "." + quotePostgres(name)
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quotePostgres(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

// scalar reduces driver values to generic scalars: integers, floats, booleans, times and text.
func scalar(value any) any {
	switch typed := value.(type) {
	case nil, int64, float64, bool, string, time.Time:
		return typed
	case []byte:
		return string(typed)
	case int32:
		return int64(typed)
	case int16:
		return int64(typed)
	case int8:
		return int64(typed)
	case int:
		return int64(typed)
	case uint64, uint32, uint16, uint8, uint:
		return typed
	case float32:
		return float64(typed)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}
