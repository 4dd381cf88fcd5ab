// Package store holds the types kept in a user's local store: synced tables, the metadata
// catalog, indicator mappings, relationships, the interaction log and connection settings.
package store

import (
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// InternalPrefix marks bookkeeping tables. They are never listed as synced tables and never
// reachable from assistant SQL.
const InternalPrefix = "kpisync_"

// IsInternalName reports whether name collides with the bookkeeping namespace.
func IsInternalName(name string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(name)), InternalPrefix)
}

type OriginType string

const (
	OriginTable OriginType = "table"
	OriginView  OriginType = "view"
)

type SyncedTable struct {
	Name     string     `json:"name"`
	Origin   OriginType `json:"origin"`
	RowCount int64      `json:"row_count"`
	SyncedAt time.Time  `json:"synced_at"`
}

// TableData is a full in-memory copy of one remote entity.
type TableData struct {
	Name    string
	Origin  OriginType
	Columns []SourceColumn
	Rows    [][]any
}

// SourceColumn carries the remote type name as a hint for local type inference.
type SourceColumn struct {
	Name       string
	RemoteType string
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type CatalogEntry struct {
	Table       string    `json:"table"`
	Column      string    `json:"column"`
	Ordinal     int       `json:"ordinal"`
	Type        string    `json:"type"`
	Sample      string    `json:"sample"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Catalog indexes entries by table for allow-list checks.
type Catalog map[string][]CatalogEntry

func NewCatalog(entries []CatalogEntry) Catalog {
	out := Catalog{}
	for _, entry := range entries {
		out[entry.Table] = append(out[entry.Table], entry)
	}
	return out
}

// LookupTable resolves a table name case-insensitively and returns the catalogued spelling.
func (c Catalog) LookupTable(name string) (string, bool) {
	if _, ok := c[name]; ok {
		return name, true
	}
	for table := range c {
		if strings.EqualFold(table, name) {
			return table, true
		}
	}
	return "", false
}

// LookupColumn resolves a column of table case-insensitively.
func (c Catalog) LookupColumn(table, column string) (CatalogEntry, bool) {
	canonical, ok := c.LookupTable(table)
	if !ok {
		return CatalogEntry{}, false
	}
	for _, entry := range c[canonical] {
		if strings.EqualFold(entry.Column, column) {
			return entry, true
		}
	}
	return CatalogEntry{}, false
}

type IndicatorMode string

const (
	ModePeriod  IndicatorMode = "period"
	ModeBalance IndicatorMode = "balance"
)

type IndicatorKey struct {
	UserID    string `json:"user_id"`
	Sector    string `json:"sector"`
	Indicator string `json:"indicator"`
}

type IndicatorMapping struct {
	IndicatorKey
	Table         string        `json:"table"`
	ValueColumn   string        `json:"value_column"`
	DateColumn    string        `json:"date_column"`
	Mode          IndicatorMode `json:"mode"`
	TypeColumn    string        `json:"type_column,omitempty"`
	InflowValues  []string      `json:"inflow_values,omitempty"`
	OutflowValues []string      `json:"outflow_values,omitempty"`
	FilterColumn  string        `json:"filter_column,omitempty"`
	FilterValues  []string      `json:"filter_values,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type Cardinality string

const (
	OneToOne   Cardinality = "1:1"
	OneToMany  Cardinality = "1:N"
	ManyToOne  Cardinality = "N:1"
	ManyToMany Cardinality = "N:N"
)

func (c Cardinality) Valid() bool {
	switch c {
	case OneToOne, OneToMany, ManyToOne, ManyToMany:
		return true
	default:
		return false
	}
}

type Relationship struct {
	ID                int64       `json:"id"`
	OriginTable       string      `json:"origin_table"`
	OriginColumn      string      `json:"origin_column"`
	DestinationTable  string      `json:"destination_table"`
	DestinationColumn string      `json:"destination_column"`
	Cardinality       Cardinality `json:"cardinality"`
	CreatedAt         time.Time   `json:"created_at"`
}

type Interaction struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Question  string    `json:"question"`
	SQL       string    `json:"sql,omitempty"`
	Reply     string    `json:"reply,omitempty"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// ConnectionSettings are the remote source parameters a user saved. Port stays text so that
// validation can report a non-numeric port as a configuration error.
type ConnectionSettings struct {
	Driver    string    `json:"driver"`
	Host      string    `json:"host"`
	Port      string    `json:"port"`
	User      string    `json:"user"`
	Password  string    `json:"password,omitempty"`
	Database  string    `json:"database"`
	Schema    string    `json:"schema,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Redacted returns a copy without the password.
func (c ConnectionSettings) Redacted() ConnectionSettings {
	c.Password = ""
	return c
}

type ColumnProfile struct {
	Rows     int64    `json:"rows"`
	Distinct int64    `json:"distinct"`
	Values   []string `json:"values"`
}

type QueryResult struct {
	Columns  []string      `json:"columns"`
	Rows     [][]any       `json:"rows"`
	Duration time.Duration `json:"duration"`
}
