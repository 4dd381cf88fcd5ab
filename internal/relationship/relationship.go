// Package relationship keeps approved join relationships between synced tables, suggests new
// ones from shared column names and finds join paths between tables.
package relationship

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yourbasic/graph"

	"github.com/kpisync/kpisync/internal/store"
)

var (
	ErrInvalid   = errors.New("invalid relationship")
	ErrDuplicate = errors.New("relationship already approved")
	ErrNoPath    = errors.New("no join path")
)

// profileValues bounds the distinct values compared per column.
const profileValues = 1000

type Store interface {
	ListSyncedTables(ctx context.Context) ([]store.SyncedTable, error)
	TableColumns(ctx context.Context, table string) ([]store.Column, error)
	ColumnProfile(ctx context.Context, table, column string, limit int) (store.ColumnProfile, error)
	ListCatalog(ctx context.Context) ([]store.CatalogEntry, error)
	CreateRelationship(ctx context.Context, rel store.Relationship) (store.Relationship, error)
	ListRelationships(ctx context.Context) ([]store.Relationship, error)
	DeleteRelationship(ctx context.Context, id int64) error
}

type Suggestion struct {
	store.Relationship
	SharedValues int `json:"shared_values"`
}

// Suggest pairs distinct synced tables that share a column name (case-insensitive) with
// overlapping values. Pairs already approved are left out.
func Suggest(ctx context.Context, st Store) ([]Suggestion, error) {
	synced, err := st.ListSyncedTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list synced tables: %w", err)
	}
	approved, err := st.ListRelationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}

	columns := make(map[string]map[string]string, len(synced))
	for _, table := range synced {
		cols, err := st.TableColumns(ctx, table.Name)
		if err != nil {
			return nil, fmt.Errorf("columns of %s: %w", table.Name, err)
		}
		byName := make(map[string]string, len(cols))
		for _, c := range cols {
			byName[strings.ToLower(c.Name)] = c.Name
		}
		columns[table.Name] = byName
	}

	profiles := map[string]store.ColumnProfile{}
	profile := func(table, column string) (store.ColumnProfile, error) {
		key := table + "\x00" + column
		if p, ok := profiles[key]; ok {
			return p, nil
		}
		p, err := st.ColumnProfile(ctx, table, column, profileValues)
		if err != nil {
			return store.ColumnProfile{}, err
		}
		profiles[key] = p
		return p, nil
	}

	suggestions := make([]Suggestion, 0)
	for i := 0; i < len(synced); i++ {
		for j := i + 1; j < len(synced); j++ {
			left, right := synced[i].Name, synced[j].Name
			for _, shared := range sharedColumns(columns[left], columns[right]) {
				leftCol, rightCol := columns[left][shared], columns[right][shared]
				if isApproved(approved, left, leftCol, right, rightCol) {
					continue
				}
				lp, err := profile(left, leftCol)
				if err != nil {
					return nil, err
				}
				rp, err := profile(right, rightCol)
				if err != nil {
					return nil, err
				}
				overlap := overlapCount(lp.Values, rp.Values)
				if overlap == 0 {
					continue
				}
				suggestions = append(suggestions, Suggestion{
					Relationship: store.Relationship{
						OriginTable:       left,
						OriginColumn:      leftCol,
						DestinationTable:  right,
						DestinationColumn: rightCol,
						Cardinality:       Cardinality(lp, rp),
					},
					SharedValues: overlap,
				})
			}
		}
	}
	return suggestions, nil
}

// Cardinality derives the relationship kind from the uniqueness of each side.
func Cardinality(origin, destination store.ColumnProfile) store.Cardinality {
	originUnique, destUnique := unique(origin), unique(destination)
	switch {
	case originUnique && destUnique:
		return store.OneToOne
	case originUnique:
		return store.OneToMany
	case destUnique:
		return store.ManyToOne
	default:
		return store.ManyToMany
	}
}

func unique(p store.ColumnProfile) bool {
	return p.Rows > 0 && p.Distinct == p.Rows
}

func sharedColumns(left, right map[string]string) []string {
	shared := make([]string, 0)
	for name := range left {
		if _, ok := right[name]; ok {
			shared = append(shared, name)
		}
	}
	sort.Strings(shared)
	return shared
}

func overlapCount(left, right []string) int {
	set := make(map[string]struct{}, len(left))
	for _, v := range left {
		set[v] = struct{}{}
	}
	n := 0
	for _, v := range right {
		if _, ok := set[v]; ok {
			n++
		}
	}
	return n
}

func isApproved(approved []store.Relationship, leftTable, leftCol, rightTable, rightCol string) bool {
	for _, rel := range approved {
		if sameEdge(rel, leftTable, leftCol, rightTable, rightCol) {
			return true
		}
	}
	return false
}

func sameEdge(rel store.Relationship, aTable, aCol, bTable, bCol string) bool {
	forward := strings.EqualFold(rel.OriginTable, aTable) && strings.EqualFold(rel.OriginColumn, aCol) &&
		strings.EqualFold(rel.DestinationTable, bTable) && strings.EqualFold(rel.DestinationColumn, bCol)
	backward := strings.EqualFold(rel.OriginTable, bTable) && strings.EqualFold(rel.OriginColumn, bCol) &&
		strings.EqualFold(rel.DestinationTable, aTable) && strings.EqualFold(rel.DestinationColumn, aCol)
	return forward || backward
}

// Approve validates rel against the catalog and stores it with catalogued spellings.
func Approve(ctx context.Context, st Store, rel store.Relationship) (store.Relationship, error) {
	if !rel.Cardinality.Valid() {
		return store.Relationship{}, fmt.Errorf("%w: cardinality must be one of 1:1, 1:N, N:1, N:N", ErrInvalid)
	}
	entries, err := st.ListCatalog(ctx)
	if err != nil {
		return store.Relationship{}, fmt.Errorf("load catalog: %w", err)
	}
	catalog := store.NewCatalog(entries)

	origin, ok := catalog.LookupColumn(rel.OriginTable, rel.OriginColumn)
	if !ok {
		return store.Relationship{}, fmt.Errorf("%w: %s.%s is not in the catalog", ErrInvalid, rel.OriginTable, rel.OriginColumn)
	}
	destination, ok := catalog.LookupColumn(rel.DestinationTable, rel.DestinationColumn)
	if !ok {
		return store.Relationship{}, fmt.Errorf("%w: %s.%s is not in the catalog", ErrInvalid, rel.DestinationTable, rel.DestinationColumn)
	}
	if origin.Table == destination.Table {
		return store.Relationship{}, fmt.Errorf("%w: origin and destination must be different tables", ErrInvalid)
	}

	approved, err := st.ListRelationships(ctx)
	if err != nil {
		return store.Relationship{}, fmt.Errorf("list relationships: %w", err)
	}
	if isApproved(approved, origin.Table, origin.Column, destination.Table, destination.Column) {
		return store.Relationship{}, ErrDuplicate
	}

	return st.CreateRelationship(ctx, store.Relationship{
		OriginTable:       origin.Table,
		OriginColumn:      origin.Column,
		DestinationTable:  destination.Table,
		DestinationColumn: destination.Column,
		Cardinality:       rel.Cardinality,
	})
}

// JoinPath returns the approved relationships along a shortest path from one table to another.
// The path is empty when from and to name the same table.
func JoinPath(relationships []store.Relationship, from, to string) ([]store.Relationship, error) {
	index := map[string]int{}
	names := make([]string, 0)
	vertex := func(table string) int {
		key := strings.ToLower(table)
		if v, ok := index[key]; ok {
			return v
		}
		index[key] = len(names)
		names = append(names, table)
		return index[key]
	}
	for _, rel := range relationships {
		vertex(rel.OriginTable)
		vertex(rel.DestinationTable)
	}

	start, ok := index[strings.ToLower(from)]
	if !ok {
		return nil, fmt.Errorf("%w from %s to %s", ErrNoPath, from, to)
	}
	end, ok := index[strings.ToLower(to)]
	if !ok {
		return nil, fmt.Errorf("%w from %s to %s", ErrNoPath, from, to)
	}
	if start == end {
		return []store.Relationship{}, nil
	}

	g := graph.New(len(names))
	edges := map[[2]int]store.Relationship{}
	for _, rel := range relationships {
		v, w := index[strings.ToLower(rel.OriginTable)], index[strings.ToLower(rel.DestinationTable)]
		if v == w {
			continue
		}
		g.AddBothCost(v, w, 1)
		if _, seen := edges[[2]int{v, w}]; !seen {
			edges[[2]int{v, w}] = rel
			edges[[2]int{w, v}] = rel
		}
	}

	path, dist := graph.ShortestPath(g, start, end)
	if dist < 0 {
		return nil, fmt.Errorf("%w from %s to %s", ErrNoPath, from, to)
	}
	out := make([]store.Relationship, 0, len(path)-1)
	for i := 1; i < len(path); i++ {
		out = append(out, edges[[2]int{path[i-1], path[i]}])
	}
	return out, nil
}
