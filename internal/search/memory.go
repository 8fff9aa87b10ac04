package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/suteetoe/coursecatalog/prometheus"
)

const docTable = "document"

func memorySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			docTable: {
				Name: docTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					FieldContentType: {
						Name:    FieldContentType,
						Indexer: &memdb.StringFieldIndex{Field: "ContentType"},
					},
				},
			},
		},
	}
}

// MemoryBackend keeps documents in process and evaluates queries with the
// in-process query_string subset. Distinct counts are exact.
type MemoryBackend struct {
	db *memdb.MemDB
}

// NewMemoryBackend creates an empty in-process index
func NewMemoryBackend() (*MemoryBackend, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memory index: %w", err)
	}
	return &MemoryBackend{db: db}, nil
}

func (m *MemoryBackend) Name() string { return BackendMemory }

// Index inserts or replaces documents by id
func (m *MemoryBackend) Index(_ context.Context, docs []Doc) error {
	txn := m.db.Txn(true)
	defer txn.Abort()
	for i := range docs {
		d := docs[i]
		if err := txn.Insert(docTable, &d); err != nil {
			return fmt.Errorf("failed to index %s: %w", d.ID, err)
		}
	}
	txn.Commit()
	return nil
}

// Delete removes documents by id; unknown ids are ignored
func (m *MemoryBackend) Delete(_ context.Context, ids []string) error {
	txn := m.db.Txn(true)
	defer txn.Abort()
	for _, id := range ids {
		if _, err := txn.DeleteAll(docTable, "id", id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
	}
	txn.Commit()
	return nil
}

// Clear removes every document
func (m *MemoryBackend) Clear(_ context.Context) error {
	txn := m.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(docTable, "id"); err != nil {
		return fmt.Errorf("failed to clear memory index: %w", err)
	}
	txn.Commit()
	return nil
}

// Search evaluates q, computes every facet of plan over all matches and
// returns the requested window of hits
func (m *MemoryBackend) Search(_ context.Context, q Query, plan *AggregationPlan, offset, limit int) (*Result, error) {
	defer prometheus.TrackSearch(BackendMemory)(time.Now())

	matches, err := m.match(q)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Total:        len(matches),
		DistinctHits: distinctKeys(matches),
		Fields:       make(map[string][]Bucket, len(plan.Terms)),
		Queries:      make(map[string]Bucket, len(plan.Queries)),
	}
	for _, t := range plan.Terms {
		res.Fields[t.Name] = termsBuckets(matches, t)
	}
	for _, qf := range plan.Queries {
		matcher, err := ParseQueryString(qf.Query)
		if err != nil {
			return nil, err
		}
		var in []*Doc
		for _, d := range matches {
			if matcher.Match(d) {
				in = append(in, d)
			}
		}
		res.Queries[qf.Name] = Bucket{Value: qf.Name, Count: len(in), DistinctCount: distinctKeys(in)}
	}

	if offset < len(matches) {
		end := len(matches)
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		for _, d := range matches[offset:end] {
			res.Hits = append(res.Hits, *d)
		}
	}
	return res, nil
}

// ScanPKs returns the primary keys of every match of q
func (m *MemoryBackend) ScanPKs(_ context.Context, q Query) ([]uint, error) {
	defer prometheus.TrackSearch(BackendMemory)(time.Now())

	matches, err := m.match(q)
	if err != nil {
		return nil, err
	}
	pks := make([]uint, len(matches))
	for i, d := range matches {
		pks[i] = d.PK
	}
	return pks, nil
}

// match returns the documents matching q ordered by content type and pk
func (m *MemoryBackend) match(q Query) ([]*Doc, error) {
	filter, err := compileQuery(q)
	if err != nil {
		return nil, err
	}
	matches, err := m.candidates(q.ContentTypes)
	if err != nil {
		return nil, err
	}
	kept := matches[:0]
	for _, d := range matches {
		if filter.Match(d) {
			kept = append(kept, d)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].ContentType != kept[j].ContentType {
			return kept[i].ContentType < kept[j].ContentType
		}
		return kept[i].PK < kept[j].PK
	})
	return kept, nil
}

func (m *MemoryBackend) candidates(contentTypes []string) ([]*Doc, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	var out []*Doc
	collect := func(index string, args ...interface{}) error {
		it, err := txn.Get(docTable, index, args...)
		if err != nil {
			return fmt.Errorf("failed to scan memory index: %w", err)
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			out = append(out, obj.(*Doc))
		}
		return nil
	}
	if len(contentTypes) == 0 {
		return out, collect("id")
	}
	for _, ct := range contentTypes {
		if err := collect(FieldContentType, ct); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// compileQuery folds text, field filters and query filters into one matcher
func compileQuery(q Query) (Matcher, error) {
	text, err := ParseQueryString(q.Text)
	if err != nil {
		return nil, err
	}
	all := andMatch{text}
	for _, f := range q.Filters {
		all = append(all, termMatch{field: f.Field, value: f.Value, phrase: true})
	}
	for _, qs := range q.QueryFilters {
		m, err := ParseQueryString(qs)
		if err != nil {
			return nil, err
		}
		all = append(all, m)
	}
	return all, nil
}

func distinctKeys(docs []*Doc) int {
	seen := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		seen[d.AggregationKey] = struct{}{}
	}
	return len(seen)
}

// termsBuckets orders buckets by count, then value, and keeps t.Size of them
func termsBuckets(docs []*Doc, t TermsFacet) []Bucket {
	type acc struct {
		count int
		keys  map[string]struct{}
	}
	byValue := map[string]*acc{}
	for _, d := range docs {
		for _, v := range d.Values(t.Field) {
			a, ok := byValue[v]
			if !ok {
				a = &acc{keys: map[string]struct{}{}}
				byValue[v] = a
			}
			a.count++
			a.keys[d.AggregationKey] = struct{}{}
		}
	}
	buckets := make([]Bucket, 0, len(byValue))
	for v, a := range byValue {
		buckets = append(buckets, Bucket{Value: v, Count: a.count, DistinctCount: len(a.keys)})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return strings.Compare(buckets[i].Value, buckets[j].Value) < 0
	})
	if len(buckets) > t.Size {
		buckets = buckets[:t.Size]
	}
	return buckets
}
