package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/suteetoe/coursecatalog/pkg/config"
	"github.com/suteetoe/coursecatalog/prometheus"
	"go.uber.org/zap"
)

// ElasticBackend stores documents in an Elasticsearch index. Facet fields
// are top-level keyword fields of the stored source.
type ElasticBackend struct {
	client *elasticsearch.Client
	index  string
	log    *zap.Logger
}

// NewElasticBackend connects to the configured cluster
func NewElasticBackend(cfg config.SearchConfig, log *zap.Logger) (*ElasticBackend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &ElasticBackend{client: client, index: cfg.IndexName, log: log}, nil
}

func (e *ElasticBackend) Name() string { return BackendElasticsearch }

// indexMapping maps every facet field as keyword and text as analyzed text
func indexMapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"dynamic_templates": []any{
				map[string]any{"facets_as_keywords": map[string]any{
					"match_mapping_type": "string",
					"mapping":            map[string]any{"type": "keyword"},
				}},
			},
			"properties": map[string]any{
				FieldText:           map[string]any{"type": "text"},
				FieldContentType:    map[string]any{"type": "keyword"},
				FieldAggregationKey: map[string]any{"type": "keyword"},
				"pk":                map[string]any{"type": "long"},
			},
		},
	}
}

// EnsureIndex creates the index with its mapping when it does not exist
func (e *ElasticBackend) EnsureIndex(ctx context.Context) error {
	res, err := e.client.Indices.Exists([]string{e.index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	body, _ := json.Marshal(indexMapping())
	res, err = e.client.Indices.Create(e.index,
		e.client.Indices.Create.WithContext(ctx),
		e.client.Indices.Create.WithBody(bytes.NewReader(body)))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("create index", res)
	}
	e.log.Info("Created search index", zap.String("index", e.index))
	return nil
}

// Index bulk-writes documents, replacing existing ones by id
func (e *ElasticBackend) Index(ctx context.Context, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range docs {
		if err := enc.Encode(map[string]any{"index": map[string]any{"_index": e.index, "_id": docs[i].ID}}); err != nil {
			return err
		}
		if err := enc.Encode(esSource(&docs[i])); err != nil {
			return err
		}
	}
	return e.bulk(ctx, &buf)
}

// Delete bulk-removes documents by id
func (e *ElasticBackend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, id := range ids {
		if err := enc.Encode(map[string]any{"delete": map[string]any{"_index": e.index, "_id": id}}); err != nil {
			return err
		}
	}
	return e.bulk(ctx, &buf)
}

func (e *ElasticBackend) bulk(ctx context.Context, body io.Reader) error {
	res, err := e.client.Bulk(body,
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithIndex(e.index),
		e.client.Bulk.WithRefresh("wait_for"))
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("bulk", res)
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	return bulkItemError(raw)
}

// bulkItemError reports the first failed item of a bulk response. Deleting
// a missing document is not a failure.
func bulkItemError(raw []byte) error {
	var out struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string          `json:"_id"`
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !out.Errors {
		return nil
	}
	for _, item := range out.Items {
		for action, r := range item {
			if r.Status >= 300 && !(action == "delete" && r.Status == 404) {
				return fmt.Errorf("bulk %s of %s failed with status %d: %s", action, r.ID, r.Status, r.Error)
			}
		}
	}
	return nil
}

// Clear deletes every document of the index
func (e *ElasticBackend) Clear(ctx context.Context) error {
	body, _ := json.Marshal(map[string]any{"query": map[string]any{"match_all": map[string]any{}}})
	res, err := e.client.DeleteByQuery([]string{e.index}, bytes.NewReader(body),
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithRefresh(true))
	if err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return responseError("clear index", res)
	}
	return nil
}

// Search runs q with the plan's aggregations
func (e *ElasticBackend) Search(ctx context.Context, q Query, plan *AggregationPlan, offset, limit int) (*Result, error) {
	defer prometheus.TrackSearch(BackendElasticsearch)(time.Now())

	body, err := json.Marshal(buildSearchBody(q, plan, offset, limit))
	if err != nil {
		return nil, err
	}
	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(bytes.NewReader(body)),
		e.client.Search.WithTrackTotalHits(true))
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("search", res)
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return parseSearchResponse(raw, plan)
}

// scanPageSize is the page size of ScanPKs
const scanPageSize = 1000

// ScanPKs pages through every match of q with search_after on the
// (content_type, pk) sort
func (e *ElasticBackend) ScanPKs(ctx context.Context, q Query) ([]uint, error) {
	defer prometheus.TrackSearch(BackendElasticsearch)(time.Now())

	var (
		pks   []uint
		after []json.RawMessage
	)
	for {
		body, err := json.Marshal(buildScanBody(q, after))
		if err != nil {
			return nil, err
		}
		res, err := e.client.Search(
			e.client.Search.WithContext(ctx),
			e.client.Search.WithIndex(e.index),
			e.client.Search.WithBody(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("scan request failed: %w", err)
		}
		raw, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, err
		}
		if res.IsError() {
			return nil, fmt.Errorf("elasticsearch scan failed with status %d: %s", res.StatusCode, bytes.TrimSpace(raw))
		}
		page, last, err := parseScanPage(raw)
		if err != nil {
			return nil, err
		}
		pks = append(pks, page...)
		if len(page) < scanPageSize {
			return pks, nil
		}
		after = last
	}
}

// buildScanBody renders one ScanPKs page: the search filters without
// aggregations, only the pk in the source and a total sort for search_after
func buildScanBody(q Query, after []json.RawMessage) map[string]any {
	body := buildSearchBody(q, &AggregationPlan{}, 0, scanPageSize)
	delete(body, "from")
	delete(body, "aggs")
	body["_source"] = []string{"pk"}
	body["track_total_hits"] = false
	body["sort"] = []any{map[string]any{FieldContentType: "asc"}, map[string]any{"pk": "asc"}}
	if len(after) > 0 {
		body["search_after"] = after
	}
	return body
}

// parseScanPage returns the pks of a scan page and the sort values of its
// last hit
func parseScanPage(raw []byte) ([]uint, []json.RawMessage, error) {
	var resp struct {
		Hits struct {
			Hits []struct {
				Source struct {
					PK uint `json:"pk"`
				} `json:"_source"`
				Sort []json.RawMessage `json:"sort"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode scan response: %w", err)
	}
	hits := resp.Hits.Hits
	pks := make([]uint, len(hits))
	for i, h := range hits {
		pks[i] = h.Source.PK
	}
	if len(hits) == 0 {
		return pks, nil, nil
	}
	return pks, hits[len(hits)-1].Sort, nil
}

func responseError(op string, res *esapi.Response) error {
	raw, _ := io.ReadAll(res.Body)
	return fmt.Errorf("elasticsearch %s failed with status %d: %s", op, res.StatusCode, bytes.TrimSpace(raw))
}

func esSource(d *Doc) map[string]any {
	src := map[string]any{
		"id":                d.ID,
		FieldContentType:    d.ContentType,
		"pk":                d.PK,
		FieldAggregationKey: d.AggregationKey,
		FieldText:           d.Text,
	}
	for field, values := range d.Facets {
		src[field] = values
	}
	return src
}

func docFromSource(src map[string]json.RawMessage) (Doc, error) {
	var d Doc
	for k, raw := range src {
		var err error
		switch k {
		case "id":
			err = json.Unmarshal(raw, &d.ID)
		case FieldContentType:
			err = json.Unmarshal(raw, &d.ContentType)
		case "pk":
			err = json.Unmarshal(raw, &d.PK)
		case FieldAggregationKey:
			err = json.Unmarshal(raw, &d.AggregationKey)
		case FieldText:
			err = json.Unmarshal(raw, &d.Text)
		default:
			var values []string
			if err = json.Unmarshal(raw, &values); err == nil {
				d.set(k, values...)
			}
		}
		if err != nil {
			return Doc{}, fmt.Errorf("failed to decode field %s: %w", k, err)
		}
	}
	return d, nil
}

// buildSearchBody renders q as a bool query: the text as a query_string must
// clause, field filters as term filters and selected query facets as
// query_string filters
func buildSearchBody(q Query, plan *AggregationPlan, offset, limit int) map[string]any {
	var must []any
	if q.Text != "" {
		must = append(must, queryStringQuery(q.Text))
	} else {
		must = append(must, map[string]any{"match_all": map[string]any{}})
	}
	var filter []any
	if len(q.ContentTypes) > 0 {
		filter = append(filter, map[string]any{"terms": map[string]any{FieldContentType: q.ContentTypes}})
	}
	for _, f := range q.Filters {
		filter = append(filter, map[string]any{"term": map[string]any{f.Field: f.Value}})
	}
	for _, qs := range q.QueryFilters {
		filter = append(filter, queryStringQuery(qs))
	}

	body := map[string]any{
		"from":  offset,
		"size":  limit,
		"query": map[string]any{"bool": map[string]any{"must": must, "filter": filter}},
		"aggs":  plan.Aggregations(),
		"sort":  []any{map[string]any{"_score": "desc"}, map[string]any{FieldContentType: "asc"}, map[string]any{"pk": "asc"}},
	}
	return body
}

type cardinalityValue struct {
	Value int `json:"value"`
}

// parseSearchResponse reads hits and the plan's aggregations from a search
// response body
func parseSearchResponse(raw []byte, plan *AggregationPlan) (*Result, error) {
	var resp struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source map[string]json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
		Aggregations map[string]json.RawMessage `json:"aggregations"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	res := &Result{
		Total:   resp.Hits.Total.Value,
		Fields:  make(map[string][]Bucket, len(plan.Terms)),
		Queries: make(map[string]Bucket, len(plan.Queries)),
	}
	for _, h := range resp.Hits.Hits {
		d, err := docFromSource(h.Source)
		if err != nil {
			return nil, err
		}
		res.Hits = append(res.Hits, d)
	}

	if raw, ok := resp.Aggregations[distinctHitsAgg]; ok {
		var v cardinalityValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", distinctHitsAgg, err)
		}
		res.DistinctHits = v.Value
	}

	for _, t := range plan.Terms {
		var agg struct {
			Buckets []struct {
				Key           any              `json:"key"`
				KeyAsString   string           `json:"key_as_string"`
				DocCount      int              `json:"doc_count"`
				DistinctCount cardinalityValue `json:"distinct_count"`
			} `json:"buckets"`
		}
		if raw, ok := resp.Aggregations[fieldAggPrefix+t.Name]; ok {
			if err := json.Unmarshal(raw, &agg); err != nil {
				return nil, fmt.Errorf("failed to decode facet %s: %w", t.Name, err)
			}
		}
		buckets := make([]Bucket, 0, len(agg.Buckets))
		for _, b := range agg.Buckets {
			value := b.KeyAsString
			if value == "" {
				value = fmt.Sprint(b.Key)
			}
			buckets = append(buckets, Bucket{Value: value, Count: b.DocCount, DistinctCount: b.DistinctCount.Value})
		}
		res.Fields[t.Name] = buckets
	}

	for _, qf := range plan.Queries {
		var agg struct {
			DocCount      int              `json:"doc_count"`
			DistinctCount cardinalityValue `json:"distinct_count"`
		}
		if raw, ok := resp.Aggregations[queryAggPrefix+qf.Name]; ok {
			if err := json.Unmarshal(raw, &agg); err != nil {
				return nil, fmt.Errorf("failed to decode query facet %s: %w", qf.Name, err)
			}
		}
		res.Queries[qf.Name] = Bucket{Value: qf.Name, Count: agg.DocCount, DistinctCount: agg.DistinctCount.Value}
	}
	return res, nil
}
