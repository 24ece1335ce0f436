// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"product-atlas/internal/config"
	"product-atlas/internal/model"
	"product-atlas/pkg/log"
)

// ErrIndexNotFound is returned by searches against an index that has not been created yet.
var ErrIndexNotFound = errors.New("elasticsearch index not found")

// NewClient 创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	addresses := make([]string, 0)
	for _, addr := range strings.Split(esCfg.Addresses, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			addresses = append(addresses, addr)
		}
	}
	cfg := elasticsearch.Config{
		Addresses: addresses,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// EnsureIndex 检查索引是否存在，如果不存在则以给定向量维度创建它
func EnsureIndex(ctx context.Context, client *elasticsearch.Client, indexName string, dims int) error {
	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"source": { "type": "keyword" },
				"filename": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithBody(strings.NewReader(mapping)),
		client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	// 并发创建时另一方可能已抢先建好索引
	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// BulkIndex 以一次 bulk 请求写入全部文本块，并在返回前刷新索引。
func BulkIndex(ctx context.Context, client *elasticsearch.Client, indexName string, docs []model.EsChunk) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]any{"index": map[string]any{"_index": indexName, "_id": doc.ChunkID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("批量索引到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to bulk index documents")
	}

	var body struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  any `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if body.Errors {
		for _, item := range body.Items {
			for _, r := range item {
				if r.Error != nil {
					return fmt.Errorf("bulk item failed with status %d: %v", r.Status, r.Error)
				}
			}
		}
		return errors.New("bulk request reported errors")
	}
	return nil
}

// KNNSearch 执行 kNN 向量检索，结果按相似度降序排列。
func KNNSearch(ctx context.Context, client *elasticsearch.Client, indexName string, vector []float32, k int) ([]model.EsHit, error) {
	numCandidates := k * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	query := map[string]any{
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
		},
		"size":    k,
		"_source": map[string]any{"excludes": []string{"vector"}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	res, err := client.Search(
		client.Search.WithContext(ctx),
		client.Search.WithIndex(indexName),
		client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrIndexNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.String())
	}

	var body struct {
		Hits struct {
			Hits []struct {
				Score  float64       `json:"_score"`
				Source model.EsChunk `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	hits := make([]model.EsHit, 0, len(body.Hits.Hits))
	for _, h := range body.Hits.Hits {
		hits = append(hits, model.EsHit{Chunk: h.Source, Score: h.Score})
	}
	return hits, nil
}

// DeleteBySource 删除某个源文件的全部文本块。索引不存在时视为成功。
func DeleteBySource(ctx context.Context, client *elasticsearch.Client, indexName, source string) error {
	query, err := json.Marshal(map[string]any{
		"query": map[string]any{"term": map[string]any{"source": source}},
	})
	if err != nil {
		return err
	}
	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   []string{indexName},
		Body:    bytes.NewReader(query),
		Refresh: &refresh,
	}
	res, err := req.Do(ctx, client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("elasticsearch delete_by_query error: %s", res.String())
	}
	return nil
}

// sourcesPageSize 是 composite 聚合每页返回的桶数。
const sourcesPageSize = 500

// Sources 通过 composite 聚合分页列出索引中所有不同的 source。索引不存在时返回空。
func Sources(ctx context.Context, client *elasticsearch.Client, indexName string) ([]string, error) {
	var (
		sources []string
		after   map[string]any
	)
	for {
		composite := map[string]any{
			"size": sourcesPageSize,
			"sources": []any{
				map[string]any{"source": map[string]any{"terms": map[string]any{"field": "source"}}},
			},
		}
		if after != nil {
			composite["after"] = after
		}
		query := map[string]any{
			"size": 0,
			"aggs": map[string]any{"sources": map[string]any{"composite": composite}},
		}
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(query); err != nil {
			return nil, err
		}

		res, err := client.Search(
			client.Search.WithContext(ctx),
			client.Search.WithIndex(indexName),
			client.Search.WithBody(&buf),
		)
		if err != nil {
			return nil, err
		}
		if res.StatusCode == http.StatusNotFound {
			res.Body.Close()
			return nil, nil
		}
		if res.IsError() {
			defer res.Body.Close()
			return nil, fmt.Errorf("elasticsearch aggregation error: %s", res.String())
		}

		var body struct {
			Aggregations struct {
				Sources struct {
					AfterKey map[string]any `json:"after_key"`
					Buckets  []struct {
						Key struct {
							Source string `json:"source"`
						} `json:"key"`
					} `json:"buckets"`
				} `json:"sources"`
			} `json:"aggregations"`
		}
		err = json.NewDecoder(res.Body).Decode(&body)
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode aggregation response: %w", err)
		}

		agg := body.Aggregations.Sources
		for _, b := range agg.Buckets {
			sources = append(sources, b.Key.Source)
		}
		if len(agg.Buckets) == 0 || agg.AfterKey == nil {
			return sources, nil
		}
		after = agg.AfterKey
	}
}
