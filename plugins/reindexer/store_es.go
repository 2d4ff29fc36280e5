package reindexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	es7 "github.com/olivere/elastic/v7"
	log "github.com/sirupsen/logrus"

	"github.com/appbaseio/upgrade-assistant/errors"
	"github.com/appbaseio/upgrade-assistant/model/reindex"
)

const (
	kindOperation  = "operation"
	kindIndexGroup = "indexGroup"
	groupIDPrefix  = "indexGroup:"
)

const operationsMapping = `{
	"settings": {
		"number_of_shards": 1,
		"auto_expand_replicas": "0-1"
	},
	"mappings": {
		"properties": {
			"kind": { "type": "keyword" },
			"id": { "type": "keyword" },
			"indexName": { "type": "keyword" },
			"newIndexName": { "type": "keyword" },
			"status": { "type": "keyword" },
			"lastCompletedStep": { "type": "keyword" },
			"reindexTaskId": { "type": "keyword" },
			"reindexTaskPercComplete": { "type": "float" },
			"errorMessage": { "type": "text" },
			"locked": { "type": "date" },
			"group": { "type": "keyword" },
			"runningReindexCount": { "type": "integer" }
		}
	}
}`

type operationDoc struct {
	Kind string `json:"kind"`
	reindex.Operation
}

type indexGroupDoc struct {
	Kind string `json:"kind"`
	reindex.IndexGroupCounter
}

// esStore keeps operations and index group counters as documents of a
// single elasticsearch index.
type esStore struct {
	client    *es7.Client
	indexName string
}

func newESStore(ctx context.Context, client *es7.Client, indexName string) (*esStore, error) {
	s := &esStore{client, indexName}

	exists, err := client.IndexExists(indexName).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: error while checking if index already exists: %v", logTag, err)
	}
	if exists {
		log.Println(logTag, ": index named", indexName, "already exists, skipping...")
		return s, nil
	}

	_, err = client.CreateIndex(indexName).Body(operationsMapping).Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "resource_already_exists_exception") {
		return nil, fmt.Errorf("%s: error while creating index named %s: %v", logTag, indexName, err)
	}
	log.Println(logTag, ": successfully created index named", indexName)
	return s, nil
}

func formatVersion(seqNo, primaryTerm int64) string {
	return fmt.Sprintf("%d:%d", seqNo, primaryTerm)
}

func parseVersion(version string) (seqNo, primaryTerm int64, err error) {
	parts := strings.SplitN(version, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid document version %q", version)
	}
	if seqNo, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid document version %q", version)
	}
	if primaryTerm, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid document version %q", version)
	}
	return seqNo, primaryTerm, nil
}

func hitVersion(seqNo, primaryTerm *int64) string {
	if seqNo == nil || primaryTerm == nil {
		return ""
	}
	return formatVersion(*seqNo, *primaryTerm)
}

func (s *esStore) create(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	created := op.Clone()
	if created.ID == "" {
		created.ID = uuid.New().String()
	}
	response, err := s.client.Index().
		Index(s.indexName).
		Id(created.ID).
		OpType("create").
		BodyJson(operationDoc{kindOperation, *created}).
		Refresh("wait_for").
		Do(ctx)
	if err != nil {
		if es7.IsConflict(err) {
			return nil, errors.NewConflictError("reindex operation %s already exists", created.ID)
		}
		return nil, err
	}
	created.Version = formatVersion(response.SeqNo, response.PrimaryTerm)
	return created, nil
}

func (s *esStore) get(ctx context.Context, id string) (*reindex.Operation, error) {
	response, err := s.client.Get().Index(s.indexName).Id(id).Do(ctx)
	if err != nil {
		if es7.IsNotFound(err) {
			return nil, errors.NewNotFoundError("reindex operation %s not found", id)
		}
		return nil, err
	}
	var doc operationDoc
	if err := json.Unmarshal(response.Source, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != kindOperation {
		return nil, errors.NewNotFoundError("reindex operation %s not found", id)
	}
	op := doc.Operation
	op.ID = response.Id
	op.Version = hitVersion(response.SeqNo, response.PrimaryTerm)
	return &op, nil
}

func (s *esStore) update(ctx context.Context, op *reindex.Operation) (*reindex.Operation, error) {
	seqNo, primaryTerm, err := parseVersion(op.Version)
	if err != nil {
		return nil, err
	}
	response, err := s.client.Index().
		Index(s.indexName).
		Id(op.ID).
		IfSeqNo(seqNo).
		IfPrimaryTerm(primaryTerm).
		BodyJson(operationDoc{kindOperation, *op}).
		Refresh("wait_for").
		Do(ctx)
	if err != nil {
		if es7.IsConflict(err) {
			return nil, errors.NewConflictError("reindex operation %s was modified concurrently", op.ID)
		}
		return nil, err
	}
	updated := op.Clone()
	updated.Version = formatVersion(response.SeqNo, response.PrimaryTerm)
	return updated, nil
}

func (s *esStore) delete(ctx context.Context, op *reindex.Operation) error {
	_, err := s.client.Delete().
		Index(s.indexName).
		Id(op.ID).
		Refresh("wait_for").
		Do(ctx)
	if err != nil && !es7.IsNotFound(err) {
		return err
	}
	return nil
}

func (s *esStore) search(ctx context.Context, query es7.Query) ([]*reindex.Operation, error) {
	response, err := s.client.Search(s.indexName).
		Query(query).
		Size(1000).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	ops := make([]*reindex.Operation, 0, len(response.Hits.Hits))
	for _, hit := range response.Hits.Hits {
		op, err := s.get(ctx, hit.Id)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (s *esStore) findByIndexName(ctx context.Context, indexName string) ([]*reindex.Operation, error) {
	query := es7.NewBoolQuery().Filter(
		es7.NewTermQuery("kind", kindOperation),
		es7.NewTermQuery("indexName", indexName),
	)
	return s.search(ctx, query)
}

func (s *esStore) findAllByStatus(ctx context.Context, status reindex.Status) ([]*reindex.Operation, error) {
	query := es7.NewBoolQuery().Filter(
		es7.NewTermQuery("kind", kindOperation),
		es7.NewTermQuery("status", status.String()),
	)
	return s.search(ctx, query)
}

// indexGroup fetches the counter of group, creating it when missing.
func (s *esStore) indexGroup(ctx context.Context, group reindex.IndexGroup) (*reindex.IndexGroupCounter, error) {
	id := groupIDPrefix + string(group)
	response, err := s.client.Get().Index(s.indexName).Id(id).Do(ctx)
	if err == nil {
		var doc indexGroupDoc
		if err := json.Unmarshal(response.Source, &doc); err != nil {
			return nil, err
		}
		counter := doc.IndexGroupCounter
		counter.Version = hitVersion(response.SeqNo, response.PrimaryTerm)
		return &counter, nil
	}
	if !es7.IsNotFound(err) {
		return nil, err
	}

	counter := &reindex.IndexGroupCounter{Group: group}
	created, err := s.client.Index().
		Index(s.indexName).
		Id(id).
		OpType("create").
		BodyJson(indexGroupDoc{kindIndexGroup, *counter}).
		Refresh("wait_for").
		Do(ctx)
	if err != nil {
		if es7.IsConflict(err) {
			// created by another process in the meantime
			return s.indexGroup(ctx, group)
		}
		return nil, err
	}
	counter.Version = formatVersion(created.SeqNo, created.PrimaryTerm)
	return counter, nil
}

func (s *esStore) updateIndexGroup(ctx context.Context, counter *reindex.IndexGroupCounter) (*reindex.IndexGroupCounter, error) {
	seqNo, primaryTerm, err := parseVersion(counter.Version)
	if err != nil {
		return nil, err
	}
	response, err := s.client.Index().
		Index(s.indexName).
		Id(groupIDPrefix + string(counter.Group)).
		IfSeqNo(seqNo).
		IfPrimaryTerm(primaryTerm).
		BodyJson(indexGroupDoc{kindIndexGroup, *counter}).
		Refresh("wait_for").
		Do(ctx)
	if err != nil {
		if es7.IsConflict(err) {
			return nil, errors.NewConflictError("index group %s was modified concurrently", counter.Group)
		}
		return nil, err
	}
	updated := counter.Clone()
	updated.Version = formatVersion(response.SeqNo, response.PrimaryTerm)
	return updated, nil
}
