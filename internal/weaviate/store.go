//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package weaviate provides a vector store backed by a Weaviate class.
package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/pgEdge/pgedge-chat-server/internal/config"
	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
)

// Store searches one Weaviate class with nearVector. It implements
// retrieval.VectorStore.
type Store struct {
	client         *weaviate.Client
	class          string
	textField      string
	metadataFields []string
	where          *filters.WhereBuilder
}

// NewStore creates a store for the class named by cfg.Collection.
func NewStore(cfg config.VectorStoreConfig) (*Store, error) {
	wcfg := weaviate.Config{
		Host:   cfg.Weaviate.Host,
		Scheme: cfg.Weaviate.Scheme,
	}
	if cfg.Weaviate.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.Weaviate.APIKey}
	}

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	var where *filters.WhereBuilder
	if cfg.Filter != nil {
		if cfg.Filter.RawSQL != "" {
			return nil, fmt.Errorf("raw SQL filters are not supported by weaviate")
		}
		where, err = buildWhere(cfg.Filter.Structured)
		if err != nil {
			return nil, err
		}
	}

	return &Store{
		client:         client,
		class:          cfg.Collection,
		textField:      cfg.TextField,
		metadataFields: cfg.MetadataFields,
		where:          where,
	}, nil
}

// Search returns the k objects nearest to vector. Weaviate reports cosine
// distance; the score is 1 - distance.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]retrieval.Document, error) {
	fields := []graphql.Field{{Name: s.textField}}
	for _, f := range s.metadataFields {
		fields = append(fields, graphql.Field{Name: f})
	}
	fields = append(fields, graphql.Field{
		Name:   "_additional",
		Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}},
	})

	query := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithLimit(k).
		WithFields(fields...)
	if s.where != nil {
		query = query.WithWhere(s.where)
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Message)
		}
		msg := strings.Join(msgs, "; ")
		if strings.Contains(msg, `Cannot query field "`+s.class+`"`) {
			return nil, fmt.Errorf("%w: %s", retrieval.ErrCollectionNotFound, s.class)
		}
		return nil, fmt.Errorf("vector search failed: %s", msg)
	}

	data, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal weaviate response: %w", err)
	}
	return s.parseObjects(data)
}

// getResponse is the shape of a GraphQL Get result.
type getResponse struct {
	Get map[string][]map[string]any `json:"Get"`
}

type additional struct {
	ID       string   `json:"id"`
	Distance *float64 `json:"distance"`
}

func (s *Store) parseObjects(data []byte) ([]retrieval.Document, error) {
	var resp getResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode weaviate response: %w", err)
	}

	objects, ok := resp.Get[s.class]
	if !ok {
		return nil, fmt.Errorf("%w: %s", retrieval.ErrCollectionNotFound, s.class)
	}

	docs := make([]retrieval.Document, 0, len(objects))
	for _, obj := range objects {
		doc := retrieval.Document{}
		if text, ok := stringValue(obj[s.textField]); ok {
			doc.Content = text
		}

		if raw, ok := obj["_additional"]; ok {
			var add additional
			b, _ := json.Marshal(raw)
			if err := json.Unmarshal(b, &add); err == nil {
				doc.ID = add.ID
				if add.Distance != nil {
					doc.Score = 1 - *add.Distance
				}
			}
		}

		for _, f := range s.metadataFields {
			v, ok := stringValue(obj[f])
			if !ok {
				continue
			}
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]string, len(s.metadataFields))
			}
			doc.Metadata[f] = v
		}

		docs = append(docs, doc)
	}

	return docs, nil
}

// stringValue renders a property value as text. Missing and null values
// report false.
func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

var _ retrieval.VectorStore = (*Store)(nil)
