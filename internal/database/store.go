//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgEdge/pgedge-chat-server/internal/config"
	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
)

// PostgreSQL error code for an undefined table.
const codeUndefinedTable = "42P01"

// querier is the subset of pgxpool.Pool used for searching.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ querier = (*pgxpool.Pool)(nil)

// Store searches one pgvector table. It implements retrieval.VectorStore.
type Store struct {
	db             querier
	collection     string
	query          string
	filterArgs     []any
	metadataFields []string
}

// NewStore prepares a search over the table named by cfg.Collection. The
// SQL is built once; only the vector and limit vary per call.
func NewStore(pool *Pool, cfg config.VectorStoreConfig) (*Store, error) {
	return newStore(pool.pool, cfg)
}

func newStore(db querier, cfg config.VectorStoreConfig) (*Store, error) {
	// $1 is the query vector and $2 the limit.
	where, args, err := buildFilterClause(cfg.Filter, 3)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:             db,
		collection:     cfg.Collection,
		query:          buildSearchQuery(cfg, where),
		filterArgs:     args,
		metadataFields: cfg.MetadataFields,
	}, nil
}

// parseTableIdentifier splits "schema.table" into a quoted identifier.
func parseTableIdentifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.Split(table, "."))
}

func buildSearchQuery(cfg config.VectorStoreConfig, where string) string {
	vector := pgx.Identifier{cfg.VectorField}.Sanitize()

	id := "ctid::text"
	if cfg.IDField != "" {
		id = pgx.Identifier{cfg.IDField}.Sanitize() + "::text"
	}

	columns := []string{
		id,
		pgx.Identifier{cfg.TextField}.Sanitize() + "::text",
		fmt.Sprintf("1 - (%s <=> $1::vector)", vector),
	}
	for _, f := range cfg.MetadataFields {
		columns = append(columns, pgx.Identifier{f}.Sanitize()+"::text")
	}

	// Rows without an embedding have no distance and are never matches.
	if where == "" {
		where = " WHERE " + vector + " IS NOT NULL"
	} else {
		where += " AND " + vector + " IS NOT NULL"
	}

	return fmt.Sprintf(
		"SELECT %s FROM %s%s ORDER BY %s <=> $1::vector LIMIT $2",
		strings.Join(columns, ", "),
		parseTableIdentifier(cfg.Collection).Sanitize(),
		where,
		vector,
	)
}

// formatVector converts a float32 slice to pgvector text format [x,y,z].
func formatVector(embedding []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// Search returns the k rows closest to vector by cosine distance. NULL
// metadata columns are left out of Document.Metadata.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]retrieval.Document, error) {
	args := append([]any{formatVector(vector), k}, s.filterArgs...)

	rows, err := s.db.Query(ctx, s.query, args...)
	if err != nil {
		return nil, s.translateError(err)
	}
	defer rows.Close()

	var docs []retrieval.Document
	for rows.Next() {
		var (
			id, content *string
			score       float64
		)
		meta := make([]*string, len(s.metadataFields))
		dest := []any{&id, &content, &score}
		for i := range meta {
			dest = append(dest, &meta[i])
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		doc := retrieval.Document{Score: score}
		if id != nil {
			doc.ID = *id
		}
		if content != nil {
			doc.Content = *content
		}
		for i, v := range meta {
			if v == nil {
				continue
			}
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]string, len(meta))
			}
			doc.Metadata[s.metadataFields[i]] = *v
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, s.translateError(err)
	}

	return docs, nil
}

func (s *Store) translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUndefinedTable {
		return fmt.Errorf("%w: %s", retrieval.ErrCollectionNotFound, s.collection)
	}
	return fmt.Errorf("vector search failed: %w", err)
}

var _ retrieval.VectorStore = (*Store)(nil)
