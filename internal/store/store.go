// Package store provides typed, transactional Postgres persistence for
// every entity in the domain package, plus the three specialised
// operations the rest of the service builds on: CreateProjectIfAbsent,
// KNN, and AcquireJobSlot.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ledgerline/filings-orchestrator/internal/errs"
)

// DefaultEmbeddingDimensions is the fallback vector width when a caller
// does not override it via config; kept here so tests that build a Store
// without the full config plumbing still have a sane value to assert against.
const DefaultEmbeddingDimensions = 1536

// Store wraps a *sql.DB with the domain's query surface.
type Store struct {
	DB     *sql.DB
	logger *log.Logger
	dim    int
}

// New wraps db. dim is the fixed embedding vector width (invariant 6, §3).
func New(db *sql.DB, dim int) *Store {
	if dim <= 0 {
		dim = DefaultEmbeddingDimensions
	}
	return &Store{
		DB:     db,
		logger: log.New(os.Stderr, "[STORE] ", log.LstdFlags),
		dim:    dim,
	}
}

// EnsureVectorIndex asserts the embeddings table carries an approximate
// nearest-neighbour index. A missing ANN index is a fatal startup error
// per spec: without it KNN silently degrades to a full sequential scan
// with no correctness change but an unacceptable performance cliff on
// any real corpus, so we'd rather fail loudly at boot.
func (s *Store) EnsureVectorIndex(ctx context.Context) error {
	const q = `
SELECT 1
FROM pg_class c
JOIN pg_am am ON am.oid = c.relam
WHERE c.relname = 'embeddings_embedding_ann_idx'
  AND am.amname IN ('ivfflat', 'hnsw')
`
	var exists int
	err := s.DB.QueryRowContext(ctx, q).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Internalf("embeddings table is missing its ANN index (ivfflat/hnsw); run migrations")
	}
	if err != nil {
		return errs.Wrap(errs.Unavailable, "check ANN index", err)
	}
	return nil
}

// translate maps raw driver/sql errors into the typed error kinds the rest
// of the service expects, so no package above store ever has to look at
// sql.ErrNoRows or *pq.Error directly.
func translate(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFoundf("%s", notFoundMsg)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return errs.Conflictf("%s", pqErr.Constraint)
		case "foreign_key_violation", "check_violation", "not_null_violation":
			return errs.Validationf("%s", pqErr.Message)
		}
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return errs.Wrap(errs.Unavailable, "database connection", err)
	}
	return errs.Wrap(errs.Internal, "store operation failed", err)
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", errs.Validationf("vector must not be empty")
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

func decodeVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	if lit == "" {
		return nil, nil
	}
	parts := strings.Split(lit, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector literal value %q: %w", v, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
