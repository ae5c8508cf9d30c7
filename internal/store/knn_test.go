package store

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/filings-orchestrator/internal/errs"
)

func TestKNNRejectsEmptyProjectSet(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := New(db, 4)
	_, err = st.KNN(context.Background(), []float32{0.1, 0.2, 0.3, 0.4}, nil, 10)
	require.Error(t, err)
	require.Equal(t, errs.ValidationFailed, errs.KindOf(err))
}

func TestKNNRejectsDimensionMismatch(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := New(db, 1536)
	_, err = st.KNN(context.Background(), []float32{0.1, 0.2}, []uuid.UUID{uuid.New()}, 10)
	require.Error(t, err)
	require.Equal(t, errs.ValidationFailed, errs.KindOf(err))
}

func TestVectorLiteralRoundTrip(t *testing.T) {
	in := []float32{0.5, -0.25, 1.0}
	lit, err := encodeVectorLiteral(in)
	require.NoError(t, err)
	require.Equal(t, "[0.5,-0.25,1]", lit)

	out, err := decodeVectorLiteral(lit)
	require.NoError(t, err)
	require.Equal(t, in, out)
}
