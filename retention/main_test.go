package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/civic-radar/internal/config"
)

type stubIndex struct {
	maxAge time.Duration
	err    error
}

func (s *stubIndex) DeleteOlderThan(_ context.Context, maxAge time.Duration, _ int) (int64, error) {
	s.maxAge = maxAge
	return 2, s.err
}

type stubStore struct {
	cutoff time.Time
	batch  int
}

func (s *stubStore) DeleteContentBefore(_ context.Context, cutoff time.Time, batchSize int) (int64, error) {
	s.cutoff, s.batch = cutoff, batchSize
	return 3, nil
}

func TestRunOnceExpiresBothSides(t *testing.T) {
	cfg := &config.Retention{MaxAge: 48 * time.Hour, BatchSize: 100}
	idx := &stubIndex{err: errors.New("es unavailable")}
	db := &stubStore{}

	before := time.Now()
	runOnce(context.Background(), zerolog.Nop(), idx, db, cfg)

	require.Equal(t, 48*time.Hour, idx.maxAge)
	require.Equal(t, 100, db.batch)
	require.WithinDuration(t, before.Add(-48*time.Hour), db.cutoff, time.Minute)
}
