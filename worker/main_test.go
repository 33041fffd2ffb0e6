package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/civic-radar/internal/failure"
	"github.com/DeafMist/civic-radar/internal/ingest"
)

type stubProcessor struct {
	errs  []error
	calls int
}

func (s *stubProcessor) Process(context.Context, []byte) (ingest.Outcome, error) {
	s.calls++
	if len(s.errs) == 0 {
		return ingest.Outcome{Status: ingest.StatusAccepted, ID: "x"}, nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	if err != nil {
		return ingest.Outcome{}, err
	}
	return ingest.Outcome{Status: ingest.StatusAccepted, ID: "x"}, nil
}

type stubWriter struct {
	fail int
	msgs []kafka.Message
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if s.fail > 0 {
		s.fail--
		return errors.New("broker unavailable")
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func TestProcessMessageSucceeds(t *testing.T) {
	svc := &stubProcessor{}
	require.NoError(t, processMessage(context.Background(), zerolog.Nop(), svc, kafka.Message{Value: []byte(`{}`)}))
	require.Equal(t, 1, svc.calls)
}

func TestProcessMessagePermanentErrorIsNotRetried(t *testing.T) {
	svc := &stubProcessor{errs: []error{fmt.Errorf("bad payload: %w", failure.ErrData)}}
	err := processMessage(context.Background(), zerolog.Nop(), svc, kafka.Message{Value: []byte(`nope`)})
	require.ErrorIs(t, err, failure.ErrData)
	require.Equal(t, 1, svc.calls)
}

func TestProcessMessageRetriesTransientError(t *testing.T) {
	svc := &stubProcessor{errs: []error{fmt.Errorf("insert: %w", failure.ErrTransientIO), nil}}
	require.NoError(t, processMessage(context.Background(), zerolog.Nop(), svc, kafka.Message{}))
	require.Equal(t, 2, svc.calls)
}

func TestProcessMessageStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := &stubProcessor{errs: []error{failure.ErrTransientIO, failure.ErrTransientIO, failure.ErrTransientIO}}
	err := processMessage(ctx, zerolog.Nop(), svc, kafka.Message{})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, svc.calls)
}

func TestDLQMessageCarriesContext(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	msg := kafka.Message{
		Partition: 2,
		Offset:    41,
		Key:       []byte("k"),
		Value:     []byte(`{"text":""}`),
		Headers:   []kafka.Header{{Key: "origin", Value: []byte("scraper")}},
	}
	out := dlqMessage(msg, fmt.Errorf("schema: %w", failure.ErrData), now)

	require.Equal(t, msg.Value, out.Value)
	require.Equal(t, msg.Key, out.Key)
	headers := map[string]string{}
	for _, h := range out.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, "scraper", headers["origin"])
	require.Equal(t, "2", headers["original_partition"])
	require.Equal(t, "41", headers["original_offset"])
	require.Equal(t, "permanent", headers["error_kind"])
	require.Equal(t, "2024-06-01T10:00:00Z", headers["timestamp"])
	require.Len(t, msg.Headers, 1)
}

func TestSendToDLQ(t *testing.T) {
	w := &stubWriter{}
	require.True(t, sendToDLQ(context.Background(), zerolog.Nop(), w, kafka.Message{Value: []byte("x")}, errors.New("boom")))
	require.Len(t, w.msgs, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	failing := &stubWriter{fail: maxDLQAttempts}
	require.False(t, sendToDLQ(ctx, zerolog.Nop(), failing, kafka.Message{}, errors.New("boom")))
	require.Empty(t, failing.msgs)
}
