// Package queueworker implements the Ingest Queue Worker (C10): a loop that
// block-pops payloads off the ingest queue and hands each to the Document
// Processor, logging and continuing past any single payload's failure.
package queueworker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"pkb/internal/ingest"
)

const (
	dequeueTimeout = 5 * time.Second
	emptyPollSleep = 1 * time.Second
)

// Queue is the subset of *kv.Store the worker needs, scoped out so tests can
// fake the BRPOP-style dequeue without a live Redis.
type Queue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (payload []byte, ok bool, err error)
}

// Worker drains the ingest queue and runs each payload through Processor. A
// single instance is sufficient for correctness; running several in
// parallel is safe because the processor's writes are idempotent (§4.10).
type Worker struct {
	Queue     Queue
	Processor *ingest.Processor
}

// Run blocks until ctx is cancelled, processing one payload per iteration.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, ok, err := w.Queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("dequeue failed")
			sleep(ctx, emptyPollSleep)
			continue
		}
		if !ok {
			sleep(ctx, emptyPollSleep)
			continue
		}

		w.processOne(ctx, raw)
	}
}

func (w *Worker) processOne(ctx context.Context, raw []byte) {
	var payload ingest.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error().Err(err).Msg("malformed ingest payload")
		return
	}

	if err := w.Processor.Process(ctx, payload); err != nil {
		log.Error().Err(err).Str("doc_id", payload.Document.DocID).Msg("failed to process ingestion job")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
