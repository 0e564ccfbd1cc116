package client

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/RezaEskandarii/firequeue/internal/message_broker"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/RezaEskandarii/firequeue/types/config"
)

// StartQueueAndStorageSyncWorker drains jobs published by CreateJob in queue
// writer mode. Jobs are inserted in batches bounded by WriterBatchSize and
// WriterFlushInterval; messages are acknowledged only after their batch is
// stored and requeued when the insert fails. Every stored batch starts the
// processing loop. The worker stops when ctx is done or the broker closes.
func (q *Queue) StartQueueAndStorageSyncWorker(ctx context.Context) error {
	if !q.useQueueWriter() {
		return nil
	}

	deliveries, err := q.mBroker.Consume(ctx)
	if err != nil {
		q.logger.Error("failed to start consuming messages", "error", err)
		return err
	}

	batchSize := q.cfg.WriterBatchSize
	if batchSize <= 0 {
		batchSize = config.DefaultWriterBatchSize
	}
	interval := q.cfg.WriterFlushInterval
	if interval <= 0 {
		interval = config.DefaultWriterFlushInterval
	}

	q.logger.Info("queue writer sync worker started", "batch_size", batchSize, "flush_interval", interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var (
			jobsBatch []types.Job
			pending   []message_broker.Delivery
		)

		flushBatch := func() {
			if len(pending) == 0 {
				return
			}
			// the insert must complete even when shutdown cancelled ctx
			err := q.store.BulkInsert(context.WithoutCancel(ctx), jobsBatch)
			for _, d := range pending {
				var ackErr error
				if err != nil {
					ackErr = d.Nack(true)
				} else {
					ackErr = d.Ack()
				}
				if ackErr != nil {
					q.logger.Error("failed to settle message", "error", ackErr)
				}
			}
			if err != nil {
				q.logger.Error("failed to insert batch jobs", "count", len(jobsBatch), "error", err)
			} else if len(jobsBatch) > 0 {
				q.logger.Info("inserted jobs in batch", "count", len(jobsBatch))
				q.startInBackground()
			}
			jobsBatch = nil
			pending = nil
		}

		for {
			select {
			case <-ctx.Done():
				q.logger.Info("queue writer sync worker stopped")
				flushBatch()
				return

			case d, ok := <-deliveries:
				if !ok {
					q.logger.Info("message channel closed")
					flushBatch()
					return
				}

				job, err := decodePublishedJob(d.Body)
				if err != nil {
					q.logger.Error("dropping malformed job message", "error", err)
					if err := d.Nack(false); err != nil {
						q.logger.Error("failed to reject message", "error", err)
					}
					continue
				}

				jobsBatch = append(jobsBatch, job)
				pending = append(pending, d)
				if len(jobsBatch) >= batchSize {
					flushBatch()
				}

			case <-ticker.C:
				flushBatch()
			}
		}
	}()

	return nil
}

func decodePublishedJob(body []byte) (types.Job, error) {
	var job types.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return types.Job{}, err
	}
	if job.ID == "" || job.Name == "" {
		return types.Job{}, errors.New("job message is missing id or name")
	}
	return job, nil
}
