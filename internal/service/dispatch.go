package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/realtyhub/internal/port/messagequeue"
	"github.com/Strob0t/realtyhub/internal/tenancy"
)

// Job is one unit of provisioning work. A repair job re-clones missing
// tables into a ready tenant; any other job is a provisioning run.
type Job struct {
	Slug   string
	Repair bool
}

// RunFunc performs one job.
type RunFunc func(ctx context.Context, job Job) error

// LocalDispatcher runs provisioning in-process on background goroutines,
// at most maxConcurrent at a time.
type LocalDispatcher struct {
	run     RunFunc
	sem     *semaphore.Weighted
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewLocalDispatcher creates an in-process dispatcher.
func NewLocalDispatcher(run RunFunc, maxConcurrent int64, timeout time.Duration) *LocalDispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &LocalDispatcher{run: run, sem: semaphore.NewWeighted(maxConcurrent), timeout: timeout}
}

// Dispatch starts the run in the background. The run keeps the tenant
// binding and request id of ctx but not its cancellation. The timeout
// counts from dispatch, queueing included, so no run outlives it.
func (d *LocalDispatcher) Dispatch(ctx context.Context, job Job) error {
	rctx, cancel := context.WithTimeout(tenancy.Detach(ctx), d.timeout)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		if err := d.sem.Acquire(rctx, 1); err != nil {
			slog.WarnContext(rctx, "provisioning job expired in queue", "slug", job.Slug, "repair", job.Repair)
			return
		}
		defer d.sem.Release(1)

		if err := d.run(rctx, job); err != nil {
			slog.ErrorContext(rctx, "provisioning job failed", "slug", job.Slug, "repair", job.Repair, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has returned.
func (d *LocalDispatcher) Wait() { d.wg.Wait() }

// QueueDispatcher publishes provisioning work to the tenants.provision
// work queue; exactly one replica's worker picks it up.
type QueueDispatcher struct {
	queue messagequeue.Queue
}

// NewQueueDispatcher creates a dispatcher over queue.
func NewQueueDispatcher(queue messagequeue.Queue) *QueueDispatcher {
	return &QueueDispatcher{queue: queue}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, job Job) error {
	data, err := json.Marshal(messagequeue.ProvisionPayload{Slug: job.Slug, Repair: job.Repair})
	if err != nil {
		return fmt.Errorf("marshal provision payload: %w", err)
	}
	return d.queue.Publish(ctx, messagequeue.SubjectTenantProvision, data)
}

// StartProvisionWorker consumes the tenants.provision work queue and runs
// each message with the given timeout. A run error is returned to the
// queue, which retries it a bounded number of times.
func StartProvisionWorker(ctx context.Context, queue messagequeue.Queue, run RunFunc, timeout time.Duration) (func(), error) {
	return queue.Subscribe(ctx, messagequeue.SubjectTenantProvision, func(mctx context.Context, _ string, data []byte) error {
		var p messagequeue.ProvisionPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode provision payload: %w", err)
		}
		rctx, cancel := context.WithTimeout(mctx, timeout)
		defer cancel()
		return run(rctx, Job{Slug: p.Slug, Repair: p.Repair})
	})
}
