package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vanshika/iou/backend/internal/domain"
	"github.com/vanshika/iou/backend/internal/phone"
)

// TaskError accumulates multiple errors produced during bulk ingestion.
type TaskError struct {
	mu     sync.Mutex
	Errors []error
}

func (e *TaskError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *TaskError) append(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Errors = append(e.Errors, err)
}

func (e *TaskError) asError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// IngestStats counts what a bulk load changed.
type IngestStats struct {
	Created int
	Skipped int
}

// BulkIngestor loads demo users and IOUs through the regular services with a
// bounded number of concurrent workers.
type BulkIngestor struct {
	creds   *Credentials
	users   UserStore
	ledger  *Ledger
	workers int
}

// NewBulkIngestor creates a new BulkIngestor instance with the provided concurrency.
func NewBulkIngestor(creds *Credentials, users UserStore, ledger *Ledger, workers int) *BulkIngestor {
	if workers <= 0 {
		workers = 4
	}
	return &BulkIngestor{
		creds:   creds,
		users:   users,
		ledger:  ledger,
		workers: workers,
	}
}

// IngestUsers creates the accounts. Phones that are already registered are
// skipped so a dataset can be loaded twice.
func (bi *BulkIngestor) IngestUsers(ctx context.Context, users []SeedUser) (IngestStats, error) {
	var (
		mu    sync.Mutex
		stats IngestStats
	)
	err := bi.run(ctx, len(users), func(idx int) error {
		created, err := bi.ingestUser(ctx, users[idx])
		if err != nil {
			return fmt.Errorf("user %d: %w", idx, err)
		}
		mu.Lock()
		if created {
			stats.Created++
		} else {
			stats.Skipped++
		}
		mu.Unlock()
		return nil
	})
	return stats, err
}

func (bi *BulkIngestor) ingestUser(ctx context.Context, u SeedUser) (bool, error) {
	var err error
	if u.Pin != "" {
		_, err = bi.creds.CreateUser(ctx, u.Phone, u.DisplayName, u.Pin)
	} else {
		p := phone.Normalize(u.Phone)
		if p == "" {
			return false, domain.InvalidOperation("Phone number required")
		}
		err = bi.users.CreateUser(ctx, domain.User{
			ID:          uuid.NewString(),
			Phone:       p,
			DisplayName: strings.TrimSpace(u.DisplayName),
			CreatedAt:   u.CreatedAt.UTC(),
		})
	}
	if errors.Is(err, domain.ErrConflict) {
		return false, nil
	}
	return err == nil, err
}

// IngestIOUs creates each IOU as its creator and settles those marked repaid.
func (bi *BulkIngestor) IngestIOUs(ctx context.Context, ious []SeedIOU) (IngestStats, error) {
	var (
		mu    sync.Mutex
		stats IngestStats
	)
	err := bi.run(ctx, len(ious), func(idx int) error {
		if err := bi.ingestIOU(ctx, ious[idx]); err != nil {
			return fmt.Errorf("iou %d: %w", idx, err)
		}
		mu.Lock()
		stats.Created++
		mu.Unlock()
		return nil
	})
	return stats, err
}

func (bi *BulkIngestor) ingestIOU(ctx context.Context, s SeedIOU) error {
	creator, err := bi.users.GetUserByPhone(ctx, phone.Normalize(s.FromPhone))
	if err != nil {
		return fmt.Errorf("creator %s: %w", s.FromPhone, err)
	}
	view, err := bi.ledger.Create(ctx, creator, NewIOU{
		ToPhone:     optionalString(s.ToPhone),
		ToName:      optionalString(s.ToName),
		Description: optionalString(s.Description),
		PhotoURL:    optionalString(s.PhotoURL),
	})
	if err != nil {
		return err
	}
	if s.Repaid {
		if _, err := bi.ledger.MarkRepaid(ctx, creator, view.ID); err != nil {
			return err
		}
	}
	return nil
}

// run fans total tasks out over the worker pool. Task failures are collected
// rather than stopping the load; cancellation stops it.
func (bi *BulkIngestor) run(ctx context.Context, total int, workerFn func(idx int) error) error {
	if total == 0 {
		return nil
	}

	var (
		g       errgroup.Group
		taskErr TaskError
	)
	g.SetLimit(bi.workers)

	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			break
		}
		idx := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			taskErr.append(workerFn(idx))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return taskErr.asError()
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
