package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestS3Retry(t *testing.T) {
	s := &S3Storage{cfg: S3Config{Attempts: 3, Backoff: time.Millisecond}}
	ctx := context.Background()

	calls := 0
	err := s.retry(ctx, func() error {
		calls++
		if calls < 3 {
			return errors.New("throttled")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("expected success on the third call, got %v after %d calls", err, calls)
	}

	calls = 0
	err = s.retry(ctx, func() error {
		calls++
		return errors.New("down")
	})
	if err == nil || calls != 3 {
		t.Errorf("expected failure after 3 calls, got %v after %d calls", err, calls)
	}

	calls = 0
	err = s.retry(ctx, func() error {
		calls++
		return ErrNotFound
	})
	if !errors.Is(err, ErrNotFound) || calls != 1 {
		t.Errorf("a missing object must not be retried, got %v after %d calls", err, calls)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err = s.retry(canceled, func() error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewS3StorageNeedsBucket(t *testing.T) {
	if _, err := NewS3Storage(context.Background(), DefaultS3Config()); err == nil {
		t.Error("expected an error without a bucket")
	}
}
