package store

import (
	"context"
	"testing"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
)

func TestRetryQueue_ClaimOnlyDue(t *testing.T) {
	client, _ := setupTestRedis(t)
	q := NewRetryQueue(client)
	ctx := context.Background()
	now := time.Now()

	due := domain.RetryTask{EventID: "evt-1", WebhookID: "wh-1", AttemptNumber: 2, DueAt: now.Add(-time.Second)}
	later := domain.RetryTask{EventID: "evt-2", WebhookID: "wh-1", AttemptNumber: 2, DueAt: now.Add(time.Hour)}
	for _, task := range []domain.RetryTask{due, later} {
		if err := q.Schedule(ctx, task); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	claimed, err := q.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 due task, got %d", len(claimed))
	}
	if claimed[0].EventID != "evt-1" || claimed[0].AttemptNumber != 2 {
		t.Errorf("unexpected task: %+v", claimed[0].RetryTask)
	}
	if claimed[0].ID == "" {
		t.Error("expected scheduled task to get an id")
	}

	pending, _ := q.Len(ctx)
	if pending != 1 {
		t.Errorf("expected 1 task left in schedule, got %d", pending)
	}
	inflight, _ := q.InflightLen(ctx)
	if inflight != 1 {
		t.Errorf("expected 1 in-flight task, got %d", inflight)
	}

	if err := q.Ack(ctx, claimed[0]); err != nil {
		t.Fatalf("ack: %v", err)
	}
	inflight, _ = q.InflightLen(ctx)
	if inflight != 0 {
		t.Errorf("expected no in-flight tasks after ack, got %d", inflight)
	}
}

func TestRetryQueue_ClaimOrderAndLimit(t *testing.T) {
	client, _ := setupTestRedis(t)
	q := NewRetryQueue(client)
	ctx := context.Background()
	now := time.Now()

	for i, offset := range []time.Duration{-3 * time.Second, -1 * time.Second, -2 * time.Second} {
		q.Schedule(ctx, domain.RetryTask{
			EventID:       []string{"a", "c", "b"}[i],
			WebhookID:     "wh",
			AttemptNumber: 2,
			DueAt:         now.Add(offset),
		})
	}

	claimed, err := q.ClaimDue(ctx, now, 2)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(claimed))
	}
	if claimed[0].EventID != "a" || claimed[1].EventID != "b" {
		t.Errorf("expected earliest due first, got %s, %s", claimed[0].EventID, claimed[1].EventID)
	}
}

func TestRetryQueue_ClaimIsExclusive(t *testing.T) {
	client, _ := setupTestRedis(t)
	q := NewRetryQueue(client)
	ctx := context.Background()
	now := time.Now()

	q.Schedule(ctx, domain.RetryTask{EventID: "evt-1", WebhookID: "wh-1", AttemptNumber: 2, DueAt: now})

	first, _ := q.ClaimDue(ctx, now, 10)
	second, _ := q.ClaimDue(ctx, now, 10)
	if len(first) != 1 || len(second) != 0 {
		t.Errorf("expected task claimed exactly once, got %d then %d", len(first), len(second))
	}
}

func TestRetryQueue_RecoverUnacked(t *testing.T) {
	client, _ := setupTestRedis(t)
	q := NewRetryQueue(client)
	ctx := context.Background()
	claimTime := time.Now().Add(-10 * time.Minute)

	q.Schedule(ctx, domain.RetryTask{EventID: "evt-1", WebhookID: "wh-1", AttemptNumber: 3, DueAt: claimTime})
	if claimed, _ := q.ClaimDue(ctx, claimTime, 10); len(claimed) != 1 {
		t.Fatalf("expected claim to succeed")
	}

	// A recent cutoff leaves the task alone.
	n, err := q.Recover(ctx, claimTime.Add(-time.Minute))
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing recovered, got %d", n)
	}

	n, err = q.Recover(ctx, time.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered task, got %d", n)
	}

	claimed, err := q.ClaimDue(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].AttemptNumber != 3 {
		t.Errorf("expected recovered task to be claimable again, got %+v", claimed)
	}
}
