package archivist

import (
	"context"
	"testing"
	"time"
)

func TestReminderCronFiresAtMostOncePerMinute(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryObjectStore()
	sched := NewReminderScheduler(store)

	if _, err := sched.Schedule(ctx, Reminder{ID: "r", Type: ReminderCron, Expression: "0 9 * * *"}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	t0 := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	fired, err := sched.Check(ctx, t0)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(fired) != 1 || fired[0].ID != "r" {
		t.Fatalf("expected r to fire at %v, got %v", t0, fired)
	}

	t1 := t0.Add(30 * time.Second)
	fired, err = sched.Check(ctx, t1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("expected no fire at %v, got %v", t1, fired)
	}

	nextDay := t0.AddDate(0, 0, 1)
	fired, err = sched.Check(ctx, nextDay)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(fired) != 1 || fired[0].ID != "r" {
		t.Fatalf("expected r to fire again next day, got %v", fired)
	}
}

func TestReminderOnceFiresOnceAndIsRemoved(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryObjectStore()
	sched := NewReminderScheduler(store)

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := sched.Schedule(ctx, Reminder{ID: "once", Type: ReminderOnce, Expression: past.Format(time.RFC3339)}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	fired, err := sched.Check(ctx, time.Now())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(fired) != 1 || fired[0].ID != "once" {
		t.Fatalf("expected once reminder to fire, got %v", fired)
	}

	remaining, err := sched.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected once reminder removed, got %v", remaining)
	}
}

func TestReminderEvenHourSemantics(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryObjectStore()
	sched := NewReminderScheduler(store)

	if _, err := sched.Schedule(ctx, Reminder{ID: "even", Type: ReminderCron, Expression: "0 */2 * * *"}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	even := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	fired, err := sched.Check(ctx, even)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("expected fire at even hour 14, got %v", fired)
	}

	odd := time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC)
	fired, err = sched.Check(ctx, odd)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("expected no fire at odd hour 15, got %v", fired)
	}
}

func TestInvalidCronNeverMatches(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryObjectStore()
	sched := NewReminderScheduler(store)

	if _, err := sched.Schedule(ctx, Reminder{ID: "bad", Type: ReminderCron, Expression: "not a cron"}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	fired, err := sched.Check(ctx, time.Now())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("expected invalid cron to never fire, got %v", fired)
	}

	remaining, err := sched.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected invalid cron reminder to be retained, got %v", remaining)
	}
}
