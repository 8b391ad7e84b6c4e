package archivist

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const remindersIndexPath = "reminders/index.json"

// ReminderScheduler is C5: poll-fired one-shot and cron-style
// reminders. State is a single JSON blob persisted through C4; all
// mutations serialize on one lock per spec.md §5.
type ReminderScheduler struct {
	mu    sync.Mutex
	store ObjectStore
}

func NewReminderScheduler(store ObjectStore) *ReminderScheduler {
	return &ReminderScheduler{store: store}
}

func (s *ReminderScheduler) load(ctx context.Context) ([]Reminder, error) {
	file, err := s.store.Read(ctx, remindersIndexPath)
	if err != nil {
		if err == ErrNotFound {
			return []Reminder{}, nil
		}
		return nil, fmt.Errorf("archivist: load reminders: %w", err)
	}
	var reminders []Reminder
	if err := json.Unmarshal([]byte(file.Content), &reminders); err != nil {
		return nil, fmt.Errorf("archivist: decode reminders: %w", err)
	}
	return reminders, nil
}

func (s *ReminderScheduler) persist(ctx context.Context, reminders []Reminder) error {
	data, err := json.Marshal(reminders)
	if err != nil {
		return fmt.Errorf("archivist: encode reminders: %w", err)
	}
	if _, err := s.store.Write(ctx, remindersIndexPath, string(data)); err != nil {
		return fmt.Errorf("archivist: persist reminders: %w", err)
	}
	return nil
}

// List returns every reminder.
func (s *ReminderScheduler) List(ctx context.Context) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Get returns a single reminder by id.
func (s *ReminderScheduler) Get(ctx context.Context, id string) (*Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range reminders {
		if reminders[i].ID == id {
			return &reminders[i], nil
		}
	}
	return nil, ErrNotFound
}

// Schedule upserts a reminder by id, generating one if Id is empty.
func (s *ReminderScheduler) Schedule(ctx context.Context, r Reminder) (Reminder, error) {
	if r.Type != ReminderOnce && r.Type != ReminderCron {
		return Reminder{}, fmt.Errorf("archivist: schedule reminder: %w", ErrInvalidArgument)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.load(ctx)
	if err != nil {
		return Reminder{}, err
	}

	replaced := false
	for i := range reminders {
		if reminders[i].ID == r.ID {
			reminders[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		reminders = append(reminders, r)
	}

	if err := s.persist(ctx, reminders); err != nil {
		return Reminder{}, err
	}
	return r, nil
}

// Remove deletes a reminder by id.
func (s *ReminderScheduler) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.load(ctx)
	if err != nil {
		return err
	}

	out := reminders[:0]
	found := false
	for _, r := range reminders {
		if r.ID == id {
			found = true
			continue
		}
		out = append(out, r)
	}
	if !found {
		return ErrNotFound
	}
	return s.persist(ctx, out)
}

// Check evaluates every reminder against now (UTC) and returns those
// that fired. A "once" reminder fires and is removed when its instant
// has passed. A "cron" reminder fires at most once per matching UTC
// minute, tracked via lastFired.
//
// Open question resolved per spec.md §9: if the process restarts
// mid-minute, lastFired is reset from whatever was last persisted, so a
// cron reminder can in the worst case double-fire within the same
// minute across a restart — it will never fire twice across two
// distinct minutes.
func (s *ReminderScheduler) Check(ctx context.Context, now time.Time) ([]Reminder, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	var fired []Reminder
	var remaining []Reminder
	changed := false

	for _, r := range reminders {
		switch r.Type {
		case ReminderOnce:
			instant, err := time.Parse(time.RFC3339, r.Expression)
			if err != nil || instant.After(now) {
				remaining = append(remaining, r)
				continue
			}
			fired = append(fired, r)
			changed = true
			// once reminders are removed, not carried into remaining

		case ReminderCron:
			if matchesCron(r.Expression, now) && !firedThisMinute(r.LastFired, now) {
				r.LastFired = &now
				fired = append(fired, r)
				changed = true
			}
			remaining = append(remaining, r)

		default:
			remaining = append(remaining, r)
		}
	}

	if changed {
		if err := s.persist(ctx, remaining); err != nil {
			return nil, err
		}
	}
	if fired == nil {
		fired = []Reminder{}
	}
	return fired, nil
}

func firedThisMinute(lastFired *time.Time, now time.Time) bool {
	if lastFired == nil {
		return false
	}
	lf := lastFired.UTC()
	return lf.Year() == now.Year() && lf.Month() == now.Month() && lf.Day() == now.Day() &&
		lf.Hour() == now.Hour() && lf.Minute() == now.Minute()
}

// matchesCron evaluates a 5-field cron expression
// (minute hour day-of-month month day-of-week) against t in UTC.
// Invalid expressions never match (they don't error).
func matchesCron(expr string, t time.Time) bool {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return false
	}

	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]
	return matchCronField(minute, t.Minute(), 0, 59) &&
		matchCronField(hour, t.Hour(), 0, 23) &&
		matchCronField(dom, t.Day(), 1, 31) &&
		matchCronField(month, int(t.Month()), 1, 12) &&
		matchCronField(dow, int(t.Weekday()), 0, 6)
}

// matchCronField evaluates one cron field against value. Supported
// syntax: "*", "N", "N-M", "*/N", and comma-separated lists of any of
// the prior forms.
func matchCronField(field string, value, min, max int) bool {
	for _, part := range strings.Split(field, ",") {
		if matchCronPart(part, value, min, max) {
			return true
		}
	}
	return false
}

func matchCronPart(part string, value, min, max int) bool {
	if part == "*" {
		return true
	}

	if strings.HasPrefix(part, "*/") {
		step, err := strconv.Atoi(part[2:])
		if err != nil || step <= 0 {
			return false
		}
		return (value-min)%step == 0
	}

	if idx := strings.Index(part, "-"); idx > 0 {
		lo, err1 := strconv.Atoi(part[:idx])
		hi, err2 := strconv.Atoi(part[idx+1:])
		if err1 != nil || err2 != nil || lo > hi {
			return false
		}
		return value >= lo && value <= hi
	}

	n, err := strconv.Atoi(part)
	if err != nil {
		return false
	}
	return n == value
}
