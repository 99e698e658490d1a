// Package sequence hands out readable, per-day identifiers such as
// HM251018-007. Numbers come from a counter row that is read and incremented
// inside the same transaction that writes the numbered entity.
package sequence

import (
	"context"
	"fmt"
	"time"

	"homemart/backend/internal/store"
)

type Sequence struct {
	Name   string
	Prefix string
}

var (
	Sales    = Sequence{Name: "sales", Prefix: "HM"}
	Sessions = Sequence{Name: "cash_sessions", Prefix: "CS"}
)

func DayKey(when time.Time) string {
	return when.UTC().Format("060102")
}

func CounterKey(seq Sequence, when time.Time) string {
	return seq.Name + "_" + DayKey(when)
}

func Format(prefix string, day string, n int64) string {
	return fmt.Sprintf("%s%s-%03d", prefix, day, n)
}

// Reservation is a number read but not yet claimed. It becomes durable only
// when Commit is applied in the same transaction and that transaction commits.
type Reservation struct {
	Key   string
	Value int64
	ID    string
}

// Peek is the read half of Next.
func Peek(ctx context.Context, tx store.Tx, seq Sequence, when time.Time) (Reservation, error) {
	key := CounterKey(seq, when)
	count, _, err := tx.GetCounter(ctx, key)
	if err != nil {
		return Reservation{}, fmt.Errorf("read counter %s: %w", key, err)
	}
	next := count + 1
	return Reservation{
		Key:   key,
		Value: next,
		ID:    Format(seq.Prefix, DayKey(when), next),
	}, nil
}

func (r Reservation) Commit(ctx context.Context, tx store.Tx) error {
	if err := tx.IncrementCounter(ctx, r.Key, 1); err != nil {
		return fmt.Errorf("increment counter %s: %w", r.Key, err)
	}
	return nil
}

// Next reads and claims the next identifier for seq on the day of when.
func Next(ctx context.Context, tx store.Tx, seq Sequence, when time.Time) (string, error) {
	r, err := Peek(ctx, tx, seq, when)
	if err != nil {
		return "", err
	}
	if err := r.Commit(ctx, tx); err != nil {
		return "", err
	}
	return r.ID, nil
}
