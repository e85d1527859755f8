package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shopline/internal/catalog"
	"shopline/internal/config"
	"shopline/internal/domain"
	"shopline/internal/events"
	"shopline/internal/repo"
)

type Engine struct {
	DB          *sql.DB
	Repo        repo.Repo
	Events      events.Writer
	Config      *config.Config
	Catalog     catalog.Catalog
	Subcontract SubcontractWorkflow
	Locks       *Locks
	Logger      *zap.Logger
	Now         func() time.Time
}

func New(db *sql.DB, cfg *config.Config, cat catalog.Catalog) Engine {
	if cfg == nil {
		cfg = config.Default("plant")
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Config:  cfg,
		Catalog: cat,
		Locks:   NewLocks(),
		Logger:  zap.NewNop(),
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Engine) cfg() *config.Config {
	if e.Config == nil {
		return config.Default("plant")
	}
	return e.Config
}

// lock acquires keys in the given order; callers pass WO keys before MO keys.
func (e Engine) lock(keys ...string) func() {
	if e.Locks == nil {
		return func() {}
	}
	unlocks := make([]func(), 0, len(keys))
	for _, k := range keys {
		unlocks = append(unlocks, e.Locks.Lock(k))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}

// refError maps repo.ErrNotFound to a reference error and wraps anything else.
func refError(err error, code Code, what, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return newError(code, "%s %s not found", what, id).with("id", id)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}

func conflictError(err error, what, id string) error {
	if errors.Is(err, repo.ErrVersionConflict) {
		return newError(CodeVersionConflict, "%s %s was modified concurrently", what, id).with("id", id)
	}
	return fmt.Errorf("update %s %s: %w", what, id, err)
}

// parsePlanTime accepts RFC 3339 timestamps and plain dates.
func parsePlanTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

// checkPlan validates the planned window; either side may be empty.
func checkPlan(start, finish string) error {
	var s, f time.Time
	var err error
	if start != "" {
		if s, err = parsePlanTime(start); err != nil {
			return newError(CodeInvalidPlan, "planned start %q is not a date or RFC 3339 time", start)
		}
	}
	if finish != "" {
		if f, err = parsePlanTime(finish); err != nil {
			return newError(CodeInvalidPlan, "planned finish %q is not a date or RFC 3339 time", finish)
		}
	}
	if start != "" && finish != "" && s.After(f) {
		return newError(CodeInvalidPlan, "planned start %s is after planned finish %s", start, finish).
			with("planned_start", start).with("planned_finish", finish)
	}
	return nil
}

// completeMOIfDone moves the MO to completed once nothing is pending, no work order
// is open and at least one work order completed.
func (e Engine) completeMOIfDone(ctx context.Context, tx *sql.Tx, mo domain.ManufacturingOrder, actorID string) (domain.ManufacturingOrder, error) {
	if mo.Status != domain.MOConfirmed && mo.Status != domain.MOInProgress {
		return mo, nil
	}
	if !mo.PendingQuantity().IsZero() {
		return mo, nil
	}
	counts, err := e.Repo.CountWorkOrdersByStatus(ctx, tx, mo.ID)
	if err != nil {
		return mo, err
	}
	for status, n := range counts {
		if status.Open() && n > 0 {
			return mo, nil
		}
	}
	if counts[domain.WOCompleted] == 0 {
		return mo, nil
	}
	prev := mo.Version
	mo.Status = domain.MOCompleted
	mo.Version++
	mo.UpdatedAt = e.ts()
	if err := e.Repo.UpdateManufacturingOrder(ctx, tx, mo, prev); err != nil {
		return mo, conflictError(err, "manufacturing order", mo.Number)
	}
	if err := e.appendEvent(ctx, tx, events.MOCompleted, "manufacturing_order", mo.ID, actorID, events.EventPayload{
		"number":    mo.Number,
		"completed": counts[domain.WOCompleted],
	}); err != nil {
		return mo, err
	}
	return mo, nil
}
