package engine_test

import (
	"sync"
	"testing"

	"shopline/internal/domain"
	"shopline/internal/engine"
	"shopline/internal/repo"
)

func TestNextStatusTable(t *testing.T) {
	allowed := map[domain.WOStatus]map[domain.WOEvent]domain.WOStatus{
		domain.WODraft: {
			domain.EventSchedule: domain.WOScheduled,
			domain.EventStart:    domain.WOInProgress,
			domain.EventCancel:   domain.WOCancelled,
		},
		domain.WOScheduled: {
			domain.EventStart:  domain.WOInProgress,
			domain.EventCancel: domain.WOCancelled,
		},
		domain.WOInProgress: {
			domain.EventPause:    domain.WOPaused,
			domain.EventCancel:   domain.WOCancelled,
			domain.EventComplete: domain.WOCompleted,
		},
		domain.WOPaused: {
			domain.EventResume: domain.WOInProgress,
			domain.EventCancel: domain.WOCancelled,
		},
	}
	for _, from := range domain.WOStatuses {
		for _, ev := range append(domain.WOEvents, "explode") {
			to, ok := engine.NextStatus(from, ev)
			want, wantOK := allowed[from][ev]
			if ok != wantOK || to != want {
				t.Fatalf("NextStatus(%s,%s) = %q,%v want %q,%v", from, ev, to, ok, want, wantOK)
			}
		}
	}
}

// driveTo brings a fresh work order into the given status.
func (env testEnv) driveTo(t *testing.T, status domain.WOStatus) domain.WorkOrder {
	t.Helper()
	mo := env.confirmedMO(t, "10", "B-1", "R-INHOUSE")
	wo := env.generate(t, mo.ID, "10")
	switch status {
	case domain.WODraft:
		return wo
	case domain.WOScheduled:
		env.plan(t, wo.ID)
		return env.transition(t, wo.ID, domain.EventSchedule)
	case domain.WOInProgress:
		return env.transition(t, wo.ID, domain.EventStart)
	case domain.WOPaused:
		return env.transition(t, wo.ID, domain.EventStart, domain.EventPause)
	case domain.WOCompleted:
		return env.transition(t, wo.ID, domain.EventStart, domain.EventComplete)
	case domain.WOCancelled:
		return env.transition(t, wo.ID, domain.EventCancel)
	}
	t.Fatalf("unknown status %s", status)
	return wo
}

func (env testEnv) plan(t *testing.T, woID string) {
	t.Helper()
	start, finish, wh := "2024-01-02", "2024-01-05", "WH-1"
	if _, err := env.Engine.UpdateWorkOrderPlan(env.Ctx, woID, engine.PlanUpdate{PlannedStart: &start, PlannedFinish: &finish, IssuingWarehouseID: &wh}); err != nil {
		t.Fatalf("plan: %v", err)
	}
}

func TestTransitionRejectionsLeaveStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	for _, from := range domain.WOStatuses {
		for _, ev := range append(domain.WOEvents, "explode") {
			if _, ok := engine.NextStatus(from, ev); ok {
				continue
			}
			wo := env.driveTo(t, from)
			_, err := env.Engine.TransitionWorkOrder(env.Ctx, wo.ID, ev, "operator")
			expectCode(t, err, engine.CodeInvalidTransition)
			after := env.wo(t, wo.ID)
			if after.Status != from || after.Version != wo.Version {
				t.Fatalf("%s/%s mutated work order: %s v%d -> %s v%d", from, ev, from, wo.Version, after.Status, after.Version)
			}
		}
	}
}

func TestScheduleRequiresPlan(t *testing.T) {
	env := newTestEnv(t)
	mo := env.confirmedMO(t, "10", "", "")
	wo := env.generate(t, mo.ID, "5")
	_, err := env.Engine.TransitionWorkOrder(env.Ctx, wo.ID, domain.EventSchedule, "planner")
	expectCode(t, err, engine.CodeScheduleIncomplete)

	env.plan(t, wo.ID)
	got := env.transition(t, wo.ID, domain.EventSchedule)
	if got.Status != domain.WOScheduled || got.IssuingWarehouseID != "WH-1" {
		t.Fatalf("unexpected scheduled work order %+v", got)
	}

	empty := ""
	_, err = env.Engine.UpdateWorkOrderPlan(env.Ctx, wo.ID, engine.PlanUpdate{IssuingWarehouseID: &empty})
	expectCode(t, err, engine.CodeScheduleIncomplete)
	late := "2024-02-01"
	_, err = env.Engine.UpdateWorkOrderPlan(env.Ctx, wo.ID, engine.PlanUpdate{PlannedStart: &late})
	expectCode(t, err, engine.CodeInvalidPlan)

	env.transition(t, wo.ID, domain.EventStart)
	_, err = env.Engine.UpdateWorkOrderPlan(env.Ctx, wo.ID, engine.PlanUpdate{PlannedStart: &late})
	expectCode(t, err, engine.CodeInvalidTransition)
}

func TestStartCreatesIssueOrderOnce(t *testing.T) {
	env := newTestEnv(t)
	wo := env.driveTo(t, domain.WOInProgress)
	order, err := env.Engine.Repo.GetIssueOrderByWorkOrder(env.Ctx, wo.ID)
	if err != nil {
		t.Fatalf("issue order: %v", err)
	}
	if order.Status != domain.IssuePending || len(order.Items) != 2 || order.Number != "MI-000001" {
		t.Fatalf("unexpected issue order %+v", order)
	}
	if order.Items[0].ID != wo.Materials[0].ID {
		t.Fatalf("issue order items must be the work order's material lines")
	}
	env.transition(t, wo.ID, domain.EventPause, domain.EventResume)
	again, err := env.Engine.Repo.GetIssueOrderByWorkOrder(env.Ctx, wo.ID)
	if err != nil || again.ID != order.ID {
		t.Fatalf("resume must not create another issue order: %v", err)
	}
	if env.wo(t, wo.ID).StartedAt == nil {
		t.Fatalf("started_at not set")
	}
}

func TestTransitionHistoryVersions(t *testing.T) {
	env := newTestEnv(t)
	wo := env.driveTo(t, domain.WOCompleted)
	hist, err := env.Engine.WorkOrderHistory(env.Ctx, wo.Number)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(hist))
	}
	if hist[0].From != domain.WODraft || hist[0].To != domain.WOInProgress || hist[1].To != domain.WOCompleted {
		t.Fatalf("unexpected history %+v", hist)
	}
	if hist[1].Version <= hist[0].Version {
		t.Fatalf("versions must increase: %d then %d", hist[0].Version, hist[1].Version)
	}
	if wo.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}
	_, err = env.Engine.WorkOrderHistory(env.Ctx, "WO-999999")
	expectCode(t, err, engine.CodeWorkOrderNotFound)
}

func TestCancelFromEveryOpenState(t *testing.T) {
	for _, from := range []domain.WOStatus{domain.WODraft, domain.WOScheduled, domain.WOInProgress, domain.WOPaused} {
		t.Run(string(from), func(t *testing.T) {
			env := newTestEnv(t)
			wo := env.driveTo(t, from)
			got, err := env.Engine.CancelWorkOrder(env.Ctx, wo.ID, "planner")
			if err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if got.Status != domain.WOCancelled || got.CancelledAt == nil {
				t.Fatalf("unexpected %+v", got)
			}
			mo := env.mo(t, wo.MOID)
			if !mo.ScheduledQuantity.IsZero() {
				t.Fatalf("quantity not released: %s", mo.ScheduledQuantity)
			}
			checkConservation(t, mo)
		})
	}
}

func TestAdvanceOperation(t *testing.T) {
	env := newTestEnv(t)
	mo := env.confirmedMO(t, "5", "", "R-1")
	wo := env.generate(t, mo.ID, "5")
	_, err := env.Engine.AdvanceOperation(env.Ctx, wo.ID, "operator")
	expectCode(t, err, engine.CodeInvalidTransition)

	env.transition(t, wo.ID, domain.EventStart)
	logs := env.observeLogs()
	got, err := env.Engine.AdvanceOperation(env.Ctx, wo.ID, "operator")
	if err != nil || got.Sequence != 20 {
		t.Fatalf("advance to 20: %v %d", err, got.Sequence)
	}
	advanced := logs.FilterMessage("wo.advanced").All()
	if len(advanced) != 1 {
		t.Fatalf("expected one wo.advanced entry, got %d", len(advanced))
	}
	if f := advanced[0].ContextMap(); f["from"] != int64(10) || f["to"] != int64(20) || f["wo"] != wo.Number {
		t.Fatalf("unexpected fields %+v", f)
	}
	got, err = env.Engine.AdvanceOperation(env.Ctx, wo.ID, "operator")
	if err != nil || got.Sequence != 30 {
		t.Fatalf("advance to 30: %v %d", err, got.Sequence)
	}
	_, err = env.Engine.AdvanceOperation(env.Ctx, wo.ID, "operator")
	expectCode(t, err, engine.CodeSequenceExhausted)

	plain := env.confirmedMO(t, "5", "", "")
	bare := env.generate(t, plain.ID, "5")
	env.transition(t, bare.ID, domain.EventStart)
	_, err = env.Engine.AdvanceOperation(env.Ctx, bare.ID, "operator")
	expectCode(t, err, engine.CodeSequenceExhausted)
}

func TestConcurrentTransitionsSerialize(t *testing.T) {
	env := newTestEnv(t)
	wo := env.driveTo(t, domain.WOInProgress)
	const workers = 6
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.TransitionWorkOrder(env.Ctx, wo.ID, domain.EventComplete, "operator")
			results <- err
		}()
	}
	wg.Wait()
	close(results)
	ok := 0
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		if !engine.HasCode(err, engine.CodeInvalidTransition) && !engine.HasCode(err, engine.CodeVersionConflict) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("exactly one completion should win, got %d", ok)
	}
}

func TestConcurrentCancelReleasesOnce(t *testing.T) {
	env := newTestEnv(t)
	mo := env.confirmedMO(t, "100", "", "")
	wo := env.generate(t, mo.ID, "40")

	const workers = 6
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.CancelWorkOrder(env.Ctx, wo.ID, "planner")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case engine.HasCode(err, engine.CodeInvalidTransition), engine.HasCode(err, engine.CodeVersionConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("exactly one cancel should win, got %d", ok)
	}
	got := env.mo(t, mo.ID)
	if !got.ScheduledQuantity.IsZero() || !got.PendingQuantity().Equal(dec("100")) {
		t.Fatalf("quantity released more than once: scheduled %s pending %s", got.ScheduledQuantity, got.PendingQuantity())
	}
	checkConservation(t, got)
	history, err := env.Engine.WorkOrderHistory(env.Ctx, wo.ID)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected one cancel transition: %v %+v", err, history)
	}
}

func TestConcurrentGenerateAndCancel(t *testing.T) {
	env := newTestEnv(t)
	mo := env.confirmedMO(t, "100", "", "")
	first := env.generate(t, mo.ID, "30")
	second := env.generate(t, mo.ID, "30")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.GenerateWorkOrders(env.Ctx, engine.GenerateOptions{MOID: mo.ID, Quantity: dec("25")})
			if engine.HasCode(err, engine.CodeQuantityExceedsPending) {
				err = nil
			}
			errs <- err
		}()
	}
	for _, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.Engine.CancelWorkOrder(env.Ctx, id, "planner")
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil && !engine.HasCode(err, engine.CodeVersionConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got := env.mo(t, mo.ID)
	checkConservation(t, got)
	wos, err := env.Engine.Repo.ListWorkOrders(env.Ctx, repo.WOFilters{MOID: mo.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	committed := dec("0")
	for _, wo := range wos {
		if wo.Status != domain.WOCancelled {
			committed = committed.Add(wo.Quantity)
		}
	}
	if !committed.Equal(got.ScheduledQuantity) {
		t.Fatalf("scheduled %s but open work orders hold %s", got.ScheduledQuantity, committed)
	}
	if got.ScheduledQuantity.GreaterThan(got.Quantity) {
		t.Fatalf("over-committed: scheduled %s of %s", got.ScheduledQuantity, got.Quantity)
	}
}
