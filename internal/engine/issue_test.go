package engine_test

import (
	"errors"
	"sync"
	"testing"

	"shopline/internal/domain"
	"shopline/internal/engine"
)

func (env testEnv) startedOrder(t *testing.T) (domain.WorkOrder, domain.MaterialIssueOrder) {
	t.Helper()
	wo := env.driveTo(t, domain.WOInProgress)
	order, err := env.Engine.Repo.GetIssueOrderByWorkOrder(env.Ctx, wo.ID)
	if err != nil {
		t.Fatalf("issue order: %v", err)
	}
	return wo, order
}

func TestIssueMaterialItemProgression(t *testing.T) {
	env := newTestEnv(t)
	_, order := env.startedOrder(t)
	steel := order.Items[0]
	if steel.MaterialID != "M-STEEL" || !steel.RequiredQuantity.Equal(dec("2")) {
		t.Fatalf("unexpected first line %+v", steel)
	}

	got, err := env.Engine.IssueMaterialItem(env.Ctx, order.ID, steel.ID, dec("0.5"), "storekeeper")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got.Status != domain.IssuePartial {
		t.Fatalf("expected partial, got %s", got.Status)
	}
	item, _ := got.Item(steel.ID)
	if !item.IssuedQuantity.Equal(dec("0.5")) {
		t.Fatalf("issued %s", item.IssuedQuantity)
	}

	_, err = env.Engine.IssueMaterialItem(env.Ctx, order.Number, steel.ID, dec("1.6"), "storekeeper")
	expectCode(t, err, engine.CodeOverIssue)
	reloaded, err := env.Engine.Repo.GetIssueOrder(env.Ctx, order.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	item, _ = reloaded.Item(steel.ID)
	if !item.IssuedQuantity.Equal(dec("0.5")) || reloaded.Status != domain.IssuePartial {
		t.Fatalf("rejected issue mutated the order: %s %s", item.IssuedQuantity, reloaded.Status)
	}

	if _, err := env.Engine.IssueMaterialItem(env.Ctx, order.ID, steel.ID, dec("1.5"), "storekeeper"); err != nil {
		t.Fatalf("issue rest of steel: %v", err)
	}
	bolt := order.Items[1]
	got, err = env.Engine.IssueMaterialItem(env.Ctx, order.ID, bolt.ID, dec("0.5"), "storekeeper")
	if err != nil {
		t.Fatalf("issue bolts: %v", err)
	}
	if got.Status != domain.IssueCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	_, err = env.Engine.IssueMaterialItem(env.Ctx, order.ID, bolt.ID, dec("0.01"), "storekeeper")
	expectCode(t, err, engine.CodeOverIssue)

	ledger, err := env.Engine.Repo.ListMaterialIssues(env.Ctx, order.ID)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(ledger) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(ledger))
	}
	total := ledger[0].Quantity.Add(ledger[1].Quantity)
	if !total.Equal(dec("2")) || ledger[0].ActorID != "storekeeper" {
		t.Fatalf("unexpected ledger %+v", ledger)
	}
}

func TestIssueMaterialItemRejections(t *testing.T) {
	env := newTestEnv(t)
	wo, order := env.startedOrder(t)
	steel := order.Items[0]

	_, err := env.Engine.IssueMaterialItem(env.Ctx, order.ID, steel.ID, dec("0"), "storekeeper")
	expectCode(t, err, engine.CodeInvalidQuantity)
	_, err = env.Engine.IssueMaterialItem(env.Ctx, order.ID, steel.ID, dec("-1"), "storekeeper")
	expectCode(t, err, engine.CodeInvalidQuantity)
	_, err = env.Engine.IssueMaterialItem(env.Ctx, "MI-999999", steel.ID, dec("1"), "storekeeper")
	expectCode(t, err, engine.CodeIssueOrderNotFound)
	_, err = env.Engine.IssueMaterialItem(env.Ctx, order.ID, "no-such-line", dec("1"), "storekeeper")
	expectCode(t, err, engine.CodeItemNotFound)

	env.transition(t, wo.ID, domain.EventCancel)
	_, err = env.Engine.IssueMaterialItem(env.Ctx, order.ID, steel.ID, dec("1"), "storekeeper")
	expectCode(t, err, engine.CodeWorkOrderClosed)
}

func TestIssueAfterCompletion(t *testing.T) {
	env := newTestEnv(t)
	wo, order := env.startedOrder(t)
	env.transition(t, wo.ID, domain.EventComplete)
	if _, err := env.Engine.IssueMaterialItem(env.Ctx, order.ID, order.Items[0].ID, dec("2"), "storekeeper"); err != nil {
		t.Fatalf("late issue against a completed work order: %v", err)
	}
}

func TestIssueAllMaterial(t *testing.T) {
	env := newTestEnv(t)
	wo, order := env.startedOrder(t)
	if _, err := env.Engine.IssueMaterialItem(env.Ctx, order.ID, order.Items[0].ID, dec("1"), "storekeeper"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := env.Engine.IssueAllMaterial(env.Ctx, wo.Number, "storekeeper")
	if err != nil {
		t.Fatalf("issue all: %v", err)
	}
	if got.Status != domain.IssueCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	for _, it := range got.Items {
		if !it.PendingQuantity().IsZero() {
			t.Fatalf("line %s still pending %s", it.MaterialID, it.PendingQuantity())
		}
	}
	ledger, err := env.Engine.Repo.ListMaterialIssues(env.Ctx, order.ID)
	if err != nil || len(ledger) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d (%v)", len(ledger), err)
	}

	again, err := env.Engine.IssueAllMaterial(env.Ctx, wo.ID, "storekeeper")
	if err != nil || again.Status != domain.IssueCompleted {
		t.Fatalf("issue all on a completed order should be a no-op: %v", err)
	}
}

func TestIssueAllMaterialReportsFailures(t *testing.T) {
	env := newTestEnv(t)
	wo, order := env.startedOrder(t)
	env.transition(t, wo.ID, domain.EventCancel)

	got, err := env.Engine.IssueAllMaterial(env.Ctx, wo.ID, "storekeeper")
	var all *engine.IssueAllError
	if !errors.As(err, &all) {
		t.Fatalf("expected IssueAllError, got %v", err)
	}
	if len(all.Failures) != len(order.Items) {
		t.Fatalf("expected %d failures, got %d", len(order.Items), len(all.Failures))
	}
	for _, f := range all.Failures {
		if f.Code != engine.CodeWorkOrderClosed {
			t.Fatalf("unexpected failure code %s", f.Code)
		}
	}
	if !engine.HasCode(err, engine.CodeWorkOrderClosed) {
		t.Fatalf("joined error should carry the line codes")
	}
	if got.ID != order.ID || got.Status != domain.IssuePending {
		t.Fatalf("refreshed order expected alongside the error, got %+v", got)
	}
}

func TestIssueAllMaterialWithoutOrder(t *testing.T) {
	env := newTestEnv(t)
	wo := env.driveTo(t, domain.WODraft)
	_, err := env.Engine.IssueAllMaterial(env.Ctx, wo.ID, "storekeeper")
	expectCode(t, err, engine.CodeIssueOrderNotFound)
	_, err = env.Engine.IssueAllMaterial(env.Ctx, "WO-999999", "storekeeper")
	expectCode(t, err, engine.CodeWorkOrderNotFound)
}

func TestConcurrentIssueSerializes(t *testing.T) {
	for _, tc := range []struct {
		name   string
		locked bool
	}{
		{"locks", true},
		{"version guard only", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			if !tc.locked {
				env.Engine.Locks = nil
			}
			_, order := env.startedOrder(t)
			steel := order.Items[0]
			if !steel.RequiredQuantity.Equal(dec("2")) {
				t.Fatalf("unexpected steel requirement %s", steel.RequiredQuantity)
			}

			const workers = 8
			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := env.Engine.IssueMaterialItem(env.Ctx, order.ID, steel.ID, dec("0.5"), "storekeeper")
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
				case engine.HasCode(err, engine.CodeOverIssue), engine.HasCode(err, engine.CodeVersionConflict):
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if ok != 4 {
				t.Fatalf("expected 4 issues of 0.5 against 2, got %d", ok)
			}

			got, err := env.Engine.Repo.GetIssueOrder(env.Ctx, order.ID)
			if err != nil {
				t.Fatalf("reload: %v", err)
			}
			item, _ := got.Item(steel.ID)
			if !item.IssuedQuantity.Equal(dec("2")) {
				t.Fatalf("issued %s, want 2", item.IssuedQuantity)
			}
			ledger, err := env.Engine.Repo.ListMaterialIssues(env.Ctx, order.ID)
			if err != nil {
				t.Fatalf("ledger: %v", err)
			}
			if len(ledger) != ok {
				t.Fatalf("ledger has %d entries for %d issues", len(ledger), ok)
			}
			if got.Status != domain.IssuePartial {
				t.Fatalf("bolts are still pending, got %s", got.Status)
			}
		})
	}
}
