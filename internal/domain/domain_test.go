package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func line(required, issued int64) MaterialLine {
	return MaterialLine{RequiredQuantity: decimal.NewFromInt(required), IssuedQuantity: decimal.NewFromInt(issued)}
}

func TestDeriveIssueStatus(t *testing.T) {
	cases := []struct {
		name  string
		items []MaterialLine
		want  IssueStatus
	}{
		{"all issued", []MaterialLine{line(4, 4), line(2, 2)}, IssueCompleted},
		{"one line open", []MaterialLine{line(4, 4), line(3, 0)}, IssuePartial},
		{"nothing issued", []MaterialLine{line(5, 0), line(3, 0)}, IssuePending},
		{"partly issued line", []MaterialLine{line(5, 1), line(3, 0)}, IssuePartial},
		{"empty order", nil, IssueCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveIssueStatus(tc.items); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestPendingQuantityClamped(t *testing.T) {
	mo := ManufacturingOrder{Quantity: decimal.NewFromInt(10), ScheduledQuantity: decimal.NewFromInt(12)}
	if !mo.PendingQuantity().IsZero() {
		t.Fatalf("expected zero pending, got %s", mo.PendingQuantity())
	}
	mo.ScheduledQuantity = decimal.RequireFromString("2.5")
	if !mo.PendingQuantity().Equal(decimal.RequireFromString("7.5")) {
		t.Fatalf("expected 7.5 pending, got %s", mo.PendingQuantity())
	}
}

func TestWOStatusOpen(t *testing.T) {
	open := map[WOStatus]bool{WODraft: true, WOScheduled: true, WOInProgress: true, WOPaused: true}
	for _, s := range WOStatuses {
		if s.Open() != open[s] {
			t.Fatalf("%s open=%v", s, s.Open())
		}
		if s.Terminal() == open[s] {
			t.Fatalf("%s terminal=%v", s, s.Terminal())
		}
	}
}
