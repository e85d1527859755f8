package domain

// DeriveIssueStatus computes a material issue order's status from its lines.
// All lines fully issued is completed, any quantity issued is partial, otherwise pending.
// An order with no lines has nothing left to issue and is completed.
func DeriveIssueStatus(items []MaterialLine) IssueStatus {
	allDone := true
	anyIssued := false
	for _, it := range items {
		if it.PendingQuantity().IsPositive() {
			allDone = false
		}
		if it.IssuedQuantity.IsPositive() {
			anyIssued = true
		}
	}
	switch {
	case allDone:
		return IssueCompleted
	case anyIssued:
		return IssuePartial
	default:
		return IssuePending
	}
}
