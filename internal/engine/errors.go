package engine

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeInvalidQuantity    Code = "INVALID_QUANTITY"
	CodeInvalidAssignment  Code = "INVALID_ASSIGNMENT"
	CodeInvalidPlan        Code = "INVALID_PLAN"
	CodeScheduleIncomplete Code = "SCHEDULE_INCOMPLETE"
	CodeInvalidInput       Code = "INVALID_INPUT"

	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeMONotConfirmed     Code = "MO_NOT_CONFIRMED"
	CodeNotSubcontractable Code = "NOT_SUBCONTRACTABLE"
	CodeWorkOrderClosed    Code = "WORK_ORDER_CLOSED"
	CodeSequenceExhausted  Code = "SEQUENCE_EXHAUSTED"
	CodeVersionConflict    Code = "VERSION_CONFLICT"

	CodeQuantityExceedsPending Code = "QUANTITY_EXCEEDS_PENDING"
	CodeOverIssue              Code = "OVER_ISSUE"

	CodeRoutingNotFound    Code = "ROUTING_NOT_FOUND"
	CodeBOMNotFound        Code = "BOM_NOT_FOUND"
	CodeBOMInvalid         Code = "BOM_INVALID"
	CodeWorkCenterNotFound Code = "WORKCENTER_NOT_FOUND"
	CodeMONotFound         Code = "MO_NOT_FOUND"
	CodeWorkOrderNotFound  Code = "WORK_ORDER_NOT_FOUND"
	CodeIssueOrderNotFound Code = "ISSUE_ORDER_NOT_FOUND"
	CodeItemNotFound       Code = "ITEM_NOT_FOUND"
)

type Category string

const (
	CategoryValidation Category = "validation"
	CategoryState      Category = "state"
	CategoryCapacity   Category = "capacity"
	CategoryReference  Category = "reference"
)

func (c Code) Category() Category {
	switch c {
	case CodeInvalidTransition, CodeMONotConfirmed, CodeNotSubcontractable, CodeWorkOrderClosed,
		CodeSequenceExhausted, CodeVersionConflict:
		return CategoryState
	case CodeQuantityExceedsPending, CodeOverIssue:
		return CategoryCapacity
	case CodeRoutingNotFound, CodeBOMNotFound, CodeBOMInvalid, CodeWorkCenterNotFound,
		CodeMONotFound, CodeWorkOrderNotFound, CodeIssueOrderNotFound, CodeItemNotFound:
		return CategoryReference
	default:
		return CategoryValidation
	}
}

// Error is the structured failure returned by every engine operation.
// errors.Is matches two Errors by Code alone.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) with(key string, val any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = val
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}
