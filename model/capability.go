// Package model keeps the ordered set of configured plan providers and
// their health. Operations can prefer a different provider order than the
// default, and providers whose circuit is open are skipped as alternates.
package model

// Operation is a provider-backed planning operation.
type Operation string

const (
	// OperationGenerate turns a goal into a new plan.
	OperationGenerate Operation = "generate"

	// OperationRefine revises the active plan from feedback.
	OperationRefine Operation = "refine"

	// OperationCritique reviews the active plan.
	OperationCritique Operation = "critique"
)

// IsValid checks if an operation string is a known operation.
func (o Operation) IsValid() bool {
	switch o {
	case OperationGenerate, OperationRefine, OperationCritique:
		return true
	}
	return false
}

// String returns the string representation of the operation.
func (o Operation) String() string {
	return string(o)
}

// ParseOperation converts a string to an Operation, returning empty for invalid values.
func ParseOperation(s string) Operation {
	op := Operation(s)
	if op.IsValid() {
		return op
	}
	return ""
}
