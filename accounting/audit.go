package accounting

import "fmt"

// =============================================================================
// AUDIT LOGGER - Injected collaborator, never required for correctness
// =============================================================================

type Level string

const (
	LevelDebug   Level = "Debug"
	LevelInfo    Level = "Info"
	LevelWarning Level = "Warning"
	LevelError   Level = "Error"
)

// ErrorCode identifies a known, pre-worded audit error.
type ErrorCode int

const (
	CodeGeneric                ErrorCode = 0
	CodeUnknownPolicy          ErrorCode = 1
	CodePaymentInCancelPending ErrorCode = 2
)

// Message returns the fixed wording for a known code.
func (c ErrorCode) Message() string {
	switch c {
	case CodeGeneric:
		return "A problem has occurred."
	case CodeUnknownPolicy:
		return "Policy Accounting was given an unknown policy_id"
	case CodePaymentInCancelPending:
		return "Payment attempt made on a policy in cancel pending"
	default:
		return fmt.Sprintf("Unknown error code: %d", int(c))
	}
}

// AuditLogger records accounting events per policy.
type AuditLogger interface {
	Log(message string, level Level, policyID PolicyID)
	LogKnownError(code ErrorCode, policyID PolicyID)
}

// NopAuditLogger discards everything.
type NopAuditLogger struct{}

func (NopAuditLogger) Log(string, Level, PolicyID)        {}
func (NopAuditLogger) LogKnownError(ErrorCode, PolicyID) {}
