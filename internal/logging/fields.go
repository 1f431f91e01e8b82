package logging

// Common structured log field keys to keep logs searchable/consistent.
const (
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDurationMS = "duration_ms"
	FieldUserID     = "user_id"
	FieldMatchID    = "match_id"
	FieldOperation  = "operation"
	FieldAttempt    = "attempt"
	FieldReason     = "reason"
	FieldStake      = "stake"
	FieldStatus     = "status"
	FieldVersion    = "version"
	FieldCount      = "count"
	FieldEvent      = "event"
)
