package log

// ServiceName is attached to every log line.
const ServiceName = "firechat"

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Widget
	FieldSessionID = "session_id"
	FieldUserName  = "user_name"
	FieldMessageID = "message_id"
	FieldOp        = "op"
	FieldChange    = "change"

	// Service
	FieldService = "service"
	FieldStore   = "store"
)
