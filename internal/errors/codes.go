package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"

	// Configuration errors
	ErrInvalidConfig ErrorCode = "invalid_configuration"
	ErrMissingConfig ErrorCode = "missing_configuration"
	ErrBindFlags     ErrorCode = "bind_flags_failed"
	ErrReadConfig    ErrorCode = "read_config_failed"
	ErrInvalidMode   ErrorCode = "invalid_mode"

	// Initialization errors
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Acquisition errors
	ErrTransportOpen    ErrorCode = "transport_open_failed"
	ErrTransportRuntime ErrorCode = "transport_runtime_failed"
	ErrParse            ErrorCode = "payload_parse_failed"
	ErrRequest          ErrorCode = "request_failed"

	// Operation errors
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"

	// Recorder errors
	ErrInitRecorder  ErrorCode = "init_recorder_failed"
	ErrRecordSample  ErrorCode = "record_sample_failed"
	ErrCloseRecorder ErrorCode = "close_recorder_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrInvalidConfig:    "Invalid configuration",
	ErrMissingConfig:    "Missing configuration",
	ErrBindFlags:        "Failed to bind flags",
	ErrReadConfig:       "Failed to read config file",
	ErrInvalidMode:      "Invalid acquisition mode",
	ErrShutdownFailed:   "Shutdown failed",
	ErrAlreadyRunning:   "Another instance is already running",
	ErrTransportOpen:    "Failed to open transport",
	ErrTransportRuntime: "Transport error",
	ErrParse:            "Failed to parse payload",
	ErrRequest:          "Request failed",
	ErrTimeout:          "Operation timed out",
	ErrInvalidOperation: "Invalid operation",
	ErrInitRecorder:     "Failed to initialize recorder",
	ErrRecordSample:     "Failed to record sample",
	ErrCloseRecorder:    "Failed to close recorder",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
