package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/atriumhq/atrium/pkg/agent"
	"github.com/atriumhq/atrium/pkg/registry"
	"github.com/atriumhq/atrium/pkg/task"
	"github.com/atriumhq/atrium/pkg/tool/mcp"
)

// Codes minted by the HTTP layer itself. Domain packages carry their own.
const (
	codeValidationError = "VALIDATION_ERROR"
	codeMCPConnection   = "MCP_CONNECTION_ERROR"
	codeAgentExecution  = "AGENT_EXECUTION_ERROR"
	codeInternalError   = "INTERNAL_ERROR"
)

// errStreamFailed marks a streamed turn that ended on an error chunk for
// the metrics recorder.
var errStreamFailed = errors.New("stream failed")

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	TraceID   string `json:"traceId,omitempty"`
	Timestamp string `json:"timestamp"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// validationError rejects a malformed request with a 400.
type validationError struct {
	message string
}

func (e *validationError) Error() string { return e.message }

func badRequest(format string, args ...any) error {
	return &validationError{message: fmt.Sprintf(format, args...)}
}

// classify maps an error to its HTTP status, envelope code, message, and
// optional details. The MCP check runs before the execution check because
// a turn that died on an unreachable tool source is reported as the
// connection failure.
func classify(err error) (int, string, string, string) {
	var valErr *validationError
	var regErr *registry.Error
	var taskErr *task.TaskError
	var connErr *mcp.ConnectionError
	var execErr *agent.ExecutionError

	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest, codeValidationError, valErr.message, ""

	case errors.As(err, &regErr):
		status := http.StatusInternalServerError
		if regErr.Code == registry.CodeAgentNotFound {
			status = http.StatusNotFound
		}
		details := ""
		if regErr.Err != nil {
			details = regErr.Err.Error()
		}
		return status, regErr.Code, regErr.Message, details

	case errors.As(err, &taskErr):
		status := http.StatusInternalServerError
		if errors.Is(err, task.ErrNotFound) {
			status = http.StatusNotFound
		}
		return status, taskErr.Code, taskErr.Message, ""

	case errors.As(err, &connErr):
		return http.StatusServiceUnavailable, codeMCPConnection, connErr.Error(), ""

	case errors.As(err, &execErr):
		return http.StatusInternalServerError, codeAgentExecution, execErr.Error(), ""

	default:
		return http.StatusInternalServerError, codeInternalError, err.Error(), ""
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := classify(err)

	if status >= 500 {
		slog.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"code", code,
			"error", err,
			"traceId", TraceID(r.Context()),
		)
	}

	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:      code,
		Message:   message,
		Details:   details,
		TraceID:   TraceID(r.Context()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
