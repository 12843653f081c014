package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Configuration errors ---

// Config creates a new AppError for a malformed or ambiguous pipeline configuration.
func Config(format string, args ...any) *AppError {
	return &AppError{
		Code: ErrCodeConfig, Message: fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusUnprocessableEntity, Retryable: false,
	}
}

// CyclicPipeline creates a new AppError for a connection graph that contains a cycle.
func CyclicPipeline(stages []int) *AppError {
	return &AppError{
		Code: ErrCodeCyclicPipeline, Message: fmt.Sprintf("stage connections form a cycle through stages %v", stages),
		HTTPStatus: http.StatusUnprocessableEntity, Retryable: false,
		Details: map[string]any{"stages": stages},
	}
}

// EmptyStageList creates a new AppError for an executor built without stages.
func EmptyStageList() *AppError {
	return &AppError{
		Code: ErrCodeEmptyStageList, Message: "The stage module list is empty.",
		HTTPStatus: http.StatusUnprocessableEntity, Retryable: false,
	}
}

// ArtifactLoad creates a new AppError for a stage that could not be loaded from disk.
func ArtifactLoad(stage int, artifact string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeArtifactLoad, Message: fmt.Sprintf("Unable to load %s for stage %d.", artifact, stage),
		HTTPStatus: http.StatusUnprocessableEntity, Retryable: false,
		Details: map[string]any{"stage": stage, "artifact": artifact}, Cause: cause,
	}
}

// --- Caller errors ---

// InvalidPort creates a new AppError for a port name the stage does not declare.
func InvalidPort(stage int, port string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidPort, Message: fmt.Sprintf("Stage %d has no port %q.", stage, port),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
		Details: map[string]any{"stage": stage, "port": port},
	}
}

// OutputNotReady creates a new AppError for an output read before a successful run.
func OutputNotReady(stage int, port string) *AppError {
	return &AppError{
		Code: ErrCodeOutputNotReady, Message: fmt.Sprintf("Output %q of stage %d is not ready.", port, stage),
		HTTPStatus: http.StatusConflict, Retryable: true,
		Details: map[string]any{"stage": stage, "port": port},
	}
}

// UnknownInput creates a new AppError for an external input name that is not mapped.
func UnknownInput(name string) *AppError {
	return &AppError{
		Code: ErrCodeUnknownInput, Message: fmt.Sprintf("Unknown pipeline input %q.", name),
		HTTPStatus: http.StatusNotFound, Retryable: false,
		Details: map[string]any{"input": name},
	}
}

// UnknownParamGroup creates a new AppError for a parameter group that is not mapped.
func UnknownParamGroup(name string) *AppError {
	return &AppError{
		Code: ErrCodeUnknownParamGroup, Message: fmt.Sprintf("Unknown parameter group %q.", name),
		HTTPStatus: http.StatusNotFound, Retryable: false,
		Details: map[string]any{"group": name},
	}
}

// UnknownOutput creates a new AppError for a pipeline output name that is not declared.
func UnknownOutput(name string) *AppError {
	return &AppError{
		Code: ErrCodeUnknownOutput, Message: fmt.Sprintf("Unknown pipeline output %q.", name),
		HTTPStatus: http.StatusNotFound, Retryable: false,
		Details: map[string]any{"output": name},
	}
}

// MissingInput creates a new AppError for a push that leaves required inputs without a value.
func MissingInput(names []string) *AppError {
	return &AppError{
		Code: ErrCodeMissingInput, Message: fmt.Sprintf("Missing values for pipeline inputs %v.", names),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
		Details: map[string]any{"inputs": names},
	}
}

// UnknownItem creates a new AppError for an item id with no in-flight state or result.
func UnknownItem(id uint64) *AppError {
	return &AppError{
		Code: ErrCodeUnknownItem, Message: fmt.Sprintf("Item %d is not known to the pipeline.", id),
		HTTPStatus: http.StatusNotFound, Retryable: false,
		Details: map[string]any{"item_id": id},
	}
}

// InvalidRequest creates a new AppError for a request the outer surfaces cannot decode.
func InvalidRequest(format string, args ...any) *AppError {
	return &AppError{
		Code: ErrCodeInvalidRequest, Message: fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// --- Execution errors ---

// Execution creates a new AppError for a stage module that failed while running.
func Execution(stage int, cause error) *AppError {
	return &AppError{
		Code: ErrCodeExecution, Message: fmt.Sprintf("Stage %d failed to run.", stage),
		HTTPStatus: http.StatusInternalServerError, Retryable: false,
		Details: map[string]any{"stage": stage}, Cause: cause,
	}
}

// ParameterLoad creates a new AppError for a parameter blob the stage rejected.
func ParameterLoad(stage int, cause error) *AppError {
	return &AppError{
		Code: ErrCodeParameterLoad, Message: fmt.Sprintf("Stage %d rejected its parameters.", stage),
		HTTPStatus: http.StatusUnprocessableEntity, Retryable: false,
		Details: map[string]any{"stage": stage}, Cause: cause,
	}
}

// ItemFailed creates a new AppError for an item whose stage failed.
func ItemFailed(item uint64, stage int, cause error) *AppError {
	return &AppError{
		Code: ErrCodeItemFailed, Message: fmt.Sprintf("Item %d failed at stage %d.", item, stage),
		HTTPStatus: http.StatusInternalServerError, Retryable: false,
		Details: map[string]any{"item_id": item, "stage": stage}, Cause: cause,
	}
}

// --- Availability errors ---

// PipelineBusy creates a new AppError for a push rejected by the in-flight limit.
func PipelineBusy(limit int) *AppError {
	return &AppError{
		Code: ErrCodePipelineBusy, Message: "Too many items in flight. Please try again.",
		HTTPStatus: http.StatusTooManyRequests, Retryable: true,
		Details: map[string]any{"max_in_flight": limit},
	}
}

// PipelineClosed creates a new AppError for operations on a stopped pipeline.
func PipelineClosed() *AppError {
	return &AppError{
		Code: ErrCodePipelineClosed, Message: "The pipeline is not running.",
		HTTPStatus: http.StatusServiceUnavailable, Retryable: false,
	}
}

// Internal creates a new AppError for an internal error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}

// Wrap returns err as an *AppError. AppErrors anywhere in the chain are
// returned as is; any other error becomes an internal error.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	return Internal(err)
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// IsConfigError reports whether err was raised while building a pipeline.
func IsConfigError(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && IsConfigCode(appErr.Code)
}
