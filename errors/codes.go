package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Configuration errors. Fatal at initialization; the pipeline never starts.
const (
	// ErrCodeConfig indicates a malformed or ambiguous pipeline configuration.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"
	// ErrCodeCyclicPipeline indicates the stage connection graph has a cycle.
	ErrCodeCyclicPipeline ErrorCode = "CYCLIC_PIPELINE"
	// ErrCodeEmptyStageList indicates the executor was built without stages.
	ErrCodeEmptyStageList ErrorCode = "EMPTY_STAGE_LIST"
	// ErrCodeArtifactLoad indicates a stage could not be loaded from its artifacts.
	ErrCodeArtifactLoad ErrorCode = "ARTIFACT_LOAD_FAILURE"
)

// Caller errors. Reported synchronously; the pipeline continues.
const (
	// ErrCodeInvalidPort indicates a port name unknown to the stage.
	ErrCodeInvalidPort ErrorCode = "INVALID_PORT"
	// ErrCodeOutputNotReady indicates an output was read before a successful run.
	ErrCodeOutputNotReady ErrorCode = "OUTPUT_NOT_READY"
	// ErrCodeUnknownInput indicates an external input name absent from the input map.
	ErrCodeUnknownInput ErrorCode = "UNKNOWN_INPUT"
	// ErrCodeUnknownParamGroup indicates a parameter group absent from the param map.
	ErrCodeUnknownParamGroup ErrorCode = "UNKNOWN_PARAM_GROUP"
	// ErrCodeUnknownOutput indicates a pipeline output name that is not declared.
	ErrCodeUnknownOutput ErrorCode = "UNKNOWN_OUTPUT"
	// ErrCodeMissingInput indicates an item was pushed without a value for a required input.
	ErrCodeMissingInput ErrorCode = "MISSING_INPUT"
	// ErrCodeUnknownItem indicates an item id that is not in flight and has no result.
	ErrCodeUnknownItem ErrorCode = "UNKNOWN_ITEM"
	// ErrCodeInvalidRequest indicates a malformed request at the HTTP or CLI surface.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
)

// Execution errors.
const (
	// ErrCodeExecution indicates a stage module reported an error while running.
	ErrCodeExecution ErrorCode = "EXECUTION_FAILURE"
	// ErrCodeParameterLoad indicates a parameter blob was malformed or mismatched.
	ErrCodeParameterLoad ErrorCode = "PARAMETER_LOAD_FAILURE"
	// ErrCodeItemFailed indicates an item resolved without outputs because a stage failed.
	ErrCodeItemFailed ErrorCode = "ITEM_FAILED"
)

// Availability errors.
const (
	// ErrCodePipelineBusy indicates the in-flight item limit was reached.
	ErrCodePipelineBusy ErrorCode = "PIPELINE_BUSY"
	// ErrCodePipelineClosed indicates the pipeline was stopped.
	ErrCodePipelineClosed ErrorCode = "PIPELINE_CLOSED"
	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodePipelineBusy:   true,
	ErrCodeOutputNotReady: true,
	ErrCodeInternal:       false,
}

var configCodes = map[ErrorCode]bool{
	ErrCodeConfig:         true,
	ErrCodeCyclicPipeline: true,
	ErrCodeEmptyStageList: true,
	ErrCodeArtifactLoad:   true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}

// IsConfigCode returns true for codes raised while building a pipeline.
func IsConfigCode(code ErrorCode) bool {
	return configCodes[code]
}
