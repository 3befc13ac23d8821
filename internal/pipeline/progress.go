package pipeline

// Stage names one step of split preparation.
type Stage string

const (
	StageLoad            Stage = "load"
	StageProcess         Stage = "process"
	StageValidate        Stage = "validate"
	StagePersist         Stage = "persist"
	StageConstructLoader Stage = "construct-loader"
)

// Stages lists the stages in execution order.
func Stages() []Stage {
	return []Stage{StageLoad, StageProcess, StageValidate, StagePersist, StageConstructLoader}
}

// ProgressCallback is called as stages start and finish.
type ProgressCallback func(event ProgressEvent)

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Type    ProgressEventType
	Stage   Stage
	Split   string
	Message string
	// Count is the number of records (or batches) the stage produced.
	Count int
	Error error
}

// ProgressEventType identifies the type of progress event.
type ProgressEventType int

const (
	EventStageStart ProgressEventType = iota
	EventStageComplete
	EventStageSkipped
	EventError
)

// StageError reports which stage failed.
type StageError struct {
	Stage Stage
	Split string
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + " " + e.Split + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }
