package metrics

import "time"

// ResultLabel enumerates operation outcomes for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultFatal    ResultLabel = "fatal"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for resource updates, sidecar
// supervision and the bootstrap state machine.
type Recorder interface {
	ObserveResourceUpdate(kind string, d time.Duration, result ResultLabel)
	ObserveReadinessPoll(attempts int, d time.Duration, result ResultLabel)
	IncHeartbeat(result ResultLabel)
	SetSupervisorStatus(status string)
	IncStateTransition(state string)
	IncInitResult(result ResultLabel)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveResourceUpdate(string, time.Duration, ResultLabel) {}
func (NoopRecorder) ObserveReadinessPoll(int, time.Duration, ResultLabel)     {}
func (NoopRecorder) IncHeartbeat(ResultLabel)                                 {}
func (NoopRecorder) SetSupervisorStatus(string)                               {}
func (NoopRecorder) IncStateTransition(string)                                {}
func (NoopRecorder) IncInitResult(ResultLabel)                                {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}

// ResultFor maps an operation error to a result label.
func ResultFor(err error) ResultLabel {
	if err == nil {
		return ResultSuccess
	}
	return ResultFailed
}
