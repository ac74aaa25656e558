package domain

type PipelineState string

const (
	PipelineIdle    PipelineState = "idle"
	PipelineLoading PipelineState = "loading"
	PipelineSuccess PipelineState = "success"
	PipelineFailed  PipelineState = "failed"
)

type PipelineStatus struct {
	State PipelineState  `json:"state"`
	Count int            `json:"count,omitempty"`
	Err   *PipelineError `json:"error,omitempty"`
}

func IdleStatus() PipelineStatus    { return PipelineStatus{State: PipelineIdle} }
func LoadingStatus() PipelineStatus { return PipelineStatus{State: PipelineLoading} }

func SuccessStatus(count int) PipelineStatus {
	return PipelineStatus{State: PipelineSuccess, Count: count}
}

func FailedStatus(err PipelineError) PipelineStatus {
	return PipelineStatus{State: PipelineFailed, Err: &err}
}

func (s PipelineStatus) Terminal() bool {
	return s.State == PipelineSuccess || s.State == PipelineFailed
}
