package calibrate

// Events is the upward surface the GUI subscribes to. Callbacks arrive from
// stage workers and from the monitoring engine; implementations marshal onto
// their own thread, the core never waits on them.
type Events interface {
	OnBucketCompleted(hopper int, success bool, message string)
	OnBucketFailed(hopper int, reason string, stage string)
	OnProgressUpdate(hopper int, attempt int, maxAttempts int, message string)
	OnLogMessage(message string)
	OnStarvationDetected(hopper int, stage string, isProduction bool)
	OnBucketStateChanged(hopper int, state *BucketStageState)
	OnAllCompleted(snapshot map[int]map[string]*BucketStageState)
}

// EventFuncs adapts a partial set of callbacks to Events; nil funcs drop the
// notification.
type EventFuncs struct {
	BucketCompleted    func(hopper int, success bool, message string)
	BucketFailed       func(hopper int, reason string, stage string)
	ProgressUpdate     func(hopper int, attempt int, maxAttempts int, message string)
	LogMessage         func(message string)
	Starvation         func(hopper int, stage string, isProduction bool)
	BucketStateChanged func(hopper int, state *BucketStageState)
	AllCompleted       func(snapshot map[int]map[string]*BucketStageState)
}

func (e *EventFuncs) OnBucketCompleted(hopper int, success bool, message string) {
	if e.BucketCompleted != nil {
		e.BucketCompleted(hopper, success, message)
	}
}

func (e *EventFuncs) OnBucketFailed(hopper int, reason string, stage string) {
	if e.BucketFailed != nil {
		e.BucketFailed(hopper, reason, stage)
	}
}

func (e *EventFuncs) OnProgressUpdate(hopper int, attempt int, maxAttempts int, message string) {
	if e.ProgressUpdate != nil {
		e.ProgressUpdate(hopper, attempt, maxAttempts, message)
	}
}

func (e *EventFuncs) OnLogMessage(message string) {
	if e.LogMessage != nil {
		e.LogMessage(message)
	}
}

func (e *EventFuncs) OnStarvationDetected(hopper int, stage string, isProduction bool) {
	if e.Starvation != nil {
		e.Starvation(hopper, stage, isProduction)
	}
}

func (e *EventFuncs) OnBucketStateChanged(hopper int, state *BucketStageState) {
	if e.BucketStateChanged != nil {
		e.BucketStateChanged(hopper, state)
	}
}

func (e *EventFuncs) OnAllCompleted(snapshot map[int]map[string]*BucketStageState) {
	if e.AllCompleted != nil {
		e.AllCompleted(snapshot)
	}
}
