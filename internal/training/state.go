package training

// Phase is the coarse status of a project's training.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseFetching   Phase = "fetching"
	PhaseProcessing Phase = "processing"
	PhaseCancelling Phase = "cancelling"
)

// State is the observable training state of one project.
type State struct {
	Phase Phase `json:"phase"`

	// Source is the label of the source most recently worked on
	Source string `json:"source,omitempty"`

	// Processed counts documents handled so far in this run
	Processed int `json:"processed"`

	// Total is the number of sources in this run
	Total int `json:"total"`

	// Errors counts sources that failed in this run
	Errors int `json:"errors"`
}

// Active reports whether a run is in flight.
func (s State) Active() bool {
	return s.Phase != "" && s.Phase != PhaseIdle
}

// Idle is the state of a project with no run in flight.
var Idle = State{Phase: PhaseIdle}

// Summary is the outcome of a training run.
type Summary struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Sources   int    `json:"sources"`
	Failed    int    `json:"failed"`
	Processed int    `json:"processed"`
	Updated   int    `json:"updated"`
	Deleted   int    `json:"deleted"`
}
