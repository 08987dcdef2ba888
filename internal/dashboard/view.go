package dashboard

import (
	"fmt"

	"github.com/hpungsan/quarry/internal/training"
)

// Variant selects the dashboard flavor a session renders.
type Variant int

const (
	VariantDashboard Variant = iota
	VariantOnboarding
)

func (v Variant) String() string {
	if v == VariantOnboarding {
		return "onboarding"
	}
	return "dashboard"
}

// Phase is the workflow state of a project as seen by the dashboard.
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseNoSources
	PhaseSourcesConnectedUntrained
	PhaseTraining
	PhaseTrained
)

var phaseNames = map[Phase]string{
	PhaseLoading:                   "loading",
	PhaseNoSources:                 "no_sources",
	PhaseSourcesConnectedUntrained: "sources_connected_untrained",
	PhaseTraining:                  "training",
	PhaseTrained:                   "trained",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText lets phases appear by name in JSON views.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name written by MarshalText.
func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseNames {
		if name == string(text) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// Overlay messages
const (
	MessageConnect           = "Connect one or more sources"
	MessageConnectOnboarding = "Start by connecting one or more sources"
	MessageProcessing        = "Processing sources"
	MessageHitProcess        = "Great! Now hit 'Process sources'"
)

// Toast messages
const (
	ToastTrained           = "Done processing sources."
	ToastTrainedOnboarding = "Done processing sources. You can now ask questions to your content!"
	ToastSourceRemoved     = "The source has been removed."
)

// Observables are the three inputs every view is derived from.
type Observables struct {
	Loading  bool
	Sources  int
	Files    int
	Training training.State
}

// ButtonView is the rendering state of a Button primitive.
type ButtonView struct {
	Variant string `json:"variant"`
	Loading bool   `json:"loading"`
}

// ConnectorView says which connector line, if any, the overlay draws.
type ConnectorView struct {
	Visible bool `json:"visible"`
	TopLeft bool `json:"top_left"`
}

// View is everything the dashboard renders from a set of Observables.
type View struct {
	Phase          Phase  `json:"phase"`
	OverlayVisible bool   `json:"overlay_visible"`
	Message        string `json:"message,omitempty"`
	Spinner        bool   `json:"spinner"`

	// PillOffset is the vertical shift of the message pill in pixels
	PillOffset int `json:"pill_offset"`

	PulseDot      bool          `json:"pulse_dot"`
	Connector     ConnectorView `json:"connector"`
	ProcessButton ButtonView    `json:"process_button"`

	BottomBarVisible      bool   `json:"bottom_bar_visible"`
	StatusLine            string `json:"status_line,omitempty"`
	PlaygroundInteractive bool   `json:"playground_interactive"`
	SettingsEnabled       bool   `json:"settings_enabled"`
}

// Derive computes the view for o. It is a pure function: callers recompute
// it on every change instead of storing any of its fields.
func Derive(o Observables, variant Variant) View {
	hasSources := o.Sources > 0
	trained := o.Files > 0
	isTraining := o.Training.Active()

	v := View{
		Phase:          phaseOf(o),
		OverlayVisible: isTraining || (!o.Loading && (!hasSources || !trained)),
		Spinner:        isTraining,
		PulseDot:       !o.Loading && !hasSources,
		ProcessButton: ButtonView{
			Variant: "glow",
			Loading: isTraining,
		},
		BottomBarVisible:      hasSources,
		PlaygroundInteractive: hasSources && trained,
		SettingsEnabled:       trained,
	}
	if trained {
		v.ProcessButton.Variant = "plain"
	}
	if isTraining {
		v.StatusLine = StatusLine(o.Training)
	}

	if !v.OverlayVisible {
		return v
	}

	switch {
	case !hasSources && variant == VariantOnboarding:
		v.Message = MessageConnectOnboarding
	case !hasSources:
		v.Message = MessageConnect
	case isTraining:
		v.Message = MessageProcessing
	default:
		v.Message = MessageHitProcess
	}

	if hasSources {
		v.PillOffset = 30
	} else {
		v.PillOffset = -30
	}
	if !isTraining {
		v.Connector = ConnectorView{Visible: true, TopLeft: !hasSources}
	}
	return v
}

func phaseOf(o Observables) Phase {
	switch {
	case o.Training.Active():
		return PhaseTraining
	case o.Loading:
		return PhaseLoading
	case o.Sources == 0:
		return PhaseNoSources
	case o.Files == 0:
		return PhaseSourcesConnectedUntrained
	default:
		return PhaseTrained
	}
}

// StatusLine describes an in-flight training run in one line.
func StatusLine(s training.State) string {
	switch s.Phase {
	case training.PhaseFetching:
		if s.Source == "" {
			return "Fetching sources..."
		}
		return fmt.Sprintf("Fetching %s...", s.Source)
	case training.PhaseProcessing:
		line := fmt.Sprintf("Processed %d files", s.Processed)
		if s.Source != "" {
			line += " from " + s.Source
		}
		if s.Errors > 0 {
			line += fmt.Sprintf(" (%d of %d sources failed)", s.Errors, s.Total)
		}
		return line
	case training.PhaseCancelling:
		return "Stopping..."
	}
	return ""
}
