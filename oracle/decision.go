package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Action is what the healer is asked to do
type Action string

const (
	// ActionNone leaves every service alone
	ActionNone Action = "none"
	// ActionRestart restarts the service named in the decision
	ActionRestart Action = "restart"
)

// Decision is the corrective action chosen for a window of probe records. It
// is appended as is to the decision log.
type Decision struct {
	Action      Action    `json:"action"`
	ServiceName string    `json:"service_name,omitempty"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// IsRestart reports whether the decision restarts a named service
func (d Decision) IsRestart() bool {
	return d.Action == ActionRestart && d.ServiceName != ""
}

// failedPrefix starts the reason of every degraded decision
const failedPrefix = "AI analysis failed: "

// Failed is the decision used whenever the oracle could not produce a usable
// answer: no action, with the cause in the reason.
func Failed(err error) Decision {
	return Decision{Action: ActionNone, Reason: failedPrefix + err.Error()}
}

// IsFailed reports whether d was produced by Failed
func (d Decision) IsFailed() bool {
	return d.Action == ActionNone && strings.HasPrefix(d.Reason, failedPrefix)
}

var (
	// ErrNotJSON is returned when the answer is not a single JSON object
	ErrNotJSON = errors.New("answer is not a single JSON object")
	// ErrUnknownAction is returned for actions other than none and restart
	ErrUnknownAction = errors.New("unknown action")
	// ErrMissingService is returned for a restart without a service name
	ErrMissingService = errors.New("restart without service_name")
)

type answer struct {
	Action      *Action `json:"action"`
	ServiceName string  `json:"service_name"`
	Reason      string  `json:"reason"`
}

// ParseDecision decodes an oracle answer. The answer must be exactly one JSON
// object, optionally surrounded by whitespace, with a known action.
func ParseDecision(text string) (Decision, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(text)))

	var ans answer
	if err := dec.Decode(&ans); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Decision{}, fmt.Errorf("%w: trailing data after object", ErrNotJSON)
	}
	if ans.Action == nil {
		return Decision{}, fmt.Errorf("%w: missing action", ErrUnknownAction)
	}

	d := Decision{Action: *ans.Action, ServiceName: ans.ServiceName, Reason: ans.Reason}
	switch d.Action {
	case ActionNone:
		d.ServiceName = ""
	case ActionRestart:
		if d.ServiceName == "" {
			return Decision{}, ErrMissingService
		}
	default:
		return Decision{}, fmt.Errorf("%w %q", ErrUnknownAction, d.Action)
	}
	return d, nil
}
