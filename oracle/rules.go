package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/autoops/go-autoheal/probe"
)

// RuleOracle answers with the same rules the model is instructed with,
// without calling any model: a service whose latest record is CRASHED, or that
// is still failing after returning non-200 statuses more than once in the
// window, is restarted. It is used when no model is configured.
type RuleOracle struct{}

type serviceWindow struct {
	name      string
	crashes   int
	non200    int
	lastCrash bool
	lastOK    bool
}

type ruleAnswer struct {
	Action      Action `json:"action"`
	ServiceName string `json:"service_name,omitempty"`
	Reason      string `json:"reason"`
}

// Complete reads the probe records embedded in prompt and answers with a JSON
// decision. Lines that are not probe records are ignored.
func (RuleOracle) Complete(ctx context.Context, _, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var order []*serviceWindow
	byName := make(map[string]*serviceWindow)
	for _, line := range strings.Split(strings.TrimPrefix(prompt, promptHeader), "\n") {
		var rec probe.Record
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &rec); err != nil || rec.Service == "" {
			continue
		}
		w, ok := byName[rec.Service]
		if !ok {
			w = &serviceWindow{name: rec.Service}
			byName[rec.Service] = w
			order = append(order, w)
		}
		code, _ := rec.Status.Code()
		w.lastCrash = rec.Status.IsCrashed()
		w.lastOK = !w.lastCrash && code == 200
		switch {
		case w.lastCrash:
			w.crashes++
		case !w.lastOK:
			w.non200++
		}
	}

	ans := ruleAnswer{Action: ActionNone, Reason: "All services are operating normally."}
	for _, w := range order {
		if w.lastCrash {
			ans = ruleAnswer{
				Action:      ActionRestart,
				ServiceName: w.name,
				Reason:      fmt.Sprintf("Service %s is unresponsive with %d CRASHED logs.", w.name, w.crashes),
			}
			break
		}
		if !w.lastOK && w.non200 > 1 {
			ans = ruleAnswer{
				Action:      ActionRestart,
				ServiceName: w.name,
				Reason:      fmt.Sprintf("Service %s returned a non-200 status %d times.", w.name, w.non200),
			}
			break
		}
	}

	b, err := json.Marshal(ans)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
