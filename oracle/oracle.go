// Package oracle turns a window of probe records into a corrective Decision by
// asking an external model. The Adapter never fails: whatever goes wrong with
// the model, the caller gets a "none" decision explaining why.
package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single oracle call
const DefaultTimeout = 30 * time.Second

// SystemPrompt is the fixed instruction framing sent with every request
const SystemPrompt = `You are an expert AI Site Reliability Engineer named "AutoOps". Your task is to analyze server logs and decide on a corrective action.
- A service is considered 'unhealthy' if it has a status_code other than 200 multiple times.
- A service is 'crashed' if its status_code is 'CRASHED'.
- If a service is crashed or consistently unhealthy, you must issue a 'restart' command.
- ONLY respond with a single, valid JSON object and nothing else.

If a restart is needed, respond in this format:
{"action": "restart", "service_name": "payment", "reason": "Service is unresponsive with multiple CRASHED logs."}

If everything is okay, respond with:
{"action": "none", "reason": "All services are operating normally."}`

const promptHeader = "Analyze these recent logs and provide a corrective action JSON:\n\n"

// Prompt builds the user message for a block of log lines
func Prompt(logText string) string {
	return promptHeader + logText
}

// Oracle is an opaque text completion model
type Oracle interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Func adapts a plain function into an Oracle
type Func func(ctx context.Context, system, prompt string) (string, error)

// Complete calls f
func (f Func) Complete(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

// AdapterOpt configures an Adapter
type AdapterOpt func(*Adapter)

// WithTimeout sets the deadline of each oracle call; zero disables it
func WithTimeout(d time.Duration) AdapterOpt {
	return func(a *Adapter) {
		a.timeout = d
	}
}

// WithLogger sets the logger used to report degraded decisions
func WithLogger(log *logrus.Entry) AdapterOpt {
	return func(a *Adapter) {
		a.log = log
	}
}

// Adapter asks an Oracle for a decision and validates the answer
type Adapter struct {
	oracle  Oracle
	timeout time.Duration
	log     *logrus.Entry
}

// NewAdapter wraps the given oracle. It panics if oracle is nil.
func NewAdapter(oracle Oracle, opts ...AdapterOpt) *Adapter {
	if oracle == nil {
		panic("oracle.NewAdapter: nil oracle")
	}
	a := &Adapter{
		oracle:  oracle,
		timeout: DefaultTimeout,
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, optFn := range opts {
		optFn(a)
	}
	return a
}

type completion struct {
	text string
	err  error
}

// Decide returns the oracle decision for logText. Errors, timeouts, panics and
// answers that are not a valid decision all yield a Failed decision.
func (a *Adapter) Decide(ctx context.Context, logText string) Decision {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	// an oracle that ignores ctx must not hold the healer past the deadline
	resultCh := make(chan completion, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- completion{err: fmt.Errorf("oracle panic: %v", r)}
			}
		}()
		text, err := a.oracle.Complete(ctx, SystemPrompt, Prompt(logText))
		resultCh <- completion{text: text, err: err}
	}()

	var res completion
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		res = completion{err: fmt.Errorf("oracle unavailable: %w", ctx.Err())}
	}

	if res.err != nil {
		a.log.WithError(res.err).Warn("oracle call failed")
		return Failed(res.err)
	}

	d, err := ParseDecision(res.text)
	if err != nil {
		a.log.WithError(err).WithField("answer", res.text).Warn("oracle answer rejected")
		return Failed(err)
	}
	return d
}
