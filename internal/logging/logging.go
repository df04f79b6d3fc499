// Package logging builds the logrus logger shared by every component.
package logging

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/autoops/go-autoheal/internal/s"
)

// Format names accepted by New
const (
	FormatJSON = "json"
	FormatText = "text"
)

// New returns a logger writing to out with the given level and format
func New(out io.Writer, level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	log.Out = out

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging.New: %w", err)
	}
	log.Level = lvl

	switch format {
	case FormatJSON, "":
		log.SetFormatter(&logrus.JSONFormatter{})
	case FormatText:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("logging.New: unknown format %q", format)
	}
	return log, nil
}

// Component returns an entry tagged with the component name
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}

// NewEventNotifier logs supervision events. Failures are logged as errors
// with the metadata of errors that provide it; everything else is debug.
func NewEventNotifier(log *logrus.Entry) s.EventNotifier {
	return func(ev s.Event) {
		ll := log.WithFields(logrus.Fields{
			"process_runtime_name": ev.GetProcessRuntimeName(),
			"node_type":            ev.GetNodeTag().String(),
			"created_at":           ev.GetCreated(),
		})
		err := ev.Err()
		if err == nil {
			ll.Debug(ev.GetTag().String())
			return
		}
		var kvErr s.ErrKVs
		if errors.As(err, &kvErr) {
			ll = ll.WithFields(logrus.Fields(kvErr.KVs()))
		}
		ll.WithError(err).Error(ev.GetTag().String())
	}
}
