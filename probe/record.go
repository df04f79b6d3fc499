package probe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Crashed is the status sentinel of a probe that got no HTTP response at all
const Crashed = "CRASHED"

// Target is a health-checkable service. Names are unique within a monitor.
type Target struct {
	Name      string `yaml:"name" json:"name"`
	HealthURL string `yaml:"health_url" json:"health_url"`
}

// Status is the outcome of a probe: either a numeric HTTP status code or the
// Crashed sentinel. On the wire it is encoded as a JSON number or the string
// "CRASHED".
type Status struct {
	code    int
	crashed bool
}

// StatusCode returns the Status of a completed HTTP response
func StatusCode(code int) Status {
	return Status{code: code}
}

// CrashedStatus is the Status of a probe that got no response
var CrashedStatus = Status{crashed: true}

// IsCrashed indicates if the probe got no HTTP response
func (st Status) IsCrashed() bool {
	return st.crashed
}

// Code returns the HTTP status code; ok is false for crashed probes
func (st Status) Code() (int, bool) {
	return st.code, !st.crashed
}

func (st Status) String() string {
	if st.crashed {
		return Crashed
	}
	return strconv.Itoa(st.code)
}

// MarshalJSON implements json.Marshaler
func (st Status) MarshalJSON() ([]byte, error) {
	if st.crashed {
		return json.Marshal(Crashed)
	}
	return json.Marshal(st.code)
}

// UnmarshalJSON implements json.Unmarshaler
func (st *Status) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("probe.Status: missing status")
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != Crashed {
			return fmt.Errorf("probe.Status: unknown status %q", s)
		}
		*st = CrashedStatus
		return nil
	}
	var code int
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("probe.Status: %w", err)
	}
	*st = StatusCode(code)
	return nil
}

// Record is one probe outcome as appended to the probe log. LatencyMs is nil
// for crashed probes.
type Record struct {
	Service      string          `json:"service"`
	URL          string          `json:"url"`
	Timestamp    time.Time       `json:"timestamp"`
	Status       Status          `json:"status_code"`
	ResponseBody json.RawMessage `json:"response_body"`
	LatencyMs    *int64          `json:"latency_ms"`
}

// Body returns the response body as a Go value: the decoded JSON document, or
// the raw text / error message as a string.
func (r Record) Body() interface{} {
	if len(r.ResponseBody) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(r.ResponseBody, &v); err != nil {
		return string(r.ResponseBody)
	}
	return v
}

// encodeBody keeps a JSON body as a compact document and turns anything else
// into a JSON string, so a record always fits on one line.
func encodeBody(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return buf.Bytes()
		}
	}
	return encodeText(string(body))
}

func encodeText(text string) json.RawMessage {
	// marshaling a string cannot fail
	b, _ := json.Marshal(text)
	return b
}
