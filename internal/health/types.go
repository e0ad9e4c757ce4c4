package health

import (
	"context"
	"encoding/json"
	"time"

	"tokensend/internal/perf"
	"tokensend/internal/upstream"
)

// Severity of an alert
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rule is a named predicate over a performance snapshot.
// Check returns true and a human readable message while the rule is firing.
type Rule struct {
	Name     string
	Severity Severity
	Check    func(s perf.Snapshot) (bool, string)
}

// State of an alert notification
type State string

const (
	StateFiring   State = "firing"
	StateResolved State = "resolved"
)

// Alert is sent to notifiers when a rule starts or stops firing
type Alert struct {
	Rule     string    `json:"rule"`
	Severity Severity  `json:"severity"`
	State    State     `json:"state"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Notifier delivers alerts
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Source provides the snapshot rules are evaluated against
type Source interface {
	Snapshot() perf.Snapshot
}

// Endpoint is a directly probed upstream
type Endpoint interface {
	Name() string
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	Status() *upstream.Status
}

// ProbeResult is the outcome of one endpoint probe
type ProbeResult struct {
	Endpoint string        `json:"endpoint"`
	Block    uint64        `json:"block"`
	Latency  time.Duration `json:"latency"`
	Err      error         `json:"-"`
}

// Healthy returns true if the probe succeeded
func (r ProbeResult) Healthy() bool {
	return r.Err == nil
}
