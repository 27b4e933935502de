package rollout

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fly-io/clusterops/pkg/remote"
)

// Failure is one failed host operation of a phase.
type Failure struct {
	Phase  Phase
	Result remote.Result
}

func (f Failure) String() string {
	return fmt.Sprintf("[%s] %s", f.Phase, f.Result)
}

// Report accumulates failed host operations. Successes are not kept.
// It is safe for concurrent use.
type Report struct {
	mu       sync.Mutex
	hosts    int
	failures []Failure
}

func newReport(hosts int) *Report {
	return &Report{hosts: hosts}
}

func (r *Report) add(phase Phase, res remote.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, Failure{Phase: phase, Result: res})
}

// Failed reports whether any host operation failed.
func (r *Report) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures) > 0
}

// Failures returns a copy of the recorded failures in append order.
func (r *Report) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Failure, len(r.failures))
	copy(out, r.failures)
	return out
}

// Hosts is the number of hosts the rollout targeted.
func (r *Report) Hosts() int {
	return r.hosts
}

// Summary renders every failure, one per line.
func (r *Report) Summary() string {
	failures := r.Failures()
	if len(failures) == 0 {
		return fmt.Sprintf("rollout to %d hosts succeeded", r.hosts)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "rollout to %d hosts had %d failures:", r.hosts, len(failures))
	for _, f := range failures {
		b.WriteString("\n  ")
		b.WriteString(f.String())
	}
	return b.String()
}

// Err returns nil for a clean rollout and an error carrying the summary
// otherwise.
func (r *Report) Err() error {
	if !r.Failed() {
		return nil
	}
	return fmt.Errorf("%s", r.Summary())
}
