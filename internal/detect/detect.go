// Package detect implements the fraud pattern detectors and the rule sets
// that group them.
//
// Every detector is a pure function of a transaction window and its own
// thresholds. Detectors never share state, so a rule set may run them in
// any order or in parallel. An empty window never produces a finding.
package detect

import (
	"fmt"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/window"
)

const secondsPerDay = 86400

// Detector examines a window for one fraud signature.
// A nil finding with a nil error means the signature is absent.
type Detector interface {
	Type() domain.FlagType
	Detect(w window.Window) (*domain.Finding, error)
}

// DetectorError reports which detector failed during a run.
// It matches domain.ErrDetectorFailure and the underlying cause.
type DetectorError struct {
	Detector domain.FlagType
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s: %v", e.Detector, e.Err)
}

func (e *DetectorError) Unwrap() []error {
	return []error{domain.ErrDetectorFailure, e.Err}
}

func newFinding(t domain.FlagType, severity int, ev domain.Evidence, format string, args ...any) *domain.Finding {
	return &domain.Finding{
		Type:        t,
		Severity:    domain.ClampSeverity(severity),
		Description: fmt.Sprintf(format, args...),
		Evidence:    ev,
	}
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
