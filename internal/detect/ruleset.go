package detect

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/window"
	"github.com/shopspring/decimal"
)

// RuleSet is a named, ordered group of detectors.
type RuleSet struct {
	Name      string
	Detectors []Detector
}

// BasicRuleSet is the alerting rule set: detectors 1-5 with fixed severities.
func BasicRuleSet(cfg domain.RuleSetConfig) RuleSet {
	return RuleSet{
		Name: domain.RuleSetBasic,
		Detectors: []Detector{
			Velocity{Limit: cfg.VelocityLimit, Window: cfg.VelocityWindow},
			NewWallet{MaxAgeDays: cfg.NewWalletMaxAgeDays, MinVolume: decimal.NewFromFloat(cfg.NewWalletMinVolume)},
			WashTrading{MinRepeats: cfg.WashMinRepeats},
			VolumeSpike{Multiplier: cfg.SpikeMultiplier, MinDays: cfg.SpikeMinDays},
			RetrySpam{Window: cfg.RetryWindow, MicroThreshold: decimal.NewFromFloat(cfg.RetryMicroThreshold), Limit: cfg.RetryLimit},
		},
	}
}

// ExtendedRuleSet is the analysis rule set: all seven detectors with
// severities scaled by how far each threshold was exceeded.
func ExtendedRuleSet(cfg domain.RuleSetConfig) RuleSet {
	return RuleSet{
		Name: domain.RuleSetExtended,
		Detectors: []Detector{
			Velocity{Limit: cfg.VelocityLimit, Window: cfg.VelocityWindow, Scaled: true},
			NewWallet{MaxAgeDays: cfg.NewWalletMaxAgeDays, MinVolume: decimal.NewFromFloat(cfg.NewWalletMinVolume), Scaled: true},
			WashTrading{MinRepeats: cfg.WashMinRepeats, Scaled: true},
			VolumeSpike{Multiplier: cfg.SpikeMultiplier, MinDays: cfg.SpikeMinDays, Scaled: true},
			RetrySpam{Window: cfg.RetryWindow, MicroThreshold: decimal.NewFromFloat(cfg.RetryMicroThreshold), Limit: cfg.RetryLimit, Scaled: true},
			LowDiversity{Floor: cfg.DiversityFloor, MinSample: cfg.DiversityMinSample},
			TimeClustering{
				Sample:      cfg.ClusterSample,
				MinSample:   cfg.ClusterMinSample,
				MaxCV:       cfg.ClusterMaxCV,
				MaxInterval: cfg.ClusterMaxInterval,
			},
		},
	}
}

// ByName builds the named rule set from its own thresholds.
func ByName(name string, cfg domain.DetectorsConfig) (RuleSet, error) {
	switch name {
	case domain.RuleSetBasic:
		return BasicRuleSet(cfg.Basic), nil
	case domain.RuleSetExtended:
		return ExtendedRuleSet(cfg.Extended), nil
	default:
		return RuleSet{}, fmt.Errorf("%w: unknown rule set %q", domain.ErrInvalidInput, name)
	}
}

// Result is the outcome of one rule set run.
type Result struct {
	RuleSet  string
	Findings []domain.Finding
	Failures []*DetectorError
	Duration time.Duration
}

// Failed lists the flag types of detectors that failed.
func (r Result) Failed() []string {
	out := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, string(f.Detector))
	}
	return out
}

// Run evaluates every detector against w in parallel. A failing or
// panicking detector is recorded in Failures and never affects the others.
// Findings keep the rule set's detector order.
func (rs RuleSet) Run(ctx context.Context, w window.Window) Result {
	start := time.Now()
	res := Result{RuleSet: rs.Name}
	if len(rs.Detectors) == 0 {
		return res
	}

	type outcome struct {
		finding *domain.Finding
		err     *DetectorError
	}
	outcomes := make([]outcome, len(rs.Detectors))

	var wg sync.WaitGroup
	sem := make(chan struct{}, min(len(rs.Detectors), runtime.GOMAXPROCS(0)))

	for i, d := range rs.Detectors {
		wg.Add(1)
		go func(idx int, d Detector) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if err := ctx.Err(); err != nil {
				outcomes[idx].err = &DetectorError{Detector: d.Type(), Err: err}
				return
			}
			f, err := runOne(d, w)
			outcomes[idx] = outcome{finding: f, err: err}
		}(i, d)
	}

	wg.Wait()

	for _, o := range outcomes {
		if o.err != nil {
			res.Failures = append(res.Failures, o.err)
			continue
		}
		if o.finding != nil {
			res.Findings = append(res.Findings, *o.finding)
		}
	}
	res.Duration = time.Since(start)
	return res
}

func runOne(d Detector, w window.Window) (f *domain.Finding, derr *DetectorError) {
	defer func() {
		if r := recover(); r != nil {
			f = nil
			derr = &DetectorError{Detector: d.Type(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	f, err := d.Detect(w)
	if err != nil {
		return nil, &DetectorError{Detector: d.Type(), Err: err}
	}
	return f, nil
}
