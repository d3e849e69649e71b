package detect

import (
	"math"
	"sort"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/window"
	"github.com/shopspring/decimal"
)

// Fixed severities used by the basic rule set.
const (
	basicVelocitySeverity  = 8
	basicNewWalletSeverity = 6
	basicWashSeverity      = 9
	basicSpikeSeverity     = 7
	basicRetrySeverity     = 5
)

// Velocity fires when more than Limit transactions landed in the trailing Window.
//
// Severity: fixed 8, or min(10, count/10) when Scaled.
type Velocity struct {
	Limit  int
	Window time.Duration
	Scaled bool
}

func (Velocity) Type() domain.FlagType { return domain.FlagVelocityAbuse }

func (d Velocity) Detect(w window.Window) (*domain.Finding, error) {
	if w.Empty() {
		return nil, nil
	}

	count := len(w.Since(w.Now - seconds(d.Window)))
	if count <= d.Limit {
		return nil, nil
	}

	severity := basicVelocitySeverity
	if d.Scaled {
		severity = min(10, count/10)
	}

	return newFinding(domain.FlagVelocityAbuse, severity,
		domain.VelocityEvidence{Count: count, WindowSeconds: seconds(d.Window), Limit: d.Limit},
		"%d transactions in the last %s exceeds limit %d", count, d.Window, d.Limit,
	), nil
}

// NewWallet fires when an account younger than MaxAgeDays has received more
// than MinVolume.
//
// Severity: fixed 6, or ceil(ageDeficit*5) + min(5, floor(volume/MinVolume))
// when Scaled, where ageDeficit is the unused fraction of MaxAgeDays.
type NewWallet struct {
	MaxAgeDays float64
	MinVolume  decimal.Decimal
	Scaled     bool
}

func (NewWallet) Type() domain.FlagType { return domain.FlagNewWalletRisk }

func (d NewWallet) Detect(w window.Window) (*domain.Finding, error) {
	if w.Empty() {
		return nil, nil
	}

	ageDays := float64(w.Now-w.Transactions[0].Timestamp) / secondsPerDay
	volume := decimal.Zero
	for _, tx := range w.Transactions {
		volume = volume.Add(tx.Amount)
	}

	if ageDays >= d.MaxAgeDays || !volume.GreaterThan(d.MinVolume) {
		return nil, nil
	}

	severity := basicNewWalletSeverity
	if d.Scaled {
		deficit := 1.0
		if d.MaxAgeDays > 0 {
			deficit = (d.MaxAgeDays - math.Max(ageDays, 0)) / d.MaxAgeDays
		}
		excess := 5
		if d.MinVolume.IsPositive() {
			excess = min(5, int(volume.Div(d.MinVolume).IntPart()))
		}
		severity = min(10, int(math.Ceil(deficit*5))+excess)
	}

	return newFinding(domain.FlagNewWalletRisk, severity,
		domain.NewWalletEvidence{
			AccountAgeDays:   ageDays,
			TotalVolume:      volume,
			AgeThresholdDays: d.MaxAgeDays,
			VolumeThreshold:  d.MinVolume,
		},
		"account is %.1f days old and has received %s", ageDays, volume,
	), nil
}

// WashTrading fires when any payer paid at least MinRepeats times using
// exactly one distinct amount.
//
// Severity: fixed 9, or min(10, 6 + offenders) when Scaled.
type WashTrading struct {
	MinRepeats int
	Scaled     bool
}

func (WashTrading) Type() domain.FlagType { return domain.FlagWashTrading }

func (d WashTrading) Detect(w window.Window) (*domain.Finding, error) {
	if w.Empty() {
		return nil, nil
	}

	type payerStats struct {
		count   int
		amounts map[string]decimal.Decimal
	}
	byPayer := make(map[string]*payerStats)
	for _, tx := range w.Transactions {
		ps, ok := byPayer[tx.From]
		if !ok {
			ps = &payerStats{amounts: make(map[string]decimal.Decimal)}
			byPayer[tx.From] = ps
		}
		ps.count++
		ps.amounts[tx.Amount.String()] = tx.Amount
	}

	var offenders []domain.WashOffender
	for payer, ps := range byPayer {
		if ps.count < d.MinRepeats || len(ps.amounts) != 1 {
			continue
		}
		for _, amt := range ps.amounts {
			offenders = append(offenders, domain.WashOffender{Payer: payer, Count: ps.count, Amount: amt})
		}
	}
	if len(offenders) == 0 {
		return nil, nil
	}
	sort.Slice(offenders, func(i, j int) bool { return offenders[i].Payer < offenders[j].Payer })

	severity := basicWashSeverity
	if d.Scaled {
		severity = min(10, 6+len(offenders))
	}

	total := len(w.Transactions)
	return newFinding(domain.FlagWashTrading, severity,
		domain.WashTradingEvidence{
			Offenders:           offenders,
			TotalTransactions:   total,
			UniquePayers:        len(byPayer),
			PayerDiversityRatio: float64(len(byPayer)) / float64(total),
		},
		"%d payer(s) repeat a single uniform amount", len(offenders),
	), nil
}

// VolumeSpike fires when the most recent day's volume exceeds Multiplier
// times the mean daily volume of every earlier active day. Days are
// floor(timestamp/86400) buckets and at least MinDays are required.
//
// Severity: fixed 7, or min(10, floor(ratio/Multiplier) + 5) when Scaled.
type VolumeSpike struct {
	Multiplier float64
	MinDays    int
	Scaled     bool
}

func (VolumeSpike) Type() domain.FlagType { return domain.FlagVolumeSpike }

func (d VolumeSpike) Detect(w window.Window) (*domain.Finding, error) {
	if w.Empty() {
		return nil, nil
	}

	buckets := make(map[int64]decimal.Decimal)
	latest := int64(math.MinInt64)
	for _, tx := range w.Transactions {
		day := floorDiv(tx.Timestamp, secondsPerDay)
		buckets[day] = buckets[day].Add(tx.Amount)
		if day > latest {
			latest = day
		}
	}
	if len(buckets) < d.MinDays || len(buckets) < 2 {
		return nil, nil
	}

	rest := decimal.Zero
	for day, vol := range buckets {
		if day != latest {
			rest = rest.Add(vol)
		}
	}
	mean := rest.Div(decimal.NewFromInt(int64(len(buckets) - 1)))
	if !mean.IsPositive() {
		return nil, nil
	}

	latestVol := buckets[latest]
	ratio := latestVol.Div(mean).InexactFloat64()
	if ratio <= d.Multiplier {
		return nil, nil
	}

	severity := basicSpikeSeverity
	if d.Scaled {
		severity = 10
		if d.Multiplier > 0 {
			severity = min(10, int(ratio/d.Multiplier)+5)
		}
	}

	return newFinding(domain.FlagVolumeSpike, severity,
		domain.VolumeSpikeEvidence{
			LatestDay:       latest,
			LatestDayVolume: latestVol,
			MeanOfRest:      mean,
			Ratio:           ratio,
			Multiplier:      d.Multiplier,
			Days:            len(buckets),
		},
		"latest day volume %s is %.1fx the prior daily mean %s", latestVol, ratio, mean.StringFixed(2),
	), nil
}

// RetrySpam fires when one payer sent more than Limit payments below
// MicroThreshold within the trailing Window.
//
// Severity: fixed 5, or min(10, attempts/5) when Scaled.
type RetrySpam struct {
	Window         time.Duration
	MicroThreshold decimal.Decimal
	Limit          int
	Scaled         bool
}

func (RetrySpam) Type() domain.FlagType { return domain.FlagRetrySpam }

func (d RetrySpam) Detect(w window.Window) (*domain.Finding, error) {
	if w.Empty() {
		return nil, nil
	}

	attempts := make(map[string]int)
	for _, tx := range w.Since(w.Now - seconds(d.Window)) {
		if tx.Amount.LessThan(d.MicroThreshold) {
			attempts[tx.From]++
		}
	}

	var worst string
	most := 0
	for payer, n := range attempts {
		if n > most || (n == most && payer < worst) {
			worst, most = payer, n
		}
	}
	if most <= d.Limit {
		return nil, nil
	}

	severity := basicRetrySeverity
	if d.Scaled {
		severity = min(10, most/5)
	}

	return newFinding(domain.FlagRetrySpam, severity,
		domain.RetrySpamEvidence{
			Payer:          worst,
			Attempts:       most,
			WindowSeconds:  seconds(d.Window),
			MicroThreshold: d.MicroThreshold,
			Limit:          d.Limit,
		},
		"payer %s made %d micro-payments in %s", worst, most, d.Window,
	), nil
}

// LowDiversity fires when uniquePayers/total falls below Floor over at least
// MinSample transactions.
//
// Severity: min(10, 5 + floor((Floor-ratio)/Floor*5)).
type LowDiversity struct {
	Floor     float64
	MinSample int
}

func (LowDiversity) Type() domain.FlagType { return domain.FlagLowPayerDiversity }

func (d LowDiversity) Detect(w window.Window) (*domain.Finding, error) {
	total := len(w.Transactions)
	if total == 0 || total < d.MinSample {
		return nil, nil
	}

	payers := make(map[string]struct{})
	for _, tx := range w.Transactions {
		payers[tx.From] = struct{}{}
	}
	ratio := float64(len(payers)) / float64(total)
	if ratio >= d.Floor {
		return nil, nil
	}

	severity := min(10, 5+int((d.Floor-ratio)/d.Floor*5))

	return newFinding(domain.FlagLowPayerDiversity, severity,
		domain.LowDiversityEvidence{
			UniquePayers:      len(payers),
			TotalTransactions: total,
			Ratio:             ratio,
			Floor:             d.Floor,
		},
		"%d unique payers across %d transactions (ratio %.3f)", len(payers), total, ratio,
	), nil
}

// TimeClustering fires when the gaps between the most recent Sample
// transactions are both short and mechanically regular: coefficient of
// variation below MaxCV and mean gap below MaxInterval. Fewer than
// MinSample transactions, or a zero mean gap, is not fireable.
//
// Severity: min(10, 5 + floor((MaxCV-cv)/MaxCV*5)).
type TimeClustering struct {
	Sample      int
	MinSample   int
	MaxCV       float64
	MaxInterval time.Duration
}

func (TimeClustering) Type() domain.FlagType { return domain.FlagTimeClustering }

func (d TimeClustering) Detect(w window.Window) (*domain.Finding, error) {
	sample := w.Last(d.Sample)
	if len(sample) < 2 || len(sample) < d.MinSample {
		return nil, nil
	}

	gaps := make([]float64, len(sample)-1)
	for i := 1; i < len(sample); i++ {
		gaps[i-1] = float64(sample[i].Timestamp - sample[i-1].Timestamp)
	}

	mean := 0.0
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))
	if mean <= 0 {
		return nil, nil
	}

	variance := 0.0
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(gaps)))
	cv := stdDev / mean

	if cv >= d.MaxCV || mean >= d.MaxInterval.Seconds() {
		return nil, nil
	}

	severity := min(10, 5+int((d.MaxCV-cv)/d.MaxCV*5))

	return newFinding(domain.FlagTimeClustering, severity,
		domain.TimeClusteringEvidence{
			SampleSize:             len(sample),
			MeanIntervalSeconds:    mean,
			StdDevSeconds:          stdDev,
			CoefficientOfVariation: cv,
			Ceiling:                d.MaxCV,
		},
		"mean gap %.0fs with variation %.3f across %d transactions", mean, cv, len(sample),
	), nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
