package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// FlagType enumerates the fraud signatures a detector can report.
type FlagType string

const (
	FlagVelocityAbuse     FlagType = "velocity_abuse"
	FlagNewWalletRisk     FlagType = "new_wallet_risk"
	FlagWashTrading       FlagType = "wash_trading"
	FlagVolumeSpike       FlagType = "volume_spike"
	FlagRetrySpam         FlagType = "retry_spam"
	FlagLowPayerDiversity FlagType = "low_payer_diversity"
	FlagTimeClustering    FlagType = "time_clustering"
)

// FlagTypes lists every known flag type in detector order.
var FlagTypes = []FlagType{
	FlagVelocityAbuse,
	FlagNewWalletRisk,
	FlagWashTrading,
	FlagVolumeSpike,
	FlagRetrySpam,
	FlagLowPayerDiversity,
	FlagTimeClustering,
}

// Valid reports whether t is one of the enumerated flag types.
func (t FlagType) Valid() bool {
	for _, known := range FlagTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity bounds.
const (
	MinSeverity = 1
	MaxSeverity = 10
)

// ClampSeverity forces s into [MinSeverity, MaxSeverity].
func ClampSeverity(s int) int {
	if s < MinSeverity {
		return MinSeverity
	}
	if s > MaxSeverity {
		return MaxSeverity
	}
	return s
}

// Evidence is the detector-specific payload of a finding.
// Each variant reports the flag type it belongs to.
type Evidence interface {
	Kind() FlagType
}

// Finding is one detector's positive output for one evaluation run.
type Finding struct {
	Type        FlagType `json:"type"`
	Severity    int      `json:"severity"`
	Description string   `json:"description"`
	Evidence    Evidence `json:"evidence"`
}

// FraudFlag is a persisted Finding with a resolution lifecycle.
type FraudFlag struct {
	ID             string   `json:"id"`
	SubjectAddress string   `json:"subjectAddress"`
	FlagType       FlagType `json:"flagType"`
	Severity       int      `json:"severity"`
	Details        Evidence `json:"details"`
	IsResolved     bool     `json:"isResolved"`
	CreatedAt      int64    `json:"createdAt"`
	ResolvedAt     *int64   `json:"resolvedAt,omitempty"`
}

type VelocityEvidence struct {
	Count         int   `json:"count"`
	WindowSeconds int64 `json:"windowSeconds"`
	Limit         int   `json:"limit"`
}

func (VelocityEvidence) Kind() FlagType { return FlagVelocityAbuse }

type NewWalletEvidence struct {
	AccountAgeDays   float64         `json:"accountAgeDays"`
	TotalVolume      decimal.Decimal `json:"totalVolume"`
	AgeThresholdDays float64         `json:"ageThresholdDays"`
	VolumeThreshold  decimal.Decimal `json:"volumeThreshold"`
}

func (NewWalletEvidence) Kind() FlagType { return FlagNewWalletRisk }

// WashOffender is one payer repeating a single uniform amount.
type WashOffender struct {
	Payer  string          `json:"payer"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type WashTradingEvidence struct {
	Offenders           []WashOffender `json:"offenders"`
	TotalTransactions   int            `json:"totalTransactions"`
	UniquePayers        int            `json:"uniquePayers"`
	PayerDiversityRatio float64        `json:"payerDiversityRatio"`
}

func (WashTradingEvidence) Kind() FlagType { return FlagWashTrading }

type VolumeSpikeEvidence struct {
	LatestDay       int64           `json:"latestDay"`
	LatestDayVolume decimal.Decimal `json:"latestDayVolume"`
	MeanOfRest      decimal.Decimal `json:"meanOfRest"`
	Ratio           float64         `json:"ratio"`
	Multiplier      float64         `json:"multiplier"`
	Days            int             `json:"days"`
}

func (VolumeSpikeEvidence) Kind() FlagType { return FlagVolumeSpike }

type RetrySpamEvidence struct {
	Payer          string          `json:"payer"`
	Attempts       int             `json:"attempts"`
	WindowSeconds  int64           `json:"windowSeconds"`
	MicroThreshold decimal.Decimal `json:"microThreshold"`
	Limit          int             `json:"limit"`
}

func (RetrySpamEvidence) Kind() FlagType { return FlagRetrySpam }

type LowDiversityEvidence struct {
	UniquePayers      int     `json:"uniquePayers"`
	TotalTransactions int     `json:"totalTransactions"`
	Ratio             float64 `json:"ratio"`
	Floor             float64 `json:"floor"`
}

func (LowDiversityEvidence) Kind() FlagType { return FlagLowPayerDiversity }

type TimeClusteringEvidence struct {
	SampleSize             int     `json:"sampleSize"`
	MeanIntervalSeconds    float64 `json:"meanIntervalSeconds"`
	StdDevSeconds          float64 `json:"stdDevSeconds"`
	CoefficientOfVariation float64 `json:"coefficientOfVariation"`
	Ceiling                float64 `json:"ceiling"`
}

func (TimeClusteringEvidence) Kind() FlagType { return FlagTimeClustering }

// DecodeEvidence restores the typed evidence variant stored for a flag type.
func DecodeEvidence(t FlagType, raw []byte) (Evidence, error) {
	var ev Evidence
	switch t {
	case FlagVelocityAbuse:
		ev = &VelocityEvidence{}
	case FlagNewWalletRisk:
		ev = &NewWalletEvidence{}
	case FlagWashTrading:
		ev = &WashTradingEvidence{}
	case FlagVolumeSpike:
		ev = &VolumeSpikeEvidence{}
	case FlagRetrySpam:
		ev = &RetrySpamEvidence{}
	case FlagLowPayerDiversity:
		ev = &LowDiversityEvidence{}
	case FlagTimeClustering:
		ev = &TimeClusteringEvidence{}
	default:
		return nil, fmt.Errorf("%w: unknown flag type %q", ErrInvalidInput, t)
	}
	if len(raw) == 0 {
		return deref(ev), nil
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("decode %s evidence: %w", t, err)
	}
	return deref(ev), nil
}

func deref(ev Evidence) Evidence {
	switch v := ev.(type) {
	case *VelocityEvidence:
		return *v
	case *NewWalletEvidence:
		return *v
	case *WashTradingEvidence:
		return *v
	case *VolumeSpikeEvidence:
		return *v
	case *RetrySpamEvidence:
		return *v
	case *LowDiversityEvidence:
		return *v
	case *TimeClusteringEvidence:
		return *v
	}
	return ev
}

// UnmarshalJSON restores the typed Details variant from FlagType.
func (f *FraudFlag) UnmarshalJSON(data []byte) error {
	type plain FraudFlag
	var aux struct {
		plain
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*f = FraudFlag(aux.plain)
	if len(aux.Details) == 0 || string(aux.Details) == "null" {
		return nil
	}
	details, err := DecodeEvidence(f.FlagType, aux.Details)
	if err != nil {
		return err
	}
	f.Details = details
	return nil
}

// UnmarshalJSON restores the typed Evidence variant from Type.
func (f *Finding) UnmarshalJSON(data []byte) error {
	type plain Finding
	var aux struct {
		plain
		Evidence json.RawMessage `json:"evidence"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*f = Finding(aux.plain)
	if len(aux.Evidence) == 0 || string(aux.Evidence) == "null" {
		return nil
	}
	evidence, err := DecodeEvidence(f.Type, aux.Evidence)
	if err != nil {
		return err
	}
	f.Evidence = evidence
	return nil
}
