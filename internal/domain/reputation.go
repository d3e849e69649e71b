package domain

import "github.com/shopspring/decimal"

// TrustLevel is the five-tier bucket derived from a reputation score.
type TrustLevel string

const (
	TrustExcellent TrustLevel = "excellent"
	TrustHigh      TrustLevel = "high"
	TrustMedium    TrustLevel = "medium"
	TrustLow       TrustLevel = "low"
	TrustUntrusted TrustLevel = "untrusted"
)

// TrustLevelFor maps a 0-100 score to its tier.
func TrustLevelFor(score int) TrustLevel {
	switch {
	case score >= 85:
		return TrustExcellent
	case score >= 70:
		return TrustHigh
	case score >= 50:
		return TrustMedium
	case score >= 30:
		return TrustLow
	default:
		return TrustUntrusted
	}
}

// Badge is a qualitative reputation tag.
type Badge string

const (
	BadgeVerified    Badge = "VERIFIED"
	BadgeTrusted     Badge = "TRUSTED"
	BadgeReliable    Badge = "RELIABLE"
	BadgeEstablished Badge = "ESTABLISHED"
	BadgeExperienced Badge = "EXPERIENCED"
	BadgeHighVolume  Badge = "HIGH_VOLUME"
	BadgeActive      Badge = "ACTIVE"
	BadgeClean       Badge = "CLEAN"
	BadgeNew         Badge = "NEW"
)

// NeutralScore is assigned to addresses with no history.
const NeutralScore = 50

// ScoreComponents is the explainable breakdown of a reputation score.
type ScoreComponents struct {
	Volume       float64 `json:"volume"`
	Revenue      float64 `json:"revenue"`
	Diversity    float64 `json:"diversity"`
	Age          float64 `json:"age"`
	Recency      float64 `json:"recency"`
	FraudPenalty float64 `json:"fraudPenalty"`
}

// ServiceReputation is the materialized snapshot for a payment recipient.
type ServiceReputation struct {
	Address           string          `json:"address"`
	Score             int             `json:"score"`
	TrustLevel        TrustLevel      `json:"trustLevel"`
	Badges            []Badge         `json:"badges"`
	TotalTransactions int             `json:"totalTransactions"`
	TotalRevenue      decimal.Decimal `json:"totalRevenue"`
	UniquePayers      int             `json:"uniquePayers"`
	AccountAgeDays    int             `json:"accountAgeDays"`
	FirstSeen         int64           `json:"firstSeen"`
	LastActive        int64           `json:"lastActive"`
	ActiveFlags       int             `json:"activeFlags"`
	Components        ScoreComponents `json:"components"`
	CalculatedAt      int64           `json:"calculatedAt"`
}

// AgentReputation is the materialized snapshot for a payer.
type AgentReputation struct {
	Address        string          `json:"address"`
	Score          int             `json:"score"`
	TrustLevel     TrustLevel      `json:"trustLevel"`
	Badges         []Badge         `json:"badges"`
	TotalPayments  int             `json:"totalPayments"`
	TotalSpent     decimal.Decimal `json:"totalSpent"`
	UniqueServices int             `json:"uniqueServices"`
	AccountAgeDays int             `json:"accountAgeDays"`
	FirstSeen      int64           `json:"firstSeen"`
	LastActive     int64           `json:"lastActive"`
	ActiveFlags    int             `json:"activeFlags"`
	Components     ScoreComponents `json:"components"`
	CalculatedAt   int64           `json:"calculatedAt"`
}

// RiskLevel is the four-tier risk bucket used by fraud and compatibility reads.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// FraudScore is the flag-derived fraud score for an address.
type FraudScore struct {
	Address     string      `json:"address"`
	Score       int         `json:"score"`
	RiskLevel   RiskLevel   `json:"riskLevel"`
	ActiveFlags []FraudFlag `json:"activeFlags"`
}

// FraudAnalysis is the advisory output of the extended rule set.
type FraudAnalysis struct {
	Address      string    `json:"address"`
	RuleSet      string    `json:"ruleSet"`
	Findings     []Finding `json:"findings"`
	MaxSeverity  int       `json:"maxSeverity"`
	RiskLevel    RiskLevel `json:"riskLevel"`
	Explanations []string  `json:"explanations"`
	FailedRules  []string  `json:"failedRules,omitempty"`
	AnalyzedAt   int64     `json:"analyzedAt"`
}

// CompatibilityAssessment is the ephemeral pairwise trust recommendation.
type CompatibilityAssessment struct {
	ServiceAddress     string    `json:"serviceAddress"`
	AgentAddress       string    `json:"agentAddress"`
	ServiceScore       int       `json:"serviceScore"`
	AgentScore         int       `json:"agentScore"`
	ActiveFlags        int       `json:"activeFlags"`
	CompatibilityScore int       `json:"compatibilityScore"`
	Recommended        bool      `json:"recommended"`
	RiskLevel          RiskLevel `json:"riskLevel"`
	Warnings           []string  `json:"warnings"`
}
