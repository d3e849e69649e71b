package detect

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/window"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	now     = int64(1_700_000_000)
	subject = "0x1111111111111111111111111111111111111111"
)

func payer(n int) string {
	return fmt.Sprintf("0x%040x", n+1)
}

func tx(from string, amount string, ts int64) domain.Transaction {
	return domain.Transaction{
		Hash:      fmt.Sprintf("0x%064x", ts),
		From:      from,
		To:        subject,
		Amount:    decimal.RequireFromString(amount),
		Timestamp: ts,
	}
}

func win(txs ...domain.Transaction) window.Window {
	return window.Window{Subject: subject, Now: now, Transactions: txs}
}

func allDetectors() []Detector {
	return ExtendedRuleSet(domain.DefaultExtendedRuleSet()).Detectors
}

func TestEmptyWindowNeverFires(t *testing.T) {
	detectors := append(BasicRuleSet(domain.DefaultBasicRuleSet()).Detectors, allDetectors()...)
	for _, d := range detectors {
		t.Run(string(d.Type()), func(t *testing.T) {
			f, err := d.Detect(win())
			require.NoError(t, err)
			assert.Nil(t, f)
		})
	}
}

// sixtyInLastHour spreads 60 payments from distinct payers over the last hour
// with irregular gaps and varied amounts so only velocity is in play.
func sixtyInLastHour() window.Window {
	var txs []domain.Transaction
	ts := now - 3500
	for i := 0; i < 60; i++ {
		ts += int64(1 + (i*37)%100)
		txs = append(txs, tx(payer(i), fmt.Sprintf("%d.25", i+1), ts))
	}
	return win(txs...)
}

func TestVelocity(t *testing.T) {
	t.Run("BasicUsesFixedSeverity", func(t *testing.T) {
		d := Velocity{Limit: 50, Window: time.Hour}
		f, err := d.Detect(sixtyInLastHour())
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, domain.FlagVelocityAbuse, f.Type)
		assert.Equal(t, 8, f.Severity)
		assert.Equal(t, 60, f.Evidence.(domain.VelocityEvidence).Count)
	})

	t.Run("ExtendedScalesWithCount", func(t *testing.T) {
		d := Velocity{Limit: 50, Window: time.Hour, Scaled: true}
		f, err := d.Detect(sixtyInLastHour())
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, 6, f.Severity)
	})

	t.Run("AtLimitDoesNotFire", func(t *testing.T) {
		w := sixtyInLastHour()
		w.Transactions = w.Transactions[10:]
		f, err := Velocity{Limit: 50, Window: time.Hour}.Detect(w)
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("OldTransactionsIgnored", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 60; i++ {
			txs = append(txs, tx(payer(i), "1", now-7200+int64(i)))
		}
		f, err := Velocity{Limit: 50, Window: time.Hour}.Detect(win(txs...))
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("ScaledCapsAtTen", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 250; i++ {
			txs = append(txs, tx(payer(i), "1", now-int64(250-i)))
		}
		f, err := Velocity{Limit: 50, Window: time.Hour, Scaled: true}.Detect(win(txs...))
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, 10, f.Severity)
	})
}

func TestNewWallet(t *testing.T) {
	twoDaysOld := win(
		tx(payer(1), "100", now-2*secondsPerDay),
		tx(payer(2), "50", now-3600),
	)

	t.Run("Basic", func(t *testing.T) {
		f, err := NewWallet{MaxAgeDays: 7, MinVolume: decimal.NewFromInt(100)}.Detect(twoDaysOld)
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, 6, f.Severity)
		ev := f.Evidence.(domain.NewWalletEvidence)
		assert.InDelta(t, 2.0, ev.AccountAgeDays, 1e-9)
		assert.True(t, ev.TotalVolume.Equal(decimal.NewFromInt(150)))
	})

	t.Run("Scaled", func(t *testing.T) {
		// deficit 5/7 -> ceil(3.57)=4, excess floor(1.5)=1
		f, err := NewWallet{MaxAgeDays: 7, MinVolume: decimal.NewFromInt(100), Scaled: true}.Detect(twoDaysOld)
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, 5, f.Severity)
	})

	t.Run("OldAccount", func(t *testing.T) {
		w := win(tx(payer(1), "5000", now-8*secondsPerDay))
		f, err := NewWallet{MaxAgeDays: 7, MinVolume: decimal.NewFromInt(100)}.Detect(w)
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("VolumeAtThreshold", func(t *testing.T) {
		w := win(tx(payer(1), "100", now-3600))
		f, err := NewWallet{MaxAgeDays: 7, MinVolume: decimal.NewFromInt(100)}.Detect(w)
		require.NoError(t, err)
		assert.Nil(t, f)
	})
}

func TestWashTrading(t *testing.T) {
	uniform := func() window.Window {
		var txs []domain.Transaction
		for i := 0; i < 150; i++ {
			txs = append(txs, tx(payer(i%3), "10.00", now-int64(150-i)*600))
		}
		return win(txs...)
	}

	t.Run("ThreeUniformPayers", func(t *testing.T) {
		f, err := WashTrading{MinRepeats: 10}.Detect(uniform())
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, 9, f.Severity)

		ev := f.Evidence.(domain.WashTradingEvidence)
		assert.Equal(t, 3, ev.UniquePayers)
		assert.Equal(t, 150, ev.TotalTransactions)
		assert.InDelta(t, 0.02, ev.PayerDiversityRatio, 1e-12)
		require.Len(t, ev.Offenders, 3)
		assert.Equal(t, payer(0), ev.Offenders[0].Payer)
		assert.Equal(t, 50, ev.Offenders[0].Count)
	})

	t.Run("ScaledByOffenders", func(t *testing.T) {
		f, err := WashTrading{MinRepeats: 10, Scaled: true}.Detect(uniform())
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, 9, f.Severity)
	})

	t.Run("EquivalentDecimalsAreOneAmount", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 10; i++ {
			amt := "10"
			if i%2 == 0 {
				amt = "10.000"
			}
			txs = append(txs, tx(payer(1), amt, now-int64(100-i)))
		}
		f, err := WashTrading{MinRepeats: 10}.Detect(win(txs...))
		require.NoError(t, err)
		assert.NotNil(t, f)
	})

	t.Run("VariedAmountsDoNotFire", func(t *testing.T) {
		w := uniform()
		w.Transactions[0].Amount = decimal.RequireFromString("10.01")
		w.Transactions[1].Amount = decimal.RequireFromString("9.99")
		w.Transactions[2].Amount = decimal.RequireFromString("10.50")
		f, err := WashTrading{MinRepeats: 10}.Detect(w)
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("BelowRepeatCount", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 9; i++ {
			txs = append(txs, tx(payer(1), "10", now-int64(100-i)))
		}
		f, err := WashTrading{MinRepeats: 10}.Detect(win(txs...))
		require.NoError(t, err)
		assert.Nil(t, f)
	})
}

func spikeWindow(days int, latest string) window.Window {
	var txs []domain.Transaction
	base := floorDiv(now, secondsPerDay) - int64(days)
	for d := 0; d < days; d++ {
		txs = append(txs, tx(payer(d), "10", (base+int64(d))*secondsPerDay+100))
	}
	txs = append(txs, tx(payer(99), latest, floorDiv(now, secondsPerDay)*secondsPerDay+100))
	return win(txs...)
}

func TestVolumeSpike(t *testing.T) {
	t.Run("Basic", func(t *testing.T) {
		f, err := VolumeSpike{Multiplier: 10, MinDays: 8}.Detect(spikeWindow(8, "200"))
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, 7, f.Severity)
		ev := f.Evidence.(domain.VolumeSpikeEvidence)
		assert.InDelta(t, 20.0, ev.Ratio, 1e-9)
		assert.Equal(t, 9, ev.Days)
	})

	t.Run("ExtendedRelaxedMultiplier", func(t *testing.T) {
		f, err := VolumeSpike{Multiplier: 5, MinDays: 8, Scaled: true}.Detect(spikeWindow(8, "200"))
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, 9, f.Severity)
	})

	t.Run("SameDataBelowBasicMultiplier", func(t *testing.T) {
		w := spikeWindow(8, "80")
		f, err := VolumeSpike{Multiplier: 10, MinDays: 8}.Detect(w)
		require.NoError(t, err)
		assert.Nil(t, f)

		f, err = VolumeSpike{Multiplier: 5, MinDays: 8, Scaled: true}.Detect(w)
		require.NoError(t, err)
		assert.NotNil(t, f)
	})

	t.Run("NeedsEnoughDays", func(t *testing.T) {
		f, err := VolumeSpike{Multiplier: 10, MinDays: 8}.Detect(spikeWindow(6, "1000"))
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("ZeroHistoryMean", func(t *testing.T) {
		w := spikeWindow(8, "100")
		for i := 0; i < 8; i++ {
			w.Transactions[i].Amount = decimal.Zero
		}
		f, err := VolumeSpike{Multiplier: 10, MinDays: 8}.Detect(w)
		require.NoError(t, err)
		assert.Nil(t, f)
	})
}

func TestRetrySpam(t *testing.T) {
	micro := func(n int) window.Window {
		var txs []domain.Transaction
		for i := 0; i < n; i++ {
			txs = append(txs, tx(payer(7), "0.05", now-int64(n-i)*10))
		}
		return win(txs...)
	}
	d := RetrySpam{Window: 5 * time.Minute, MicroThreshold: decimal.RequireFromString("0.10"), Limit: 10}

	t.Run("Basic", func(t *testing.T) {
		f, err := d.Detect(micro(11))
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, 5, f.Severity)
		ev := f.Evidence.(domain.RetrySpamEvidence)
		assert.Equal(t, payer(7), ev.Payer)
		assert.Equal(t, 11, ev.Attempts)
	})

	t.Run("ScaledSeverity", func(t *testing.T) {
		scaled := d
		scaled.Scaled = true
		f, err := scaled.Detect(micro(25))
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, 5, f.Severity)
	})

	t.Run("AtLimit", func(t *testing.T) {
		f, err := d.Detect(micro(10))
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("LargeAmountsIgnored", func(t *testing.T) {
		w := micro(11)
		w.Transactions[0].Amount = decimal.RequireFromString("0.10")
		f, err := d.Detect(w)
		require.NoError(t, err)
		assert.Nil(t, f)
	})
}

func TestLowDiversity(t *testing.T) {
	d := LowDiversity{Floor: 0.1, MinSample: 20}

	t.Run("SinglePayer", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 20; i++ {
			txs = append(txs, tx(payer(1), fmt.Sprintf("%d", i+1), now-int64(20-i)*1000))
		}
		f, err := d.Detect(win(txs...))
		require.NoError(t, err)
		require.NotNil(t, f)
		// ratio 0.05 -> 5 + floor(0.5*5) = 7
		assert.Equal(t, 7, f.Severity)
		assert.InDelta(t, 0.05, f.Evidence.(domain.LowDiversityEvidence).Ratio, 1e-12)
	})

	t.Run("BelowSample", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 19; i++ {
			txs = append(txs, tx(payer(1), "1", now-int64(20-i)*1000))
		}
		f, err := d.Detect(win(txs...))
		require.NoError(t, err)
		assert.Nil(t, f)
	})
}

func TestTimeClustering(t *testing.T) {
	d := TimeClustering{Sample: 20, MinSample: 5, MaxCV: 0.2, MaxInterval: 300 * time.Second}

	regular := func(gap int64, n int) window.Window {
		var txs []domain.Transaction
		for i := 0; i < n; i++ {
			txs = append(txs, tx(payer(i), "1", now-int64(n-i)*gap))
		}
		return win(txs...)
	}

	t.Run("MechanicalTiming", func(t *testing.T) {
		f, err := d.Detect(regular(60, 30))
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, 10, f.Severity)
		ev := f.Evidence.(domain.TimeClusteringEvidence)
		assert.Equal(t, 20, ev.SampleSize)
		assert.InDelta(t, 60.0, ev.MeanIntervalSeconds, 1e-9)
	})

	t.Run("SlowRegularTiming", func(t *testing.T) {
		f, err := d.Detect(regular(600, 30))
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("IrregularTiming", func(t *testing.T) {
		gaps := []int64{5, 200, 17, 90, 250, 3, 140}
		var txs []domain.Transaction
		ts := now - 1000
		for i, g := range gaps {
			ts += g
			txs = append(txs, tx(payer(i), "1", ts))
		}
		f, err := d.Detect(win(txs...))
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("IdenticalTimestamps", func(t *testing.T) {
		var txs []domain.Transaction
		for i := 0; i < 10; i++ {
			tr := tx(payer(i), "1", now-10)
			tr.Hash = fmt.Sprintf("0x%064x", i)
			txs = append(txs, tr)
		}
		f, err := d.Detect(win(txs...))
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("TooFew", func(t *testing.T) {
		f, err := d.Detect(regular(60, 4))
		require.NoError(t, err)
		assert.Nil(t, f)
	})
}

type panicky struct{}

func (panicky) Type() domain.FlagType { return domain.FlagVolumeSpike }
func (panicky) Detect(window.Window) (*domain.Finding, error) {
	var m map[string]int
	m["boom"]++
	return nil, nil
}

type failing struct{}

func (failing) Type() domain.FlagType { return domain.FlagRetrySpam }
func (failing) Detect(window.Window) (*domain.Finding, error) {
	return nil, errors.New("division by zero")
}

func TestRuleSetRun(t *testing.T) {
	ctx := context.Background()

	t.Run("FailuresAreIsolated", func(t *testing.T) {
		rs := RuleSet{
			Name: "test",
			Detectors: []Detector{
				Velocity{Limit: 50, Window: time.Hour},
				panicky{},
				failing{},
			},
		}
		res := rs.Run(ctx, sixtyInLastHour())

		require.Len(t, res.Findings, 1)
		assert.Equal(t, domain.FlagVelocityAbuse, res.Findings[0].Type)
		require.Len(t, res.Failures, 2)
		assert.ElementsMatch(t, []string{"volume_spike", "retry_spam"}, res.Failed())
		for _, f := range res.Failures {
			assert.True(t, errors.Is(f, domain.ErrDetectorFailure))
		}
	})

	t.Run("BasicVersusExtendedSeverity", func(t *testing.T) {
		basic := BasicRuleSet(domain.DefaultBasicRuleSet()).Run(ctx, sixtyInLastHour())
		extended := ExtendedRuleSet(domain.DefaultExtendedRuleSet()).Run(ctx, sixtyInLastHour())

		find := func(r Result) *domain.Finding {
			for i := range r.Findings {
				if r.Findings[i].Type == domain.FlagVelocityAbuse {
					return &r.Findings[i]
				}
			}
			return nil
		}
		require.NotNil(t, find(basic))
		require.NotNil(t, find(extended))
		assert.Equal(t, 8, find(basic).Severity)
		assert.Equal(t, 6, find(extended).Severity)
	})

	t.Run("DetectorIndependence", func(t *testing.T) {
		w := sixtyInLastHour()
		cfg := domain.DefaultExtendedRuleSet()
		before := ExtendedRuleSet(cfg).Run(ctx, w)

		cfg.VelocityLimit = 1_000_000
		after := ExtendedRuleSet(cfg).Run(ctx, w)

		types := func(r Result) []domain.FlagType {
			var out []domain.FlagType
			for _, f := range r.Findings {
				if f.Type != domain.FlagVelocityAbuse {
					out = append(out, f.Type)
				}
			}
			return out
		}
		assert.Equal(t, types(before), types(after))
		for _, f := range after.Findings {
			assert.NotEqual(t, domain.FlagVelocityAbuse, f.Type)
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		res := BasicRuleSet(domain.DefaultBasicRuleSet()).Run(cctx, sixtyInLastHour())
		assert.Empty(t, res.Findings)
		assert.Len(t, res.Failures, 5)
	})
}

func TestByName(t *testing.T) {
	cfg := domain.DetectorsConfig{Basic: domain.DefaultBasicRuleSet(), Extended: domain.DefaultExtendedRuleSet()}

	rs, err := ByName(domain.RuleSetBasic, cfg)
	require.NoError(t, err)
	assert.Len(t, rs.Detectors, 5)

	rs, err = ByName(domain.RuleSetExtended, cfg)
	require.NoError(t, err)
	assert.Len(t, rs.Detectors, 7)

	_, err = ByName("aggressive", cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
