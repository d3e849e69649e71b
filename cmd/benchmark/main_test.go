package main

import (
	"math"
	"strings"
	"testing"
)

func TestReadPayments(t *testing.T) {
	data := `tx_hash,from,to,amount,timestamp,block_height,is_fraud
0xaa,0x01,0xS1,1.50,1700000000,10,0
0xbb,0x02,0xS1,2.00,not-a-time,11,1
0xcc,0x03,0xS2,3.00,1700000100,,true
`
	payments, err := readPayments(strings.NewReader(data), 0)
	if err != nil {
		t.Fatalf("readPayments failed: %v", err)
	}
	if len(payments) != 2 {
		t.Fatalf("expected 2 payments (bad timestamp skipped), got %d", len(payments))
	}
	if payments[0].Amount != "1.50" || payments[0].BlockHeight != 10 || payments[0].IsFraud {
		t.Errorf("unexpected first payment: %+v", payments[0])
	}
	if !payments[1].IsFraud || payments[1].BlockHeight != 0 {
		t.Errorf("unexpected second payment: %+v", payments[1])
	}

	t.Run("Limit", func(t *testing.T) {
		payments, _ := readPayments(strings.NewReader(data), 1)
		if len(payments) != 1 {
			t.Errorf("expected 1 payment, got %d", len(payments))
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		if _, err := readPayments(strings.NewReader("tx_hash,from\n"), 0); err == nil {
			t.Error("expected error for missing columns")
		}
	})
}

func TestLabelServices(t *testing.T) {
	labels := labelServices([]Payment{
		{To: "0xS1"},
		{To: "0xs1", IsFraud: true},
		{To: "0xS2"},
	})
	if len(labels) != 2 || !labels["0xs1"] || labels["0xs2"] {
		t.Errorf("unexpected labels: %v", labels)
	}
}

func TestConfusionScores(t *testing.T) {
	var c Confusion
	for _, v := range []struct{ predicted, actual bool }{
		{true, true}, {true, true}, {true, false}, {false, true}, {false, false},
	} {
		c.Record(v.predicted, v.actual)
	}

	precision, recall, f1 := c.Scores()
	if math.Abs(precision-2.0/3) > 1e-9 || math.Abs(recall-2.0/3) > 1e-9 || math.Abs(f1-2.0/3) > 1e-9 {
		t.Errorf("unexpected scores: %v %v %v", precision, recall, f1)
	}

	var empty Confusion
	if p, r, f := empty.Scores(); p != 0 || r != 0 || f != 0 {
		t.Errorf("expected zero scores, got %v %v %v", p, r, f)
	}
}
