//go:build integration

// Package integration provides end-to-end tests against a running TrustScore
// server.
//
// These tests drive the complete pipeline over HTTP:
//
//	POST /ingest -> transaction store -> detectors -> flags -> reputation -> compatibility
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must run with the default rule sets. Every test derives its
// addresses from the current time so repeated runs against a persistent
// database do not collide.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

type testConfig struct {
	BaseURL string
}

func getTestConfig() testConfig {
	baseURL := os.Getenv("TRUSTSCORE_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return testConfig{BaseURL: baseURL}
}

// Payment is the POST /ingest body.
type Payment struct {
	TxHash      string `json:"txHash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	BlockHeight int64  `json:"blockHeight"`
	Timestamp   int64  `json:"timestamp"`
}

type finding struct {
	Type     string `json:"type"`
	Severity int    `json:"severity"`
}

type flag struct {
	ID         string `json:"id"`
	FlagType   string `json:"flagType"`
	IsResolved bool   `json:"isResolved"`
}

type evaluation struct {
	Findings []finding `json:"findings"`
	Flags    []flag    `json:"flags"`
}

type reputation struct {
	Score             int    `json:"score"`
	TrustLevel        string `json:"trustLevel"`
	TotalTransactions int    `json:"totalTransactions"`
	UniquePayers      int    `json:"uniquePayers"`
	ActiveFlags       int    `json:"activeFlags"`
}

type assessment struct {
	CompatibilityScore int      `json:"compatibilityScore"`
	Recommended        bool     `json:"recommended"`
	RiskLevel          string   `json:"riskLevel"`
	ActiveFlags        int      `json:"activeFlags"`
	Warnings           []string `json:"warnings"`
}

// addressSpace hands out unique addresses and hashes for one test.
type addressSpace struct {
	seed int64
	next int64
}

func newAddressSpace() *addressSpace {
	return &addressSpace{seed: time.Now().UnixNano() & 0xffffffffffff}
}

func (a *addressSpace) address() string {
	a.next++
	return fmt.Sprintf("0x%028x%012x", a.seed, a.next)
}

func (a *addressSpace) hash() string {
	a.next++
	return fmt.Sprintf("0x%052x%012x", a.seed, a.next)
}

func call(t *testing.T, cfg testConfig, method, path string, body, dst any) int {
	t.Helper()

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, cfg.BaseURL+path, buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Payment", "integration-test")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if dst != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(respBody, dst); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, respBody)
		}
	}
	return resp.StatusCode
}

func ingestAll(t *testing.T, cfg testConfig, payments []Payment) {
	t.Helper()
	for _, p := range payments {
		if status := call(t, cfg, http.MethodPost, "/ingest", p, nil); status != http.StatusCreated {
			t.Fatalf("Expected 201 for %s, got %d", p.TxHash, status)
		}
	}
}

func hasFinding(findings []finding, kind string) bool {
	for _, f := range findings {
		if f.Type == kind {
			return true
		}
	}
	return false
}

// ============================================================================
// SCENARIO 1: Organic service (no findings)
// ============================================================================

func TestOrganicService_NoFindings(t *testing.T) {
	/*
	   SCENARIO: 20 different payers each pay once, one payment per day,
	   for the last 20 days, with varied amounts.

	   EXPECTED: no detector fires; reputation counts all 20 payments.
	*/
	cfg := getTestConfig()
	space := newAddressSpace()
	service := space.address()
	now := time.Now().Unix()

	var payments []Payment
	for i := 0; i < 20; i++ {
		payments = append(payments, Payment{
			TxHash:      space.hash(),
			From:        space.address(),
			To:          service,
			Amount:      fmt.Sprintf("%d.25", 5+i%7),
			BlockHeight: int64(1000 + i),
			Timestamp:   now - int64(20-i)*86400,
		})
	}
	ingestAll(t, cfg, payments)

	var eval evaluation
	if status := call(t, cfg, http.MethodPost, "/fraud/"+service+"/evaluate", nil, &eval); status != http.StatusOK {
		t.Fatalf("Expected 200 from evaluate, got %d", status)
	}
	if len(eval.Findings) != 0 {
		t.Errorf("Expected no findings, got %+v", eval.Findings)
	}

	var rep reputation
	call(t, cfg, http.MethodGet, "/reputation/service/"+service+"?recalculate=true", nil, &rep)
	if rep.TotalTransactions != 20 || rep.UniquePayers != 20 {
		t.Errorf("Expected 20 transactions from 20 payers, got %+v", rep)
	}
	t.Logf("organic service: score=%d trust=%s", rep.Score, rep.TrustLevel)
}

// ============================================================================
// SCENARIO 2: Wash trading
// ============================================================================

func TestWashTrading_FlaggedAndPenalized(t *testing.T) {
	/*
	   SCENARIO: 150 payments to one service from exactly 3 payers, each
	   always paying 10.00, spread over the last 30 days.

	   EXPECTED:
	   - the alerting rule set reports wash_trading and persists a flag
	   - the fraud score drops below the clean 100
	   - the reputation snapshot carries the active flag
	   - compatibility with any agent is not recommended and high risk
	*/
	cfg := getTestConfig()
	space := newAddressSpace()
	service := space.address()
	payers := []string{space.address(), space.address(), space.address()}
	now := time.Now().Unix()

	var payments []Payment
	for i := 0; i < 150; i++ {
		payments = append(payments, Payment{
			TxHash:      space.hash(),
			From:        payers[i%3],
			To:          service,
			Amount:      "10.00",
			BlockHeight: int64(5000 + i),
			Timestamp:   now - 30*86400 + int64(i)*17280,
		})
	}
	ingestAll(t, cfg, payments)

	var eval evaluation
	call(t, cfg, http.MethodPost, "/fraud/"+service+"/evaluate", nil, &eval)
	if !hasFinding(eval.Findings, "wash_trading") {
		t.Fatalf("Expected wash_trading finding, got %+v", eval.Findings)
	}

	var score struct {
		Score     int    `json:"score"`
		RiskLevel string `json:"riskLevel"`
	}
	call(t, cfg, http.MethodGet, "/fraud/"+service+"/score", nil, &score)
	if score.Score >= 100 || score.RiskLevel == "low" {
		t.Errorf("Expected a reduced fraud score, got %+v", score)
	}

	var rep reputation
	call(t, cfg, http.MethodGet, "/reputation/service/"+service+"?recalculate=true", nil, &rep)
	if rep.ActiveFlags == 0 {
		t.Errorf("Expected active flags on the snapshot, got %+v", rep)
	}

	var a assessment
	call(t, cfg, http.MethodGet, "/compatibility?service="+service+"&agent="+payers[0], nil, &a)
	if a.Recommended || a.RiskLevel != "high" || a.ActiveFlags == 0 {
		t.Errorf("Expected high-risk non-recommended pairing, got %+v", a)
	}

	t.Logf("wash service: fraud score=%d risk=%s reputation=%d compat=%d",
		score.Score, score.RiskLevel, rep.Score, a.CompatibilityScore)
}

// ============================================================================
// SCENARIO 3: Redelivery from the watcher
// ============================================================================

func TestReplay_IsIdempotent(t *testing.T) {
	/*
	   SCENARIO: the upstream watcher delivers the same payment twice.

	   EXPECTED: the first write wins, the replay answers "duplicate" and
	   reputation counts the payment once.
	*/
	cfg := getTestConfig()
	space := newAddressSpace()
	p := Payment{
		TxHash:      space.hash(),
		From:        space.address(),
		To:          space.address(),
		Amount:      "3.00",
		BlockHeight: 42,
		Timestamp:   time.Now().Unix() - 60,
	}

	ingestAll(t, cfg, []Payment{p})

	var resp struct {
		Outcome string `json:"outcome"`
	}
	if status := call(t, cfg, http.MethodPost, "/ingest", p, &resp); status != http.StatusOK || resp.Outcome != "duplicate" {
		t.Fatalf("Expected 200 duplicate, got %d %q", status, resp.Outcome)
	}

	var rep reputation
	call(t, cfg, http.MethodGet, "/reputation/service/"+p.To+"?recalculate=true", nil, &rep)
	if rep.TotalTransactions != 1 {
		t.Errorf("Expected 1 transaction, got %d", rep.TotalTransactions)
	}
}

// ============================================================================
// SCENARIO 4: Manual flag resolution
// ============================================================================

func TestResolveFlag_RemovesPenalty(t *testing.T) {
	/*
	   SCENARIO: 60 payments in the last hour trip the velocity detector;
	   an operator then resolves the resulting flag.

	   EXPECTED: the flag leaves the active list but stays in history.
	*/
	cfg := getTestConfig()
	space := newAddressSpace()
	service := space.address()
	now := time.Now().Unix()

	var payments []Payment
	for i := 0; i < 60; i++ {
		payments = append(payments, Payment{
			TxHash:      space.hash(),
			From:        space.address(),
			To:          service,
			Amount:      "1.00",
			BlockHeight: int64(9000 + i),
			Timestamp:   now - 3000 + int64(i)*10,
		})
	}
	ingestAll(t, cfg, payments)

	var eval evaluation
	call(t, cfg, http.MethodPost, "/fraud/"+service+"/evaluate", nil, &eval)
	var velocityID string
	for _, f := range eval.Flags {
		if f.FlagType == "velocity_abuse" {
			velocityID = f.ID
		}
	}
	if velocityID == "" {
		t.Fatalf("Expected velocity_abuse flag, got %+v", eval.Flags)
	}

	if status := call(t, cfg, http.MethodPost, "/fraud/flags/"+velocityID+"/resolve", nil, nil); status != http.StatusOK {
		t.Fatalf("Expected 200 from resolve, got %d", status)
	}

	var active struct {
		Flags []flag `json:"flags"`
	}
	call(t, cfg, http.MethodGet, "/fraud/"+service+"/flags", nil, &active)
	for _, f := range active.Flags {
		if f.ID == velocityID {
			t.Errorf("Resolved flag %s still active", velocityID)
		}
	}

	var history struct {
		Flags []flag `json:"flags"`
	}
	call(t, cfg, http.MethodGet, "/fraud/"+service+"/flags?includeResolved=true", nil, &history)
	var kept bool
	for _, f := range history.Flags {
		if f.ID == velocityID && f.IsResolved {
			kept = true
		}
	}
	if !kept {
		t.Errorf("Expected resolved flag in history, got %+v", history.Flags)
	}
}
