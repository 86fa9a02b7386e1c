package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/risk"
)

func TestRenderDecisions(t *testing.T) {
	var buf bytes.Buffer
	renderDecisions(&buf, []models.DecisionRecord{
		{ID: 2, Action: models.ActionSpotSwap, Confidence: 0.8, Reasoning: "momentum\nbuilding", Success: true, TxRef: "42", CreatedAt: time.Now()},
		{ID: 1, Action: models.ActionHold, Confidence: 0, Reasoning: "Risk blocked: daily loss", Error: "daily loss", CreatedAt: time.Now()},
	})

	out := buf.String()
	assert.Contains(t, out, "RECENT DECISIONS")
	assert.Contains(t, out, "SPOT_SWAP")
	assert.Contains(t, out, "momentum building")
	assert.Contains(t, out, "no: daily loss")
}

func TestRenderRisk(t *testing.T) {
	var buf bytes.Buffer
	renderRisk(&buf, risk.DefaultConfig(), risk.Context{DailyPnl: -12.5, DailyPnlPct: -0.0125, ConsecutiveLosses: 2})

	out := buf.String()
	assert.Contains(t, out, "25.00%")
	assert.Contains(t, out, "20.0x")
	assert.Contains(t, out, "$-12.50")
	assert.Contains(t, out, "Consecutive losses")
}
