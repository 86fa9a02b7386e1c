package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// StripCodeFences removes a surrounding ```json or ``` fence.
func StripCodeFences(s string) string {
	cleaned := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(cleaned, "```json"):
		cleaned = cleaned[len("```json"):]
	case strings.HasPrefix(cleaned, "```"):
		cleaned = cleaned[len("```"):]
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}

type rawDecision struct {
	Action     *string         `json:"action"`
	Confidence *float64        `json:"confidence"`
	Reasoning  *string         `json:"reasoning"`
	Params     json.RawMessage `json:"params"`
}

// ParseDecision turns generator output into a validated TradeDecision.
// Every failure wraps models.ErrInvalidDecision; nothing is coerced.
func ParseDecision(response string) (models.TradeDecision, error) {
	body := StripCodeFences(response)
	if body == "" {
		return models.TradeDecision{}, fmt.Errorf("%w: empty response", models.ErrInvalidDecision)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	var raw rawDecision
	if err := dec.Decode(&raw); err != nil {
		return models.TradeDecision{}, fmt.Errorf("%w: malformed json: %v", models.ErrInvalidDecision, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return models.TradeDecision{}, fmt.Errorf("%w: trailing content after json object", models.ErrInvalidDecision)
	}

	if raw.Action == nil {
		return models.TradeDecision{}, fmt.Errorf("%w: missing action", models.ErrInvalidDecision)
	}
	action := models.TradeAction(*raw.Action)
	if !action.Valid() {
		return models.TradeDecision{}, fmt.Errorf("%w: invalid action %q", models.ErrInvalidDecision, *raw.Action)
	}
	if raw.Confidence == nil {
		return models.TradeDecision{}, fmt.Errorf("%w: missing confidence", models.ErrInvalidDecision)
	}
	if raw.Reasoning == nil {
		return models.TradeDecision{}, fmt.Errorf("%w: missing reasoning", models.ErrInvalidDecision)
	}

	params, err := models.DecodeParams(action, raw.Params)
	if err != nil {
		return models.TradeDecision{}, err
	}

	d := models.TradeDecision{
		Action:     action,
		Confidence: *raw.Confidence,
		Reasoning:  strings.TrimSpace(*raw.Reasoning),
		Params:     params,
	}
	if err := d.Validate(); err != nil {
		return models.TradeDecision{}, err
	}
	return d, nil
}

// ParseAnalysis decodes a market analysis. Missing lists become empty and an unknown sentiment reads as neutral.
func ParseAnalysis(response string) (models.MarketAnalysis, error) {
	body := StripCodeFences(response)

	var a models.MarketAnalysis
	if err := json.NewDecoder(bytes.NewReader([]byte(body))).Decode(&a); err != nil {
		return models.MarketAnalysis{}, fmt.Errorf("failed to parse market analysis: %w", err)
	}

	switch a.Sentiment {
	case models.SentimentVeryBearish, models.SentimentBearish, models.SentimentNeutral,
		models.SentimentBullish, models.SentimentVeryBullish:
	default:
		a.Sentiment = models.SentimentNeutral
	}
	if a.KeyInsights == nil {
		a.KeyInsights = []string{}
	}
	if a.Opportunities == nil {
		a.Opportunities = []models.Opportunity{}
	}
	if a.Risks == nil {
		a.Risks = []string{}
	}
	return a, nil
}
