// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// TokenPricing contains per-1K-token prices for a model, in micro-USD.
type TokenPricing struct {
	InputPer1KMicros  int64 `json:"input_per_1k_micros"`
	OutputPer1KMicros int64 `json:"output_per_1k_micros"`
}

// PriceTable holds the per-supplier prices used to estimate and settle paid
// external calls. Flat-rate suppliers (search, rerank) are priced per call
// credit; LLM suppliers are priced per 1K tokens. All prices in micro-USD.
type PriceTable struct {
	CallMicros map[string]int64                   `json:"call_micros"`
	Tokens     map[string]map[string]TokenPricing `json:"tokens"`
	mu         sync.RWMutex
}

// DefaultPrices is the built-in price table (October 2025 list prices).
var DefaultPrices = &PriceTable{
	CallMicros: map[string]int64{
		// One search credit per basic query, two per advanced.
		"tavily": 8_000,
		// Priced per rerank request.
		"cohere-rerank": 2_000,
		"serper":        1_000,
	},
	Tokens: map[string]map[string]TokenPricing{
		"openrouter": {
			"anthropic/claude-sonnet-4":  {InputPer1KMicros: 3_000, OutputPer1KMicros: 15_000},
			"anthropic/claude-haiku-3.5": {InputPer1KMicros: 800, OutputPer1KMicros: 4_000},
			"openai/gpt-4o":              {InputPer1KMicros: 2_500, OutputPer1KMicros: 10_000},
			"openai/gpt-4o-mini":         {InputPer1KMicros: 150, OutputPer1KMicros: 600},
			"*":                          {InputPer1KMicros: 3_000, OutputPer1KMicros: 15_000},
		},
		"bedrock": {
			"anthropic.claude-3-5-sonnet-20241022-v2:0": {InputPer1KMicros: 3_000, OutputPer1KMicros: 15_000},
			"*": {InputPer1KMicros: 3_000, OutputPer1KMicros: 15_000},
		},
	},
}

// NewPriceTable returns a deep copy of the defaults, safe to mutate.
func NewPriceTable() *PriceTable {
	t := &PriceTable{
		CallMicros: make(map[string]int64, len(DefaultPrices.CallMicros)),
		Tokens:     make(map[string]map[string]TokenPricing, len(DefaultPrices.Tokens)),
	}
	for supplier, price := range DefaultPrices.CallMicros {
		t.CallMicros[supplier] = price
	}
	for supplier, models := range DefaultPrices.Tokens {
		t.Tokens[supplier] = make(map[string]TokenPricing, len(models))
		for model, pricing := range models {
			t.Tokens[supplier][model] = pricing
		}
	}
	return t
}

// LoadPriceTable reads a JSON price file and merges it over the defaults.
// Used for deploy-time price overrides without a rebuild.
func LoadPriceTable(path string) (*PriceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read price table: %w", err)
	}

	var override PriceTable
	if err := json.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse price table: %w", err)
	}

	t := NewPriceTable()
	for supplier, price := range override.CallMicros {
		t.CallMicros[strings.ToLower(supplier)] = price
	}
	for supplier, models := range override.Tokens {
		supplier = strings.ToLower(supplier)
		if t.Tokens[supplier] == nil {
			t.Tokens[supplier] = make(map[string]TokenPricing)
		}
		for model, pricing := range models {
			t.Tokens[supplier][model] = pricing
		}
	}
	return t, nil
}

// CallCost prices a flat-rate call in micro-USD. Fractional credits are
// rounded half-up at this boundary. Unknown suppliers cost 0 (self-hosted or
// unmetered integrations).
func (t *PriceTable) CallCost(supplier string, credits float64) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	price, ok := t.CallMicros[strings.ToLower(supplier)]
	if !ok {
		return 0
	}
	return CallCostMicros(credits, price)
}

// TokenCost prices an LLM call in micro-USD from token counts. Falls back to
// the supplier's wildcard entry for unknown models.
func (t *PriceTable) TokenCost(supplier, model string, tokensIn, tokensOut int) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	models, ok := t.Tokens[strings.ToLower(supplier)]
	if !ok {
		return 0
	}
	pricing, ok := models[model]
	if !ok {
		pricing, ok = models["*"]
		if !ok {
			return 0
		}
	}

	in := float64(tokensIn) / 1000.0 * float64(pricing.InputPer1KMicros)
	out := float64(tokensOut) / 1000.0 * float64(pricing.OutputPer1KMicros)
	return roundHalfUp(in + out)
}

// SetCallPrice sets the flat per-credit price for a supplier.
func (t *PriceTable) SetCallPrice(supplier string, micros int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallMicros[strings.ToLower(supplier)] = micros
}
