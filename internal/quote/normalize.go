package quote

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// reading is what a provider shape yields before it becomes a Quote.
type reading struct {
	value  decimal.Decimal
	change decimal.Decimal
}

// number accepts JSON numbers and numeric strings; anything else stays unset.
type number struct {
	value decimal.Decimal
	set   bool
}

func (n *number) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(bytes.Trim(data, `"`)))
	if raw == "" || raw == "null" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		// Non-numeric fields make the shape miss, they do not abort decoding.
		return nil
	}
	n.value, n.set = d, true
	return nil
}

// first returns the first populated candidate.
func first(candidates ...number) (decimal.Decimal, bool) {
	for _, c := range candidates {
		if c.set {
			return c.value, true
		}
	}
	return decimal.Decimal{}, false
}

// awesomePayload is the AwesomeAPI shape: {"USDBRL": {"bid": "5.42", ...}}.
type awesomePayload struct {
	USDBRL *struct {
		Bid       number `json:"bid"`
		Ask       number `json:"ask"`
		High      number `json:"high"`
		Low       number `json:"low"`
		PctChange number `json:"pctChange"`
	} `json:"USDBRL"`
}

// ratesPayload is the ExchangeRate-API shape: {"rates": {"BRL": 5.42}}.
type ratesPayload struct {
	Rates map[string]number `json:"rates"`
}

// usdPayload is an alternate provider shape: {"USD": {"bid": ..., "value": ...}}.
type usdPayload struct {
	USD *struct {
		Bid       number `json:"bid"`
		Ask       number `json:"ask"`
		Value     number `json:"value"`
		PctChange number `json:"pctChange"`
	} `json:"USD"`
}

// barePayload is the minimal shape: {"value": 5.42}.
type barePayload struct {
	Value number `json:"value"`
}

// shape is one attempt in the ordered normalisation list.
type shape struct {
	name    string
	extract func(body []byte) (reading, bool)
}

var shapes = []shape{
	{name: "awesomeapi", extract: func(body []byte) (reading, bool) {
		var p awesomePayload
		if json.Unmarshal(body, &p) != nil || p.USDBRL == nil {
			return reading{}, false
		}
		v, ok := first(p.USDBRL.Bid, p.USDBRL.Ask, p.USDBRL.High, p.USDBRL.Low)
		return reading{value: v, change: p.USDBRL.PctChange.value}, ok
	}},
	{name: "rates", extract: func(body []byte) (reading, bool) {
		var p ratesPayload
		if json.Unmarshal(body, &p) != nil {
			return reading{}, false
		}
		brl, ok := p.Rates[currencyCode]
		if !ok || !brl.set {
			return reading{}, false
		}
		return reading{value: brl.value}, true
	}},
	{name: "usd", extract: func(body []byte) (reading, bool) {
		var p usdPayload
		if json.Unmarshal(body, &p) != nil || p.USD == nil {
			return reading{}, false
		}
		v, ok := first(p.USD.Bid, p.USD.Ask, p.USD.Value)
		return reading{value: v, change: p.USD.PctChange.value}, ok
	}},
	{name: "bare", extract: func(body []byte) (reading, bool) {
		var p barePayload
		if json.Unmarshal(body, &p) != nil {
			return reading{}, false
		}
		return reading{value: p.Value.value}, p.Value.set
	}},
}

const currencyCode = "BRL"

// normalize walks the known shapes in order and returns the first positive value.
func normalize(body []byte) (reading, string, error) {
	for _, s := range shapes {
		r, ok := s.extract(body)
		if !ok || !r.value.IsPositive() {
			continue
		}
		return r, s.name, nil
	}
	return reading{}, "", ErrNoValue
}
