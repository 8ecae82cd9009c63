package sqlite

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/copyleftdev/sweep/internal/hpo"
)

// distRecord is the JSON shape a distribution descriptor persists as.
// Categorical choices record their scalar kind so integer choices
// survive the JSON float round-trip.
type distRecord struct {
	Kind       string        `json:"kind"`
	Low        float64       `json:"low,omitempty"`
	High       float64       `json:"high,omitempty"`
	Step       float64       `json:"step,omitempty"`
	Log        bool          `json:"log,omitempty"`
	Choices    []interface{} `json:"choices,omitempty"`
	ChoiceKind string        `json:"choice_kind,omitempty"`
}

func encodeDistribution(dist hpo.Distribution) (string, error) {
	var rec distRecord
	switch d := dist.(type) {
	case hpo.IntDistribution:
		rec = distRecord{Kind: d.Kind(), Low: float64(d.Low), High: float64(d.High), Step: float64(d.Step), Log: d.Log}
	case hpo.FloatDistribution:
		rec = distRecord{Kind: d.Kind(), Low: d.Low, High: d.High, Step: d.Step, Log: d.Log}
	case hpo.CategoricalDistribution:
		rec = distRecord{Kind: d.Kind(), Choices: d.Choices}
		if len(d.Choices) > 0 {
			switch d.Choices[0].(type) {
			case bool:
				rec.ChoiceKind = "bool"
			case int64:
				rec.ChoiceKind = "int"
			case float64:
				rec.ChoiceKind = "float"
			case string:
				rec.ChoiceKind = "string"
			}
		}
	default:
		return "", fmt.Errorf("unsupported distribution %T", dist)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeDistribution(encoded string) (hpo.Distribution, error) {
	var rec distRecord
	if err := json.Unmarshal([]byte(encoded), &rec); err != nil {
		return nil, err
	}
	switch rec.Kind {
	case "int":
		return hpo.IntDistribution{
			Low:  int64(rec.Low),
			High: int64(rec.High),
			Step: int64(rec.Step),
			Log:  rec.Log,
		}, nil
	case "float":
		return hpo.FloatDistribution{Low: rec.Low, High: rec.High, Step: rec.Step, Log: rec.Log}, nil
	case "categorical":
		choices := make([]interface{}, len(rec.Choices))
		for i, c := range rec.Choices {
			choices[i] = decodeChoice(c, rec.ChoiceKind)
		}
		return hpo.CategoricalDistribution{Choices: choices}, nil
	default:
		return nil, fmt.Errorf("unknown distribution kind %q", rec.Kind)
	}
}

// decodeChoice undoes the JSON number widening for integer choices.
func decodeChoice(v interface{}, kind string) interface{} {
	if kind != "int" {
		return v
	}
	if f, ok := v.(float64); ok {
		return int64(math.Round(f))
	}
	return v
}
