// Package meter holds the reading type decoded from the PZEM-004T bridge,
// plausibility checks and counter reset detection.
package meter

import (
	"encoding/json"
	"strings"

	"codeberg.org/mutker/pzemd/internal/errors"
)

// Reading is one sample from the meter.
type Reading struct {
	Voltage     float64 `json:"voltage"`
	Current     float64 `json:"current"`
	Power       float64 `json:"power"`
	Energy      float64 `json:"energy"`
	Frequency   float64 `json:"frequency"`
	PowerFactor float64 `json:"pf"`
}

// StatusEnergyReset is sent by the bridge after it zeroes the counter.
const StatusEnergyReset = "energy reset"

type payload struct {
	Voltage   *float64 `json:"voltage"`
	Current   *float64 `json:"current"`
	Power     *float64 `json:"power"`
	Energy    *float64 `json:"energy"`
	Frequency *float64 `json:"frequency"`
	PF        *float64 `json:"pf"`
	Status    string   `json:"status"`
}

// DecodePayload parses a bridge message. Every measurement field must be
// present; status-only messages yield an ErrDeviceStatus error carrying the
// status text.
func DecodePayload(data []byte) (Reading, error) {
	errFactory := errors.New()

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Reading{}, errFactory.Wrap(ErrMalformedPayload, err)
	}

	var missing []string
	field := func(name string, v *float64) float64 {
		if v == nil {
			missing = append(missing, name)
			return 0
		}
		return *v
	}

	r := Reading{
		Voltage:     field("voltage", p.Voltage),
		Current:     field("current", p.Current),
		Power:       field("power", p.Power),
		Energy:      field("energy", p.Energy),
		Frequency:   field("frequency", p.Frequency),
		PowerFactor: field("pf", p.PF),
	}

	if len(missing) > 0 {
		if p.Status != "" && len(missing) == 6 {
			return Reading{}, errFactory.WithData(ErrDeviceStatus, p.Status)
		}
		return Reading{}, errFactory.WithData(ErrIncompleteReading, strings.Join(missing, ","))
	}

	return r, nil
}
