package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// NullableFloat encodes NaN and infinities as JSON null and decodes null as
// NaN. Failed subjects carry NaN estimates, which encoding/json rejects.
type NullableFloat float64

func (f NullableFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *NullableFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = NullableFloat(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = NullableFloat(v)
	return nil
}

type recoveryRecordJSON struct {
	Subject        int           `json:"subject"`
	SimulatedAlpha NullableFloat `json:"simulated_alpha"`
	SimulatedBeta  NullableFloat `json:"simulated_beta"`
	RecoveredAlpha NullableFloat `json:"recovered_alpha"`
	RecoveredBeta  NullableFloat `json:"recovered_beta"`
	Loss           NullableFloat `json:"loss"`
	Failed         bool          `json:"failed,omitempty"`
}

func (r RecoveryRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(recoveryRecordJSON{
		Subject:        r.Subject,
		SimulatedAlpha: NullableFloat(r.SimulatedAlpha),
		SimulatedBeta:  NullableFloat(r.SimulatedBeta),
		RecoveredAlpha: NullableFloat(r.RecoveredAlpha),
		RecoveredBeta:  NullableFloat(r.RecoveredBeta),
		Loss:           NullableFloat(r.Loss),
		Failed:         r.Failed,
	})
}

func (r *RecoveryRecord) UnmarshalJSON(data []byte) error {
	var w recoveryRecordJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = RecoveryRecord{
		Subject:        w.Subject,
		SimulatedAlpha: float64(w.SimulatedAlpha),
		SimulatedBeta:  float64(w.SimulatedBeta),
		RecoveredAlpha: float64(w.RecoveredAlpha),
		RecoveredBeta:  float64(w.RecoveredBeta),
		Loss:           float64(w.Loss),
		Failed:         w.Failed,
	}
	return nil
}

type splitRecoveryRecordJSON struct {
	Subject                int           `json:"subject"`
	SimulatedAlphaStable   NullableFloat `json:"simulated_alpha_stable"`
	SimulatedAlphaVolatile NullableFloat `json:"simulated_alpha_volatile"`
	SimulatedBeta          NullableFloat `json:"simulated_beta"`
	RecoveredAlphaStable   NullableFloat `json:"recovered_alpha_stable"`
	RecoveredAlphaVolatile NullableFloat `json:"recovered_alpha_volatile"`
	RecoveredBeta          NullableFloat `json:"recovered_beta"`
	Loss                   NullableFloat `json:"loss"`
	Failed                 bool          `json:"failed,omitempty"`
}

func (r SplitRecoveryRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(splitRecoveryRecordJSON{
		Subject:                r.Subject,
		SimulatedAlphaStable:   NullableFloat(r.SimulatedAlphaStable),
		SimulatedAlphaVolatile: NullableFloat(r.SimulatedAlphaVolatile),
		SimulatedBeta:          NullableFloat(r.SimulatedBeta),
		RecoveredAlphaStable:   NullableFloat(r.RecoveredAlphaStable),
		RecoveredAlphaVolatile: NullableFloat(r.RecoveredAlphaVolatile),
		RecoveredBeta:          NullableFloat(r.RecoveredBeta),
		Loss:                   NullableFloat(r.Loss),
		Failed:                 r.Failed,
	})
}

func (r *SplitRecoveryRecord) UnmarshalJSON(data []byte) error {
	var w splitRecoveryRecordJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = SplitRecoveryRecord{
		Subject:                w.Subject,
		SimulatedAlphaStable:   float64(w.SimulatedAlphaStable),
		SimulatedAlphaVolatile: float64(w.SimulatedAlphaVolatile),
		SimulatedBeta:          float64(w.SimulatedBeta),
		RecoveredAlphaStable:   float64(w.RecoveredAlphaStable),
		RecoveredAlphaVolatile: float64(w.RecoveredAlphaVolatile),
		RecoveredBeta:          float64(w.RecoveredBeta),
		Loss:                   float64(w.Loss),
		Failed:                 w.Failed,
	}
	return nil
}

type subjectFitRecordJSON struct {
	Subject    string                   `json:"subject"`
	Params     map[string]NullableFloat `json:"params,omitempty"`
	Loss       NullableFloat            `json:"loss"`
	Iterations int                      `json:"iterations"`
	Seed       int64                    `json:"seed"`
	Error      string                   `json:"error,omitempty"`
}

func (r SubjectFitRecord) MarshalJSON() ([]byte, error) {
	w := subjectFitRecordJSON{
		Subject:    r.Subject,
		Loss:       NullableFloat(r.Loss),
		Iterations: r.Iterations,
		Seed:       r.Seed,
		Error:      r.Error,
	}
	if r.Params != nil {
		w.Params = make(map[string]NullableFloat, len(r.Params))
		for k, v := range r.Params {
			w.Params[k] = NullableFloat(v)
		}
	}
	return json.Marshal(w)
}

func (r *SubjectFitRecord) UnmarshalJSON(data []byte) error {
	var w subjectFitRecordJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = SubjectFitRecord{
		Subject:    w.Subject,
		Loss:       float64(w.Loss),
		Iterations: w.Iterations,
		Seed:       w.Seed,
		Error:      w.Error,
	}
	if w.Params != nil {
		r.Params = make(map[string]float64, len(w.Params))
		for k, v := range w.Params {
			r.Params[k] = float64(v)
		}
	}
	return nil
}

// Clone returns a copy whose Params map is not shared.
func (r SubjectFitRecord) Clone() SubjectFitRecord {
	out := r
	if r.Params != nil {
		out.Params = make(map[string]float64, len(r.Params))
		for k, v := range r.Params {
			out.Params[k] = v
		}
	}
	return out
}
