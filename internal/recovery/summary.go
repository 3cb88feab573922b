package recovery

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"rlfit/internal/model"
)

// ParamSummary scores how well one parameter was recovered across the
// non-failed subjects of a recovery run.
type ParamSummary struct {
	Param       string  `json:"param"`
	N           int     `json:"n"`
	Correlation float64 `json:"correlation"`
	RMSE        float64 `json:"rmse"`
	Bias        float64 `json:"bias"`
}

func Summarize(records []model.RecoveryRecord) []ParamSummary {
	var simAlpha, recAlpha, simBeta, recBeta []float64
	for _, r := range records {
		if r.Failed {
			continue
		}
		simAlpha = append(simAlpha, r.SimulatedAlpha)
		recAlpha = append(recAlpha, r.RecoveredAlpha)
		simBeta = append(simBeta, r.SimulatedBeta)
		recBeta = append(recBeta, r.RecoveredBeta)
	}
	return []ParamSummary{
		summarize(model.ParamAlpha, simAlpha, recAlpha),
		summarize(model.ParamBeta, simBeta, recBeta),
	}
}

func SummarizeSplit(records []model.SplitRecoveryRecord) []ParamSummary {
	var simStable, recStable, simVolatile, recVolatile, simBeta, recBeta []float64
	for _, r := range records {
		if r.Failed {
			continue
		}
		simStable = append(simStable, r.SimulatedAlphaStable)
		recStable = append(recStable, r.RecoveredAlphaStable)
		simVolatile = append(simVolatile, r.SimulatedAlphaVolatile)
		recVolatile = append(recVolatile, r.RecoveredAlphaVolatile)
		simBeta = append(simBeta, r.SimulatedBeta)
		recBeta = append(recBeta, r.RecoveredBeta)
	}
	return []ParamSummary{
		summarize(model.ParamAlphaStable, simStable, recStable),
		summarize(model.ParamAlphaVolatile, simVolatile, recVolatile),
		summarize(model.ParamBeta, simBeta, recBeta),
	}
}

// summarize returns NaN statistics when there are no rows. Correlation is
// also NaN when either column is constant.
func summarize(name string, simulated, recovered []float64) ParamSummary {
	out := ParamSummary{Param: name, N: len(simulated)}
	if out.N == 0 {
		out.Correlation, out.RMSE, out.Bias = math.NaN(), math.NaN(), math.NaN()
		return out
	}
	diff := make([]float64, out.N)
	floats.SubTo(diff, recovered, simulated)
	out.Bias = stat.Mean(diff, nil)
	out.RMSE = floats.Norm(diff, 2) / math.Sqrt(float64(out.N))
	out.Correlation = math.NaN()
	if out.N > 1 {
		out.Correlation = stat.Correlation(simulated, recovered, nil)
	}
	return out
}

func (s ParamSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Param       string              `json:"param"`
		N           int                 `json:"n"`
		Correlation model.NullableFloat `json:"correlation"`
		RMSE        model.NullableFloat `json:"rmse"`
		Bias        model.NullableFloat `json:"bias"`
	}{s.Param, s.N, model.NullableFloat(s.Correlation), model.NullableFloat(s.RMSE), model.NullableFloat(s.Bias)})
}

func (s *ParamSummary) UnmarshalJSON(data []byte) error {
	var w struct {
		Param       string              `json:"param"`
		N           int                 `json:"n"`
		Correlation model.NullableFloat `json:"correlation"`
		RMSE        model.NullableFloat `json:"rmse"`
		Bias        model.NullableFloat `json:"bias"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = ParamSummary{
		Param:       w.Param,
		N:           w.N,
		Correlation: float64(w.Correlation),
		RMSE:        float64(w.RMSE),
		Bias:        float64(w.Bias),
	}
	return nil
}
