package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RecoveryRecord is one simulated subject of a grid recovery run.
type RecoveryRecord struct {
	Subject        int     `json:"subject"`
	SimulatedAlpha float64 `json:"simulated_alpha"`
	SimulatedBeta  float64 `json:"simulated_beta"`
	RecoveredAlpha float64 `json:"recovered_alpha"`
	RecoveredBeta  float64 `json:"recovered_beta"`
	Loss           float64 `json:"loss"`
	Failed         bool    `json:"failed,omitempty"`
}

// SplitRecoveryRecord is one simulated subject of a stable/volatile recovery run.
type SplitRecoveryRecord struct {
	Subject                int     `json:"subject"`
	SimulatedAlphaStable   float64 `json:"simulated_alpha_stable"`
	SimulatedAlphaVolatile float64 `json:"simulated_alpha_volatile"`
	SimulatedBeta          float64 `json:"simulated_beta"`
	RecoveredAlphaStable   float64 `json:"recovered_alpha_stable"`
	RecoveredAlphaVolatile float64 `json:"recovered_alpha_volatile"`
	RecoveredBeta          float64 `json:"recovered_beta"`
	Loss                   float64 `json:"loss"`
	Failed                 bool    `json:"failed,omitempty"`
}

// SubjectFitRecord is the persisted outcome of fitting one subject.
type SubjectFitRecord struct {
	Subject    string             `json:"subject"`
	Params     map[string]float64 `json:"params,omitempty"`
	Loss       float64            `json:"loss"`
	Iterations int                `json:"iterations"`
	Seed       int64              `json:"seed"`
	Error      string             `json:"error,omitempty"`
}

const (
	RunKindFit           = "fit"
	RunKindRecovery      = "recovery"
	RunKindSplitRecovery = "split_recovery"
)

type RunRecord struct {
	VersionedRecord
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	CreatedAtUTC string `json:"created_at_utc"`
	Variant      string `json:"variant"`
	Subjects     int    `json:"subjects"`
	Failed       int    `json:"failed"`
	NInits       int    `json:"n_inits"`
	Seed         int64  `json:"seed"`
}
