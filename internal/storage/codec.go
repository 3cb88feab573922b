package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"rlfit/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion stamps a record with the versions this build writes.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

// versionedTable wraps result rows so that whole tables carry a version.
type versionedTable[T any] struct {
	model.VersionedRecord
	Rows []T `json:"rows"`
}

func EncodeRun(run model.RunRecord) ([]byte, error) {
	return json.Marshal(run)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeRecovery(records []model.RecoveryRecord) ([]byte, error) {
	return encodeTable(records)
}

func DecodeRecovery(data []byte) ([]model.RecoveryRecord, error) {
	return decodeTable[model.RecoveryRecord](data)
}

func EncodeSplitRecovery(records []model.SplitRecoveryRecord) ([]byte, error) {
	return encodeTable(records)
}

func DecodeSplitRecovery(data []byte) ([]model.SplitRecoveryRecord, error) {
	return decodeTable[model.SplitRecoveryRecord](data)
}

func EncodeSubjectFits(fits []model.SubjectFitRecord) ([]byte, error) {
	return encodeTable(fits)
}

func DecodeSubjectFits(data []byte) ([]model.SubjectFitRecord, error) {
	return decodeTable[model.SubjectFitRecord](data)
}

func encodeTable[T any](rows []T) ([]byte, error) {
	if rows == nil {
		rows = []T{}
	}
	return json.Marshal(versionedTable[T]{VersionedRecord: CurrentVersion(), Rows: rows})
}

func decodeTable[T any](data []byte) ([]T, error) {
	var table versionedTable[T]
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, err
	}
	if err := checkVersion(table.VersionedRecord); err != nil {
		return nil, err
	}
	if table.Rows == nil {
		table.Rows = []T{}
	}
	return table.Rows, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}
