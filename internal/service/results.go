package service

import "transit-tracker/internal/domain"

const CodeInternal = "INTERNAL_ERROR"

// CommandResult is the caller-facing outcome of one command. Failures carry the stable error
// code and the offending values instead of a raw error.
type CommandResult struct {
	Success   bool           `json:"success"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message,omitempty"`
	VehicleID string         `json:"vehicle_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func Succeeded(vehicleID string) CommandResult {
	return CommandResult{Success: true, VehicleID: vehicleID}
}

func Failed(vehicleID string, err error) CommandResult {
	res := CommandResult{VehicleID: vehicleID, Code: domain.CodeOf(err), Message: err.Error(), Fields: domain.FieldsOf(err)}
	if res.Code == "" {
		res.Code = CodeInternal
	}
	return res
}
