package domain

type VehicleStatus string

const (
	VehicleStatusAtDepot     VehicleStatus = "AT_DEPOT"
	VehicleStatusActive      VehicleStatus = "ACTIVE"
	VehicleStatusInRoute     VehicleStatus = "IN_ROUTE"
	VehicleStatusInactive    VehicleStatus = "INACTIVE"
	VehicleStatusMaintenance VehicleStatus = "MAINTENANCE"
	VehicleStatusBreakdown   VehicleStatus = "BREAKDOWN"
	VehicleStatusRetired     VehicleStatus = "RETIRED"
)

var vehicleTransitions = map[VehicleStatus][]VehicleStatus{
	VehicleStatusAtDepot: {VehicleStatusActive},
	VehicleStatusActive: {
		VehicleStatusInRoute,
		VehicleStatusMaintenance,
		VehicleStatusInactive,
		VehicleStatusBreakdown,
		VehicleStatusRetired,
	},
	VehicleStatusInRoute:     {VehicleStatusActive},
	VehicleStatusMaintenance: {VehicleStatusActive},
}

func ParseVehicleStatus(raw string) (VehicleStatus, bool) {
	status := VehicleStatus(raw)
	switch status {
	case VehicleStatusAtDepot, VehicleStatusActive, VehicleStatusInRoute, VehicleStatusInactive,
		VehicleStatusMaintenance, VehicleStatusBreakdown, VehicleStatusRetired:
		return status, true
	default:
		return "", false
	}
}

// Trackable reports whether the status accepts location updates.
func (s VehicleStatus) Trackable() bool {
	switch s {
	case VehicleStatusAtDepot, VehicleStatusActive, VehicleStatusInRoute,
		VehicleStatusMaintenance, VehicleStatusBreakdown:
		return true
	default:
		return false
	}
}

// Assignable reports whether a route may be assigned in this status.
func (s VehicleStatus) Assignable() bool {
	return s == VehicleStatusAtDepot || s == VehicleStatusActive
}

// ClearsRoute reports whether entering this status drops the route assignment.
func (s VehicleStatus) ClearsRoute() bool {
	return s == VehicleStatusMaintenance || s == VehicleStatusBreakdown
}

func (s VehicleStatus) CanTransitionTo(next VehicleStatus) bool {
	if s == next {
		return false
	}
	for _, allowed := range vehicleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SignificanceThresholdMeters is the minimum movement treated as real motion.
func (s VehicleStatus) SignificanceThresholdMeters() float64 {
	switch s {
	case VehicleStatusInRoute:
		return 5
	case VehicleStatusActive:
		return 10
	case VehicleStatusAtDepot:
		return 20
	default:
		return 50
	}
}
