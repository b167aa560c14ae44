// Package units provides shared constants and validation for force units
package units

// Unit constants
const (
	LB  = "lb"
	N   = "n"
	KGF = "kgf"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{LB, N, KGF}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "lb, n, kgf"
}

// ConvertForce converts a force from pounds to the target units.
// The database and the tester head both work in pounds-force.
func ConvertForce(forceLb float64, targetUnits string) float64 {
	switch targetUnits {
	case LB:
		return forceLb
	case N:
		return forceLb * 4.4482216153
	case KGF:
		return forceLb * 0.45359237
	default:
		return forceLb
	}
}
