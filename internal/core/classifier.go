package core

// Classification boundaries in °F
const (
	grillingMinTemp = 400.0
	roastingMinTemp = 300.0
	smokingMaxTemp  = 275.0
)

// Classify maps a session's peak temperature to its type. Applied exactly once
// at finalization. The 275–300°F band deliberately falls through to the
// generic "cooking" type.
func Classify(maxTempF float64) SessionType {
	switch {
	case maxTempF >= grillingMinTemp:
		return SessionTypeGrilling
	case maxTempF >= roastingMinTemp:
		return SessionTypeRoasting
	case maxTempF <= smokingMaxTemp:
		return SessionTypeSmoking
	default:
		return SessionTypeCooking
	}
}
