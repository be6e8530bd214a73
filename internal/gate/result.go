package gate

// Reason tags why a check-in was rejected.
type Reason string

const (
	ReasonMalformedToken       Reason = "malformed_token"
	ReasonExpiredToken         Reason = "expired_token"
	ReasonOutOfRange           Reason = "out_of_range"
	ReasonDeviceBoundElsewhere Reason = "device_bound_elsewhere"
	ReasonRollBoundElsewhere   Reason = "roll_bound_elsewhere"
	ReasonUnknownIdentity      Reason = "unknown_identity"
	ReasonAlreadyMarked        Reason = "already_marked"
)

// Rejection is the tagged outcome of a refused check-in. Every field beyond
// Reason and Message is populated only when it applies: the token age on
// expiry, the measured distance on a geofence miss, the conflicting roll
// number on a device clash, the failed field on an identity miss, the
// existing day on a duplicate. Rejections are expected outcomes and cross
// the component boundary as data, not as Go errors.
type Rejection struct {
	Reason      Reason  `json:"reason"`
	Message     string  `json:"message"`
	AgeSeconds  int64   `json:"age_seconds,omitempty"`
	DistanceM   float64 `json:"distance_m,omitempty"`
	RadiusM     float64 `json:"radius_m,omitempty"`
	OtherRoll   string  `json:"other_roll,omitempty"`
	Field       string  `json:"field,omitempty"`
	ExistingDay string  `json:"existing_day,omitempty"`
}
