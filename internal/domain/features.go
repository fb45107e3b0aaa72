package domain

// FeatureNames lists the normalized dimensions in model input order.
var FeatureNames = []string{
	"amount",
	"merchant_risk",
	"device_age",
	"frequency",
	"avg_amount",
	"amount_velocity",
	"device_risk",
	"user_behavior",
	"pattern_risk",
	"time_of_day",
	"day_of_week",
}

// FeatureVector is the normalized view of one transaction's context.
// Every dimension lies in [0,1]. It is produced fresh per transaction
// and never mutated.
type FeatureVector struct {
	Amount         float64 `json:"amount"`
	MerchantRisk   float64 `json:"merchantRisk"`
	DeviceAge      float64 `json:"deviceAge"`
	Frequency      float64 `json:"frequency"`
	AvgAmount      float64 `json:"avgAmount"`
	AmountVelocity float64 `json:"amountVelocity"`
	DeviceRisk     float64 `json:"deviceRisk"`
	UserBehavior   float64 `json:"userBehavior"`
	PatternRisk    float64 `json:"patternRisk"`
	TimeOfDay      float64 `json:"timeOfDay"`
	DayOfWeek      float64 `json:"dayOfWeek"`

	Raw RawFeatures `json:"raw"`

	// Degraded is set when extraction fell back to the neutral vector.
	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degradedReason,omitempty"`
}

// RawFeatures holds the un-normalized inputs used for reasons and rules.
type RawFeatures struct {
	TransactionID  string  `json:"transactionId"`
	Amount         float64 `json:"amount"`
	MerchantRisk   float64 `json:"merchantRisk"`
	DeviceAgeHours float64 `json:"deviceAgeHours"`
	RecentCount    int64   `json:"recentCount"`
	HistoryCount   int     `json:"historyCount"`
	AvgAmount      float64 `json:"avgAmount"`
	AmountVelocity float64 `json:"amountVelocity"`
	UserTxCount    int64   `json:"userTxCount"`
	DeviceTxCount  int64   `json:"deviceTxCount"`
	ZScore         float64 `json:"zScore"`
	Hour           int     `json:"hour"`
	Weekday        int     `json:"weekday"`
}

// Values returns the normalized dimensions in FeatureNames order.
func (v *FeatureVector) Values() []float64 {
	return []float64{
		v.Amount,
		v.MerchantRisk,
		v.DeviceAge,
		v.Frequency,
		v.AvgAmount,
		v.AmountVelocity,
		v.DeviceRisk,
		v.UserBehavior,
		v.PatternRisk,
		v.TimeOfDay,
		v.DayOfWeek,
	}
}

// Payload flattens the vector into the key/value map stored with
// training examples. Normalized values are keyed by FeatureNames,
// raw inputs are prefixed with "raw_".
func (v *FeatureVector) Payload() map[string]float64 {
	out := make(map[string]float64, len(FeatureNames)+8)
	for i, val := range v.Values() {
		out[FeatureNames[i]] = val
	}
	out["raw_amount"] = v.Raw.Amount
	out["raw_merchant_risk"] = v.Raw.MerchantRisk
	out["raw_device_age_hours"] = v.Raw.DeviceAgeHours
	out["raw_recent_count"] = float64(v.Raw.RecentCount)
	out["raw_history_count"] = float64(v.Raw.HistoryCount)
	out["raw_avg_amount"] = v.Raw.AvgAmount
	out["raw_amount_velocity"] = v.Raw.AmountVelocity
	out["raw_z_score"] = v.Raw.ZScore
	return out
}

// VectorFromPayload rebuilds the normalized dimensions from a stored
// payload. Missing keys read as zero.
func VectorFromPayload(p map[string]float64) []float64 {
	out := make([]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		out[i] = p[name]
	}
	return out
}
