package queue

// CheckinEvent is the JSON body of "checkin" messages: one accepted
// check-in, as the worker needs to see it.
type CheckinEvent struct {
	RollNumber  string `json:"rollnumber"`
	StudentName string `json:"studentname"`
	Scope       string `json:"scope"`
	Day         string `json:"day"`
	ClockTime   string `json:"time"`
}
