package model

import "time"

// UpdateSource identifies where a snapshot mutation originated so
// conflicting writes can be reasoned about after the fact.
type UpdateSource string

func (u UpdateSource) String() string {
	return string(u)
}

const (
	SourcePoll  UpdateSource = "poll"
	SourcePush  UpdateSource = "push"
	SourceLocal UpdateSource = "local"
)

// Device is the descriptor returned by device discovery.
type Device struct {
	ID          string
	DisplayName string
	Type        string
}

// Snapshot is the full known state of one sauna as held by the state store.
type Snapshot struct {
	ID            string       `json:"id"`
	DisplayName   string       `json:"displayName"`
	Active        bool         `json:"active"`
	LightsOn      bool         `json:"lightsOn"`
	FanOn         bool         `json:"fanOn"`
	SteamEnabled  bool         `json:"steamEnabled"`
	SteamOn       bool         `json:"steamOn"`
	TargetTemp    float64      `json:"targetTemp"`
	TargetRH      float64      `json:"targetRh"`
	Temperature   float64      `json:"temperature"`
	Humidity      float64      `json:"humidity"`
	RemainingTime float64      `json:"remainingTime"`
	HeatUpTime    float64      `json:"heatUpTime"`
	StatusCodes   string       `json:"statusCodes"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	Source        UpdateSource `json:"source"`
}

const doorOpenSentinel = 9

// DoorOpen derives the door contact state from the raw vendor status code.
// The second character of the code carries the safety status; 9 means the
// door is open. Absent or malformed codes report closed.
func (s Snapshot) DoorOpen() bool {
	if len(s.StatusCodes) < 2 {
		return false
	}
	c := s.StatusCodes[1]
	if c < '0' || c > '9' {
		return false
	}
	return int(c-'0') == doorOpenSentinel
}

// PartialUpdate is a sparse set of device fields. Nil fields were not present
// in the originating message and must not overwrite current state. The same
// shape doubles as the UpdateDevice mutation input, which is why the boolean
// fields marshal as 0/1.
type PartialUpdate struct {
	DeviceID      *string   `json:"deviceId,omitempty"`
	DisplayName   *string   `json:"displayName,omitempty"`
	Active        *FlexBool `json:"active,omitempty"`
	Light         *FlexBool `json:"light,omitempty"`
	Fan           *FlexBool `json:"fan,omitempty"`
	SteamEn       *FlexBool `json:"steamEn,omitempty"`
	SteamOn       *FlexBool `json:"steamOn,omitempty"`
	TargetTemp    *float64  `json:"targetTemp,omitempty"`
	TargetRH      *float64  `json:"targetRh,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	Humidity      *float64  `json:"humidity,omitempty"`
	RemainingTime *float64  `json:"remainingTime,omitempty"`
	HeatUpTime    *float64  `json:"heatUpTime,omitempty"`
	StatusCodes   *string   `json:"statusCodes,omitempty"`
	Timestamp     *FlexTime `json:"timestamp,omitempty"`
}

// IsEmpty reports whether no field is present in the update.
func (p PartialUpdate) IsEmpty() bool {
	return p.DeviceID == nil && p.DisplayName == nil && p.Active == nil &&
		p.Light == nil && p.Fan == nil && p.SteamEn == nil && p.SteamOn == nil &&
		p.TargetTemp == nil && p.TargetRH == nil && p.Temperature == nil &&
		p.Humidity == nil && p.RemainingTime == nil && p.HeatUpTime == nil &&
		p.StatusCodes == nil && p.Timestamp == nil
}

func Bool(v bool) *FlexBool {
	f := FlexBool(v)
	return &f
}

func Float(v float64) *float64 {
	return &v
}

func String(v string) *string {
	return &v
}
