package model

// RegisterDevice is the Home Assistant discovery device block.
type RegisterDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

// RegisterMessage is a Home Assistant MQTT discovery config payload.
type RegisterMessage struct {
	Tilda       string         `json:"~"`
	Name        string         `json:"name"`
	ID          string         `json:"unique_id"`
	StateTopic  string         `json:"state_topic"`
	DeviceClass string         `json:"device_class,omitempty"`
	Unit        string         `json:"unit_of_measurement,omitempty"`
	Device      RegisterDevice `json:"device"`
}

type (
	BinarySensor  string
	BinarySensorz []BinarySensor
)

const (
	PowerBinarySensor  BinarySensor = "power"
	LightsBinarySensor BinarySensor = "lights"
	FanBinarySensor    BinarySensor = "fan"
	SteamBinarySensor  BinarySensor = "steam"
	DoorBinarySensor   BinarySensor = "door_open"
)

func (b BinarySensor) String() string {
	return string(b)
}

func (bs BinarySensorz) HasSlug(slug string) bool {
	for _, b := range bs {
		if b.String() == slug {
			return true
		}
	}
	return false
}

// BinarySensors lists the snapshot fields published as on/off states rather
// than measurements.
var BinarySensors = BinarySensorz{
	PowerBinarySensor,
	LightsBinarySensor,
	FanBinarySensor,
	SteamBinarySensor,
	DoorBinarySensor,
}
