package harvia

import "encoding/json"

// Request is the JSON body posted to a channel endpoint.
type Request struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type ResponseError struct {
	Message   string `json:"message"`
	ErrorType string `json:"errorType,omitempty"`
}

// Response is the raw structured reply. Callers interpret the vendor's
// errors field themselves.
type Response struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []ResponseError            `json:"errors,omitempty"`
}

// Unauthorized reports whether any error entry indicates an authorization
// failure that a re-authentication could fix.
func (r *Response) Unauthorized() bool {
	for _, e := range r.Errors {
		switch e.ErrorType {
		case "Unauthorized", "UnauthorizedException":
			return true
		}
	}
	return false
}

// Field unwraps a named entry of the data object. ok is false when the field
// is absent or JSON null.
func (r *Response) Field(name string) (json.RawMessage, bool) {
	raw, exists := r.Data[name]
	if !exists || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}

// MutationResult is the terminal outcome of a mutate call. Failure is data,
// not a fault; nothing escapes the mutate boundary as an error.
type MutationResult struct {
	OK       bool
	Attempts int
	Err      error
}

// listDevicesItems is the ListDevices variant shape.
type listDevicesItems struct {
	Items []struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		Type        string `json:"type"`
	} `json:"items"`
}

// deviceTreeNode is the getDeviceTree variant shape. The payload is a JSON
// string of an array of these; devices sit one level below the root with
// their id in i.name.
type deviceTreeNode struct {
	Info struct {
		Name string `json:"name"`
	} `json:"i"`
	Children []deviceTreeNode `json:"c"`
}

// userData is the getUserData payload, also a JSON string. Some accounts
// carry their device ids here.
type userData struct {
	OrganizationID string   `json:"organizationId"`
	Devices        []string `json:"devices"`
}

// deviceState is the reported-shadow variant of device data.
type deviceState struct {
	DeviceID string `json:"deviceId"`
	Reported string `json:"reported"`
}
