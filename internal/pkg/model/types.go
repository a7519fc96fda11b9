package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FlexBool tolerates the vendor's mixed boolean encodings. Poll responses and
// pushes carry true/false or 0/1 interchangeably; mutations expect 0/1.
type FlexBool bool

func (b FlexBool) Bool() bool {
	return bool(b)
}

func (b FlexBool) MarshalJSON() ([]byte, error) {
	if b {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true":
		*b = true
	case "false", "null":
		*b = false
	default:
		n, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("flexbool: cannot decode %q", string(data))
		}
		*b = n != 0
	}
	return nil
}

// FlexTime tolerates timestamps arriving either as epoch numbers
// (seconds or milliseconds) or as RFC3339 strings.
type FlexTime time.Time

func (t FlexTime) Time() time.Time {
	return time.Time(t)
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).Format(time.RFC3339))
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("flextime: cannot decode %q", s)
		}
		*t = FlexTime(parsed)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("flextime: cannot decode %q", string(data))
	}
	// Millisecond epochs from the data channel, second epochs elsewhere.
	if n > 1e12 {
		*t = FlexTime(time.UnixMilli(n))
	} else {
		*t = FlexTime(time.Unix(n, 0))
	}
	return nil
}
