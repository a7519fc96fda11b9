package subscription

import "github.com/anicoll/harvia-integration/internal/pkg/endpoints"

// Channel binds a logical endpoint to its subscription operation. The backend
// keys both subscriptions on a receiver (organization) identifier rather than
// a device id, so inbound payloads are filtered against the device locally.
type Channel struct {
	Name      string
	operation string
	query     string
}

const deviceQuery = `subscription Subscription($receiver: String!) {
  onStateUpdated(receiver: $receiver) {
    desired
    reported
    timestamp
    receiver
    __typename
  }
}`

const dataQuery = `subscription Subscription($receiver: String!) {
  onDataUpdates(receiver: $receiver) {
    item {
      deviceId
      timestamp
      sessionId
      type
      data
      __typename
    }
    __typename
  }
}`

// DeviceChannel carries device shadow (desired/reported) updates.
var DeviceChannel = Channel{
	Name:      endpoints.ChannelDevice,
	operation: "onStateUpdated",
	query:     deviceQuery,
}

// DataChannel carries sensor data updates.
var DataChannel = Channel{
	Name:      endpoints.ChannelData,
	operation: "onDataUpdates",
	query:     dataQuery,
}
