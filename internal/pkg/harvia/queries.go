package harvia

// GraphQL documents for the vendor's query surface. The discovery queries
// exist in several generations; ListDevices tries them oldest-app-first.
const (
	queryDeviceTree = "query Query {\n  getDeviceTree\n}\n"

	queryListDevices = "query ListDevices {listDevices {items {id displayName type hwVersion swVersion connectionState active }}}"

	queryUserData = "query UserData {getUserData}"

	queryLatestDeviceData = "query GetLatestDeviceData($deviceId: ID!) {getLatestDeviceData(deviceId: $deviceId) {active deviceId fan humidity light moisture remoteStartEn remainingTime steamEn steamOn statusCodes targetRh targetTemp temperature timestamp}}"

	queryDeviceState = "query GetDeviceState($deviceId: ID!) {getDeviceState(deviceId: $deviceId) {deviceId reported timestamp}}"

	mutationUpdateDevice = "mutation UpdateDevice($deviceId: ID!, $input: UpdateDeviceInput!) {updateDevice(deviceId: $deviceId, input: $input) {active fan light moisture steamEn steamOn statusCodes targetRh targetTemp}}"
)
