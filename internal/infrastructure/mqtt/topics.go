package mqtt

// TopicPrefix is the root of every topic the runtime publishes or
// subscribes to.
const TopicPrefix = "graylogic/runtime"

// Topics builds runtime MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceStatus("9b2c...")  // graylogic/runtime/device/9b2c.../status
type Topics struct{}

// Status is the retained online/offline topic, also used for the LWT.
func (Topics) Status() string {
	return TopicPrefix + "/status"
}

// DeviceStatus carries the retained lifecycle status of one device.
func (Topics) DeviceStatus(deviceID string) string {
	return TopicPrefix + "/device/" + deviceID + "/status"
}

// Transition carries the retained report of the latest transition.
func (Topics) Transition() string {
	return TopicPrefix + "/transition"
}

// Event carries non-retained events of the given type.
func (Topics) Event(eventType string) string {
	return TopicPrefix + "/events/" + eventType
}

// Command is where operators send a named command, e.g. "apply".
func (Topics) Command(name string) string {
	return TopicPrefix + "/command/" + name
}

// AllDeviceStatuses matches every device status topic.
func (Topics) AllDeviceStatuses() string {
	return TopicPrefix + "/device/+/status"
}

// AllCommands matches every command topic.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}

// AllTopics matches everything under the runtime prefix.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
