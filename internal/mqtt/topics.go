package mqtt

import "fmt"

func TopicDeviceCapabilities(prefix string) string {
	return fmt.Sprintf("%s/device/+/capabilities", prefix)
}

func TopicDeviceOnline(prefix string) string {
	return fmt.Sprintf("%s/device/+/online", prefix)
}

func TopicDeviceHeartbeat(prefix string) string {
	return fmt.Sprintf("%s/device/+/heartbeat", prefix)
}

func TopicCapabilities(prefix, deviceID string) string {
	return fmt.Sprintf("%s/device/%s/capabilities", prefix, deviceID)
}

func TopicOnline(prefix, deviceID string) string {
	return fmt.Sprintf("%s/device/%s/online", prefix, deviceID)
}

func TopicHeartbeat(prefix, deviceID string) string {
	return fmt.Sprintf("%s/device/%s/heartbeat", prefix, deviceID)
}

// TopicDeviceEvents carries the tick events that concern one device.
func TopicDeviceEvents(prefix, deviceID string) string {
	return fmt.Sprintf("%s/device/%s/events", prefix, deviceID)
}

func TopicSimEvents(prefix string) string {
	return fmt.Sprintf("%s/sim/events", prefix)
}

func TopicSimControl(prefix string) string {
	return fmt.Sprintf("%s/sim/control/+", prefix)
}

func TopicSimResult(prefix string) string {
	return fmt.Sprintf("%s/sim/result/+", prefix)
}

func TopicControl(prefix, requestID string) string {
	return fmt.Sprintf("%s/sim/control/%s", prefix, requestID)
}

func TopicResult(prefix, requestID string) string {
	return fmt.Sprintf("%s/sim/result/%s", prefix, requestID)
}
