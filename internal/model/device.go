package model

type ConnectorCategory string

const (
	CategoryMQTTHub  ConnectorCategory = "mqtt-hub"
	CategoryVideoVMS ConnectorCategory = "video-vms"
)

type DeviceType string

const (
	DeviceCamera          DeviceType = "Camera"
	DeviceDoorSensor      DeviceType = "DoorSensor"
	DeviceMotionSensor    DeviceType = "MotionSensor"
	DeviceSwitch          DeviceType = "Switch"
	DeviceOutlet          DeviceType = "Outlet"
	DeviceLock            DeviceType = "Lock"
	DeviceLeakSensor      DeviceType = "Leak"
	DeviceVibrationSensor DeviceType = "Vibration"
	DeviceButton          DeviceType = "Button/Fob"
	DeviceSmokeDetector   DeviceType = "SmokeDetector"
	DeviceCODetector      DeviceType = "CODetector"
	DeviceHub             DeviceType = "Hub"
	DeviceUnknown         DeviceType = "Unknown"
)

var typeForEvent = map[EventType]DeviceType{
	TypeObjectDetected: DeviceCamera,
	TypeAnalyticsEvent: DeviceCamera,
	TypeButtonPressed:  DeviceButton,
}

// InferDeviceType guesses a device type from the first event a device is
// seen in. Most event types say nothing about the hardware; drivers that
// know the device class send it in DeviceInfo instead. Used only for
// auto-registration; operators can correct it.
func InferDeviceType(t EventType) DeviceType {
	if dt, ok := typeForEvent[t]; ok {
		return dt
	}
	return DeviceUnknown
}
