package ble

const (
	// BatteryServiceUUID is the standard Battery Service (0x180F)
	BatteryServiceUUID = "0000180f-0000-1000-8000-00805f9b34fb"

	// GenericAccessServiceUUID is the standard Generic Access Service (0x1800)
	GenericAccessServiceUUID = "00001800-0000-1000-8000-00805f9b34fb"

	// DefaultNamePrefix is the advertised name prefix of SoleSense insoles
	DefaultNamePrefix = "SoleSense"

	// UnknownDeviceName is used when a peripheral advertises no name
	UnknownDeviceName = "Unknown Device"
)
