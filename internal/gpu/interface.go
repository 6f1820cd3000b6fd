package gpu

import "github.com/NVIDIA/go-nvml/pkg/nvml"

// library is the slice of NVML the backend needs; tests swap it out.
type library interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceByIndex(index int) (device, nvml.Return)
	DeviceByUUID(uuid string) (device, nvml.Return)
}

// device is the subset of nvml.Device used for temperature and fan control.
type device interface {
	GetName() (string, nvml.Return)
	GetTemperature(sensor nvml.TemperatureSensors) (uint32, nvml.Return)
	GetNumFans() (int, nvml.Return)
	GetMinMaxFanSpeed() (int, int, nvml.Return)
	SetFanSpeed_v2(fan int, speed int) nvml.Return
	SetDefaultFanSpeed_v2(fan int) nvml.Return
}

// FanSpeedLimits are percentages reported by the driver.
type FanSpeedLimits struct {
	Min, Max int
}
