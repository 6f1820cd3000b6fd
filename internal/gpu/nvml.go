package gpu

import "github.com/NVIDIA/go-nvml/pkg/nvml"

type nvmlLibrary struct{}

func (nvmlLibrary) Init() nvml.Return {
	return nvml.Init()
}

func (nvmlLibrary) Shutdown() nvml.Return {
	return nvml.Shutdown()
}

func (nvmlLibrary) DeviceByIndex(index int) (device, nvml.Return) {
	d, ret := nvml.DeviceGetHandleByIndex(index)
	if !IsNVMLSuccess(ret) {
		return nil, ret
	}
	return d, ret
}

func (nvmlLibrary) DeviceByUUID(uuid string) (device, nvml.Return) {
	d, ret := nvml.DeviceGetHandleByUUID(uuid)
	if !IsNVMLSuccess(ret) {
		return nil, ret
	}
	return d, ret
}
