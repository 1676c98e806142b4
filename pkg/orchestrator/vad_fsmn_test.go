package orchestrator

import "testing"

// FSMNVAD requires a real ONNX Runtime shared library and model file to
// construct, so these tests exercise only the pieces that do not need a
// live session: device resolution feeding into it.

func TestFSMNVADDeviceSelectionHonorsAvailability(t *testing.T) {
	available := map[Device]bool{DeviceCPU: true, DeviceCUDA: true}
	got := SelectDevice(DeviceAuto, available)
	if got != DeviceCUDA {
		t.Fatalf("expected CUDA to win auto-selection, got %s", got)
	}
}

func TestFSMNVADDeviceSelectionFallsBackToCPU(t *testing.T) {
	available := map[Device]bool{DeviceCPU: true}
	got := SelectDevice(DeviceROCm, available)
	if got != DeviceCPU {
		t.Fatalf("expected unavailable explicit request to fall back to CPU, got %s", got)
	}
}
