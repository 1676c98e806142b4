package orchestrator

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// fsmnWindowSize is the number of float32 samples per inference call; the
// FSMN-VAD frame is 10ms at 16kHz.
const fsmnWindowSize = 160

// fsmnCacheSize is the recurrent cache dimension the FSMN model carries
// across frames, so the gate's decisions depend on recent context instead
// of a single isolated frame.
const fsmnCacheSize = 128

// DefaultSpeechProbThreshold is the speech-probability cutoff for the
// neural gate. It lives on a 0..1 probability scale, unlike the RMS
// gate's energy threshold.
const DefaultSpeechProbThreshold = 0.5

var fsmnInitOnce sync.Once
var fsmnInitErr error

// FSMNVAD runs a neural voice-activity model over ONNX Runtime, selecting
// an execution provider per the fixed CUDA > ROCm > DirectML > CPU
// priority order. Tensors are allocated once and reused across calls; the
// recurrent cache tensor carries hidden state forward between frames.
type FSMNVAD struct {
	mu sync.Mutex

	session *ort.AdvancedSession

	inputTensor *ort.Tensor[float32]
	cacheTensor *ort.Tensor[float32]

	outputTensor   *ort.Tensor[float32]
	cacheOutTensor *ort.Tensor[float32]

	threshold float64
	device    Device

	fallback     *RMSVAD
	fallbackOnce sync.Once
	logger       Logger
}

// NewFSMNVAD loads modelPath on the given device selection and returns a
// ready gate. available lists the inference providers actually present in
// this process (cmd/asrd fills it from the ONNX_*_AVAILABLE environment
// flags, CPU always present); SelectDevice applies the priority order
// against it.
func NewFSMNVAD(modelPath string, threshold float64, requested Device, available map[Device]bool, logger Logger) (*FSMNVAD, error) {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	device := SelectDevice(requested, available)

	fsmnInitOnce.Do(func() {
		fsmnInitErr = ort.InitializeEnvironment()
	})
	if fsmnInitErr != nil {
		return nil, fmt.Errorf("fsmn vad: initialize onnxruntime: %w", fsmnInitErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, fsmnWindowSize))
	if err != nil {
		return nil, fmt.Errorf("fsmn vad: create input tensor: %w", err)
	}
	cacheTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, fsmnCacheSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("fsmn vad: create cache tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		cacheTensor.Destroy()
		return nil, fmt.Errorf("fsmn vad: create output tensor: %w", err)
	}
	cacheOutTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, fsmnCacheSize))
	if err != nil {
		inputTensor.Destroy()
		cacheTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("fsmn vad: create cache-out tensor: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		inputTensor.Destroy()
		cacheTensor.Destroy()
		outputTensor.Destroy()
		cacheOutTensor.Destroy()
		return nil, fmt.Errorf("fsmn vad: create session options: %w", err)
	}
	defer opts.Destroy()
	switch device {
	case DeviceCUDA:
		_ = opts.AppendExecutionProviderCUDA()
	case DeviceROCm:
		_ = opts.AppendExecutionProviderROCM()
	case DeviceDML:
		_ = opts.AppendExecutionProviderDirectML()
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input", "cache"},
		[]string{"output", "cache_out"},
		[]ort.Value{inputTensor, cacheTensor},
		[]ort.Value{outputTensor, cacheOutTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		cacheTensor.Destroy()
		outputTensor.Destroy()
		cacheOutTensor.Destroy()
		return nil, fmt.Errorf("fsmn vad: create session: %w", err)
	}

	return &FSMNVAD{
		session:        session,
		inputTensor:    inputTensor,
		cacheTensor:    cacheTensor,
		outputTensor:   outputTensor,
		cacheOutTensor: cacheOutTensor,
		threshold:      threshold,
		device:         device,
		fallback:       NewRMSVAD(0.009),
		logger:         logger,
	}, nil
}

// Device reports the provider this gate actually selected.
func (v *FSMNVAD) Device() Device { return v.device }

func (v *FSMNVAD) Name() string { return "fsmn_vad" }

// IsSpeech runs one FSMN inference. On model error it falls back to the RMS
// gate for just this frame and logs the fallback exactly once.
func (v *FSMNVAD) IsSpeech(frame []float32) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(frame) != fsmnWindowSize {
		// Pad or trim to the model's fixed window; callers frame audio at
		// the configured chunk size upstream so this is a defensive clamp.
		adjusted := make([]float32, fsmnWindowSize)
		copy(adjusted, frame)
		frame = adjusted
	}

	speech, err := v.infer(frame)
	if err != nil {
		v.fallbackOnce.Do(func() {
			v.logger.Warn("fsmn vad inference failed, falling back to RMS for this frame", "error", err)
		})
		return v.fallback.IsSpeech(frame)
	}
	return speech
}

func (v *FSMNVAD) infer(frame []float32) (bool, error) {
	copy(v.inputTensor.GetData(), frame)

	if err := v.session.Run(); err != nil {
		return false, fmt.Errorf("fsmn vad: inference: %w", err)
	}

	prob := v.outputTensor.GetData()[0]
	copy(v.cacheTensor.GetData(), v.cacheOutTensor.GetData())

	return float64(prob) >= v.threshold, nil
}

// Reset clears the recurrent cache between sessions.
func (v *FSMNVAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	data := v.cacheTensor.GetData()
	for i := range data {
		data[i] = 0
	}
}

// Close releases the ONNX Runtime session and tensors. Safe to call once.
func (v *FSMNVAD) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session != nil {
		v.session.Destroy()
		v.session = nil
	}
	for _, t := range []interface{ Destroy() }{v.inputTensor, v.cacheTensor, v.outputTensor, v.cacheOutTensor} {
		if t != nil {
			t.Destroy()
		}
	}
	return nil
}
