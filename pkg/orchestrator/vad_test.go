package orchestrator

import "testing"

func TestRMSVADSpeechAboveThreshold(t *testing.T) {
	vad := NewRMSVAD(0.1)
	loud := make([]float32, 160)
	for i := range loud {
		loud[i] = 0.5
	}
	if !vad.IsSpeech(loud) {
		t.Fatal("expected loud frame to be classified as speech")
	}
}

func TestRMSVADSilenceBelowThreshold(t *testing.T) {
	vad := NewRMSVAD(0.1)
	quiet := make([]float32, 160)
	if vad.IsSpeech(quiet) {
		t.Fatal("expected silent frame to be classified as silence")
	}
}

func TestRMSVADEmptyFrame(t *testing.T) {
	vad := NewRMSVAD(0.009)
	if vad.IsSpeech(nil) {
		t.Fatal("expected empty frame to be silence")
	}
}

func TestRMSVADLastRMS(t *testing.T) {
	vad := NewRMSVAD(0.009)
	frame := []float32{0.1, -0.1, 0.1, -0.1}
	vad.IsSpeech(frame)
	if vad.LastRMS() <= 0 {
		t.Fatalf("expected positive RMS, got %f", vad.LastRMS())
	}
}
