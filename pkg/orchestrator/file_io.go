package orchestrator

import "os"

// readAudioFile loads a batch_file's raw 16-bit mono PCM payload. No
// base64 layer here — that only applies to the streaming_chunk wire
// path, not local files.
func readAudioFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
