// Command asrd is the process entry point: a stdin/stdout subprocess
// speaking newline-delimited JSON. It emits a {"status":"ready"} line
// once models load, reads control frames from stdin, and writes the
// event stream (including request/response correlation) to stdout;
// diagnostics go to stderr only.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/lokutor-ai/asr-orchestrator/pkg/backend"
	"github.com/lokutor-ai/asr-orchestrator/pkg/logging"
	"github.com/lokutor-ai/asr-orchestrator/pkg/orchestrator"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "Note: no .env file found, using system environment variables")
	}

	logger := logging.New(os.Stderr, parseLevel(os.Getenv("LOG_LEVEL")))
	emitter := orchestrator.NewEmitter(os.Stdout)

	cfg, err := loadConfig()
	if err != nil {
		emitter.Emit(orchestrator.FatalEvent(err))
		os.Exit(1)
	}

	metrics, shutdownMetrics, err := setupMetrics()
	if err != nil {
		logger.Warn("metrics disabled: provider init failed", "error", err)
	} else {
		defer shutdownMetrics(context.Background())
	}

	be, closeBackend, err := selectBackend(cfg, logger)
	if err != nil {
		emitter.Emit(orchestrator.FatalEvent(fmt.Errorf("%w: %v", orchestrator.ErrBackendLoadFailed, err)))
		os.Exit(1)
	}
	if closeBackend != nil {
		defer closeBackend()
	}

	vadFactory := buildVADFactory(cfg, logger)

	nowFunc := func() int64 { return time.Now().UnixMilli() }
	manager := orchestrator.NewSessionManager(cfg, be, vadFactory, emitter, logger, nowFunc)
	manager.SetMetrics(metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	emitter.Emit(orchestrator.ReadyEvent())
	logger.Info("asrd ready", "engine", string(cfg.Engine), "device", string(cfg.Device))

	runControlLoop(ctx, os.Stdin, manager, emitter, logger)
}

// runControlLoop reads newline-delimited control frames from r until ctx
// is cancelled or the stream closes. Malformed lines produce an error
// event rather than killing the process, so one bad client frame never
// takes down every live session.
func runControlLoop(ctx context.Context, r *os.File, manager *orchestrator.SessionManager, emitter *orchestrator.Emitter, logger orchestrator.Logger) {
	lines := make(chan string, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			msg, err := orchestrator.ParseControlMessage([]byte(line))
			if err != nil {
				logger.Warn("dropping malformed control message", "error", err)
				emitter.Emit(orchestrator.ErrorEvent("", rawRequestID(line), err, ""))
				continue
			}
			if msg.Kind == orchestrator.KindBatchFile && msg.RequestID == "" {
				// Every batch_file reply is correlated by request_id;
				// mint one so a caller that omits it still gets a
				// response it can match to this request.
				msg.RequestID = newCorrelationID()
			}
			manager.Dispatch(msg)
		}
	}
}

// rawRequestID best-effort extracts request_id from a line that failed to
// parse as a full ControlMessage, so a caller holding a request_id-keyed
// pending request doesn't hang forever on a malformed batch_file frame.
func rawRequestID(line string) string {
	const key = `"request_id"`
	idx := indexOf(line, key)
	if idx < 0 {
		return ""
	}
	rest := line[idx+len(key):]
	start := indexOf(rest, `"`)
	if start < 0 {
		return ""
	}
	rest = rest[start+1:]
	end := indexOf(rest, `"`)
	if end < 0 {
		return ""
	}
	return rest[:end]
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// loadConfig layers defaults, an optional YAML file (CONFIG_FILE), and
// env vars, in that priority order — env vars win over YAML.
func loadConfig() (orchestrator.Config, error) {
	cfg := orchestrator.DefaultConfig()

	if v := os.Getenv("ENGINE"); v != "" {
		cfg.Engine = orchestrator.Engine(v)
	}
	cfg.ApplyEngineDefaults()

	var err error
	cfg, err = orchestrator.LoadConfigFromYAML(cfg, os.Getenv("CONFIG_FILE"))
	if err != nil {
		return cfg, fmt.Errorf("load yaml config: %w", err)
	}
	cfg = orchestrator.LoadConfigFromEnv(cfg)
	cfg.ApplyEngineDefaults()
	return cfg, nil
}

// setupMetrics wires the OTel-to-Prometheus exporter bridge, restricted
// to metrics — this module carries no tracing SDK, so no TracerProvider
// is built.
func setupMetrics() (*orchestrator.Metrics, func(context.Context) error, error) {
	promExp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExp))

	metrics, err := orchestrator.NewMetrics(mp)
	if err != nil {
		return nil, nil, err
	}

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			_ = srv.ListenAndServe()
		}()
	}

	return metrics, mp.Shutdown, nil
}

// selectBackend constructs the Backend named by cfg.Engine. The returned
// closer releases the loaded whisper.cpp model on shutdown; the remote
// engines load no model and return a nil closer.
func selectBackend(cfg orchestrator.Config, logger orchestrator.Logger) (orchestrator.Backend, func(), error) {
	switch cfg.Engine {
	case orchestrator.EngineStreamingLocal:
		modelPath := os.Getenv("WHISPER_MODEL_PATH")
		language := os.Getenv("LANGUAGE")
		scfg := backend.DefaultStreamingLocalConfig(cfg.SampleRate)
		sl, err := backend.NewStreamingLocal(modelPath, language, scfg)
		if err != nil {
			return nil, nil, err
		}
		return sl, func() { sl.Close() }, nil

	case orchestrator.EngineRemoteWS:
		tokens := &backend.HTTPTokenSource{
			TokenURL:     os.Getenv("WS_TOKEN_URL"),
			ClientID:     os.Getenv("WS_CLIENT_ID"),
			ClientSecret: cfg.SecretKey,
		}
		// Zero selects the backend's own 60s WS idle timeout; the session
		// manager's 5-minute idle reaper is a separate concern.
		rw := backend.NewRemoteWS(os.Getenv("WS_DIAL_URL"), cfg.AppID, cfg.SampleRate, tokens, 0)
		return rw, nil, nil

	case orchestrator.EngineRemoteHTTPRace:
		client := &backend.HTTPRaceClient{
			URL:    os.Getenv("RACE_URL"),
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		}
		rr := backend.NewRemoteHTTPRace(client, cfg.ParallelRequests, cfg.RequestTimeout, cfg.SampleRate)
		return rr, nil, nil

	case orchestrator.EngineTwoPassLocal:
		fallthrough
	default:
		modelPath := os.Getenv("WHISPER_MODEL_PATH")
		language := os.Getenv("LANGUAGE")
		offline, err := backend.NewWhisperOfflineDecoder(modelPath, language)
		if err != nil {
			return nil, nil, err
		}
		online := backend.NewWindowedOnlineDecoder(offline, cfg.SampleRate, 8)
		tp := backend.NewTwoPassLocal(online, offline, nil, cfg.MinSentenceChars, cfg.SampleRate)
		return tp, func() { offline.Close() }, nil
	}
}

// buildVADFactory returns the per-session VAD constructor.
// FSMN_MODEL_PATH opts into the neural gate with CUDA>ROCm>DirectML>CPU
// auto-selection; unset, every session gets the dependency-free RMS gate.
func buildVADFactory(cfg orchestrator.Config, logger orchestrator.Logger) orchestrator.VADFactory {
	modelPath := os.Getenv("FSMN_MODEL_PATH")
	if modelPath == "" {
		return func() orchestrator.VADGate {
			return orchestrator.NewRMSVAD(cfg.RMSThreshold)
		}
	}

	available := probeDevices()
	return func() orchestrator.VADGate {
		gate, err := orchestrator.NewFSMNVAD(modelPath, orchestrator.DefaultSpeechProbThreshold, cfg.Device, available, logger)
		if err != nil {
			logger.Warn("FSMN VAD load failed, falling back to RMS", "error", err)
			return orchestrator.NewRMSVAD(cfg.RMSThreshold)
		}
		return gate
	}
}

// probeDevices reports which ONNX Runtime execution providers this
// process can actually use. A portable Go build can only probe CPU with
// certainty; CUDA/ROCm/DirectML availability depends on the shared
// library the deployment ships alongside the binary, so those are
// opted-in via explicit env flags rather than auto-detected here.
func probeDevices() map[orchestrator.Device]bool {
	available := map[orchestrator.Device]bool{orchestrator.DeviceCPU: true}
	if os.Getenv("ONNX_CUDA_AVAILABLE") == "1" {
		available[orchestrator.DeviceCUDA] = true
	}
	if os.Getenv("ONNX_ROCM_AVAILABLE") == "1" {
		available[orchestrator.DeviceROCm] = true
	}
	if os.Getenv("ONNX_DML_AVAILABLE") == "1" {
		available[orchestrator.DeviceDML] = true
	}
	return available
}

func parseLevel(v string) logrus.Level {
	if v == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(v)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// newCorrelationID mints a trace id for a batch_file request that arrived
// without its own request_id.
func newCorrelationID() string {
	return uuid.NewString()
}
