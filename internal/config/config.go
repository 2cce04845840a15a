package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Camera      CameraConfig      `yaml:"camera"`
	Detector    DetectorConfig    `yaml:"detector"`
	Speech      SpeechConfig      `yaml:"speech"`
	Listen      ListenConfig      `yaml:"listen"`
	Interaction InteractionConfig `yaml:"interaction"`
	Gallery     GalleryConfig     `yaml:"gallery"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type CameraConfig struct {
	Mode        string `yaml:"mode"` // mock, exec, http
	Command     string `yaml:"command"`
	SnapshotURL string `yaml:"snapshot_url"`
	TimeoutMS   int    `yaml:"timeout_ms"`
	FrameWidth  int    `yaml:"frame_width"`
	FrameHeight int    `yaml:"frame_height"`
}

type DetectorConfig struct {
	Mode           string  `yaml:"mode"` // mock, exec, http
	Endpoint       string  `yaml:"endpoint"`
	Command        string  `yaml:"command"`
	MinScore       float64 `yaml:"min_score"`
	TimeoutMS      int     `yaml:"timeout_ms"`
	PollIntervalMS int     `yaml:"poll_interval_ms"`
	MockPresent    bool    `yaml:"mock_present"`
}

type SpeechConfig struct {
	Mode            string `yaml:"mode"` // mock, exec
	Command         string `yaml:"command"`
	PlayerCommand   string `yaml:"player_command"`
	Voice           string `yaml:"voice"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkDurationMS int    `yaml:"chunk_duration_ms"`
}

type ListenConfig struct {
	Mode           string `yaml:"mode"` // mock, exec
	CaptureCommand string `yaml:"capture_command"`
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	Language       string `yaml:"language"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	MaxUtteranceMS int    `yaml:"max_utterance_ms"`
	MockTranscript string `yaml:"mock_transcript"`
}

type InteractionConfig struct {
	PhrasesPath           string `yaml:"phrases_path"`
	TurnTimeoutMS         int    `yaml:"turn_timeout_ms"`
	AwaitCaptureTimeoutMS int    `yaml:"await_capture_timeout_ms"`
}

type GalleryConfig struct {
	Directory      string `yaml:"directory"`
	IndexPath      string `yaml:"index_path"`
	MaxCaptures    int    `yaml:"max_captures"`
	RetentionDays  int    `yaml:"retention_days"`
	ThumbnailMaxPx int    `yaml:"thumbnail_max_px"`
	VacuumOnStart  bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "booth-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Camera: CameraConfig{
			Mode:        "mock",
			TimeoutMS:   2000,
			FrameWidth:  1280,
			FrameHeight: 720,
		},
		Detector: DetectorConfig{
			Mode:           "mock",
			MinScore:       0.5,
			TimeoutMS:      2000,
			PollIntervalMS: 500,
			MockPresent:    true,
		},
		Speech: SpeechConfig{
			Mode:            "mock",
			SampleRate:      22050,
			Channels:        1,
			ChunkDurationMS: 300,
		},
		Listen: ListenConfig{
			Mode:           "mock",
			SampleRate:     16000,
			Channels:       1,
			MaxUtteranceMS: 6000,
			MockTranscript: "yes please",
		},
		Interaction: InteractionConfig{
			TurnTimeoutMS:         30000,
			AwaitCaptureTimeoutMS: 60000,
		},
		Gallery: GalleryConfig{
			Directory:      "./data/captures",
			IndexPath:      "./data/booth-captures.db",
			MaxCaptures:    500,
			RetentionDays:  30,
			ThumbnailMaxPx: 320,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "BOOTH_RUNTIME_NAME")
	overrideString(&cfg.Environment, "BOOTH_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "BOOTH_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "BOOTH_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "BOOTH_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "BOOTH_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "BOOTH_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "BOOTH_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "BOOTH_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "BOOTH_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "BOOTH_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "BOOTH_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "BOOTH_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "BOOTH_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "BOOTH_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Camera.Mode, "BOOTH_CAMERA_MODE")
	overrideString(&cfg.Camera.Command, "BOOTH_CAMERA_COMMAND")
	overrideString(&cfg.Camera.SnapshotURL, "BOOTH_CAMERA_SNAPSHOT_URL")
	overrideInt(&cfg.Camera.TimeoutMS, "BOOTH_CAMERA_TIMEOUT_MS")
	overrideInt(&cfg.Camera.FrameWidth, "BOOTH_CAMERA_FRAME_WIDTH")
	overrideInt(&cfg.Camera.FrameHeight, "BOOTH_CAMERA_FRAME_HEIGHT")
	overrideString(&cfg.Detector.Mode, "BOOTH_DETECTOR_MODE")
	overrideString(&cfg.Detector.Endpoint, "BOOTH_DETECTOR_ENDPOINT")
	overrideString(&cfg.Detector.Command, "BOOTH_DETECTOR_COMMAND")
	overrideFloat(&cfg.Detector.MinScore, "BOOTH_DETECTOR_MIN_SCORE")
	overrideInt(&cfg.Detector.TimeoutMS, "BOOTH_DETECTOR_TIMEOUT_MS")
	overrideInt(&cfg.Detector.PollIntervalMS, "BOOTH_DETECTOR_POLL_INTERVAL_MS")
	overrideBool(&cfg.Detector.MockPresent, "BOOTH_DETECTOR_MOCK_PRESENT")
	overrideString(&cfg.Speech.Mode, "BOOTH_SPEECH_MODE")
	overrideString(&cfg.Speech.Command, "BOOTH_SPEECH_COMMAND")
	overrideString(&cfg.Speech.PlayerCommand, "BOOTH_SPEECH_PLAYER_COMMAND")
	overrideString(&cfg.Speech.Voice, "BOOTH_SPEECH_VOICE")
	overrideInt(&cfg.Speech.SampleRate, "BOOTH_SPEECH_SAMPLE_RATE")
	overrideInt(&cfg.Speech.Channels, "BOOTH_SPEECH_CHANNELS")
	overrideInt(&cfg.Speech.ChunkDurationMS, "BOOTH_SPEECH_CHUNK_DURATION_MS")
	overrideString(&cfg.Listen.Mode, "BOOTH_LISTEN_MODE")
	overrideString(&cfg.Listen.CaptureCommand, "BOOTH_LISTEN_CAPTURE_COMMAND")
	overrideString(&cfg.Listen.Command, "BOOTH_LISTEN_COMMAND")
	overrideString(&cfg.Listen.ModelPath, "BOOTH_LISTEN_MODEL_PATH")
	overrideString(&cfg.Listen.Language, "BOOTH_LISTEN_LANGUAGE")
	overrideInt(&cfg.Listen.SampleRate, "BOOTH_LISTEN_SAMPLE_RATE")
	overrideInt(&cfg.Listen.Channels, "BOOTH_LISTEN_CHANNELS")
	overrideInt(&cfg.Listen.MaxUtteranceMS, "BOOTH_LISTEN_MAX_UTTERANCE_MS")
	overrideString(&cfg.Listen.MockTranscript, "BOOTH_LISTEN_MOCK_TRANSCRIPT")
	overrideString(&cfg.Interaction.PhrasesPath, "BOOTH_INTERACTION_PHRASES_PATH")
	overrideInt(&cfg.Interaction.TurnTimeoutMS, "BOOTH_INTERACTION_TURN_TIMEOUT_MS")
	overrideInt(&cfg.Interaction.AwaitCaptureTimeoutMS, "BOOTH_INTERACTION_AWAIT_CAPTURE_TIMEOUT_MS")
	overrideString(&cfg.Gallery.Directory, "BOOTH_GALLERY_DIRECTORY")
	overrideString(&cfg.Gallery.IndexPath, "BOOTH_GALLERY_INDEX_PATH")
	overrideInt(&cfg.Gallery.MaxCaptures, "BOOTH_GALLERY_MAX_CAPTURES")
	overrideInt(&cfg.Gallery.RetentionDays, "BOOTH_GALLERY_RETENTION_DAYS")
	overrideInt(&cfg.Gallery.ThumbnailMaxPx, "BOOTH_GALLERY_THUMBNAIL_MAX_PX")
	overrideBool(&cfg.Gallery.VacuumOnStart, "BOOTH_GALLERY_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Camera.Mode {
	case "mock", "exec", "http":
	default:
		return errors.New("camera.mode must be one of mock|exec|http")
	}
	if cfg.Camera.Mode == "exec" && cfg.Camera.Command == "" {
		return errors.New("camera.command must be set when mode=exec")
	}
	if cfg.Camera.Mode == "http" && cfg.Camera.SnapshotURL == "" {
		return errors.New("camera.snapshot_url must be set when mode=http")
	}
	if cfg.Camera.FrameWidth <= 0 || cfg.Camera.FrameHeight <= 0 {
		return errors.New("camera.frame_width and camera.frame_height must be positive")
	}
	switch cfg.Detector.Mode {
	case "mock", "exec", "http":
	default:
		return errors.New("detector.mode must be one of mock|exec|http")
	}
	if cfg.Detector.Mode == "exec" && cfg.Detector.Command == "" {
		return errors.New("detector.command must be set when mode=exec")
	}
	if cfg.Detector.Mode == "http" && cfg.Detector.Endpoint == "" {
		return errors.New("detector.endpoint must be set when mode=http")
	}
	if cfg.Detector.MinScore < 0 || cfg.Detector.MinScore > 1 {
		return errors.New("detector.min_score must be between 0 and 1")
	}
	if cfg.Detector.PollIntervalMS <= 0 {
		return errors.New("detector.poll_interval_ms must be positive")
	}
	switch cfg.Speech.Mode {
	case "mock", "exec":
	default:
		return errors.New("speech.mode must be one of mock|exec")
	}
	if cfg.Speech.Mode == "exec" && cfg.Speech.Command == "" {
		return errors.New("speech.command must be set when mode=exec")
	}
	if cfg.Speech.SampleRate <= 0 {
		return errors.New("speech.sample_rate must be positive")
	}
	if cfg.Speech.Channels <= 0 {
		return errors.New("speech.channels must be positive")
	}
	switch cfg.Listen.Mode {
	case "mock", "exec":
	default:
		return errors.New("listen.mode must be one of mock|exec")
	}
	if cfg.Listen.Mode == "exec" && cfg.Listen.Command == "" {
		return errors.New("listen.command must be set when mode=exec")
	}
	if cfg.Listen.SampleRate <= 0 {
		return errors.New("listen.sample_rate must be positive")
	}
	if cfg.Listen.Channels <= 0 {
		return errors.New("listen.channels must be positive")
	}
	if cfg.Listen.MaxUtteranceMS <= 0 {
		return errors.New("listen.max_utterance_ms must be positive")
	}
	if cfg.Interaction.TurnTimeoutMS <= 0 {
		return errors.New("interaction.turn_timeout_ms must be positive")
	}
	if cfg.Interaction.AwaitCaptureTimeoutMS < 0 {
		return errors.New("interaction.await_capture_timeout_ms must be >= 0")
	}
	if cfg.Gallery.Directory == "" {
		return errors.New("gallery.directory must not be empty")
	}
	if cfg.Gallery.IndexPath == "" {
		return errors.New("gallery.index_path must not be empty")
	}
	if cfg.Gallery.MaxCaptures < 0 {
		return errors.New("gallery.max_captures must be >= 0")
	}
	if cfg.Gallery.RetentionDays < 0 {
		return errors.New("gallery.retention_days must be >= 0")
	}
	if cfg.Gallery.ThumbnailMaxPx <= 0 {
		return errors.New("gallery.thumbnail_max_px must be positive")
	}
	return nil
}
