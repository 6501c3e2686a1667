// Package config loads the service configuration. Precedence is defaults,
// then an optional YAML file, then RENDERBOX_* environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"renderbox/internal/pkg/errors"
	"renderbox/internal/policy"
)

// EnvConfigPath names the env var pointing at the YAML config file.
const EnvConfigPath = "RENDERBOX_CONFIG"

// Config is the full service configuration shared by the API and the worker.
type Config struct {
	HTTP    HTTPConfig           `yaml:"http"`
	Store   StoreConfig          `yaml:"store"`
	Engine  EngineConfig         `yaml:"engine"`
	Worker  WorkerConfig         `yaml:"worker"`
	Turbo   policy.TurboSettings `yaml:"turbo"`
	Archive ArchiveConfig        `yaml:"archive"`
}

type HTTPConfig struct {
	Port string `yaml:"port"`
	// MaxUploadMB bounds a scene upload; scenes beyond it are rejected at
	// submission.
	MaxUploadMB int64 `yaml:"max_upload_mb"`
}

type StoreConfig struct {
	// Root holds the four job partitions (queued, processing, succeeded,
	// failed) plus the worker status snapshot.
	Root string `yaml:"root"`
}

type EngineConfig struct {
	// Bin is the render engine binary exposed to the render script.
	Bin string `yaml:"bin"`
	// RenderScript wraps the engine for one background frame. Empty means
	// render_job.sh next to the running executable.
	RenderScript string `yaml:"render_script"`
	// OptimizeScript is the scene optimization hook exposed to the engine
	// process.
	OptimizeScript string `yaml:"optimize_script"`
	// GPUName is the device-name hint passed to the engine.
	GPUName string `yaml:"gpu_name"`
	// HSAXNACK is forwarded verbatim into the engine environment.
	HSAXNACK string `yaml:"hsa_xnack"`
}

type WorkerConfig struct {
	// PollInterval bounds how long a freshly queued job waits before the
	// worker notices it.
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxRenderDuration terminates renders that run longer; zero leaves
	// execution unbounded.
	MaxRenderDuration time.Duration `yaml:"max_render_duration"`
}

type ArchiveConfig struct {
	// Provider selects the artifact archive: "" (disabled), "localfs" or
	// "gdrive".
	Provider  string       `yaml:"provider"`
	LocalRoot string       `yaml:"local_root"`
	GDrive    GDriveConfig `yaml:"gdrive"`
}

type GDriveConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	FolderID     string `yaml:"folder_id"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:        "8080",
			MaxUploadMB: 2048,
		},
		Store: StoreConfig{
			Root: "data",
		},
		Engine: EngineConfig{
			Bin:      "blender",
			GPUName:  "Radeon",
			HSAXNACK: "1",
		},
		Worker: WorkerConfig{
			PollInterval: 2 * time.Second,
		},
		Turbo: policy.DefaultTurboSettings(),
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by RENDERBOX_CONFIG, and env overrides, in that order.
func Load() (Config, error) {
	return load(os.Getenv(EnvConfigPath))
}

func load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "config.load", "read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.WrapWithCode(err, errors.CodeValidation, "config.load", "parse config file")
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr(&cfg.HTTP.Port, "RENDERBOX_HTTP_PORT")
	setInt64(&cfg.HTTP.MaxUploadMB, "RENDERBOX_MAX_UPLOAD_MB")
	setStr(&cfg.Store.Root, "RENDERBOX_STORE_ROOT")
	setStr(&cfg.Engine.Bin, "RENDERBOX_ENGINE_BIN")
	setStr(&cfg.Engine.RenderScript, "RENDERBOX_RENDER_SCRIPT")
	setStr(&cfg.Engine.OptimizeScript, "RENDERBOX_OPTIMIZE_SCRIPT")
	setStr(&cfg.Engine.GPUName, "RENDERBOX_GPU_NAME")
	setStr(&cfg.Engine.HSAXNACK, "RENDERBOX_HSA_XNACK")
	setDuration(&cfg.Worker.PollInterval, "RENDERBOX_POLL_INTERVAL")
	setDuration(&cfg.Worker.MaxRenderDuration, "RENDERBOX_MAX_RENDER_DURATION")
	setStr(&cfg.Archive.Provider, "RENDERBOX_ARCHIVE_PROVIDER")
	setStr(&cfg.Archive.LocalRoot, "RENDERBOX_ARCHIVE_LOCAL_ROOT")
	setStr(&cfg.Archive.GDrive.ClientID, "GDRIVE_CLIENT_ID")
	setStr(&cfg.Archive.GDrive.ClientSecret, "GDRIVE_CLIENT_SECRET")
	setStr(&cfg.Archive.GDrive.RefreshToken, "GDRIVE_REFRESH_TOKEN")
	setStr(&cfg.Archive.GDrive.FolderID, "GDRIVE_FOLDER_ID")
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Store.Root) == "" {
		return errors.Validation("store.root must not be empty")
	}
	if c.Worker.PollInterval < 500*time.Millisecond {
		return errors.Validationf("worker.poll_interval %s is below the 500ms floor", c.Worker.PollInterval)
	}
	switch c.Archive.Provider {
	case "", "localfs", "gdrive":
	default:
		return errors.Validationf("unknown archive provider %q", c.Archive.Provider)
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt64(dst *int64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
