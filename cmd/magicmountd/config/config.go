// Package config loads the daemon's runtime configuration from environment
// variables, auto-loading a ".env" file if present, then layering an
// optional fleet-provisioned YAML override file on top.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ghodss/yaml"
	"github.com/joho/godotenv"
)

// staticOverrideFile is the fleet-provisioned config a device image ships at
// /system/etc, read-only and orthogonal to the .env knobs used for local
// development. Overriding it is useful because the environment at post-fs
// time is minimal and provisioning a file is easier than wiring init.rc
// exports for every knob.
const staticOverrideFile = "/system/etc/magicmount.yaml"

// override mirrors the subset of Config a fleet override file may set.
// Fields are pointers so an absent key in the YAML document leaves the
// env-derived default untouched.
type override struct {
	Mountpoint       *string `json:"mountpoint"`
	MirrorDir        *string `json:"mirrorDir"`
	DummyDir         *string `json:"dummyDir"`
	CoreDir          *string `json:"coreDir"`
	CacheMount       *string `json:"cacheMount"`
	DataDir          *string `json:"dataDir"`
	DefaultImageSize *string `json:"defaultImageSize"`
	DiagSocket       *string `json:"diagSocket"`
	LogLevel         *string `json:"logLevel"`
	OtelEnabled      *bool   `json:"otelEnabled"`
}

// Config holds every environment-derived knob the daemon needs.
type Config struct {
	Mountpoint   string // MOUNTPOINT: active module image mount root
	MirrorDir    string // MIRRDIR: read-only base-partition mirror root
	DummyDir     string // DUMMDIR: writable skeleton shadow root
	CoreDir      string // COREDIR: common script root (.core)
	CacheMount   string // CACHEMOUNT: simple-mount staging root
	DataDir      string // sentinel files live under here

	StagedImage string // cache-resident incoming module image
	MergeImage  string // data-resident incoming module image
	ActiveImage string // the image mounted at Mountpoint

	DefaultImageSize string // human size, e.g. "64MB"

	DiagSocket string // Unix socket path for the diagnostics server

	LogLevel    string
	OtelEnabled bool
	ServiceName string
}

// Load reads Config from the environment, applying the same defaults a
// production device ships with, then applies any knobs set by a
// fleet-provisioned static YAML override file, if present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Mountpoint:       getEnv("MOUNTPOINT", "/dev/magicmount/mirror"),
		MirrorDir:        getEnv("MIRRDIR", "/dev/magicmount/.mirror"),
		DummyDir:         getEnv("DUMMDIR", "/dev/magicmount/dummy"),
		CoreDir:          getEnv("COREDIR", "/data/adb/magicmount/.core"),
		CacheMount:       getEnv("CACHEMOUNT", "/cache/magicmount"),
		DataDir:          getEnv("DATA_DIR", "/data/adb/magicmount"),
		StagedImage:      getEnv("STAGED_IMAGE", "/cache/magicmount.img"),
		MergeImage:       getEnv("MERGE_IMAGE", "/data/magicmount_merge.img"),
		ActiveImage:      getEnv("ACTIVE_IMAGE", "/data/adb/magicmount.img"),
		DefaultImageSize: getEnv("DEFAULT_IMAGE_SIZE", "64MB"),
		DiagSocket:       getEnv("DIAG_SOCKET", "/dev/socket/magicmountd.diag"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		OtelEnabled:      getEnvBool("OTEL_ENABLED", false),
		ServiceName:      getEnv("OTEL_SERVICE_NAME", "magicmountd"),
	}

	applyStaticOverride(cfg, staticOverrideFile)
	return cfg
}

// applyStaticOverride reads a YAML override file, if present, and applies
// any knobs it sets on top of cfg. A missing file is not an error; a
// malformed one is logged to stderr and otherwise ignored, since a
// provisioning mistake must never block boot.
func applyStaticOverride(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var o override
	if err := yaml.Unmarshal(data, &o); err != nil {
		fmt.Fprintf(os.Stderr, "magicmount: ignoring malformed config override %s: %v\n", path, err)
		return
	}

	if o.Mountpoint != nil {
		cfg.Mountpoint = *o.Mountpoint
	}
	if o.MirrorDir != nil {
		cfg.MirrorDir = *o.MirrorDir
	}
	if o.DummyDir != nil {
		cfg.DummyDir = *o.DummyDir
	}
	if o.CoreDir != nil {
		cfg.CoreDir = *o.CoreDir
	}
	if o.CacheMount != nil {
		cfg.CacheMount = *o.CacheMount
	}
	if o.DataDir != nil {
		cfg.DataDir = *o.DataDir
	}
	if o.DefaultImageSize != nil {
		cfg.DefaultImageSize = *o.DefaultImageSize
	}
	if o.DiagSocket != nil {
		cfg.DiagSocket = *o.DiagSocket
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.OtelEnabled != nil {
		cfg.OtelEnabled = *o.OtelEnabled
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
