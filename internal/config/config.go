// Package config loads cmd/meshd's process configuration from
// environment variables (SPEC_FULL §1.2), the way
// R2Northstar-Atlas's pkg/atlas/config.go does: a `Config` struct whose
// fields carry an `env:"NAME?=default"` tag, read by reflection so
// adding a field never touches the parsing code. The `?` marks a field
// that may be explicitly set to the empty string; without it an empty
// environment value falls back to the default.
package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config is the full set of knobs cmd/meshd needs to wire a node:
// identity, storage, network, logging, metrics, and console surface.
// Protocol tuning constants (NEIGHBOR_TIMEOUT, TX_WINDOW_SIZE, ...)
// live as compile-time constants in their owning packages; this struct
// only covers what picks collaborators and identifies the node on the
// network (SPEC_FULL §1.2).
type Config struct {
	// NodeAddress is this node's 32-bit mesh address (spec §3 header
	// Source/Destination field width). Required: zero is not a valid
	// node address under spec §3's addressing.
	NodeAddress uint32 `env:"MESH_NODE_ADDRESS"`

	// NodeName is the up-to-16-character friendly name persisted under
	// store.KeyNodeName (spec §6).
	NodeName string `env:"MESH_NODE_NAME?="`

	// Channel is loaded for the application-delivery filter (console
	// `channel`, SPEC_FULL §3 Open Question 2). cmd/meshd does not pass
	// it to the engine, whose filter starts at channel 0.
	Channel uint8 `env:"MESH_CHANNEL=0"`

	// NetworkIDHex overrides the key-derived network ID (console
	// `netid`) when non-empty, as a 4-hex-digit value.
	NetworkIDHex string `env:"MESH_NETWORK_ID?="`

	// Encrypt matches the engine's `encrypt` console default; spec §4.1
	// requires this true in any real deployment.
	Encrypt bool `env:"MESH_ENCRYPT=true"`

	// StorePath roots the file-backed KV (internal/store.File) cmd/meshd
	// uses when running as a host simulator.
	StorePath string `env:"MESH_STORE_PATH=./meshd-data"`

	// LogLevel parses as a zerolog.Level (SPEC_FULL §1.1).
	LogLevel string `env:"MESH_LOG_LEVEL=info"`

	// SimSeed seeds the simulated medium's link-loss draws and the
	// simulated network's shared key (netsim.New), so a run is
	// reproducible. Each node's MAC backoff and retry jitter is seeded
	// from its own address, not from SimSeed.
	SimSeed int64 `env:"MESH_SIM_SEED=1"`

	// MetricsAddr, if non-empty, is the listen address cmd/meshd binds
	// a `/metrics` Prometheus handler to (SPEC_FULL §2). Empty disables
	// the metrics server entirely.
	MetricsAddr string `env:"MESH_METRICS_ADDR?="`

	// ConsoleStdin starts an internal/console REPL on stdin/stdout.
	ConsoleStdin bool `env:"MESH_CONSOLE_STDIN=true"`

	// TickInterval paces the host binary's cooperative scheduler loop
	// (spec §4.8 runs the engine as a tight ISR-driven loop; a host
	// process instead ticks on a wall-clock timer).
	TickInterval time.Duration `env:"MESH_TICK_INTERVAL=50ms"`
}

// Load reads a Config from environment key=value pairs (pass os.Environ()
// in production; tests pass a literal slice). Unset fields take their
// tag's default; NodeAddress has no default and Load returns an error
// if it is left at zero.
func Load(environ []string) (Config, error) {
	var c Config
	env := map[string]string{}
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	cv := reflect.ValueOf(&c).Elem()
	ct := cv.Type()
	for i := 0; i < ct.NumField(); i++ {
		field := ct.Field(i)
		tag, ok := field.Tag.Lookup("env")
		if !ok {
			continue
		}
		key, def, hasDefault := strings.Cut(tag, "=")
		unsettable := strings.HasSuffix(key, "?")
		key = strings.TrimSuffix(key, "?")
		_ = hasDefault

		val := def
		if v, present := env[key]; present && (unsettable || v != "") {
			val = v
		}

		if err := setField(cv.Field(i), key, val); err != nil {
			return Config{}, err
		}
	}

	if c.NodeAddress == 0 {
		return Config{}, fmt.Errorf("config: MESH_NODE_ADDRESS is required and must be nonzero")
	}
	return c, nil
}

func setField(fv reflect.Value, key, val string) error {
	switch fv.Interface().(type) {
	case string:
		fv.SetString(val)
	case bool:
		if val == "" {
			fv.SetBool(false)
			return nil
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("config: env %s: parse bool %q: %w", key, val, err)
		}
		fv.SetBool(b)
	case time.Duration:
		if val == "" {
			fv.Set(reflect.ValueOf(time.Duration(0)))
			return nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("config: env %s: parse duration %q: %w", key, val, err)
		}
		fv.Set(reflect.ValueOf(d))
	case uint8, uint16, uint32, uint64:
		if val == "" {
			fv.SetUint(0)
			return nil
		}
		u, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("config: env %s: parse uint %q: %w", key, val, err)
		}
		fv.SetUint(u)
	case int, int8, int16, int32, int64:
		if val == "" {
			fv.SetInt(0)
			return nil
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("config: env %s: parse int %q: %w", key, val, err)
		}
		fv.SetInt(n)
	default:
		return fmt.Errorf("config: env %s: unsupported field type %s", key, fv.Type())
	}
	return nil
}

// ZerologLevel parses LogLevel, falling back to InfoLevel on a bad
// value rather than failing startup over a typo'd log level.
func (c Config) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// NetworkIDOverride parses NetworkIDHex, reporting ok=false when unset.
func (c Config) NetworkIDOverride() (id uint16, ok bool, err error) {
	if c.NetworkIDHex == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(c.NetworkIDHex, 16, 16)
	if err != nil {
		return 0, false, fmt.Errorf("config: MESH_NETWORK_ID: %w", err)
	}
	return uint16(n), true, nil
}
