package framegraph

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/shader"
)

// MaxFrames is the deepest supported swapchain.
const MaxFrames = 8

// ErrInvalidConfig is returned by Validate and LoadConfig.
var ErrInvalidConfig = errors.New("framegraph: invalid config")

// Duration is a time.Duration read from a TOML string such as "5s".
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the startup configuration. It is read once; nothing writes it
// back.
type Config struct {
	// Backend is a registry name; empty selects the best registered backend.
	Backend    string `toml:"backend"`
	Width      uint32 `toml:"width"`
	Height     uint32 `toml:"height"`
	Frames     uint32 `toml:"frames"`
	VSync      string `toml:"vsync"`
	Fullscreen bool   `toml:"fullscreen"`
	// RingBufferSize is the ephemeral ring buffer size in bytes, a power of two.
	RingBufferSize uint32 `toml:"ring_buffer_size"`
	Debug          bool   `toml:"debug"`

	ShaderDir       string `toml:"shader_dir"`
	ShaderCacheSize int    `toml:"shader_cache_size"`
	ShaderHotReload bool   `toml:"shader_hot_reload"`

	IdleTimeout Duration `toml:"idle_timeout"`
	MetricsAddr string   `toml:"metrics_addr"`
}

// DefaultConfig returns the configuration used for missing keys.
func DefaultConfig() Config {
	d := device.DefaultDesc()
	return Config{
		Width:           d.Swapchain.Width,
		Height:          d.Swapchain.Height,
		Frames:          d.Swapchain.Frames,
		VSync:           d.Swapchain.VSync.String(),
		RingBufferSize:  d.RingBufferSize,
		ShaderDir:       "shaders",
		ShaderCacheSize: shader.DefaultCacheSize,
		IdleTimeout:     Duration(d.IdleTimeout),
	}
}

// LoadConfig reads a TOML file over DefaultConfig and validates it.
// Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("framegraph: load config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return cfg, fmt.Errorf("%w: %s:%d:%d: %s", ErrInvalidConfig, path, row, col, derr.Error())
		}
		return cfg, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.Frames < 1 || c.Frames > MaxFrames {
		return fmt.Errorf("%w: frames %d not in 1..%d", ErrInvalidConfig, c.Frames, MaxFrames)
	}
	if _, err := device.ParseVSync(c.VSync); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.RingBufferSize == 0 || bits.OnesCount32(c.RingBufferSize) != 1 {
		return fmt.Errorf("%w: ring_buffer_size %d is not a power of two", ErrInvalidConfig, c.RingBufferSize)
	}
	if c.ShaderCacheSize < 0 {
		return fmt.Errorf("%w: shader_cache_size %d", ErrInvalidConfig, c.ShaderCacheSize)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle_timeout %v", ErrInvalidConfig, time.Duration(c.IdleTimeout))
	}
	return nil
}

// DeviceDesc converts the configuration into a device description. The
// configuration must be valid.
func (c *Config) DeviceDesc() device.Desc {
	d := device.DefaultDesc()
	vsync, _ := device.ParseVSync(c.VSync)
	d.Swapchain = device.SwapchainDesc{
		Frames:     c.Frames,
		Width:      c.Width,
		Height:     c.Height,
		VSync:      vsync,
		Fullscreen: c.Fullscreen,
	}
	d.RingBufferSize = c.RingBufferSize
	d.Debug = c.Debug
	d.IdleTimeout = time.Duration(c.IdleTimeout)
	return d
}
