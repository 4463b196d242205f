package framegraph

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/framegraph/device"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "framegraph.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
	if got, want := cfg.DeviceDesc(), device.DefaultDesc(); got.Swapchain != want.Swapchain ||
		got.RingBufferSize != want.RingBufferSize || got.IdleTimeout != want.IdleTimeout {
		t.Errorf("DefaultConfig().DeviceDesc() = %+v, want %+v", got, want)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
backend = "null"
width = 640
height = 480
frames = 2
vsync = "late"
ring_buffer_size = 65536
debug = true
shader_dir = "assets/shaders"
idle_timeout = "250ms"
metrics_addr = ":9090"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Backend != "null" || cfg.ShaderDir != "assets/shaders" || cfg.MetricsAddr != ":9090" {
		t.Errorf("LoadConfig() = %+v", cfg)
	}
	if cfg.ShaderCacheSize != DefaultConfig().ShaderCacheSize {
		t.Errorf("missing key did not keep its default: shader_cache_size = %d", cfg.ShaderCacheSize)
	}

	d := cfg.DeviceDesc()
	want := device.SwapchainDesc{Frames: 2, Width: 640, Height: 480, VSync: device.VSyncLateSwapTear}
	if d.Swapchain != want {
		t.Errorf("Swapchain = %+v, want %+v", d.Swapchain, want)
	}
	if d.RingBufferSize != 65536 || !d.Debug || d.IdleTimeout != 250*time.Millisecond {
		t.Errorf("DeviceDesc() = %+v", d)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", `colour = "red"`},
		{"syntax", `width = `},
		{"zero size", `width = 0`},
		{"too many frames", `frames = 9`},
		{"bad vsync", `vsync = "sometimes"`},
		{"ring not power of two", `ring_buffer_size = 1000`},
		{"bad duration", `idle_timeout = "soon"`},
		{"negative cache", `shader_cache_size = -1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.data))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("LoadConfig() error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadConfig(missing) error = %v, want os.ErrNotExist", err)
	}
}
