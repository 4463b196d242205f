package framegraph

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/framegraph/backend"
	_ "github.com/gogpu/framegraph/backend/native" // registers native, vulkan, metal, dx12, gl
	_ "github.com/gogpu/framegraph/backend/null"   // registers null
	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/shader"
)

// Option configures Open.
type Option func(*options)

type options struct {
	surface  device.SurfaceHandles
	window   gpucontext.WindowProvider
	shaderFS fs.FS
	onReload func(files []string)
	pump     func()
}

// WithSurface presents into the given native window. Without it the device
// renders headless.
func WithSurface(h device.SurfaceHandles) Option {
	return func(o *options) { o.surface = h }
}

// WithWindow sizes the swapchain from the window's drawable size in
// physical pixels instead of the configured width and height.
func WithWindow(w gpucontext.WindowProvider) Option {
	return func(o *options) { o.window = w }
}

// WithShaderFS reads shaders from fsys instead of Config.ShaderDir. Hot
// reload is unavailable for such a tree.
func WithShaderFS(fsys fs.FS) Option {
	return func(o *options) { o.shaderFS = fsys }
}

// WithShaderReload is called with the changed files after a hot reload
// dropped their cached variants. Rebuild render graphs from it to pick up
// the new shaders.
func WithShaderReload(fn func(files []string)) Option {
	return func(o *options) { o.onReload = fn }
}

// WithPump services the host event loop while the device blocks on the
// GPU, for example during a swapchain or ring buffer resize.
func WithPump(fn func()) Option {
	return func(o *options) { o.pump = fn }
}

// Context owns a device and its shader compiler. Close releases them in
// order. A Context is used from the recording goroutine, except
// WatchResize callbacks and Close.
type Context struct {
	cfg     Config
	dev     device.Device
	shaders *shader.Compiler

	watcher *shader.Watcher
	stop    context.CancelFunc
	wg      sync.WaitGroup

	// resize holds a pending drawable size packed as width<<32 | height.
	resize atomic.Uint64
	closed atomic.Bool
}

// Open validates cfg, creates the shader compiler and opens the configured
// backend.
func Open(cfg Config, opts ...Option) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	fsys := o.shaderFS
	if fsys == nil {
		fsys = os.DirFS(cfg.ShaderDir)
	}
	c := &Context{
		cfg:     cfg,
		shaders: shader.NewCompiler(fsys, shader.WithCacheSize(cfg.ShaderCacheSize), shader.WithDebugInfo(cfg.Debug)),
	}

	desc := cfg.DeviceDesc()
	desc.Shaders = c.shaders
	desc.Surface = o.surface
	desc.Pump = o.pump
	if o.window != nil {
		desc.Swapchain.Width, desc.Swapchain.Height = drawableSize(o.window)
	}
	dev, err := backend.Open(cfg.Backend, desc)
	if err != nil {
		return nil, err
	}
	c.dev = dev

	if cfg.ShaderHotReload && o.shaderFS == nil {
		if err := c.startReload(o.onReload); err != nil {
			_ = dev.Close()
			return nil, err
		}
	}
	Logger().Info("framegraph: context opened", "backend", dev.Backend(),
		"width", desc.Swapchain.Width, "height", desc.Swapchain.Height,
		"frames", desc.Swapchain.Frames, "vsync", desc.Swapchain.VSync.String())
	return c, nil
}

func (c *Context) startReload(onReload func([]string)) error {
	w, err := shader.NewWatcher(c.cfg.ShaderDir, c.shaders, shader.WithReload(onReload))
	if err != nil {
		return fmt.Errorf("framegraph: shader hot reload: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.watcher, c.stop = w, cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			Logger().Warn("framegraph: shader watcher stopped", "err", err)
		}
	}()
	return nil
}

func drawableSize(w gpucontext.WindowProvider) (width, height uint32) {
	lw, lh := w.Size()
	scale := w.ScaleFactor()
	if scale <= 0 {
		scale = 1
	}
	return uint32(max(1, float64(lw)*scale)), uint32(max(1, float64(lh)*scale)) //nolint:gosec // G115: window sizes are positive
}

// Device returns the device. It stays owned by the Context.
func (c *Context) Device() device.Device { return c.dev }

// Shaders returns the shader compiler the device was created with.
func (c *Context) Shaders() *shader.Compiler { return c.shaders }

// Config returns the configuration the context was opened with.
func (c *Context) Config() Config { return c.cfg }

// WatchResize records resize events from src. They may arrive on any
// goroutine; the latest size is applied by the next BeginFrame.
func (c *Context) WatchResize(src gpucontext.EventSource) {
	src.OnResize(func(width, height int) {
		if width <= 0 || height <= 0 {
			return
		}
		c.resize.Store(uint64(width)<<32 | uint64(uint32(height))) //nolint:gosec // G115: checked positive above
	})
}

// BeginFrame applies a pending resize and begins a device frame. It
// returns false when no frame could be started, for example while the
// swapchain is being recreated; the caller retries.
func (c *Context) BeginFrame() (bool, error) {
	if packed := c.resize.Swap(0); packed != 0 {
		cur := c.dev.SwapchainDesc()
		sc := cur
		sc.Width, sc.Height = uint32(packed>>32), uint32(packed) //nolint:gosec // G115: packed from uint32 halves
		if sc != cur {
			Logger().Debug("framegraph: resize", "width", sc.Width, "height", sc.Height)
			c.dev.SetSwapchainDesc(sc)
		}
	}
	return c.dev.BeginFrame()
}

// Close stops shader hot reload, waits for the GPU and closes the device.
// It must not be called inside a frame. Closing twice is a no-op.
func (c *Context) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if c.watcher != nil {
		c.stop()
		errs = append(errs, c.watcher.Close())
		c.wg.Wait()
	}
	if err := c.dev.WaitForDeviceIdle(nil); err != nil && !errors.Is(err, device.ErrClosed) {
		errs = append(errs, err)
	}
	errs = append(errs, c.dev.Close())
	Logger().Info("framegraph: context closed")
	return errors.Join(errs...)
}
