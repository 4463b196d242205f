// Command fgdemo renders a small frame graph headless: an MSAA scene pass,
// a resolve and a post-processing pass, presented every frame. Statistics
// are served to Prometheus when a metrics address is configured.
package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/metrics"
	_ "github.com/gogpu/wgpu/hal/allbackends" // platform GPU APIs for the native backend
)

//go:embed shaders/*.wgsl
var embedded embed.FS

func logger() *slog.Logger { return framegraph.Logger() }

func main() {
	var (
		configPath = flag.String("config", "", "TOML configuration file")
		frames     = flag.Int("frames", 300, "frames to render, 0 renders until interrupted")
		backend    = flag.String("backend", "", "backend name, overrides the configuration")
		metricsArg = flag.String("metrics", "", "metrics listen address, overrides the configuration")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	framegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := framegraph.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = framegraph.LoadConfig(*configPath); err != nil {
			logger().Error("fgdemo: config", "err", err)
			os.Exit(2)
		}
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *metricsArg != "" {
		cfg.MetricsAddr = *metricsArg
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, *frames, *configPath == ""); err != nil {
		logger().Error("fgdemo: failed", "err", err)
		os.Exit(1)
	}
}

// run opens the context, renders and serves metrics until frames are done
// or ctx is canceled.
func run(ctx context.Context, cfg framegraph.Config, frames int, builtinShaders bool) error {
	var opts []framegraph.Option
	if builtinShaders {
		sub, err := fs.Sub(embedded, "shaders")
		if err != nil {
			return err
		}
		opts = append(opts, framegraph.WithShaderFS(sub))
	}

	fc, err := framegraph.Open(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := fc.Close(); err != nil {
			logger().Warn("fgdemo: close", "err", err)
		}
	}()

	warm := time.Now()
	if err := fc.Shaders().Precompile(ctx, variants()...); err != nil {
		return fmt.Errorf("precompile shaders: %w", err)
	}
	logger().Info("fgdemo: shaders ready", "variants", fc.Shaders().Stats().Variants, "took", time.Since(warm))

	width, height := fc.Device().DrawableSize()
	d, err := newDemo(fc.Device(), width, height)
	if err != nil {
		return err
	}
	defer d.close()

	g, ctx := errgroup.WithContext(ctx)
	renderCtx, done := context.WithCancel(ctx)
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			metrics.NewCollector("framegraph",
				metrics.Device(fc.Device()), metrics.Graph("demo", d.g), metrics.Shaders(fc.Shaders())),
		)
		g.Go(func() error { return serveMetrics(renderCtx, cfg.MetricsAddr, reg) })
	}
	g.Go(func() error {
		defer done()
		return renderLoop(renderCtx, fc, d, frames)
	})
	return g.Wait()
}

func renderLoop(ctx context.Context, fc *framegraph.Context, d *demo, frames int) error {
	start := time.Now()
	rendered := 0
	for frames == 0 || rendered < frames {
		if ctx.Err() != nil {
			break
		}
		ok, err := fc.BeginFrame()
		if err != nil {
			return err
		}
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		d.time = float32(time.Since(start).Seconds())
		if err := d.g.Render(); err != nil {
			return fmt.Errorf("frame %d: %w", rendered, err)
		}
		rendered++
	}
	elapsed := time.Since(start)
	st := fc.Device().Stats()
	logger().Info("fgdemo: done", "frames", rendered, "elapsed", elapsed,
		"fps", float64(rendered)/elapsed.Seconds(), "draws", st.DrawCalls, "stalls", st.FrameStalls)
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger().Info("fgdemo: serving metrics", "addr", addr)

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
