// Package metrics exports device, render graph and shader cache statistics
// to Prometheus.
//
// The collector reads the stats snapshots at scrape time, so it never
// touches the recording goroutine:
//
//	reg.MustRegister(metrics.NewCollector("framegraph",
//		metrics.Device(dev), metrics.Graph("main", g), metrics.Shaders(compiler)))
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/shader"
)

// DeviceStats is implemented by every device.Device.
type DeviceStats interface {
	Stats() device.Stats
}

// GraphStats is implemented by *graph.Graph.
type GraphStats interface {
	Stats() graph.Stats
}

// ShaderStats is implemented by *shader.Compiler.
type ShaderStats interface {
	Stats() shader.Stats
}

// metric is one exported value computed from a snapshot of type S.
type metric[S any] struct {
	name  string
	help  string
	typ   prometheus.ValueType
	value func(*S) float64
}

func gauge[S any](name, help string, value func(*S) float64) metric[S] {
	return metric[S]{name: name, help: help, typ: prometheus.GaugeValue, value: value}
}

func counter[S any](name, help string, value func(*S) float64) metric[S] {
	return metric[S]{name: name, help: help, typ: prometheus.CounterValue, value: value}
}

// Source is a set of metrics read from one stats provider.
type Source interface {
	describe(namespace string) []*prometheus.Desc
	collect(descs []*prometheus.Desc, ch chan<- prometheus.Metric)
}

type source[S any] struct {
	subsystem string
	labels    prometheus.Labels
	snapshot  func() S
	metrics   []metric[S]
}

func (s *source[S]) describe(namespace string) []*prometheus.Desc {
	descs := make([]*prometheus.Desc, len(s.metrics))
	for i, m := range s.metrics {
		descs[i] = prometheus.NewDesc(prometheus.BuildFQName(namespace, s.subsystem, m.name), m.help, nil, s.labels)
	}
	return descs
}

func (s *source[S]) collect(descs []*prometheus.Desc, ch chan<- prometheus.Metric) {
	snap := s.snapshot()
	for i, m := range s.metrics {
		ch <- prometheus.MustNewConstMetric(descs[i], m.typ, m.value(&snap))
	}
}

// Device exports frame pacing, ring buffer and resource pool statistics.
func Device(d DeviceStats) Source {
	return &source[device.Stats]{
		subsystem: "device",
		labels:    prometheus.Labels{"backend": d.Stats().Backend},
		snapshot:  d.Stats,
		metrics: []metric[device.Stats]{
			counter("frames_total", "Frames begun.", func(s *device.Stats) float64 { return float64(s.FrameNum) }),
			gauge("frames_in_flight", "Frames submitted and not yet retired.", func(s *device.Stats) float64 { return float64(s.FramesInFlight) }),
			gauge("frame_slots", "Depth of the frame ring.", func(s *device.Stats) float64 { return float64(s.FrameSlots) }),
			gauge("last_synced_frame", "Newest frame known complete on the GPU.", func(s *device.Stats) float64 { return float64(s.LastSyncedFrame) }),
			counter("frame_stalls_total", "Waits for a frame slot to retire.", func(s *device.Stats) float64 { return float64(s.FrameStalls) }),
			gauge("ring_buffer_bytes", "Ring buffer size.", func(s *device.Stats) float64 { return float64(s.RingBufferSize) }),
			gauge("ring_buffer_used_bytes", "Ring buffer bytes not yet released by the GPU.", func(s *device.Stats) float64 { return float64(s.RingBufferUsed) }),
			counter("ring_waits_total", "Ephemeral allocations that waited for the GPU.", func(s *device.Stats) float64 { return float64(s.RingWaits) }),
			gauge("buffers", "Live persistent buffers.", func(s *device.Stats) float64 { return float64(s.Buffers) }),
			gauge("ephemeral_buffers", "Live ephemeral buffers.", func(s *device.Stats) float64 { return float64(s.EphemeralBuffers) }),
			gauge("textures", "Live textures including render target views.", func(s *device.Stats) float64 { return float64(s.Textures) }),
			gauge("render_targets", "Live render targets.", func(s *device.Stats) float64 { return float64(s.RenderTargets) }),
			gauge("samplers", "Live samplers.", func(s *device.Stats) float64 { return float64(s.Samplers) }),
			gauge("render_passes", "Live render passes.", func(s *device.Stats) float64 { return float64(s.RenderPasses) }),
			gauge("framebuffers", "Live framebuffers.", func(s *device.Stats) float64 { return float64(s.Framebuffers) }),
			gauge("pipelines", "Live pipelines.", func(s *device.Stats) float64 { return float64(s.Pipelines) }),
			counter("swapchain_recreations_total", "Swapchain rebuilds.", func(s *device.Stats) float64 { return float64(s.SwapchainRecreations) }),
			counter("draw_calls_total", "Draw calls recorded.", func(s *device.Stats) float64 { return float64(s.DrawCalls) }),
			gauge("memory_bytes", "GPU memory held by persistent resources.", func(s *device.Stats) float64 { return float64(s.MemoryBytes) }),
		},
	}
}

// Graph exports render graph statistics under the given graph label.
func Graph(name string, g GraphStats) Source {
	return &source[graph.Stats]{
		subsystem: "graph",
		labels:    prometheus.Labels{"graph": name},
		snapshot:  g.Stats,
		metrics: []metric[graph.Stats]{
			counter("builds_total", "Successful builds.", func(s *graph.Stats) float64 { return float64(s.Builds) }),
			counter("frames_total", "Frames rendered.", func(s *graph.Stats) float64 { return float64(s.Frames) }),
			gauge("pipelines", "Cached pipelines.", func(s *graph.Stats) float64 { return float64(s.Pipelines) }),
			counter("pipeline_hits_total", "Pipeline cache hits.", func(s *graph.Stats) float64 { return float64(s.PipelineHits) }),
			counter("pipeline_misses_total", "Pipeline cache misses.", func(s *graph.Stats) float64 { return float64(s.PipelineMisses) }),
			counter("framebuffer_builds_total", "Framebuffers created.", func(s *graph.Stats) float64 { return float64(s.FramebufferBuilds) }),
			counter("transitions_total", "Layout transitions beyond the render pass layouts.", func(s *graph.Stats) float64 { return float64(s.Transitions) }),
		},
	}
}

// Shaders exports shader cache statistics.
func Shaders(c ShaderStats) Source {
	return &source[shader.Stats]{
		subsystem: "shader",
		snapshot:  c.Stats,
		metrics: []metric[shader.Stats]{
			gauge("variants", "Cached shader variants.", func(s *shader.Stats) float64 { return float64(s.Variants) }),
			counter("cache_hits_total", "Shader cache hits.", func(s *shader.Stats) float64 { return float64(s.Hits) }),
			counter("cache_misses_total", "Shader cache misses.", func(s *shader.Stats) float64 { return float64(s.Misses) }),
			counter("cache_evictions_total", "Shader variants evicted.", func(s *shader.Stats) float64 { return float64(s.Evictions) }),
		},
	}
}

// Collector is a prometheus.Collector over a fixed set of sources.
type Collector struct {
	sources []Source
	descs   [][]*prometheus.Desc
}

// NewCollector returns a collector exporting sources under namespace.
func NewCollector(namespace string, sources ...Source) *Collector {
	c := &Collector{sources: sources, descs: make([][]*prometheus.Desc, len(sources))}
	for i, s := range sources {
		c.descs[i] = s.describe(namespace)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, descs := range c.descs {
		for _, d := range descs {
			ch <- d
		}
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for i, s := range c.sources {
		s.collect(c.descs[i], ch)
	}
}
