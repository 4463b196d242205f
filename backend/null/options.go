package null

// Option configures a null Device.
type Option func(*options)

type options struct {
	gpuDelay int
}

// WithGPUDelay makes every submission complete only after polls calls to
// the completion query, simulating a GPU running behind the CPU.
func WithGPUDelay(polls int) Option {
	return func(o *options) { o.gpuDelay = polls }
}
