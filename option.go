package ktask

import (
	"log/slog"

	"github.com/viant/afs/storage"
	"github.com/viant/ktask/loader"
	"github.com/viant/ktask/mm"
	"github.com/viant/ktask/progress"
	"github.com/viant/ktask/service/dao/process"
	"github.com/viant/ktask/service/event"
	"github.com/viant/ktask/service/messaging"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option configures the Service.
type Option func(s *Service)

// WithConfig sets the configuration; options applied later override it.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		if config != nil {
			s.config = config
		}
	}
}

// WithMemory sets the address-space manager. Defaults to a simulated memory
// sized by Config.Memory.
func WithMemory(memory mm.Memory) Option {
	return func(s *Service) {
		s.memory = memory
	}
}

// WithLoader sets the application loader. Defaults to an afs loader over
// Config.Loader.BaseURL.
func WithLoader(l loader.Loader) Option {
	return func(s *Service) {
		s.loader = l
	}
}

// WithLoaderOptions passes storage options (for example an embed.FS) to the
// default loader.
func WithLoaderOptions(options ...storage.Option) Option {
	return func(s *Service) {
		s.loaderOptions = append(s.loaderOptions, options...)
	}
}

// WithTrampoline sets the trap-return path every task enters first.
func WithTrampoline(trampoline Trampoline) Option {
	return func(s *Service) {
		s.trampoline = trampoline
	}
}

// WithTrapHandler sets the trap handler address stored in new trap frames.
func WithTrapHandler(address uint64) Option {
	return func(s *Service) {
		s.trapHandler = address
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTracing enables OpenTelemetry tracing to outputFile, or stdout when
// outputFile is empty. It takes precedence over Config.Tracing regardless of
// option order and leaves the caller's Config untouched.
func WithTracing(outputFile string) Option {
	return func(s *Service) {
		s.tracingOutput = &outputFile
	}
}

// WithTracingExporter enables tracing with a custom exporter.
func WithTracingExporter(exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		s.exporter = exporter
	}
}

// WithProcessTable sets the process table. Defaults to an empty one.
func WithProcessTable(table *process.Service) Option {
	return func(s *Service) {
		s.processes = table
	}
}

// WithEventQueue enables lifecycle events on queue.
func WithEventQueue(queue messaging.Queue[event.Event[event.Lifecycle]]) Option {
	return func(s *Service) {
		s.eventQueue = queue
	}
}

// WithProgressListener registers a callback receiving the task counters
// after every change. It runs on the kernel's flow and must not block.
func WithProgressListener(listener func(progress.Progress)) Option {
	return func(s *Service) {
		s.onProgress = listener
	}
}
