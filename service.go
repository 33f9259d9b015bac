package ktask

import (
	"fmt"
	"log/slog"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/ktask/internal/idgen"
	"github.com/viant/ktask/loader"
	"github.com/viant/ktask/mm"
	"github.com/viant/ktask/pid"
	"github.com/viant/ktask/progress"
	"github.com/viant/ktask/service/dao/process"
	"github.com/viant/ktask/service/event"
	"github.com/viant/ktask/service/messaging"
	"github.com/viant/ktask/service/messaging/memory"
	"github.com/viant/ktask/service/processor"
	"github.com/viant/ktask/service/ready"
	"github.com/viant/ktask/sim/mem"
	"github.com/viant/ktask/task"
	"github.com/viant/ktask/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Version is reported as the tracing service version.
const Version = "0.1.0"

// Service assembles a kernel. It is created once by New; nothing inside is
// constructed lazily.
type Service struct {
	config        *Config
	runtime       *Runtime
	memory        mm.Memory
	loader        loader.Loader
	loaderOptions []storage.Option
	trampoline    Trampoline
	trapHandler   uint64
	logger        *slog.Logger
	exporter      sdktrace.SpanExporter
	tracingOutput *string
	processes     *process.Service
	eventQueue    messaging.Queue[event.Event[event.Lifecycle]]
	onProgress    func(progress.Progress)
}

// Runtime returns the kernel runtime.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

// Config returns the effective configuration.
func (s *Service) Config() *Config {
	return s.config
}

// New builds every kernel singleton: processor, ready set, pid allocator and
// process table. The init process is registered separately with
// Runtime.AddInitProc.
func New(options ...Option) (*Service, error) {
	s := &Service{config: DefaultConfig()}
	for _, option := range options {
		option(s)
	}
	if s.tracingOutput != nil {
		config := *s.config
		config.Tracing = TracingConfig{Enabled: true, Output: *s.tracingOutput}
		s.config = &config
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	if s.trampoline == nil {
		return nil, fmt.Errorf("trampoline is required")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.memory == nil {
		s.memory = mem.New(s.config.Memory)
	}
	if s.processes == nil {
		s.processes = process.New()
	}
	if s.loader == nil {
		s.loader = loader.New(afs.New(), s.config.Loader.BaseURL, s.loaderOptions...)
	}
	if err := s.initTracing(); err != nil {
		return nil, fmt.Errorf("failed to initialise tracing: %w", err)
	}

	bootID := idgen.New()
	rt := &Runtime{
		config:     s.config,
		logger:     s.logger.With("boot", bootID),
		bootID:     bootID,
		memory:     s.memory,
		loader:     s.loader,
		pids:       pid.NewAllocator(),
		processes:  s.processes,
		progress:   progress.New(bootID),
		trampoline: s.trampoline,
	}
	rt.progress.OnChange(s.onProgress)
	if s.eventQueue == nil && s.config.Events.Enabled {
		s.eventQueue = memory.NewQueue[event.Event[event.Lifecycle]](memory.Config{
			QueueBuffer: s.config.Events.QueueBuffer,
			NonBlocking: true,
		})
	}
	if s.eventQueue != nil {
		events, err := event.New(s.eventQueue, event.WithBootID(bootID), event.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		rt.events = events
	}

	var err error
	if rt.ready, err = ready.New(ready.WithConfig(ready.Config{BigStride: s.config.Scheduler.BigStride})); err != nil {
		return nil, err
	}
	if rt.processor, err = processor.New(processor.WithReadySet(rt.ready), processor.WithListeners(rt.onDispatch)); err != nil {
		return nil, err
	}
	rt.env = &task.Env{
		Memory:      s.memory,
		Pids:        rt.pids,
		TrapReturn:  rt.trapReturn,
		TrapHandler: s.trapHandler,
		Priority:    s.config.Scheduler.DefaultPriority,
	}
	s.runtime = rt
	return s, nil
}

func (s *Service) initTracing() error {
	if s.exporter != nil {
		return tracing.InitWithExporter("ktask", Version, s.exporter)
	}
	if !s.config.Tracing.Enabled {
		return nil
	}
	return tracing.Init("ktask", Version, s.config.Tracing.Output)
}
