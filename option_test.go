package ktask_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ktask"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestWithTracing(t *testing.T) {
	output := filepath.Join(t.TempDir(), "spans.txt")
	noop := ktask.WithTrampoline(ktask.TrampolineFunc(func(*ktask.Runtime) {}))
	exporter := ktask.WithTracingExporter(tracetest.NewInMemoryExporter())

	testCases := []struct {
		description string
		options     func(config *ktask.Config) []ktask.Option
	}{
		{
			description: "tracing before config",
			options: func(config *ktask.Config) []ktask.Option {
				return []ktask.Option{ktask.WithTracing(output), ktask.WithConfig(config), noop, exporter}
			},
		},
		{
			description: "tracing after config",
			options: func(config *ktask.Config) []ktask.Option {
				return []ktask.Option{ktask.WithConfig(config), ktask.WithTracing(output), noop, exporter}
			},
		},
	}
	for _, testCase := range testCases {
		config := ktask.DefaultConfig()
		srv, err := ktask.New(testCase.options(config)...)
		require.NoError(t, err, testCase.description)
		assert.Equal(t, ktask.TracingConfig{Enabled: true, Output: output}, srv.Config().Tracing, testCase.description)
		assert.Equal(t, ktask.TracingConfig{}, config.Tracing, testCase.description)
		assert.Equal(t, config.InitProc, srv.Config().InitProc, testCase.description)
	}
}
