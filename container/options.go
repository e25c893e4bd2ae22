package container

import (
	"log/slog"

	"github.com/arloliu/mcapkit/bytesource"
	"github.com/arloliu/mcapkit/internal/options"
)

type config struct {
	strict        bool
	useSummary    bool
	logger        *slog.Logger
	sourceOptions []bytesource.Option
}

// Option configures Open and OpenFile.
type Option = options.Option[*config]

// WithStrict enables CRC verification. In strict mode every non-zero stored
// CRC that does not match is an error, including the summary CRC that the
// lenient mode answers with a fallback to a linear scan.
func WithStrict(strict bool) Option {
	return options.NoError(func(c *config) {
		c.strict = strict
	})
}

// WithSummary selects whether the summary section may be used to build the
// indexes. Disabling it forces the linear scan.
func WithSummary(use bool) Option {
	return options.NoError(func(c *config) {
		c.useSummary = use
	})
}

// WithLogger sets the logger used for lifecycle events such as summary fallback.
func WithLogger(logger *slog.Logger) Option {
	return options.NoError(func(c *config) {
		c.logger = logger
	})
}

// WithSourceOptions passes options to the windowed source created by OpenFile.
func WithSourceOptions(opts ...bytesource.Option) Option {
	return options.NoError(func(c *config) {
		c.sourceOptions = append(c.sourceOptions, opts...)
	})
}
