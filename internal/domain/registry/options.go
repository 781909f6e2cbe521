package registry

import "log/slog"

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithSessionCapacity pre-sizes the connection list of a newly seen recipient.
func WithSessionCapacity(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.config.sessionCapacity = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.config.logger = logger.With(slog.String("component", "hub"))
		}
	}
}
