package upstream

import (
	"github.com/rs/zerolog"

	"tokensend/internal/config"
)

// Set holds one Client per configured endpoint, keyed by endpoint URL so a
// pool connection can be resolved to the client that serves it
type Set struct {
	clients []*Client
	byURL   map[string]*Client
	logger  zerolog.Logger
}

// NewSet creates clients for every endpoint in cfg
func NewSet(cfg *config.Config, logger zerolog.Logger) *Set {
	s := &Set{
		clients: make([]*Client, 0, len(cfg.Endpoints)),
		byURL:   make(map[string]*Client, len(cfg.Endpoints)),
		logger:  logger.With().Str("component", "upstream").Logger(),
	}

	for _, e := range cfg.Endpoints {
		c := New(Config{
			Name:           e.Name,
			RPCURL:         e.RPCURL,
			WSURL:          e.WSURL,
			RateLimit:      e.RateLimit,
			RequestTimeout: cfg.GetRequestTimeoutDuration(),
			Logger:         s.logger,
		})
		s.clients = append(s.clients, c)
		s.byURL[e.URL()] = c
	}

	return s
}

// Get returns the client serving endpoint
func (s *Set) Get(endpoint string) (*Client, bool) {
	c, ok := s.byURL[endpoint]
	return c, ok
}

// All returns every client in configuration order
func (s *Set) All() []*Client {
	result := make([]*Client, len(s.clients))
	copy(result, s.clients)
	return result
}

// Close closes all clients
func (s *Set) Close() {
	for _, c := range s.clients {
		c.Close()
	}
	s.logger.Info().Int("clients", len(s.clients)).Msg("upstream clients closed")
}
