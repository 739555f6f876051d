package repository

import (
	"context"

	"boardroom/internal/observability"
)

// Instrument wraps p so every store call records latency, errors and an error log line.
func Instrument(p Provider) Provider {
	if _, ok := p.(*instrumentedProvider); ok {
		return p
	}
	return &instrumentedProvider{Provider: p, log: observability.NewStoreLogger(p.Name())}
}

type instrumentedProvider struct {
	Provider
	log *observability.StoreLogger
}

func (p *instrumentedProvider) ForRoom(roomID string) Store {
	return &instrumentedStore{
		inner:  p.Provider.ForRoom(roomID),
		driver: p.Name(),
		roomID: roomID,
		log:    p.log,
	}
}

type instrumentedStore struct {
	inner  Store
	driver string
	roomID string
	log    *observability.StoreLogger
}

func (s *instrumentedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	defer observability.TrackStore(s.driver, "get")()
	v, ok, err := s.inner.Get(ctx, key)
	if err != nil {
		observability.StoreErrors.WithLabelValues(s.driver, "get").Inc()
		s.log.LogError(ctx, err, "get", s.roomID, key)
	}
	return v, ok, err
}

func (s *instrumentedStore) Put(ctx context.Context, key string, value []byte) error {
	defer observability.TrackStore(s.driver, "put")()
	err := s.inner.Put(ctx, key, value)
	if err != nil {
		observability.StoreErrors.WithLabelValues(s.driver, "put").Inc()
		s.log.LogError(ctx, err, "put", s.roomID, key)
	}
	return err
}
