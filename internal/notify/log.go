package notify

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// LogSurface writes notifications to the log, for headless runs.
type LogSurface struct {
	logger zerolog.Logger
	seq    atomic.Int64
}

// NewLogSurface constructs a log surface.
func NewLogSurface(logger zerolog.Logger) *LogSurface {
	return &LogSurface{logger: logger.With().Str("component", "notify_log").Logger()}
}

func (s *LogSurface) Show(_ context.Context, n Notification) (Handle, error) {
	id := s.seq.Add(1)
	s.logger.Info().
		Int64("notification_id", id).
		Str("tag", n.Tag).
		Str("title", n.Title).
		Msg(n.Body)
	return logHandle{id: id, tag: n.Tag, logger: s.logger}, nil
}

type logHandle struct {
	id     int64
	tag    string
	logger zerolog.Logger
}

func (h logHandle) Close() error {
	h.logger.Debug().Int64("notification_id", h.id).Str("tag", h.tag).Msg("notification closed")
	return nil
}

var _ Surface = (*LogSurface)(nil)
