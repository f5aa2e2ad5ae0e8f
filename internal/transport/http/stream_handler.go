package http

import (
	"io"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/doubtline/internal/auth"
	"github.com/vovakirdan/doubtline/internal/proto"
	"github.com/vovakirdan/doubtline/internal/stream"
)

// StreamHandler serves one-way push channels as server-sent events.
type StreamHandler struct {
	broker   *stream.Broker
	resolver auth.Resolver
	log      *zerolog.Logger
}

// NewStreamHandler builds a push channel handler.
func NewStreamHandler(broker *stream.Broker, resolver auth.Resolver, logger *zerolog.Logger) *StreamHandler {
	return &StreamHandler{broker: broker, resolver: resolver, log: logger}
}

// sseSink flushes every frame so intermediaries do not buffer the stream.
type sseSink struct {
	w       io.Writer
	flusher stdhttp.Flusher
}

func (s *sseSink) WriteFrame(f proto.Frame) error {
	if err := proto.WriteFrame(s.w, f); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Serve handles GET /stream/:channel until the client goes away.
func (h *StreamHandler) Serve(c *gin.Context) {
	channel := c.Param("channel")
	if channel == "" {
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "channel is required"})
		return
	}

	identity, err := h.resolver.Resolve(c.Request)
	if err != nil {
		h.log.Debug().Err(err).Str("channel", channel).Msg("stream identity rejected")
		c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	flusher, ok := c.Writer.(stdhttp.Flusher)
	if !ok {
		c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: "streaming not supported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(stdhttp.StatusOK)

	user := "guest"
	if identity != nil {
		user = identity.ID
	}
	logger := h.log.With().Str("channel", channel).Str("user", user).Logger()

	// The request context is cancelled when the client disconnects, which
	// makes Serve release its bus listener and keep-alive ticker.
	err = h.broker.Serve(c.Request.Context(), channel, &sseSink{w: c.Writer, flusher: flusher})
	if err != nil {
		logger.Debug().Err(err).Msg("stream ended with error")
	}
}
