package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/doubtline/internal/bus"
	"github.com/vovakirdan/doubtline/internal/metrics"
)

// EventHandlers lets request handlers elsewhere publish application events.
type EventHandlers struct {
	bus *bus.Bus
	log *zerolog.Logger
}

// NewEventHandlers creates a new event handlers instance.
func NewEventHandlers(b *bus.Bus, logger *zerolog.Logger) *EventHandlers {
	return &EventHandlers{bus: b, log: logger}
}

// PublishRequest represents the publish request body.
type PublishRequest struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// PublishResponse reports how many listeners the event reached.
type PublishResponse struct {
	Listeners int `json:"listeners"`
}

// Publish handles event publication. The payload is passed through untouched
// apart from decoding it into the kind's payload type.
// POST /api/events/:name
func (h *EventHandlers) Publish(c *gin.Context) {
	name := c.Param("name")

	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Str("event", name).Msg("invalid publish request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	kind, err := bus.ParseKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	ev, err := bus.Decode(kind, req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	listeners := h.bus.ListenerCount(name)
	h.bus.Publish(name, ev)
	metrics.EventsPublished.WithLabelValues(kind.String()).Inc()

	logEv := h.log.Debug().Str("event", name).Str("kind", kind.String()).Int("listeners", listeners)
	if id := identityFrom(c); id != nil {
		logEv = logEv.Str("user", id.ID)
	}
	logEv.Msg("event published")

	c.JSON(http.StatusAccepted, PublishResponse{Listeners: listeners})
}
