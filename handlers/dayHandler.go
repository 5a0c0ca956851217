package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ClinicQueue/live"
	"ClinicQueue/logger"
	"ClinicQueue/middlewares"
	"ClinicQueue/services"
)

// DayHandler serves a single day, either once or as a live SSE stream.
type DayHandler struct {
	service     *services.BookingService
	broadcaster *live.Broadcaster
	log         *zap.Logger
}

func NewDayHandler(service *services.BookingService, broadcaster *live.Broadcaster, log *zap.Logger) *DayHandler {
	return &DayHandler{service: service, broadcaster: broadcaster, log: logger.OrNop(log)}
}

// WantsStream reports whether the request asks for a live subscription.
func WantsStream(c *gin.Context) bool {
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return true
	}
	stream, _ := queryBool(c, "stream")
	return stream
}

func (h *DayHandler) GetDay(c *gin.Context) {
	clinicID, err := parseClinicID(c.Param("clinic_id"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	key, err := dayKey(clinicID, c.Query("variant"), c.Param("date"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}

	if _, err := queryBool(c, "stream"); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	if !WantsStream(c) {
		day, err := h.service.GetDay(c.Request.Context(), key)
		if err != nil {
			middlewares.HttpError(c, h.log, err)
			return
		}
		hash, err := live.Hash(day)
		if err != nil {
			middlewares.HttpError(c, h.log, err)
			return
		}
		middlewares.RespondJSON(c, live.Snapshot{ClinicID: key.ClinicID, Variant: key.Variant, Date: key.Date, Hash: hash, Day: day}, http.StatusOK)
		return
	}

	opts, err := streamOptions(c)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	// Unknown days fail as a plain response before the stream is committed.
	if _, err := h.service.Snapshot(c.Request.Context(), key); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	emit := func(ev live.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.SSEvent(ev.Type, ev.Data)
		c.Writer.Flush()
		return nil
	}
	if err := h.broadcaster.Subscribe(ctx, key, opts, emit); err != nil && ctx.Err() == nil {
		h.log.Warn("live stream ended with error", zap.Stringer("day", key), zap.Error(err))
	}
}

func streamOptions(c *gin.Context) (live.Options, error) {
	var (
		opts live.Options
		err  error
	)
	if opts.ChangesOnly, err = queryBool(c, "changes_only"); err != nil {
		return opts, err
	}
	if opts.PollInterval, err = queryDuration(c, "poll_interval"); err != nil {
		return opts, err
	}
	if opts.MaxLifetime, err = queryDuration(c, "timeout"); err != nil {
		return opts, err
	}
	if opts.Heartbeat, err = queryDuration(c, "heartbeat"); err != nil {
		return opts, err
	}
	return opts, nil
}
