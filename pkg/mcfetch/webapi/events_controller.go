package webapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcfetch/pkg/wserv"
)

// EventsController exposes the event hub over SSE and websockets. An optional transfer_id
// query parameter limits the stream to one transfer.
type EventsController struct {
	hub *wserv.Hub
}

func NewEventsController(hub *wserv.Hub) *EventsController {
	return &EventsController{hub: hub}
}

func (c *EventsController) StreamSSE(ctx echo.Context) error {
	filter, err := transferFilter(ctx)
	if err != nil {
		return err
	}

	c.hub.ServeSSE(ctx.Response(), ctx.Request(), filter)
	return nil
}

func (c *EventsController) StreamWS(ctx echo.Context) error {
	filter, err := transferFilter(ctx)
	if err != nil {
		return err
	}

	return c.hub.ServeWS(ctx.Response(), ctx.Request(), filter)
}

func transferFilter(ctx echo.Context) (int, error) {
	s := ctx.QueryParam("transfer_id")
	if s == "" {
		return 0, nil
	}

	transferID, err := strconv.Atoi(s)
	if err != nil || transferID < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid transfer_id")
	}

	return transferID, nil
}
