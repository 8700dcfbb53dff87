package cmd

import (
	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/materials-commons/mcfetch/pkg/mcfetch"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/webapi"
	"github.com/materials-commons/mcfetch/pkg/wserv"
)

type RouteDependencies struct {
	e          *echo.Echo
	pipeline   *mcfetch.Pipeline
	hub        *wserv.Hub
	logHandler *clog.Handler
	logLevel   log.Level
}

func setupRoutes(deps RouteDependencies) {
	deps.e.Use(middleware.Recover())
	g := deps.e.Group("/api")

	transferController := webapi.NewTransferController(deps.pipeline)
	g.POST("/transfers", transferController.CreateTransfer)
	g.GET("/transfers/:id", transferController.GetTransfer)
	g.GET("/transfers/:id/chunks", transferController.ListTransferChunks)
	g.POST("/transfers/:id/pause", transferController.PauseTransfer)
	g.POST("/transfers/:id/cancel", transferController.CancelTransfer)

	eventsController := webapi.NewEventsController(deps.hub)
	g.GET("/events/sse", eventsController.StreamSSE)
	g.GET("/events/ws", eventsController.StreamWS)

	logController := webapi.NewLogController(deps.logHandler, deps.logLevel, "stdout")
	g.POST("/logging", logController.SetLogging)
	g.POST("/logging/level", logController.SetLogLevel)
	g.POST("/logging/output", logController.SetLogOutput)
	g.GET("/logging", logController.ShowCurrentLogging)
}
