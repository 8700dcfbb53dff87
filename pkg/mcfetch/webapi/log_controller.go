package webapi

import (
	"net/http"
	"os"
	"sync"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/pkg/errors"
)

// LogController changes the daemon's log level and destination at runtime.
type LogController struct {
	mu              sync.Mutex
	CurrentLogLevel string `json:"current_log_level"`
	CurrentLogFile  string `json:"current_log_file"`
	handler         *clog.Handler
	level           log.Level
}

// NewLogController takes over handler, which must be the installed apex/log handler.
func NewLogController(handler *clog.Handler, level log.Level, output string) *LogController {
	return &LogController{
		CurrentLogLevel: level.String(),
		CurrentLogFile:  output,
		handler:         handler,
		level:           level,
	}
}

func (c *LogController) SetLogging(ctx echo.Context) error {
	var req struct {
		LogLevel  string `json:"log_level"`
		LogOutput string `json:"log_output"`
	}

	if err := ctx.Bind(&req); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	oldLevel := c.level
	if err := c.setLoggingLevel(req.LogLevel); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := c.setLoggingOutput(req.LogOutput); err != nil {
		// Both change or neither does.
		c.level = oldLevel
		c.CurrentLogLevel = oldLevel.String()
		log.SetLevel(oldLevel)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ctx.JSON(http.StatusOK, c)
}

func (c *LogController) SetLogLevel(ctx echo.Context) error {
	var req struct {
		LogLevel string `json:"log_level"`
	}

	if err := ctx.Bind(&req); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.setLoggingLevel(req.LogLevel); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ctx.JSON(http.StatusOK, c)
}

func (c *LogController) SetLogOutput(ctx echo.Context) error {
	var req struct {
		LogOutput string `json:"log_output"`
	}

	if err := ctx.Bind(&req); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.setLoggingOutput(req.LogOutput); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ctx.JSON(http.StatusOK, c)
}

func (c *LogController) ShowCurrentLogging(ctx echo.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ctx.JSON(http.StatusOK, c)
}

func (c *LogController) setLoggingLevel(logLevel string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %s", logLevel)
	}

	c.level = level
	c.CurrentLogLevel = level.String()
	log.SetLevel(level)

	return nil
}

func (c *LogController) setLoggingOutput(logOutput string) error {
	switch logOutput {
	case "stdout":
		c.handler.SetOutput(os.Stdout)
	case "stderr":
		c.handler.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(logOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrapf(err, "unable to open log output %s", logOutput)
		}
		c.handler.SetOutput(f)
	}

	c.CurrentLogFile = logOutput
	return nil
}
