package webapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcfetch"
)

// TransferPipeline is the part of *mcfetch.Pipeline the controller drives.
type TransferPipeline interface {
	Enqueue(ctx context.Context, req mcfetch.EnqueueRequest) (*mcmodel.DownloadTransfer, error)
	Pause(ctx context.Context, transferID int) error
	Cancel(ctx context.Context, transferID int) error
	Status(ctx context.Context, transferID int) (*mcfetch.TransferReport, error)
}

type TransferController struct {
	pipeline TransferPipeline
}

func NewTransferController(pipeline TransferPipeline) *TransferController {
	return &TransferController{pipeline: pipeline}
}

func (c *TransferController) CreateTransfer(ctx echo.Context) error {
	var req mcfetch.EnqueueRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}

	transfer, err := c.pipeline.Enqueue(ctx.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}

	return ctx.JSON(http.StatusCreated, transfer)
}

func (c *TransferController) GetTransfer(ctx echo.Context) error {
	report, err := c.report(ctx)
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK, report)
}

func (c *TransferController) ListTransferChunks(ctx echo.Context) error {
	report, err := c.report(ctx)
	if err != nil {
		return err
	}

	chunks := report.Chunks
	if chunks == nil {
		chunks = []mcmodel.DownloadChunk{}
	}

	return ctx.JSON(http.StatusOK, chunks)
}

func (c *TransferController) PauseTransfer(ctx echo.Context) error {
	transferID, err := transferIDParam(ctx)
	if err != nil {
		return err
	}

	if err := c.pipeline.Pause(ctx.Request().Context(), transferID); err != nil {
		return toHTTPError(err)
	}

	return c.GetTransfer(ctx)
}

func (c *TransferController) CancelTransfer(ctx echo.Context) error {
	transferID, err := transferIDParam(ctx)
	if err != nil {
		return err
	}

	if err := c.pipeline.Cancel(ctx.Request().Context(), transferID); err != nil {
		return toHTTPError(err)
	}

	return c.GetTransfer(ctx)
}

func (c *TransferController) report(ctx echo.Context) (*mcfetch.TransferReport, error) {
	transferID, err := transferIDParam(ctx)
	if err != nil {
		return nil, err
	}

	report, err := c.pipeline.Status(ctx.Request().Context(), transferID)
	if err != nil {
		return nil, toHTTPError(err)
	}

	return report, nil
}

func transferIDParam(ctx echo.Context) (int, error) {
	transferID, err := strconv.Atoi(ctx.Param("id"))
	if err != nil || transferID < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid transfer id")
	}

	return transferID, nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, mcfetch.ErrTransferNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, mcfetch.ErrNotActive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, mcfetch.ErrInvalidURL):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}
