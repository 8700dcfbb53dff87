package mcfetch

import (
	"context"
	"fmt"

	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcdb/stor"
)

// dispatchJob starts preparation of an admitted transfer. A transfer that has left QUEUED
// since it was admitted is left alone.
type dispatchJob struct {
	p          *Pipeline
	transferID int
}

func (j *dispatchJob) Name() string {
	return fmt.Sprintf("dispatch:%d", j.transferID)
}

func (j *dispatchJob) Run(_ context.Context) error {
	status, err := j.p.stors.DownloadTransferStor.GetTransferStatus(j.transferID)
	switch {
	case stor.IsRecordNotFound(err):
		return nil
	case err != nil:
		return err
	case status != mcmodel.TransferQueued:
		clog.ForTransfer(j.transferID).Debugf("Not dispatching, status is %s", status)
		return nil
	}

	j.p.pool.Submit(&prepareJob{p: j.p, transferID: j.transferID})
	return nil
}
