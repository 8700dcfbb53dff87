package mcfetch

import (
	"context"
	"sync"

	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/materials-commons/mcfetch/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcfetch/pkg/mcdb/stor"
	"github.com/materials-commons/mcfetch/pkg/mcfetch/jobs"
)

// AdmissionController admits PENDING transfers while the per-domain and global caps on active
// transfers allow.
type AdmissionController struct {
	transferStor stor.DownloadTransferStor
	domainCap    int
	globalCap    int

	// mu keeps admissions within this process from interleaving. The store's row locks cover
	// other processes sharing the database.
	mu sync.Mutex
}

func NewAdmissionController(transferStor stor.DownloadTransferStor, domainCap, globalCap int) *AdmissionController {
	return &AdmissionController{
		transferStor: transferStor,
		domainCap:    domainCap,
		globalCap:    globalCap,
	}
}

// Admit moves up to min(domain slots, global slots) of the domain's oldest PENDING transfers
// to QUEUED and returns them.
func (a *AdmissionController) Admit(_ context.Context, domain string) ([]mcmodel.DownloadTransfer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	admitted, err := a.transferStor.AdmitPending(domain, a.domainCap, a.globalCap)
	if err != nil {
		return nil, err
	}

	if len(admitted) != 0 {
		clog.ForDomain(domain).Infof("Admitted %d transfer(s)", len(admitted))
	}

	return admitted, nil
}

// admitJob runs admission for a domain and dispatches whatever was admitted.
type admitJob struct {
	p      *Pipeline
	domain string
}

func (j *admitJob) Name() string {
	return "admit:" + j.domain
}

func (j *admitJob) Run(ctx context.Context) error {
	admitted, err := j.p.admitter.Admit(ctx, j.domain)
	if err != nil {
		return jobs.Retryable(err)
	}

	for _, t := range admitted {
		j.p.pool.Submit(&dispatchJob{p: j.p, transferID: t.ID})
	}

	return nil
}
