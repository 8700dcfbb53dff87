package webapi

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/apex/log"
	"github.com/materials-commons/mcfetch/pkg/clog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogControllerSetsLevelAndOutput(t *testing.T) {
	handler := clog.Setup(os.Stdout, log.InfoLevel)
	c := NewLogController(handler, log.InfoLevel, "stdout")
	t.Cleanup(func() {
		handler.SetOutput(os.Stdout)
		log.SetLevel(log.InfoLevel)
	})

	ctx, rec := setupEchoContext(http.MethodPost, "/api/logging/level", []byte(`{"log_level": "debug"}`), "")
	require.NoError(t, c.SetLogLevel(ctx))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"current_log_level":"debug"`)

	logFile := filepath.Join(t.TempDir(), "mcfetch.log")
	ctx, rec = setupEchoContext(http.MethodPost, "/api/logging/output", []byte(`{"log_output": "`+logFile+`"}`), "")
	require.NoError(t, c.SetLogOutput(ctx))
	assert.Equal(t, http.StatusOK, rec.Code)

	log.Debug("written to the new file")
	contents, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "written to the new file")
}

func TestLogControllerRejectsBadLevel(t *testing.T) {
	handler := clog.Setup(os.Stdout, log.InfoLevel)
	c := NewLogController(handler, log.InfoLevel, "stdout")

	ctx, _ := setupEchoContext(http.MethodPost, "/api/logging/level", []byte(`{"log_level": "loud"}`), "")
	assert.Equal(t, http.StatusBadRequest, httpCode(t, c.SetLogLevel(ctx)))
	assert.Equal(t, "info", c.CurrentLogLevel)
}
