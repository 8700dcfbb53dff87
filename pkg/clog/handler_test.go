package clog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferCloser struct {
	bytes.Buffer
}

func (b *bufferCloser) Close() error { return nil }

func TestHandlerPutsTransferFieldsFirst(t *testing.T) {
	var out bufferCloser
	logger := &log.Logger{Handler: NewHandler(&out), Level: log.DebugLevel}

	logger.WithFields(log.Fields{
		"zeta":          1,
		"alpha":         "a",
		ChunkField:      3,
		TransferIDField: 12,
	}).Info("chunk complete")

	// Levels are right aligned to five characters, so INFO keeps a leading space.
	line := strings.TrimRight(out.String(), "\n")
	require.True(t, strings.HasPrefix(line, " INFO "), "unexpected line %q", line)
	assert.Contains(t, line, "chunk complete")

	fieldsAt := strings.Index(line, "transfer_id=12")
	require.NotEqual(t, -1, fieldsAt)
	assert.True(t, strings.HasSuffix(line, "transfer_id=12 chunk=3 alpha=a zeta=1"), "unexpected field order %q", line)
}

func TestSetLevelFromString(t *testing.T) {
	require.NoError(t, SetLevelFromString("warn"))
	defer log.SetLevel(log.InfoLevel)

	assert.Error(t, SetLevelFromString("loud"))
}
