package clog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/apex/log"
)

// Handler writes apex/log entries as a single text line:
//
//	LEVEL 2006-01-02 15:04:05 message                   transfer_id=12 chunk=3 other=value
//
// The pipeline identity fields come first, the rest are sorted by name.
type Handler struct {
	mu     sync.Mutex
	Writer io.WriteCloser
}

var levelToStrings = [...]string{
	log.DebugLevel: "DEBUG",
	log.InfoLevel:  "INFO",
	log.WarnLevel:  "WARN",
	log.ErrorLevel: "ERROR",
	log.FatalLevel: "FATAL",
}

// leadingFields are printed first, in this order, when present.
var leadingFields = []string{TransferIDField, ChunkField, DomainField}

type field struct {
	Name  string
	Value interface{}
}

type byName []field

func (a byName) Len() int           { return len(a) }
func (a byName) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byName) Less(i, j int) bool { return a[i].Name < a[j].Name }

func NewHandler(w io.WriteCloser) *Handler {
	return &Handler{Writer: w}
}

func (h *Handler) SetOutput(w io.WriteCloser) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closeWriter()
	h.Writer = w
}

func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closeWriter()
}

// closeWriter only closes files, never stdout or stderr.
func (h *Handler) closeWriter() {
	if h.Writer == nil || h.Writer == os.Stdout || h.Writer == os.Stderr {
		return
	}

	_ = h.Writer.Close()
}

func (h *Handler) HandleLog(e *log.Entry) error {
	var b bytes.Buffer
	_, _ = fmt.Fprintf(&b, "%5s %s %-25s", levelToStrings[e.Level], time.Now().Format(time.DateTime), e.Message)

	for _, name := range leadingFields {
		if v, ok := e.Fields[name]; ok {
			_, _ = fmt.Fprintf(&b, " %s=%v", name, v)
		}
	}

	var fields []field
	for k, v := range e.Fields {
		if isLeadingField(k) {
			continue
		}
		fields = append(fields, field{k, v})
	}

	sort.Sort(byName(fields))

	for _, f := range fields {
		_, _ = fmt.Fprintf(&b, " %s=%v", f.Name, f.Value)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, _ = fmt.Fprintln(h.Writer, b.String())

	return nil
}

func isLeadingField(name string) bool {
	for _, f := range leadingFields {
		if f == name {
			return true
		}
	}

	return false
}
