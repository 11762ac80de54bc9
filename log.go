package braceratchet

import (
	"io"

	"gopkg.in/op/go-logging.v1"
)

const logModule = "braceratchet"

// discardLogger is used until WithLogger supplies a real backend.
func discardLogger() *logging.Logger {
	l := logging.MustGetLogger(logModule)
	backend := logging.AddModuleLevel(logging.NewLogBackend(io.Discard, "", 0))
	backend.SetLevel(logging.CRITICAL, "")
	l.SetBackend(backend)
	return l
}

// NewLogger returns a leveled logger writing to w in the format used by the
// command line tools.
func NewLogger(w io.Writer, level logging.Level) *logging.Logger {
	logFmt := logging.MustStringFormatter("%{time:15:04:05.000} %{level:.4s} %{module}: %{message}")
	base := logging.NewLogBackend(w, "", 0)
	backend := logging.AddModuleLevel(logging.NewBackendFormatter(base, logFmt))
	backend.SetLevel(level, "")
	l := logging.MustGetLogger(logModule)
	l.SetBackend(backend)
	return l
}
