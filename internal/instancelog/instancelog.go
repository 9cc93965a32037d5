// Package instancelog adapts a *log.Logger into an io.Writer, so that both
// structured log lines and raw subprocess output can be teed into the same
// instance.log sink.
package instancelog

import (
	"io"
	"log"
	"os"
)

// Writer adapts a *log.Logger to io.Writer, calling Output directly so the
// caller's own call depth is reported rather than this adapter's.
type Writer struct{ Underlying *log.Logger }

func (w Writer) Write(p []byte) (n int, err error) {
	w.Underlying.Output(4, string(p))
	return len(p), nil
}

// Open opens (creating/appending) path as the instance's persistent log
// file and returns a *log.Logger prefixed with prefix that writes to both
// the file and stderr.
func Open(path, prefix string) (*log.Logger, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	base := log.New(io.MultiWriter(os.Stderr, f), "", log.LstdFlags|log.Lshortfile)
	return log.New(Writer{base}, prefix, 0), f, nil
}
