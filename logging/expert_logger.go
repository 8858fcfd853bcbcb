/*
 *    expert_logger.go - JSON-serialized expert-info event logging.
 *
 *    Adapted from HoneyBadger's AttackJsonLogger (David Stainton,
 *    2014-2015), itself licensed GPLv3.
 */
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dstainton-tcpflow/tcpflow/types"
)

// SerializedExpertInfo is the on-disk JSON shape of one types.ExpertInfo
// event, one object per line (spec §9 "Expert-info pipeline").
type SerializedExpertInfo struct {
	StreamID  uint64
	Frame     uint64
	Time      time.Time
	Severity  string
	Message   string
}

// ExpertJsonLogger writes every logged ExpertInfo as one JSON line into a
// per-stream file under ArchiveDir. Unlike the teacher's AttackJsonLogger,
// this writes synchronously on the caller's goroutine rather than fanning
// out over a channel to a background goroutine: spec §5 mandates strictly
// sequential, single-threaded packet processing, so there is no producer
// this logger needs to decouple from.
type ExpertJsonLogger struct {
	ArchiveDir string

	mu      sync.Mutex
	writers map[uint64]io.WriteCloser
}

// NewExpertJsonLogger returns a logger that writes into archiveDir.
func NewExpertJsonLogger(archiveDir string) *ExpertJsonLogger {
	return &ExpertJsonLogger{
		ArchiveDir: archiveDir,
		writers:    make(map[uint64]io.WriteCloser),
	}
}

// LogExpertInfo implements types.Logger.
func (l *ExpertJsonLogger) LogExpertInfo(event types.ExpertInfo) {
	serialized := SerializedExpertInfo{
		StreamID: event.StreamID,
		Frame:    event.Frame,
		Time:     event.Timestamp,
		Severity: event.Severity,
		Message:  event.Message,
	}
	l.write(event.StreamID, serialized)
}

func (l *ExpertJsonLogger) write(streamID uint64, event SerializedExpertInfo) {
	b, err := json.Marshal(event)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.writers[streamID]
	if !ok {
		logName := filepath.Join(l.ArchiveDir, fmt.Sprintf("stream-%d.expertinfo.json", streamID))
		f, err := os.OpenFile(logName, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return
		}
		w = f
		l.writers[streamID] = w
	}
	w.Write(append(b, '\n'))
}

// Close flushes and closes every per-stream file this logger opened.
func (l *ExpertJsonLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for id, w := range l.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		delete(l.writers, id)
	}
	return first
}
