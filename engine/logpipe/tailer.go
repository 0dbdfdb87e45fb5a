package logpipe

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dongwonkwak/ironpost/engine/config"
)

// FileTailer follows a set of absolute log files, emitting one raw log per
// appended line. Rotation is handled by re-opening when the watched name is
// recreated or replaced.
type FileTailer struct {
	paths  []string
	logger *slog.Logger

	// open file state per path
	files   map[string]*tailState
}

type tailState struct {
	file   *os.File
	reader *bufio.Reader
}

// NewFileTailer validates every path against the allow-list before
// accepting it. Invalid paths fail construction.
func NewFileTailer(paths, allowList []string, logger *slog.Logger) (*FileTailer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, p := range paths {
		if err := config.ValidateWatchPath(p, allowList); err != nil {
			return nil, err
		}
	}
	return &FileTailer{
		paths:  append([]string(nil), paths...),
		logger: logger,
		files:  make(map[string]*tailState),
	}, nil
}

func (t *FileTailer) Name() string { return "file" }

// Run watches the parent directories of every path and streams appended
// lines. Files absent at start are picked up once created.
func (t *FileTailer) Run(ctx context.Context, out chan<- RawLog) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pipelineErr("file", "fsnotify init: "+err.Error())
	}
	defer watcher.Close()
	defer t.closeAll()

	watched := make(map[string]struct{})
	for _, p := range t.paths {
		dir := filepath.Dir(p)
		if _, ok := watched[dir]; !ok {
			if err := watcher.Add(dir); err != nil {
				t.logger.Warn("cannot watch directory", slog.String("dir", dir), slog.String("error", err.Error()))
			} else {
				watched[dir] = struct{}{}
			}
		}
		// Seek to EOF for files that already exist so only new lines flow.
		t.open(p, true)
		t.drain(ctx, p, out)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			path := ev.Name
			if !t.watchesPath(path) {
				continue
			}
			switch {
			case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Rename):
				// rotation: the inode behind the name changed
				t.reopen(path)
				t.drain(ctx, path, out)
			case ev.Op.Has(fsnotify.Write):
				t.drain(ctx, path, out)
			case ev.Op.Has(fsnotify.Remove):
				t.closePath(path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

func (t *FileTailer) watchesPath(path string) bool {
	for _, p := range t.paths {
		if p == path {
			return true
		}
	}
	return false
}

func (t *FileTailer) open(path string, seekEnd bool) {
	if _, ok := t.files[path]; ok {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return
	}
	if seekEnd {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return
		}
	}
	t.files[path] = &tailState{file: f, reader: bufio.NewReader(f)}
}

func (t *FileTailer) reopen(path string) {
	t.closePath(path)
	t.open(path, false)
}

func (t *FileTailer) closePath(path string) {
	if st, ok := t.files[path]; ok {
		st.file.Close()
		delete(t.files, path)
	}
}

func (t *FileTailer) closeAll() {
	for p := range t.files {
		t.closePath(p)
	}
}

// drain reads complete lines appended to path and emits them.
func (t *FileTailer) drain(ctx context.Context, path string, out chan<- RawLog) {
	st, ok := t.files[path]
	if !ok {
		t.open(path, false)
		if st, ok = t.files[path]; !ok {
			return
		}
	}
	for {
		line, err := st.reader.ReadBytes('\n')
		if len(line) > 0 && err == nil {
			trimmed := trimEOL(line)
			if len(trimmed) > 0 {
				if !emit(ctx, out, RawLog{Data: trimmed, Source: path, ReceivedAt: time.Now()}) {
					return
				}
			}
			continue
		}
		// Partial line: rewind so the remainder is re-read after the
		// next write completes it.
		if len(line) > 0 {
			if _, serr := st.file.Seek(int64(-len(line)), io.SeekCurrent); serr == nil {
				st.reader.Reset(st.file)
			}
		}
		return
	}
}

func trimEOL(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
