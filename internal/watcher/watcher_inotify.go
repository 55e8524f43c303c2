//go:build linux

package watcher

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const watchMask = unix.IN_CLOSE_WRITE | unix.IN_MOVED_FROM |
	unix.IN_CREATE | unix.IN_MOVED_TO |
	unix.IN_DELETE_SELF | unix.IN_MOVE_SELF | unix.IN_ONLYDIR

// Room for a full queue read of events with maximum length names
const readBufferSize = 4096 * (unix.SizeofInotifyEvent + unix.NAME_MAX + 1)

type backend struct {
	fd   int
	file *os.File

	mu     sync.Mutex
	closed bool
	dirs   map[int32]string
	wds    map[string]int32
}

func (w *Watcher) open(Config) error {
	// Non-blocking so that Close interrupts a pending Read
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return os.NewSyscallError("inotify_init1", err)
	}
	w.fd = fd
	w.file = os.NewFile(uintptr(fd), "inotify")
	w.dirs = make(map[int32]string)
	w.wds = make(map[string]int32)
	return nil
}

// Add starts watching a path
func (w *Watcher) Add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	wd, err := unix.InotifyAddWatch(w.fd, path, watchMask)
	if err != nil {
		return &os.PathError{Op: "inotify_add_watch", Path: path, Err: err}
	}
	w.dirs[int32(wd)] = path
	w.wds[path] = int32(wd)
	return nil
}

// WatchList returns the directories currently watched
func (w *Watcher) WatchList() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	list := make([]string, 0, len(w.wds))
	for path := range w.wds {
		list = append(list, path)
	}
	return list
}

// Run processes events until ctx is done or the watcher is closed. The
// handler is never called after Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- w.readEvents()
	}()

	select {
	case <-ctx.Done():
		w.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (w *Watcher) readEvents() error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := w.file.Read(buf)
		if errors.Is(err, os.ErrClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read inotify events: %w", err)
		}
		w.parse(buf[:n])
	}
}

// parse walks a buffer of packed inotify_event records
func (w *Watcher) parse(buf []byte) {
	for off := 0; off+unix.SizeofInotifyEvent <= len(buf); {
		wd := int32(binary.NativeEndian.Uint32(buf[off:]))
		mask := binary.NativeEndian.Uint32(buf[off+4:])
		nameLen := int(binary.NativeEndian.Uint32(buf[off+12:]))

		start := off + unix.SizeofInotifyEvent
		end := start + nameLen
		if end > len(buf) {
			w.watchError(errors.New("short inotify read"))
			return
		}
		name := strings.TrimRight(string(buf[start:end]), "\x00")
		w.handleRaw(wd, mask, name)
		off = end
	}
}

func (w *Watcher) handleRaw(wd int32, mask uint32, name string) {
	if mask&unix.IN_Q_OVERFLOW != 0 {
		w.watchError(errors.New("inotify queue overflow, events lost"))
		return
	}
	if mask&unix.IN_IGNORED != 0 {
		w.forget(wd)
		return
	}

	dir, ok := w.dirFor(wd)
	if !ok {
		return
	}
	if mask&(unix.IN_DELETE_SELF|unix.IN_MOVE_SELF) != 0 {
		if dir == w.root {
			w.logger.Warn().Uint32("mask", mask).Msg("watched directory went away")
		}
		return
	}

	path := filepath.Join(dir, name)
	now := time.Now()

	if mask&unix.IN_ISDIR != 0 {
		switch {
		case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
			w.addCreatedDir(path)
		case mask&unix.IN_MOVED_FROM != 0:
			w.forgetTree(path)
		}
		return
	}

	switch {
	case mask&unix.IN_CLOSE_WRITE != 0:
		w.handler(newEvent(path, CloseWrite, now))
	case mask&unix.IN_MOVED_FROM != 0:
		w.handler(newEvent(path, MovedFrom, now))
	}
}

func (w *Watcher) dirFor(wd int32) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir, ok := w.dirs[wd]
	return dir, ok
}

func (w *Watcher) forget(wd int32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if path, ok := w.dirs[wd]; ok {
		delete(w.dirs, wd)
		if w.wds[path] == wd {
			delete(w.wds, path)
		}
	}
}

// forgetTree drops the watches of a directory moved out from under its
// parent, along with everything below it.
func (w *Watcher) forgetTree(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prefix := path + string(filepath.Separator)
	for p, wd := range w.wds {
		if p != path && !strings.HasPrefix(p, prefix) {
			continue
		}
		if !w.closed {
			unix.InotifyRmWatch(w.fd, uint32(wd))
		}
		delete(w.wds, p)
		delete(w.dirs, wd)
	}
}

// Close stops watching and cleans up resources
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	return w.file.Close()
}
