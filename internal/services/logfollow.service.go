package services

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"pideck/internal/cmdexec"
	"pideck/internal/logging"
	"pideck/internal/models"

	"github.com/google/uuid"
)

const DefaultFollowBuffer = 256

// FollowSession is one live `tail -F` attached to a client. Events is
// closed when the session ends, whether by Stop or by the child exiting.
type FollowSession struct {
	ID    string
	Entry models.LogCatalogEntry

	ctx     context.Context
	proc    *cmdexec.Process
	grep    *Grep
	events  chan models.FollowEvent
	stopped chan struct{}
	done    chan struct{}
	once    sync.Once
	onClose func()
}

func (s *FollowSession) Events() <-chan models.FollowEvent {
	return s.events
}

// Done is closed once the reader has exited and the child is reaped.
func (s *FollowSession) Done() <-chan struct{} {
	return s.done
}

// Stop terminates the child and returns after it has been reaped.
// Calling it more than once is harmless.
func (s *FollowSession) Stop() {
	s.once.Do(func() {
		close(s.stopped)
		s.proc.Stop()
		<-s.done
		if s.onClose != nil {
			s.onClose()
		}
	})
}

func (s *FollowSession) pump() {
	defer close(s.done)
	defer close(s.events)

	sc := bufio.NewScanner(s.proc.Stdout)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if !s.grep.Match(line) {
			continue
		}
		select {
		case s.events <- models.FollowEvent{Line: line}:
		case <-s.stopped:
			_ = s.proc.Wait()
			return
		case <-s.ctx.Done():
			_ = s.proc.Wait()
			return
		}
	}
	scanErr := sc.Err()
	waitErr := s.proc.Wait()

	select {
	case <-s.stopped:
		return
	case <-s.ctx.Done():
		return
	default:
	}

	msg := "log stream ended"
	switch {
	case scanErr != nil:
		msg = fmt.Sprintf("log stream failed: %v", scanErr)
	case waitErr != nil:
		msg = fmt.Sprintf("log stream ended: %v", waitErr)
	}
	select {
	case s.events <- models.FollowEvent{Error: msg}:
	case <-s.stopped:
	case <-s.ctx.Done():
	}
}

// LogFollower starts follow sessions and keeps track of the live ones so
// they can be stopped by id or all at once on shutdown.
type LogFollower struct {
	catalog   *LogCatalog
	runner    cmdexec.Runner
	buffer    int
	telemetry *Telemetry
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*FollowSession
}

func NewLogFollower(catalog *LogCatalog, runner cmdexec.Runner, buffer int, telemetry *Telemetry, logger *slog.Logger) *LogFollower {
	if buffer <= 0 {
		buffer = DefaultFollowBuffer
	}
	return &LogFollower{
		catalog:   catalog,
		runner:    runner,
		buffer:    buffer,
		telemetry: telemetry,
		logger:    logging.OrDiscard(logger),
		sessions:  make(map[string]*FollowSession),
	}
}

// Follow streams lines appended to the log from now on. Cancelling ctx
// kills the child; callers should still Stop the session to wait for it.
func (f *LogFollower) Follow(ctx context.Context, id, grep string) (*FollowSession, error) {
	entry, err := f.catalog.Lookup(id)
	if err != nil {
		return nil, err
	}

	proc, err := f.runner.Stream(ctx, "tail", "-n", "0", "-F", "--", entry.AbsolutePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLogUnavailable, id, err)
	}

	s := &FollowSession{
		ID:      uuid.NewString(),
		Entry:   entry,
		ctx:     ctx,
		proc:    proc,
		grep:    NewGrep(grep),
		events:  make(chan models.FollowEvent, f.buffer),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.onClose = func() { f.remove(s.ID) }

	f.mu.Lock()
	f.sessions[s.ID] = s
	f.mu.Unlock()
	f.telemetry.FollowStarted()
	f.logger.Info("log follow started", "session", s.ID, "id", entry.ID, "pid", proc.Pid())

	go s.pump()
	return s, nil
}

func (f *LogFollower) remove(id string) {
	f.mu.Lock()
	_, ok := f.sessions[id]
	delete(f.sessions, id)
	f.mu.Unlock()

	if ok {
		f.telemetry.FollowEnded()
		f.logger.Info("log follow stopped", "session", id)
	}
}

// Stop ends the session with the given id. It reports false when no such
// session is live.
func (f *LogFollower) Stop(id string) bool {
	f.mu.Lock()
	s, ok := f.sessions[id]
	f.mu.Unlock()
	if !ok {
		return false
	}
	s.Stop()
	return true
}

func (f *LogFollower) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// Close stops every live session.
func (f *LogFollower) Close() {
	f.mu.Lock()
	live := make([]*FollowSession, 0, len(f.sessions))
	for _, s := range f.sessions {
		live = append(live, s)
	}
	f.mu.Unlock()

	for _, s := range live {
		s.Stop()
	}
}
