package writer

import (
	"fmt"
	"sync"
	"time"

	"codecoder/internal/bus"
	"codecoder/internal/logging"
)

const (
	// DefaultCheckInterval is how often a supervised task is inspected.
	DefaultCheckInterval = 5 * time.Second
	// DefaultWarnAfter is the quiet period that logs a stall warning.
	DefaultWarnAfter = 45 * time.Second
	// DefaultCriticalAfter is the quiet period that fails the task.
	DefaultCriticalAfter = 90 * time.Second
)

// Action labels a writer.progress bus event.
type Action string

const (
	ActionOutline         Action = "outline"
	ActionChapterStart    Action = "chapter_start"
	ActionChapterComplete Action = "chapter_complete"
	ActionComplete        Action = "complete"
	ActionError           Action = "error"
)

// ProgressEvent is the payload published under bus.EventWriterProgress.
type ProgressEvent struct {
	Action    Action        `json:"action"`
	Completed int           `json:"completed"`
	Total     int           `json:"total,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Message   string        `json:"message,omitempty"`
}

type task struct {
	sessionID string
	startedAt time.Time

	mu           sync.Mutex
	completed    int
	total        int
	lastProgress time.Time
	warned       bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// stop ends the watch goroutine and waits for it to exit. Safe to call
// more than once, but never from the watch goroutine itself.
func (t *task) stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	<-t.doneCh
}

// Supervisor watches long generation tasks, one per session. It owns no
// generation state; callers feed it progress and it turns silence into
// warnings and, past the critical threshold, into an error event that
// ends supervision.
type Supervisor struct {
	bus    *bus.Bus
	logger logging.Logger
	now    func() time.Time

	checkInterval time.Duration
	warnAfter     time.Duration
	criticalAfter time.Duration

	mu    sync.Mutex
	tasks map[string]*task
}

// NewSupervisor returns a supervisor with the default thresholds that
// publishes writer.progress events on b.
func NewSupervisor(b *bus.Bus, logger logging.Logger) *Supervisor {
	return &Supervisor{
		bus:           b,
		logger:        logging.OrNop(logger),
		now:           time.Now,
		checkInterval: DefaultCheckInterval,
		warnAfter:     DefaultWarnAfter,
		criticalAfter: DefaultCriticalAfter,
		tasks:         make(map[string]*task),
	}
}

// StartTask begins supervising a generation task for sessionID and
// publishes the outline event. A task already tracked for the session is
// stopped and replaced. expectedChapters of zero means the outline has
// not settled the count yet; UpdateProgress fills it in later.
func (s *Supervisor) StartTask(sessionID string, expectedChapters int) {
	if sessionID == "" {
		return
	}
	if expectedChapters < 0 {
		expectedChapters = 0
	}

	now := s.clock()
	t := &task{
		sessionID:    sessionID,
		startedAt:    now,
		total:        expectedChapters,
		lastProgress: now,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}

	s.mu.Lock()
	prev := s.tasks[sessionID]
	s.tasks[sessionID] = t
	s.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	s.publish(t, ActionOutline, "")
	go s.watch(t)
}

// UpdateProgress records a completed chapter and resets the stall clock.
// Zero counts keep the previous values, so callers without a marker can
// still report liveness. Unknown sessions are a no-op.
func (s *Supervisor) UpdateProgress(sessionID string, completed, total int) {
	t := s.get(sessionID)
	if t == nil {
		return
	}

	t.mu.Lock()
	if completed > 0 {
		t.completed = completed
	}
	if total > 0 {
		t.total = total
	}
	t.lastProgress = s.clock()
	t.warned = false
	t.mu.Unlock()

	s.publish(t, ActionChapterComplete, "")
}

// ChapterStarted records that generation moved on to the chapter at
// index, which counts as liveness for the stall clock.
func (s *Supervisor) ChapterStarted(sessionID string, index int) {
	t := s.get(sessionID)
	if t == nil {
		return
	}

	t.mu.Lock()
	t.lastProgress = s.clock()
	t.warned = false
	t.mu.Unlock()

	s.publish(t, ActionChapterStart, fmt.Sprintf("chapter %d", index))
}

// ObserveOutput scans streamed model text for a progress marker and
// applies the last one as completed-chapter progress.
func (s *Supervisor) ObserveOutput(sessionID, text string) (Progress, bool) {
	progress, ok := ParseProgress(text)
	if !ok {
		return Progress{}, false
	}
	s.UpdateProgress(sessionID, progress.Completed, progress.Total)
	return progress, true
}

// StopTask ends supervision for sessionID and publishes the terminal
// complete event. Unknown sessions are a no-op.
func (s *Supervisor) StopTask(sessionID string) {
	s.mu.Lock()
	t := s.tasks[sessionID]
	delete(s.tasks, sessionID)
	s.mu.Unlock()
	if t == nil {
		return
	}

	t.stop()
	s.publish(t, ActionComplete, "")
}

// Running reports whether sessionID has a supervised task.
func (s *Supervisor) Running(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[sessionID]
	return ok
}

// Shutdown stops every supervised task without emitting terminal events.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	for _, t := range tasks {
		t.stop()
	}
}

func (s *Supervisor) watch(t *task) {
	defer close(t.doneCh)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.check(t) {
				return
			}
		case <-t.stopCh:
			return
		}
	}
}

// check inspects one task and reports whether supervision should end.
func (s *Supervisor) check(t *task) bool {
	t.mu.Lock()
	quiet := s.clock().Sub(t.lastProgress)
	alreadyWarned := t.warned
	if quiet >= s.warnAfter {
		t.warned = true
	}
	t.mu.Unlock()

	if quiet >= s.criticalAfter {
		s.logger.Error("writer task %s made no progress for %s, stopping", t.sessionID, quiet.Round(time.Second))

		s.mu.Lock()
		if s.tasks[t.sessionID] == t {
			delete(s.tasks, t.sessionID)
		}
		s.mu.Unlock()

		s.publish(t, ActionError, fmt.Sprintf("no progress for %s", quiet.Round(time.Second)))
		return true
	}

	if quiet >= s.warnAfter && !alreadyWarned {
		s.logger.Warn("writer task %s quiet for %s", t.sessionID, quiet.Round(time.Second))
	}
	return false
}

func (s *Supervisor) publish(t *task, action Action, message string) {
	t.mu.Lock()
	event := ProgressEvent{
		Action:    action,
		Completed: t.completed,
		Total:     t.total,
		Elapsed:   s.clock().Sub(t.startedAt),
		Message:   message,
	}
	t.mu.Unlock()

	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Type:      bus.EventWriterProgress,
		SessionID: t.sessionID,
		Payload:   event,
	})
}

func (s *Supervisor) get(sessionID string) *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[sessionID]
}

func (s *Supervisor) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
