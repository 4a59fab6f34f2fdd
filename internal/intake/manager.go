// Package intake owns the tracked-file collection and drives each file's
// lifecycle (pending -> uploading -> success/error) through the simulated
// upload process.
package intake

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/exam-intake/backend/internal/config"
	"github.com/exam-intake/backend/internal/format"
	"github.com/exam-intake/backend/internal/models"
)

var (
	// ErrUploadInProgress guards against re-entrant batch upload triggers.
	ErrUploadInProgress = errors.New("batch upload already in progress")

	// ErrFileUploading rejects removal of a file whose transfer is active.
	ErrFileUploading = errors.New("file transfer in progress")

	// ErrUnknownExam is returned for an intake request naming an exam profile
	// that is not configured.
	ErrUnknownExam = errors.New("unknown exam profile")
)

// FileMeta is the snapshot of a raw file handle offered at intake: the
// platform owns the bytes, we copy only name, size and declared MIME type.
type FileMeta struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// Result is the tagged outcome of validating one intake candidate. Exactly
// one of File and Rejected is set.
type Result struct {
	Accepted bool                 `json:"accepted"`
	File     *models.TrackedFile  `json:"file,omitempty"`
	Rejected *models.RejectedFile `json:"rejected,omitempty"`
}

// EventType identifies a collection or transfer event.
type EventType string

const (
	EventFileAdded     EventType = "file:added"
	EventFileRemoved   EventType = "file:removed"
	EventProgress      EventType = "upload:progress"
	EventStatusChanged EventType = "upload:status"
	EventBatchStarted  EventType = "batch:started"
	EventBatchFinished EventType = "batch:finished"
)

// Event is published on every observable state change. File carries a
// snapshot copy, safe to retain.
type Event struct {
	Type      EventType           `json:"type"`
	File      *models.TrackedFile `json:"file,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// FailFunc injects transfer failures into the simulated upload. It is
// consulted before every progress step; a non-nil error settles the file as
// error. The default driver never fails unless a failure rate is configured.
type FailFunc func(f models.TrackedFile) error

// Manager is the FileIntake component: it owns the ordered collection of
// tracked files, the single in-progress flag, and the event stream. All
// mutation goes through Add, Remove, UploadAll and Cleanup.
type Manager struct {
	mu      sync.RWMutex
	files   []*models.TrackedFile
	index   map[string]*models.TrackedFile
	rules   config.IntakeRules
	exams   map[string]config.ExamProfile
	upload  config.UploadConfig
	running bool

	sleep func(time.Duration)
	fail  FailFunc
	// failFromRate records whether fail was derived from the configured
	// failure rate rather than SetFailFunc, so config reloads do not clobber
	// an explicit hook.
	failFromRate bool

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewManager creates a Manager with the given configuration.
func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		index: make(map[string]*models.TrackedFile),
		subs:  make(map[int]chan Event),
		sleep: time.Sleep,
	}
	m.ApplyConfig(cfg)
	return m
}

// ApplyConfig swaps the validation rules, exam profiles and transfer timing.
// Timing changes take effect on the next batch run.
func (m *Manager) ApplyConfig(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rules = cfg.Intake
	m.exams = make(map[string]config.ExamProfile, len(cfg.Exams))
	for k, v := range cfg.Exams {
		m.exams[k] = v
	}
	m.upload = cfg.Upload
	if m.fail == nil || m.failFromRate {
		m.setFailureRateLocked(cfg.Upload.FailureRate)
	}
}

// SetFailFunc installs an explicit failure hook, overriding the configured
// failure rate. Pass nil to restore the never-failing default.
func (m *Manager) SetFailFunc(f FailFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = f
	m.failFromRate = false
	if f == nil {
		m.setFailureRateLocked(m.upload.FailureRate)
	}
}

// SetSleepFunc replaces the timer used between simulated transfer ticks.
// Tests use this to run the schedule without real delays.
func (m *Manager) SetSleepFunc(sleep func(time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sleep == nil {
		sleep = time.Sleep
	}
	m.sleep = sleep
}

// Add validates a batch of raw file handles in order and appends the
// survivors to the collection. Every candidate yields a tagged Result so the
// caller can surface rejection reasons. A non-empty exam name applies that
// profile's stricter format and size caps instead of the base rules.
func (m *Manager) Add(metas []FileMeta, exam string) ([]Result, error) {
	m.mu.Lock()

	var profile *config.ExamProfile
	if exam != "" {
		p, ok := m.exams[exam]
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownExam, exam)
		}
		profile = &p
	}

	results := make([]Result, 0, len(metas))
	var added []models.TrackedFile

	for _, meta := range metas {
		ok, reason := m.validateLocked(meta, profile)
		if !ok {
			results = append(results, Result{Rejected: &models.RejectedFile{
				Name:   meta.Name,
				Size:   meta.Size,
				Type:   meta.Type,
				Reason: reason,
			}})
			continue
		}

		f := models.NewTrackedFile(uuid.New().String(), meta.Name, meta.Size, meta.Type)
		m.files = append(m.files, f)
		m.index[f.ID] = f

		snap := *f
		added = append(added, snap)
		results = append(results, Result{Accepted: true, File: &snap})
	}
	m.mu.Unlock()

	for i := range added {
		m.publish(Event{Type: EventFileAdded, File: &added[i]})
	}
	return results, nil
}

func (m *Manager) validateLocked(meta FileMeta, profile *config.ExamProfile) (bool, string) {
	if meta.Size < 0 {
		return false, "negative file size"
	}
	if profile != nil {
		return profile.Allows(meta.Type, meta.Size)
	}
	return m.rules.Allows(meta.Type, meta.Size)
}

// Remove discards a tracked file by ID. An absent ID is a no-op. A file whose
// transfer is active cannot be removed; this is enforced here, not just by
// hiding the control in the UI.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()

	f, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if f.Status == models.StatusUploading {
		m.mu.Unlock()
		return ErrFileUploading
	}

	delete(m.index, id)
	for i, candidate := range m.files {
		if candidate.ID == id {
			m.files = append(m.files[:i], m.files[i+1:]...)
			break
		}
	}
	snap := *f
	m.mu.Unlock()

	m.publish(Event{Type: EventFileRemoved, File: &snap})
	return nil
}

// UploadAll flips every pending file to uploading and starts the simulated
// batch run. It returns the work-set size. A second trigger while a run is
// active returns ErrUploadInProgress; a trigger with nothing pending is a
// no-op.
func (m *Manager) UploadAll() (int, error) {
	m.mu.Lock()

	if m.running {
		m.mu.Unlock()
		return 0, ErrUploadInProgress
	}

	var workSet []string
	var started []models.TrackedFile
	for _, f := range m.files {
		if f.Status != models.StatusPending {
			continue
		}
		f.Status = models.StatusUploading
		f.Progress = 0
		workSet = append(workSet, f.ID)
		started = append(started, *f)
	}
	if len(workSet) == 0 {
		m.mu.Unlock()
		return 0, nil
	}

	m.running = true
	tick := m.upload.Tick()
	step := m.upload.StepPercent
	m.mu.Unlock()

	m.publish(Event{Type: EventBatchStarted})
	for i := range started {
		m.publish(Event{Type: EventStatusChanged, File: &started[i]})
	}

	go m.run(workSet, tick, step)
	return len(workSet), nil
}

// run processes the work set strictly sequentially: the next file's transfer
// does not begin until the previous one has settled.
func (m *Manager) run(workSet []string, tick time.Duration, step int) {
	for _, id := range workSet {
		m.transfer(id, tick, step)
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.publish(Event{Type: EventBatchFinished})
}

// transfer advances one file through the fixed progress schedule and settles
// it. A failure from the hook marks the file error; the caller moves on to
// the next file either way.
func (m *Manager) transfer(id string, tick time.Duration, step int) {
	m.mu.RLock()
	sleep := m.sleep
	m.mu.RUnlock()

	for {
		sleep(tick)

		m.mu.Lock()
		f, ok := m.index[id]
		if !ok {
			// Removal of an in-flight file is rejected by Remove, so this
			// only guards against future misuse.
			m.mu.Unlock()
			return
		}
		if err := m.failLocked(*f); err != nil {
			f.Status = models.StatusError
			f.Error = err.Error()
			snap := *f
			m.mu.Unlock()
			m.publish(Event{Type: EventStatusChanged, File: &snap})
			return
		}
		f.Progress += step
		if f.Progress > 100 {
			f.Progress = 100
		}
		done := f.Progress >= 100
		snap := *f
		m.mu.Unlock()

		m.publish(Event{Type: EventProgress, File: &snap})
		if done {
			break
		}
	}

	// One more tick simulating the server committing the upload.
	sleep(tick)

	m.mu.Lock()
	f, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if err := m.failLocked(*f); err != nil {
		f.Status = models.StatusError
		f.Error = err.Error()
	} else {
		f.Status = models.StatusSuccess
	}
	snap := *f
	m.mu.Unlock()

	m.publish(Event{Type: EventStatusChanged, File: &snap})
}

func (m *Manager) failLocked(f models.TrackedFile) error {
	if m.fail == nil {
		return nil
	}
	return m.fail(f)
}

// Uploading reports whether a batch run is active.
func (m *Manager) Uploading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// List returns snapshot copies of the collection in intake order.
func (m *Manager) List() []models.TrackedFile {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.TrackedFile, len(m.files))
	for i, f := range m.files {
		out[i] = *f
	}
	return out
}

// Get returns a snapshot of one tracked file.
func (m *Manager) Get(id string) (models.TrackedFile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.index[id]
	if !ok {
		return models.TrackedFile{}, false
	}
	return *f, true
}

// Summary aggregates the live collection. It is recomputed on every call.
func (m *Manager) Summary() models.Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := models.Summary{TotalFiles: len(m.files)}
	for _, f := range m.files {
		s.TotalSize += f.Size
		switch f.Status {
		case models.StatusPending:
			s.Pending++
		case models.StatusUploading:
			s.Uploading++
		case models.StatusSuccess:
			s.Success++
		case models.StatusError:
			s.Errors++
		}
	}
	s.TotalSizeLabel = format.FileSize(s.TotalSize)
	return s
}

// Cleanup removes every settled (success or error) file and returns their
// snapshots so the caller can discard stored payloads.
func (m *Manager) Cleanup() []models.TrackedFile {
	m.mu.Lock()

	var removed []models.TrackedFile
	kept := m.files[:0]
	for _, f := range m.files {
		if f.Status.Terminal() {
			removed = append(removed, *f)
			delete(m.index, f.ID)
			continue
		}
		kept = append(kept, f)
	}
	m.files = kept
	m.mu.Unlock()

	for i := range removed {
		m.publish(Event{Type: EventFileRemoved, File: &removed[i]})
	}
	return removed
}

// Rules returns the currently enforced intake rules.
func (m *Manager) Rules() config.IntakeRules {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules
}

// Exams returns the configured exam profiles.
func (m *Manager) Exams() map[string]config.ExamProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]config.ExamProfile, len(m.exams))
	for k, v := range m.exams {
		out[k] = v
	}
	return out
}

// Exam returns a single exam profile.
func (m *Manager) Exam(name string) (config.ExamProfile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.exams[name]
	return p, ok
}

// Subscribe registers an event listener. The returned cancel function must be
// called to release it. Slow consumers drop events rather than stalling the
// driver.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Event, 256)
	m.subs[id] = ch

	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (m *Manager) publish(ev Event) {
	ev.Timestamp = time.Now().UnixMilli()

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Manager) setFailureRateLocked(rate float64) {
	if rate <= 0 {
		m.fail = nil
		m.failFromRate = false
		return
	}
	m.fail = func(f models.TrackedFile) error {
		if rand.Float64() < rate {
			return fmt.Errorf("simulated transfer failure for %s", f.Name)
		}
		return nil
	}
	m.failFromRate = true
}
