// Package store is the single source of truth for tasks and inter-subject mail
// in a run directory. State lives in one JSON document published by atomic
// rename; all mutation happens under a sentinel lock file so multiple
// orchestrator processes can safely share the directory. Reads are lock-free
// and observe the latest committed snapshot.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/crewsched/crewsched/pkg/models"
)

const (
	stateFileName = "state.json"
	stateVersion  = 1
)

// Store coordinates durable task and mailbox state in a run directory.
// Construct one per directory with Open; multiple independent instances (and
// multiple OS processes) may point at the same directory.
type Store struct {
	dir           string
	lockTimeout   time.Duration
	lockPoll      time.Duration
	lockStaleness time.Duration
	now           func() time.Time
}

// Options tunes lock behavior; zero values use the defaults.
type Options struct {
	LockTimeout   time.Duration
	LockPoll      time.Duration
	LockStaleness time.Duration
}

type document struct {
	Version  int                    `json:"version"`
	Tasks    map[string]models.Task `json:"tasks"`
	Messages []models.MailMessage   `json:"messages"`
	Meta     metaState              `json:"meta"`
}

type metaState struct {
	Sequence        int64 `json:"sequence"`
	ProgressCounter int64 `json:"progress_counter"`
	LastProgressAt  int64 `json:"last_progress_at"`
}

// Open prepares a store rooted at dir, creating the directory if needed.
func Open(dir string) (*Store, error) {
	return OpenWithOptions(dir, Options{})
}

// OpenWithOptions prepares a store with explicit lock tuning.
func OpenWithOptions(dir string, opts Options) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &Store{
		dir:           dir,
		lockTimeout:   opts.LockTimeout,
		lockPoll:      opts.LockPoll,
		lockStaleness: opts.LockStaleness,
		now:           time.Now,
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = DefaultLockTimeout
	}
	if s.lockPoll <= 0 {
		s.lockPoll = DefaultLockPoll
	}
	if s.lockStaleness <= 0 {
		s.lockStaleness = DefaultLockStaleness
	}
	return s, nil
}

// Dir returns the run directory the store is rooted at.
func (s *Store) Dir() string { return s.dir }

func (s *Store) statePath() string { return filepath.Join(s.dir, stateFileName) }

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return &document{Version: stateVersion, Tasks: map[string]models.Task{}}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if doc.Tasks == nil {
		doc.Tasks = map[string]models.Task{}
	}
	return &doc, nil
}

// save publishes the document atomically: write to a temp file in the same
// directory, then rename over the target.
func (s *Store) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpName, s.statePath()); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish state: %w", err)
	}
	return nil
}

// update runs fn under the exclusive lock following the read → mutate →
// atomic-write discipline. fn reports whether it changed anything; unchanged
// documents are not rewritten and do not advance the progress marker.
func (s *Store) update(ctx context.Context, fn func(doc *document) (changed bool, err error)) error {
	release, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer release()

	doc, err := s.load()
	if err != nil {
		return err
	}
	changed, err := fn(doc)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	doc.Meta.ProgressCounter++
	doc.Meta.LastProgressAt = s.now().Unix()
	return s.save(doc)
}

// BootstrapTasks installs the initial task set. With merge=false the task map
// is replaced wholesale; with merge=true existing tasks win on id conflicts.
// Tasks are normalized: missing statuses default to pending and plan_status is
// forced consistent with requires_plan.
func (s *Store) BootstrapTasks(ctx context.Context, tasks []models.Task, merge bool) error {
	seen := make(map[string]bool, len(tasks))
	for i := range tasks {
		if tasks[i].ID == "" {
			return fmt.Errorf("bootstrap task %d missing id", i)
		}
		if seen[tasks[i].ID] {
			return fmt.Errorf("bootstrap task id %q duplicated", tasks[i].ID)
		}
		seen[tasks[i].ID] = true
	}
	return s.update(ctx, func(doc *document) (bool, error) {
		if !merge {
			doc.Tasks = make(map[string]models.Task, len(tasks))
		}
		now := s.now().UTC()
		for _, t := range tasks {
			if merge {
				if _, exists := doc.Tasks[t.ID]; exists {
					continue
				}
			}
			nt := t.Clone()
			if nt.Status == "" {
				nt.Status = models.StatusPending
			}
			if !models.ValidStatus(nt.Status) {
				return false, fmt.Errorf("bootstrap task %s: unknown status %q", nt.ID, nt.Status)
			}
			if nt.RequiresPlan {
				if nt.PlanStatus == "" || nt.PlanStatus == models.PlanNotRequired {
					nt.PlanStatus = models.PlanPending
				}
				if !models.ValidPlanStatus(nt.PlanStatus) {
					return false, fmt.Errorf("bootstrap task %s: unknown plan status %q", nt.ID, nt.PlanStatus)
				}
			} else {
				nt.PlanStatus = models.PlanNotRequired
			}
			if nt.CreatedAt.IsZero() {
				nt.CreatedAt = now
			}
			nt.UpdatedAt = now
			doc.Tasks[nt.ID] = nt
		}
		return true, nil
	})
}

// GetTask returns a copy of one task without taking the lock.
func (s *Store) GetTask(taskID string) (*models.Task, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	t, ok := doc.Tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	out := t.Clone()
	return &out, nil
}

// ListTasks returns all tasks sorted by id without taking the lock.
func (s *Store) ListTasks() ([]models.Task, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]models.Task, 0, len(doc.Tasks))
	for _, id := range sortedTaskIDs(doc) {
		out = append(out, doc.Tasks[id].Clone())
	}
	return out, nil
}

// StatusSummary counts tasks by status without taking the lock.
func (s *Store) StatusSummary() (models.StatusSummary, error) {
	doc, err := s.load()
	if err != nil {
		return models.StatusSummary{}, err
	}
	var sum models.StatusSummary
	for _, t := range doc.Tasks {
		switch t.Status {
		case models.StatusPending:
			sum.Pending++
		case models.StatusInProgress:
			sum.InProgress++
		case models.StatusBlocked:
			sum.Blocked++
		case models.StatusNeedsApproval:
			sum.NeedsApproval++
		case models.StatusCompleted:
			sum.Completed++
		}
	}
	return sum, nil
}

// AllTasksCompleted reports whether every task is completed. An empty task set
// does not count as completed.
func (s *Store) AllTasksCompleted() (bool, error) {
	doc, err := s.load()
	if err != nil {
		return false, err
	}
	if len(doc.Tasks) == 0 {
		return false, nil
	}
	for _, t := range doc.Tasks {
		if t.Status != models.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// ProgressMarker returns the monotonic mutation counter and the time of the
// last mutation. The orchestrator compares markers across rounds to detect
// whether any store mutation happened at all.
func (s *Store) ProgressMarker() (int64, time.Time, error) {
	doc, err := s.load()
	if err != nil {
		return 0, time.Time{}, err
	}
	return doc.Meta.ProgressCounter, time.Unix(doc.Meta.LastProgressAt, 0), nil
}

// AppendTaskProgressLog appends an audit line to the task's progress log,
// evicting oldest-first beyond maxEntries.
func (s *Store) AppendTaskProgressLog(ctx context.Context, taskID, source, text string, maxEntries int) error {
	if maxEntries <= 0 {
		maxEntries = models.DefaultTaskProgressLogLimit
	}
	return s.update(ctx, func(doc *document) (bool, error) {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		appendProgress(&t, s.now().UTC(), source, text, maxEntries)
		t.UpdatedAt = s.now().UTC()
		doc.Tasks[taskID] = t
		return true, nil
	})
}

// RequeueInProgressTasks is the resume-safety sweep: any task left in_progress
// (e.g. after a crash) is reset to pending with an audit line. Returns the ids
// of requeued tasks.
func (s *Store) RequeueInProgressTasks(ctx context.Context) ([]string, error) {
	var requeued []string
	err := s.update(ctx, func(doc *document) (bool, error) {
		now := s.now().UTC()
		for _, id := range sortedTaskIDs(doc) {
			t := doc.Tasks[id]
			if t.Status != models.StatusInProgress {
				continue
			}
			owner := ""
			if t.Owner != nil {
				owner = *t.Owner
			}
			t.Status = models.StatusPending
			t.Owner = nil
			appendProgress(&t, now, "store", fmt.Sprintf("requeued from in_progress (previous owner %q) after interrupted run", owner), models.DefaultTaskProgressLogLimit)
			t.UpdatedAt = now
			doc.Tasks[id] = t
			requeued = append(requeued, id)
		}
		return len(requeued) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return requeued, nil
}

func appendProgress(t *models.Task, ts time.Time, source, text string, maxEntries int) {
	t.ProgressLog = append(t.ProgressLog, models.ProgressEntry{Timestamp: ts, Source: source, Text: text})
	if over := len(t.ProgressLog) - maxEntries; over > 0 {
		t.ProgressLog = append([]models.ProgressEntry(nil), t.ProgressLog[over:]...)
	}
}

func sortedTaskIDs(doc *document) []string {
	ids := make([]string, 0, len(doc.Tasks))
	for id := range doc.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func dependenciesCompleted(doc *document, t models.Task) bool {
	for _, dep := range t.DependsOn {
		d, ok := doc.Tasks[dep]
		if !ok || d.Status != models.StatusCompleted {
			return false
		}
	}
	return true
}
