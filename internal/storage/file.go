package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

// fileStore keeps everything in a Memory and mirrors it to disk.
//
// Files:
//   - <prefix>.snapshot.json   (rewritten after every change; tmp + rename)
//   - <prefix>.activity.jsonl  (append-only JSON Lines)
type fileStore struct {
	*Memory
	log logx.Logger

	snapshotPath string

	actMu        sync.Mutex
	activityFile *os.File
}

type snapshotFile struct {
	Tenants     []tenantRecord         `json:"tenants"`
	Schedules   []schedule.ScheduleSet `json:"schedules"`
	SpecialDays []schedule.SpecialDay  `json:"specialDays"`
}

// tenantRecord exists because Tenant hides its API key from JSON.
type tenantRecord struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	APIKey           string    `json:"apiKey"`
	ActiveScheduleID string    `json:"activeScheduleId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	mem := NewMemory()
	snapPath := prefix + ".snapshot.json"
	if err := loadSnapshot(snapPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	actPath := prefix + ".activity.jsonl"
	if err := replayActivity(actPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("activity replay failed", logx.String("path", actPath), logx.Err(err))
	}

	af, err := os.OpenFile(actPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{
		Memory:       mem,
		log:          log,
		snapshotPath: snapPath,
		activityFile: af,
	}
	mem.onChange = s.writeSnapshotLocked
	return s, nil
}

func (s *fileStore) Close() error {
	s.actMu.Lock()
	defer s.actMu.Unlock()
	if s.activityFile == nil {
		return nil
	}
	err := s.activityFile.Close()
	s.activityFile = nil
	return err
}

func (s *fileStore) AppendActivity(ctx context.Context, e ActivityEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	e = s.Memory.appendActivity(e)
	s.actMu.Lock()
	defer s.actMu.Unlock()
	if s.activityFile == nil {
		return errors.New("activity file closed")
	}
	return json.NewEncoder(s.activityFile).Encode(e)
}

// writeSnapshotLocked runs with Memory.mu held.
func (s *fileStore) writeSnapshotLocked() error {
	m := s.Memory
	var snap snapshotFile
	for _, t := range m.tenants {
		snap.Tenants = append(snap.Tenants, tenantRecord{
			ID: t.ID, Name: t.Name, APIKey: t.APIKey,
			ActiveScheduleID: t.ActiveScheduleID, CreatedAt: t.CreatedAt,
		})
	}
	for id, set := range m.schedules {
		set.Bells = m.bellsLocked(id)
		snap.Schedules = append(snap.Schedules, set)
	}
	for _, days := range m.special {
		for _, sd := range days {
			snap.SpecialDays = append(snap.SpecialDays, sd)
		}
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

func loadSnapshot(path string, m *Memory) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshotFile
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, t := range snap.Tenants {
		m.tenants[t.ID] = schedule.Tenant{
			ID: t.ID, Name: t.Name, APIKey: t.APIKey,
			ActiveScheduleID: t.ActiveScheduleID, CreatedAt: t.CreatedAt,
		}
	}
	for _, set := range snap.Schedules {
		for _, b := range set.Bells {
			b.ScheduleID = set.ID
			m.bells[b.ID] = b
		}
		set.Bells = nil
		m.schedules[set.ID] = set
	}
	for _, sd := range snap.SpecialDays {
		if m.special[sd.TenantID] == nil {
			m.special[sd.TenantID] = map[string]schedule.SpecialDay{}
		}
		m.special[sd.TenantID][sd.Date] = sd
	}
	return nil
}

func replayActivity(path string, m *Memory) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e ActivityEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if e.ID > m.nextSeq {
			m.nextSeq = e.ID
		}
		// Lines of deleted schools stay in the log; the snapshot decides who exists.
		if _, ok := m.tenants[e.TenantID]; !ok {
			continue
		}
		m.activity = append(m.activity, e)
	}
	return sc.Err()
}
