package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"jtechpush/pkg/logx"
)

// fileStore is the dependency-free backend.
//
// Files:
//   - <prefix>.deliveries.jsonl (append-only, rewritten on prune)
//   - <prefix>.device           (device id, one line)
type fileStore struct {
	log logx.Logger

	mu             sync.Mutex
	deliveriesPath string
	deliveries     *os.File
	devicePath     string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{
		log:            log,
		deliveriesPath: prefix + ".deliveries.jsonl",
		devicePath:     prefix + ".device",
	}
	f, err := os.OpenFile(s.deliveriesPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.deliveries = f
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries == nil {
		return nil
	}
	err := s.deliveries.Close()
	s.deliveries = nil
	return err
}

func (s *fileStore) AppendDelivery(ctx context.Context, d Delivery) error {
	_ = ctx
	if d.At.IsZero() {
		d.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries == nil {
		return errors.New("delivery log closed")
	}
	return json.NewEncoder(s.deliveries).Encode(d)
}

func (s *fileStore) readAllLocked() ([]Delivery, error) {
	f, err := os.Open(s.deliveriesPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Delivery
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var d Delivery
		if err := json.Unmarshal(sc.Bytes(), &d); err != nil {
			// A torn last line after a crash is expected; skip it.
			continue
		}
		out = append(out, d)
	}
	return out, sc.Err()
}

func (s *fileStore) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	_ = ctx
	s.mu.Lock()
	all, err := s.readAllLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].At.After(all[j].At) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *fileStore) PruneDeliveries(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries == nil {
		return 0, errors.New("delivery log closed")
	}
	all, err := s.readAllLocked()
	if err != nil {
		return 0, err
	}
	keep := all[:0]
	for _, d := range all {
		if !d.At.Before(before) {
			keep = append(keep, d)
		}
	}
	removed := len(all) - len(keep)
	if removed == 0 {
		return 0, nil
	}

	tmp := s.deliveriesPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(f)
	for _, d := range keep {
		if err := enc.Encode(d); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	_ = s.deliveries.Close()
	if err := os.Rename(tmp, s.deliveriesPath); err != nil {
		return 0, err
	}
	nf, err := os.OpenFile(s.deliveriesPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		s.deliveries = nil
		return removed, err
	}
	s.deliveries = nf
	s.log.Debug("delivery log compacted", logx.Int("removed", removed), logx.Int("kept", len(keep)))
	return removed, nil
}

func (s *fileStore) DeviceID(ctx context.Context) (string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.devicePath)
	if err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	id := newDeviceID()
	if err := os.WriteFile(s.devicePath, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
