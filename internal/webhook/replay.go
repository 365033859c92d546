package webhook

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// trimEvery controls how many appends happen between trim passes.
const trimEvery = 50

// sensitiveHeaders are stripped from replay records.
var sensitiveHeaders = map[string]bool{
	"authorization":           true,
	"cookie":                  true,
	"private-token":           true,
	"x-hub-signature":         true,
	"x-hub-signature-256":     true,
	"x-gitlab-token":          true,
	"x-gitlab-api-token":      true,
	"x-mr-agent-replay-token": true,
}

// EventSummary is the list view of one stored event.
type EventSummary struct {
	ID         string `json:"id"`
	Platform   string `json:"platform"`
	EventName  string `json:"event_name"`
	ReceivedAt string `json:"received_at"`
}

// ReplayStore appends received webhook events to an NDJSON file, trimmed to
// a bounded number of entries with an atomic temp-file rewrite.
type ReplayStore struct {
	mu           sync.Mutex
	file         string
	maxEntries   int
	maxBodyBytes int
	writes       int
	now          func() time.Time
}

// NewReplayStore creates the store. The file is created on first append.
func NewReplayStore(file string, maxEntries, maxBodyBytes int) *ReplayStore {
	if maxEntries <= 0 {
		maxEntries = 2000
	}
	return &ReplayStore{
		file:         file,
		maxEntries:   maxEntries,
		maxBodyBytes: maxBodyBytes,
		now:          time.Now,
	}
}

// Append records one event. Failures are returned but callers treat the
// store as best-effort.
func (s *ReplayStore) Append(platform, eventName string, headers http.Header, body []byte) error {
	record, _ := sjson.Set("", "id", uuid.NewString())
	record, _ = sjson.Set(record, "platform", platform)
	record, _ = sjson.Set(record, "event_name", eventName)
	record, _ = sjson.Set(record, "received_at", s.now().UTC().Format(time.RFC3339))

	for k, vs := range headers {
		lower := strings.ToLower(k)
		if sensitiveHeaders[lower] || len(vs) == 0 {
			continue
		}
		record, _ = sjson.Set(record, "headers."+lower, vs[0])
	}

	capped := body
	if s.maxBodyBytes > 0 && len(capped) > s.maxBodyBytes {
		capped = capped[:s.maxBodyBytes]
	}
	if gjson.ValidBytes(capped) {
		record, _ = sjson.SetRaw(record, "payload", string(capped))
	} else {
		record, _ = sjson.Set(record, "raw_body", string(capped))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open replay store: %w", err)
	}
	if _, err := f.WriteString(record + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("append replay store: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	s.writes++
	if s.writes%trimEvery == 0 {
		return s.trimLocked()
	}
	return nil
}

// trimLocked rewrites the file to the last maxEntries lines via a temp file
// and rename, so a crash mid-trim never truncates the store.
func (s *ReplayStore) trimLocked() error {
	lines, err := s.readLines()
	if err != nil {
		return err
	}
	if len(lines) <= s.maxEntries {
		return nil
	}
	lines = lines[len(lines)-s.maxEntries:]

	tmp := s.file + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trim temp: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.file)
}

func (s *ReplayStore) readLines() ([]string, error) {
	f, err := os.Open(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

// List returns the newest events first, optionally filtered by platform.
func (s *ReplayStore) List(platform string, limit int) ([]EventSummary, error) {
	s.mu.Lock()
	lines, err := s.readLines()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.maxEntries {
		limit = 100
	}

	var out []EventSummary
	for i := len(lines) - 1; i >= 0 && len(out) < limit; i-- {
		doc := gjson.Parse(lines[i])
		if platform != "" && doc.Get("platform").String() != platform {
			continue
		}
		out = append(out, EventSummary{
			ID:         doc.Get("id").String(),
			Platform:   doc.Get("platform").String(),
			EventName:  doc.Get("event_name").String(),
			ReceivedAt: doc.Get("received_at").String(),
		})
	}
	return out, nil
}

// Get returns the full stored record for one event id.
func (s *ReplayStore) Get(id string) (string, bool, error) {
	s.mu.Lock()
	lines, err := s.readLines()
	s.mu.Unlock()
	if err != nil {
		return "", false, err
	}
	for _, line := range lines {
		if gjson.Get(line, "id").String() == id {
			return line, true, nil
		}
	}
	return "", false, nil
}

// Dir returns the directory holding the store file.
func (s *ReplayStore) Dir() string {
	return filepath.Dir(s.file)
}
