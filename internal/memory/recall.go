package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const recallStorageFile = "recall_storage.json"

// RecallStorage is the append-only log of every message the
// conversation has seen. The FIFO queue is a bounded sliding view;
// recall keeps the full history and answers text and date searches.
type RecallStorage struct {
	path    string
	records []Record
}

// OpenRecall loads the recall log from dir, creating an empty one on
// first use.
func OpenRecall(dir string) (*RecallStorage, error) {
	rs := &RecallStorage{path: filepath.Join(dir, recallStorageFile)}

	data, err := os.ReadFile(rs.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &rs.records); err != nil {
			return nil, fmt.Errorf("parse recall storage: %w", err)
		}
	case os.IsNotExist(err):
		rs.records = []Record{}
		if err := rs.persist(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read recall storage: %w", err)
	}
	return rs, nil
}

func (rs *RecallStorage) persist() error {
	data, err := json.Marshal(rs.records)
	if err != nil {
		return fmt.Errorf("marshal recall storage: %w", err)
	}
	if err := os.WriteFile(rs.path, data, 0644); err != nil {
		return fmt.Errorf("write recall storage: %w", err)
	}
	return nil
}

// Len returns the total number of logged records of any kind.
func (rs *RecallStorage) Len() int { return len(rs.records) }

// Insert stamps the record with today's date if unset, appends and
// persists.
func (rs *RecallStorage) Insert(rec Record) error {
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().Format("2006-01-02")
	}
	rs.records = append(rs.records, rec)
	return rs.persist()
}

// conversational filters out system and tool records; searches only see
// what was actually said.
func (rs *RecallStorage) conversational() []Record {
	out := make([]Record, 0, len(rs.records))
	for _, r := range rs.records {
		if r.Kind == KindSystem || r.Kind == KindTool {
			continue
		}
		out = append(out, r)
	}
	return out
}

func page(results []Record, count, offset int) []Record {
	if offset < 0 {
		offset = 0
	}
	if offset > len(results) {
		offset = len(results)
	}
	if count <= 0 {
		count = len(results)
	}
	end := offset + count
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end]
}

// TextSearch returns the page of conversational records for forUserID
// whose content contains query case-insensitively, plus the total
// number of matches.
func (rs *RecallStorage) TextSearch(query string, forUserID, count, offset int) ([]Record, int) {
	q := strings.ToLower(query)
	var results []Record
	for _, r := range rs.conversational() {
		if r.UserID != forUserID || r.Message.Content == "" {
			continue
		}
		if strings.Contains(strings.ToLower(r.Message.Content), q) {
			results = append(results, r)
		}
	}
	return page(results, count, offset), len(results)
}

// DateSearch returns the page of conversational records for forUserID
// stamped within [startDate, endDate] inclusive, plus the total number
// of matches. Dates are YYYY-MM-DD.
func (rs *RecallStorage) DateSearch(startDate, endDate string, forUserID, count, offset int) ([]Record, int, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, 0, fmt.Errorf("parse start date %q: %w", startDate, err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, 0, fmt.Errorf("parse end date %q: %w", endDate, err)
	}

	var results []Record
	for _, r := range rs.conversational() {
		if r.UserID != forUserID {
			continue
		}
		ts, err := time.Parse("2006-01-02", r.Timestamp)
		if err != nil {
			continue
		}
		if !ts.Before(start) && !ts.After(end) {
			results = append(results, r)
		}
	}
	return page(results, count, offset), len(results), nil
}
