package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/nkhunters/tool-calls-sanitizer/internal/sanitize"
)

var (
	reportsBucket = []byte("reports")
	// reportIDsBucket maps report ids to their keys in reportsBucket.
	reportIDsBucket = []byte("report_ids")
)

const defaultMaxReports = 1000

// ErrNotFound is returned when no report exists for an id.
var ErrNotFound = errors.New("report not found")

// RunReport records what one sanitize call did. Message contents are never stored.
type RunReport struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Client    string          `json:"client,omitempty"`
	Report    sanitize.Report `json:"report"`
	// Tokens before and after sanitizing; zero when counting was unavailable.
	TokensBefore int  `json:"tokens_before"`
	TokensAfter  int  `json:"tokens_after"`
	OverBudget   bool `json:"over_budget"`
}

type Store interface {
	SaveReport(r RunReport) error
	GetReport(id string) (*RunReport, error)
	ListReports(limit int) ([]RunReport, error)
	Close() error
}

type BoltStore struct {
	db         *bolt.DB
	maxReports int
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(reportsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(reportIDsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating report buckets: %w", err)
	}

	return &BoltStore{db: db, maxReports: defaultMaxReports}, nil
}

// reportKey orders reports by creation time; the id keeps keys unique.
func reportKey(r RunReport) []byte {
	return []byte(r.CreatedAt.UTC().Format("20060102T150405.000000000Z") + "/" + r.ID)
}

// SaveReport stores r and evicts the oldest reports beyond the retention cap.
func (s *BoltStore) SaveReport(r RunReport) error {
	if r.ID == "" {
		return fmt.Errorf("saving report: empty id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		reports, ids := tx.Bucket(reportsBucket), tx.Bucket(reportIDsBucket)
		key := reportKey(r)
		if err := reports.Put(key, data); err != nil {
			return err
		}
		if err := ids.Put([]byte(r.ID), key); err != nil {
			return err
		}
		return s.evict(reports, ids)
	})
}

func (s *BoltStore) evict(reports, ids *bolt.Bucket) error {
	var keys [][]byte
	c := reports.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	if len(keys) <= s.maxReports {
		return nil
	}
	stale := keys[:len(keys)-s.maxReports]
	for _, k := range stale {
		var r RunReport
		if err := json.Unmarshal(reports.Get(k), &r); err == nil {
			if err := ids.Delete([]byte(r.ID)); err != nil {
				return err
			}
		}
		if err := reports.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) GetReport(id string) (*RunReport, error) {
	var r RunReport
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(reportIDsBucket).Get([]byte(id))
		if key == nil {
			return ErrNotFound
		}
		v := tx.Bucket(reportsBucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReports returns up to limit reports, newest first.
func (s *BoltStore) ListReports(limit int) ([]RunReport, error) {
	var out []RunReport
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(reportsBucket).Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Prev() {
			var r RunReport
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decoding report %s: %w", k, err)
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
