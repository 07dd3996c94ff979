// Package store persists user settings and the daily trade counter in a
// local sqlite database.
package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

// Settings is the persisted configuration surface shared with the control
// panel.
type Settings struct {
	Amount           float64
	Count            int
	DelayMs          int
	SellDiscountRate float64
	SmartTradingMode bool
}

// Store wraps the sqlite handle. Safe for use from multiple goroutines.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create settings table: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// LoadSettings reads the persisted settings, substituting defaults for
// absent keys.
func (s *Store) LoadSettings() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Settings{DelayMs: 500, SellDiscountRate: 0.02}
	if v, ok, err := s.get("amount"); err != nil {
		return out, err
	} else if ok {
		out.Amount, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok, err := s.get("count"); err != nil {
		return out, err
	} else if ok {
		out.Count, _ = strconv.Atoi(v)
	}
	if v, ok, err := s.get("delayMs"); err != nil {
		return out, err
	} else if ok {
		out.DelayMs, _ = strconv.Atoi(v)
	}
	if v, ok, err := s.get("sellDiscountRate"); err != nil {
		return out, err
	} else if ok {
		out.SellDiscountRate, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok, err := s.get("smartTradingMode"); err != nil {
		return out, err
	} else if ok {
		out.SmartTradingMode = v == "true"
	}
	return out, nil
}

// SaveSettings persists the settings.
func (s *Store) SaveSettings(set Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs := map[string]string{
		"amount":           strconv.FormatFloat(set.Amount, 'f', -1, 64),
		"count":            strconv.Itoa(set.Count),
		"delayMs":          strconv.Itoa(set.DelayMs),
		"sellDiscountRate": strconv.FormatFloat(set.SellDiscountRate, 'f', -1, 64),
		"smartTradingMode": strconv.FormatBool(set.SmartTradingMode),
	}
	for k, v := range pairs {
		if err := s.set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// DailyCount returns the confirmed-trade counter for now's date; a stored
// counter from an earlier date reads as zero.
func (s *Store) DailyCount(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dailyCountLocked(now)
}

func (s *Store) dailyCountLocked(now time.Time) (int, error) {
	date, ok, err := s.get("dailyDate")
	if err != nil {
		return 0, err
	}
	if !ok || date != now.Format(dateLayout) {
		return 0, nil
	}
	v, ok, err := s.get("dailyCount")
	if err != nil || !ok {
		return 0, err
	}
	n, _ := strconv.Atoi(v)
	return n, nil
}

// IncrementDailyCount bumps the counter for now's date, rolling it over
// when the stored date is stale, and returns the new value.
func (s *Store) IncrementDailyCount(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.dailyCountLocked(now)
	if err != nil {
		return 0, err
	}
	n++
	if err := s.set("dailyDate", now.Format(dateLayout)); err != nil {
		return 0, err
	}
	if err := s.set("dailyCount", strconv.Itoa(n)); err != nil {
		return 0, err
	}
	return n, nil
}

// ResetDailyCount zeroes the counter for now's date. The midnight cron job
// calls this so the panel shows a fresh counter without waiting for the
// first trade of the day.
func (s *Store) ResetDailyCount(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.set("dailyDate", now.Format(dateLayout)); err != nil {
		return err
	}
	return s.set("dailyCount", "0")
}
