package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"visaslot-notifier/pkg/notifier"
)

// PostgresStore keeps preference records in a Postgres table. It satisfies
// the same surface as Store so callers pick a backend at startup.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgres connects to the database and creates the table if needed.
func NewPostgres(connStr string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &PostgresStore{db: db, logger: logger}
	if err := s.init(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("Failed to close database after init error", "error", closeErr)
		}
		return nil, fmt.Errorf("init database: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) init() error {
	_, err := s.db.Exec(`
        CREATE TABLE IF NOT EXISTS subscriber_preferences (
            chat_id BIGINT PRIMARY KEY,
            visa_type TEXT,
            consulate_city TEXT,
            consulate_type TEXT,
            check_interval_seconds BIGINT,
            year_filter JSONB,
            no_slot_alert_sent BOOLEAN,
            notified_slots JSONB,
            active BOOLEAN,
            created_at TIMESTAMPTZ
        )`)
	return err
}

// Close releases the database connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Save upserts one record.
func (s *PostgresStore) Save(ctx context.Context, prefs *notifier.Preferences) error {
	yearFilter, err := json.Marshal(prefs.YearFilter)
	if err != nil {
		return fmt.Errorf("marshal year filter: %w", err)
	}
	notified, err := json.Marshal(prefs.NotifiedSlots)
	if err != nil {
		return fmt.Errorf("marshal notified slots: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO subscriber_preferences (chat_id, visa_type, consulate_city, consulate_type, check_interval_seconds, year_filter, no_slot_alert_sent, notified_slots, active, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (chat_id) DO UPDATE SET
            visa_type=EXCLUDED.visa_type,
            consulate_city=EXCLUDED.consulate_city,
            consulate_type=EXCLUDED.consulate_type,
            check_interval_seconds=EXCLUDED.check_interval_seconds,
            year_filter=EXCLUDED.year_filter,
            no_slot_alert_sent=EXCLUDED.no_slot_alert_sent,
            notified_slots=EXCLUDED.notified_slots,
            active=EXCLUDED.active,
            created_at=EXCLUDED.created_at
    `, prefs.ChatID, prefs.VisaType, prefs.ConsulateCity, prefs.ConsulateType,
		int64(prefs.CheckInterval/time.Second), string(yearFilter),
		prefs.NoSlotAlertSent, string(notified), prefs.Active, prefs.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	s.logger.Debug("Preferences saved", "chat_id", prefs.ChatID)
	return nil
}

// Load fetches one record by chat ID.
func (s *PostgresStore) Load(ctx context.Context, chatID int64) (*notifier.Preferences, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT chat_id, visa_type, consulate_city, consulate_type, check_interval_seconds, year_filter, no_slot_alert_sent, notified_slots, active, created_at
        FROM subscriber_preferences WHERE chat_id=$1`, chatID)
	prefs, err := scanPreferences(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	return prefs, nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *PostgresStore) Delete(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM subscriber_preferences WHERE chat_id=$1`, chatID); err != nil {
		return fmt.Errorf("delete preferences: %w", err)
	}
	return nil
}

// List loads every stored record.
func (s *PostgresStore) List(ctx context.Context) ([]*notifier.Preferences, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT chat_id, visa_type, consulate_city, consulate_type, check_interval_seconds, year_filter, no_slot_alert_sent, notified_slots, active, created_at
        FROM subscriber_preferences`)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var records []*notifier.Preferences
	for rows.Next() {
		prefs, err := scanPreferences(rows)
		if err != nil {
			s.logger.Warn("Skipping unreadable preference row", "error", err)
			continue
		}
		records = append(records, prefs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPreferences(row rowScanner) (*notifier.Preferences, error) {
	var prefs notifier.Preferences
	var intervalSeconds int64
	var yearFilter, notified []byte
	if err := row.Scan(&prefs.ChatID, &prefs.VisaType, &prefs.ConsulateCity, &prefs.ConsulateType,
		&intervalSeconds, &yearFilter, &prefs.NoSlotAlertSent, &notified, &prefs.Active, &prefs.CreatedAt); err != nil {
		return nil, err
	}
	prefs.CheckInterval = time.Duration(intervalSeconds) * time.Second
	if err := json.Unmarshal(yearFilter, &prefs.YearFilter); err != nil {
		return nil, fmt.Errorf("unmarshal year filter: %w", err)
	}
	if err := json.Unmarshal(notified, &prefs.NotifiedSlots); err != nil {
		return nil, fmt.Errorf("unmarshal notified slots: %w", err)
	}
	return &prefs, nil
}
