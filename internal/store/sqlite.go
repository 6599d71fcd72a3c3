package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dataSourceName, ":memory:") {
		// Every new connection to :memory: is a fresh, empty database.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS state_slots (
        owner_id INTEGER NOT NULL,
        slot_key TEXT NOT NULL,
        value_json TEXT NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (owner_id, slot_key),
        FOREIGN KEY (owner_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS sample_rows (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        fields_json TEXT NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetUserByExternalID(externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, created_at FROM users WHERE external_user_id = ?", externalUserID).Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(externalUserID, passwordHash string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (external_user_id, password_hash) VALUES (?, ?)", externalUserID, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.getUserByID(id)
}

func (s *SQLiteStore) getUserByID(id int64) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, created_at FROM users WHERE id = ?", id).Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// State slot methods

// loadSlot decodes the JSON value stored under (ownerID, key) into dst.
// It reports false when the slot is absent or holds malformed JSON; the
// caller then starts from an empty array.
func (s *SQLiteStore) loadSlot(ownerID int64, key string, dst any) (bool, error) {
	var raw string
	err := s.db.QueryRow("SELECT value_json FROM state_slots WHERE owner_id = ? AND slot_key = ?", ownerID, key).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to query slot %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		log.Printf("Warning: malformed %s slot for owner %d, starting empty: %v", key, ownerID, err)
		return false, nil
	}
	return true, nil
}

func (s *SQLiteStore) LoadMessages(ownerID int64) ([]Message, error) {
	var messages []Message
	ok, err := s.loadSlot(ownerID, MessagesSlot, &messages)
	if err != nil {
		return nil, err
	}
	if !ok || messages == nil {
		return []Message{}, nil
	}
	return messages, nil
}

func (s *SQLiteStore) LoadAnalyses(ownerID int64) ([]Analysis, error) {
	var analyses []Analysis
	ok, err := s.loadSlot(ownerID, AnalysesSlot, &analyses)
	if err != nil {
		return nil, err
	}
	if !ok || analyses == nil {
		return []Analysis{}, nil
	}
	return analyses, nil
}

func saveSlot(tx *sql.Tx, ownerID int64, key string, value any) error {
	enc, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal slot %s: %w", key, err)
	}
	_, err = tx.Exec(`
        INSERT INTO state_slots (owner_id, slot_key, value_json, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(owner_id, slot_key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at
    `, ownerID, key, string(enc), time.Now())
	if err != nil {
		return fmt.Errorf("failed to write slot %s: %w", key, err)
	}
	return nil
}

// LoadSequence returns the highest analysis ordinal handed out so far, or 0.
func (s *SQLiteStore) LoadSequence(ownerID int64) (int, error) {
	var seq int
	if _, err := s.loadSlot(ownerID, SequenceSlot, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// SaveConversation writes every conversation slot in one transaction.
func (s *SQLiteStore) SaveConversation(ownerID int64, messages []Message, analyses []Analysis, sequence int) error {
	if messages == nil {
		messages = []Message{}
	}
	if analyses == nil {
		analyses = []Analysis{}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin conversation save: %w", err)
	}
	defer tx.Rollback()

	if err := saveSlot(tx, ownerID, MessagesSlot, messages); err != nil {
		return err
	}
	if err := saveSlot(tx, ownerID, AnalysesSlot, analyses); err != nil {
		return err
	}
	if err := saveSlot(tx, ownerID, SequenceSlot, sequence); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation save: %w", err)
	}
	return nil
}

// SampleRow methods (data overview)
func (s *SQLiteStore) createSampleRow(row *SampleRow) error {
	fieldsBytes, err := json.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal sample row: %w", err)
	}

	stmt, err := s.db.Prepare("INSERT INTO sample_rows (fields_json) VALUES (?)")
	if err != nil {
		return fmt.Errorf("failed to prepare sample_row insert: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(string(fieldsBytes))
	if err != nil {
		return fmt.Errorf("failed to execute sample_row insert: %w", err)
	}
	row.ID, _ = res.LastInsertId()
	return nil
}

// GetSampleRows returns up to limit rows in ingestion order. A limit <= 0
// returns every row.
func (s *SQLiteStore) GetSampleRows(limit int) ([]SampleRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query("SELECT id, fields_json FROM sample_rows ORDER BY id ASC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sample_rows: %w", err)
	}
	defer rows.Close()

	var out []SampleRow
	for rows.Next() {
		var row SampleRow
		var fieldsJSON string
		if err := rows.Scan(&row.ID, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan sample_row: %w", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &row.Fields); err != nil {
			log.Printf("Warning: failed to unmarshal sample row %d: %v. Skipping.", row.ID, err)
			continue
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClearSampleRows() error {
	_, err := s.db.Exec("DELETE FROM sample_rows")
	if err != nil {
		return fmt.Errorf("failed to delete sample_rows: %w", err)
	}
	_, err = s.db.Exec("DELETE FROM sqlite_sequence WHERE name='sample_rows'")
	if err != nil && !strings.Contains(err.Error(), "no such table") {
		log.Printf("Warning: could not reset sequence for sample_rows: %v", err)
	}
	return nil
}

// IngestSampleDataFromFile reads a Markdown table (header, separator, rows)
// and replaces the stored sample dataset with its rows.
func (s *SQLiteStore) IngestSampleDataFromFile(filePath string) (int, error) {
	contentBytes, err := os.ReadFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read data file %s: %w", filePath, err)
	}

	rows, err := ParseMarkdownTable(string(contentBytes))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		log.Println("No rows parsed from data file. Ensure it's a Markdown table with a header row.")
		return 0, nil
	}

	if err := s.ClearSampleRows(); err != nil {
		return 0, fmt.Errorf("failed to clear existing sample rows: %w", err)
	}

	count := 0
	for i := range rows {
		if err := s.createSampleRow(&rows[i]); err != nil {
			log.Printf("Failed to store sample row %d: %v. Skipping.", i+1, err)
			continue
		}
		count++
	}
	log.Printf("Successfully ingested %d sample rows.", count)
	return count, nil
}

// ParseMarkdownTable turns "| a | b |" tables into rows keyed by the header
// cells. Rows with a different cell count than the header are skipped.
func ParseMarkdownTable(content string) ([]SampleRow, error) {
	var header []string
	var rows []SampleRow

	for _, line := range strings.Split(content, "\n") {
		trimmedLine := strings.TrimSpace(line)
		if trimmedLine == "" {
			continue
		}
		if !strings.HasPrefix(trimmedLine, "|") || !strings.HasSuffix(trimmedLine, "|") {
			log.Printf("Skipping line not matching table row format: %s", trimmedLine)
			continue
		}

		parts := strings.Split(strings.Trim(trimmedLine, "|"), "|")
		cells := make([]string, len(parts))
		for i, p := range parts {
			cells[i] = strings.TrimSpace(p)
		}

		if header == nil {
			header = cells
			continue
		}
		if isSeparatorRow(cells) {
			continue
		}
		if len(cells) != len(header) {
			log.Printf("Skipping malformed table row (%d cells, want %d): %s", len(cells), len(header), trimmedLine)
			continue
		}

		fields := make(map[string]string, len(header))
		for i, name := range header {
			fields[name] = cells[i]
		}
		rows = append(rows, SampleRow{Fields: fields})
	}

	if header == nil {
		return nil, fmt.Errorf("no table header found")
	}
	return rows, nil
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}
