// Package postgres persists engine events and per-cycle optimization
// telemetry. The engine runs fine without it; callers treat a nil
// client as "persistence disabled".
package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/trafficlab/greenwave/internal/traffic"
)

// EventRow represents an engine event stored in Postgres.
type EventRow struct {
	EventID        int64                  `json:"event_id"`
	Timestamp      time.Time              `json:"ts"`
	Level          string                 `json:"level"`
	Event          string                 `json:"event"`
	Message        *string                `json:"msg,omitempty"`
	Fields         map[string]interface{} `json:"fields,omitempty"`
	IntersectionID *string                `json:"intersection_id,omitempty"`
}

// CycleRow represents one completed optimization cycle.
type CycleRow struct {
	CycleID        int64     `json:"cycle_id"`
	Timestamp      time.Time `json:"ts"`
	IntersectionID string    `json:"intersection_id"`
	NSGreen        int       `json:"ns_green"`
	EWGreen        int       `json:"ew_green"`
	CycleSeconds   int       `json:"cycle_seconds"`
	Efficiency     float64   `json:"efficiency"`
	Confidence     float64   `json:"confidence"`
	Reasoning      string    `json:"reasoning"`
	Vehicles       int       `json:"vehicles"`
	Predictions    int       `json:"predictions"`
	LightChanges   int       `json:"light_changes"`
}

// Client manages the Postgres connection for event and cycle storage.
type Client struct {
	db *sql.DB

	mu          sync.Mutex
	errorLogged bool
}

// New creates a new Postgres client using environment variables.
func New() (*Client, error) {
	host := getEnv("PGHOST", "127.0.0.1")
	port := getEnv("PGPORT", "5432")
	user := getEnv("PGUSER", "greenwave")
	dbname := getEnv("PGDATABASE", "greenwave")
	password := os.Getenv("PGPASSWORD")

	var connStr string
	if password != "" {
		connStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			host, port, user, password, dbname)
	} else {
		connStr = fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
			host, port, user, dbname)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{db: db}

	if err := client.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return client, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS events (
			event_id        BIGSERIAL PRIMARY KEY,
			ts              TIMESTAMPTZ NOT NULL,
			level           TEXT NOT NULL,
			event           TEXT NOT NULL,
			msg             TEXT,
			fields          JSONB,
			intersection_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_intersection ON events(intersection_id);

		CREATE TABLE IF NOT EXISTS cycles (
			cycle_id        BIGSERIAL PRIMARY KEY,
			ts              TIMESTAMPTZ NOT NULL,
			intersection_id TEXT NOT NULL,
			ns_green        INT NOT NULL,
			ew_green        INT NOT NULL,
			cycle_seconds   INT NOT NULL,
			efficiency      DOUBLE PRECISION NOT NULL,
			confidence      DOUBLE PRECISION NOT NULL,
			reasoning       TEXT,
			vehicles        INT NOT NULL,
			predictions     INT NOT NULL,
			light_changes   INT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cycles_ts ON cycles(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_cycles_intersection ON cycles(intersection_id);
	`
	_, err := c.db.Exec(query)
	return err
}

// AppendEvent inserts an engine event.
func (c *Client) AppendEvent(ts time.Time, level, event, msg string, fields map[string]interface{}, intersectionID string) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	var intersectionPtr *string
	if intersectionID != "" {
		intersectionPtr = &intersectionID
	}

	query := `
		INSERT INTO events (ts, level, event, msg, fields, intersection_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = c.db.Exec(query, ts, level, event, msgPtr, fieldsJSON, intersectionPtr)
	return err
}

// AppendCycle inserts one completed optimization cycle.
func (c *Client) AppendCycle(ts time.Time, intersectionID string, result traffic.OptimizationResult, metrics traffic.CycleMetrics) error {
	query := `
		INSERT INTO cycles (ts, intersection_id, ns_green, ew_green, cycle_seconds,
			efficiency, confidence, reasoning, vehicles, predictions, light_changes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := c.db.Exec(query, ts, intersectionID,
		result.Plan.NorthSouth.GreenSeconds, result.Plan.EastWest.GreenSeconds,
		result.Plan.CycleLength(), result.EfficiencyScore, result.Confidence,
		result.Reasoning, metrics.VehiclesProcessed, metrics.PredictionsMade,
		metrics.LightChanges)
	return err
}

// Record implements traffic.TelemetrySink. Failures are swallowed
// after a single logged error; telemetry is fire-and-forget.
func (c *Client) Record(intersectionID string, result traffic.OptimizationResult, metrics traffic.CycleMetrics) {
	if err := c.AppendCycle(time.Now().UTC(), intersectionID, result, metrics); err != nil {
		c.mu.Lock()
		logged := c.errorLogged
		c.errorLogged = true
		c.mu.Unlock()
		if !logged {
			fmt.Fprintf(os.Stderr, "postgres: cycle append failed: %v\n", err)
		}
	}
}

// QueryCycles returns the last N cycles for an intersection in
// descending order by timestamp. An empty intersection id matches all.
func (c *Client) QueryCycles(intersectionID string, limit int) ([]CycleRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 10000 {
		limit = 10000
	}

	query := `
		SELECT cycle_id, ts, intersection_id, ns_green, ew_green, cycle_seconds,
			efficiency, confidence, reasoning, vehicles, predictions, light_changes
		FROM cycles
		WHERE ($1 = '' OR intersection_id = $1)
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := c.db.Query(query, intersectionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []CycleRow
	for rows.Next() {
		var r CycleRow
		var reasoning sql.NullString

		if err := rows.Scan(&r.CycleID, &r.Timestamp, &r.IntersectionID,
			&r.NSGreen, &r.EWGreen, &r.CycleSeconds, &r.Efficiency,
			&r.Confidence, &reasoning, &r.Vehicles, &r.Predictions,
			&r.LightChanges); err != nil {
			return nil, err
		}
		if reasoning.Valid {
			r.Reasoning = reasoning.String
		}

		cycles = append(cycles, r)
	}

	return cycles, rows.Err()
}

// QueryEvents returns the last N events in descending order by timestamp.
func (c *Client) QueryEvents(limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 10000 {
		limit = 10000
	}

	query := `
		SELECT event_id, ts, level, event, msg, fields, intersection_id
		FROM events
		ORDER BY ts DESC
		LIMIT $1
	`
	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg, intersectionID sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &intersectionID); err != nil {
			return nil, err
		}

		if msg.Valid {
			e.Message = &msg.String
		}
		if intersectionID.Valid {
			e.IntersectionID = &intersectionID.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
