// Package learning owns the durable append-only execution log. Records are
// written as one JSON object per line to <root>/learning/execution_log.jsonl
// by a single writer goroutine fed from a queue; a sqlite index alongside
// serves aggregate and filtered queries without touching the log file. The
// JSONL file stays the source of truth; the index is derived and rebuildable.
package learning

import (
	"bufio"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/force/core/pkg/force"
)

// ErrorInfo is the serialized failure attached to a record.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Record is one execution log entry.
type Record struct {
	ID           string        `json:"id"`
	Kind         string        `json:"kind"` // "tool" or "pattern"
	RefID        string        `json:"ref_id"`
	ParamsDigest string        `json:"params_digest"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
	DurationMS   int64         `json:"duration_ms"`
	Outcome      force.Outcome `json:"outcome"`
	Error        *ErrorInfo    `json:"error,omitempty"`
	Insights     []string      `json:"insights,omitempty"`
}

// Aggregate is the derived per-component statistics view.
type Aggregate struct {
	UsageCount    int64     `json:"usage_count"`
	SuccessRate   float64   `json:"success_rate"`
	AvgDurationMS float64   `json:"avg_duration_ms"`
	LastSeen      time.Time `json:"last_seen"`
}

// QueryFilter selects records for force_get_insights.
type QueryFilter struct {
	RefID   string        `json:"ref_id,omitempty"`
	Outcome force.Outcome `json:"outcome,omitempty"`
	Since   time.Time     `json:"since,omitempty"`
	Until   time.Time     `json:"until,omitempty"`
	Limit   int           `json:"limit,omitempty"`
}

// DefaultRotationBytes is the log size that triggers gzip rotation.
const DefaultRotationBytes = 64 << 20

// Recorder is the single owner of the append log.
type Recorder struct {
	path    string
	dbPath  string
	maxSize int64
	logger  *slog.Logger

	queue   chan Record
	done    chan struct{}
	drained sync.WaitGroup

	flushMu   sync.Mutex
	flushAcks []chan struct{}

	db *sql.DB

	mu      sync.Mutex // guards file rotation + writes from the writer goroutine
	file    *os.File
	size    int64
	syncGov *rate.Limiter
}

// Open creates or resumes the execution log under <root>/learning.
func Open(root string, rotationBytes int64, logger *slog.Logger) (*Recorder, error) {
	if rotationBytes <= 0 {
		rotationBytes = DefaultRotationBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(root, "learning")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("learning: create %s: %w", dir, err)
	}

	r := &Recorder{
		path:    filepath.Join(dir, "execution_log.jsonl"),
		dbPath:  filepath.Join(dir, "execution_index.db"),
		maxSize: rotationBytes,
		logger:  logger,
		queue:   make(chan Record, 256),
		done:    make(chan struct{}),
		// fsync at most twice a second; a crash loses at most that window.
		syncGov: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("learning: open log: %w", err)
	}
	if info, err := f.Stat(); err == nil {
		r.size = info.Size()
	}
	r.file = f

	db, err := sql.Open("sqlite", r.dbPath)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("learning: open index: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		ref_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		record TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_executions_ref ON executions(ref_id);
	CREATE INDEX IF NOT EXISTS idx_executions_completed ON executions(completed_at);`); err != nil {
		f.Close()
		db.Close()
		return nil, fmt.Errorf("learning: init index schema: %w", err)
	}
	r.db = db

	if err := r.reindexIfEmpty(); err != nil {
		logger.Warn("learning: index rebuild failed", "error", err)
	}

	r.drained.Add(1)
	go r.writeLoop()
	return r, nil
}

// Append enqueues one record for durable write. Records are assigned an ID
// when missing. The call never blocks aggregate readers; it blocks only when
// the write queue is full.
func (r *Recorder) Append(rec Record) {
	if rec.ID == "" {
		rec.ID = "exec_" + uuid.NewString()
	}
	if rec.DurationMS == 0 && !rec.CompletedAt.IsZero() {
		rec.DurationMS = rec.CompletedAt.Sub(rec.StartedAt).Milliseconds()
	}
	select {
	case r.queue <- rec:
	case <-r.done:
	}
}

// Flush blocks until every record enqueued before the call is durable.
func (r *Recorder) Flush() {
	ack := make(chan struct{})
	r.flushMu.Lock()
	r.flushAcks = append(r.flushAcks, ack)
	r.flushMu.Unlock()
	select {
	case r.queue <- Record{ID: flushSentinel}:
		<-ack
	case <-r.done:
	}
}

// Close drains the queue and closes the log and index.
func (r *Recorder) Close() error {
	close(r.done)
	r.drained.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.file.Sync()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	if derr := r.db.Close(); err == nil {
		err = derr
	}
	return err
}

func (r *Recorder) writeLoop() {
	defer r.drained.Done()
	for {
		select {
		case rec := <-r.queue:
			r.handle(rec)
		case <-r.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case rec := <-r.queue:
					r.handle(rec)
				default:
					return
				}
			}
		}
	}
}

const flushSentinel = "__flush__"

func (r *Recorder) handle(rec Record) {
	if rec.ID == flushSentinel {
		r.mu.Lock()
		_ = r.file.Sync()
		r.mu.Unlock()
		r.flushMu.Lock()
		for _, ack := range r.flushAcks {
			close(ack)
		}
		r.flushAcks = nil
		r.flushMu.Unlock()
		return
	}

	line, err := json.Marshal(rec)
	if err != nil {
		r.logger.Error("learning: record not serializable", "id", rec.ID, "error", err)
		return
	}
	line = append(line, '\n')

	r.mu.Lock()
	if _, err := r.file.Write(line); err != nil {
		r.logger.Error("learning: append failed", "id", rec.ID, "error", err)
		r.mu.Unlock()
		return
	}
	r.size += int64(len(line))
	if r.syncGov.Allow() {
		_ = r.file.Sync()
	}
	needRotate := r.size >= r.maxSize
	r.mu.Unlock()

	if err := r.index(rec, string(line)); err != nil {
		r.logger.Error("learning: index insert failed", "id", rec.ID, "error", err)
	}
	if needRotate {
		if err := r.rotate(); err != nil {
			r.logger.Error("learning: rotation failed", "error", err)
		}
	}
}

func (r *Recorder) index(rec Record, raw string) error {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO executions (id, kind, ref_id, outcome, started_at, completed_at, duration_ms, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.RefID, string(rec.Outcome),
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.CompletedAt.UTC().Format(time.RFC3339Nano),
		rec.DurationMS, raw,
	)
	return err
}

// rotate gzips the current log to execution_log-<ts>.jsonl.gz and truncates
// the live file. History files are never modified again.
func (r *Recorder) rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.file.Sync(); err != nil {
		return err
	}
	if err := r.file.Close(); err != nil {
		return err
	}

	stamp := time.Now().UTC().Format("2006-01-02T15-04-05Z")
	archived := filepath.Join(filepath.Dir(r.path), fmt.Sprintf("execution_log-%s.jsonl.gz", stamp))
	if err := gzipFile(r.path, archived); err != nil {
		return err
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = 0
	r.logger.Info("learning: log rotated", "archive", archived)
	return nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// reindexIfEmpty rebuilds the sqlite index from the live JSONL file when the
// index has no rows (fresh index or deleted alongside a restore).
func (r *Recorder) reindexIfEmpty() error {
	var count int64
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM executions`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if err := r.index(rec, string(line)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Aggregate returns the derived statistics for one tool or pattern ID.
func (r *Recorder) Aggregate(refID string) (Aggregate, bool) {
	var agg Aggregate
	var last sql.NullString
	err := r.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(AVG(duration_ms), 0),
		        COALESCE(AVG(CASE WHEN outcome = 'success' THEN 1.0 ELSE 0.0 END), 0),
		        MAX(completed_at)
		 FROM executions WHERE ref_id = ?`, refID,
	).Scan(&agg.UsageCount, &agg.AvgDurationMS, &agg.SuccessRate, &last)
	if err != nil || agg.UsageCount == 0 {
		return Aggregate{}, false
	}
	if last.Valid {
		agg.LastSeen, _ = time.Parse(time.RFC3339Nano, last.String)
	}
	return agg, true
}

// Query returns records matching the filter, newest first.
func (r *Recorder) Query(f QueryFilter) ([]Record, error) {
	q := `SELECT record FROM executions WHERE 1=1`
	var args []any
	if f.RefID != "" {
		q += ` AND ref_id = ?`
		args = append(args, f.RefID)
	}
	if f.Outcome != "" {
		q += ` AND outcome = ?`
		args = append(args, string(f.Outcome))
	}
	if !f.Since.IsZero() {
		q += ` AND completed_at >= ?`
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		q += ` AND completed_at <= ?`
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}
	q += ` ORDER BY completed_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("learning: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Digest computes the canonical sha256 digest of a parameter map; identical
// parameter sets always share a digest regardless of key order.
func Digest(params map[string]any) string {
	if params == nil {
		params = map[string]any{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(b)
	if err != nil {
		canonical = b
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
