// Package journal keeps a SQLite history of top detections and motion state
// changes, fed from the event bus.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vzahanych/camsense/internal/inference"
	"github.com/vzahanych/camsense/internal/service"
)

// Config contains journal settings
type Config struct {
	Path string
	// MinInterval limits detections to one row per interval
	MinInterval time.Duration
	Retention   time.Duration
	// PruneInterval is how often rows older than Retention are deleted
	PruneInterval time.Duration
}

// Detection is one recorded top prediction
type Detection struct {
	ID         string                `json:"id"`
	Label      string                `json:"label"`
	Score      float32               `json:"score"`
	Box        inference.BoundingBox `json:"box"`
	FrameSeq   uint64                `json:"frame_seq"`
	LatencyMs  float64               `json:"latency_ms"`
	DetectedAt time.Time             `json:"detected_at"`
}

// MotionChange is one recorded motion state transition
type MotionChange struct {
	ID              string    `json:"id"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Label           string    `json:"label"`
	SensorTimestamp int64     `json:"sensor_timestamp"`
	ChangedAt       time.Time `json:"changed_at"`
}

// Entry is a row of the merged history
type Entry struct {
	Kind  string    `json:"kind"` // detection or motion
	ID    string    `json:"id"`
	At    time.Time `json:"at"`
	Label string    `json:"label"`
	Score *float32  `json:"score,omitempty"`
}

// Journal is the history service
type Journal struct {
	*service.ServiceBase

	cfg Config
	db  *Database

	mu            sync.Mutex
	lastDetection time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the journal database
func New(cfg Config, base *service.ServiceBase) (*Journal, error) {
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}
	db, err := NewDatabase(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &Journal{ServiceBase: base, cfg: cfg, db: db}, nil
}

// Start subscribes to detection and motion events and starts pruning
func (j *Journal) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel

	if bus := j.GetEventBus(); bus != nil {
		onErr := func(err error) { j.LogWarn("Failed to journal event", "error", err) }
		bus.SubscribeWithHandler(runCtx, service.EventTypeDetection, j.handleDetection, onErr)
		bus.SubscribeWithHandler(runCtx, service.EventTypeMotionChanged, j.handleMotion, onErr)
	}

	j.wg.Add(1)
	go j.pruneLoop(runCtx)

	j.GetStatus().SetStatus(service.StatusRunning)
	j.LogInfo("Journal started", "path", j.db.Path(), "retention", j.cfg.Retention)
	return nil
}

// Stop stops pruning and closes the database
func (j *Journal) Stop(ctx context.Context) error {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
	j.GetStatus().SetStatus(service.StatusStopped)
	return j.db.Close()
}

// Ping checks the database is reachable
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.DB().PingContext(ctx)
}

func (j *Journal) handleDetection(ctx context.Context, ev service.Event) error {
	d := Detection{DetectedAt: ev.Timestamp}
	d.Label, _ = ev.Data["label"].(string)
	d.Score, _ = ev.Data["score"].(float32)
	d.Box, _ = ev.Data["box"].(inference.BoundingBox)
	d.FrameSeq, _ = ev.Data["sequence"].(uint64)
	d.LatencyMs, _ = ev.Data["latency_ms"].(float64)
	if d.Label == "" {
		return nil
	}
	_, err := j.RecordDetection(ctx, d)
	return err
}

func (j *Journal) handleMotion(ctx context.Context, ev service.Event) error {
	m := MotionChange{ChangedAt: ev.Timestamp}
	m.From, _ = ev.Data["from"].(string)
	m.To, _ = ev.Data["to"].(string)
	m.Label, _ = ev.Data["label"].(string)
	m.SensorTimestamp, _ = ev.Data["sensor_timestamp"].(int64)
	return j.RecordMotion(ctx, m)
}

// RecordDetection stores d unless a detection was stored less than
// MinInterval earlier. Returns whether a row was written.
func (j *Journal) RecordDetection(ctx context.Context, d Detection) (bool, error) {
	if d.DetectedAt.IsZero() {
		d.DetectedAt = time.Now()
	}

	j.mu.Lock()
	if !j.lastDetection.IsZero() && d.DetectedAt.Sub(j.lastDetection) < j.cfg.MinInterval {
		j.mu.Unlock()
		return false, nil
	}
	j.lastDetection = d.DetectedAt
	j.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	_, err := j.db.DB().ExecContext(ctx, `
		INSERT INTO detections (id, label, score, box_left, box_top, box_right, box_bottom, frame_seq, latency_ms, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Label, d.Score, d.Box.Left, d.Box.Top, d.Box.Right, d.Box.Bottom,
		int64(d.FrameSeq), d.LatencyMs, d.DetectedAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to save detection: %w", err)
	}
	return true, nil
}

// RecordMotion stores a motion transition
func (j *Journal) RecordMotion(ctx context.Context, m MotionChange) error {
	if m.ChangedAt.IsZero() {
		m.ChangedAt = time.Now()
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	_, err := j.db.DB().ExecContext(ctx, `
		INSERT INTO motion_changes (id, from_state, to_state, label, sensor_ts, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.From, m.To, m.Label, m.SensorTimestamp, m.ChangedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save motion change: %w", err)
	}
	return nil
}

// Recent returns the newest entries of both kinds, newest first
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.DB().QueryContext(ctx, `
		SELECT kind, id, at, label, score FROM (
			SELECT 'detection' AS kind, id, detected_at AS at, label, score FROM detections
			UNION ALL
			SELECT 'motion' AS kind, id, changed_at AS at, label, NULL AS score FROM motion_changes
		)
		ORDER BY at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at int64
		var score sql.NullFloat64
		if err := rows.Scan(&e.Kind, &e.ID, &at, &e.Label, &score); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		e.At = time.Unix(0, at)
		if score.Valid {
			s := float32(score.Float64)
			e.Score = &s
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Detections returns recent detections, optionally filtered by label
func (j *Journal) Detections(ctx context.Context, label string, limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, label, score, box_left, box_top, box_right, box_bottom, frame_seq, latency_ms, detected_at
		FROM detections`
	args := []interface{}{}
	if label != "" {
		query += ` WHERE label = ?`
		args = append(args, label)
	}
	query += ` ORDER BY detected_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var out []Detection
	for rows.Next() {
		var d Detection
		var seq, at int64
		if err := rows.Scan(&d.ID, &d.Label, &d.Score, &d.Box.Left, &d.Box.Top, &d.Box.Right, &d.Box.Bottom,
			&seq, &d.LatencyMs, &at); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		d.FrameSeq = uint64(seq)
		d.DetectedAt = time.Unix(0, at)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Prune deletes rows older than the retention period
func (j *Journal) Prune(ctx context.Context, now time.Time) (int64, error) {
	if j.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-j.cfg.Retention).UnixNano()

	var total int64
	for _, q := range []string{
		`DELETE FROM detections WHERE detected_at < ?`,
		`DELETE FROM motion_changes WHERE changed_at < ?`,
	} {
		res, err := j.db.DB().ExecContext(ctx, q, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to prune journal: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (j *Journal) pruneLoop(ctx context.Context) {
	defer j.wg.Done()
	ticker := time.NewTicker(j.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := j.Prune(ctx, now)
			if err != nil {
				j.LogWarn("Journal pruning failed", "error", err)
				continue
			}
			if n > 0 {
				j.LogInfo("Pruned journal", "rows", n)
			}
		}
	}
}
