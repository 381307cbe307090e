package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mailblast/internal/campaign"
	"mailblast/internal/classify"
	logx "mailblast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveRun(ctx context.Context, run campaign.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaign_runs(campaign_id, user_id, run_id, status,
		   total_recipients, total_sent, total_failed, total_bounced, cursor,
		   started_at, completed_at, updated_at, last_error)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(campaign_id) DO UPDATE SET
		   user_id=excluded.user_id, run_id=excluded.run_id, status=excluded.status,
		   total_recipients=excluded.total_recipients, total_sent=excluded.total_sent,
		   total_failed=excluded.total_failed, total_bounced=excluded.total_bounced,
		   cursor=excluded.cursor, started_at=excluded.started_at,
		   completed_at=excluded.completed_at, updated_at=excluded.updated_at,
		   last_error=excluded.last_error`,
		run.CampaignID, run.UserID, run.RunID, string(run.Status),
		run.TotalRecipients, run.TotalSent, run.TotalFailed, run.TotalBounced, run.Cursor,
		timeStr(run.StartedAt), timeStr(run.CompletedAt), timeStr(run.UpdatedAt), nullStr(run.LastError),
	)
	return err
}

func (s *sqliteStore) GetRun(ctx context.Context, campaignID string) (campaign.Run, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT campaign_id, user_id, run_id, status,
		   total_recipients, total_sent, total_failed, total_bounced, cursor,
		   started_at, completed_at, updated_at, last_error
		 FROM campaign_runs WHERE campaign_id = ?`, campaignID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.Run{}, false, nil
	}
	if err != nil {
		return campaign.Run{}, false, err
	}
	return run, true, nil
}

func (s *sqliteStore) ListRuns(ctx context.Context) ([]campaign.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT campaign_id, user_id, run_id, status,
		   total_recipients, total_sent, total_failed, total_bounced, cursor,
		   started_at, completed_at, updated_at, last_error
		 FROM campaign_runs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []campaign.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendOutcome(ctx context.Context, rec OutcomeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes(id, campaign_id, run_id, recipient, classification, reason, at)
		 VALUES(?,?,?,?,?,?,?)`,
		rec.ID, rec.CampaignID, rec.RunID, rec.Recipient, rec.Classification,
		nullStr(rec.Reason), rec.At.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ListOutcomes(ctx context.Context, campaignID, classification string, limit int) ([]OutcomeRecord, error) {
	q := `SELECT id, campaign_id, run_id, recipient, classification, COALESCE(reason, ''), at
	      FROM outcomes WHERE campaign_id = ?`
	args := []any{campaignID}
	if classification != "" {
		q += ` AND classification = ?`
		args = append(args, classification)
	}
	q += ` ORDER BY at`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var rec OutcomeRecord
		var at string
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.RunID, &rec.Recipient,
			&rec.Classification, &rec.Reason, &at); err != nil {
			return nil, err
		}
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *sqliteStore) BouncedRecipients(ctx context.Context, campaignID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT recipient FROM outcomes WHERE campaign_id = ? AND classification = ?`,
		campaignID, string(classify.Bounced))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := map[string]struct{}{}
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		set[r] = struct{}{}
	}
	return set, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (campaign.Run, error) {
	var run campaign.Run
	var status, startedAt, completedAt, updatedAt string
	var lastErr sql.NullString
	err := row.Scan(&run.CampaignID, &run.UserID, &run.RunID, &status,
		&run.TotalRecipients, &run.TotalSent, &run.TotalFailed, &run.TotalBounced, &run.Cursor,
		&startedAt, &completedAt, &updatedAt, &lastErr)
	if err != nil {
		return campaign.Run{}, err
	}
	run.Status = campaign.Status(status)
	run.StartedAt = parseTime(startedAt)
	run.CompletedAt = parseTime(completedAt)
	run.UpdatedAt = parseTime(updatedAt)
	run.LastError = lastErr.String
	return run, nil
}

func timeStr(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
