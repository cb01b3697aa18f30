package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/bugnest/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Projects ---

const projectColumns = `id, name, api_key, created_at, updated_at`

func (s *PostgresStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.APIKey, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetProjectByAPIKey(ctx context.Context, apiKey string) (*models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE api_key = $1`, apiKey,
	).Scan(&p.ID, &p.Name, &p.APIKey, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project by api key: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, project *models.Project) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO projects (name, api_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		project.Name, project.APIKey, project.CreatedAt, project.UpdatedAt,
	).Scan(&project.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	scopes := key.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, project_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.ProjectID, key.Name, key.KeyHash, key.KeyPrefix, scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, projectID int64) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE project_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, projectID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND project_id = $2 AND deleted_at IS NULL`, id, projectID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.ProjectID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Issues ---

const issueColumns = `id, api_key, type, fingerprint, metadata, users, users_count, events_count, created_at, updated_at`

func scanIssue(row pgx.Row) (*models.Issue, error) {
	var i models.Issue
	err := row.Scan(&i.ID, &i.APIKey, &i.Type, &i.Fingerprint, &i.Metadata,
		&i.Users, &i.UsersCount, &i.EventsCount, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if i.Users == nil {
		i.Users = []string{}
	}
	return &i, nil
}

func (s *PostgresStore) FindIssueByFingerprint(ctx context.Context, apiKey, fingerprint string) (*models.Issue, error) {
	issue, err := scanIssue(s.pool.QueryRow(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE api_key = $1 AND fingerprint = $2`, apiKey, fingerprint))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find issue by fingerprint: %w", err)
	}
	return issue, nil
}

// SaveIssue writes the aggregated issue state and the event that produced it
// in a single transaction. An issue with ID 0 is inserted; if another writer
// created the same (api_key, fingerprint) first, the counters are merged.
func (s *PostgresStore) SaveIssue(ctx context.Context, issue *models.Issue, event *models.Event) (*models.Issue, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin save issue: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	users := issue.Users
	if users == nil {
		users = []string{}
	}

	var saved *models.Issue
	if issue.ID == 0 {
		saved, err = scanIssue(tx.QueryRow(ctx,
			`INSERT INTO issues (api_key, type, fingerprint, metadata, users, users_count, events_count, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (api_key, fingerprint) DO UPDATE SET
			   events_count = issues.events_count + EXCLUDED.events_count,
			   users_count = issues.users_count + EXCLUDED.users_count,
			   updated_at = GREATEST(issues.updated_at, EXCLUDED.updated_at)
			 RETURNING `+issueColumns,
			issue.APIKey, issue.Type, issue.Fingerprint, issue.Metadata, users,
			issue.UsersCount, issue.EventsCount, issue.CreatedAt, issue.UpdatedAt))
	} else {
		saved, err = scanIssue(tx.QueryRow(ctx,
			`UPDATE issues SET users = $2, users_count = $3, events_count = $4, updated_at = $5
			 WHERE id = $1
			 RETURNING `+issueColumns,
			issue.ID, users, issue.UsersCount, issue.EventsCount, issue.UpdatedAt))
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("save issue: %w", err)
	}

	event.IssueID = saved.ID
	_, err = tx.Exec(ctx,
		`INSERT INTO events (id, api_key, issue_id, type, severity, device, user_id, detail, occurred_at, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.APIKey, event.IssueID, event.Type, string(event.Severity),
		event.Device, event.User, event.Detail, event.Timestamp, event.ReceivedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit save issue: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) GetIssue(ctx context.Context, id int64) (*models.Issue, error) {
	issue, err := scanIssue(s.pool.QueryRow(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return issue, nil
}

func (s *PostgresStore) ListIssues(ctx context.Context, filter IssueFilter) ([]*models.Issue, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"api_key = $1"}
	args := []any{filter.APIKey}
	argIdx := 2

	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, filter.Type)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("updated_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, fmt.Sprintf("updated_at <= $%d", argIdx))
		args = append(args, filter.Until)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM issues WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count issues: %w", err)
	}

	// Normalize pagination
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM issues WHERE %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		issueColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	issues := []*models.Issue{}
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, total, rows.Err()
}

// DeleteIssue removes an issue. Events and silence rows cascade.
func (s *PostgresStore) DeleteIssue(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM issues WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Events ---

func (s *PostgresStore) GetLatestEvents(ctx context.Context, issueID int64, limit int) ([]*models.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, api_key, issue_id, type, severity, device, user_id, detail, occurred_at, received_at
		 FROM events WHERE issue_id = $1
		 ORDER BY occurred_at DESC, received_at DESC LIMIT $2`, issueID, limit)
	if err != nil {
		return nil, fmt.Errorf("get latest events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		var severity string
		if err := rows.Scan(&e.ID, &e.APIKey, &e.IssueID, &e.Type, &severity, &e.Device,
			&e.User, &e.Detail, &e.Timestamp, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Severity = models.Level(severity)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// scopeConditions returns the WHERE terms for scope, numbered from $1.
func scopeConditions(scope EventScope) ([]string, []any) {
	var conditions []string
	var args []any
	if scope.IssueID != 0 {
		args = append(args, scope.IssueID)
		conditions = append(conditions, fmt.Sprintf("issue_id = $%d", len(args)))
	}
	if scope.APIKey != "" {
		args = append(args, scope.APIKey)
		conditions = append(conditions, fmt.Sprintf("api_key = $%d", len(args)))
	}
	return conditions, args
}

func windowQuery(scope EventScope, start, end time.Time) (string, []any, error) {
	conditions, args := scopeConditions(scope)
	if len(conditions) == 0 {
		return "", nil, fmt.Errorf("event scope requires an issue id or api key")
	}
	args = append(args, start, end)
	conditions = append(conditions,
		fmt.Sprintf("occurred_at >= $%d", len(args)-1),
		fmt.Sprintf("occurred_at < $%d", len(args)))
	return strings.Join(conditions, " AND "), args, nil
}

// CountEventsByBucket counts events in [start, end) grouped by the UTC start
// of each unit. Buckets with no events are absent from the result.
func (s *PostgresStore) CountEventsByBucket(ctx context.Context, scope EventScope, start, end time.Time, unit BucketUnit) (map[time.Time]int64, error) {
	if unit != BucketHour && unit != BucketDay {
		return nil, fmt.Errorf("count events by bucket: unsupported unit %q", unit)
	}
	where, args, err := windowQuery(scope, start, end)
	if err != nil {
		return nil, fmt.Errorf("count events by bucket: %w", err)
	}
	args = append(args, string(unit))

	query := fmt.Sprintf(
		`SELECT date_trunc($%d::text, occurred_at AT TIME ZONE 'UTC') AS bucket, COUNT(*)
		 FROM events WHERE %s GROUP BY bucket`, len(args), where)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count events by bucket: %w", err)
	}
	defer rows.Close()

	counts := make(map[time.Time]int64)
	for rows.Next() {
		var bucket time.Time
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan bucket count: %w", err)
		}
		counts[bucket.UTC()] = count
	}
	return counts, rows.Err()
}

// CountEventsInWindow counts events in [start, end).
func (s *PostgresStore) CountEventsInWindow(ctx context.Context, scope EventScope, start, end time.Time) (int64, error) {
	where, args, err := windowQuery(scope, start, end)
	if err != nil {
		return 0, fmt.Errorf("count events in window: %w", err)
	}

	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events WHERE "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events in window: %w", err)
	}
	return count, nil
}

// --- Notification Rules ---

const ruleColumns = `id, project_id, name, data, white_list, black_list, level, interval_secs, open, created_at, updated_at`

func scanRule(row pgx.Row) (*models.NotificationRule, error) {
	var r models.NotificationRule
	var level string
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Data, &r.WhiteList, &r.BlackList,
		&level, &r.Interval, &r.Open, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Level = models.Level(level)
	return &r, nil
}

func (s *PostgresStore) ListRules(ctx context.Context, projectID int64) ([]*models.NotificationRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM notification_rules WHERE project_id = $1 ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	rules := []*models.NotificationRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *PostgresStore) GetRule(ctx context.Context, id, projectID int64) (*models.NotificationRule, error) {
	r, err := scanRule(s.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM notification_rules WHERE id = $1 AND project_id = $2`, id, projectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) CreateRule(ctx context.Context, rule *models.NotificationRule) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO notification_rules (project_id, name, data, white_list, black_list, level, interval_secs, open, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		rule.ProjectID, rule.Name, rule.Data, listOrEmpty(rule.WhiteList), listOrEmpty(rule.BlackList),
		string(rule.Level), rule.Interval, rule.Open, rule.CreatedAt, rule.UpdatedAt,
	).Scan(&rule.ID)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRule(ctx context.Context, rule *models.NotificationRule) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notification_rules SET name = $3, data = $4, white_list = $5, black_list = $6,
		   level = $7, interval_secs = $8, open = $9, updated_at = $10
		 WHERE id = $1 AND project_id = $2`,
		rule.ID, rule.ProjectID, rule.Name, rule.Data, listOrEmpty(rule.WhiteList), listOrEmpty(rule.BlackList),
		string(rule.Level), rule.Interval, rule.Open, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteRule(ctx context.Context, id, projectID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notification_rules WHERE id = $1 AND project_id = $2`, id, projectID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func listOrEmpty(items []models.RuleListItem) []models.RuleListItem {
	if items == nil {
		return []models.RuleListItem{}
	}
	return items
}

// --- Notification Settings ---

func (s *PostgresStore) GetSetting(ctx context.Context, projectID int64) (*models.NotificationSetting, error) {
	var st models.NotificationSetting
	err := s.pool.QueryRow(ctx,
		`SELECT project_id, emails, browser, webhooks, updated_at
		 FROM notification_settings WHERE project_id = $1`, projectID,
	).Scan(&st.ProjectID, &st.Emails, &st.Browser, &st.Webhooks, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get setting: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) UpsertSetting(ctx context.Context, setting *models.NotificationSetting) error {
	emails := setting.Emails
	if emails == nil {
		emails = []models.EmailTarget{}
	}
	webhooks := setting.Webhooks
	if webhooks == nil {
		webhooks = []models.WebhookTarget{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notification_settings (project_id, emails, browser, webhooks, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (project_id) DO UPDATE SET
		   emails = EXCLUDED.emails,
		   browser = EXCLUDED.browser,
		   webhooks = EXCLUDED.webhooks,
		   updated_at = EXCLUDED.updated_at`,
		setting.ProjectID, emails, setting.Browser, webhooks, setting.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

// --- Silence state ---

// TryFireSilence records a firing of ruleID for issueID at now unless the
// previous firing is less than interval ago. It reports whether the rule may
// fire. The check and the write are one statement, so concurrent callers for
// the same pair cannot both win. A zero interval never silences.
func (s *PostgresStore) TryFireSilence(ctx context.Context, ruleID, issueID int64, interval time.Duration, now time.Time) (bool, error) {
	if interval <= 0 {
		return true, nil
	}
	var fired int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO notification_silences (rule_id, issue_id, last_fired_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (rule_id, issue_id) DO UPDATE SET last_fired_at = EXCLUDED.last_fired_at
		 WHERE notification_silences.last_fired_at <= EXCLUDED.last_fired_at - make_interval(secs => $4::double precision)
		 RETURNING rule_id`,
		ruleID, issueID, now, interval.Seconds(),
	).Scan(&fired)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("try fire silence: %w", err)
	}
	return true, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
