package persistence

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
)

// PublishTaskRepositoryMSSQL implements task persistence for SQL Server/Azure SQL using database/sql.
type PublishTaskRepositoryMSSQL struct{ db *sql.DB }

func NewPublishTaskRepositoryMSSQL(db *sql.DB) *PublishTaskRepositoryMSSQL {
	return &PublishTaskRepositoryMSSQL{db: db}
}

var _ repository.IPublishTask = (*PublishTaskRepositoryMSSQL)(nil)

// jsonStrings stores a string slice as an NVARCHAR JSON array.
type jsonStrings []string

func (a jsonStrings) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(a))
	return string(b), err
}

func (a *jsonStrings) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("jsonStrings: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(a))
}

func scanPublishTaskMSSQL(row rowScanner) (*model.PublishTask, error) {
	var topics, images jsonStrings
	t, err := scanPublishTask(row, &topics, &images)
	if err != nil {
		return nil, err
	}
	t.Topics = []string(topics)
	t.ImageURLs = []string(images)
	return t, nil
}

func insertedColumns() string {
	cols := strings.Split(publishTaskColumns, ",")
	for i, c := range cols {
		cols[i] = "inserted." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullBool(p *bool) sql.NullBool {
	if p == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *p, Valid: true}
}

func (r *PublishTaskRepositoryMSSQL) Create(ctx context.Context, t *model.PublishTask) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	q := `INSERT INTO dbo.[publish_tasks] (id, flow_id, material_id, material_policy, user_id, account_id, platform, account_uid,
	title, description, topics, video_url, cover_url, image_urls, publish_time, status,
	queue_id, in_queue, queued, attempt_count, created_at, updated_at)
VALUES (@p1,@p2,@p3,@p4,@p5,@p6,@p7,@p8,@p9,@p10,@p11,@p12,@p13,@p14,@p15,@p16,@p17,@p18,@p19,@p20,@p21,@p22)`
	_, err := r.db.ExecContext(ctx, q,
		t.ID, nullString(t.FlowID), nullString(t.MaterialID), string(t.MaterialPolicy), t.UserID, t.AccountID, t.Platform, t.AccountUID,
		t.Title, t.Description, jsonStrings(t.Topics), t.VideoURL, t.CoverURL, jsonStrings(t.ImageURLs), t.PublishTime, string(t.Status),
		nullString(t.QueueID), t.InQueue, t.Queued, t.AttemptCount, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *PublishTaskRepositoryMSSQL) GetByID(ctx context.Context, id string) (*model.PublishTask, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+publishTaskColumns+` FROM dbo.[publish_tasks] WHERE id=@p1`, id)
	t, err := scanPublishTaskMSSQL(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTaskNotFound
	}
	return t, err
}

func (r *PublishTaskRepositoryMSSQL) Transition(ctx context.Context, id string, from []model.PublishStatus, to model.PublishStatus, patch model.TaskPatch) (*model.PublishTask, error) {
	if len(from) == 0 {
		return nil, model.ErrInvalidTransition
	}
	inc := 0
	if patch.IncrementAttempt {
		inc = 1
	}
	args := []any{string(to), nullString(patch.DataID), nullString(patch.WorkLink), nullString(patch.ErrorMessage),
		nullString(patch.ExternalRef), nullString(patch.QueueID), nullBool(patch.InQueue), nullBool(patch.Queued),
		inc, time.Now().UTC(), id, patch.ClearExternalRef}
	in := make([]string, len(from))
	for i, s := range from {
		args = append(args, string(s))
		in[i] = fmt.Sprintf("@p%d", len(args))
	}
	q := `UPDATE dbo.[publish_tasks] SET
	status=@p1,
	data_id=COALESCE(@p2, data_id),
	work_link=COALESCE(@p3, work_link),
	error_message=CASE WHEN @p1 = 'Released' THEN NULL ELSE COALESCE(@p4, error_message) END,
	external_ref=CASE WHEN @p12 = 1 THEN NULL ELSE COALESCE(@p5, external_ref) END,
	queue_id=COALESCE(@p6, queue_id),
	in_queue=COALESCE(@p7, in_queue),
	queued=COALESCE(@p8, queued),
	attempt_count=attempt_count + @p9,
	updated_at=@p10
OUTPUT ` + insertedColumns() + `
WHERE id=@p11 AND status IN (` + strings.Join(in, ",") + `)`
	row := r.db.QueryRowContext(ctx, q, args...)
	t, err := scanPublishTaskMSSQL(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.missOrConflict(ctx, id, model.ErrInvalidTransition)
	}
	return t, err
}

func (r *PublishTaskRepositoryMSSQL) SetExternalRef(ctx context.Context, id, externalRef string) (*model.PublishTask, error) {
	q := `UPDATE dbo.[publish_tasks] SET external_ref=@p1, updated_at=@p2
OUTPUT ` + insertedColumns() + `
WHERE id=@p3 AND status=@p4`
	row := r.db.QueryRowContext(ctx, q, externalRef, time.Now().UTC(), id, string(model.StatusPublishing))
	t, err := scanPublishTaskMSSQL(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.missOrConflict(ctx, id, model.ErrInvalidTransition)
	}
	return t, err
}

func (r *PublishTaskRepositoryMSSQL) FindByExternalRef(ctx context.Context, platform, accountUID, externalRef string) (*model.PublishTask, error) {
	row := r.db.QueryRowContext(ctx, `SELECT TOP (1) `+publishTaskColumns+` FROM dbo.[publish_tasks]
WHERE platform=@p1 AND account_uid=@p2 AND (external_ref=@p3 OR data_id=@p3)
ORDER BY updated_at DESC`, platform, accountUID, externalRef)
	t, err := scanPublishTaskMSSQL(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTaskNotFound
	}
	return t, err
}

func (r *PublishTaskRepositoryMSSQL) DeleteWaiting(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dbo.[publish_tasks] WHERE id=@p1 AND user_id=@p2 AND status=@p3`,
		id, userID, string(model.StatusWaitingForPublish))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOrConflict(ctx, id, model.ErrDeleteRefused)
	}
	return nil
}

func (r *PublishTaskRepositoryMSSQL) ListByFlow(ctx context.Context, flowID, userID string) ([]*model.PublishTask, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+publishTaskColumns+` FROM dbo.[publish_tasks]
WHERE flow_id=@p1 AND user_id=@p2 ORDER BY created_at ASC`, flowID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPublishTasks(rows, scanPublishTaskMSSQL)
}

func (r *PublishTaskRepositoryMSSQL) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.PublishTask, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT TOP (@p3) `+publishTaskColumns+` FROM dbo.[publish_tasks]
WHERE status=@p1 AND publish_time <= @p2 ORDER BY publish_time ASC`,
		string(model.StatusWaitingForPublish), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPublishTasks(rows, scanPublishTaskMSSQL)
}

func (r *PublishTaskRepositoryMSSQL) missOrConflict(ctx context.Context, id string, conflict error) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM dbo.[publish_tasks] WHERE id=@p1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	return conflict
}
