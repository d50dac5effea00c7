package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"

	"github.com/lib/pq"
)

const publishTaskColumns = `id, flow_id, material_id, material_policy, user_id, account_id, platform, account_uid,
	title, description, topics, video_url, cover_url, image_urls, publish_time, status,
	queue_id, in_queue, queued, data_id, work_link, error_message, external_ref, attempt_count, created_at, updated_at`

// PublishTaskRepository implements task persistence on PostgreSQL.
type PublishTaskRepository struct{ db *sql.DB }

func NewPublishTaskRepository(db *sql.DB) *PublishTaskRepository {
	return &PublishTaskRepository{db: db}
}

var _ repository.IPublishTask = (*PublishTaskRepository)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPublishTask(row rowScanner, topics, images sql.Scanner) (*model.PublishTask, error) {
	t := &model.PublishTask{}
	var flowID, materialID, queueID, dataID, workLink, errMsg, extRef sql.NullString
	var policy, status string
	if err := row.Scan(&t.ID, &flowID, &materialID, &policy, &t.UserID, &t.AccountID, &t.Platform, &t.AccountUID,
		&t.Title, &t.Description, topics, &t.VideoURL, &t.CoverURL, images, &t.PublishTime, &status,
		&queueID, &t.InQueue, &t.Queued, &dataID, &workLink, &errMsg, &extRef, &t.AttemptCount, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.MaterialPolicy = model.MaterialPolicy(policy)
	t.Status = model.PublishStatus(status)
	t.FlowID = nullableString(flowID)
	t.MaterialID = nullableString(materialID)
	t.QueueID = nullableString(queueID)
	t.DataID = nullableString(dataID)
	t.WorkLink = nullableString(workLink)
	t.ErrorMessage = nullableString(errMsg)
	t.ExternalRef = nullableString(extRef)
	return t, nil
}

func scanPublishTaskPQ(row rowScanner) (*model.PublishTask, error) {
	var topics, images pq.StringArray
	t, err := scanPublishTask(row, &topics, &images)
	if err != nil {
		return nil, err
	}
	t.Topics = []string(topics)
	t.ImageURLs = []string(images)
	return t, nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func statusStrings(in []model.PublishStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func (r *PublishTaskRepository) Create(ctx context.Context, t *model.PublishTask) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	q := `INSERT INTO publish_tasks (id, flow_id, material_id, material_policy, user_id, account_id, platform, account_uid,
		title, description, topics, video_url, cover_url, image_urls, publish_time, status,
		queue_id, in_queue, queued, attempt_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`
	_, err := r.db.ExecContext(ctx, q,
		t.ID, t.FlowID, t.MaterialID, string(t.MaterialPolicy), t.UserID, t.AccountID, t.Platform, t.AccountUID,
		t.Title, t.Description, pq.Array(t.Topics), t.VideoURL, t.CoverURL, pq.Array(t.ImageURLs), t.PublishTime, string(t.Status),
		t.QueueID, t.InQueue, t.Queued, t.AttemptCount, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *PublishTaskRepository) GetByID(ctx context.Context, id string) (*model.PublishTask, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+publishTaskColumns+` FROM publish_tasks WHERE id=$1`, id)
	t, err := scanPublishTaskPQ(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTaskNotFound
	}
	return t, err
}

func (r *PublishTaskRepository) Transition(ctx context.Context, id string, from []model.PublishStatus, to model.PublishStatus, patch model.TaskPatch) (*model.PublishTask, error) {
	inc := 0
	if patch.IncrementAttempt {
		inc = 1
	}
	// Single conditional write: the status precondition and the patch land together or not at all.
	q := `UPDATE publish_tasks SET
		status=$1,
		data_id=COALESCE($2, data_id),
		work_link=COALESCE($3, work_link),
		error_message=CASE WHEN $1::text = 'Released' THEN NULL ELSE COALESCE($4, error_message) END,
		external_ref=CASE WHEN $13::boolean THEN NULL ELSE COALESCE($5, external_ref) END,
		queue_id=COALESCE($6, queue_id),
		in_queue=COALESCE($7, in_queue),
		queued=COALESCE($8, queued),
		attempt_count=attempt_count + $9,
		updated_at=$10
		WHERE id=$11 AND status = ANY($12)
		RETURNING ` + publishTaskColumns
	row := r.db.QueryRowContext(ctx, q, string(to), patch.DataID, patch.WorkLink, patch.ErrorMessage, patch.ExternalRef,
		patch.QueueID, patch.InQueue, patch.Queued, inc, time.Now().UTC(), id, pq.Array(statusStrings(from)), patch.ClearExternalRef)
	t, err := scanPublishTaskPQ(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.missOrConflict(ctx, id, model.ErrInvalidTransition)
	}
	return t, err
}

func (r *PublishTaskRepository) SetExternalRef(ctx context.Context, id, externalRef string) (*model.PublishTask, error) {
	q := `UPDATE publish_tasks SET external_ref=$1, updated_at=$2 WHERE id=$3 AND status=$4 RETURNING ` + publishTaskColumns
	row := r.db.QueryRowContext(ctx, q, externalRef, time.Now().UTC(), id, string(model.StatusPublishing))
	t, err := scanPublishTaskPQ(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.missOrConflict(ctx, id, model.ErrInvalidTransition)
	}
	return t, err
}

func (r *PublishTaskRepository) FindByExternalRef(ctx context.Context, platform, accountUID, externalRef string) (*model.PublishTask, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+publishTaskColumns+` FROM publish_tasks
		WHERE platform=$1 AND account_uid=$2 AND (external_ref=$3 OR data_id=$3)
		ORDER BY updated_at DESC LIMIT 1`, platform, accountUID, externalRef)
	t, err := scanPublishTaskPQ(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTaskNotFound
	}
	return t, err
}

func (r *PublishTaskRepository) DeleteWaiting(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM publish_tasks WHERE id=$1 AND user_id=$2 AND status=$3`,
		id, userID, string(model.StatusWaitingForPublish))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOrConflict(ctx, id, model.ErrDeleteRefused)
	}
	return nil
}

func (r *PublishTaskRepository) ListByFlow(ctx context.Context, flowID, userID string) ([]*model.PublishTask, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+publishTaskColumns+` FROM publish_tasks
		WHERE flow_id=$1 AND user_id=$2 ORDER BY created_at ASC`, flowID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPublishTasks(rows, scanPublishTaskPQ)
}

func (r *PublishTaskRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.PublishTask, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+publishTaskColumns+` FROM publish_tasks
		WHERE status=$1 AND publish_time <= $2 ORDER BY publish_time ASC LIMIT $3`,
		string(model.StatusWaitingForPublish), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPublishTasks(rows, scanPublishTaskPQ)
}

// missOrConflict tells a missing row apart from a failed precondition.
func (r *PublishTaskRepository) missOrConflict(ctx context.Context, id string, conflict error) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM publish_tasks WHERE id=$1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	return conflict
}

func collectPublishTasks(rows *sql.Rows, scan func(rowScanner) (*model.PublishTask, error)) ([]*model.PublishTask, error) {
	var list []*model.PublishTask
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
