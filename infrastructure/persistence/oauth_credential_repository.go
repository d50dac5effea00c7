package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
)

type OAuthCredentialRepository struct{ db *sql.DB }

func NewOAuthCredentialRepository(db *sql.DB) *OAuthCredentialRepository {
	return &OAuthCredentialRepository{db: db}
}

var _ repository.IOAuthCredential = (*OAuthCredentialRepository)(nil)

const credentialColumns = `id, account_id, platform, access_token, refresh_token, access_token_expires_at, refresh_token_expires_at, scopes, token_type, raw, created_at, updated_at`

func scanCredential(row rowScanner) (*model.OAuth2Credential, error) {
	c := &model.OAuth2Credential{}
	var accessExp, refreshExp sql.NullTime
	if err := row.Scan(&c.ID, &c.AccountID, &c.Platform, &c.AccessToken, &c.RefreshToken, &accessExp, &refreshExp,
		&c.Scopes, &c.TokenType, &c.Raw, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if accessExp.Valid {
		c.AccessTokenExpiresAt = &accessExp.Time
	}
	if refreshExp.Valid {
		c.RefreshTokenExpiresAt = &refreshExp.Time
	}
	return c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *OAuthCredentialRepository) Get(ctx context.Context, accountID, platform string) (*model.OAuth2Credential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM oauth_credentials WHERE account_id=$1 AND platform=$2`, accountID, platform)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrCredentialNotFound
	}
	return c, err
}

func (r *OAuthCredentialRepository) Upsert(ctx context.Context, c *model.OAuth2Credential) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	q := `INSERT INTO oauth_credentials (account_id, platform, access_token, refresh_token, access_token_expires_at, refresh_token_expires_at, scopes, token_type, raw, created_at, updated_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		  ON CONFLICT (account_id, platform) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			access_token_expires_at=EXCLUDED.access_token_expires_at,
			refresh_token_expires_at=EXCLUDED.refresh_token_expires_at,
			scopes=EXCLUDED.scopes,
			token_type=EXCLUDED.token_type,
			raw=EXCLUDED.raw,
			updated_at=EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, q, c.AccountID, c.Platform, c.AccessToken, c.RefreshToken,
		nullTime(c.AccessTokenExpiresAt), nullTime(c.RefreshTokenExpiresAt), c.Scopes, c.TokenType, c.Raw, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *OAuthCredentialRepository) UpdateRefreshed(ctx context.Context, c *model.OAuth2Credential, previousAccessToken string) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE oauth_credentials SET
		access_token=$1, refresh_token=$2, access_token_expires_at=$3, refresh_token_expires_at=$4, raw=$5, updated_at=$6
		WHERE account_id=$7 AND platform=$8 AND access_token=$9`,
		c.AccessToken, c.RefreshToken, nullTime(c.AccessTokenExpiresAt), nullTime(c.RefreshTokenExpiresAt), c.Raw, c.UpdatedAt,
		c.AccountID, c.Platform, previousAccessToken)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrCredentialConflict
	}
	return nil
}
