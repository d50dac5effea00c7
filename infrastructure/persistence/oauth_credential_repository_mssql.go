package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
)

type OAuthCredentialRepositoryMSSQL struct{ db *sql.DB }

func NewOAuthCredentialRepositoryMSSQL(db *sql.DB) *OAuthCredentialRepositoryMSSQL {
	return &OAuthCredentialRepositoryMSSQL{db: db}
}

var _ repository.IOAuthCredential = (*OAuthCredentialRepositoryMSSQL)(nil)

func (r *OAuthCredentialRepositoryMSSQL) Get(ctx context.Context, accountID, platform string) (*model.OAuth2Credential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM dbo.[oauth_credentials] WHERE account_id=@p1 AND platform=@p2`, accountID, platform)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrCredentialNotFound
	}
	return c, err
}

func (r *OAuthCredentialRepositoryMSSQL) Upsert(ctx context.Context, c *model.OAuth2Credential) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	// MERGE upsert by (account_id, platform)
	q := `MERGE dbo.[oauth_credentials] AS target
USING (VALUES (@p1, @p2)) AS src(account_id, platform)
ON target.account_id = src.account_id AND target.platform = src.platform
WHEN MATCHED THEN UPDATE SET
    access_token=@p3,
    refresh_token=@p4,
    access_token_expires_at=@p5,
    refresh_token_expires_at=@p6,
    scopes=@p7,
    token_type=@p8,
    raw=@p9,
    updated_at=@p11
WHEN NOT MATCHED THEN
    INSERT (account_id, platform, access_token, refresh_token, access_token_expires_at, refresh_token_expires_at, scopes, token_type, raw, created_at, updated_at)
    VALUES (@p1,@p2,@p3,@p4,@p5,@p6,@p7,@p8,@p9,@p10,@p11);`
	_, err := r.db.ExecContext(ctx, q,
		c.AccountID, c.Platform,
		c.AccessToken,
		c.RefreshToken,
		nullTime(c.AccessTokenExpiresAt),
		nullTime(c.RefreshTokenExpiresAt),
		c.Scopes,
		c.TokenType,
		c.Raw,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

func (r *OAuthCredentialRepositoryMSSQL) UpdateRefreshed(ctx context.Context, c *model.OAuth2Credential, previousAccessToken string) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE dbo.[oauth_credentials] SET
    access_token=@p1, refresh_token=@p2, access_token_expires_at=@p3, refresh_token_expires_at=@p4, raw=@p5, updated_at=@p6
WHERE account_id=@p7 AND platform=@p8 AND access_token=@p9`,
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
