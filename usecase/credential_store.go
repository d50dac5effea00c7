package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/lock"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/telemetry"

	"golang.org/x/sync/singleflight"
)

const (
	refreshLockResource = "credential-refresh"
	refreshTimeout      = 30 * time.Second
)

// CredentialStore hands out credentials that are valid at the moment of return, refreshing them
// when they are close to expiry. Concurrent resolves of one account collapse into a single
// refresh: in-process through singleflight, across processes through a short refresh lock
// followed by a re-read.
type CredentialStore struct {
	creds     repository.IOAuthCredential
	refresher repository.ITokenRefresher
	guard     *lock.Guard
	window    time.Duration
	metrics   *telemetry.Metrics
	now       func() time.Time
	group     singleflight.Group
}

func NewCredentialStore(creds repository.IOAuthCredential, refresher repository.ITokenRefresher, guard *lock.Guard, window time.Duration, metrics *telemetry.Metrics) *CredentialStore {
	return &CredentialStore{
		creds:     creds,
		refresher: refresher,
		guard:     guard,
		window:    window,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the credential of (accountID, platform). An expired credential fails with a
// CredentialExpired error without any network call.
func (s *CredentialStore) Resolve(ctx context.Context, accountID, platform string) (*model.OAuth2Credential, error) {
	c, err := s.read(ctx, accountID, platform)
	if err != nil {
		return nil, err
	}
	if !c.NeedsRefresh(s.now(), s.window) {
		return c, nil
	}
	// The shared refresh outlives any single caller; each caller still stops waiting on its own ctx.
	ch := s.group.DoChan(accountID+"\x00"+platform, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return s.refresh(rctx, accountID, platform)
	})
	select {
	case <-ctx.Done():
		return nil, model.Transient("resolve", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*model.OAuth2Credential), nil
	}
}

func (s *CredentialStore) read(ctx context.Context, accountID, platform string) (*model.OAuth2Credential, error) {
	c, err := s.creds.Get(ctx, accountID, platform)
	if errors.Is(err, model.ErrCredentialNotFound) {
		return nil, model.CredentialExpired(fmt.Sprintf("no %s credential for account %s", platform, accountID))
	}
	if err != nil {
		return nil, model.Transient("resolve", err)
	}
	if c.IsExpired(s.now()) {
		return nil, model.CredentialExpired(fmt.Sprintf("%s credential for account %s has expired", platform, accountID))
	}
	return c, nil
}

func (s *CredentialStore) refresh(ctx context.Context, accountID, platform string) (*model.OAuth2Credential, error) {
	var out *model.OAuth2Credential
	run := func(ctx context.Context) error {
		// Another process may have refreshed while we waited for the lock.
		cur, err := s.read(ctx, accountID, platform)
		if err != nil {
			return err
		}
		if !cur.NeedsRefresh(s.now(), s.window) {
			out = cur
			return nil
		}
		fresh, err := s.refresher.Refresh(ctx, cur)
		s.metrics.Refresh(ctx, platform, err == nil)
		if err != nil {
			return err
		}
		err = s.creds.UpdateRefreshed(ctx, fresh, cur.AccessToken)
		if errors.Is(err, model.ErrCredentialConflict) {
			logger.GetLogger().WithField("account_id", accountID).WithField("platform", platform).
				Warn("credential changed during refresh; using stored pair")
			out, err = s.read(ctx, accountID, platform)
			return err
		}
		if err != nil {
			return model.Transient("resolve", err)
		}
		logger.GetLogger().WithField("account_id", accountID).WithField("platform", platform).Info("credential refreshed")
		out = fresh
		return nil
	}

	if s.guard == nil {
		if err := run(ctx); err != nil {
			return nil, err
		}
		return out, nil
	}
	err := s.guard.WithLock(ctx, refreshLockResource, []any{accountID, platform}, run)
	if errors.Is(err, model.ErrLockNotAcquired) {
		return nil, model.Transient("resolve", err)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ToAuth narrows a stored credential to what an adapter needs.
func ToAuth(c *model.OAuth2Credential, accountUID string) model.AuthCredential {
	return model.AuthCredential{AccessToken: c.AccessToken, TokenType: c.TokenType, AccountUID: accountUID}
}
