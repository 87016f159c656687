package service

import (
	"context"
	"errors"

	"github.com/iliyamo/sunnah-audio/internal/apperr"
	"github.com/iliyamo/sunnah-audio/internal/model"
	"github.com/iliyamo/sunnah-audio/internal/repository"
)

// AccessPolicy decides scholar-scoped writes and downloads.  The caller's
// role is re-read from the users table on every decision, so a demoted or
// disabled account loses access before its token expires.
type AccessPolicy struct {
	users ActiveUserLoader
	acl   AccessStore
	subs  ActiveSubscriptionFinder
}

func NewAccessPolicy(users ActiveUserLoader, acl AccessStore, subs ActiveSubscriptionFinder) *AccessPolicy {
	return &AccessPolicy{users: users, acl: acl, subs: subs}
}

func (p *AccessPolicy) caller(ctx context.Context, id model.Identity) (model.User, error) {
	u, err := p.users.GetActiveByID(ctx, id.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperr.Unauthorized("Account is disabled or no longer exists")
	}
	if err != nil {
		return model.User{}, apperr.Internal("Failed to load user", err)
	}
	return u, nil
}

// Authorize applies, in order: admins pass; grant/revoke need admin or
// manager; content writes need an ACL row for the scholar.
func (p *AccessPolicy) Authorize(ctx context.Context, id model.Identity, scholarID uint64, op model.Operation) error {
	u, err := p.caller(ctx, id)
	if err != nil {
		return err
	}
	return p.decide(ctx, u, scholarID, op)
}

func (p *AccessPolicy) decide(ctx context.Context, u model.User, scholarID uint64, op model.Operation) error {
	if u.Role == model.RoleAdmin {
		return nil
	}
	if op.ManagesAccess() {
		if u.Role == model.RoleManager {
			return nil
		}
		if op == model.OpRevokeAccess {
			return apperr.Forbidden("Insufficient permissions to revoke access")
		}
		return apperr.Forbidden("Insufficient permissions to grant access")
	}
	ok, err := p.acl.Has(ctx, u.ID, scholarID)
	if err != nil {
		return apperr.Internal("Failed to check access", err)
	}
	if !ok {
		return apperr.Forbidden("You do not have access to this scholar")
	}
	return nil
}

// AuthorizeMove is Authorize for operations that re-parent content: the
// caller must pass against both the current and the target scholar.
func (p *AccessPolicy) AuthorizeMove(ctx context.Context, id model.Identity, op model.Operation, from, to uint64) error {
	u, err := p.caller(ctx, id)
	if err != nil {
		return err
	}
	if err := p.decide(ctx, u, from, op); err != nil {
		return err
	}
	if to == from {
		return nil
	}
	return p.decide(ctx, u, to, op)
}

// CanDownload reports whether the caller may fetch files of scholarID:
// admins always, otherwise an ACL row or an active subscription.  The
// active subscription, if any, is returned for the audit trail.
func (p *AccessPolicy) CanDownload(ctx context.Context, id model.Identity, scholarID uint64) (bool, *model.SubscriptionWithPlan, error) {
	u, err := p.caller(ctx, id)
	if err != nil {
		return false, nil, err
	}
	sub, err := p.subs.CurrentActive(ctx, u.ID)
	if err != nil {
		return false, nil, err
	}
	if u.Role == model.RoleAdmin || sub != nil {
		return true, sub, nil
	}
	ok, err := p.acl.Has(ctx, u.ID, scholarID)
	if err != nil {
		return false, nil, apperr.Internal("Failed to check access", err)
	}
	return ok, nil, nil
}

// Grant gives userID write access to scholarID.
func (p *AccessPolicy) Grant(ctx context.Context, id model.Identity, userID, scholarID uint64) error {
	if userID == 0 || scholarID == 0 {
		return apperr.Validation("user_id and scholar_id are required")
	}
	if err := p.Authorize(ctx, id, scholarID, model.OpGrantAccess); err != nil {
		return err
	}
	if err := p.acl.Grant(ctx, userID, scholarID, id.UserID); err != nil {
		if errors.Is(err, repository.ErrReferenceMissing) {
			return apperr.NotFound("User or scholar not found")
		}
		return apperr.Internal("Failed to grant access", err)
	}
	return nil
}

func (p *AccessPolicy) Revoke(ctx context.Context, id model.Identity, userID, scholarID uint64) error {
	if userID == 0 || scholarID == 0 {
		return apperr.Validation("user_id and scholar_id are required")
	}
	if err := p.Authorize(ctx, id, scholarID, model.OpRevokeAccess); err != nil {
		return err
	}
	if err := p.acl.Revoke(ctx, userID, scholarID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("Access entry not found")
		}
		return apperr.Internal("Failed to revoke access", err)
	}
	return nil
}

// Permissions summarises the caller's role and the scholars they can write
// under.
func (p *AccessPolicy) Permissions(ctx context.Context, id model.Identity) (model.Permissions, error) {
	u, err := p.caller(ctx, id)
	if err != nil {
		return model.Permissions{}, err
	}
	scholars, err := p.acl.ScholarsFor(ctx, u.ID)
	if err != nil {
		return model.Permissions{}, apperr.Internal("Failed to load permissions", err)
	}
	manage := u.Role == model.RoleAdmin || u.Role == model.RoleManager
	for i := range scholars {
		scholars[i].CanUpload = true
		scholars[i].CanDownload = true
		scholars[i].CanManage = manage
	}
	return model.Permissions{UserID: u.ID, Role: u.Role, AccessibleScholars: scholars}, nil
}

// ListAll returns every ACL row; admin or manager only.
func (p *AccessPolicy) ListAll(ctx context.Context, id model.Identity) ([]model.AccessListing, error) {
	u, err := p.caller(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != model.RoleAdmin && u.Role != model.RoleManager {
		return nil, apperr.Forbidden("Insufficient permissions")
	}
	rows, err := p.acl.ListAll(ctx)
	if err != nil {
		return nil, apperr.Internal("Failed to list access entries", err)
	}
	return rows, nil
}
