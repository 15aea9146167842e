package roles

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"opsdesk.org/internal/obs"
)

// ErrMemberNotFound indicates the directory has no active member for the
// email.
var ErrMemberNotFound = errors.New("roles: member not found")

// Member is the directory record for an active team member.
type Member struct {
	DisplayName string
	Position    string
}

// Directory is the external team/role lookup service keyed by email.
type Directory interface {
	FindActiveByEmail(ctx context.Context, email string) (Member, error)
}

const defaultLookupTimeout = 3 * time.Second

// Resolution is the outcome of a role resolution. Position and DisplayName
// are empty unless the directory answered.
type Resolution struct {
	Role        Role
	Position    string
	DisplayName string
	Permissions PermissionSet
}

// Resolver derives (role, position, permissions) for an email. Every
// failure path degrades to least privilege; Resolve never returns an
// error to its caller.
type Resolver struct {
	directory Directory
	allow     map[string]struct{}
	timeout   time.Duration
	limiter   *rate.Limiter
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithLookupTimeout overrides the directory race timeout.
func WithLookupTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLookupLimiter bounds the rate of directory lookups. A denied
// reservation folds into the unavailable branch.
func WithLookupLimiter(l *rate.Limiter) ResolverOption {
	return func(r *Resolver) {
		r.limiter = l
	}
}

// NewResolver builds a resolver over the directory and the super-admin
// allow-list. Allow-list entries are normalized once at construction.
func NewResolver(directory Directory, allowList []string, opts ...ResolverOption) *Resolver {
	allow := make(map[string]struct{}, len(allowList))
	for _, email := range allowList {
		email = normalizeEmail(email)
		if email == "" {
			continue
		}
		allow[email] = struct{}{}
	}
	r := &Resolver{
		directory: directory,
		allow:     allow,
		timeout:   defaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve derives the effective role for email.
//
// The allow-list check completes before the directory lookup is even
// scheduled: a listed email is admin regardless of what the directory
// would answer, so stale "inactive" records or outages can never demote a
// super-admin. For everyone else the lookup is raced against the timeout
// and every failure lands on customer.
func (r *Resolver) Resolve(ctx context.Context, email string) Resolution {
	email = normalizeEmail(email)
	if email == "" {
		return Resolution{Role: RoleCustomer}
	}
	if _, ok := r.allow[email]; ok {
		return Resolution{Role: RoleAdmin, Permissions: AllPermissions()}
	}
	if r.directory == nil {
		obs.ObserveDirectoryLookup("unconfigured")
		return Resolution{Role: RoleCustomer}
	}
	if r.limiter != nil && !r.limiter.Allow() {
		obs.ObserveDirectoryLookup("throttled")
		return Resolution{Role: RoleCustomer}
	}

	member, err := r.lookup(ctx, email)
	if err != nil {
		return Resolution{Role: RoleCustomer}
	}
	role := RoleForPosition(member.Position)
	obs.ObserveDirectoryLookup("ok")
	return Resolution{
		Role:        role,
		Position:    member.Position,
		DisplayName: member.DisplayName,
		Permissions: PermissionsFor(role),
	}
}

type lookupResult struct {
	member Member
	err    error
}

// lookup races the directory call against the timeout. The underlying
// request is not aborted on timeout, only its result is ignored.
func (r *Resolver) lookup(ctx context.Context, email string) (Member, error) {
	results := make(chan lookupResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				results <- lookupResult{err: errors.New("roles: directory panic")}
			}
		}()
		member, err := r.directory.FindActiveByEmail(ctx, email)
		results <- lookupResult{member: member, err: err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		if res.err != nil {
			if errors.Is(res.err, ErrMemberNotFound) {
				obs.ObserveDirectoryLookup("not_found")
			} else {
				obs.ObserveDirectoryLookup("error")
			}
			return Member{}, res.err
		}
		return res.member, nil
	case <-timer.C:
		obs.ObserveDirectoryLookup("timeout")
		return Member{}, context.DeadlineExceeded
	case <-ctx.Done():
		obs.ObserveDirectoryLookup("timeout")
		return Member{}, ctx.Err()
	}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
