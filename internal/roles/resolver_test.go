package roles

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

type directoryFunc func(ctx context.Context, email string) (Member, error)

func (f directoryFunc) FindActiveByEmail(ctx context.Context, email string) (Member, error) {
	return f(ctx, email)
}

var hangingDirectory = directoryFunc(func(ctx context.Context, email string) (Member, error) {
	<-ctx.Done()
	return Member{}, ctx.Err()
})

func TestResolveEmptyEmail(t *testing.T) {
	r := NewResolver(hangingDirectory, nil, WithLookupTimeout(10*time.Millisecond))
	res := r.Resolve(context.Background(), "   ")
	if res.Role != RoleCustomer {
		t.Fatalf("expected customer, got %s", res.Role)
	}
	if res.Permissions != (PermissionSet{}) {
		t.Fatalf("expected empty permissions, got %#v", res.Permissions)
	}
}

func TestAllowListPrecedence(t *testing.T) {
	// The directory always times out; a listed email must still resolve
	// to admin without waiting on it.
	r := NewResolver(hangingDirectory, []string{" Root@OpsDesk.example "}, WithLookupTimeout(50*time.Millisecond))

	start := time.Now()
	res := r.Resolve(context.Background(), "root@opsdesk.example")
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Fatalf("allow-list check waited on directory: %v", elapsed)
	}
	if res.Role != RoleAdmin {
		t.Fatalf("expected admin, got %s", res.Role)
	}
	if res.Permissions != AllPermissions() {
		t.Fatalf("expected all permissions, got %#v", res.Permissions)
	}
}

func TestAllowListPrecedenceOverNotFound(t *testing.T) {
	dir := directoryFunc(func(ctx context.Context, email string) (Member, error) {
		return Member{}, ErrMemberNotFound
	})
	r := NewResolver(dir, []string{"root@opsdesk.example"})
	if res := r.Resolve(context.Background(), "ROOT@opsdesk.example"); res.Role != RoleAdmin {
		t.Fatalf("stale directory data demoted a super-admin: %s", res.Role)
	}
}

func TestResolveBoundedByTimeout(t *testing.T) {
	never := directoryFunc(func(ctx context.Context, email string) (Member, error) {
		select {} // resolves never
	})
	r := NewResolver(never, nil, WithLookupTimeout(100*time.Millisecond))

	start := time.Now()
	res := r.Resolve(context.Background(), "staff@opsdesk.example")
	elapsed := time.Since(start)
	if elapsed > 200*time.Millisecond {
		t.Fatalf("resolution not bounded by timeout: %v", elapsed)
	}
	if res.Role != RoleCustomer {
		t.Fatalf("expected customer fallback, got %s", res.Role)
	}
}

func TestResolveMapsPositionToRole(t *testing.T) {
	cases := map[string]Role{
		"Owner":           RoleAdmin,
		"general manager": RoleManager,
		"barista":         RoleStaff,
		"":                RoleStaff,
	}
	for position, want := range cases {
		dir := directoryFunc(func(ctx context.Context, email string) (Member, error) {
			return Member{DisplayName: "Sam", Position: position}, nil
		})
		r := NewResolver(dir, nil)
		res := r.Resolve(context.Background(), "sam@opsdesk.example")
		if res.Role != want {
			t.Fatalf("position %q: expected %s, got %s", position, want, res.Role)
		}
		if res.Permissions != PermissionsFor(want) {
			t.Fatalf("position %q: permission set mismatch", position)
		}
	}
}

func TestResolveDirectoryErrorFallsBack(t *testing.T) {
	dir := directoryFunc(func(ctx context.Context, email string) (Member, error) {
		return Member{}, errors.New("transport down")
	})
	r := NewResolver(dir, nil)
	if res := r.Resolve(context.Background(), "x@opsdesk.example"); res.Role != RoleCustomer {
		t.Fatalf("expected customer, got %s", res.Role)
	}
}

func TestResolveThrottled(t *testing.T) {
	dir := directoryFunc(func(ctx context.Context, email string) (Member, error) {
		return Member{Position: "owner"}, nil
	})
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	r := NewResolver(dir, nil, WithLookupLimiter(limiter))

	if res := r.Resolve(context.Background(), "a@opsdesk.example"); res.Role != RoleAdmin {
		t.Fatalf("first lookup should pass the limiter, got %s", res.Role)
	}
	if res := r.Resolve(context.Background(), "b@opsdesk.example"); res.Role != RoleCustomer {
		t.Fatalf("throttled lookup must fold to customer, got %s", res.Role)
	}
}

func TestPermissionSetHas(t *testing.T) {
	perms := PermissionsFor(RoleManager)
	if !perms.Has("canManageTeam") {
		t.Fatal("manager should manage team")
	}
	if perms.Has("canViewFinance") {
		t.Fatal("manager should not view finance")
	}
	if perms.Has("unknownPermission") {
		t.Fatal("unknown names must be false")
	}
}
