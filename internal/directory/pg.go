// Package directory implements the team/role directory gateway.
package directory

import (
	"context"
	"database/sql"

	"opsdesk.org/internal/roles"
)

var _ roles.Directory = (*PG)(nil)

// PG looks up active team members in PostgreSQL.
type PG struct {
	db *sql.DB
}

// NewPG wraps an open database handle.
func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

// FindActiveByEmail returns the member record for an active team member.
// Inactive members read as not found.
func (p *PG) FindActiveByEmail(ctx context.Context, email string) (roles.Member, error) {
	row := p.db.QueryRowContext(ctx,
		`select display_name, position from team_members where email=$1 and status='active'`,
		email,
	)
	var member roles.Member
	if err := row.Scan(&member.DisplayName, &member.Position); err != nil {
		if err == sql.ErrNoRows {
			return roles.Member{}, roles.ErrMemberNotFound
		}
		return roles.Member{}, err
	}
	return member, nil
}
