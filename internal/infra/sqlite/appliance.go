package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/secfleet/secfleet/internal/domain"
)

// ─── Virtual Systems ────────────────────────────────────────────────────────

// GetVirtualSystem loads a virtual system. SQLite serializes writers, so
// forUpdate needs no extra locking.
func (d *DB) GetVirtualSystem(ctx context.Context, id int64, forUpdate bool) (*domain.VirtualSystem, error) {
	row := d.q(ctx).QueryRowContext(ctx,
		`SELECT id, name, manager_url, last_job_id FROM virtual_systems WHERE id = ?`, id,
	)
	vs, err := scanVirtualSystem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("virtual system %d: %w", id, domain.ErrNotFound)
	}
	return vs, err
}

// ListVirtualSystems returns all virtual systems ordered by id.
func (d *DB) ListVirtualSystems(ctx context.Context) ([]domain.VirtualSystem, error) {
	rows, err := d.q(ctx).QueryContext(ctx,
		`SELECT id, name, manager_url, last_job_id FROM virtual_systems ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.VirtualSystem
	for rows.Next() {
		vs, err := scanVirtualSystem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *vs)
	}
	return out, rows.Err()
}

// CreateVirtualSystem inserts vs and sets its id.
func (d *DB) CreateVirtualSystem(ctx context.Context, vs *domain.VirtualSystem) error {
	result, err := d.q(ctx).ExecContext(ctx,
		`INSERT INTO virtual_systems (name, manager_url, last_job_id) VALUES (?, ?, ?)`,
		vs.Name, vs.ManagerURL, nullableID(vs.LastJobID),
	)
	if err != nil {
		return err
	}
	vs.ID, err = result.LastInsertId()
	return err
}

// SetLastJob records jobID as the latest job run for the virtual system.
func (d *DB) SetLastJob(ctx context.Context, vsID, jobID int64) error {
	result, err := d.q(ctx).ExecContext(ctx,
		`UPDATE virtual_systems SET last_job_id = ? WHERE id = ?`, jobID, vsID,
	)
	if err != nil {
		return err
	}
	return expectRow(result, "virtual system", vsID)
}

func scanVirtualSystem(s scanner) (*domain.VirtualSystem, error) {
	var vs domain.VirtualSystem
	var lastJob sql.NullInt64
	if err := s.Scan(&vs.ID, &vs.Name, &vs.ManagerURL, &lastJob); err != nil {
		return nil, err
	}
	vs.LastJobID = lastJob.Int64
	return &vs, nil
}

// ─── Security Group Interfaces ──────────────────────────────────────────────

// ListSecurityGroupInterfaces returns the interfaces of a virtual system
// ordered by id.
func (d *DB) ListSecurityGroupInterfaces(ctx context.Context, vsID int64) ([]domain.SecurityGroupInterface, error) {
	rows, err := d.q(ctx).QueryContext(ctx,
		`SELECT id, virtual_system_id, name, tag, policy, remote_id, marked_for_deletion
		 FROM security_group_interfaces WHERE virtual_system_id = ? ORDER BY id`, vsID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SecurityGroupInterface
	for rows.Next() {
		var s domain.SecurityGroupInterface
		var remote sql.NullString
		if err := rows.Scan(&s.ID, &s.VirtualSystemID, &s.Name, &s.Tag, &s.Policy, &remote, &s.MarkedForDeletion); err != nil {
			return nil, err
		}
		s.RemoteID = remote.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateSecurityGroupInterface inserts sgi and sets its id.
func (d *DB) CreateSecurityGroupInterface(ctx context.Context, sgi *domain.SecurityGroupInterface) error {
	result, err := d.q(ctx).ExecContext(ctx,
		`INSERT INTO security_group_interfaces (virtual_system_id, name, tag, policy, remote_id, marked_for_deletion)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sgi.VirtualSystemID, sgi.Name, sgi.Tag, sgi.Policy, nullableString(sgi.RemoteID), sgi.MarkedForDeletion,
	)
	if err != nil {
		return err
	}
	sgi.ID, err = result.LastInsertId()
	return err
}

// UpdateSecurityGroupInterface overwrites the row of sgi.
func (d *DB) UpdateSecurityGroupInterface(ctx context.Context, sgi *domain.SecurityGroupInterface) error {
	result, err := d.q(ctx).ExecContext(ctx,
		`UPDATE security_group_interfaces
		 SET name = ?, tag = ?, policy = ?, remote_id = ?, marked_for_deletion = ?
		 WHERE id = ?`,
		sgi.Name, sgi.Tag, sgi.Policy, nullableString(sgi.RemoteID), sgi.MarkedForDeletion, sgi.ID,
	)
	if err != nil {
		return err
	}
	return expectRow(result, "security group interface", sgi.ID)
}

// DeleteSecurityGroupInterface removes a row. Deleting a missing row is not
// an error.
func (d *DB) DeleteSecurityGroupInterface(ctx context.Context, id int64) error {
	_, err := d.q(ctx).ExecContext(ctx, `DELETE FROM security_group_interfaces WHERE id = ?`, id)
	return err
}

func expectRow(result sql.Result, kind string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, domain.ErrNotFound)
	}
	return nil
}
