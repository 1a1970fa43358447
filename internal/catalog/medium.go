package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vm-wylbur/ntt/internal/nthash"
)

// EnsureMediumTable creates the shared (non-partitioned) medium and blob
// tables if absent; the keyspace must already exist. Called once per
// deployment, idempotent.
func (s *Session) EnsureMediumTable(ctx context.Context) error {
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.medium (
		medium_hash text PRIMARY KEY,
		label text,
		image_path text,
		health text,
		problems text,
		enum_done timestamp,
		copy_done timestamp
	);`, s.keyspace)
	if err := s.query(ctx, create).Exec(); err != nil {
		return fmt.Errorf("catalog: create medium table: %w", err)
	}
	createBlob := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.blob (
		blob_id text PRIMARY KEY,
		n_hardlinks counter
	);`, s.keyspace)
	if err := s.query(ctx, createBlob).Exec(); err != nil {
		return fmt.Errorf("catalog: create blob table: %w", err)
	}
	return nil
}

// UpsertMedium creates or updates a medium's label/image path/health on
// first contact (spec.md §3: "created on first contact").
func (s *Session) UpsertMedium(ctx context.Context, m Medium) error {
	problems, err := m.Problems.Marshal()
	if err != nil {
		return fmt.Errorf("catalog: marshal problems: %w", err)
	}
	stmt := fmt.Sprintf(`INSERT INTO %s.medium (medium_hash, label, image_path, health, problems) VALUES (?,?,?,?,?)`, s.keyspace)
	return s.query(ctx, stmt, m.Hash.String(), m.Label, m.ImagePath, string(m.Health), string(problems)).Exec()
}

// GetMedium fetches a medium row by hash.
func (s *Session) GetMedium(ctx context.Context, hash nthash.Hash) (Medium, error) {
	stmt := fmt.Sprintf(`SELECT label, image_path, health, problems, enum_done, copy_done FROM %s.medium WHERE medium_hash = ?`, s.keyspace)
	var label, imagePath, health, problemsJSON string
	var enumDone, copyDone time.Time
	if err := s.query(ctx, stmt, hash.String()).Scan(&label, &imagePath, &health, &problemsJSON, &enumDone, &copyDone); err != nil {
		return Medium{}, fmt.Errorf("catalog: get medium %s: %w", hash, err)
	}
	var problems Problems
	if problemsJSON != "" {
		if err := json.Unmarshal([]byte(problemsJSON), &problems); err != nil {
			return Medium{}, fmt.Errorf("catalog: unmarshal problems for %s: %w", hash, err)
		}
	}
	m := Medium{Hash: hash, Label: label, ImagePath: imagePath, Health: Health(health), Problems: problems}
	if !enumDone.IsZero() {
		m.EnumDone = &enumDone
	}
	if !copyDone.IsZero() {
		m.CopyDone = &copyDone
	}
	return m, nil
}

// DemoteHealth lowers a medium's health in light of new evidence. Health
// may only ever be demoted, never promoted, by this method (spec.md §3).
func (s *Session) DemoteHealth(ctx context.Context, hash nthash.Hash, newHealth Health) error {
	rank := map[Health]int{HealthOK: 2, HealthIncomplete: 1, HealthFailed: 0}
	cur, err := s.GetMedium(ctx, hash)
	if err != nil {
		return err
	}
	if rank[newHealth] >= rank[cur.Health] {
		return nil
	}
	stmt := fmt.Sprintf(`UPDATE %s.medium SET health = ? WHERE medium_hash = ?`, s.keyspace)
	return s.query(ctx, stmt, string(newHealth), hash.String()).Exec()
}

// AppendDuplicatePaths records a duplicate-path corruption finding into
// the medium's problems document (spec.md §4.4 edge case).
func (s *Session) AppendDuplicatePaths(ctx context.Context, hash nthash.Hash, entries []DuplicatePathEntry) error {
	m, err := s.GetMedium(ctx, hash)
	if err != nil {
		return err
	}
	m.Problems.DuplicatePaths = append(m.Problems.DuplicatePaths, entries...)
	problems, err := m.Problems.Marshal()
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`UPDATE %s.medium SET problems = ? WHERE medium_hash = ?`, s.keyspace)
	return s.query(ctx, stmt, string(problems), hash.String()).Exec()
}

// AppendDiagnosticEvent records a diagnostic service decision into the
// medium's problems document (spec.md §4.5).
func (s *Session) AppendDiagnosticEvent(ctx context.Context, hash nthash.Hash, ev DiagnosticEvent) error {
	m, err := s.GetMedium(ctx, hash)
	if err != nil {
		return err
	}
	m.Problems.DiagnosticEvents = append(m.Problems.DiagnosticEvents, ev)
	problems, err := m.Problems.Marshal()
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`UPDATE %s.medium SET problems = ? WHERE medium_hash = ?`, s.keyspace)
	return s.query(ctx, stmt, string(problems), hash.String()).Exec()
}
