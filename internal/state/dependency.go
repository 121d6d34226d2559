package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateDependency records a blocking relation blocker->blocked, rejecting
// self-references and any dependency that would introduce a cycle in the
// directed graph over (kind,id) nodes (§9 design note: DFS from the
// proposed blocker back to the blocked, edges only, no transitive closure
// stored).
func (s *Store) CreateDependency(blockerKind, blockerID, blockedKind, blockedID string) (*Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if blockerKind == blockedKind && blockerID == blockedID {
		return nil, &DependencyError{Blockers: []BlockerInfo{{Kind: blockerKind, ID: blockerID}}}
	}

	cyclic, err := s.wouldCycle(blockerKind, blockerID, blockedKind, blockedID)
	if err != nil {
		return nil, err
	}
	if cyclic {
		return nil, &DependencyError{}
	}

	id := uuid.NewString()
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO dependencies (id, blocker_kind, blocker_id, blocked_kind, blocked_id, resolved, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		id, blockerKind, blockerID, blockedKind, blockedID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert dependency: %w", err)
	}

	return &Dependency{
		ID: id, BlockerKind: blockerKind, BlockerID: blockerID,
		BlockedKind: blockedKind, BlockedID: blockedID,
		Resolved: false, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// wouldCycle walks edges blocked->blocker transitively starting from the
// proposed blocker; if it reaches the proposed blocked node, adding this
// edge would close a cycle.
func (s *Store) wouldCycle(blockerKind, blockerID, blockedKind, blockedID string) (bool, error) {
	visited := map[string]bool{}
	var walk func(kind, id string) (bool, error)
	walk = func(kind, id string) (bool, error) {
		key := kind + ":" + id
		if key == blockedKind+":"+blockedID {
			return true, nil
		}
		if visited[key] {
			return false, nil
		}
		visited[key] = true

		rows, err := s.db.Query(
			`SELECT blocker_kind, blocker_id FROM dependencies WHERE blocked_kind = ? AND blocked_id = ?`,
			kind, id,
		)
		if err != nil {
			return false, fmt.Errorf("walk dependency edges: %w", err)
		}
		defer rows.Close()

		var edges [][2]string
		for rows.Next() {
			var k, i string
			if err := rows.Scan(&k, &i); err != nil {
				return false, err
			}
			edges = append(edges, [2]string{k, i})
		}
		if err := rows.Err(); err != nil {
			return false, err
		}

		for _, e := range edges {
			hit, err := walk(e[0], e[1])
			if err != nil {
				return false, err
			}
			if hit {
				return true, nil
			}
		}
		return false, nil
	}
	return walk(blockerKind, blockerID)
}

// MarkDependencyResolved flips a single dependency edge to resolved,
// independent of its blocker's own status — used when an issue's checked
// task-list item `[x] #N` resolves the corresponding dependency directly
// (§4.4 step 1), rather than waiting for the blocker roadmap item itself to
// reach done.
func (s *Store) MarkDependencyResolved(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE dependencies SET resolved = 1, updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("mark dependency resolved: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveDependency deletes a dependency edge by id.
func (s *Store) RemoveDependency(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM dependencies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete dependency: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDependencies returns every dependency edge where (kind,id) is the
// blocked side.
func (s *Store) ListDependencies(kind, id string) ([]Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listDependenciesLocked(kind, id)
}

func (s *Store) listDependenciesLocked(kind, id string) ([]Dependency, error) {
	rows, err := s.db.Query(
		`SELECT id, blocker_kind, blocker_id, blocked_kind, blocked_id, resolved, created_at, updated_at
		 FROM dependencies WHERE blocked_kind = ? AND blocked_id = ?`,
		kind, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []Dependency
	for rows.Next() {
		var d Dependency
		var resolved int
		if err := rows.Scan(&d.ID, &d.BlockerKind, &d.BlockerID, &d.BlockedKind, &d.BlockedID, &resolved, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Resolved = resolved != 0
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// HasUnresolvedDependencies reports whether (kind,id) has any unresolved
// blocking dependency.
func (s *Store) HasUnresolvedDependencies(kind, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM dependencies WHERE blocked_kind = ? AND blocked_id = ? AND resolved = 0`,
		kind, id,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count unresolved dependencies: %w", err)
	}
	return count > 0, nil
}

// GetDependenciesWithDetails joins each unresolved dependency into its
// blocker's display row (title, status), for 400-response blocker lists
// (§8 scenario B).
func (s *Store) GetDependenciesWithDetails(kind, id string) ([]BlockerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deps, err := s.listDependenciesLocked(kind, id)
	if err != nil {
		return nil, err
	}

	var out []BlockerInfo
	for _, d := range deps {
		if d.Resolved {
			continue
		}
		info := BlockerInfo{Kind: d.BlockerKind, ID: d.BlockerID}
		switch d.BlockerKind {
		case "roadmap_item":
			var title, status string
			err := s.db.QueryRow(`SELECT title, status FROM roadmap_items WHERE id = ?`, d.BlockerID).Scan(&title, &status)
			if err == nil {
				info.Title, info.Status = title, status
			} else if !isNoRows(err) {
				return nil, err
			}
		case "spec":
			var status string
			err := s.db.QueryRow(`SELECT status FROM specs WHERE id = ?`, d.BlockerID).Scan(&status)
			if err == nil {
				info.Status = status
			} else if !isNoRows(err) {
				return nil, err
			}
		case "task_group":
			var name, status string
			err := s.db.QueryRow(`SELECT name, status FROM task_groups WHERE id = ?`, d.BlockerID).Scan(&name, &status)
			if err == nil {
				info.Title, info.Status = name, status
			} else if !isNoRows(err) {
				return nil, err
			}
		case "task":
			var status string
			err := s.db.QueryRow(`SELECT status FROM tasks WHERE id = ?`, d.BlockerID).Scan(&status)
			if err == nil {
				info.Status = status
			} else if !isNoRows(err) {
				return nil, err
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// resolveDependenciesForBlockerLocked marks every dependency with the given
// blocker resolved, atomically within tx (called from the caller's
// transaction so the blocker's own status write and the dependency
// resolution commit together — invariant 4).
func resolveDependenciesForBlockerLocked(tx *sql.Tx, blockerKind, blockerID string) error {
	_, err := tx.Exec(
		`UPDATE dependencies SET resolved = 1, updated_at = ? WHERE blocker_kind = ? AND blocker_id = ? AND resolved = 0`,
		time.Now(), blockerKind, blockerID,
	)
	if err != nil {
		return fmt.Errorf("resolve dependencies for blocker: %w", err)
	}
	return nil
}
