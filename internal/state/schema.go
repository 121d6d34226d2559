package state

import "fmt"

// migrate applies numbered, idempotent migrations on top of whatever
// schema_migrations.version is currently recorded, following the teacher's
// migration1..11 const-SQL pattern.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var version int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration1},
		{2, migration2},
		{3, migration3},
		{4, migration4},
		{5, migration5},
		{6, migration6},
		{7, migration7},
		{8, migration8},
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("%w: migration %d failed: %v", ErrSchemaMismatch, m.version, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}

	return nil
}

// Migration 1: roadmap items and specs.
const migration1 = `
CREATE TABLE IF NOT EXISTS roadmap_items (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    issue_id TEXT,
    issue_url TEXT,
    github_issue_closed INTEGER DEFAULT 0,
    spec_id TEXT,
    resolution_method TEXT NOT NULL DEFAULT 'merge_and_push',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_roadmap_items_issue_id ON roadmap_items(issue_id) WHERE issue_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS specs (
    id TEXT PRIMARY KEY,
    roadmap_item_id TEXT NOT NULL,
    content TEXT,
    status TEXT NOT NULL DEFAULT 'draft',
    worktree_name TEXT,
    branch_name TEXT,
    error_message TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (roadmap_item_id) REFERENCES roadmap_items(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_specs_roadmap_item ON specs(roadmap_item_id);
CREATE INDEX IF NOT EXISTS idx_specs_status ON specs(status);
`

// Migration 2: task groups and tasks.
const migration2 = `
CREATE TABLE IF NOT EXISTS task_groups (
    id TEXT PRIMARY KEY,
    spec_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    sequence INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (spec_id) REFERENCES specs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_task_groups_spec ON task_groups(spec_id);

CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    commit_hash TEXT,
    sequence INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (group_id) REFERENCES task_groups(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tasks_group ON tasks(group_id);
`

// Migration 3: agent instances and user questions.
const migration3 = `
CREATE TABLE IF NOT EXISTS agent_instances (
    id TEXT PRIMARY KEY,
    role TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'created',
    resume_handle TEXT,
    worktree_name TEXT,
    context_kind TEXT,
    context_id TEXT,
    last_output_at DATETIME,
    started_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_agent_instances_status ON agent_instances(status);
CREATE INDEX IF NOT EXISTS idx_agent_instances_role ON agent_instances(role);

CREATE TABLE IF NOT EXISTS user_questions (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    question TEXT NOT NULL,
    response TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (agent_id) REFERENCES agent_instances(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_user_questions_status ON user_questions(status);
`

// Migration 4: dependency graph and auth state.
const migration4 = `
CREATE TABLE IF NOT EXISTS dependencies (
    id TEXT PRIMARY KEY,
    blocker_kind TEXT NOT NULL,
    blocker_id TEXT NOT NULL,
    blocked_kind TEXT NOT NULL,
    blocked_id TEXT NOT NULL,
    resolved INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_dependencies_blocker ON dependencies(blocker_kind, blocker_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_blocked ON dependencies(blocked_kind, blocked_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_resolved ON dependencies(resolved);

CREATE TABLE IF NOT EXISTS auth_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Migration 5: audit log (SPEC_FULL.md §C.1).
const migration5 = `
CREATE TABLE IF NOT EXISTS agent_audit_log (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    prompt_hash TEXT,
    token_input INTEGER,
    token_output INTEGER,
    duration_ms INTEGER,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (agent_id) REFERENCES agent_instances(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_audit_log_agent ON agent_audit_log(agent_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_created ON agent_audit_log(created_at);
`

// Migration 6: spec conversation threads (SPEC_FULL.md §C.1).
const migration6 = `
CREATE TABLE IF NOT EXISTS spec_conversations (
    id TEXT PRIMARY KEY,
    spec_id TEXT NOT NULL,
    thread_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'open',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    resolved_at DATETIME,
    FOREIGN KEY (spec_id) REFERENCES specs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_spec_conversations_spec ON spec_conversations(spec_id);

CREATE TABLE IF NOT EXISTS conversation_messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    author TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (conversation_id) REFERENCES spec_conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_conversation_messages_conv ON conversation_messages(conversation_id);
`

// Migration 7: default config seed values, matching the teacher's config table convention.
const migration7 = `
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

INSERT OR IGNORE INTO config (key, value) VALUES
    ('branch_prefix', 'devswarm/'),
    ('main_branch', 'main'),
    ('github_sync_interval_seconds', '60'),
    ('tick_interval_seconds', '5'),
    ('coordinator_idle_threshold_seconds', '60');
`

// Migration 8: last_output_at index used by the implicit-completion check
// (a coordinator's idle duration gates completion per §4.4 step 4).
const migration8 = `
CREATE INDEX IF NOT EXISTS idx_agent_instances_last_output ON agent_instances(last_output_at);
`
