package storage

// Schema migrations, applied in order on every open. Each statement is
// idempotent (CREATE ... IF NOT EXISTS) so upgrades are re-runs.
var migrations = []string{
	migrationSessions,
	migrationReflexes,
	migrationGoals,
	migrationSubtasks,
	migrationFindings,
	migrationUnknowns,
	migrationDeadEnds,
	migrationMistakes,
	migrationSuggestions,
	migrationAttentionBudgets,
	migrationContextBudgetState,
	migrationEpistemicEvents,
	migrationGroundedBeliefs,
	migrationGroundedVerifications,
	migrationCalibrationTrajectory,
	migrationRollupLogs,
	migrationVectorOutbox,
	migrationIndexes,
}

const migrationSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    ai_id TEXT NOT NULL,
    project_id TEXT,
    start_time TIMESTAMP NOT NULL,
    parent_session_id TEXT,
    end_time TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);
`

const migrationReflexes = `
CREATE TABLE IF NOT EXISTS reflexes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    round INTEGER NOT NULL DEFAULT 1,
    vectors_json TEXT NOT NULL,
    decision TEXT NOT NULL,
    reasoning TEXT,
    reflex_data_json TEXT,
    timestamp TIMESTAMP NOT NULL,
    transaction_id TEXT NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

const migrationGoals = `
CREATE TABLE IF NOT EXISTS goals (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    objective TEXT NOT NULL,
    scope_json TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'open',
    lineage_json TEXT,
    created_timestamp TIMESTAMP NOT NULL,
    completed_timestamp TIMESTAMP,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

const migrationSubtasks = `
CREATE TABLE IF NOT EXISTS subtasks (
    id TEXT PRIMARY KEY,
    goal_id TEXT NOT NULL,
    description TEXT NOT NULL,
    estimated_tokens INTEGER,
    actual_tokens INTEGER,
    completed_timestamp TIMESTAMP,
    epistemic_importance TEXT NOT NULL DEFAULT 'medium',
    FOREIGN KEY (goal_id) REFERENCES goals(id)
);
`

const migrationFindings = `
CREATE TABLE IF NOT EXISTS project_findings (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    goal_id TEXT,
    finding TEXT NOT NULL,
    impact REAL NOT NULL DEFAULT 0.5,
    subject TEXT,
    created_timestamp TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

const migrationUnknowns = `
CREATE TABLE IF NOT EXISTS project_unknowns (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    goal_id TEXT,
    unknown TEXT NOT NULL,
    is_resolved INTEGER NOT NULL DEFAULT 0,
    resolved_by TEXT,
    created_timestamp TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

const migrationDeadEnds = `
CREATE TABLE IF NOT EXISTS project_dead_ends (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    goal_id TEXT,
    approach TEXT NOT NULL,
    why_failed TEXT NOT NULL,
    created_timestamp TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

const migrationMistakes = `
CREATE TABLE IF NOT EXISTS mistakes_made (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    mistake TEXT NOT NULL,
    why_wrong TEXT NOT NULL,
    prevention TEXT,
    cost_estimate TEXT,
    root_cause_vector TEXT,
    created_timestamp TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

const migrationSuggestions = `
CREATE TABLE IF NOT EXISTS suggestions (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    project_id TEXT,
    suggestion TEXT NOT NULL,
    domain TEXT,
    confidence REAL NOT NULL DEFAULT 0.5,
    rationale TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    review_outcome TEXT,
    created_timestamp TIMESTAMP NOT NULL,
    reviewed_timestamp TIMESTAMP,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

const migrationAttentionBudgets = `
CREATE TABLE IF NOT EXISTS attention_budgets (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    total_budget INTEGER NOT NULL,
    allocated INTEGER NOT NULL,
    remaining INTEGER NOT NULL,
    strategy TEXT NOT NULL,
    domain_allocations_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

const migrationContextBudgetState = `
CREATE TABLE IF NOT EXISTS context_budget_state (
    session_id TEXT PRIMARY KEY,
    inventory_json TEXT NOT NULL,
    thresholds_json TEXT NOT NULL,
    page_faults INTEGER NOT NULL DEFAULT 0,
    evictions INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const migrationEpistemicEvents = `
CREATE TABLE IF NOT EXISTS epistemic_events (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    data_json TEXT NOT NULL DEFAULT '{}',
    timestamp TIMESTAMP NOT NULL,
    node_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
`

const migrationGroundedBeliefs = `
CREATE TABLE IF NOT EXISTS grounded_beliefs (
    belief_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    ai_id TEXT NOT NULL,
    vector_name TEXT NOT NULL,
    mean REAL NOT NULL,
    variance REAL NOT NULL,
    evidence_count INTEGER NOT NULL DEFAULT 0,
    last_observation REAL NOT NULL DEFAULT 0,
    last_observation_source TEXT NOT NULL DEFAULT '',
    self_referential_mean REAL,
    divergence REAL,
    last_updated TIMESTAMP NOT NULL,
    phase TEXT NOT NULL DEFAULT 'combined',
    UNIQUE (ai_id, vector_name, phase)
);
`

const migrationGroundedVerifications = `
CREATE TABLE IF NOT EXISTS grounded_verifications (
    verification_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    ai_id TEXT NOT NULL,
    self_assessed_vectors_json TEXT NOT NULL,
    grounded_vectors_json TEXT NOT NULL,
    calibration_gaps_json TEXT NOT NULL,
    grounded_coverage REAL NOT NULL,
    overall_calibration_score REAL NOT NULL,
    evidence_count INTEGER NOT NULL,
    sources_available_json TEXT NOT NULL,
    sources_failed_json TEXT NOT NULL,
    domain TEXT,
    goal_id TEXT,
    phase TEXT NOT NULL DEFAULT 'combined',
    created_at TIMESTAMP NOT NULL
);
`

const migrationCalibrationTrajectory = `
CREATE TABLE IF NOT EXISTS calibration_trajectory (
    point_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    ai_id TEXT NOT NULL,
    vector_name TEXT NOT NULL,
    self_assessed REAL NOT NULL,
    grounded REAL,
    gap REAL,
    domain TEXT,
    goal_id TEXT,
    timestamp TIMESTAMP NOT NULL,
    phase TEXT NOT NULL DEFAULT 'combined'
);
`

const migrationRollupLogs = `
CREATE TABLE IF NOT EXISTS rollup_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    budget_id TEXT,
    agent_name TEXT NOT NULL,
    finding_hash TEXT NOT NULL,
    finding_text TEXT NOT NULL,
    score REAL NOT NULL,
    accepted INTEGER NOT NULL,
    reason TEXT,
    novelty REAL NOT NULL,
    domain_relevance REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL
);
`

const migrationVectorOutbox = `
CREATE TABLE IF NOT EXISTS vector_outbox (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL,
    enqueued_at TIMESTAMP NOT NULL
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_reflexes_session_ts ON reflexes(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_goals_session_id ON goals(session_id);
CREATE INDEX IF NOT EXISTS idx_subtasks_goal_id ON subtasks(goal_id);
CREATE INDEX IF NOT EXISTS idx_findings_session_id ON project_findings(session_id);
CREATE INDEX IF NOT EXISTS idx_unknowns_session_id ON project_unknowns(session_id);
CREATE INDEX IF NOT EXISTS idx_dead_ends_session_id ON project_dead_ends(session_id);
CREATE INDEX IF NOT EXISTS idx_mistakes_session_id ON mistakes_made(session_id);
CREATE INDEX IF NOT EXISTS idx_events_session_ts ON epistemic_events(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type_ts ON epistemic_events(event_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_beliefs_ai_vector ON grounded_beliefs(ai_id, vector_name);
CREATE INDEX IF NOT EXISTS idx_trajectory_ai_vector ON calibration_trajectory(ai_id, vector_name, timestamp);
CREATE INDEX IF NOT EXISTS idx_rollup_session ON rollup_logs(session_id, timestamp);
`
