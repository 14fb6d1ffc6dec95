package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/moltbot/relay/internal/model"
)

//go:embed migrations.sql
var migrations embed.FS

// PostgresStore is the production Store backed by Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection, verifies it, and applies migrations.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}
	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	query := `
		SELECT id, external_user_id, COALESCE(name, ''), COALESCE(email, ''), plan,
		       COALESCE(billing_customer_id, ''), COALESCE(billing_subscription_id, ''),
		       created_at, updated_at
		FROM tenants
		WHERE id = $1`

	t := &model.Tenant{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.ExternalUserID, &t.Name, &t.Email, &t.Plan,
		&t.BillingCustomerID, &t.BillingSubscriptionID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying tenant: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetOrCreateTenantByExternalUserID(ctx context.Context, externalUserID string) (*model.Tenant, error) {
	query := `
		INSERT INTO tenants (id, external_user_id)
		VALUES ($1, $2)
		ON CONFLICT (external_user_id) DO UPDATE SET updated_at = tenants.updated_at
		RETURNING id, external_user_id, COALESCE(name, ''), COALESCE(email, ''), plan,
		          COALESCE(billing_customer_id, ''), COALESCE(billing_subscription_id, ''),
		          created_at, updated_at`

	t := &model.Tenant{}
	err := s.db.QueryRowContext(ctx, query, uuid.Must(uuid.NewV7()).String(), externalUserID).Scan(
		&t.ID, &t.ExternalUserID, &t.Name, &t.Email, &t.Plan,
		&t.BillingCustomerID, &t.BillingSubscriptionID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("error upserting tenant: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) SetTenantPlan(ctx context.Context, id string, plan model.Plan) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET plan = $2, updated_at = now() WHERE id = $1`, id, plan)
	if err != nil {
		return fmt.Errorf("error updating tenant plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteTenant(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const connectionColumns = `
	id, tenant_id, channel_id, COALESCE(label, ''), status,
	COALESCE(credentials_enc, ''), metadata, COALESCE(error_message, ''),
	created_at, updated_at
`

func scanConnection(row interface{ Scan(...any) error }) (*model.Connection, error) {
	conn := &model.Connection{}
	var metaRaw []byte
	err := row.Scan(
		&conn.ID, &conn.TenantID, &conn.ChannelID, &conn.Label, &conn.Status,
		&conn.CredentialsEnc, &metaRaw, &conn.ErrorMessage,
		&conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &conn.Metadata); err != nil {
			return nil, fmt.Errorf("error decoding connection metadata: %w", err)
		}
	}
	return conn, nil
}

func (s *PostgresStore) GetConnection(ctx context.Context, tenantID, id string) (*model.Connection, error) {
	query := `SELECT` + connectionColumns + `FROM connections WHERE id = $1 AND tenant_id = $2`
	conn, err := scanConnection(s.db.QueryRowContext(ctx, query, id, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying connection: %w", err)
	}
	return conn, nil
}

func (s *PostgresStore) ListConnectionsByTenant(ctx context.Context, tenantID string) ([]model.Connection, error) {
	query := `SELECT` + connectionColumns + `FROM connections WHERE tenant_id = $1 ORDER BY created_at`
	return s.listConnections(ctx, query, tenantID)
}

func (s *PostgresStore) ListActiveConnectionsByChannel(ctx context.Context, channelID string) ([]model.Connection, error) {
	query := `SELECT` + connectionColumns + `FROM connections WHERE channel_id = $1 AND status = 'active' ORDER BY created_at`
	return s.listConnections(ctx, query, channelID)
}

func (s *PostgresStore) listConnections(ctx context.Context, query string, arg any) ([]model.Connection, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("error querying connections: %w", err)
	}
	defer rows.Close()

	var out []model.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning connection: %w", err)
		}
		out = append(out, *conn)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertConnection(ctx context.Context, conn *model.Connection) error {
	metaRaw, err := json.Marshal(conn.Metadata)
	if err != nil {
		return fmt.Errorf("error encoding connection metadata: %w", err)
	}
	if conn.Metadata == nil {
		metaRaw = []byte("{}")
	}

	query := `
		INSERT INTO connections (id, tenant_id, channel_id, label, status, credentials_enc, metadata, error_message)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, NULLIF($8, ''))
		ON CONFLICT (tenant_id, channel_id) DO UPDATE SET
			label = EXCLUDED.label,
			status = EXCLUDED.status,
			credentials_enc = EXCLUDED.credentials_enc,
			metadata = EXCLUDED.metadata,
			error_message = EXCLUDED.error_message,
			updated_at = now()
		RETURNING` + connectionColumns

	stored, err := scanConnection(s.db.QueryRowContext(ctx, query,
		uuid.Must(uuid.NewV7()).String(), conn.TenantID, conn.ChannelID,
		conn.Label, conn.Status, conn.CredentialsEnc, metaRaw, conn.ErrorMessage,
	))
	if err != nil {
		return fmt.Errorf("error upserting connection: %w", err)
	}
	*conn = *stored
	return nil
}

func (s *PostgresStore) SetConnectionStatus(ctx context.Context, id string, status model.ConnectionStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE connections SET status = $2, error_message = NULLIF($3, ''), updated_at = now() WHERE id = $1`,
		id, status, errorMessage)
	if err != nil {
		return fmt.Errorf("error updating connection status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteConnection(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM connections WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("error deleting connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetAgentConfig(ctx context.Context, tenantID string) (*model.AgentConfig, error) {
	query := `
		SELECT id, tenant_id, slug, COALESCE(name, ''), COALESCE(system_prompt, ''),
		       model, model_provider, created_at, updated_at
		FROM agents
		WHERE tenant_id = $1
		ORDER BY created_at
		LIMIT 1`

	cfg := &model.AgentConfig{}
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Slug, &cfg.Name, &cfg.SystemPrompt,
		&cfg.Model, &cfg.Provider, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying agent config: %w", err)
	}
	return cfg, nil
}

func (s *PostgresStore) InsertUsageRecord(ctx context.Context, rec *model.UsageRecord) error {
	query := `
		INSERT INTO usage_records (id, tenant_id, agent_slug, model, input_tokens, output_tokens, channel_id)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''))
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		uuid.Must(uuid.NewV7()).String(), rec.TenantID, rec.AgentSlug,
		rec.Model, rec.InputTokens, rec.OutputTokens, rec.ChannelID,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("error inserting usage record: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountUsageSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM usage_records WHERE tenant_id = $1 AND created_at >= $2`,
		tenantID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting usage records: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SummarizeUsageSince(ctx context.Context, tenantID string, since time.Time) (*model.UsageSummary, error) {
	sum := &model.UsageSummary{}
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), COALESCE(sum(input_tokens), 0), COALESCE(sum(output_tokens), 0)
		 FROM usage_records WHERE tenant_id = $1 AND created_at >= $2`,
		tenantID, since).Scan(&sum.MessageCount, &sum.InputTokens, &sum.OutputTokens)
	if err != nil {
		return nil, fmt.Errorf("error summarizing usage: %w", err)
	}
	return sum, nil
}

func (s *PostgresStore) InsertDashboardMessage(ctx context.Context, msg *model.DashboardMessage) error {
	query := `
		INSERT INTO dashboard_messages (id, tenant_id, role, content, model, input_tokens, output_tokens)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		uuid.Must(uuid.NewV7()).String(), msg.TenantID, msg.Role, msg.Content,
		msg.Model, msg.InputTokens, msg.OutputTokens,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("error inserting dashboard message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDashboardMessages(ctx context.Context, tenantID string, limit int) ([]model.DashboardMessage, error) {
	// Window onto the newest rows, then re-sort ascending for display.
	// A zero limit means no limit.
	query := `
		SELECT id, tenant_id, role, content, model, input_tokens, output_tokens, created_at
		FROM (
			SELECT id, tenant_id, role, content, COALESCE(model, '') AS model,
			       COALESCE(input_tokens, 0) AS input_tokens,
			       COALESCE(output_tokens, 0) AS output_tokens, created_at
			FROM dashboard_messages
			WHERE tenant_id = $1
			ORDER BY created_at DESC
			LIMIT NULLIF($2, 0)
		) recent
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying dashboard messages: %w", err)
	}
	defer rows.Close()

	var out []model.DashboardMessage
	for rows.Next() {
		var msg model.DashboardMessage
		if err := rows.Scan(
			&msg.ID, &msg.TenantID, &msg.Role, &msg.Content, &msg.Model,
			&msg.InputTokens, &msg.OutputTokens, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning dashboard message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteDashboardMessages(ctx context.Context, tenantID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM dashboard_messages WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("error deleting dashboard messages: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
