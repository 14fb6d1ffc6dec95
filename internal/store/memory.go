package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moltbot/relay/internal/model"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu sync.RWMutex

	tenants           map[string]*model.Tenant
	tenantsByExternal map[string]string
	connections       map[string]*model.Connection
	agents            map[string]*model.AgentConfig // keyed by tenant ID, first-found only
	usage             []model.UsageRecord
	dashboard         []model.DashboardMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:           make(map[string]*model.Tenant),
		tenantsByExternal: make(map[string]string),
		connections:       make(map[string]*model.Connection),
		agents:            make(map[string]*model.AgentConfig),
	}
}

func (s *MemoryStore) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetOrCreateTenantByExternalUserID(ctx context.Context, externalUserID string) (*model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.tenantsByExternal[externalUserID]; ok {
		cp := *s.tenants[id]
		return &cp, nil
	}

	now := time.Now()
	t := &model.Tenant{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ExternalUserID: externalUserID,
		Plan:           model.PlanFree,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.tenants[t.ID] = t
	s.tenantsByExternal[externalUserID] = t.ID
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) SetTenantPlan(ctx context.Context, id string, plan model.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok {
		return ErrNotFound
	}
	t.Plan = plan
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteTenant(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.tenantsByExternal, t.ExternalUserID)
	delete(s.tenants, id)
	delete(s.agents, id)
	for cid, conn := range s.connections {
		if conn.TenantID == id {
			delete(s.connections, cid)
		}
	}

	usage := s.usage[:0]
	for _, rec := range s.usage {
		if rec.TenantID != id {
			usage = append(usage, rec)
		}
	}
	s.usage = usage

	dash := s.dashboard[:0]
	for _, msg := range s.dashboard {
		if msg.TenantID != id {
			dash = append(dash, msg)
		}
	}
	s.dashboard = dash
	return nil
}

func (s *MemoryStore) GetConnection(ctx context.Context, tenantID, id string) (*model.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[id]
	if !ok || conn.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *conn
	return &cp, nil
}

func (s *MemoryStore) ListConnectionsByTenant(ctx context.Context, tenantID string) ([]model.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Connection
	for _, conn := range s.connections {
		if conn.TenantID == tenantID {
			out = append(out, *conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListActiveConnectionsByChannel(ctx context.Context, channelID string) ([]model.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Connection
	for _, conn := range s.connections {
		if conn.ChannelID == channelID && conn.Status == model.ConnectionActive {
			out = append(out, *conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpsertConnection(ctx context.Context, conn *model.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, existing := range s.connections {
		if existing.TenantID == conn.TenantID && existing.ChannelID == conn.ChannelID {
			existing.Label = conn.Label
			existing.Status = conn.Status
			existing.CredentialsEnc = conn.CredentialsEnc
			existing.Metadata = conn.Metadata
			existing.ErrorMessage = conn.ErrorMessage
			existing.UpdatedAt = now
			*conn = *existing
			return nil
		}
	}

	conn.ID = uuid.Must(uuid.NewV7()).String()
	conn.CreatedAt = now
	conn.UpdatedAt = now
	cp := *conn
	s.connections[conn.ID] = &cp
	return nil
}

func (s *MemoryStore) SetConnectionStatus(ctx context.Context, id string, status model.ConnectionStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[id]
	if !ok {
		return ErrNotFound
	}
	conn.Status = status
	conn.ErrorMessage = errorMessage
	conn.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteConnection(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[id]
	if !ok || conn.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.connections, id)
	return nil
}

// SetAgentConfig installs a tenant's agent configuration. Used by tests.
func (s *MemoryStore) SetAgentConfig(cfg *model.AgentConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[cfg.TenantID] = cfg
}

func (s *MemoryStore) GetAgentConfig(ctx context.Context, tenantID string) (*model.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.agents[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (s *MemoryStore) InsertUsageRecord(ctx context.Context, rec *model.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = uuid.Must(uuid.NewV7()).String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.usage = append(s.usage, *rec)
	return nil
}

func (s *MemoryStore) CountUsageSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, rec := range s.usage {
		if rec.TenantID == tenantID && !rec.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SummarizeUsageSince(ctx context.Context, tenantID string, since time.Time) (*model.UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &model.UsageSummary{}
	for _, rec := range s.usage {
		if rec.TenantID == tenantID && !rec.CreatedAt.Before(since) {
			sum.MessageCount++
			sum.InputTokens += rec.InputTokens
			sum.OutputTokens += rec.OutputTokens
		}
	}
	return sum, nil
}

func (s *MemoryStore) InsertDashboardMessage(ctx context.Context, msg *model.DashboardMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = uuid.Must(uuid.NewV7()).String()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.dashboard = append(s.dashboard, *msg)
	return nil
}

func (s *MemoryStore) ListDashboardMessages(ctx context.Context, tenantID string, limit int) ([]model.DashboardMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.DashboardMessage
	for _, msg := range s.dashboard {
		if msg.TenantID == tenantID {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) DeleteDashboardMessages(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.dashboard[:0]
	for _, msg := range s.dashboard {
		if msg.TenantID != tenantID {
			kept = append(kept, msg)
		}
	}
	s.dashboard = kept
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
