package service

import (
	"context"
	"errors"
	"testing"

	"github.com/moltbot/relay/internal/model"
	"github.com/moltbot/relay/internal/quota"
)

func TestSendDashboard(t *testing.T) {
	f, _ := newPipelineFixture(t, quota.DefaultLimits())
	ctx := context.Background()

	reply, err := f.pipeline.SendDashboard(ctx, f.tenantID, "hello from the browser")
	if err != nil {
		t.Fatalf("SendDashboard: %v", err)
	}
	if reply.Content != "agent reply" {
		t.Errorf("Content = %q", reply.Content)
	}
	if reply.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Model = %q", reply.Model)
	}

	// Dashboard sessions collapse to the tenant ID
	if got := f.invokes.last()["sessionKey"]; got != f.tenantID {
		t.Errorf("sessionKey = %v, want tenant ID", got)
	}

	msgs, err := f.store.ListDashboardMessages(ctx, f.tenantID, 0)
	if err != nil {
		t.Fatalf("ListDashboardMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("message count = %d, want user + assistant", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hello from the browser" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "agent reply" {
		t.Errorf("assistant message = %+v", msgs[1])
	}
}

func TestSendDashboardQuotaExceeded(t *testing.T) {
	f, _ := newPipelineFixture(t, quota.Limits{Free: 1, Pro: 2000})
	ctx := context.Background()

	rec := &model.UsageRecord{TenantID: f.tenantID, Model: "m"}
	if err := f.store.InsertUsageRecord(ctx, rec); err != nil {
		t.Fatalf("InsertUsageRecord: %v", err)
	}

	_, err := f.pipeline.SendDashboard(ctx, f.tenantID, "one more")
	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("error = %v, want QuotaExceededError", err)
	}
	if qe.Decision.Limit != 1 || qe.Plan != model.PlanFree {
		t.Errorf("rejection = %+v plan %q", qe.Decision, qe.Plan)
	}
	if f.invokes.count() != 0 {
		t.Error("runtime invoked despite quota rejection")
	}

	// Rejected turns leave no history
	msgs, _ := f.store.ListDashboardMessages(ctx, f.tenantID, 0)
	if len(msgs) != 0 {
		t.Errorf("dashboard messages = %d, want 0", len(msgs))
	}
}

func TestSendDashboardDispatchFailure(t *testing.T) {
	f, behavior := newPipelineFixture(t, quota.DefaultLimits())
	behavior.set(500, `{"ok":false,"error":"boom"}`)
	ctx := context.Background()

	_, err := f.pipeline.SendDashboard(ctx, f.tenantID, "hello")
	if err == nil {
		t.Fatal("expected error")
	}

	// Upstream detail never surfaces to the caller
	if got := err.Error(); got != "failed to get agent response" {
		t.Errorf("error = %q", got)
	}
}

func TestClearDashboard(t *testing.T) {
	f, _ := newPipelineFixture(t, quota.DefaultLimits())
	ctx := context.Background()

	if _, err := f.pipeline.SendDashboard(ctx, f.tenantID, "hello"); err != nil {
		t.Fatalf("SendDashboard: %v", err)
	}
	if err := f.pipeline.ClearDashboard(ctx, f.tenantID); err != nil {
		t.Fatalf("ClearDashboard: %v", err)
	}

	msgs, _ := f.store.ListDashboardMessages(ctx, f.tenantID, 0)
	if len(msgs) != 0 {
		t.Errorf("messages remain after clear: %d", len(msgs))
	}
}
