package recon

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"panelsync/internal/config"
	"panelsync/internal/events"
	"panelsync/internal/lock"
	"panelsync/internal/models"
	"panelsync/internal/panel"
	"panelsync/internal/repository"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.Panel{}, &models.VpnAccount{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fakeClient is an in-memory panel adapter.
type fakeClient struct {
	stats    map[string]*panel.ClientStats
	statsErr error
	patches  []panel.ClientPatch
	patchErr error
	pingErr  error
}

func (f *fakeClient) CreateClient(context.Context, string, panel.AccountSpec) (string, error) {
	return "", nil
}

func (f *fakeClient) FetchClientStats(_ context.Context, remoteID string) (*panel.ClientStats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	s, ok := f.stats[remoteID]
	if !ok {
		return nil, panel.ErrClientNotFound
	}
	return s, nil
}

func (f *fakeClient) UpdateClient(_ context.Context, _ string, patch panel.ClientPatch) error {
	if f.patchErr != nil {
		return f.patchErr
	}
	f.patches = append(f.patches, patch)
	return nil
}

func (f *fakeClient) DeleteClient(context.Context, string) error { return nil }
func (f *fakeClient) Ping(context.Context) error                 { return f.pingErr }
func (f *fakeClient) Type() string                               { return "fake" }

type fixture struct {
	engine   *Engine
	accounts *repository.AccountRepository
	panels   *repository.PanelRepository
	bus      *events.Bus
	client   *fakeClient
}

func newFixture(t *testing.T, cfg config.ReconConfig) *fixture {
	t.Helper()
	db := testDB(t)
	client := &fakeClient{stats: make(map[string]*panel.ClientStats)}
	factory := func(*models.Panel, time.Duration) (panel.Client, error) {
		return client, nil
	}

	accounts := repository.NewAccountRepository(db)
	panels := repository.NewPanelRepository(db)
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	bus := events.NewBus()
	engine := New(cfg, accounts, panels, factory,
		NewHealthTracker(cfg.FailureThreshold), bus, lock.NewKeyedMutex(), zap.NewNop())

	return &fixture{engine: engine, accounts: accounts, panels: panels, bus: bus, client: client}
}

func (fx *fixture) seedPanel(t *testing.T, status string) *models.Panel {
	t.Helper()
	p := &models.Panel{Name: "p1", Type: "fake", BaseURL: "https://p1.example.com",
		Protocols: `["vless"]`, Status: status}
	if err := fx.panels.Create(p); err != nil {
		t.Fatalf("create panel: %v", err)
	}
	return p
}

func (fx *fixture) seedAccount(t *testing.T, p *models.Panel, acct *models.VpnAccount) *models.VpnAccount {
	t.Helper()
	acct.PanelID = p.ID
	if acct.Protocol == "" {
		acct.Protocol = "vless"
	}
	if err := fx.accounts.Create(acct); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acct
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestMergeTraffic(t *testing.T) {
	tests := []struct {
		name     string
		stored   int64
		reported int64
		want     int64
	}{
		{"normal growth", 100, 250, 250},
		{"equal", 100, 100, 100},
		{"lower report ignored", 500, 300, 500},
		{"explicit zero resets", 500, 0, 0},
		{"zero stored", 0, 42, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mergeTraffic(tt.stored, tt.reported); got != tt.want {
				t.Errorf("mergeTraffic(%d, %d) = %d, want %d", tt.stored, tt.reported, got, tt.want)
			}
		})
	}
}

func TestSyncExpiresOverLimitAccount(t *testing.T) {
	fx := newFixture(t, config.ReconConfig{GracePeriod: 72 * time.Hour})
	eventCh := fx.bus.Subscribe(16)
	p := fx.seedPanel(t, models.PanelActive)
	acct := fx.seedAccount(t, p, &models.VpnAccount{
		UserID: "u1", RemoteID: "r1", PlanID: 1,
		TrafficLimit: 1000, TrafficUsed: 900,
		ExpiresAt: time.Now().Add(24 * time.Hour),
		Status:    models.AccountActive,
	})
	fx.client.stats["r1"] = &panel.ClientStats{TrafficUsed: 1200, Enabled: true}

	fx.engine.SyncAll(context.Background())

	got, _ := fx.accounts.FindByID(acct.ID)
	if got.Status != models.AccountExpired {
		t.Fatalf("status = %q, want expired", got.Status)
	}
	if got.TrafficUsed != 1200 {
		t.Errorf("traffic_used = %d, want 1200", got.TrafficUsed)
	}
	if !got.ExpiredAt.Valid {
		t.Error("expired_at not stamped")
	}
	if evs := drain(eventCh); len(evs) != 1 || evs[0].AccountID != acct.ID {
		t.Errorf("events = %+v, want one expiry event for account %d", evs, acct.ID)
	}
}

func TestSyncZeroReportResetsTraffic(t *testing.T) {
	fx := newFixture(t, config.ReconConfig{GracePeriod: 72 * time.Hour})
	p := fx.seedPanel(t, models.PanelActive)
	acct := fx.seedAccount(t, p, &models.VpnAccount{
		UserID: "u1", RemoteID: "r1", PlanID: 1,
		TrafficLimit: 1000, TrafficUsed: 800,
		ExpiresAt: time.Now().Add(24 * time.Hour),
		Status:    models.AccountActive,
	})
	fx.client.stats["r1"] = &panel.ClientStats{TrafficUsed: 0, Enabled: true}

	fx.engine.SyncAll(context.Background())

	got, _ := fx.accounts.FindByID(acct.ID)
	if got.TrafficUsed != 0 {
		t.Errorf("traffic_used = %d, want 0 after panel-side reset", got.TrafficUsed)
	}
	if got.Status != models.AccountActive {
		t.Errorf("status = %q, want active", got.Status)
	}
}

func TestSyncUnreachableCountsOncePerCycle(t *testing.T) {
	fx := newFixture(t, config.ReconConfig{GracePeriod: 72 * time.Hour, FailureThreshold: 2})
	p := fx.seedPanel(t, models.PanelActive)
	for i := 0; i < 3; i++ {
		fx.seedAccount(t, p, &models.VpnAccount{
			UserID: "u1", RemoteID: "r" + string(rune('1'+i)), PlanID: uint(i + 1),
			ExpiresAt: time.Now().Add(24 * time.Hour),
			Status:    models.AccountActive,
		})
	}
	fx.client.statsErr = panel.ErrUnreachable

	// Three unreachable accounts in one cycle count as one failure, so a
	// threshold of two is not crossed yet.
	fx.engine.SyncAll(context.Background())
	if fx.engine.Health().Tripped(p.ID) {
		t.Fatal("circuit opened after a single cycle")
	}
	got, _ := fx.panels.FindByID(p.ID)
	if got.Status != models.PanelActive {
		t.Fatalf("panel status = %q, want active", got.Status)
	}

	// Second consecutive failing cycle crosses it.
	fx.engine.SyncAll(context.Background())
	if !fx.engine.Health().Tripped(p.ID) {
		t.Fatal("circuit not opened after threshold cycles")
	}
	got, _ = fx.panels.FindByID(p.ID)
	if got.Status != models.PanelError {
		t.Fatalf("panel status = %q, want error", got.Status)
	}
}

func TestSyncSuspendsAfterGrace(t *testing.T) {
	fx := newFixture(t, config.ReconConfig{GracePeriod: time.Hour})
	p := fx.seedPanel(t, models.PanelActive)
	acct := fx.seedAccount(t, p, &models.VpnAccount{
		UserID: "u1", RemoteID: "r1", PlanID: 1,
		ExpiresAt: time.Now().Add(-3 * time.Hour),
		ExpiredAt: sql.NullTime{Time: time.Now().Add(-2 * time.Hour), Valid: true},
		Status:    models.AccountExpired,
	})
	fx.client.stats["r1"] = &panel.ClientStats{TrafficUsed: 10, Enabled: true}

	fx.engine.SyncAll(context.Background())

	got, _ := fx.accounts.FindByID(acct.ID)
	if got.Status != models.AccountSuspended {
		t.Fatalf("status = %q, want suspended", got.Status)
	}
	if len(fx.client.patches) != 1 {
		t.Fatalf("remote patches = %d, want 1 disable", len(fx.client.patches))
	}
	if en := fx.client.patches[0].Enabled; en == nil || *en {
		t.Error("remote client not disabled")
	}
}

func TestSyncKeepsExpiredWithinGrace(t *testing.T) {
	fx := newFixture(t, config.ReconConfig{GracePeriod: 72 * time.Hour})
	p := fx.seedPanel(t, models.PanelActive)
	acct := fx.seedAccount(t, p, &models.VpnAccount{
		UserID: "u1", RemoteID: "r1", PlanID: 1,
		ExpiresAt: time.Now().Add(-2 * time.Hour),
		ExpiredAt: sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true},
		Status:    models.AccountExpired,
	})
	fx.client.stats["r1"] = &panel.ClientStats{TrafficUsed: 10, Enabled: true}

	fx.engine.SyncAll(context.Background())

	got, _ := fx.accounts.FindByID(acct.ID)
	if got.Status != models.AccountExpired {
		t.Fatalf("status = %q, want expired within grace", got.Status)
	}
	if len(fx.client.patches) != 0 {
		t.Errorf("remote patched during grace window: %+v", fx.client.patches)
	}
}

func TestSyncWarnsNearLimitOnce(t *testing.T) {
	fx := newFixture(t, config.ReconConfig{
		GracePeriod:      72 * time.Hour,
		WarnUsagePercent: 85,
		WarnExpiryWithin: 72 * time.Hour,
	})
	eventCh := fx.bus.Subscribe(16)
	p := fx.seedPanel(t, models.PanelActive)
	acct := fx.seedAccount(t, p, &models.VpnAccount{
		UserID: "u1", RemoteID: "r1", PlanID: 1,
		TrafficLimit: 1000,
		ExpiresAt:    time.Now().Add(30 * 24 * time.Hour),
		Status:       models.AccountActive,
	})
	fx.client.stats["r1"] = &panel.ClientStats{TrafficUsed: 900, Enabled: true}

	fx.engine.SyncAll(context.Background())
	evs := drain(eventCh)
	if len(evs) != 1 || evs[0].Kind != events.AccountWarnedUsage {
		t.Fatalf("events = %+v, want one usage warning", evs)
	}

	// Second cycle with the same usage does not warn again.
	fx.engine.SyncAll(context.Background())
	if evs := drain(eventCh); len(evs) != 0 {
		t.Fatalf("events = %+v, want none on repeat cycle", evs)
	}

	got, _ := fx.accounts.FindByID(acct.ID)
	if !got.WarnedUsage {
		t.Error("warned_usage not persisted")
	}
}

func TestStartRejectsOutOfRangeSchedule(t *testing.T) {
	fx := newFixture(t, config.ReconConfig{IntervalMinutes: 90, GracePeriod: time.Hour})
	if err := fx.engine.Start(); err == nil {
		t.Fatal("expected error for a 90-minute sync interval")
	}

	fx = newFixture(t, config.ReconConfig{IntervalMinutes: 5, ProbeMinutes: 120, GracePeriod: time.Hour})
	if err := fx.engine.Start(); err == nil {
		t.Fatal("expected error for a 120-minute probe interval")
	}

	fx = newFixture(t, config.ReconConfig{IntervalMinutes: 5, ProbeMinutes: 10, GracePeriod: time.Hour})
	if err := fx.engine.Start(); err != nil {
		t.Fatalf("Start with valid schedule: %v", err)
	}
	<-fx.engine.Stop().Done()
}

func TestProbeRecoversErroredPanel(t *testing.T) {
	fx := newFixture(t, config.ReconConfig{GracePeriod: 72 * time.Hour})
	eventCh := fx.bus.Subscribe(16)
	p := fx.seedPanel(t, models.PanelError)

	fx.engine.ProbePanels(context.Background())

	got, _ := fx.panels.FindByID(p.ID)
	if got.Status != models.PanelActive {
		t.Fatalf("panel status = %q, want active after successful probe", got.Status)
	}
	if !got.LastHealthCheckAt.Valid {
		t.Error("last_health_check_at not stamped")
	}
	evs := drain(eventCh)
	var recovered bool
	for _, e := range evs {
		if e.Kind == events.PanelRecovered && e.PanelID == p.ID {
			recovered = true
		}
	}
	if !recovered {
		t.Errorf("events = %+v, want panel recovery", evs)
	}
}
