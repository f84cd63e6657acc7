package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/cryptox"
	"github.com/dmitrijs2005/availwatch/internal/dbx"
	"github.com/dmitrijs2005/availwatch/internal/server/config"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/dmitrijs2005/availwatch/internal/server/notify"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/challenges"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/deliveries"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/items"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/measurements"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/profiles"
	"github.com/stretchr/testify/require"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DispatchBaseBackoff = time.Millisecond
	cfg.DispatchConcurrency = 1
	cfg.DetectConcurrency = 1
	cfg.PublicBaseURL = "https://status.test"
	cfg.UnsubscribeBaseURL = "https://status.test/unsubscribe"
	return cfg
}

func newTestVault(t *testing.T) *cryptox.Vault {
	t.Helper()
	v, err := cryptox.NewVault(common.GenerateRandByteArray(cryptox.KeySize))
	require.NoError(t, err)
	return v
}

func fixedClock(t time.Time) clock {
	return func() time.Time { return t }
}

// --- repository manager ---

type fakeRepoManager struct {
	items        *fakeItems
	measurements *fakeMeasurements
	profiles     *fakeProfiles
	challenges   *fakeChallenges
	deliveries   *fakeDeliveries
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		items:        &fakeItems{byID: map[string]*models.ConfigurationItem{}, failFor: map[string]error{}},
		measurements: &fakeMeasurements{},
		profiles:     &fakeProfiles{byID: map[string]*models.NotificationProfile{}},
		challenges:   &fakeChallenges{},
		deliveries:   &fakeDeliveries{},
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error         { return nil }
func (m *fakeRepoManager) Items(dbx.DBTX) items.Repository                     { return m.items }
func (m *fakeRepoManager) Measurements(dbx.DBTX) measurements.Repository       { return m.measurements }
func (m *fakeRepoManager) Profiles(dbx.DBTX) profiles.Repository               { return m.profiles }
func (m *fakeRepoManager) Challenges(dbx.DBTX) challenges.Repository           { return m.challenges }
func (m *fakeRepoManager) Deliveries(dbx.DBTX) deliveries.Repository           { return m.deliveries }

// --- items ---

type fakeItems struct {
	mu      sync.Mutex
	byID    map[string]*models.ConfigurationItem
	failFor map[string]error
	staleAt time.Time
}

func (f *fakeItems) Upsert(_ context.Context, obs models.Observation, seenAt time.Time) (models.State, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failFor[obs.CIID]; err != nil {
		return "", false, err
	}
	it, ok := f.byID[obs.CIID]
	if !ok {
		f.byID[obs.CIID] = &models.ConfigurationItem{
			ID: obs.CIID, CIMetadata: obs.CIMetadata, CurrentState: obs.State,
			LastChangedAt: obs.Timestamp, LastObservedAt: obs.Timestamp, LastSeenAt: seenAt,
		}
		return models.StateUnknown, true, nil
	}
	prev := it.CurrentState
	it.CIMetadata = obs.CIMetadata
	it.LastSeenAt = seenAt
	it.Stale = false
	if obs.Timestamp.Before(it.LastObservedAt) {
		return prev, false, nil
	}
	if prev != obs.State {
		it.LastChangedAt = obs.Timestamp
	}
	it.CurrentState = obs.State
	it.LastObservedAt = obs.Timestamp
	return prev, true, nil
}

func (f *fakeItems) Get(_ context.Context, id string) (*models.ConfigurationItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *it
	return &c, nil
}

func (f *fakeItems) ListAll(context.Context) ([]*models.ConfigurationItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.ConfigurationItem, 0, len(f.byID))
	for _, it := range f.byID {
		c := *it
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeItems) MarkStale(_ context.Context, seenBefore time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staleAt = seenBefore
	var n int64
	for _, it := range f.byID {
		if !it.Stale && it.LastSeenAt.Before(seenBefore) {
			it.Stale = true
			n++
		}
	}
	return n, nil
}

func (f *fakeItems) state(id string) models.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.byID[id]; ok {
		return it.CurrentState
	}
	return models.StateUnknown
}

// --- measurements ---

type fakeMeasurements struct {
	mu        sync.Mutex
	rows      []models.Measurement
	appendErr error
	prunable  []models.Measurement
	afterList func()
	pruned    time.Time
	pruneErr  error
	deleted   []models.Measurement
	deleteErr error
	history   []models.Measurement
	since     time.Time
	incidents []models.Incident
	limit     int
	metrics   []models.ItemMetrics
	metricsAt time.Time
	metricErr error
}

func (f *fakeMeasurements) Append(_ context.Context, m models.Measurement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.rows = append(f.rows, m)
	return nil
}

func (f *fakeMeasurements) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	f.pruned = olderThan
	if f.pruneErr != nil {
		return 0, f.pruneErr
	}
	return int64(len(f.prunable)), nil
}

func (f *fakeMeasurements) ListPrunable(context.Context, time.Time) ([]models.Measurement, error) {
	listed := append([]models.Measurement(nil), f.prunable...)
	if f.afterList != nil {
		f.afterList()
	}
	return listed, nil
}

func (f *fakeMeasurements) DeleteRows(_ context.Context, rows []models.Measurement) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deleted = append(f.deleted, rows...)
	return int64(len(rows)), nil
}

func (f *fakeMeasurements) History(_ context.Context, _ string, since time.Time) ([]models.Measurement, error) {
	f.since = since
	return f.history, nil
}

func (f *fakeMeasurements) Incidents(_ context.Context, limit int) ([]models.Incident, error) {
	f.limit = limit
	return f.incidents, nil
}

func (f *fakeMeasurements) Metrics(_ context.Context, now time.Time) ([]models.ItemMetrics, error) {
	f.metricsAt = now
	return f.metrics, f.metricErr
}

// --- profiles ---

type fakeProfiles struct {
	mu      sync.Mutex
	byID    map[string]*models.NotificationProfile
	listErr error
}

func (f *fakeProfiles) put(p *models.NotificationProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[p.ID] = p
}

func (f *fakeProfiles) Create(_ context.Context, p *models.NotificationProfile) (*models.NotificationProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.CreatedAt = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	p.UpdatedAt = p.CreatedAt
	c := *p
	f.byID[p.ID] = &c
	return p, nil
}

func (f *fakeProfiles) Update(_ context.Context, p *models.NotificationProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.byID[p.ID]
	if !ok || cur.OwnerIdentity != p.OwnerIdentity {
		return common.ErrorNotFound
	}
	c := *p
	c.FlaggedAt = nil
	c.FlagReason = ""
	f.byID[p.ID] = &c
	return nil
}

func (f *fakeProfiles) Get(_ context.Context, id, owner string) (*models.NotificationProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.OwnerIdentity != owner {
		return nil, common.ErrorNotFound
	}
	c := *p
	return &c, nil
}

func (f *fakeProfiles) list(keep func(*models.NotificationProfile) bool) []*models.NotificationProfile {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.NotificationProfile
	for _, p := range f.byID {
		if keep(p) {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeProfiles) ListByOwner(_ context.Context, owner string) ([]*models.NotificationProfile, error) {
	return f.list(func(p *models.NotificationProfile) bool { return p.OwnerIdentity == owner }), nil
}

func (f *fakeProfiles) ListAll(context.Context) ([]*models.NotificationProfile, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.list(func(*models.NotificationProfile) bool { return true }), nil
}

func (f *fakeProfiles) ListFlagged(context.Context) ([]*models.NotificationProfile, error) {
	return f.list(func(p *models.NotificationProfile) bool { return p.Flagged() }), nil
}

func (f *fakeProfiles) Delete(_ context.Context, id, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.OwnerIdentity != owner {
		return common.ErrorNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeProfiles) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeProfiles) DeleteByUnsubscribeToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, p := range f.byID {
		if p.UnsubscribeToken == token {
			delete(f.byID, id)
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *fakeProfiles) Flag(_ context.Context, id, reason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	p.FlaggedAt = &at
	p.FlagReason = reason
	return nil
}

func (f *fakeProfiles) Unflag(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	p.FlaggedAt = nil
	p.FlagReason = ""
	return nil
}

func (f *fakeProfiles) get(id string) *models.NotificationProfile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

// --- challenges ---

type fakeChallenges struct {
	mu     sync.Mutex
	rows   []*models.OTPChallenge
	nextID int64
	before time.Time
}

func (f *fakeChallenges) Create(_ context.Context, c *models.OTPChallenge) (*models.OTPChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = f.nextID
	cp := *c
	f.rows = append(f.rows, &cp)
	return c, nil
}

func (f *fakeChallenges) InvalidateActive(_ context.Context, identity string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, c := range f.rows {
		if c.Identity == identity && c.ConsumedAt == nil && c.InvalidatedAt == nil {
			t := at
			c.InvalidatedAt = &t
			n++
		}
	}
	return n, nil
}

func (f *fakeChallenges) FindLatestActive(_ context.Context, identity string) (*models.OTPChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rows) - 1; i >= 0; i-- {
		c := f.rows[i]
		if c.Identity == identity && c.ConsumedAt == nil && c.InvalidatedAt == nil {
			cp := *c
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeChallenges) IncrementAttempts(_ context.Context, id int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.ID == id {
			c.AttemptCount++
			return c.AttemptCount, nil
		}
	}
	return 0, common.ErrorNotFound
}

func (f *fakeChallenges) Consume(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.ID == id && c.ConsumedAt == nil {
			t := at
			c.ConsumedAt = &t
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *fakeChallenges) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.before = before
	kept := f.rows[:0]
	var n int64
	for _, c := range f.rows {
		if c.ExpiresAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	f.rows = kept
	return n, nil
}

// --- deliveries ---

type fakeDeliveries struct {
	mu   sync.Mutex
	logs []models.DeliveryLog
}

func (f *fakeDeliveries) Log(_ context.Context, d *models.DeliveryLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, *d)
	return nil
}

func (f *fakeDeliveries) ListByProfile(_ context.Context, profileID string, limit int) ([]models.DeliveryLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DeliveryLog
	for _, d := range f.logs {
		if d.ProfileID == profileID && len(out) < limit {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDeliveries) byProfile(id string) []models.DeliveryLog {
	out, _ := f.ListByProfile(context.Background(), id, 1<<30)
	return out
}

// --- sender ---

type sentMessage struct {
	target string
	msg    notify.Message
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sentMessage
	results map[string][]error
}

func (f *fakeSender) Send(_ context.Context, target string, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{target: target, msg: msg})
	queue := f.results[target]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	if len(queue) > 1 {
		f.results[target] = queue[1:]
	}
	return err
}

func (f *fakeSender) sentTo(target string) []notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Message
	for _, s := range f.sent {
		if s.target == target {
			out = append(out, s.msg)
		}
	}
	return out
}
