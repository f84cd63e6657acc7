package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/logging"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/dmitrijs2005/availwatch/internal/server/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatchFixture struct {
	rm     *fakeRepoManager
	sender *fakeSender
	vault  SecretBox
	d      *Dispatcher
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	db, _ := newSQLMockDB(t)
	rm := newFakeRepoManager()
	sender := &fakeSender{results: map[string][]error{}}
	vault := newTestVault(t)
	tpl, err := notify.ParseURLTemplate("mailtos://bot:pw@mail.test?to={email}")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.AdminEmail = "admin@example.com"
	d := NewDispatcher(db, rm, cfg, vault, sender, tpl, logging.Nop())
	d.clock = fixedClock(t0)

	return &dispatchFixture{rm: rm, sender: sender, vault: vault, d: d}
}

func (f *dispatchFixture) addProfile(t *testing.T, id, owner, target string, watched ...string) *models.NotificationProfile {
	t.Helper()
	enc, err := f.vault.Encrypt(target)
	require.NoError(t, err)
	p := &models.NotificationProfile{
		ID:               id,
		OwnerIdentity:    owner,
		Name:             "profile " + id,
		FilterMode:       models.FilterInclude,
		ChannelKind:      models.ChannelApprise,
		EncryptedTarget:  enc,
		WatchedCIIDs:     watched,
		UnsubscribeToken: "tok-" + id,
	}
	f.rm.profiles.put(p)
	return p
}

func incident(id string) models.TransitionEvent {
	return models.TransitionEvent{
		CIID:          id,
		CIMetadata:    models.CIMetadata{Name: "n", Product: "p", Organization: "o"},
		PreviousState: models.StateAvailable,
		NewState:      models.StateUnavailable,
		OccurredAt:    t0,
	}
}

func TestDispatch_WatchersAndWildcardGetOneSendEach(t *testing.T) {
	f := newDispatchFixture(t)
	f.addProfile(t, "p1", "a@b.com", "tgram://one/1", "CI-100")
	f.addProfile(t, "p2", "c@d.com", "tgram://two/2")
	f.addProfile(t, "p3", "e@f.com", "tgram://three/3", "CI-999")

	report, err := f.d.Dispatch(context.Background(), []models.TransitionEvent{incident("CI-100")})

	require.NoError(t, err)
	assert.Len(t, f.sender.sentTo("tgram://one/1"), 1)
	assert.Len(t, f.sender.sentTo("tgram://two/2"), 1)
	assert.Empty(t, f.sender.sentTo("tgram://three/3"))
	assert.Equal(t, DispatchReport{Events: 1, Matched: 2, Sent: 2, Attempts: 2}, report)

	logs := f.rm.deliveries.byProfile("p1")
	require.Len(t, logs, 1)
	assert.Equal(t, models.DeliverySent, logs[0].Status)
	assert.Equal(t, models.DeliveryIncident, logs[0].Kind)
}

func TestDispatch_PermanentFailureIsolatedAndFlagged(t *testing.T) {
	f := newDispatchFixture(t)
	for i := 1; i <= 5; i++ {
		f.addProfile(t, fmt.Sprintf("p%d", i), "a@b.com", fmt.Sprintf("tgram://bot/%d", i))
	}
	f.sender.results["tgram://bot/3"] = []error{fmt.Errorf("%w: apprise returned 400", common.ErrDeliveryPermanent)}

	report, err := f.d.Dispatch(context.Background(), []models.TransitionEvent{incident("CI-1")})

	require.NoError(t, err)
	assert.Equal(t, 4, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Flagged)
	assert.Len(t, f.sender.sentTo("tgram://bot/3"), 1, "permanent failures are not retried")

	p3 := f.rm.profiles.get("p3")
	require.True(t, p3.Flagged())
	assert.Contains(t, p3.FlagReason, "400")
	assert.False(t, f.rm.profiles.get("p2").Flagged())

	logs := f.rm.deliveries.byProfile("p3")
	require.Len(t, logs, 1)
	assert.Equal(t, models.DeliveryFailed, logs[0].Status)
	assert.NotContains(t, logs[0].ErrorMessage, "tgram://")
}

func TestDispatch_TransientFailureRetried(t *testing.T) {
	f := newDispatchFixture(t)
	f.addProfile(t, "p1", "a@b.com", "tgram://bot/1")
	transient := fmt.Errorf("%w: apprise returned 503", common.ErrDeliveryTransient)
	f.sender.results["tgram://bot/1"] = []error{transient, nil}

	report, err := f.d.Dispatch(context.Background(), []models.TransitionEvent{incident("CI-1")})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 2, report.Attempts)
	assert.Equal(t, 2, f.rm.deliveries.byProfile("p1")[0].Attempts)
}

func TestDispatch_TransientFailureExhausted(t *testing.T) {
	f := newDispatchFixture(t)
	f.addProfile(t, "p1", "a@b.com", "tgram://bot/1")
	f.sender.results["tgram://bot/1"] = []error{errors.New("connection refused")}

	report, err := f.d.Dispatch(context.Background(), []models.TransitionEvent{incident("CI-1")})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Flagged)
	assert.Len(t, f.sender.sentTo("tgram://bot/1"), 3)
	assert.False(t, f.rm.profiles.get("p1").Flagged())

	logs := f.rm.deliveries.byProfile("p1")
	require.Len(t, logs, 1)
	assert.Equal(t, 3, logs[0].Attempts)
	assert.Contains(t, logs[0].ErrorMessage, "connection refused")
}

func TestDispatch_UndecryptableProfileSkipped(t *testing.T) {
	f := newDispatchFixture(t)
	p := f.addProfile(t, "p1", "a@b.com", "tgram://bot/1")
	p.EncryptedTarget = "tampered"
	f.addProfile(t, "p2", "a@b.com", "tgram://bot/2")

	report, err := f.d.Dispatch(context.Background(), []models.TransitionEvent{incident("CI-1")})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, f.rm.profiles.get("p1").Flagged())
	logs := f.rm.deliveries.byProfile("p1")
	require.Len(t, logs, 1)
	assert.Equal(t, 0, logs[0].Attempts)
}

func TestDispatch_FlaggedProfileSkipped(t *testing.T) {
	f := newDispatchFixture(t)
	p := f.addProfile(t, "p1", "a@b.com", "tgram://bot/1")
	at := t0
	p.FlaggedAt = &at

	report, err := f.d.Dispatch(context.Background(), []models.TransitionEvent{incident("CI-1")})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, f.sender.sentTo("tgram://bot/1"))
}

func TestDispatch_DigestAndUnsubscribeLink(t *testing.T) {
	f := newDispatchFixture(t)
	f.addProfile(t, "p1", "a@b.com", "tgram://bot/1")
	f.addProfile(t, "admin", "Admin@Example.com", "tgram://bot/admin")

	recovery := incident("CI-2")
	recovery.PreviousState, recovery.NewState = models.StateUnavailable, models.StateAvailable

	_, err := f.d.Dispatch(context.Background(), []models.TransitionEvent{incident("CI-1"), recovery})
	require.NoError(t, err)

	msgs := f.sender.sentTo("tgram://bot/1")
	require.Len(t, msgs, 1, "one digest per profile")
	assert.Equal(t, notify.FormatMarkdown, msgs[0].Format)
	assert.Contains(t, msgs[0].Body, "CI-1")
	assert.Contains(t, msgs[0].Body, "CI-2")
	assert.Contains(t, msgs[0].Body, "https://status.test/unsubscribe/tok-p1")
	assert.Len(t, f.rm.deliveries.byProfile("p1"), 2)

	adminMsgs := f.sender.sentTo("tgram://bot/admin")
	require.Len(t, adminMsgs, 1)
	assert.NotContains(t, adminMsgs[0].Body, "unsubscribe")
}

func TestDispatch_EmailChannelUsesTemplate(t *testing.T) {
	f := newDispatchFixture(t)
	p := f.addProfile(t, "p1", "a@b.com", "a@b.com")
	p.ChannelKind = models.ChannelEmail

	_, err := f.d.Dispatch(context.Background(), []models.TransitionEvent{incident("CI-1")})
	require.NoError(t, err)

	msgs := f.sender.sentTo("mailtos://bot:pw@mail.test?to=a@b.com")
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.FormatHTML, msgs[0].Format)
	assert.True(t, strings.HasPrefix(msgs[0].Body, "<html"))
}

func TestDispatch_ExcludeFilter(t *testing.T) {
	f := newDispatchFixture(t)
	p := f.addProfile(t, "p1", "a@b.com", "tgram://bot/1", "CI-1")
	p.FilterMode = models.FilterExclude

	report, err := f.d.Dispatch(context.Background(), []models.TransitionEvent{incident("CI-1")})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Matched)

	_, err = f.d.Dispatch(context.Background(), []models.TransitionEvent{incident("CI-2")})
	require.NoError(t, err)
	assert.Len(t, f.sender.sentTo("tgram://bot/1"), 1)
}

func TestDispatch_NoEventsAndLoadError(t *testing.T) {
	f := newDispatchFixture(t)

	report, err := f.d.Dispatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, DispatchReport{}, report)

	f.rm.profiles.listErr = errors.New("db down")
	_, err = f.d.Dispatch(context.Background(), []models.TransitionEvent{incident("CI-1")})
	assert.ErrorIs(t, err, common.ErrStore)
}

func TestDispatch_SendTimeoutIsTransient(t *testing.T) {
	f := newDispatchFixture(t)
	f.addProfile(t, "p1", "a@b.com", "tgram://bot/1")
	f.d.sendTimeout = time.Millisecond
	f.d.maxAttempts = 1
	f.d.sender = senderFunc(func(ctx context.Context, _ string, _ notify.Message) error {
		<-ctx.Done()
		return ctx.Err()
	})

	report, err := f.d.Dispatch(context.Background(), []models.TransitionEvent{incident("CI-1")})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, f.rm.profiles.get("p1").Flagged())
}

type senderFunc func(ctx context.Context, target string, msg notify.Message) error

func (f senderFunc) Send(ctx context.Context, target string, msg notify.Message) error {
	return f(ctx, target, msg)
}
