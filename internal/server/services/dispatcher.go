package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/logging"
	"github.com/dmitrijs2005/availwatch/internal/server/config"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/dmitrijs2005/availwatch/internal/server/notify"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/repomanager"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// DispatchReport summarises one dispatch run.
type DispatchReport struct {
	Events   int
	Matched  int
	Sent     int
	Failed   int
	Flagged  int
	Skipped  int
	Attempts int
}

// Dispatcher delivers transition events to every matching profile. Each
// profile gets one digest per run and is handled independently of the
// others.
type Dispatcher struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	vault         SecretBox
	sender        notify.Sender
	emailTemplate *notify.URLTemplate
	log           logging.Logger

	maxAttempts    int
	baseBackoff    time.Duration
	concurrency    int
	sendTimeout    time.Duration
	unsubscribeURL string
	publicBaseURL  string
	adminEmail     string
	clock          clock
}

func NewDispatcher(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, vault SecretBox,
	sender notify.Sender, emailTemplate *notify.URLTemplate, log logging.Logger) *Dispatcher {
	return &Dispatcher{
		db:             db,
		repomanager:    rm,
		vault:          vault,
		sender:         sender,
		emailTemplate:  emailTemplate,
		log:            log.With("module", "dispatcher"),
		maxAttempts:    cfg.DispatchMaxAttempts,
		baseBackoff:    cfg.DispatchBaseBackoff,
		concurrency:    cfg.DispatchConcurrency,
		sendTimeout:    cfg.SendTimeout,
		unsubscribeURL: cfg.UnsubscribeBaseURL,
		publicBaseURL:  cfg.PublicBaseURL,
		adminEmail:     strings.ToLower(strings.TrimSpace(cfg.AdminEmail)),
	}
}

// Dispatch notifies every active profile matching at least one event. Only a
// failure to load profiles is returned; per-profile failures are recorded in
// the delivery log and the report.
func (d *Dispatcher) Dispatch(ctx context.Context, events []models.TransitionEvent) (DispatchReport, error) {
	report := DispatchReport{Events: len(events)}
	if len(events) == 0 {
		return report, nil
	}

	profiles, err := d.repomanager.Profiles(d.db).ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: load profiles: %w", common.ErrStore, err)
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}

	for _, p := range profiles {
		matched := matchEvents(p, events)
		if len(matched) == 0 {
			continue
		}
		if p.Flagged() {
			mu.Lock()
			report.Skipped++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			r := d.deliver(ctx, p, matched)

			mu.Lock()
			defer mu.Unlock()
			report.Matched++
			report.Attempts += r.attempts
			switch r.outcome {
			case notify.Success:
				report.Sent++
			case notify.PermanentFailure:
				report.Failed++
				if r.flagged {
					report.Flagged++
				}
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	d.log.Info(ctx, "dispatch finished",
		"events", report.Events, "matched", report.Matched, "sent", report.Sent,
		"failed", report.Failed, "flagged", report.Flagged, "skipped", report.Skipped)

	return report, nil
}

type deliveryResult struct {
	outcome  notify.Outcome
	attempts int
	flagged  bool
}

func (d *Dispatcher) deliver(ctx context.Context, p *models.NotificationProfile, events []models.TransitionEvent) deliveryResult {
	log := d.log.With("profile", p.ID)

	target, err := d.resolveTarget(p)
	if err != nil {
		log.Warn(ctx, "profile unusable", "error", err)
		d.record(ctx, p, events, models.DeliveryFailed, 0, err.Error())
		return deliveryResult{outcome: notify.PermanentFailure}
	}

	opts := notify.DigestOptions{RecipientName: p.Name, PublicBaseURL: d.publicBaseURL}
	if d.adminEmail == "" || strings.ToLower(p.OwnerIdentity) != d.adminEmail {
		opts.UnsubscribeURL = notify.UnsubscribeURL(d.unsubscribeURL, p.UnsubscribeToken)
	}
	digest := notify.ComposeDigest(events, opts)
	scheme := notify.Scheme(target)
	msg := notify.Prepare(scheme, digest.Title, digest.BodyHTML, digest.DetailURL)

	attempts, err := d.send(ctx, target, msg)
	outcome := notify.Classify(err)
	if outcome == notify.Success {
		d.record(ctx, p, events, models.DeliverySent, attempts, "")
		return deliveryResult{outcome: outcome, attempts: attempts}
	}

	log.Warn(ctx, "delivery failed", "scheme", scheme, "attempts", attempts, "outcome", outcome.String(), "error", err)
	d.record(ctx, p, events, models.DeliveryFailed, attempts, err.Error())

	res := deliveryResult{outcome: outcome, attempts: attempts}
	if outcome == notify.PermanentFailure {
		if ferr := d.repomanager.Profiles(d.db).Flag(ctx, p.ID, err.Error(), d.clock.now()); ferr != nil {
			log.Error(ctx, "flag profile", "error", ferr)
		} else {
			res.flagged = true
		}
	}
	return res
}

// resolveTarget decrypts the profile target into a channel URL. Failures
// wrap common.ErrDecryption or common.ErrDeliveryPermanent.
func (d *Dispatcher) resolveTarget(p *models.NotificationProfile) (string, error) {
	plain, err := d.vault.Decrypt(p.EncryptedTarget)
	if err != nil {
		return "", fmt.Errorf("target could not be decrypted: %w", common.ErrDecryption)
	}
	if p.ChannelKind != models.ChannelEmail {
		return plain, nil
	}
	if d.emailTemplate == nil {
		return "", fmt.Errorf("%w: email channel is not configured", common.ErrDeliveryPermanent)
	}
	return d.emailTemplate.Render(plain, ""), nil
}

// send retries transient failures with exponential backoff and returns the
// number of attempts made.
func (d *Dispatcher) send(ctx context.Context, target string, msg notify.Message) (int, error) {
	attempts := 0
	maxAttempts := max(d.maxAttempts, 1)
	b := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewExponential(max(d.baseBackoff, time.Millisecond)))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()

		err := d.sender.Send(sctx, target, msg)
		if notify.Classify(err) == notify.TransientFailure {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && notify.Classify(err) != notify.PermanentFailure && !errors.Is(err, common.ErrDeliveryTransient) {
		err = fmt.Errorf("%w: %w", common.ErrDeliveryTransient, err)
	}
	return attempts, err
}

func (d *Dispatcher) record(ctx context.Context, p *models.NotificationProfile, events []models.TransitionEvent,
	status models.DeliveryStatus, attempts int, errMsg string) {
	repo := d.repomanager.Deliveries(d.db)
	for _, e := range events {
		entry := &models.DeliveryLog{
			ProfileID:    p.ID,
			CIID:         e.CIID,
			Kind:         models.KindOf(e),
			Status:       status,
			Attempts:     attempts,
			ErrorMessage: errMsg,
		}
		if err := repo.Log(ctx, entry); err != nil {
			d.log.Error(ctx, "delivery log not written", "profile", p.ID, "ci", e.CIID, "error", err)
		}
	}
}

func matchEvents(p *models.NotificationProfile, events []models.TransitionEvent) []models.TransitionEvent {
	var out []models.TransitionEvent
	for _, e := range events {
		if p.Matches(e.CIID) {
			out = append(out, e)
		}
	}
	return out
}
