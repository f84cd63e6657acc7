package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/logging"
	"github.com/dmitrijs2005/availwatch/internal/server/models"
	"github.com/dmitrijs2005/availwatch/internal/server/notify"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	maxProfileNameLength = 100
	maxWatchedItems      = 1000
	unsubscribeTokenSize = 32
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 500
)

// ProfileInput is the owner-supplied part of a profile. Target is the
// plaintext channel URL; it is ignored for email profiles, which always
// deliver to the owner's verified address.
type ProfileInput struct {
	Name         string
	FilterMode   models.FilterMode
	ChannelKind  models.ChannelKind
	Target       string
	WatchedCIIDs []string
}

// ProfileView is what callers outside the dispatcher may see of a profile.
// It never carries the target, encrypted or not.
type ProfileView struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	FilterMode   models.FilterMode  `json:"filter_mode"`
	ChannelKind  models.ChannelKind `json:"channel_kind"`
	WatchedCIIDs []string           `json:"watched_ci_ids"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Flagged      bool               `json:"flagged"`
	FlagReason   string             `json:"flag_reason,omitempty"`
	Owner        string             `json:"owner,omitempty"`
}

// SubscriptionService manages notification profiles on behalf of verified
// identities, unsubscribe links and operators.
type SubscriptionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	vault       SecretBox
	log         logging.Logger
}

func NewSubscriptionService(db *sql.DB, rm repomanager.RepositoryManager, vault SecretBox, log logging.Logger) *SubscriptionService {
	return &SubscriptionService{
		db:          db,
		repomanager: rm,
		vault:       vault,
		log:         log.With("module", "subscriptions"),
	}
}

func (s *SubscriptionService) Create(ctx context.Context, owner string, in ProfileInput) (*ProfileView, error) {
	if err := normalizeInput(&in, true); err != nil {
		return nil, err
	}

	encrypted, err := s.encryptTarget(owner, in)
	if err != nil {
		return nil, err
	}

	token, err := common.MakeRandURLToken(unsubscribeTokenSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}

	p := &models.NotificationProfile{
		ID:               uuid.NewString(),
		OwnerIdentity:    owner,
		Name:             in.Name,
		FilterMode:       in.FilterMode,
		ChannelKind:      in.ChannelKind,
		EncryptedTarget:  encrypted,
		WatchedCIIDs:     in.WatchedCIIDs,
		UnsubscribeToken: token,
	}

	p, err = s.repomanager.Profiles(s.db).Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStore, err)
	}

	s.log.Info(ctx, "profile created", "profile", p.ID, "channel", string(p.ChannelKind))
	return toView(p, false), nil
}

// Update replaces name, filter, channel and watched items. An empty target
// keeps the stored one when the channel kind does not change. Updating
// clears an operator flag.
func (s *SubscriptionService) Update(ctx context.Context, owner, id string, in ProfileInput) (*ProfileView, error) {
	repo := s.repomanager.Profiles(s.db)

	p, err := repo.Get(ctx, id, owner)
	if err != nil {
		return nil, storeErr(err)
	}

	keepTarget := in.ChannelKind == models.ChannelApprise && p.ChannelKind == models.ChannelApprise && strings.TrimSpace(in.Target) == ""
	if err := normalizeInput(&in, !keepTarget); err != nil {
		return nil, err
	}

	if !keepTarget {
		encrypted, err := s.encryptTarget(owner, in)
		if err != nil {
			return nil, err
		}
		p.EncryptedTarget = encrypted
	}
	p.Name = in.Name
	p.FilterMode = in.FilterMode
	p.ChannelKind = in.ChannelKind
	p.WatchedCIIDs = in.WatchedCIIDs

	if err := repo.Update(ctx, p); err != nil {
		return nil, storeErr(err)
	}

	updated, err := repo.Get(ctx, id, owner)
	if err != nil {
		return nil, storeErr(err)
	}
	s.log.Info(ctx, "profile updated", "profile", id)
	return toView(updated, false), nil
}

func (s *SubscriptionService) Get(ctx context.Context, owner, id string) (*ProfileView, error) {
	p, err := s.repomanager.Profiles(s.db).Get(ctx, id, owner)
	if err != nil {
		return nil, storeErr(err)
	}
	return toView(p, false), nil
}

func (s *SubscriptionService) List(ctx context.Context, owner string) ([]*ProfileView, error) {
	ps, err := s.repomanager.Profiles(s.db).ListByOwner(ctx, owner)
	if err != nil {
		return nil, storeErr(err)
	}
	return toViews(ps, false), nil
}

func (s *SubscriptionService) Delete(ctx context.Context, owner, id string) error {
	if err := s.repomanager.Profiles(s.db).Delete(ctx, id, owner); err != nil {
		return storeErr(err)
	}
	s.log.Info(ctx, "profile deleted", "profile", id)
	return nil
}

// Deliveries lists the newest delivery outcomes of an owned profile.
func (s *SubscriptionService) Deliveries(ctx context.Context, owner, id string, limit int) ([]models.DeliveryLog, error) {
	if _, err := s.repomanager.Profiles(s.db).Get(ctx, id, owner); err != nil {
		return nil, storeErr(err)
	}
	if limit <= 0 {
		limit = defaultDeliveryLimit
	}
	limit = min(limit, maxDeliveryLimit)

	logs, err := s.repomanager.Deliveries(s.db).ListByProfile(ctx, id, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return logs, nil
}

// Unsubscribe deletes the single profile owning token. No session is needed.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return common.ErrorNotFound
	}
	if err := s.repomanager.Profiles(s.db).DeleteByUnsubscribeToken(ctx, token); err != nil {
		return storeErr(err)
	}
	s.log.Info(ctx, "profile unsubscribed")
	return nil
}

// AdminDelete removes any profile regardless of owner.
func (s *SubscriptionService) AdminDelete(ctx context.Context, id string) error {
	if err := s.repomanager.Profiles(s.db).DeleteByID(ctx, id); err != nil {
		return storeErr(err)
	}
	s.log.Info(ctx, "profile deleted by operator", "profile", id)
	return nil
}

// ListFlagged returns profiles awaiting operator review, with their owners.
func (s *SubscriptionService) ListFlagged(ctx context.Context) ([]*ProfileView, error) {
	ps, err := s.repomanager.Profiles(s.db).ListFlagged(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return toViews(ps, true), nil
}

func (s *SubscriptionService) Unflag(ctx context.Context, id string) error {
	if err := s.repomanager.Profiles(s.db).Unflag(ctx, id); err != nil {
		return storeErr(err)
	}
	s.log.Info(ctx, "profile unflagged", "profile", id)
	return nil
}

func (s *SubscriptionService) encryptTarget(owner string, in ProfileInput) (string, error) {
	target := in.Target
	if in.ChannelKind == models.ChannelEmail {
		target = owner
	}
	encrypted, err := s.vault.Encrypt(target)
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}
	return encrypted, nil
}

// normalizeInput validates in and fills defaults. requireTarget is false
// when an apprise profile keeps its stored target.
func normalizeInput(in *ProfileInput, requireTarget bool) error {
	in.Name = strings.TrimSpace(in.Name)
	if len(in.Name) > maxProfileNameLength {
		return fmt.Errorf("%w: name is too long", common.ErrValidation)
	}

	switch in.FilterMode {
	case "":
		in.FilterMode = models.FilterInclude
	case models.FilterInclude, models.FilterExclude:
	default:
		return fmt.Errorf("%w: filter_mode must be include or exclude", common.ErrValidation)
	}

	switch in.ChannelKind {
	case models.ChannelEmail:
		in.Target = ""
	case models.ChannelApprise:
		in.Target = strings.TrimSpace(in.Target)
		if requireTarget && notify.Scheme(in.Target) == "" {
			return fmt.Errorf("%w: target must be a channel URL", common.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: channel_kind must be apprise or email", common.ErrValidation)
	}

	seen := make(map[string]struct{}, len(in.WatchedCIIDs))
	ids := make([]string, 0, len(in.WatchedCIIDs))
	for _, id := range in.WatchedCIIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) > maxWatchedItems {
		return fmt.Errorf("%w: too many watched items", common.ErrValidation)
	}
	in.WatchedCIIDs = ids
	return nil
}

func toView(p *models.NotificationProfile, withOwner bool) *ProfileView {
	v := &ProfileView{
		ID:           p.ID,
		Name:         p.Name,
		FilterMode:   p.FilterMode,
		ChannelKind:  p.ChannelKind,
		WatchedCIIDs: p.WatchedCIIDs,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
		Flagged:      p.Flagged(),
		FlagReason:   p.FlagReason,
	}
	if v.WatchedCIIDs == nil {
		v.WatchedCIIDs = []string{}
	}
	if withOwner {
		v.Owner = p.OwnerIdentity
	}
	return v
}

func toViews(ps []*models.NotificationProfile, withOwner bool) []*ProfileView {
	out := make([]*ProfileView, 0, len(ps))
	for _, p := range ps {
		out = append(out, toView(p, withOwner))
	}
	return out
}

// storeErr keeps common.ErrorNotFound visible and files everything else
// under common.ErrStore.
func storeErr(err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrorNotFound
	}
	return fmt.Errorf("%w: %w", common.ErrStore, err)
}
