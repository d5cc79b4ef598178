package service

import (
	"context"
	"sort"

	"settlement-service/internal/models"
	"settlement-service/internal/util"

	"go.uber.org/zap"
)

// AffiliateStore looks up affiliate records. Implemented by *store.Store.
type AffiliateStore interface {
	GetAffiliateByID(ctx context.Context, id int64) (*models.Affiliate, error)
}

// AffiliateCache is the shared cache in front of affiliate lookups.
// Implemented by *redisclient.Client.
type AffiliateCache interface {
	GetAffiliate(ctx context.Context, affiliateID int64) (*models.Affiliate, error)
	SetAffiliate(ctx context.Context, affiliate *models.Affiliate) error
}

// ResolvedTier is one commission-eligible member of an order's referral
// chain, with the provider wallet the split pays into.
type ResolvedTier struct {
	AffiliateID int64
	Level       int
	WalletID    string
}

// ReferralResolver resolves an order's affiliate chain to the tiers eligible
// for commission. Inactive or missing affiliates are skipped; a lower tier
// is never promoted into a vacant upper tier.
type ReferralResolver struct {
	store  AffiliateStore
	cache  AffiliateCache
	logger *zap.Logger
}

// NewReferralResolver creates a new referral resolver
func NewReferralResolver(store AffiliateStore, cache AffiliateCache) *ReferralResolver {
	return &ReferralResolver{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// Resolve returns the active tiers of the order's chain in level order.
func (r *ReferralResolver) Resolve(ctx context.Context, order *models.Order) ([]ResolvedTier, error) {
	ctx, span := util.StartSpan(ctx, "ReferralResolver.Resolve")
	defer span.End()

	tiers := make([]ResolvedTier, 0, 3)
	for level, affiliateID := range order.AffiliateChain() {
		affiliate, err := r.lookup(ctx, affiliateID)
		if err != nil {
			return nil, err
		}

		if affiliate == nil {
			r.logger.Warn("Affiliate in chain no longer exists, tier skipped",
				zap.Int64("order_id", order.ID),
				zap.Int64("affiliate_id", affiliateID),
				zap.Int("level", level))
			continue
		}
		if affiliate.Status != models.AffiliateStatusActive {
			r.logger.Info("Inactive affiliate skipped",
				zap.Int64("order_id", order.ID),
				zap.Int64("affiliate_id", affiliateID),
				zap.Int("level", level))
			continue
		}
		if affiliate.WalletID == "" {
			r.logger.Warn("Affiliate has no wallet, tier skipped",
				zap.Int64("order_id", order.ID),
				zap.Int64("affiliate_id", affiliateID),
				zap.Int("level", level))
			continue
		}

		tiers = append(tiers, ResolvedTier{
			AffiliateID: affiliate.ID,
			Level:       level,
			WalletID:    affiliate.WalletID,
		})
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Level < tiers[j].Level })
	return tiers, nil
}

// lookup fetches an affiliate, cache first. Cache failures fall through to
// the store; the cache is an optimization, never the source of truth.
func (r *ReferralResolver) lookup(ctx context.Context, affiliateID int64) (*models.Affiliate, error) {
	if r.cache != nil {
		affiliate, err := r.cache.GetAffiliate(ctx, affiliateID)
		if err != nil {
			r.logger.Warn("Affiliate cache lookup failed, falling back to DB",
				zap.Int64("affiliate_id", affiliateID),
				zap.Error(err))
		} else if affiliate != nil {
			return affiliate, nil
		}
	}

	affiliate, err := r.store.GetAffiliateByID(ctx, affiliateID)
	if err != nil {
		return nil, err
	}

	if affiliate != nil && r.cache != nil {
		if err := r.cache.SetAffiliate(ctx, affiliate); err != nil {
			r.logger.Warn("Failed to cache affiliate",
				zap.Int64("affiliate_id", affiliateID),
				zap.Error(err))
		}
	}

	return affiliate, nil
}
