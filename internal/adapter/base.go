package adapter

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/rlorentegh/tramitador/internal/filing"
	"github.com/rlorentegh/tramitador/internal/metrics"
)

// base carries the claim and payload plumbing shared by every adapter
// variant.
type base struct {
	source   filing.SourceID
	claims   filing.ClaimClient
	enricher Enricher
	logger   *zap.Logger
}

// EnsureClaimed delegates to the claim client unless the resource is already
// claimed by this identity, in which case the network call is skipped
// entirely.
func (b *base) EnsureClaimed(ctx context.Context, res filing.Resource) error {
	if res.State == filing.ResourceClaimed {
		if res.ClaimedBy == b.claims.Identity() {
			return nil
		}
		return fmt.Errorf("resource %d: %w", res.ResourceID, filing.ErrOwnershipConflict)
	}
	return b.claims.Claim(ctx, res.ResourceID, res.CaseNumber)
}

// BuildPayloads converts claimed resources into candidates. Address
// enrichment is best effort: any failure falls back to the deterministic
// local transform and the candidate is built regardless.
func (b *base) BuildPayloads(ctx context.Context, claimed []filing.Resource) []filing.ClaimedCandidate {
	candidates := make([]filing.ClaimedCandidate, 0, len(claimed))
	for _, res := range claimed {
		address := b.normalizeAddress(ctx, res)
		candidate := filing.ClaimedCandidate{
			Resource: res,
			Protocol: res.Protocol,
			Payload: filing.Payload{
				ResourceID: res.ResourceID,
				CaseNumber: res.CaseNumber,
				Claimant:   res.Claimant,
				Address:    address,
			},
		}
		if res.NeedsAuthorization {
			candidate.NeedsAuthorization = true
			candidate.AuthorizationType = res.AuthorizationType
			candidate.AuthorizationReason = fmt.Sprintf("case %s requires %s authorization", res.CaseNumber, res.AuthorizationType)
		}
		candidates = append(candidates, candidate)
	}
	return candidates
}

func (b *base) normalizeAddress(ctx context.Context, res filing.Resource) string {
	if b.enricher == nil {
		return NormalizeAddressLocal(res.Address)
	}
	normalized, err := b.enricher.Normalize(ctx, res.Address)
	if err != nil {
		b.logger.Warn("address enrichment unavailable, using local fallback",
			zap.String("source", string(b.source)),
			zap.Int64("resource_id", res.ResourceID),
			zap.Error(err),
		)
		metrics.ObserveEnrichmentFallback()
		return NormalizeAddressLocal(res.Address)
	}
	return normalized
}

// orderFreeFirst sorts candidates free-before-claimed-by-self, preserving
// resource id order within each group.
func orderFreeFirst(resources []filing.Resource) {
	sort.SliceStable(resources, func(i, j int) bool {
		fi, fj := resources[i].State == filing.ResourceFree, resources[j].State == filing.ResourceFree
		if fi != fj {
			return fi
		}
		return resources[i].ResourceID < resources[j].ResourceID
	})
}
