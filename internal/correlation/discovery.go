// File path: internal/correlation/discovery.go
package correlation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/excavator-project/excavator/internal/catalog"
	"github.com/excavator-project/excavator/internal/logging"
)

// Surfacer promotes patterns past the confidence and source-diversity
// thresholds into Discoveries and manages supersession.
type Surfacer struct {
	catalog       *catalog.Store
	minConfidence float64
	minSources    int
	now           func() time.Time
}

func NewSurfacer(cat *catalog.Store, minConfidence float64, minSources int) *Surfacer {
	if minConfidence <= 0 {
		minConfidence = 0.7
	}
	if minSources <= 0 {
		minSources = 2
	}
	return &Surfacer{catalog: cat, minConfidence: minConfidence, minSources: minSources, now: time.Now}
}

// discoveryID is stable across runs for the same discovery identity, so a
// re-run updates rather than duplicates.
func discoveryID(discoveryType, title string) string {
	sum := sha256.Sum256([]byte(discoveryType + "|" + title))
	return "disc_" + hex.EncodeToString(sum[:8])
}

// SurfaceAll converts qualifying patterns into discoveries, persists them,
// and marks stale discoveries superseded. User-confirmed or dismissed
// discoveries are locked: supersession skips them, and their confidence
// never silently drops.
func (s *Surfacer) SurfaceAll(ctx context.Context, patterns []Pattern) (int, error) {
	log := logging.With(component)
	now := s.now().UTC()

	surfaced := map[string]bool{}
	count := 0
	for _, p := range patterns {
		if p.Confidence < s.minConfidence {
			continue
		}
		if len(p.SourceFiles) < s.minSources {
			continue
		}
		id := discoveryID(p.Type, p.Title)
		surfaced[id] = true

		evidence, _ := json.Marshal(p.Evidence)
		sources, _ := json.Marshal(append(append([]string{}, p.SourceFiles...), p.SourceEntities...))

		rec := catalog.DiscoveryRecord{
			ID:            id,
			PatternID:     p.ID,
			DiscoveryType: p.Type,
			Title:         p.Title,
			Description:   p.Description,
			Confidence:    p.Confidence,
			EvidenceJSON:  string(evidence),
			SourcesJSON:   string(sources),
			Status:        catalog.DiscoveryNew,
			CreatedAt:     now,
			LastUpdated:   now,
		}

		existing, err := s.catalog.GetDiscovery(ctx, id)
		if err == nil && existing != nil {
			// Keep user state and creation time; never weaken confidence
			// in place.
			rec.Status = existing.Status
			rec.UserNotes = existing.UserNotes
			rec.GraphNodeID = existing.GraphNodeID
			rec.CreatedAt = existing.CreatedAt
			if existing.Confidence > rec.Confidence {
				rec.Confidence = existing.Confidence
			}
			if existing.Status == catalog.DiscoverySuperseded {
				rec.Status = catalog.DiscoveryNew // re-qualified
			}
		}
		if err := s.catalog.UpsertDiscovery(ctx, rec); err != nil {
			return count, fmt.Errorf("store discovery %s: %w", id, err)
		}
		count++
	}

	// Existing discoveries whose backing pattern no longer qualifies are
	// superseded, not deleted. Confirmed/dismissed discoveries are locked
	// against this inside the store.
	all, err := s.catalog.ListDiscoveries(ctx, "", nil, 0)
	if err != nil {
		return count, err
	}
	for _, d := range all {
		if surfaced[d.ID] {
			continue
		}
		if d.Status != catalog.DiscoveryNew {
			continue
		}
		if err := s.catalog.SupersedeDiscovery(ctx, d.ID); err != nil {
			return count, err
		}
	}

	log.Info("discovery surfacing complete", "surfaced", count)
	return count, nil
}

// Confirm locks a discovery as accurate.
func (s *Surfacer) Confirm(ctx context.Context, id, notes string) error {
	return s.feedback(ctx, id, catalog.DiscoveryConfirmed, notes)
}

// Dismiss locks a discovery as inaccurate; it drops out of default views.
func (s *Surfacer) Dismiss(ctx context.Context, id, notes string) error {
	return s.feedback(ctx, id, catalog.DiscoveryDismissed, notes)
}

func (s *Surfacer) feedback(ctx context.Context, id string, status catalog.DiscoveryStatus, notes string) error {
	if _, err := s.catalog.GetDiscovery(ctx, id); err != nil {
		return fmt.Errorf("discovery %s not found: %w", id, err)
	}
	if err := s.catalog.SetDiscoveryFeedback(ctx, id, status, notes); err != nil {
		return err
	}
	logging.With(component).Info("discovery feedback recorded", "id", id, "status", status)
	return nil
}
