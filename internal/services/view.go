package services

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/maxaizer/jobsync/internal/domain/models"
	"github.com/samber/lo"
)

// FacetFilters are multi-select filters. An empty selection lets everything through.
type FacetFilters struct {
	Sites     []models.Site
	Locations []string
}

func (f FacetFilters) clone() FacetFilters {
	return FacetFilters{Sites: slices.Clone(f.Sites), Locations: slices.Clone(f.Locations)}
}

func (f FacetFilters) key() string {
	sites := lo.Map(f.Sites, func(site models.Site, _ int) string { return string(site) })
	locations := slices.Clone(f.Locations)
	sort.Strings(sites)
	sort.Strings(locations)
	return strings.Join(sites, "\x00") + "\x01" + strings.Join(locations, "\x00")
}

// FacetOptions are the values a user can pick from for each facet.
type FacetOptions struct {
	Sites     []models.Site
	Locations []string
}

// DeriveView projects the collection for one session: session scope, then status, then facets.
func DeriveView(collection []models.JobRecord, session models.Session, status models.Status,
	facets FacetFilters) []models.JobRecord {

	base := scopeAndStatus(collection, session, status)

	sites := lo.SliceToMap(facets.Sites, func(site models.Site) (models.Site, struct{}) { return site, struct{}{} })
	locations := lo.SliceToMap(facets.Locations, func(l string) (string, struct{}) { return l, struct{}{} })

	return lo.Filter(base, func(job models.JobRecord, _ int) bool {
		if len(sites) > 0 {
			if _, ok := sites[job.SourceSite]; !ok {
				return false
			}
		}
		if len(locations) > 0 {
			if _, ok := locations[job.Location]; !ok {
				return false
			}
		}
		return true
	})
}

// DeriveFacetOptions lists the sites and locations present in the session scoped,
// status filtered collection, ignoring the facet selections themselves.
func DeriveFacetOptions(collection []models.JobRecord, session models.Session, status models.Status) FacetOptions {
	base := scopeAndStatus(collection, session, status)

	sites := lo.Uniq(lo.Compact(lo.Map(base, func(job models.JobRecord, _ int) models.Site { return job.SourceSite })))
	locations := lo.Uniq(lo.Compact(lo.Map(base, func(job models.JobRecord, _ int) string { return job.Location })))
	slices.Sort(sites)
	slices.Sort(locations)

	return FacetOptions{Sites: sites, Locations: locations}
}

func scopeAndStatus(collection []models.JobRecord, session models.Session, status models.Status) []models.JobRecord {
	if status == "" {
		status = models.StatusNew
	}

	var inScope func(job models.JobRecord) bool
	switch session.Kind {
	case models.KindAllHistory:
		inScope = func(models.JobRecord) bool { return true }
	case models.KindResult:
		batches := lo.SliceToMap(session.BatchIDs, func(id string) (string, struct{}) { return id, struct{}{} })
		inScope = func(job models.JobRecord) bool {
			_, ok := batches[job.BatchID]
			return ok
		}
	default:
		return []models.JobRecord{}
	}

	return lo.Filter(collection, func(job models.JobRecord, _ int) bool {
		return job.Status == status && inScope(job)
	})
}

type viewKey struct {
	version   uint64
	sessionID string
	kind      models.SessionKind
	batches   int
	status    models.Status
	facets    string
}

// Viewer memoizes the last derived view so repeated reads between collection changes are free.
type Viewer struct {
	mu      sync.Mutex
	key     viewKey
	valid   bool
	view    []models.JobRecord
	options FacetOptions
}

func (v *Viewer) Derive(collection []models.JobRecord, version uint64, session models.Session,
	status models.Status, facets FacetFilters) ([]models.JobRecord, FacetOptions) {

	key := viewKey{
		version:   version,
		sessionID: session.ID,
		kind:      session.Kind,
		batches:   len(session.BatchIDs),
		status:    status,
		facets:    facets.key(),
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.valid || v.key != key {
		v.view = DeriveView(collection, session, status, facets)
		v.options = DeriveFacetOptions(collection, session, status)
		v.key = key
		v.valid = true
	}
	return v.view, v.options
}
