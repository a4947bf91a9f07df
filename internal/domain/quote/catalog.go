package quote

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// CatalogLoadFailedMessage is shown when any part of a catalog load fails.
const CatalogLoadFailedMessage = "No se pudo cargar el catálogo. Intenta de nuevo."

// CatalogQuery selects the priced catalog to fetch. Clinic and Margin only
// apply to Provincia.
type CatalogQuery struct {
	Location Location
	Clinic   string
	Margin   *float64
}

// CatalogSource is the backend side of catalog loading.
type CatalogSource interface {
	Clinics(ctx context.Context) ([]string, error)
	Catalog(ctx context.Context, q CatalogQuery) ([]Test, error)
}

// Params describes what the quote screen is looking at.
type Params struct {
	Location Location
	// Clinics are the Provincia clinics compared side by side.
	Clinics []string
	// DisplayClinic prices the main catalog; it defaults to the first of
	// Clinics.
	DisplayClinic string
	Margin        float64
}

// CatalogView is the result of one Load. Failed parts are empty and Err holds
// the user-facing message.
type CatalogView struct {
	Seq            uint64
	Params         Params
	Clinics        []string
	Catalog        []Test
	PricesByClinic map[string][]Test
	Err            string
	// Failures maps the failed source ("clinics", "catalog" or a clinic
	// name) to its cause.
	Failures map[string]error
}

// Failure sources besides clinic names.
const (
	SourceClinics = "clinics"
	SourceCatalog = "catalog"
)

// CatalogFailed reports whether the main catalog failed to load. A failed
// clinic comparison or clinic list leaves the main catalog usable.
func (v CatalogView) CatalogFailed() bool {
	return v.Failures[SourceCatalog] != nil
}

// CatalogFetcher loads catalogs and keeps the most recent one. Loads may
// overlap; Apply discards a view older than the one already applied.
type CatalogFetcher struct {
	source   CatalogSource
	limit    int
	seq      atomic.Uint64
	mu       sync.Mutex
	current  CatalogView
	appliedN uint64
}

// NewCatalogFetcher returns a fetcher running at most parallelism requests at
// once (4 when zero or negative).
func NewCatalogFetcher(source CatalogSource, parallelism int) *CatalogFetcher {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &CatalogFetcher{source: source, limit: parallelism}
}

// Query returns the main catalog query for p.
func (p Params) Query() CatalogQuery {
	if p.Location != Provincia {
		return CatalogQuery{Location: p.Location}
	}
	clinic := p.DisplayClinic
	if clinic == "" && len(p.Clinics) > 0 {
		clinic = p.Clinics[0]
	}
	m := EffectiveMargin(p.Margin)
	return CatalogQuery{Location: Provincia, Clinic: clinic, Margin: &m}
}

// Load fetches the clinic list, the main catalog and, for Provincia, one
// catalog per selected clinic, all concurrently. A failed clinic does not
// affect the others.
func (f *CatalogFetcher) Load(ctx context.Context, p Params) CatalogView {
	view := CatalogView{
		Seq:            f.seq.Add(1),
		Params:         p,
		Clinics:        []string{},
		Catalog:        []Test{},
		PricesByClinic: map[string][]Test{},
	}

	var mu sync.Mutex
	fail := func(source string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if view.Failures == nil {
			view.Failures = map[string]error{}
		}
		view.Failures[source] = err
	}

	g := new(errgroup.Group)
	g.SetLimit(f.limit)

	g.Go(func() error {
		clinics, err := f.source.Clinics(ctx)
		if err != nil {
			fail(SourceClinics, err)
			return nil
		}
		mu.Lock()
		view.Clinics = nonNilStrings(clinics)
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		catalog, err := f.source.Catalog(ctx, p.Query())
		if err != nil {
			fail(SourceCatalog, err)
			return fmt.Errorf("load catalog: %w", err)
		}
		mu.Lock()
		view.Catalog = nonNilTests(catalog)
		mu.Unlock()
		return nil
	})

	if p.Location == Provincia {
		margin := EffectiveMargin(p.Margin)
		for _, clinic := range p.Clinics {
			mu.Lock()
			view.PricesByClinic[clinic] = []Test{}
			mu.Unlock()
			g.Go(func() error {
				tests, err := f.source.Catalog(ctx, CatalogQuery{Location: Provincia, Clinic: clinic, Margin: &margin})
				if err != nil {
					fail(clinic, err)
					return fmt.Errorf("load catalog for %s: %w", clinic, err)
				}
				mu.Lock()
				view.PricesByClinic[clinic] = nonNilTests(tests)
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		view.Err = CatalogLoadFailedMessage
	}
	return view
}

// Apply makes view current unless a newer view was already applied. When q
// is not nil its selections are resynced to the new catalog. It reports
// whether view was applied.
func (f *CatalogFetcher) Apply(view CatalogView, q *Quote) bool {
	f.mu.Lock()
	if view.Seq <= f.appliedN {
		f.mu.Unlock()
		return false
	}
	f.appliedN = view.Seq
	f.current = view
	f.mu.Unlock()

	if q != nil {
		q.Resync(view.Catalog)
	}
	return true
}

// Refresh loads p and applies the result.
func (f *CatalogFetcher) Refresh(ctx context.Context, p Params, q *Quote) (CatalogView, bool) {
	view := f.Load(ctx, p)
	return view, f.Apply(view, q)
}

// Current returns the last applied view.
func (f *CatalogFetcher) Current() CatalogView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func nonNilTests(t []Test) []Test {
	if t == nil {
		return []Test{}
	}
	return t
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
