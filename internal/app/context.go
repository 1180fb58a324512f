// Package app holds the process-wide state of the dashboard: the two
// primary tables, loaded once at startup, and the aggregate views computed
// lazily on first use.
package app

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/vicmaps/internal/aggregate"
	"github.com/sells-group/vicmaps/internal/config"
	"github.com/sells-group/vicmaps/internal/geotable"
	"github.com/sells-group/vicmaps/internal/loader"
	"github.com/sells-group/vicmaps/internal/tabular"
)

// Paths locates every dataset the dashboard reads.
type Paths struct {
	Infrastructure string
	Facilities     string
	Permits        string
	PermitsSheet   string
	Postcodes      string
	Crime          string
	Suburbs        string
	Schools        string
	Enrolments     string
	Aliases        string
}

// PathsFromConfig builds Paths from loaded configuration.
func PathsFromConfig(cfg *config.Config) Paths {
	return Paths{
		Infrastructure: cfg.Data.Infrastructure,
		Facilities:     cfg.Data.Facilities,
		Permits:        cfg.Data.Permits,
		PermitsSheet:   cfg.Data.PermitsSheet,
		Postcodes:      cfg.Data.Postcodes,
		Crime:          cfg.Data.Crime,
		Suburbs:        cfg.Data.Suburbs,
		Schools:        cfg.Data.Schools,
		Enrolments:     cfg.Data.Enrolments,
		Aliases:        cfg.Schema.AliasesPath,
	}
}

// Context is shared read-only by all request handlers. Bikes and Facilities
// are always WGS84 with their index built.
type Context struct {
	Paths      Paths
	Bikes      *geotable.Table
	Facilities *geotable.Table

	memo *Memo
}

// New wraps already-loaded tables. Nil tables are replaced by empty ones.
func New(paths Paths, bikes, facilities *geotable.Table) *Context {
	if bikes == nil {
		bikes = geotable.Empty()
	}
	if facilities == nil {
		facilities = geotable.Empty()
	}
	return &Context{Paths: paths, Bikes: bikes, Facilities: facilities, memo: NewMemo()}
}

// Load reads the infrastructure and facilities datasets concurrently.
func Load(ctx context.Context, paths Paths) (*Context, error) {
	aliases, err := loader.LoadAliases(paths.Aliases)
	if err != nil {
		return nil, err
	}

	var bikes, facilities *geotable.Table
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := loader.LoadInfrastructure(gctx, paths.Infrastructure)
		if err != nil {
			return eris.Wrap(err, "app: load infrastructure")
		}
		bikes = t
		return nil
	})
	g.Go(func() error {
		t, err := loader.LoadFacilities(gctx, paths.Facilities, aliases)
		if err != nil {
			return eris.Wrap(err, "app: load facilities")
		}
		facilities = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Info("app: datasets loaded",
		zap.Int("bike_features", bikes.Len()),
		zap.Int("facilities_rows", facilities.Len()),
	)
	return New(paths, bikes, facilities), nil
}

// CacheStats reports memoised aggregate usage.
func (c *Context) CacheStats() CacheStats {
	return c.memo.Stats()
}

// Reset discards every memoised aggregate so the next request rereads its
// source files.
func (c *Context) Reset() {
	c.memo.Invalidate("")
}

// readFrame reads an optional tabular dataset. A missing file gives a frame
// with no columns and a warning.
func readFrame(path string, opts tabular.Options, what string) (*tabular.Frame, error) {
	if path == "" {
		zap.L().Warn("app: dataset not configured", zap.String("dataset", what))
		return &tabular.Frame{}, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		zap.L().Warn("app: dataset absent", zap.String("dataset", what), zap.String("path", path))
		return &tabular.Frame{}, nil
	}
	f, err := tabular.ReadFile(path, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "app: read %s", what)
	}
	return f, nil
}

func absent(f *tabular.Frame) bool {
	return len(f.Columns) == 0
}

// PermitsFrame returns the raw permits table.
func (c *Context) PermitsFrame() (*tabular.Frame, error) {
	return memoize(c.memo, "permits/frame", func() (*tabular.Frame, error) {
		return readFrame(c.Paths.Permits, tabular.Options{Sheet: c.Paths.PermitsSheet}, "permits")
	})
}

func (c *Context) frame(key, path string, opts tabular.Options) (*tabular.Frame, error) {
	return memoize(c.memo, key, func() (*tabular.Frame, error) {
		return readFrame(path, opts, key)
	})
}

// Choropleth returns postcode boundaries carrying permit aggregates.
func (c *Context) Choropleth() (*geotable.Table, error) {
	return memoize(c.memo, "permits/choropleth", func() (*geotable.Table, error) {
		frame, err := c.PermitsFrame()
		if err != nil {
			return nil, err
		}
		if absent(frame) {
			return geotable.Empty(), nil
		}
		return aggregate.PermitsByPostcode(c.Paths.Permits, frame, c.Paths.Postcodes)
	})
}

// Hierarchy returns permit counts by use, nature and sector.
func (c *Context) Hierarchy() ([]aggregate.HierarchyNode, error) {
	return memoize(c.memo, "permits/hierarchy", func() ([]aggregate.HierarchyNode, error) {
		frame, err := c.PermitsFrame()
		if err != nil {
			return nil, err
		}
		return aggregate.PermitHierarchy(frame), nil
	})
}

// Distribution summarises one numeric permit column.
func (c *Context) Distribution(metric string, bins int, log10 bool) (*aggregate.Summary, error) {
	if err := aggregate.CheckBins(bins); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("permits/distribution/%s/%d/%t", metric, bins, log10)
	return memoize(c.memo, key, func() (*aggregate.Summary, error) {
		frame, err := c.PermitsFrame()
		if err != nil {
			return nil, err
		}
		if absent(frame) && slices.Contains(aggregate.DistributionMetrics, metric) {
			return &aggregate.Summary{Metric: metric, Log10: log10, Histogram: []aggregate.Bin{}}, nil
		}
		return aggregate.Distribution(frame, metric, bins, log10)
	})
}

// Crime returns crime counts joined to suburb locations per LGA.
func (c *Context) Crime() (*aggregate.CrimeResult, error) {
	return memoize(c.memo, "crime", func() (*aggregate.CrimeResult, error) {
		crime, err := c.frame("crime/frame", c.Paths.Crime, tabular.Options{Sheet: aggregate.CrimeSheet})
		if err != nil {
			return nil, err
		}
		suburbs, err := c.frame("suburbs/frame", c.Paths.Suburbs, tabular.Options{})
		if err != nil {
			return nil, err
		}
		if absent(crime) || absent(suburbs) {
			return &aggregate.CrimeResult{Rows: []aggregate.CrimeRow{}}, nil
		}
		return aggregate.Crime(c.Paths.Crime, crime, c.Paths.Suburbs, suburbs)
	})
}

// SchoolPermits returns the school and permit point layers.
func (c *Context) SchoolPermits() (*aggregate.SchoolPermitsResult, error) {
	return memoize(c.memo, "schools", func() (*aggregate.SchoolPermitsResult, error) {
		permits, err := c.PermitsFrame()
		if err != nil {
			return nil, err
		}
		suburbs, err := c.frame("suburbs/frame", c.Paths.Suburbs, tabular.Options{})
		if err != nil {
			return nil, err
		}
		schools, err := c.frame("schools/frame", c.Paths.Schools, tabular.Options{})
		if err != nil {
			return nil, err
		}
		enrolments, err := c.frame("enrolments/frame", c.Paths.Enrolments, tabular.Options{})
		if err != nil {
			return nil, err
		}
		if absent(permits) || absent(suburbs) || absent(schools) || absent(enrolments) {
			return &aggregate.SchoolPermitsResult{Schools: geotable.Empty(), Permits: geotable.Empty()}, nil
		}
		return aggregate.SchoolPermits(permits, suburbs, schools, enrolments)
	})
}
