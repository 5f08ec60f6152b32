// Package enrich fills in trade fields derivable from the request context.
package enrich

import (
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"github.com/opensource-finance/payguard/internal/domain"
	"github.com/opensource-finance/payguard/internal/metrics"
)

// CountryLookup resolves an IP address to an ISO country code.
type CountryLookup interface {
	Country(ip net.IP) (string, error)
}

// Enricher fills a missing trade country from the IP address.
type Enricher struct {
	lookup  CountryLookup
	closer  func() error
	metrics *metrics.Collector
}

// New opens the GeoLite2/GeoIP2 country database at path. An empty path
// yields a disabled enricher. Lookup results are counted on m, which may
// be nil.
func New(path string, m *metrics.Collector) (*Enricher, error) {
	if path == "" {
		return &Enricher{}, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	slog.Info("geoip enrichment enabled", "path", path)
	return &Enricher{
		lookup:  geoipLookup{reader},
		closer:  reader.Close,
		metrics: m,
	}, nil
}

// NewWithLookup creates an enricher over an arbitrary lookup.
func NewWithLookup(lookup CountryLookup, m *metrics.Collector) *Enricher {
	return &Enricher{lookup: lookup, metrics: m}
}

// Enabled reports whether lookups are configured.
func (e *Enricher) Enabled() bool {
	return e != nil && e.lookup != nil
}

// Trade sets t.Country when it is empty and the IP resolves. It reports
// whether the trade was changed.
func (e *Enricher) Trade(t *domain.TradeEvent) bool {
	if !e.Enabled() || t.Country != "" || t.IP == "" {
		return false
	}
	ip := net.ParseIP(strings.TrimSpace(t.IP))
	if ip == nil {
		return false
	}
	country, err := e.lookup.Country(ip)
	if err != nil || country == "" {
		e.metrics.ObserveGeoIP(false)
		slog.Debug("geoip lookup missed", "ip", t.IP, "error", err)
		return false
	}
	e.metrics.ObserveGeoIP(true)
	t.Country = country
	return true
}

// Close releases the database.
func (e *Enricher) Close() error {
	if e == nil || e.closer == nil {
		return nil
	}
	return e.closer()
}

type geoipLookup struct {
	reader *geoip2.Reader
}

func (g geoipLookup) Country(ip net.IP) (string, error) {
	rec, err := g.reader.Country(ip)
	if err != nil {
		return "", err
	}
	return rec.Country.IsoCode, nil
}
