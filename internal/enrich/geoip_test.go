package enrich

import (
	"errors"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/payguard/internal/domain"
	"github.com/opensource-finance/payguard/internal/metrics"
)

type staticLookup map[string]string

func (s staticLookup) Country(ip net.IP) (string, error) {
	if c, ok := s[ip.String()]; ok {
		return c, nil
	}
	return "", errors.New("address not found")
}

func TestTrade(t *testing.T) {
	m := metrics.New()
	e := NewWithLookup(staticLookup{"81.2.69.142": "GB"}, m)

	tests := []struct {
		name    string
		trade   domain.TradeEvent
		changed bool
		want    string
	}{
		{"fills missing country", domain.TradeEvent{IP: "81.2.69.142"}, true, "GB"},
		{"keeps existing country", domain.TradeEvent{IP: "81.2.69.142", Country: "US"}, false, "US"},
		{"unparseable ip", domain.TradeEvent{IP: "not-an-ip"}, false, ""},
		{"no ip", domain.TradeEvent{}, false, ""},
		{"unknown ip", domain.TradeEvent{IP: "10.0.0.1"}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := tt.trade
			assert.Equal(t, tt.changed, e.Trade(&tr))
			assert.Equal(t, tt.want, tr.Country)
		})
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GeoIPLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GeoIPLookups.WithLabelValues("miss")))
}

func TestDisabled(t *testing.T) {
	e, err := New("", nil)
	require.NoError(t, err)
	assert.False(t, e.Enabled())

	tr := domain.TradeEvent{IP: "81.2.69.142"}
	assert.False(t, e.Trade(&tr))
	assert.NoError(t, e.Close())
}

func TestMissingDatabase(t *testing.T) {
	_, err := New("/nonexistent/GeoLite2-Country.mmdb", nil)
	assert.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	e := NewWithLookup(staticLookup{}, nil)
	tr := domain.TradeEvent{IP: "10.0.0.1"}
	assert.NotPanics(t, func() { e.Trade(&tr) })
}
