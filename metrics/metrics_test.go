package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/raniellyferreira/redis-inmemory-server/metrics"
)

type fakeStatus struct {
	err      error
	sections []string
}

func (s *fakeStatus) Info(sections ...string) string {
	s.sections = sections
	return "# Server\r\nredis_version:7.4.0\r\n"
}

func (s *fakeStatus) Healthy() error {
	return s.err
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatal(err)
	}
	return rec.Code, string(body)
}

// gathered returns the value of an unlabelled counter or gauge
func gathered(t *testing.T, c *metrics.Collector, name string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		m := f.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestCollectorRecords(t *testing.T) {
	c := metrics.NewCollector("test")

	c.RecordCommandProcessed("get", time.Millisecond)
	c.RecordCommandProcessed("get", time.Millisecond)
	c.RecordCommandProcessed("set", time.Millisecond)
	c.RecordNetworkBytes(100)
	c.RecordNetworkBytes(-5)
	c.RecordError("command")
	c.RecordConnection(1)
	c.RecordConnection(1)
	c.RecordConnection(-1)
	c.RecordReconnection()
	c.RecordSyncDuration(time.Second)
	c.RecordKeyCount(42)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"networkBytes", gathered(t, c, "test_network_bytes_total"), 100},
		{"connections", gathered(t, c, "test_connected_clients"), 1},
		{"reconnections", gathered(t, c, "test_replication_reconnections_total"), 1},
		{"keys", gathered(t, c, "test_keys"), 42},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	n, err := testutil.GatherAndCount(c.Registry(), "test_commands_processed_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("command series = %d, want 2", n)
	}
}

func TestAdminHandler(t *testing.T) {
	c := metrics.NewCollector("test")
	c.RecordCommandProcessed("ping", time.Microsecond)
	status := &fakeStatus{}
	h := metrics.NewAdminHandler(c, status)

	code, body := get(t, h, "/metrics")
	if code != http.StatusOK || !strings.Contains(body, `test_commands_processed_total{cmd="ping"} 1`) {
		t.Errorf("/metrics = %d %q", code, body)
	}

	code, body = get(t, h, "/healthz")
	if code != http.StatusOK || body != "ok" {
		t.Errorf("/healthz = %d %q", code, body)
	}

	status.err = errors.New("master link down")
	code, body = get(t, h, "/healthz")
	if code != http.StatusServiceUnavailable || body != "master link down" {
		t.Errorf("/healthz unhealthy = %d %q", code, body)
	}

	code, body = get(t, h, "/info?section=server&section=keyspace")
	if code != http.StatusOK || !strings.Contains(body, "redis_version") {
		t.Errorf("/info = %d %q", code, body)
	}
	if len(status.sections) != 2 || status.sections[0] != "server" {
		t.Errorf("sections = %v", status.sections)
	}
}
