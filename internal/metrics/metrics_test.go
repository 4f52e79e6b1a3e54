package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// gatherFamily は指定名のメトリクスファミリーを返す。見つからない場合はテストを失敗させる。
func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelValue はメトリクスから指定ラベルの値を返す。
func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if c := NewCollector(prometheus.NewRegistry()); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestNewCollector_DoubleRegisterPanics は同じレジストリへの二重登録がpanicすることを検証する。
func TestNewCollector_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewCollector(reg)
}

// TestRecordOrderPlaced は注文数と注文金額が通貨ごとに加算されることを検証する。
func TestRecordOrderPlaced(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOrderPlaced("USD", 2500)
	c.RecordOrderPlaced("USD", 1500)

	placed := gatherFamily(t, reg, "marketplace_orders_placed_total")
	if got := placed.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("orders_placed_total = %v, want 2", got)
	}
	if got := labelValue(placed.GetMetric()[0], "currency"); got != "USD" {
		t.Errorf("currency label = %q, want USD", got)
	}

	value := gatherFamily(t, reg, "marketplace_order_value_cents_total")
	if got := value.GetMetric()[0].GetCounter().GetValue(); got != 4000 {
		t.Errorf("order_value_cents_total = %v, want 4000", got)
	}
}

// TestRecordOrderTransition は遷移元と遷移先のラベル別に記録されることを検証する。
func TestRecordOrderTransition(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOrderTransition("placed", "confirmed")
	c.RecordOrderTransition("placed", "cancelled")
	c.RecordOrderTransition("placed", "confirmed")

	mf := gatherFamily(t, reg, "marketplace_order_transitions_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label sets, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		want := 1.0
		if labelValue(m, "to") == "confirmed" {
			want = 2
		}
		if got := m.GetCounter().GetValue(); got != want {
			t.Errorf("transition to %s = %v, want %v", labelValue(m, "to"), got, want)
		}
	}
}

// TestRecordOutboxResult は結果別カウンタと処理時間が記録されることを検証する。
func TestRecordOutboxResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOutboxResult("order.completed", "done", 20*time.Millisecond)
	c.RecordOutboxResult("order.completed", "retry", 30*time.Millisecond)

	mf := gatherFamily(t, reg, "marketplace_outbox_events_total")
	if len(mf.GetMetric()) != 2 {
		t.Errorf("expected 2 label sets, got %d", len(mf.GetMetric()))
	}

	latency := gatherFamily(t, reg, "marketplace_outbox_dispatch_seconds")
	if got := latency.GetMetric()[0].GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("dispatch sample count = %d, want 2", got)
	}
}

// TestRecordPointsAndRewards はポイント付与と特典交換が記録されることを検証する。
func TestRecordPointsAndRewards(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPointsAwarded(120)
	c.RecordPointsAwarded(30)
	c.RecordRewardRedeemed()
	c.RecordPaymentProofUploaded()

	if got := gatherFamily(t, reg, "marketplace_points_awarded_total").GetMetric()[0].GetCounter().GetValue(); got != 150 {
		t.Errorf("points_awarded_total = %v, want 150", got)
	}
	if got := gatherFamily(t, reg, "marketplace_rewards_redeemed_total").GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("rewards_redeemed_total = %v, want 1", got)
	}
	if got := gatherFamily(t, reg, "marketplace_payment_proofs_uploaded_total").GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("payment_proofs_uploaded_total = %v, want 1", got)
	}
}

// TestCatalogFetchMetrics はカタログフェッチの結果別カウンタを検証する。
func TestCatalogFetchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchSuccess("feed-1")
	c.RecordFetchSuccess("feed-2")
	c.RecordFetchFailure("feed-3", "timeout")
	c.RecordParseFailure("feed-4")
	c.RecordHTTPStatus(304)
	c.RecordFetchLatency(150 * time.Millisecond)
	c.RecordListingsImported(7)

	results := map[string]float64{}
	for _, m := range gatherFamily(t, reg, "marketplace_catalog_fetch_total").GetMetric() {
		results[labelValue(m, "result")] = m.GetCounter().GetValue()
	}
	want := map[string]float64{"success": 2, "failure": 1, "parse_failure": 1}
	for k, v := range want {
		if results[k] != v {
			t.Errorf("catalog_fetch_total{result=%q} = %v, want %v", k, results[k], v)
		}
	}

	status := gatherFamily(t, reg, "marketplace_catalog_http_status_total")
	if got := labelValue(status.GetMetric()[0], "status_code"); got != "304" {
		t.Errorf("status_code label = %q, want 304", got)
	}
	if got := gatherFamily(t, reg, "marketplace_listings_imported_total").GetMetric()[0].GetCounter().GetValue(); got != 7 {
		t.Errorf("listings_imported_total = %v, want 7", got)
	}
}

// TestRecordRequest はAPIリクエストがメソッドとステータス別に記録されることを検証する。
func TestRecordRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequest("POST", 201, 5*time.Millisecond)

	m := gatherFamily(t, reg, "marketplace_http_requests_total").GetMetric()[0]
	if labelValue(m, "method") != "POST" || labelValue(m, "status_code") != "201" {
		t.Errorf("unexpected labels: %v", m.GetLabel())
	}
	if got := gatherFamily(t, reg, "marketplace_http_request_duration_seconds").GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("request duration sample count = %d, want 1", got)
	}
}
