package railway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rail_sniper/internal/domain"
	"rail_sniper/internal/infra"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &infra.Config{}
	cfg.Upstream.BaseURL = server.URL
	cfg.Upstream.TimeoutSec = 5

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server
}

// queryRow builds a pipe-delimited result row with the given overrides.
func queryRow(overrides map[int]string) string {
	fields := make([]string, minRowFields)
	fields[fieldSecretStr] = "secret%2Fabc"
	fields[fieldTrainCode] = "G1"
	fields[fieldFromCode] = "VNP"
	fields[fieldToCode] = "AOH"
	fields[fieldDepartTime] = "09:00"
	fields[fieldArriveTime] = "13:28"
	fields[fieldCanWebBuy] = "Y"
	for idx, v := range overrides {
		fields[idx] = v
	}
	return strings.Join(fields, "|")
}

func TestParseSeatCount(t *testing.T) {
	cases := []struct {
		raw    string
		count  int
		ok     bool
	}{
		{"有", domain.CountPlentiful, true},
		{"大量", domain.CountPlentiful, true},
		{"无", 0, true},
		{"无票", 0, true},
		{"", 0, true},
		{"--", 0, true},
		{"*", 0, true},
		{"候补", 0, true},
		{"12", 12, true},
		{"0", 0, true},
		{"剩余3张", 3, true},
		{"-1", 0, false},
		{"abc", 0, false},
	}
	for _, tc := range cases {
		count, ok := ParseSeatCount(tc.raw)
		if count != tc.count || ok != tc.ok {
			t.Errorf("ParseSeatCount(%q) = (%d, %v), want (%d, %v)", tc.raw, count, ok, tc.count, tc.ok)
		}
	}
}

func TestQueryLeftTicketsParsesRows(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != queryPath {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": map[string]any{
				"result": []string{
					queryRow(map[int]string{fieldSecond: "有", fieldFirst: "3", fieldBusiness: "无"}),
					"short|row", // must be skipped, not fatal
				},
				"map": map[string]string{"VNP": "北京南", "AOH": "上海虹桥"},
			},
		})
	}))

	snaps, err := client.QueryLeftTickets(context.Background(), "2026-10-01", "VNP", "AOH")
	if err != nil {
		t.Fatalf("QueryLeftTickets: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot after skipping the bad row, got %d", len(snaps))
	}

	snap := snaps[0]
	if snap.TrainCode != "G1" {
		t.Errorf("train = %s, want G1", snap.TrainCode)
	}
	if snap.FromStation != "北京南" || snap.ToStation != "上海虹桥" {
		t.Errorf("stations = %s -> %s, want mapped names", snap.FromStation, snap.ToStation)
	}
	if !snap.CanWebBuy {
		t.Error("CanWebBuy = false, want true")
	}
	if got := snap.Count(domain.SeatSecond); got != domain.CountPlentiful {
		t.Errorf("second class = %d, want plentiful", got)
	}
	if got := snap.Count(domain.SeatFirst); got != 3 {
		t.Errorf("first class = %d, want 3", got)
	}
	if got := snap.Count(domain.SeatBusiness); got != 0 {
		t.Errorf("business class = %d, want 0", got)
	}
}

func TestQueryFallsBackToSecondaryPath(t *testing.T) {
	var primaryHits, fallbackHits int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case queryPath:
			primaryHits++
			json.NewEncoder(w).Encode(map[string]any{"status": true, "data": map[string]any{"result": []string{}}})
		case queryFallbackPath:
			fallbackHits++
			json.NewEncoder(w).Encode(map[string]any{
				"status": true,
				"data": map[string]any{
					"result": []string{queryRow(map[int]string{fieldSecond: "5"})},
					"map":    map[string]string{},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))

	snaps, err := client.QueryLeftTickets(context.Background(), "2026-10-01", "VNP", "AOH")
	if err != nil {
		t.Fatalf("QueryLeftTickets: %v", err)
	}
	if primaryHits != 1 || fallbackHits != 1 {
		t.Errorf("hits = (%d, %d), want primary then fallback", primaryHits, fallbackHits)
	}
	if len(snaps) != 1 || snaps[0].Count(domain.SeatSecond) != 5 {
		t.Errorf("unexpected snapshots: %+v", snaps)
	}
}

func TestQueryThrottleStatusMarksRateLimited(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.QueryLeftTickets(context.Background(), "2026-10-01", "VNP", "AOH")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !domain.IsRateLimited(err) {
		t.Errorf("error %v not classified as rate limited", err)
	}
}

func TestQueryBanIndicatorMarksRateLimited(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":   false,
			"messages": []string{"网络繁忙，请稍后重试"},
		})
	}))

	_, err := client.QueryLeftTickets(context.Background(), "2026-10-01", "VNP", "AOH")
	if !domain.IsRateLimited(err) {
		t.Errorf("ban indicator message not classified as rate limited: %v", err)
	}
}

func TestSubmitSoldOutIsRetriableSeatUnavailable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":   false,
			"messages": []string{"该车次已售完"},
		})
	}))

	_, err := client.SubmitOrder(context.Background(), domain.SubmitRequest{SecretStr: "s"})
	var oe *domain.OrderError
	if !errors.As(err, &oe) {
		t.Fatalf("error = %v, want OrderError", err)
	}
	if oe.Kind != domain.FailSeatUnavailable {
		t.Errorf("kind = %s, want SEAT_UNAVAILABLE", oe.Kind)
	}
	if !oe.IsRetriable() {
		t.Error("sold-out rejection must be retriable")
	}
}

func TestSubmitSuccessNeedsCaptcha(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": map[string]any{
				"ifShowPassCode":     "Y",
				"key_check_isChange": "kc123",
				"leftTicketStr":      "lt456",
				"train_location":     "P2",
			},
		})
	}))

	reply, err := client.SubmitOrder(context.Background(), domain.SubmitRequest{SecretStr: "s"})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if !reply.NeedCaptcha {
		t.Error("NeedCaptcha = false, want true")
	}
	if reply.KeyCheckIsChange != "kc123" || reply.LeftTicketStr != "lt456" || reply.TrainLocation != "P2" {
		t.Errorf("unexpected reply: %+v", reply)
	}
}

func TestConfirmOrderSuccess(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": map[string]any{
				"submitStatus": true,
				"orderId":      "E12345",
				"ticketPrice":  "553.5",
			},
		})
	}))

	reply, err := client.ConfirmOrder(context.Background(), domain.ConfirmRequest{
		SeatClass:  domain.SeatSecond,
		Passengers: []domain.Passenger{{Name: "张三", IDType: "1", IDNo: "123", Mobile: "138"}},
	})
	if err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	if reply.OrderNo != "E12345" {
		t.Errorf("order no = %s, want E12345", reply.OrderNo)
	}
	if reply.Price.String() != "553.5" {
		t.Errorf("price = %s, want 553.5", reply.Price)
	}
}

func TestConfirmQueueRejectionNotRetriable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": map[string]any{
				"submitStatus": false,
				"errMsg":       "排队人数超过余票数",
			},
		})
	}))

	_, err := client.ConfirmOrder(context.Background(), domain.ConfirmRequest{SeatClass: domain.SeatSecond})
	var oe *domain.OrderError
	if !errors.As(err, &oe) {
		t.Fatalf("error = %v, want OrderError", err)
	}
	if oe.Kind != domain.FailOrderFailed {
		t.Errorf("kind = %s, want ORDER_FAILED", oe.Kind)
	}
	if oe.IsRetriable() {
		t.Error("queue rejection must not be retriable")
	}
}

func TestConfirmUnknownSeatClass(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an unknown seat class")
	}))

	_, err := client.ConfirmOrder(context.Background(), domain.ConfirmRequest{SeatClass: "couchette"})
	var oe *domain.OrderError
	if !errors.As(err, &oe) || oe.Kind != domain.FailConfirmFailed {
		t.Errorf("error = %v, want CONFIRM_FAILED OrderError", err)
	}
}

func TestSubmitCaptchaResultCodes(t *testing.T) {
	code := "0"
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result_code":    code,
			"result_message": "check",
		})
	}))

	if err := client.SubmitCaptcha(context.Background(), "42,118"); err != nil {
		t.Errorf("SubmitCaptcha success case: %v", err)
	}

	code = "5"
	err := client.SubmitCaptcha(context.Background(), "42,118")
	var oe *domain.OrderError
	if !errors.As(err, &oe) || oe.Kind != domain.FailCaptchaFailed {
		t.Errorf("error = %v, want CAPTCHA_FAILED OrderError", err)
	}
}

func TestIsTokenFresh(t *testing.T) {
	flag := true
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"flag": flag},
		})
	}))

	if !client.IsTokenFresh(context.Background()) {
		t.Error("IsTokenFresh = false, want true")
	}
	flag = false
	if client.IsTokenFresh(context.Background()) {
		t.Error("IsTokenFresh = true, want false")
	}
}

func TestPassengersParsed(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": map[string]any{
				"normal_passengers": []map[string]string{
					{
						"passenger_name":         "张三",
						"passenger_id_type_code": "1",
						"passenger_id_no":        "110101199001011234",
						"mobile_no":              "13800000000",
					},
				},
			},
		})
	}))

	passengers, err := client.Passengers(context.Background())
	if err != nil {
		t.Fatalf("Passengers: %v", err)
	}
	if len(passengers) != 1 || passengers[0].Name != "张三" {
		t.Fatalf("unexpected passengers: %+v", passengers)
	}
}

func TestBuildPassengerTicketStr(t *testing.T) {
	got := BuildPassengerTicketStr([]domain.Passenger{
		{Name: "张三", IDType: "1", IDNo: "110101199001011234", Mobile: "13800000000"},
	}, "3")
	want := "3,0,1,张三,1,110101199001011234,13800000000,N"
	if got != want {
		t.Errorf("BuildPassengerTicketStr = %q, want %q", got, want)
	}
}
