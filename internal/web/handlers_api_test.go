package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"zigbee-quirks/internal/host"
	"zigbee-quirks/internal/quirk"
	"zigbee-quirks/internal/quirks/nous"
	"zigbee-quirks/internal/store"
	"zigbee-quirks/internal/tuya"
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

const testIEEE = "0xa4c1380000000001"

type recordingSender struct {
	mu   sync.Mutex
	reqs []quirk.CommandRequest
}

func (s *recordingSender) Send(_ context.Context, req quirk.CommandRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func e6Info(ieee string) quirk.DeviceInfo {
	return quirk.DeviceInfo{
		IEEEAddress:  ieee,
		ShortAddress: 0x4F21,
		Manufacturer: "_TZE200_nnrfa68v",
		Model:        "TS0601",
		Endpoints: []quirk.EndpointInfo{{
			ID:          1,
			ProfileID:   zcl.ProfileHomeAutomation,
			DeviceID:    zcl.DeviceTypeSmartPlug,
			InClusters:  []uint16{0x0000, 0x0004, 0x0005, 0xEF00},
			OutClusters: []uint16{0x0019, 0x000A},
		}},
	}
}

func setupTestServer(t *testing.T, apiKey string, opts ...ServerOption) (*Server, *recordingSender) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	zr := zcl.NewRegistry(logger)
	for _, c := range clusters.Standard() {
		zr.Register(c)
	}
	qr := quirk.NewRegistry(zr, logger)
	if err := nous.Register(qr); err != nil {
		t.Fatal(err)
	}

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	h := host.New(host.Options{
		Registry:    qr,
		Store:       st,
		Logger:      logger,
		Now:         func() time.Time { return time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC) },
		Location:    time.UTC,
		TaskTimeout: time.Second,
	})
	t.Cleanup(h.Close)
	sender := &recordingSender{}
	h.SetSender(sender)

	if apiKey != "" {
		opts = append(opts, WithAPIKey(apiKey))
	}
	srv := NewServer(h, zr, logger, opts...)
	t.Cleanup(srv.Stop)
	return srv, sender
}

func doRequest(t *testing.T, srv *Server, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t, "secret")
	if _, err := srv.host.Pair(e6Info(testIEEE)); err != nil {
		t.Fatal(err)
	}
	unknown := e6Info("0x0000000000000002")
	unknown.Model = "TS0201"
	srv.host.Pair(unknown)

	// Health is reachable without the key.
	rr := doRequest(t, srv, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp healthResponse
	decodeBody(t, rr, &resp)
	if resp.Status != "ok" || resp.Devices != 2 || resp.Quirked != 1 || resp.Quirks != 2 {
		t.Errorf("health = %+v", resp)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	srv, _ := setupTestServer(t, "secret")

	rr := doRequest(t, srv, http.MethodGet, "/api/devices", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rr.Code)
	}
	rr = doRequest(t, srv, http.MethodGet, "/api/devices", "wrong", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", rr.Code)
	}
	rr = doRequest(t, srv, http.MethodGet, "/api/devices", "secret", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("good key: status = %d, want 200", rr.Code)
	}
}

func TestAPIVersion(t *testing.T) {
	srv, _ := setupTestServer(t, "", WithVersion("1.2.3"))
	rr := doRequest(t, srv, http.MethodGet, "/api/version", "", nil)
	var resp map[string]string
	decodeBody(t, rr, &resp)
	if resp["version"] != "1.2.3" {
		t.Errorf("version = %q", resp["version"])
	}
}

func TestAPIListQuirks(t *testing.T) {
	srv, _ := setupTestServer(t, "")
	rr := doRequest(t, srv, http.MethodGet, "/api/quirks", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var quirks []quirkView
	decodeBody(t, rr, &quirks)
	if len(quirks) != 2 {
		t.Fatalf("got %d quirks, want 2", len(quirks))
	}
	var e6 *quirkView
	for i := range quirks {
		if quirks[i].Name == "nous_climate_sensor_e6" {
			e6 = &quirks[i]
		}
	}
	if e6 == nil {
		t.Fatal("e6 quirk missing")
	}
	if !e6.SkipConfiguration {
		t.Error("skip_configuration should be set")
	}
	if len(e6.Replacement) != 1 || e6.Replacement[0].DeviceType != zcl.DeviceTypeTemperatureSensor {
		t.Fatalf("replacement = %+v", e6.Replacement)
	}
	local := 0
	for _, c := range e6.Replacement[0].InClusters {
		if c.Local {
			local++
		}
	}
	if local != 4 {
		t.Errorf("local clusters = %d, want 4", local)
	}
	if got := e6.Signature.Models[0].Manufacturer; got != "_TZE200_nnrfa68v" {
		t.Errorf("signature manufacturer = %q", got)
	}
}

func TestAPIListClusters(t *testing.T) {
	srv, _ := setupTestServer(t, "")
	rr := doRequest(t, srv, http.MethodGet, "/api/clusters", "", nil)
	var defs []zcl.ClusterDef
	decodeBody(t, rr, &defs)
	found := false
	for _, d := range defs {
		if d.ID == clusters.TuyaMCU.ID {
			found = true
		}
	}
	if !found {
		t.Error("Tuya MCU cluster not listed")
	}
}

func TestAPIPairAndGetDevice(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	rr := doRequest(t, srv, http.MethodPost, "/api/devices", "", e6Info(testIEEE))
	if rr.Code != http.StatusCreated {
		t.Fatalf("pair: status = %d, body = %s", rr.Code, rr.Body)
	}
	var st host.DeviceState
	decodeBody(t, rr, &st)
	if !st.Matched || st.Quirk != "nous_climate_sensor_e6" {
		t.Errorf("paired state = matched %v quirk %q", st.Matched, st.Quirk)
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/devices/"+testIEEE, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/devices", "", nil)
	var list []host.DeviceState
	decodeBody(t, rr, &list)
	if len(list) != 1 {
		t.Errorf("devices = %d, want 1", len(list))
	}
}

func TestAPIPairUnmatchedDevice(t *testing.T) {
	srv, _ := setupTestServer(t, "")
	info := e6Info(testIEEE)
	info.Manufacturer = "_TZE200_unknown"

	rr := doRequest(t, srv, http.MethodPost, "/api/devices", "", info)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d", rr.Code)
	}
	var st host.DeviceState
	decodeBody(t, rr, &st)
	if st.Matched {
		t.Error("unknown device should not be matched")
	}
}

func TestAPIPairValidation(t *testing.T) {
	srv, _ := setupTestServer(t, "")
	rr := doRequest(t, srv, http.MethodPost, "/api/devices", "", quirk.DeviceInfo{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing ieee: status = %d, want 400", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/devices", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want 400", rec.Code)
	}
}

func TestAPIGetUnknownDevice(t *testing.T) {
	srv, _ := setupTestServer(t, "")
	rr := doRequest(t, srv, http.MethodGet, "/api/devices/0xdead", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestAPIRenameDevice(t *testing.T) {
	srv, _ := setupTestServer(t, "")
	if _, err := srv.host.Pair(e6Info(testIEEE)); err != nil {
		t.Fatal(err)
	}

	rr := doRequest(t, srv, http.MethodPatch, "/api/devices/"+testIEEE, "", renameDeviceRequest{FriendlyName: "bedroom"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	st, err := srv.host.State(testIEEE)
	if err != nil {
		t.Fatal(err)
	}
	if st.FriendlyName != "bedroom" {
		t.Errorf("friendly name = %q", st.FriendlyName)
	}

	rr = doRequest(t, srv, http.MethodPatch, "/api/devices/0xdead", "", renameDeviceRequest{FriendlyName: "x"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown: status = %d, want 404", rr.Code)
	}
}

func TestAPIDeleteDevice(t *testing.T) {
	srv, _ := setupTestServer(t, "")
	if _, err := srv.host.Pair(e6Info(testIEEE)); err != nil {
		t.Fatal(err)
	}

	rr := doRequest(t, srv, http.MethodDelete, "/api/devices/"+testIEEE, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if _, ok := srv.host.Device(testIEEE); ok {
		t.Error("device still attached")
	}

	rr = doRequest(t, srv, http.MethodDelete, "/api/devices/"+testIEEE, "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rr.Code)
	}
}

func TestAPIWriteAttribute(t *testing.T) {
	srv, sender := setupTestServer(t, "")
	dev, err := srv.host.Pair(e6Info(testIEEE))
	if err != nil {
		t.Fatal(err)
	}
	path := "/api/devices/" + testIEEE + "/attributes"

	rr := doRequest(t, srv, http.MethodPost, path, "", writeAttributeRequest{
		Endpoint: 1, ClusterID: clusters.TuyaMCU.ID, Attribute: "max_temperature", Value: "39.0",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	dev.Flush()
	if sender.count() != 1 {
		t.Errorf("sent = %d, want 1", sender.count())
	}

	// Whole JSON numbers are accepted for integer attributes.
	rr = doRequest(t, srv, http.MethodPost, path, "", writeAttributeRequest{
		Endpoint: 1, ClusterID: clusters.TuyaMCU.ID, Attribute: "temperature_sensitivity", Value: 3,
	})
	if rr.Code != http.StatusOK {
		t.Errorf("integer value: status = %d, body = %s", rr.Code, rr.Body)
	}

	tests := []struct {
		name string
		req  writeAttributeRequest
		want int
	}{
		{"read only", writeAttributeRequest{Endpoint: 1, ClusterID: clusters.Basic.ID, Attribute: "zcl_version", Value: 3}, http.StatusBadRequest},
		{"no endpoint", writeAttributeRequest{Endpoint: 9, ClusterID: clusters.TuyaMCU.ID, Attribute: "max_temperature", Value: 1}, http.StatusBadRequest},
		{"missing value", writeAttributeRequest{Endpoint: 1, ClusterID: clusters.TuyaMCU.ID, Attribute: "max_temperature"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, srv, http.MethodPost, path, "", tt.req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.want, rr.Body)
			}
		})
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/devices/0xdead/attributes", "", writeAttributeRequest{
		Endpoint: 1, ClusterID: clusters.TuyaMCU.ID, Attribute: "max_temperature", Value: 1,
	})
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown device: status = %d, want 404", rr.Code)
	}
}

func TestAPIWriteDecimalAsTenths(t *testing.T) {
	srv, sender := setupTestServer(t, "")
	dev, err := srv.host.Pair(e6Info(testIEEE))
	if err != nil {
		t.Fatal(err)
	}

	// A whole JSON number is already in tenths of a degree.
	rr := doRequest(t, srv, http.MethodPost, "/api/devices/"+testIEEE+"/attributes", "", writeAttributeRequest{
		Endpoint: 1, ClusterID: clusters.TuyaMCU.ID, Attribute: "max_temperature", Value: 390,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	dev.Flush()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.reqs) != 1 {
		t.Fatalf("sent = %d, want 1", len(sender.reqs))
	}
	cmd, err := tuya.ParseCommand(sender.reqs[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmd.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(cmd.DataPoints))
	}
	v, err := cmd.DataPoints[0].Value()
	if err != nil {
		t.Fatal(err)
	}
	if v != int64(390) {
		t.Errorf("dp value = %v, want 390", v)
	}
}

func TestAPIWriteAttributeWithoutTransport(t *testing.T) {
	srv, _ := setupTestServer(t, "")
	dev, err := srv.host.Pair(e6Info(testIEEE))
	if err != nil {
		t.Fatal(err)
	}
	srv.host.SetSender(nil)

	rr := doRequest(t, srv, http.MethodPost, "/api/devices/"+testIEEE+"/attributes", "", writeAttributeRequest{
		Endpoint: 1, ClusterID: clusters.TuyaMCU.ID, Attribute: "max_temperature", Value: "39.0",
	})
	dev.Flush()
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 (%s)", rr.Code, rr.Body)
	}
}

func TestAPIInjectFrame(t *testing.T) {
	srv, _ := setupTestServer(t, "")
	if _, err := srv.host.Pair(e6Info(testIEEE)); err != nil {
		t.Fatal(err)
	}
	path := "/api/devices/" + testIEEE + "/frames"

	// Active status report carrying temperature 21.5.
	frame := `{"endpoint":1,"cluster":61184,"command":6,"tsn":1,"payload":"0007 01 02 0004 000000d7"}`
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(frame))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	var resp frameResponse
	decodeBody(t, rr, &resp)
	if resp.Code != uint8(zcl.StatusSuccess) {
		t.Errorf("frame status = %+v", resp)
	}

	st, err := srv.host.State(testIEEE)
	if err != nil {
		t.Fatal(err)
	}
	var temp interface{}
	for _, c := range st.Endpoints[0].InClusters {
		if c.ID == clusters.TemperatureMeasurement.ID {
			temp = c.Attributes["measured_value"]
		}
	}
	if v, ok := zcl.ToInt64(temp); !ok || v != 2150 {
		t.Errorf("measured_value = %v, want 2150", temp)
	}

	rr = doRequest(t, srv, http.MethodPost, path, "", host.Frame{Endpoint: 1, ClusterID: 0x0300})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing cluster: status = %d, want 400", rr.Code)
	}
}

func TestAPIInjectFrameUnmatched(t *testing.T) {
	srv, _ := setupTestServer(t, "")
	info := e6Info(testIEEE)
	info.Manufacturer = "_TZE200_unknown"
	srv.host.Pair(info)

	rr := doRequest(t, srv, http.MethodPost, "/api/devices/"+testIEEE+"/frames", "", host.Frame{Endpoint: 1, ClusterID: 0xEF00})
	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rr.Code)
	}
}

func TestCORS(t *testing.T) {
	srv, _ := setupTestServer(t, "", WithAllowedOrigins([]string{"http://ha.local"}))

	req := httptest.NewRequest(http.MethodOptions, "/api/devices", nil)
	req.Header.Set("Origin", "http://ha.local")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight: status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://ha.local" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/devices/"+testIEEE, nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("foreign origin: status = %d, want 403", rr.Code)
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		in   interface{}
		want interface{}
	}{
		{float64(3), int64(3)},
		{float64(-5), int64(-5)},
		{1.5, 1.5},
		{"39.0", "39.0"},
		{true, true},
	}
	for _, tt := range tests {
		if got := normalizeValue(tt.in); got != tt.want {
			t.Errorf("normalizeValue(%v) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
		}
	}
}
