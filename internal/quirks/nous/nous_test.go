package nous

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zigbee-quirks/internal/quirk"
	"zigbee-quirks/internal/tuya"
	"zigbee-quirks/internal/zcl"
	"zigbee-quirks/internal/zcl/clusters"
)

var fixedNow = time.Date(2024, time.March, 10, 12, 30, 15, 0, time.UTC)

type sink struct {
	mu       sync.Mutex
	sent     []quirk.CommandRequest
	failures []error
}

func (s *sink) Send(_ context.Context, req quirk.CommandRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return nil
}

func (s *sink) AttributeUpdated(*quirk.Device, uint8, uint16, string, interface{}) {}

func (s *sink) UpdateFailed(_ *quirk.Device, _ string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, err)
}

func (s *sink) requests() []quirk.CommandRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]quirk.CommandRequest(nil), s.sent...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRegistry(t *testing.T) *quirk.Registry {
	t.Helper()
	zr := zcl.NewRegistry(discardLogger())
	for _, c := range clusters.Standard() {
		zr.Register(c)
	}
	r := quirk.NewRegistry(zr, discardLogger())
	require.NoError(t, Register(r))
	return r
}

func deviceInfo(manufacturer string) quirk.DeviceInfo {
	return quirk.DeviceInfo{
		IEEEAddress:  "0xa4c1380000000001",
		ShortAddress: 0x4F21,
		Manufacturer: manufacturer,
		Model:        "TS0601",
		Endpoints: []quirk.EndpointInfo{{
			ID:          1,
			ProfileID:   0x0104,
			DeviceID:    0x0051,
			InClusters:  []uint16{0x0000, 0x0004, 0x0005, 0xEF00},
			OutClusters: []uint16{0x0019, 0x000A},
		}},
	}
}

type setup struct {
	dev  *quirk.Device
	sink *sink
}

func pair(t *testing.T, manufacturer string, constants quirk.Constants, loc *time.Location) setup {
	t.Helper()
	r := newRegistry(t)
	info := deviceInfo(manufacturer)
	q, err := r.Match(info)
	require.NoError(t, err)

	if loc == nil {
		loc = time.UTC
	}
	s := &sink{}
	dev, err := r.Apply(q, info, quirk.DeviceOptions{
		Sender:    s,
		Listener:  s,
		Logger:    discardLogger(),
		Constants: constants,
		Now:       func() time.Time { return fixedNow },
		Location:  loc,
	})
	require.NoError(t, err)
	t.Cleanup(dev.Close)
	return setup{dev: dev, sink: s}
}

func (s setup) cluster(id uint16) quirk.Cluster {
	return s.dev.Endpoint(1).Cluster(id)
}

func (s setup) mcu() *MCUCluster {
	return s.cluster(0xEF00).(*MCUCluster)
}

func (s setup) report(t *testing.T, dps ...tuya.DataPoint) {
	t.Helper()
	payload, err := tuya.Command{Seq: 1, DataPoints: dps}.MarshalBinary()
	require.NoError(t, err)
	status := s.mcu().HandleClusterRequest(context.Background(), quirk.Request{
		CommandID: tuya.CommandActiveStatusReport,
		Payload:   payload,
	})
	require.Equal(t, zcl.StatusSuccess, status)
}

func value(t *testing.T, id uint8, n int) tuya.DataPoint {
	t.Helper()
	dp, err := tuya.NewDataPoint(id, tuya.DPTypeValue, n)
	require.NoError(t, err)
	return dp
}

func enum(t *testing.T, id uint8, n int) tuya.DataPoint {
	t.Helper()
	dp, err := tuya.NewDataPoint(id, tuya.DPTypeEnum, n)
	require.NoError(t, err)
	return dp
}

const (
	e6Manufacturer    = "_TZE200_nnrfa68v"
	szt04Manufacturer = "_TZE200_locansqn"
)

func TestMatching(t *testing.T) {
	r := newRegistry(t)

	q, err := r.Match(deviceInfo(e6Manufacturer))
	require.NoError(t, err)
	assert.Equal(t, ClimateSensorE6, q)

	q, err = r.Match(deviceInfo(szt04Manufacturer))
	require.NoError(t, err)
	assert.Equal(t, ClimateSensorSZT04, q)

	_, err = r.Match(deviceInfo("_TZE200_lve3dvpy"))
	assert.ErrorIs(t, err, quirk.ErrNoMatch)
}

func TestReplacedEndpoint(t *testing.T) {
	s := pair(t, e6Manufacturer, nil, nil)
	ep := s.dev.Endpoint(1)
	require.NotNil(t, ep)

	assert.Equal(t, zcl.DeviceTypeTemperatureSensor, ep.DeviceType)
	assert.Equal(t, zcl.ProfileHomeAutomation, ep.ProfileID)
	assert.Equal(t, []uint16{0x0019, 0x000A}, ep.OutClusters())

	var ids []uint16
	for _, c := range ep.InClusters() {
		ids = append(ids, c.ID())
	}
	assert.Equal(t, []uint16{0x0000, 0x0004, 0x0005, 0x0402, 0x0405, 0x0001, 0xEF00}, ids)
	assert.False(t, ep.Cluster(0x0000).IsLocal())
	assert.True(t, ep.Cluster(0x0405).IsLocal())
	assert.True(t, ClimateSensorE6.Replacement.SkipConfiguration)
	assert.True(t, ClimateSensorSZT04.Replacement.SkipConfiguration)
}

func TestBatteryConstants(t *testing.T) {
	e6 := pair(t, e6Manufacturer, nil, nil).cluster(0x0001).Snapshot()
	assert.Equal(t, uint8(2), e6["battery_quantity"])

	sz := pair(t, szt04Manufacturer, nil, nil).cluster(0x0001).Snapshot()
	assert.Equal(t, clusters.BatterySizeAAA, sz["battery_size"])
	assert.Equal(t, uint8(3), sz["battery_quantity"])
	assert.Equal(t, uint8(15), sz["battery_rated_voltage"])
}

func TestDerivedDeclarationsDoNotMutateE6(t *testing.T) {
	assert.Equal(t, []quirk.ModelInfo{{Manufacturer: e6Manufacturer, Model: "TS0601"}}, ClimateSensorE6.Signature.Models)
	assert.Equal(t, []quirk.ModelInfo{{Manufacturer: szt04Manufacturer, Model: "TS0601"}}, ClimateSensorSZT04.Signature.Models)
	assert.Equal(t, ClimateSensorE6.Signature.Endpoints, ClimateSensorSZT04.Signature.Endpoints)

	s := pair(t, e6Manufacturer, nil, nil)
	assert.Len(t, s.mcu().Mappings(), len(E6DataPoints))
	assert.Nil(t, s.mcu().Def().FindAttributeByName("max_humidity"))
}

func TestHumidityMultiplier(t *testing.T) {
	s := pair(t, e6Manufacturer, nil, nil)
	s.report(t, value(t, 2, 55))
	v, ok := s.cluster(0x0405).Get("measured_value")
	require.True(t, ok)
	assert.Equal(t, int64(5500), v)

	s = pair(t, e6Manufacturer, quirk.Constants{ConstRHMultiplier: 10}, nil)
	s.report(t, value(t, 2, 55))
	v, _ = s.cluster(0x0405).Get("measured_value")
	assert.Equal(t, int64(550), v)

	require.NoError(t, s.cluster(0x0405).UpdateAttribute("min_measured_value", 7))
	v, _ = s.cluster(0x0405).Get("min_measured_value")
	assert.Equal(t, 7, v, "only measured_value is scaled")
}

type dpCase struct {
	dp      tuya.DataPoint
	cluster uint16
	attr    string
	want    interface{}
}

func e6Cases(t *testing.T) []dpCase {
	return []dpCase{
		{value(t, 1, 215), 0x0402, "measured_value", int64(2150)},
		{value(t, 2, 48), 0x0405, "measured_value", int64(4800)},
		{value(t, 4, 50), 0x0001, "battery_percentage_remaining", int64(100)},
		{enum(t, 9, 1), 0xEF00, "temperature_unit_convert", Fahrenheit},
		{value(t, 10, 390), 0xEF00, "max_temperature", Decimal1(390)},
		{value(t, 11, 0), 0xEF00, "min_temperature", Decimal1(0)},
		{enum(t, 14, 2), 0xEF00, "temperature_alarm", AlarmOff},
		{value(t, 19, 6), 0xEF00, "temperature_sensitivity", Decimal1(6)},
	}
}

func szt04Cases(t *testing.T) []dpCase {
	return append(e6Cases(t),
		dpCase{value(t, 12, 60), 0xEF00, "max_humidity", int64(60)},
		dpCase{value(t, 13, 20), 0xEF00, "min_humidity", int64(20)},
		dpCase{enum(t, 15, 1), 0xEF00, "humidity_alarm", MaxAlarmOn},
		dpCase{value(t, 17, 120), 0xEF00, "temperature_report_interval", int64(120)},
		dpCase{value(t, 18, 120), 0xEF00, "humidity_report_interval", int64(120)},
		dpCase{value(t, 20, 6), 0xEF00, "humidity_sensitivity", int64(6)},
	)
}

func TestDataPoints(t *testing.T) {
	for _, model := range []struct {
		manufacturer string
		table        tuya.Mappings
		cases        []dpCase
	}{
		{e6Manufacturer, E6DataPoints, e6Cases(t)},
		{szt04Manufacturer, SZT04DataPoints, szt04Cases(t)},
	} {
		require.Len(t, model.cases, len(model.table), "every data point is covered")
		for _, tc := range model.cases {
			s := pair(t, model.manufacturer, nil, nil)
			s.report(t, tc.dp)
			got, ok := s.cluster(tc.cluster).Get(tc.attr)
			require.True(t, ok, "%s dp %d", model.manufacturer, tc.dp.ID)
			assert.Equal(t, tc.want, got, "%s dp %d", model.manufacturer, tc.dp.ID)
			assert.Empty(t, s.sink.failures)
		}
	}
}

func TestSZT04TableExtendsE6(t *testing.T) {
	fn := func(f interface{}) uintptr {
		if reflect.ValueOf(f).IsNil() {
			return 0
		}
		return reflect.ValueOf(f).Pointer()
	}
	for k, e6 := range E6DataPoints {
		sz, ok := SZT04DataPoints[k]
		require.True(t, ok, "dp %d", k)
		assert.Equal(t, e6.ClusterID, sz.ClusterID, "dp %d", k)
		assert.Equal(t, e6.Attribute, sz.Attribute, "dp %d", k)
		assert.Equal(t, e6.DPType, sz.DPType, "dp %d", k)
		assert.Equal(t, fn(e6.FromWire), fn(sz.FromWire), "dp %d", k)
		assert.Equal(t, fn(e6.ToWire), fn(sz.ToWire), "dp %d", k)
	}
	assert.Equal(t, []uint8{1, 2, 4, 9, 10, 11, 12, 13, 14, 15, 17, 18, 19, 20}, SZT04DataPoints.Keys())
	assert.Equal(t, []uint8{1, 2, 4, 9, 10, 11, 14, 19}, E6DataPoints.Keys())

	for _, a := range E6Attributes {
		assert.NotNil(t, findAttr(SZT04Attributes, a.ID), "attribute 0x%04X", a.ID)
	}
}

func findAttr(attrs []zcl.AttributeDef, id uint16) *zcl.AttributeDef {
	for i := range attrs {
		if attrs[i].ID == id {
			return &attrs[i]
		}
	}
	return nil
}

func TestInvalidDataPointIsReported(t *testing.T) {
	s := pair(t, szt04Manufacturer, nil, nil)
	s.report(t,
		enum(t, 9, 5),
		enum(t, 15, 7),
		value(t, 1, 4000), // 40000 overflows int16
		value(t, 4, 30),
	)

	require.Len(t, s.sink.failures, 3)
	for _, err := range s.sink.failures {
		assert.ErrorIs(t, err, tuya.ErrMapping)
	}
	_, ok := s.mcu().Get("temperature_unit_convert")
	assert.False(t, ok)
	_, ok = s.cluster(0x0402).Get("measured_value")
	assert.False(t, ok)

	v, _ := s.cluster(0x0001).Get("battery_percentage_remaining")
	assert.Equal(t, int64(60), v, "processing continues after a failure")
}

func TestDecimal1(t *testing.T) {
	d, err := ParseDecimal1("39.0")
	require.NoError(t, err)
	assert.Equal(t, Decimal1(390), d)
	assert.Equal(t, "39.0", d.String())

	d, err = Decimal1FromWire(390)
	require.NoError(t, err)
	assert.Equal(t, Decimal1(390), d)
	assert.Equal(t, "39.0", d.String())

	d, err = ParseDecimal1("0.6")
	require.NoError(t, err)
	assert.Equal(t, Decimal1(6), d)

	// Halves round to even.
	for text, want := range map[string]Decimal1{
		"-5.25": -52,
		"0.25":  2,
		"21.25": 212,
		"-0.25": -2,
		"0.35":  4,
	} {
		d, err = ParseDecimal1(text)
		require.NoError(t, err, text)
		assert.Equal(t, want, d, text)
	}
	assert.Equal(t, "-5.2", Decimal1(-52).String())

	assert.Equal(t, Decimal1(10), Decimal1FromBool(true))
	assert.Equal(t, Decimal1(0), Decimal1FromBool(false))

	_, err = ParseDecimal1("warm")
	assert.Error(t, err)
}

func TestEnums(t *testing.T) {
	assert.Equal(t, "fahrenheit", Fahrenheit.String())
	assert.Equal(t, "alarm_off", AlarmOff.String())

	u, err := ParseTemperatureUnit("celsius")
	require.NoError(t, err)
	assert.Equal(t, Celsius, u)

	_, err = ParseTemperatureUnit(2)
	assert.ErrorIs(t, err, tuya.ErrMapping)
	_, err = ParseValueAlarm(3)
	assert.ErrorIs(t, err, tuya.ErrMapping)
	a, err := ParseValueAlarm(int64(0))
	require.NoError(t, err)
	assert.Equal(t, MinAlarmOn, a)
}

func timeResponse(t *testing.T, s setup) (utc, local uint32) {
	t.Helper()
	status := s.mcu().HandleClusterRequest(context.Background(), quirk.Request{
		TSN:       3,
		CommandID: tuya.CommandSetTime,
		Payload:   []byte{0x00, 0x00},
	})
	require.Equal(t, zcl.StatusSuccess, status)
	s.dev.Flush()

	sent := s.sink.requests()
	require.Len(t, sent, 1)
	assert.Equal(t, tuya.CommandSetTime, sent[0].CommandID)
	assert.Equal(t, uint16(0xEF00), sent[0].ClusterID)
	assert.Equal(t, uint8(1), sent[0].Endpoint)
	assert.False(t, sent[0].ExpectReply)

	body, err := tuya.ParseTimePayload(sent[0].Payload)
	require.NoError(t, err)
	utc, local, err = body.Timestamps()
	require.NoError(t, err)
	return utc, local
}

func TestSetTimeDefaults(t *testing.T) {
	utc, local := timeResponse(t, pair(t, e6Manufacturer, nil, nil))
	assert.Equal(t, uint32(fixedNow.Unix()), utc)
	assert.Equal(t, utc, local)
}

func TestSetTimeLocalOffset(t *testing.T) {
	s := pair(t, e6Manufacturer, quirk.Constants{ConstSetTimeLocalOffset: 2000}, nil)
	utc, local := timeResponse(t, s)

	anchors := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Sub(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, int64(anchors/time.Second), int64(utc)-int64(local))
}

func TestSetTimeUTCOffset(t *testing.T) {
	s := pair(t, e6Manufacturer, quirk.Constants{ConstSetTimeOffset: 2000}, nil)
	utc, local := timeResponse(t, s)

	want := fixedNow.Unix() - time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	assert.Equal(t, uint32(want), utc)
	assert.Equal(t, utc, local, "local epoch follows the utc epoch")
}

func TestSetTimeLocalZone(t *testing.T) {
	s := pair(t, szt04Manufacturer, nil, time.FixedZone("CEST", 2*3600))
	utc, local := timeResponse(t, s)
	assert.Equal(t, uint32(2*3600), local-utc)
}

func TestSetTimeFutureAnchor(t *testing.T) {
	s := pair(t, e6Manufacturer, quirk.Constants{ConstSetTimeOffset: 2100}, nil)
	status := s.mcu().HandleSetTimeRequest(nil)
	assert.Equal(t, zcl.StatusSuccess, status)
	s.dev.Flush()
	assert.Empty(t, s.sink.requests())
}

func TestRespondersSucceedWhenDetached(t *testing.T) {
	mcu := E6MCUCluster(nil).(*MCUCluster)
	assert.Equal(t, zcl.StatusSuccess, mcu.HandleSetTimeRequest(nil))
	assert.Equal(t, zcl.StatusSuccess, mcu.HandleConnectionStatus([]byte{0x2A, 0x01, 0x00}))
}

func TestConnectionStatus(t *testing.T) {
	s := pair(t, szt04Manufacturer, nil, nil)
	status := s.mcu().HandleClusterRequest(context.Background(), quirk.Request{
		CommandID: tuya.CommandMCUConnectionStatus,
		Payload:   []byte{0x2A, 0x01, 0x00},
	})
	assert.Equal(t, zcl.StatusSuccess, status)
	s.dev.Flush()

	sent := s.sink.requests()
	require.Len(t, sent, 1)
	assert.Equal(t, tuya.CommandMCUConnectionStatus, sent[0].CommandID)
	assert.Equal(t, []byte{0x2A, 0x01, 0x01}, sent[0].Payload)
	assert.False(t, sent[0].ExpectReply)

	status = s.mcu().HandleConnectionStatus(nil)
	assert.Equal(t, zcl.StatusMalformedCommand, status)
}

func TestWriteDecimalAttribute(t *testing.T) {
	s := pair(t, e6Manufacturer, nil, nil)
	require.NoError(t, s.mcu().WriteAttribute(context.Background(), "max_temperature", "39.0"))
	require.NoError(t, s.mcu().WriteAttribute(context.Background(), "temperature_unit_convert", "celsius"))

	sent := s.sink.requests()
	require.Len(t, sent, 2)
	assert.Equal(t, tuya.CommandSetData, sent[0].CommandID)

	cmd, err := tuya.ParseCommand(sent[0].Payload)
	require.NoError(t, err)
	require.Len(t, cmd.DataPoints, 1)
	assert.Equal(t, uint8(10), cmd.DataPoints[0].ID)
	v, err := cmd.DataPoints[0].Value()
	require.NoError(t, err)
	assert.Equal(t, int64(390), v)

	cmd, err = tuya.ParseCommand(sent[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, tuya.DPTypeEnum, cmd.DataPoints[0].Type)

	err = s.mcu().WriteAttribute(context.Background(), "temperature_alarm", 1)
	assert.ErrorIs(t, err, quirk.ErrReadOnly)
}

func TestWriteDecimalAttributeInputKinds(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  int64
	}{
		{"text is scaled", "39.0", 390},
		{"text rounds half to even", "21.25", 212},
		{"true is one", true, 10},
		{"false is zero", false, 0},
		{"int passes through", 390, 390},
		{"int64 passes through", int64(-55), -55},
		{"whole json number passes through", float64(390), 390},
		{"fractional float is scaled", 39.5, 395},
		{"decimal passes through", Decimal1(6), 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := pair(t, e6Manufacturer, nil, nil)
			require.NoError(t, s.mcu().WriteAttribute(context.Background(), "max_temperature", tt.value))

			sent := s.sink.requests()
			require.Len(t, sent, 1)
			cmd, err := tuya.ParseCommand(sent[0].Payload)
			require.NoError(t, err)
			require.Len(t, cmd.DataPoints, 1)
			v, err := cmd.DataPoints[0].Value()
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestStateJSON(t *testing.T) {
	out, err := json.Marshal(map[string]interface{}{
		"max_temperature":          Decimal1(390),
		"min_temperature":          Decimal1(-55),
		"temperature_unit_convert": Fahrenheit,
		"temperature_alarm":        AlarmOff,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"max_temperature": 39.0,
		"min_temperature": -5.5,
		"temperature_unit_convert": "fahrenheit",
		"temperature_alarm": "alarm_off"
	}`, string(out))
}
