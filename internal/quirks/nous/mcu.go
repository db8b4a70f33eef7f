package nous

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"zigbee-quirks/internal/quirk"
	"zigbee-quirks/internal/tuya"
	"zigbee-quirks/internal/zcl"
)

const defaultTimeOffset = 1970

// MCUCluster is the Tuya MCU cluster of the Nous sensors. On top of the
// data-point handling it answers the device's clock sync and gateway
// connection-status requests.
type MCUCluster struct {
	*tuya.MCUCluster
}

// E6MCUCluster is the cluster factory for the E6.
func E6MCUCluster(ep *quirk.Endpoint) quirk.Cluster {
	return &MCUCluster{MCUCluster: tuya.NewMCUCluster(ep, mcuDef(E6Attributes), E6DataPoints)}
}

// SZT04MCUCluster is the cluster factory for the SZ-T04.
func SZT04MCUCluster(ep *quirk.Endpoint) quirk.Cluster {
	return &MCUCluster{MCUCluster: tuya.NewMCUCluster(ep, mcuDef(SZT04Attributes), SZT04DataPoints)}
}

func (c *MCUCluster) HandleClusterRequest(ctx context.Context, req quirk.Request) zcl.Status {
	switch req.CommandID {
	case tuya.CommandSetTime:
		return c.HandleSetTimeRequest(req.Payload)
	case tuya.CommandMCUConnectionStatus:
		return c.HandleConnectionStatus(req.Payload)
	}
	return c.MCUCluster.HandleClusterRequest(ctx, req)
}

// HandleSetTimeRequest answers a clock sync request with the seconds elapsed
// since the UTC and local epoch years. The reply is sent in the background
// and the request always succeeds.
func (c *MCUCluster) HandleSetTimeRequest(payload []byte) zcl.Status {
	ep := c.Endpoint()
	if ep == nil || ep.Device() == nil {
		slog.Error("set time response not sent: cluster is not attached to a device", "cluster", c.Def().Name)
		return zcl.StatusSuccess
	}
	dev := ep.Device()
	log := dev.Logger().With("cluster", c.Def().Name)
	log.Debug("set time request", "payload", fmt.Sprintf("% X", payload))

	utc, local, err := c.timestamps(dev)
	if err != nil {
		log.Error("set time response not sent", "err", err)
		return zcl.StatusSuccess
	}
	body, err := tuya.NewTimePayload(utc, local).MarshalBinary()
	if err != nil {
		log.Error("set time response not sent", "err", err)
		return zcl.StatusSuccess
	}
	log.Debug("set time response", "utc", utc, "local", local)

	dev.CreateCatchingTask("set_time", func(ctx context.Context) error {
		return dev.Command(ctx, quirk.CommandRequest{
			Endpoint:  ep.ID,
			ClusterID: c.ID(),
			CommandID: tuya.CommandSetTime,
			Payload:   body,
		})
	})
	return zcl.StatusSuccess
}

func (c *MCUCluster) timestamps(dev *quirk.Device) (utc, local uint32, err error) {
	utcYear := int64(defaultTimeOffset)
	if y, ok := dev.IntConstant(ConstSetTimeOffset); ok {
		utcYear = y
	}
	localYear := utcYear
	if y, ok := dev.IntConstant(ConstSetTimeLocalOffset); ok && y != 0 {
		localYear = y
	}

	now := dev.Now()
	utcAnchor := time.Date(int(utcYear), time.January, 1, 0, 0, 0, 0, time.UTC)
	localAnchor := time.Date(int(localYear), time.January, 1, 0, 0, 0, 0, time.UTC)

	// The local clock counts wall-clock seconds in the configured zone.
	lt := now.In(dev.Location())
	wall := time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), lt.Minute(), lt.Second(), 0, time.UTC)

	utcSecs := now.Unix() - utcAnchor.Unix()
	localSecs := wall.Unix() - localAnchor.Unix()
	if utcSecs < 0 || utcSecs > math.MaxUint32 {
		return 0, 0, fmt.Errorf("utc timestamp %d since %d does not fit 32 bits", utcSecs, utcYear)
	}
	if localSecs < 0 || localSecs > math.MaxUint32 {
		return 0, 0, fmt.Errorf("local timestamp %d since %d does not fit 32 bits", localSecs, localYear)
	}
	return uint32(utcSecs), uint32(localSecs), nil
}

// HandleConnectionStatus tells the device the gateway is connected to the
// internet, echoing the request's transaction number.
func (c *MCUCluster) HandleConnectionStatus(payload []byte) zcl.Status {
	ep := c.Endpoint()
	if ep == nil || ep.Device() == nil {
		slog.Error("connection status response not sent: cluster is not attached to a device", "cluster", c.Def().Name)
		return zcl.StatusSuccess
	}
	dev := ep.Device()

	req, err := tuya.ParseConnectionStatus(payload)
	if err != nil {
		dev.ReportFailure("mcu connection status", err)
		return zcl.StatusMalformedCommand
	}
	body, err := tuya.ConnectionStatus{TSN: req.TSN, Status: []byte{tuya.GatewayConnected}}.MarshalBinary()
	if err != nil {
		dev.ReportFailure("mcu connection status", err)
		return zcl.StatusSuccess
	}

	dev.CreateCatchingTask("mcu_connection_status", func(ctx context.Context) error {
		return dev.Command(ctx, quirk.CommandRequest{
			Endpoint:  ep.ID,
			ClusterID: c.ID(),
			CommandID: tuya.CommandMCUConnectionStatus,
			Payload:   body,
		})
	})
	return zcl.StatusSuccess
}
