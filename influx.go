package panelkit

import (
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/hubertat/panelkit/registry"
)

type pointWriter interface {
	WritePoint(point *write.Point)
}

// InfluxRecorder pushes poll snapshots into an InfluxDB bucket for long term
// retention. Points are timestamped with the poll time, so re-recording an
// unchanged snapshot overwrites the same point instead of duplicating it.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	writer   pointWriter
	log      *log.Logger

	lastEnergy map[string]time.Time
}

func NewInfluxRecorder(url, token, org, bucket string) *InfluxRecorder {
	client := influxdb2.NewClient(url, token)
	writeAPI := client.WriteAPI(org, bucket)

	ir := &InfluxRecorder{
		client:     client,
		writeAPI:   writeAPI,
		writer:     writeAPI,
		lastEnergy: map[string]time.Time{},
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "influx: ",
			Level:  log.GetLevel(),
		}),
	}

	go func() {
		for err := range writeAPI.Errors() {
			ir.log.Warn("write failed", "error", err)
		}
	}()

	return ir
}

// Record writes the current readings of one board. Degraded polls are skipped,
// only fresh data reaches the bucket.
func (ir *InfluxRecorder) Record(dev registry.Device, live *LivePoller, energy *EnergyPoller) {
	board, ok := live.Snapshot()
	if ok && board != nil {
		ts := live.LastSuccess()
		tags := map[string]string{
			"serial": dev.Serial,
			"site":   dev.SiteID,
		}

		if board.LiveState != nil {
			ir.writer.WritePoint(influxdb2.NewPoint("switchboard", tags,
				map[string]interface{}{
					"power":           board.LiveState.Power,
					"import_power":    board.LiveState.PowerUsage.ImportPower,
					"export_power":    board.LiveState.PowerUsage.ExportPower,
					"primary_current": board.LiveState.PrimaryCurrent,
					"connected":       board.Connected(),
				}, ts))
		}

		for i := range board.Subcircuits {
			sub := &board.Subcircuits[i]
			if sub.LiveState == nil {
				continue
			}
			ir.writer.WritePoint(influxdb2.NewPoint("subcircuit",
				map[string]string{
					"serial": sub.Serial,
					"board":  dev.Serial,
					"number": strconv.Itoa(sub.Number),
					"label":  sub.Label(),
				},
				map[string]interface{}{
					"power":   sub.LiveState.Power,
					"current": sub.LiveState.PrimaryCurrent,
					"voltage": sub.LiveState.PhaseVoltage,
					"live":    sub.IsLive(),
				}, ts))
		}
	}

	totals, energyOk := energy.Totals()
	energyTs := energy.LastSuccess()
	if energyOk && !energyTs.IsZero() && ir.lastEnergy[dev.Serial] != energyTs {
		ir.lastEnergy[dev.Serial] = energyTs
		tags := map[string]string{
			"serial": dev.Serial,
			"site":   dev.SiteID,
		}

		ir.writer.WritePoint(influxdb2.NewPoint("energy",
			withWindow(tags, "today"),
			map[string]interface{}{
				"import_kwh": totals.Today.ImportKwh,
				"export_kwh": totals.Today.ExportKwh,
			}, energyTs))
		ir.writer.WritePoint(influxdb2.NewPoint("energy",
			withWindow(tags, "month"),
			map[string]interface{}{
				"import_kwh": totals.Month.ImportKwh,
				"export_kwh": totals.Month.ExportKwh,
			}, energyTs))
	}
}

// Forget drops the bookkeeping of a removed board.
func (ir *InfluxRecorder) Forget(serial string) {
	delete(ir.lastEnergy, serial)
}

func (ir *InfluxRecorder) Close() error {
	if ir.writeAPI != nil {
		ir.writeAPI.Flush()
	}
	if ir.client != nil {
		ir.client.Close()
	}
	return nil
}

func withWindow(tags map[string]string, window string) map[string]string {
	out := map[string]string{"window": window}
	for k, v := range tags {
		out[k] = v
	}
	return out
}
