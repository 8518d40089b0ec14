package panelkit

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/hubertat/panelkit/basis"
	"github.com/hubertat/panelkit/mqtt"
	"github.com/hubertat/panelkit/registry"
)

const (
	topicPrefix     = "panelkit"
	discoveryPrefix = "homeassistant"

	payloadOn      = "ON"
	payloadOff     = "OFF"
	payloadOnline  = "online"
	payloadOffline = "offline"
)

type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SwVersion    string   `json:"sw_version,omitempty"`
	HwVersion    string   `json:"hw_version,omitempty"`
}

type haDiscoveryConfig struct {
	Name                string   `json:"name"`
	UniqueId            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic"`
	CommandTopic        string   `json:"command_topic,omitempty"`
	AvailabilityTopic   string   `json:"availability_topic,omitempty"`
	UnitOfMeasurement   string   `json:"unit_of_measurement,omitempty"`
	DeviceClass         string   `json:"device_class,omitempty"`
	StateClass          string   `json:"state_class,omitempty"`
	Icon                string   `json:"icon,omitempty"`
	PayloadOn           string   `json:"payload_on,omitempty"`
	PayloadOff          string   `json:"payload_off,omitempty"`
	JsonAttributesTopic string   `json:"json_attributes_topic,omitempty"`
	Device              haDevice `json:"device"`
}

type haEntity struct {
	component string
	config    haDiscoveryConfig
}

func (e haEntity) configTopic() string {
	return discoveryPrefix + "/" + e.component + "/" + e.config.UniqueId + "/config"
}

type stateMessage struct {
	topic   string
	payload string
}

func boardStateTopic(serial, key string) string {
	return topicPrefix + "/" + serial + "/" + key + "/state"
}

func circuitStateTopic(board, sub, key string) string {
	return topicPrefix + "/" + board + "/" + sub + "/" + key + "/state"
}

func circuitCommandTopic(board, sub string) string {
	return topicPrefix + "/" + board + "/" + sub + "/set"
}

func availabilityTopic(serial string) string {
	return topicPrefix + "/" + serial + "/availability"
}

func energyAvailabilityTopic(serial string) string {
	return topicPrefix + "/" + serial + "/energy_availability"
}

func switchAvailabilityTopic(serial string) string {
	return topicPrefix + "/" + serial + "/switch_availability"
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func onOff(v bool) string {
	if v {
		return payloadOn
	}
	return payloadOff
}

func onlineOffline(v bool) string {
	if v {
		return payloadOnline
	}
	return payloadOffline
}

func sensorEntity(name, uniqueId, stateTopic, unit, deviceClass, stateClass, icon, availability string, device haDevice) haEntity {
	return haEntity{
		component: "sensor",
		config: haDiscoveryConfig{
			Name:              name,
			UniqueId:          uniqueId,
			StateTopic:        stateTopic,
			AvailabilityTopic: availability,
			UnitOfMeasurement: unit,
			DeviceClass:       deviceClass,
			StateClass:        stateClass,
			Icon:              icon,
			Device:            device,
		},
	}
}

// boardDiscovery lists every entity one board snapshot presents, board level
// sensors first, then three sensors per labeled subcircuit and a switch for
// the ones that allow standby control. Spare circuits present nothing.
func boardDiscovery(dev registry.Device, board *basis.Switchboard) []haEntity {
	serial := dev.Serial
	device := haDevice{
		Identifiers:  []string{serial},
		Name:         dev.Name,
		Manufacturer: dev.Manufacturer,
		Model:        dev.Model,
		SwVersion:    dev.SwVersion,
		HwVersion:    dev.HwVersion,
	}
	avail := availabilityTopic(serial)
	energyAvail := energyAvailabilityTopic(serial)

	entities := []haEntity{
		sensorEntity("Current Power", "basis_power_panel_"+serial,
			boardStateTopic(serial, "power_panel"), "W", "power", "measurement",
			"mdi:home-lightning-bolt", avail, device),
		sensorEntity("Import Power", "basis_import_power_"+serial,
			boardStateTopic(serial, "import_power"), "W", "power", "measurement",
			"mdi:transmission-tower-import", avail, device),
		sensorEntity("Export Power", "basis_export_power_"+serial,
			boardStateTopic(serial, "export_power"), "W", "power", "measurement",
			"mdi:transmission-tower-export", avail, device),
		sensorEntity("Primary Current", "basis_current_"+serial,
			boardStateTopic(serial, "current"), "A", "current", "measurement",
			"mdi:current-ac", avail, device),
		{
			component: "binary_sensor",
			config: haDiscoveryConfig{
				Name:                "Connectivity",
				UniqueId:            "basis_connectivity_" + serial,
				StateTopic:          boardStateTopic(serial, "connectivity"),
				AvailabilityTopic:   avail,
				DeviceClass:         "connectivity",
				PayloadOn:           payloadOn,
				PayloadOff:          payloadOff,
				JsonAttributesTopic: boardStateTopic(serial, "connectivity_attributes"),
				Device:              device,
			},
		},
		sensorEntity("Energy Today Import", "basis_energy_today_import_"+serial,
			boardStateTopic(serial, "energy_today_import"), "kWh", "energy", "total",
			"mdi:lightning-bolt", energyAvail, device),
		sensorEntity("Energy Today Export", "basis_energy_today_export_"+serial,
			boardStateTopic(serial, "energy_today_export"), "kWh", "energy", "total",
			"mdi:solar-power", energyAvail, device),
		sensorEntity("Energy This Month Import", "basis_energy_month_import_"+serial,
			boardStateTopic(serial, "energy_month_import"), "kWh", "energy", "total",
			"mdi:lightning-bolt", energyAvail, device),
		sensorEntity("Energy This Month Export", "basis_energy_month_export_"+serial,
			boardStateTopic(serial, "energy_month_export"), "kWh", "energy", "total",
			"mdi:solar-power", energyAvail, device),
	}

	if board == nil {
		return entities
	}

	for _, sub := range board.Subcircuits {
		label := sub.Label()
		if label == spareLabel {
			continue
		}

		entities = append(entities,
			sensorEntity(SubcircuitDisplayName(sub.Number, label, "Power"),
				"basis_power_"+serial+"_"+sub.Serial,
				circuitStateTopic(serial, sub.Serial, "power"), "W", "power", "measurement",
				LabelIcon(label, defaultSensorIcon), avail, device),
			sensorEntity(SubcircuitDisplayName(sub.Number, label, "Current"),
				"basis_current_"+serial+"_"+sub.Serial,
				circuitStateTopic(serial, sub.Serial, "current"), "A", "current", "measurement",
				"mdi:current-ac", avail, device),
			sensorEntity(SubcircuitDisplayName(sub.Number, label, "Voltage"),
				"basis_voltage_"+serial+"_"+sub.Serial,
				circuitStateTopic(serial, sub.Serial, "voltage"), "V", "voltage", "measurement",
				"mdi:sine-wave", avail, device),
		)

		if sub.Config != nil && !sub.Config.StandbyLocked {
			entities = append(entities, haEntity{
				component: "switch",
				config: haDiscoveryConfig{
					Name:              SubcircuitDisplayName(sub.Number, label, ""),
					UniqueId:          "basis_switch_" + serial + "_" + sub.Serial,
					StateTopic:        circuitStateTopic(serial, sub.Serial, "switch"),
					CommandTopic:      circuitCommandTopic(serial, sub.Serial),
					AvailabilityTopic: switchAvailabilityTopic(serial),
					Icon:              LabelIcon(label, defaultSwitchIcon),
					PayloadOn:         payloadOn,
					PayloadOff:        payloadOff,
					Device:            device,
				},
			})
		}
	}

	return entities
}

// boardStates renders the retained state messages for one board. Values
// absent from the snapshot are simply not published, so the broker keeps the
// last known ones.
func boardStates(serial string, board *basis.Switchboard, totals EnergyTotals, energySeen bool) []stateMessage {
	msgs := []stateMessage{}
	if board == nil {
		return msgs
	}

	msgs = append(msgs, stateMessage{boardStateTopic(serial, "connectivity"), onOff(board.Connected())})

	if board.Connectivity != nil {
		attrs := map[string]string{}
		if board.Connectivity.UpdatedTimestamp != "" {
			attrs["last_seen"] = board.Connectivity.UpdatedTimestamp
		}
		if board.Connectivity.DisconnectReason != "" {
			attrs["disconnect_reason"] = board.Connectivity.DisconnectReason
		}
		if len(attrs) > 0 {
			if payload, err := json.Marshal(attrs); err == nil {
				msgs = append(msgs, stateMessage{boardStateTopic(serial, "connectivity_attributes"), string(payload)})
			}
		}
	}

	if board.LiveState != nil {
		msgs = append(msgs,
			stateMessage{boardStateTopic(serial, "power_panel"), fmtFloat(board.LiveState.Power)},
			stateMessage{boardStateTopic(serial, "import_power"), fmtFloat(board.LiveState.PowerUsage.ImportPower)},
			stateMessage{boardStateTopic(serial, "export_power"), fmtFloat(board.LiveState.PowerUsage.ExportPower)},
			stateMessage{boardStateTopic(serial, "current"), fmtFloat(board.LiveState.PrimaryCurrent)},
		)
	}

	if energySeen {
		msgs = append(msgs,
			stateMessage{boardStateTopic(serial, "energy_today_import"), fmtFloat(totals.Today.ImportKwh)},
			stateMessage{boardStateTopic(serial, "energy_today_export"), fmtFloat(totals.Today.ExportKwh)},
			stateMessage{boardStateTopic(serial, "energy_month_import"), fmtFloat(totals.Month.ImportKwh)},
			stateMessage{boardStateTopic(serial, "energy_month_export"), fmtFloat(totals.Month.ExportKwh)},
		)
	}

	for i := range board.Subcircuits {
		sub := &board.Subcircuits[i]
		if sub.Label() == spareLabel {
			continue
		}
		if sub.LiveState != nil {
			msgs = append(msgs,
				stateMessage{circuitStateTopic(serial, sub.Serial, "power"), fmtFloat(sub.LiveState.Power)},
				stateMessage{circuitStateTopic(serial, sub.Serial, "current"), fmtFloat(sub.LiveState.PrimaryCurrent)},
				stateMessage{circuitStateTopic(serial, sub.Serial, "voltage"), fmtFloat(sub.LiveState.PhaseVoltage)},
			)
		}
		if sub.Config != nil && !sub.Config.StandbyLocked {
			msgs = append(msgs, stateMessage{circuitStateTopic(serial, sub.Serial, "switch"), onOff(sub.IsLive())})
		}
	}

	return msgs
}

type bridgeBinding struct {
	device       registry.Device
	live         *LivePoller
	energy       *EnergyPoller
	configTopics []string
}

// MqttBridge mirrors the presentation set onto an MQTT broker using Home
// Assistant discovery, and feeds switch commands back into the cloud. It is
// an optional surface; without a broker the bridge is simply never created.
type MqttBridge struct {
	pub mqtt.Publisher
	api BoardAPI
	log *log.Logger

	mu     sync.Mutex
	boards map[string]*bridgeBinding
}

func NewMqttBridge(pub mqtt.Publisher, api BoardAPI) *MqttBridge {
	return &MqttBridge{
		pub:    pub,
		api:    api,
		boards: map[string]*bridgeBinding{},
		log: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "bridge: ",
			Level:  log.GetLevel(),
		}),
	}
}

// AnnounceBoard publishes retained discovery configs for every entity of the
// board and retracts configs that disappeared since the last announcement,
// e.g. a circuit relabeled to spare.
func (mb *MqttBridge) AnnounceBoard(dev registry.Device, live *LivePoller, energy *EnergyPoller) error {
	board, _ := live.Snapshot()
	entities := boardDiscovery(dev, board)

	topics := make([]string, 0, len(entities))
	var failed error
	for _, entity := range entities {
		payload, err := json.Marshal(entity.config)
		if err != nil {
			return errors.Wrapf(err, "failed to encode discovery config %s", entity.config.UniqueId)
		}
		topics = append(topics, entity.configTopic())
		if err := mb.pub.PublishRetained(entity.configTopic(), payload); err != nil {
			failed = errors.Wrapf(err, "failed to announce %s", entity.config.UniqueId)
		}
	}

	mb.mu.Lock()
	previous := mb.boards[dev.Serial]
	mb.boards[dev.Serial] = &bridgeBinding{
		device:       dev,
		live:         live,
		energy:       energy,
		configTopics: topics,
	}
	mb.mu.Unlock()

	if previous != nil {
		current := map[string]bool{}
		for _, topic := range topics {
			current[topic] = true
		}
		for _, topic := range previous.configTopics {
			if !current[topic] {
				if err := mb.pub.PublishRetained(topic, nil); err != nil {
					mb.log.Warn("failed to retract stale config", "topic", topic, "error", err)
				}
			}
		}
	}

	mb.log.Debug("announced board", "serial", dev.Serial, "entities", len(entities))
	return failed
}

// RetractBoard removes every previously announced config of one board,
// deleting its entities from the host.
func (mb *MqttBridge) RetractBoard(serial string) {
	mb.mu.Lock()
	binding := mb.boards[serial]
	delete(mb.boards, serial)
	mb.mu.Unlock()

	if binding == nil {
		return
	}
	for _, topic := range binding.configTopics {
		if err := mb.pub.PublishRetained(topic, nil); err != nil {
			mb.log.Warn("failed to retract config", "topic", topic, "error", err)
		}
	}
	mb.log.Debug("retracted board", "serial", serial)
}

// PublishStates pushes availability and current states for all announced
// boards. Failures are logged and never fatal, the next cycle retries.
func (mb *MqttBridge) PublishStates() {
	mb.mu.Lock()
	bindings := make(map[string]*bridgeBinding, len(mb.boards))
	for serial, binding := range mb.boards {
		bindings[serial] = binding
	}
	mb.mu.Unlock()

	for serial, binding := range bindings {
		board, liveOk := binding.live.Snapshot()
		totals, energyOk := binding.energy.Totals()
		energySeen := !binding.energy.LastSuccess().IsZero()

		mb.publishRetained(availabilityTopic(serial), onlineOffline(liveOk))
		mb.publishRetained(energyAvailabilityTopic(serial), onlineOffline(energyOk))
		mb.publishRetained(switchAvailabilityTopic(serial), onlineOffline(liveOk && board.Connected()))

		for _, msg := range boardStates(serial, board, totals, energySeen) {
			mb.publishRetained(msg.topic, msg.payload)
		}
	}
}

func (mb *MqttBridge) publishRetained(topic, payload string) {
	if err := mb.pub.PublishRetained(topic, []byte(payload)); err != nil {
		mb.log.Warn("publish failed", "topic", topic, "error", err)
	}
}

// MqttSubscribeTopic implements mqtt.MqttHandler for switch commands.
func (mb *MqttBridge) MqttSubscribeTopic() string {
	return topicPrefix + "/+/+/set"
}

// MqttHandle turns an inbound ON/OFF command into the standby mutation and
// schedules a refresh so the published state converges.
func (mb *MqttBridge) MqttHandle(pub *paho.Publish) {
	parts := strings.Split(pub.Topic, "/")
	if len(parts) != 4 || parts[0] != topicPrefix || parts[3] != "set" {
		mb.log.Warn("unexpected command topic", "topic", pub.Topic)
		return
	}
	boardSerial, subSerial := parts[1], parts[2]

	var on bool
	switch strings.ToUpper(strings.TrimSpace(string(pub.Payload))) {
	case payloadOn:
		on = true
	case payloadOff:
		on = false
	default:
		mb.log.Warn("unexpected command payload", "topic", pub.Topic, "payload", string(pub.Payload))
		return
	}

	mb.mu.Lock()
	binding := mb.boards[boardSerial]
	mb.mu.Unlock()
	if binding == nil {
		mb.log.Warn("command for unknown board", "serial", boardSerial)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), standbyTimeout)
	defer cancel()

	_, err := mb.api.SetSubcircuitStandby(ctx, boardSerial, subSerial, !on)
	if err != nil {
		mb.log.Error("standby command failed",
			"board", boardSerial, "subcircuit", subSerial, "on", on, "error", err)
	}

	binding.live.RequestRefresh()
}
