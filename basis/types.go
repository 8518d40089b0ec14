package basis

// SubcircuitStateLive is the live-state value reported for a subcircuit that is
// powered on; anything else means the circuit is in standby.
const SubcircuitStateLive = "LIVE"

// DiscoveredBoard is one row of the discovery query, flattened across sites.
type DiscoveredBoard struct {
	Serial    string
	SiteID    string
	Connected bool
}

// Connectivity describes the cloud connection of a switchboard.
// Absent on the wire means never seen: Connected defaults to false.
type Connectivity struct {
	Connected        bool   `json:"connected"`
	UpdatedTimestamp string `json:"updatedTimestamp"`
	DisconnectReason string `json:"disconnectReason"`
}

// PowerUsage splits aggregate power into grid import and export.
type PowerUsage struct {
	ImportPower float64 `json:"importPower"`
	ExportPower float64 `json:"exportPower"`
}

// LiveState is the aggregate live reading of a switchboard.
type LiveState struct {
	Power            float64    `json:"power"`
	PowerUsage       PowerUsage `json:"powerUsage"`
	PrimaryCurrent   float64    `json:"primaryCurrent"`
	UpdatedTimestamp string     `json:"updatedTimestamp"`
}

// SubcircuitConfig is the installer-set configuration of a branch circuit.
// Label is an enum-like key ("oven", "evCharger", ...); an empty label is
// treated as "spare" everywhere labels are interpreted.
type SubcircuitConfig struct {
	Label         string `json:"label"`
	StandbyLocked bool   `json:"standbyLocked"`
	Version       string `json:"version"`
}

// SubcircuitLiveState is the live reading of one branch circuit.
type SubcircuitLiveState struct {
	State            string  `json:"state"`
	Power            float64 `json:"power"`
	PrimaryCurrent   float64 `json:"primaryCurrent"`
	PhaseVoltage     float64 `json:"phaseVoltage"`
	UpdatedTimestamp string  `json:"updatedTimestamp"`
}

// Subcircuit is one branch circuit of a switchboard. Serial is stable across
// polls and unique within the board; Number is the 1-based position used for
// display ordering. Config and LiveState are nil when the API omits them.
type Subcircuit struct {
	Serial    string               `json:"serial"`
	Number    int                  `json:"number"`
	Config    *SubcircuitConfig    `json:"config"`
	LiveState *SubcircuitLiveState `json:"liveState"`
}

// IsLive reports whether the circuit is currently powered on.
func (s *Subcircuit) IsLive() bool {
	return s != nil && s.LiveState != nil && s.LiveState.State == SubcircuitStateLive
}

// Label returns the configured label key, defaulting to "spare" when the
// config or label is absent.
func (s *Subcircuit) Label() string {
	if s == nil || s.Config == nil || s.Config.Label == "" {
		return "spare"
	}
	return s.Config.Label
}

// Switchboard is a full snapshot of one board, as returned by the
// GetSwitchboardData query. Optional nested objects stay nil when missing;
// only the identifying serial is mandatory.
type Switchboard struct {
	Serial       string        `json:"serial"`
	Model        string        `json:"model"`
	Version      string        `json:"version"`
	Connectivity *Connectivity `json:"connectivity"`
	LiveState    *LiveState    `json:"liveState"`
	Subcircuits  []Subcircuit  `json:"subcircuits"`
}

// Connected reports board connectivity, defaulting to false without data.
func (b *Switchboard) Connected() bool {
	return b != nil && b.Connectivity != nil && b.Connectivity.Connected
}

// Subcircuit finds a circuit by its serial, the join key entities use to
// locate current live data. Returns nil when not present in this snapshot.
func (b *Switchboard) Subcircuit(serial string) *Subcircuit {
	if b == nil {
		return nil
	}
	for i := range b.Subcircuits {
		if b.Subcircuits[i].Serial == serial {
			return &b.Subcircuits[i]
		}
	}
	return nil
}

// EnergyUsage holds cumulative import/export totals for one query window.
// Missing values default to zero.
type EnergyUsage struct {
	ImportKwh float64 `json:"importKwh"`
	ExportKwh float64 `json:"exportKwh"`
}

// StandbyResult is the acknowledged state after a standby mutation.
type StandbyResult struct {
	Serial string
	State  string
}
