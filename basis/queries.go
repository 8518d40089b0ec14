package basis

const discoverSwitchboardsQuery = `
query {
    sites(input: { query: "" }) {
        sites {
            id
            switchboards {
                serial
                connectivity {
                    connected
                }
            }
        }
    }
}`

const getSwitchboardDataQuery = `
query GetSwitchboardData($serial: String!) {
    switchboard(serial: $serial) {
        serial
        model
        version
        connectivity {
            connected
            updatedTimestamp
            disconnectReason
        }
        liveState {
            power
            powerUsage {
                importPower
                exportPower
            }
            primaryCurrent
            updatedTimestamp
        }
        subcircuits {
            serial
            number
            config {
                label
                standbyLocked
                version
            }
            liveState {
                state
                power
                primaryCurrent
                phaseVoltage
                updatedTimestamp
            }
        }
    }
}`

const getEnergyUsageQuery = `
query GetSwitchboardEnergyUsage($serial: String!, $startTime: Time!) {
    switchboard(serial: $serial) {
        totalSwitchboardEnergyUsage(input: { startTime: $startTime }) {
            importKwh
            exportKwh
        }
    }
}`

const updateSubcircuitStandbyMutation = `
mutation UpdateSubcircuitStandby($input: UpdateSubcircuitStandbyStateInput!) {
    updateSubcircuitStandbyState(input: $input) {
        serial
        liveState {
            state
        }
    }
}`
