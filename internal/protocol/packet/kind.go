package packet

// Kind identifies one concrete packet variant.
type Kind int

const (
	KindUnknown Kind = iota

	KindTurnoutList
	KindTurnoutDelete
	KindTurnoutThrow
	KindTurnoutDefine

	KindSensorList
	KindSensorDelete
	KindSensorDefine

	KindOutputList
	KindOutputDelete
	KindOutputSet
	KindOutputDefine

	KindSensorStateList
	KindSensorActive
	KindSensorStateData
	KindSensorInactive

	KindAccessory
	KindThrottle
	KindFunction
	KindSuccess
	KindFailure
	KindReadCurrent
	KindReadStationState
	KindInfo
	KindPower
)

// Type chars. Turnout, sensor, output and sensor-state are overloaded
// families resolved by parameter count.
const (
	CharTurnout          byte = 'T'
	CharSensor           byte = 'S'
	CharOutput           byte = 'Z'
	CharSensorState      byte = 'Q'
	CharSensorInactive   byte = 'q'
	CharAccessory        byte = 'a'
	CharThrottle         byte = 't'
	CharFunction         byte = 'f'
	CharSuccess          byte = 'O'
	CharFailure          byte = 'X'
	CharReadCurrent      byte = 'c'
	CharReadStationState byte = 's'
	CharInfo             byte = 'i'
	CharPower            byte = 'p'
)

var kindNames = map[Kind]string{
	KindTurnoutList:      "turnout.list",
	KindTurnoutDelete:    "turnout.delete",
	KindTurnoutThrow:     "turnout.throw",
	KindTurnoutDefine:    "turnout.define",
	KindSensorList:       "sensor.list",
	KindSensorDelete:     "sensor.delete",
	KindSensorDefine:     "sensor.define",
	KindOutputList:       "output.list",
	KindOutputDelete:     "output.delete",
	KindOutputSet:        "output.set",
	KindOutputDefine:     "output.define",
	KindSensorStateList:  "sensor_state.list",
	KindSensorActive:     "sensor_state.active",
	KindSensorStateData:  "sensor_state.data",
	KindSensorInactive:   "sensor_state.inactive",
	KindAccessory:        "accessory",
	KindThrottle:         "throttle",
	KindFunction:         "function",
	KindSuccess:          "success",
	KindFailure:          "failure",
	KindReadCurrent:      "read_current",
	KindReadStationState: "read_station_state",
	KindInfo:             "info",
	KindPower:            "power",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a kind name such as "turnout.throw" back to its Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return KindUnknown, false
}

// Char returns the canonical type char for k, or 0 for KindUnknown.
func (k Kind) Char() byte {
	switch k {
	case KindTurnoutList, KindTurnoutDelete, KindTurnoutThrow, KindTurnoutDefine:
		return CharTurnout
	case KindSensorList, KindSensorDelete, KindSensorDefine:
		return CharSensor
	case KindOutputList, KindOutputDelete, KindOutputSet, KindOutputDefine:
		return CharOutput
	case KindSensorStateList, KindSensorActive, KindSensorStateData:
		return CharSensorState
	case KindSensorInactive:
		return CharSensorInactive
	case KindAccessory:
		return CharAccessory
	case KindThrottle:
		return CharThrottle
	case KindFunction:
		return CharFunction
	case KindSuccess:
		return CharSuccess
	case KindFailure:
		return CharFailure
	case KindReadCurrent:
		return CharReadCurrent
	case KindReadStationState:
		return CharReadStationState
	case KindInfo:
		return CharInfo
	case KindPower:
		return CharPower
	default:
		return 0
	}
}

// Family groups the kinds that carry remembered device definitions.
type Family int

const (
	FamilyNone Family = iota
	FamilyTurnout
	FamilySensor
	FamilyOutput
)

func (f Family) String() string {
	switch f {
	case FamilyTurnout:
		return "turnout"
	case FamilySensor:
		return "sensor"
	case FamilyOutput:
		return "output"
	default:
		return "none"
	}
}

// Families lists the definition families in replay order.
func Families() []Family {
	return []Family{FamilyTurnout, FamilySensor, FamilyOutput}
}

// Message is the closed set of typed packet variants. Only types in this
// package implement it.
type Message interface {
	Kind() Kind
	Raw() Packet
	isMessage()
}

// Definition is implemented by the define variant of each family.
type Definition interface {
	Message
	ID() RegistrationID
	Address() Address
	Family() Family
}

// Deletion is implemented by the delete variant of each family.
type Deletion interface {
	Message
	ID() RegistrationID
	Family() Family
}

type base struct {
	raw Packet
}

func (b base) Raw() Packet { return b.raw }

func (base) isMessage() {}

func (b base) String() string { return b.raw.String() }
