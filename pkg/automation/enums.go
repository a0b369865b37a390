package automation

// EventType is the closed set of trigger event kinds a compiled automation
// can react to (§4.5). Zero is reserved as "invalid" so a trigger record
// that failed classification is detectable.
type EventType uint8

const (
	EventInvalid EventType = iota
	EventZigbeeCommand
	EventZigbeeAttrReport
	EventDeviceJoin
	EventDeviceLeave
)

func eventTypeFromString(s string) EventType {
	switch s {
	case "zigbee.command":
		return EventZigbeeCommand
	case "zigbee.attr_report":
		return EventZigbeeAttrReport
	case "device.join":
		return EventDeviceJoin
	case "device.leave":
		return EventDeviceLeave
	default:
		return EventInvalid
	}
}

// Op is a condition's comparison operator.
type Op uint8

const (
	OpInvalid Op = iota
	OpEQ
	OpNE
	OpGT
	OpLT
	OpGE
	OpLE
)

func opFromString(s string) Op {
	switch s {
	case "==":
		return OpEQ
	case "!=":
		return OpNE
	case ">":
		return OpGT
	case "<":
		return OpLT
	case ">=":
		return OpGE
	case "<=":
		return OpLE
	default:
		return OpInvalid
	}
}

// ValType tags a condition's comparison value.
type ValType uint8

const (
	ValBool ValType = iota
	ValF64
)

// ActionKind is the closed set of compiled-action dispatch targets (§4.6).
type ActionKind uint8

const (
	ActDevice ActionKind = iota
	ActGroup
	ActScene
	ActBind
)

// ActionFlagUnbind marks a GW_AUTO_ACT_BIND action as an unbind instead of a
// bind (action_exec.c branches on this bit rather than a separate kind).
const ActionFlagUnbind uint8 = 1 << 0
