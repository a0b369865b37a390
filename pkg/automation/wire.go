package automation

// Magic identifies a compiled-automation container: 'GWAR' (§3, §4.5).
const Magic uint32 = 0x52415747

// Version is the only binary layout this package emits or accepts.
const Version uint16 = 2

const (
	headerSize      = 48 // magic,version,reserved,4*u32 counts,5*u32 offsets,u32 strings size
	automationSize  = 36 // id_off,name_off,enabled,mode,reserved,3*(index,count)
	triggerSize     = 16
	conditionSize   = 20
	actionSize      = 32
)

// Header is gw_auto_bin_header_v2_t verbatim: field names, order, and sizes
// match automation_compiled.h exactly.
type Header struct {
	Magic               uint32
	Version             uint16
	Reserved            uint16
	AutomationCount     uint32
	TriggerCountTotal   uint32
	ConditionCountTotal uint32
	ActionCountTotal    uint32
	AutomationsOff      uint32
	TriggersOff         uint32
	ConditionsOff       uint32
	ActionsOff          uint32
	StringsOff          uint32
	StringsSize         uint32
}

// AutomationRecord is gw_auto_bin_automation_v2_t verbatim.
type AutomationRecord struct {
	IDOff           uint32
	NameOff         uint32
	Enabled         uint8
	Mode            uint8
	Reserved        uint16
	TriggersIndex   uint32
	TriggersCount   uint32
	ConditionsIndex uint32
	ConditionsCount uint32
	ActionsIndex    uint32
	ActionsCount    uint32
}

// TriggerRecord is the per-automation event match record. original_source's
// automation_compiled.h ships only the container header; the per-record
// struct (named in rules_engine.c/action_exec.c but not itself present in
// the pack) is reconstructed here field-for-field from every use site in
// automation_compiled.c's compile_triggers and rules_engine.c's
// trigger_matches, with a self-consistent wire layout.
type TriggerRecord struct {
	EventType     EventType
	Endpoint      uint8
	Reserved      uint16
	DeviceUIDOff  uint32 // 0 = wildcard (any device)
	CmdOff        uint32 // 0 = wildcard (any command), EventZigbeeCommand only
	ClusterID     uint16
	AttrID        uint16
}

// ConditionRecord is the per-automation state-comparison record,
// reconstructed from automation_compiled.c's compile_conditions and
// rules_engine.c's conditions_pass/state_to_number_bool.
type ConditionRecord struct {
	Op           Op
	ValType      ValType
	Reserved     uint16
	DeviceUIDOff uint32
	KeyOff       uint32
	ValueBits    uint64 // bool: 0/1; f64: math.Float64bits
}

// ActionRecord is the per-automation dispatch record, reconstructed from
// automation_compiled.c's compile_actions and action_exec.c's
// gw_action_exec_compiled.
type ActionRecord struct {
	Kind     ActionKind
	Flags    uint8
	Endpoint uint8 // device/bind-src endpoint
	AuxEp    uint8 // bind-dst endpoint
	CmdOff   uint32
	UIDOff   uint32 // device uid / bind-src uid
	UID2Off  uint32 // bind-dst uid
	U16_0    uint16 // group_id / bind cluster_id / scene group_id
	U16_1    uint16 // scene_id
	Arg0U32  uint32 // level / x / mireds
	Arg1U32  uint32 // transition_ms / y
	Arg2U32  uint32 // transition_ms (xy form)
}
