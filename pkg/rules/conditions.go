package rules

import (
	"math"

	"github.com/urmzd/zgw/pkg/automation"
	"github.com/urmzd/zgw/pkg/zbmodel"
)

// floatEpsilon is the tolerance conditions_pass uses for == and != against
// floating-point state values, matching rules_engine.c's GW_RULE_F64_EPS.
const floatEpsilon = 1e-6

// conditionsPass evaluates every condition in conds against store, AND-ed
// together — an automation fires only if all conditions pass (empty conds
// passes trivially). defaultUID is the device the triggering event came
// from, used when a condition omits its own device (bare key lookups
// implicitly scope to the event's own device). Grounded on
// rules_engine.c's conditions_pass/state_to_number_bool.
func conditionsPass(c *automation.Compiled, conds []automation.ConditionRecord, store *zbmodel.StateStore, defaultUID zbmodel.UID) bool {
	for _, cond := range conds {
		if !conditionPass(c, cond, store, defaultUID) {
			return false
		}
	}
	return true
}

func conditionPass(c *automation.Compiled, cond automation.ConditionRecord, store *zbmodel.StateStore, defaultUID zbmodel.UID) bool {
	uid := defaultUID
	if cond.DeviceUIDOff != 0 {
		if parsed, err := zbmodel.ParseUID(c.String(cond.DeviceUIDOff)); err == nil {
			uid = parsed
		} else {
			return false
		}
	}

	key := c.String(cond.KeyOff)
	if key == "" {
		return false
	}

	value, _, err := store.Get(uid, key)
	if err != nil {
		return false
	}
	lhs, _ := value.ToFloat64()

	var rhs float64
	switch cond.ValType {
	case automation.ValBool:
		if cond.ValueBits != 0 {
			rhs = 1
		}
	case automation.ValF64:
		rhs = math.Float64frombits(cond.ValueBits)
	default:
		return false
	}

	switch cond.Op {
	case automation.OpEQ:
		return math.Abs(lhs-rhs) <= floatEpsilon
	case automation.OpNE:
		return math.Abs(lhs-rhs) > floatEpsilon
	case automation.OpGT:
		return lhs > rhs
	case automation.OpLT:
		return lhs < rhs
	case automation.OpGE:
		return lhs >= rhs
	case automation.OpLE:
		return lhs <= rhs
	default:
		return false
	}
}
