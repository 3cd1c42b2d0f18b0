package conditions

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/voidexforge/gamification-engine/internal/model"
)

// GojaScriptPlugin compiles parameters["script"] as a JS expression and
// evaluates it in a fresh goja VM per call, exposing `attributes` (the
// trigger event's attribute map) and `now` (unix seconds). The result is
// converted with JavaScript truthiness, so a non-boolean value is accepted
// rather than rejected. This is the one concrete example of the
// plugin registry extension point (Design Notes §9); it is never
// registered by default, so out of the box customScript still behaves per
// spec §4.3: always false, details="unsupported".
func GojaScriptPlugin(scope *Scope, cond *model.Condition) (bool, string) {
	script, _ := cond.Parameters["script"].(string)
	if script == "" {
		return false, "no script configured"
	}

	vm := goja.New()
	if err := vm.Set("attributes", scope.Trigger.Attributes); err != nil {
		return false, fmt.Sprintf("script setup failed: %v", err)
	}
	if err := vm.Set("now", scope.Now.Unix()); err != nil {
		return false, fmt.Sprintf("script setup failed: %v", err)
	}

	v, err := vm.RunString(script)
	if err != nil {
		return false, fmt.Sprintf("script error: %v", err)
	}
	return v.ToBoolean(), "customScript evaluated"
}
