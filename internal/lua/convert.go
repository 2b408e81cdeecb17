package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/flowwatch/internal/models"
)

func tableToEventData(tbl *lua.LTable) *models.EventData {
	data := &models.EventData{}
	if v := tbl.RawGetString("input"); v != lua.LNil {
		data.Input = luaToGo(v)
	}
	if v := tbl.RawGetString("output"); v != lua.LNil {
		data.Output = luaToGo(v)
	}
	if v, ok := tbl.RawGetString("duration").(lua.LNumber); ok {
		ms := int64(v)
		data.Duration = &ms
	}
	if v, ok := tbl.RawGetString("error").(lua.LString); ok {
		data.Error = string(v)
	}
	return data
}

// luaToGo converts a Lua value to plain Go values. Tables with only
// consecutive integer keys from 1 become slices.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 && n == countKeys(val) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = luaToGo(item)
		})
		return out
	default:
		return val.String()
	}
}

func countKeys(tbl *lua.LTable) int {
	n := 0
	tbl.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// goToLua converts a Go value to a Lua value
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.SetTable(tbl, lua.LNumber(i+1), goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
