// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package lua

import (
	"encoding/json"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// toGo converts a Lua value into its JSON-shaped Go equivalent.
func toGo(lv lua.LValue) any {
	return toGoVisited(lv, make(map[*lua.LTable]bool))
}

func toGoVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case nil:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		defer delete(visited, v)
		return tableToGo(v, visited)
	default:
		// nil, functions, userdata and threads have no JSON form.
		return nil
	}
}

// tableToGo returns a slice for tables with contiguous integer keys from 1,
// otherwise a map. An empty table becomes an empty map.
func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	isArray := true
	maxN, count := 0, 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				maxN = max(maxN, n)
				return
			}
		}
		isArray = false
	})

	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = toGoVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = strconv.FormatFloat(float64(kv), 'f', -1, 64)
		default:
			key = k.String()
		}
		m[key] = toGoVisited(v, visited)
	})
	return m
}

// toLua converts a Go value into a Lua value. Values outside the JSON shape
// are normalized through encoding/json first.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return lua.LString(val.String())
		}
		return lua.LNumber(f)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []any:
		t := L.CreateTable(len(val), 0)
		for i, item := range val {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	case []string:
		t := L.CreateTable(len(val), 0)
		for i, item := range val {
			t.RawSetInt(i+1, lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	case map[string]string:
		t := L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, lua.LString(item))
		}
		return t
	case lua.LValue:
		return val
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return lua.LNil
		}
		var normalized any
		if err := json.Unmarshal(raw, &normalized); err != nil {
			return lua.LNil
		}
		return toLua(L, normalized)
	}
}
