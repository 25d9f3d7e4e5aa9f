// Package luarunner executes uploaded Lua algorithms behind the policy
// adapter's calling convention. The isolation is catch-and-fallback only:
// Lua runtime errors surface as Go errors per call, nothing stronger.
package luarunner

import (
	"fmt"

	"github.com/Shopify/go-lua"

	"github.com/boristopalov/slicewise/pkg/core"
	"github.com/boristopalov/slicewise/pkg/policy"
)

const entryRegistryKey = "slicewise.entry"

// Compile loads a Lua module source, binds the declared entry function and
// returns a decision function conforming to the policy adapter's calling
// convention. The returned function owns a private Lua state and is not safe
// for concurrent use; batch runs call it from a single goroutine.
func Compile(source []byte, entry string) (policy.DecisionFunc, error) {
	l := lua.NewState()
	lua.OpenLibraries(l)

	if err := lua.DoString(l, string(source)); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrLoad, err)
	}

	l.Global(entry)
	if !l.IsFunction(-1) {
		l.Pop(1)
		return nil, fmt.Errorf("%w: %q", core.ErrEntryMissing, entry)
	}
	// Park the entry function in the registry so each call can fetch it.
	l.SetField(lua.RegistryIndex, entryRegistryKey)

	return func(state policy.State) (action int, err error) {
		defer func() {
			if r := recover(); r != nil {
				action, err = 0, fmt.Errorf("lua panic: %v", r)
			}
		}()

		l.Field(lua.RegistryIndex, entryRegistryKey)
		pushState(l, state)
		if err := l.ProtectedCall(1, 1, 0); err != nil {
			l.SetTop(0)
			return 0, fmt.Errorf("entry %q: %v", entry, err)
		}
		n, ok := l.ToInteger(-1)
		l.Pop(1)
		if !ok {
			return 0, fmt.Errorf("entry %q returned a non-integer action", entry)
		}
		return n, nil
	}, nil
}

// pushState pushes the snapshot as a Lua table with the fields the calling
// convention fixes: n_actions, t, last_action, last_reward, seed. Absent
// values are nil on the Lua side.
func pushState(l *lua.State, state policy.State) {
	l.NewTable()

	l.PushInteger(state.NActions)
	l.SetField(-2, "n_actions")

	l.PushInteger(state.T)
	l.SetField(-2, "t")

	if state.LastAction != nil {
		l.PushInteger(*state.LastAction)
		l.SetField(-2, "last_action")
	}
	if state.LastReward != nil {
		l.PushNumber(*state.LastReward)
		l.SetField(-2, "last_reward")
	}
	if state.Seed != nil {
		l.PushNumber(float64(*state.Seed))
		l.SetField(-2, "seed")
	}
}
