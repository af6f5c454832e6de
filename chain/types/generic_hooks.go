package types

import "golang.org/x/exp/slices"

// GenericHookFunc defines a hook executed by the test chain during execution, taking and returning nothing.
type GenericHookFunc func()

// GenericHookFuncs is a list of GenericHookFunc, used as a queue or a stack depending on the direction it is
// executed in.
type GenericHookFuncs []GenericHookFunc

// Execute runs every hook in the list, from the first to the last if forward is set, otherwise from the last to the
// first. If clear is set, the list is emptied before any hook runs, so hooks may push new hooks for the next Execute.
func (t *GenericHookFuncs) Execute(forward bool, clear bool) {
	if t == nil {
		return
	}

	// Hooks may push onto the list while executing, so iterate over a copy.
	hooks := slices.Clone(*t)
	if clear {
		*t = nil
	}

	if forward {
		for i := 0; i < len(hooks); i++ {
			hooks[i]()
		}
	} else {
		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}
	}
}

// Push adds a hook to the end of the list.
func (t *GenericHookFuncs) Push(f GenericHookFunc) {
	*t = append(*t, f)
}
