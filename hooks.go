package passport

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
)

// HookFunc observes a user at a lifecycle point and may return attribute
// changes. It receives its own copy of the user.
type HookFunc func(ctx context.Context, user User) (Patch, error)

// NamedHook is one entry of a HookChain.
type NamedHook struct {
	Name string
	Fn   HookFunc
}

// HookChain is an ordered list of hooks. Patches are folded in list order.
type HookChain []NamedHook

// SingleHook wraps one function as a chain.
func SingleHook(fn HookFunc) HookChain {
	if fn == nil {
		return nil
	}
	return HookChain{{Name: "default", Fn: fn}}
}

// HooksFromMap builds a chain from named hooks ordered by name.
func HooksFromMap(hooks map[string]HookFunc) HookChain {
	names := make([]string, 0, len(hooks))
	for name, fn := range hooks {
		if fn != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	chain := make(HookChain, 0, len(names))
	for _, name := range names {
		chain = append(chain, NamedHook{Name: name, Fn: hooks[name]})
	}
	return chain
}

// Append returns a new chain with hooks added at the end.
func (c HookChain) Append(hooks ...NamedHook) HookChain {
	out := make(HookChain, 0, len(c)+len(hooks))
	out = append(out, c...)
	return append(out, hooks...)
}

// Run executes every hook concurrently and folds the patches onto user in
// chain order. If any hook fails no patch is applied and the first error is
// returned.
func (c HookChain) Run(ctx context.Context, user *User) (*User, error) {
	if len(c) == 0 || user == nil {
		return user, nil
	}

	patches := make([]Patch, len(c))
	g, gctx := errgroup.WithContext(ctx)

	for i, hook := range c {
		if hook.Fn == nil {
			continue
		}
		snapshot := *user.clone()
		g.Go(func() error {
			patch, err := hook.Fn(gctx, snapshot)
			if err != nil {
				return asRichError(err, "hook "+hook.Name+" failed")
			}
			patches[i] = patch
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return user, err
	}

	for _, patch := range patches {
		user.apply(patch)
	}
	return user, nil
}
