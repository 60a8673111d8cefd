package prompt

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

// DefaultPrompts are used when no warm-up prompts are configured.
var DefaultPrompts = []string{
	"a red apple on a wooden table",
	"a lighthouse at dusk, oil painting",
	"a kitten sleeping in a teacup",
}

type Randomizer struct {
	prompts []string

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomizer(i *do.Injector) (*Randomizer, error) {
	prompts, err := do.InvokeNamed[[]string](i, "prompts")
	if err != nil {
		return nil, err
	}
	return New(prompts, time.Now().UTC().Unix()), nil
}

func New(prompts []string, seed int64) *Randomizer {
	prompts = lo.Filter(lo.Map(prompts, func(p string, _ int) string {
		return strings.TrimSpace(p)
	}), func(p string, _ int) bool {
		return p != ""
	})
	return &Randomizer{
		prompts: lo.Ternary(len(prompts) > 0, prompts, DefaultPrompts),
		rnd:     rand.New(rand.NewSource(seed)),
	}
}

func (r *Randomizer) Randomize(ctx context.Context) string {
	r.mu.Lock()
	idx := r.rnd.Intn(len(r.prompts))
	r.mu.Unlock()

	log.FromContextOrDiscard(ctx).WithGroup("randomizer").Info("picked warm-up prompt", "prompt", r.prompts[idx])
	return r.prompts[idx]
}
