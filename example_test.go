package mealycache_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/mealycache"
	"github.com/aretw0/mealycache/pkg/adapters/memory"
	"github.com/aretw0/mealycache/pkg/adapters/simulated"
	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/ports"
)

// ExampleNew answers queries against a simulated light switch.
func ExampleNew() {
	m, err := simulated.Parse([]byte(`
initial: off
states:
  off:
    PRESS: {output: ON, next: on}
  on:
    PRESS: {output: OFF, next: off}
`))
	if err != nil {
		log.Fatal(err)
	}

	alphabet := domain.MustAlphabet("PRESS")
	stack, err := mealycache.New(alphabet, []ports.SUL{simulated.New(m)},
		mealycache.WithStore(memory.NewStore()),
	)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	for _, word := range []string{"PRESS PRESS PRESS", "PRESS"} {
		out, err := stack.AnswerQuery(ctx, domain.Epsilon(), domain.ParseWord(word))
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(word, "->", out)
	}
	fmt.Println("cached:", stack.Stats().Cached)
	// Output:
	// PRESS PRESS PRESS -> ON OFF ON
	// PRESS -> ON
	// cached: 1
}
