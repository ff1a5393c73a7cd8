package health_test

import (
	"context"
	"fmt"

	"github.com/jonwraymond/calcops/health"
)

func ExampleNewCheckerFunc() {
	checker := health.NewCheckerFunc("l2", func(ctx context.Context) health.Result {
		return health.Healthy("redis reachable")
	})

	result := checker.Check(context.Background())
	fmt.Println(checker.Name(), result.Status, result.Message)
	// Output:
	// l2 healthy redis reachable
}

func ExampleAggregator_CheckAll() {
	agg := health.NewAggregator(health.AggregatorConfig{})
	agg.Register(
		health.NewCheckerFunc("l2", func(context.Context) health.Result {
			return health.Healthy("reachable")
		}),
		health.NewCheckerFunc("circuit:reference-accurate", func(context.Context) health.Result {
			return health.Degraded("circuit open")
		}),
	)

	rep := agg.CheckAll(context.Background())
	for _, name := range agg.CheckerNames() {
		fmt.Println(name, rep.Checks[name].Status)
	}
	fmt.Println("overall:", rep.Status)
	// Output:
	// l2 healthy
	// circuit:reference-accurate degraded
	// overall: degraded
}
