package worker

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: retry delays never shrink as attempts grow and never exceed the last configured delay
func TestProperty_RetryDelayIsMonotonicAndCapped(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("retry delay is monotonic and capped", prop.ForAll(
		func(baseSeconds int, attempts int, a int, b int) bool {
			p := NewProcessor(ProcessorConfig{
				MaxAttempts:              attempts,
				ExponentialBackoffDelays: BackoffDelays(time.Duration(baseSeconds)*time.Second, attempts),
			})
			if a > b {
				a, b = b, a
			}
			last := p.exponentialBackoffDelays[len(p.exponentialBackoffDelays)-1]
			return p.retryDelay(a) <= p.retryDelay(b) && p.retryDelay(b) <= last
		},
		gen.IntRange(1, 60),
		gen.IntRange(1, 8),
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

// Property: each backoff delay doubles the previous one
func TestProperty_BackoffDelaysDouble(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("backoff doubles", prop.ForAll(
		func(baseMillis int, attempts int) bool {
			delays := BackoffDelays(time.Duration(baseMillis)*time.Millisecond, attempts)
			if len(delays) != attempts {
				return false
			}
			for i := 1; i < len(delays); i++ {
				if delays[i] != 2*delays[i-1] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 10000),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
