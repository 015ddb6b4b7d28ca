package lieferschein

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

type setChecker struct {
	taken map[string]bool
	calls int
	err   error
}

func (c *setChecker) LieferscheinExists(_ context.Context, number string) (bool, error) {
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.taken[number], nil
}

type collisionCounter struct{ n int }

func (c *collisionCounter) RecordLieferscheinCollision() { c.n++ }

func sequence(values ...int64) func() int64 {
	i := 0
	return func() int64 {
		v := values[i%len(values)]
		i++
		return v
	}
}

func TestGeneratorNextReturnsWellFormedNumber(t *testing.T) {
	g := NewGenerator()
	checker := &setChecker{}

	for range 200 {
		number, err := g.Next(context.Background(), checker)
		require.NoError(t, err)
		require.Len(t, number, 14)
		require.True(t, Valid(number), number)
	}
}

func TestGeneratorSkipsTakenNumbers(t *testing.T) {
	counter := &collisionCounter{}
	g := NewGenerator(
		WithSuffixSource(sequence(111111111, 222222222)),
		WithMetrics(counter),
	)
	checker := &setChecker{taken: map[string]bool{"45020111111111": true}}

	number, err := g.Next(context.Background(), checker)
	require.NoError(t, err)
	require.Equal(t, "45020222222222", number)
	require.Equal(t, 2, checker.calls)
	require.Equal(t, 1, counter.n)
}

func TestGeneratorExhausted(t *testing.T) {
	g := NewGenerator(WithSuffixSource(sequence(123456789)))
	checker := &setChecker{taken: map[string]bool{"45020123456789": true}}

	_, err := g.Next(context.Background(), checker)
	require.ErrorIs(t, err, domain.ErrGenerationExhausted)
	require.Equal(t, defaultMaxAttempts, checker.calls)
}

func TestGeneratorCustomMaxAttempts(t *testing.T) {
	g := NewGenerator(WithSuffixSource(sequence(123456789)), WithMaxAttempts(3))
	checker := &setChecker{taken: map[string]bool{"45020123456789": true}}

	_, err := g.Next(context.Background(), checker)
	require.ErrorIs(t, err, domain.ErrGenerationExhausted)
	require.Equal(t, 3, checker.calls)
}

func TestGeneratorPropagatesCheckerError(t *testing.T) {
	boom := errors.New("db down")
	g := NewGenerator()

	_, err := g.Next(context.Background(), &setChecker{err: boom})
	require.ErrorIs(t, err, boom)
}

func TestGeneratorStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGenerator().Next(ctx, &setChecker{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestValid(t *testing.T) {
	require.True(t, Valid("45020100000000"))
	require.True(t, Valid("45020999999999"))
	require.False(t, Valid("45020099999999"))
	require.False(t, Valid("4502010000000"))
	require.False(t, Valid("45021100000000"))
	require.False(t, Valid("450201000000a0"))
}
