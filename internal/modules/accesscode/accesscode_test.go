package accesscode

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgtaxi/internal/modules/user"
	"tgtaxi/internal/types"
)

func newTestService() (*Service, *user.Service) {
	users := user.NewService(user.NewMemoryStore(), nil)
	return NewService(NewMemoryStore(), users, nil), users
}

func TestGenerateUsesUnambiguousAlphabet(t *testing.T) {
	svc, _ := newTestService()
	for i := 0; i < 50; i++ {
		c, err := svc.Generate(context.Background(), "admin")
		require.NoError(t, err)
		require.Len(t, c.Code, CodeLength)
		assert.False(t, c.IsUsed)
		for _, r := range c.Code {
			assert.True(t, strings.ContainsRune(Alphabet, r), "unexpected rune %q in %s", r, c.Code)
		}
	}
}

func TestGenerateFallsBackAfterCollisions(t *testing.T) {
	svc, _ := newTestService()
	svc.generate = func() (string, error) { return "AAAAAAAA", nil }
	ctx := context.Background()

	first, err := svc.Generate(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAA", first.Code)

	second, err := svc.Generate(ctx, "admin")
	require.NoError(t, err)
	assert.NotEqual(t, first.Code, second.Code)
	assert.Len(t, second.Code, CodeLength)
	assertAlphabet(t, second.Code)
}

func TestFallbackCodeStaysInAlphabet(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := fallbackCode()
		require.Len(t, c, CodeLength)
		assertAlphabet(t, c)
	}
}

func assertAlphabet(t *testing.T, code string) {
	t.Helper()
	for _, r := range code {
		assert.True(t, strings.ContainsRune(Alphabet, r), "unexpected rune %q in %s", r, code)
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	c, err := svc.Generate(ctx, "admin")
	require.NoError(t, err)

	got, err := svc.Validate(ctx, strings.ToLower(c.Code))
	require.NoError(t, err)
	assert.False(t, got.IsUsed)

	_, err = svc.Validate(ctx, "NOPE2345")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkUsedConcurrentSingleWinner(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	c, err := svc.Generate(ctx, "admin")
	require.NoError(t, err)

	const racers = 16
	start := make(chan struct{})
	results := make(chan bool, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(uid types.ID) {
			defer wg.Done()
			<-start
			ok, err := svc.MarkUsed(ctx, c.Code, uid)
			assert.NoError(t, err)
			results <- ok
		}(types.ID(fmt.Sprintf("u%d", i)))
	}
	close(start)
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestRegisterDriverWithCode(t *testing.T) {
	svc, users := newTestService()
	ctx := context.Background()
	c, err := svc.Generate(ctx, "admin")
	require.NoError(t, err)

	u, err := svc.RegisterDriverWithCode(ctx, "100", c.Code, "Ivan", "+7900")
	require.NoError(t, err)
	assert.Equal(t, user.RoleDriver, u.Role)

	used, err := svc.Validate(ctx, c.Code)
	require.NoError(t, err)
	assert.True(t, used.IsUsed)
	require.NotNil(t, used.UsedBy)
	assert.Equal(t, types.ID("100"), *used.UsedBy)

	_, err = svc.RegisterDriverWithCode(ctx, "101", c.Code, "Petr", "+7901")
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, err = users.Get(ctx, "101")
	assert.ErrorIs(t, err, user.ErrNotFound, "failed redemption must not create the user")
}

func TestRegisterDriverWithUnknownCodeLeavesUserUntouched(t *testing.T) {
	svc, users := newTestService()
	ctx := context.Background()
	_, err := users.Ensure(ctx, "200", "Client")
	require.NoError(t, err)

	_, err = svc.RegisterDriverWithCode(ctx, "200", "ZZZZZZZZ", "Client", "+1")
	assert.ErrorIs(t, err, ErrInvalidCode)

	u, err := users.Get(ctx, "200")
	require.NoError(t, err)
	assert.Equal(t, user.RoleClient, u.Role)
	assert.Empty(t, u.Phone)
}

func TestRegisterDriverRejectsBadProfileBeforeClaim(t *testing.T) {
	svc, users := newTestService()
	ctx := context.Background()
	c, err := svc.Generate(ctx, "admin")
	require.NoError(t, err)

	_, err = svc.RegisterDriverWithCode(ctx, "42", c.Code, "Ivan", strings.Repeat("9", 40))
	assert.ErrorIs(t, err, user.ErrBadRequest)
	_, err = svc.RegisterDriverWithCode(ctx, "42", c.Code, strings.Repeat("n", 101), "+7900")
	assert.ErrorIs(t, err, user.ErrBadRequest)
	_, err = svc.RegisterDriverWithCode(ctx, "42", c.Code, "Ivan", "   ")
	assert.ErrorIs(t, err, user.ErrBadRequest)

	unused, err := svc.Validate(ctx, c.Code)
	require.NoError(t, err)
	assert.False(t, unused.IsUsed, "rejected profile must not burn the code")
	_, err = users.Get(ctx, "42")
	assert.ErrorIs(t, err, user.ErrNotFound)

	u, err := svc.RegisterDriverWithCode(ctx, "42", c.Code, "Ivan", "+7900")
	require.NoError(t, err)
	assert.Equal(t, user.RoleDriver, u.Role)
}
