package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("0 3 * * *"))
	assert.NoError(t, Validate("*/15 * * * 1-5"))

	err := Validate("0 3 * *")
	require.Error(t, err)
	assert.Equal(t, lserrors.ErrCodeConfigInvalid, lserrors.GetCode(err))

	// Seconds fields are not accepted
	assert.Error(t, Validate("0 0 3 * * *"))
}

func TestNext(t *testing.T) {
	base := time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC)

	next, err := Next("0 3 * * *", base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC), next)

	next, err = Next("0 3 * * *", next)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), next)
}

func TestRun_InvalidExpression(t *testing.T) {
	err := Run(context.Background(), Job{Name: "update_index", Expr: "nope"})
	assert.Equal(t, lserrors.ErrCodeConfigInvalid, lserrors.GetCode(err))
}

func TestRun_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Job{Name: "update_index", Expr: "0 3 1 1 *", Run: func(context.Context) error {
			t.Error("job should not fire")
			return nil
		}})
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
