package catchment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/catchment-cli/internal/model"
)

func TestTracker_NewGenerationCancelsOld(t *testing.T) {
	tr := NewTracker()

	ctx1, t1 := tr.Begin(context.Background(), "s")
	assert.True(t, t1.Current())

	ctx2, t2 := tr.Begin(context.Background(), "s")
	assert.False(t, t1.Current())
	assert.True(t, t2.Current())
	assert.Error(t, ctx1.Err())
	assert.True(t, errors.Is(context.Cause(ctx1), model.ErrSuperseded))
	assert.NoError(t, ctx2.Err())

	t2.Done()
	assert.False(t, t1.Current(), "a superseded ticket never becomes current again")
	t1.Done()
	assert.Equal(t, 0, tr.Active())
}

func TestTracker_OldDoneKeepsNewer(t *testing.T) {
	tr := NewTracker()

	_, t1 := tr.Begin(context.Background(), "s")
	_, t2 := tr.Begin(context.Background(), "s")
	t1.Done()
	assert.True(t, t2.Current())
	assert.Equal(t, 1, tr.Active())
	t2.Done()
}

func TestTracker_SessionsAreIndependent(t *testing.T) {
	tr := NewTracker()

	ctxA, a := tr.Begin(context.Background(), "a")
	_, b := tr.Begin(context.Background(), "b")
	assert.True(t, a.Current())
	assert.True(t, b.Current())
	assert.NoError(t, ctxA.Err())
	a.Done()
	b.Done()
}

func TestTracker_EmptySessionUntracked(t *testing.T) {
	tr := NewTracker()

	ctx, tk := tr.Begin(context.Background(), "")
	assert.True(t, tk.Current())
	assert.Equal(t, 0, tr.Active())
	tk.Done()
	assert.Error(t, ctx.Err())
}
