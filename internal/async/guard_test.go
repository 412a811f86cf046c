package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type owner struct {
	alive atomic.Bool
}

func newOwner() *owner {
	o := &owner{}
	o.alive.Store(true)
	return o
}

func (o *owner) IsAlive() bool { return o.alive.Load() }

func TestGuard_AliveOwnerPassesValue(t *testing.T) {
	f := Guard(Resolve("payload"), newOwner())

	v, err := await(t, f)
	require.NoError(t, err)
	assert.Equal(t, "payload", v)
	assert.False(t, f.Suppressed())
}

func TestGuard_DeadOwnerSuppressesContinuation(t *testing.T) {
	o := newOwner()
	release := make(chan struct{})
	pending := Go(context.Background(), func(ctx context.Context) (string, error) {
		<-release
		return "payload", nil
	})

	var ran atomic.Bool
	out := Then(Guard(pending, o), func(v string) (string, error) {
		ran.Store(true)
		return v, nil
	}, nil)

	// Owner dies while the operation is in flight.
	o.alive.Store(false)
	close(release)

	v, err := await(t, out)
	require.NoError(t, err)
	assert.Equal(t, "", v)
	assert.True(t, out.Suppressed())
	assert.False(t, ran.Load())
}

func TestGuard_RejectionUnchanged(t *testing.T) {
	boom := errors.New("transport down")
	o := newOwner()
	o.alive.Store(false)

	f := Guard(Reject[string](boom), o)

	_, err := await(t, f)
	assert.ErrorIs(t, err, boom)
	assert.False(t, f.Suppressed())
}

func TestGuard_ChainShortCircuits(t *testing.T) {
	first := newOwner()
	second := newOwner()
	first.alive.Store(false)

	var secondChecked atomic.Bool
	f := Guard(Guard(Resolve(1), first), LivenessFunc(func() bool {
		secondChecked.Store(true)
		return second.IsAlive()
	}))

	_, err := await(t, f)
	require.NoError(t, err)
	assert.True(t, f.Suppressed())
	assert.False(t, secondChecked.Load())
}

func TestGuard_SecondOwnerDead(t *testing.T) {
	second := newOwner()
	second.alive.Store(false)

	f := Guard(Guard(Resolve(1), newOwner()), second)

	_, err := await(t, f)
	require.NoError(t, err)
	assert.True(t, f.Suppressed())
}

func TestGuard_NilOwnerIsIdentity(t *testing.T) {
	in := Resolve(3)
	assert.Same(t, in, Guard[int](in, nil))
}
