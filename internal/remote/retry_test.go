package remote

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyAdapter fails the first `failures` calls with err, then answers.
type flakyAdapter struct {
	failures int
	err      error
	calls    int
}

func (f *flakyAdapter) answer() (models.AdapterPayload, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return map[string]interface{}{"id": "1"}, nil
}

func (f *flakyAdapter) Find(context.Context, *models.TypeClass, string, *models.Snapshot) (models.AdapterPayload, error) {
	return f.answer()
}

func (f *flakyAdapter) FindMany(context.Context, *models.TypeClass, []string, []*models.Snapshot) (models.AdapterPayload, error) {
	return f.answer()
}

func (f *flakyAdapter) FindHasMany(context.Context, *models.Snapshot, string, *models.Relationship) (models.AdapterPayload, error) {
	return f.answer()
}

func (f *flakyAdapter) FindBelongsTo(context.Context, *models.Snapshot, string, *models.Relationship) (models.AdapterPayload, error) {
	return f.answer()
}

func (f *flakyAdapter) FindAll(context.Context, *models.TypeClass, string) (models.AdapterPayload, error) {
	return f.answer()
}

func (f *flakyAdapter) FindQuery(context.Context, *models.TypeClass, map[string]interface{}) (models.AdapterPayload, error) {
	return f.answer()
}

func fastRetry(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		JitterFraction: 0.0,
	}
}

func TestIsTransient_NilError(t *testing.T) {
	assert.False(t, isTransient(nil))
}

func TestIsTransient_ServerError(t *testing.T) {
	err := &RemoteError{Status: 503, Code: "unavailable", Message: "try later"}
	assert.True(t, isTransient(err))
}

func TestIsTransient_TooManyRequests(t *testing.T) {
	err := &RemoteError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many"}
	assert.True(t, isTransient(err))
}

func TestIsTransient_NotFoundIsFinal(t *testing.T) {
	err := &RemoteError{Status: 404, Code: "not_found", Message: "no such post"}
	assert.False(t, isTransient(err))
}

func TestIsTransient_ContextErrorsAreFinal(t *testing.T) {
	assert.False(t, isTransient(context.Canceled))
	assert.False(t, isTransient(context.DeadlineExceeded))
}

func TestIsTransient_NetworkError(t *testing.T) {
	assert.True(t, isTransient(errors.New("connection reset by peer")))
}

func TestRetryAdapter_Backoff(t *testing.T) {
	ra := NewRetryAdapter(nil, &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.0,
	})

	assert.Equal(t, 100*time.Millisecond, ra.backoff(0))
	assert.Equal(t, 200*time.Millisecond, ra.backoff(1))
	assert.Equal(t, 400*time.Millisecond, ra.backoff(2))
}

func TestRetryAdapter_BackoffCapped(t *testing.T) {
	ra := NewRetryAdapter(nil, &RetryConfig{
		MaxRetries:     10,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Second,
		JitterFraction: 0.0,
	})

	assert.Equal(t, 5*time.Second, ra.backoff(10))
}

func TestRetryAdapter_DefaultConfig(t *testing.T) {
	ra := NewRetryAdapter(&flakyAdapter{}, nil)
	assert.Equal(t, 3, ra.config.MaxRetries)
}

func TestRetryAdapter_FindRecovers(t *testing.T) {
	inner := &flakyAdapter{failures: 2, err: &RemoteError{Status: 500, Code: "internal", Message: "fail"}}
	ra := NewRetryAdapter(inner, fastRetry(3))

	payload, err := ra.Find(context.Background(), &models.TypeClass{Name: "post"}, "1", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"id": "1"}, payload)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryAdapter_Exhausted(t *testing.T) {
	inner := &flakyAdapter{failures: 10, err: &RemoteError{Status: 502, Code: "bad_gateway", Message: "fail"}}
	ra := NewRetryAdapter(inner, fastRetry(2))

	_, err := ra.FindAll(context.Background(), &models.TypeClass{Name: "post"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, inner.calls) // initial + 2 retries

	var re *RemoteError
	assert.True(t, errors.As(err, &re))
}

func TestRetryAdapter_NoRetryOnNotFound(t *testing.T) {
	inner := &flakyAdapter{failures: 10, err: &RemoteError{Status: 404, Code: "not_found", Message: "gone"}}
	ra := NewRetryAdapter(inner, fastRetry(3))

	_, err := ra.FindQuery(context.Background(), &models.TypeClass{Name: "post"}, map[string]interface{}{"a": 1})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryAdapter_RelationshipCallsRetry(t *testing.T) {
	inner := &flakyAdapter{failures: 1, err: errors.New("connection refused")}
	ra := NewRetryAdapter(inner, fastRetry(3))
	snap := models.NewSnapshot("post", "1", nil, nil)
	rel := &models.Relationship{Name: "comments", Kind: models.HasMany, Type: "comment"}

	_, err := ra.FindHasMany(context.Background(), snap, "/posts/1/comments", rel)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	inner.calls, inner.failures = 0, 1
	_, err = ra.FindBelongsTo(context.Background(), snap, "/posts/1/author", rel)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	inner.calls, inner.failures = 0, 1
	_, err = ra.FindMany(context.Background(), &models.TypeClass{Name: "post"}, []string{"1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestRetryAdapter_ContextCancellation(t *testing.T) {
	inner := &flakyAdapter{failures: 100, err: &RemoteError{Status: 500, Code: "internal", Message: "fail"}}
	ra := NewRetryAdapter(inner, &RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := ra.Find(ctx, &models.TypeClass{Name: "post"}, "1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.Equal(t, 1, inner.calls)
}

func TestRetryAdapter_SerializerForWithoutProvider(t *testing.T) {
	ra := NewRetryAdapter(&flakyAdapter{}, nil)
	assert.Nil(t, ra.SerializerFor(&models.TypeClass{Name: "post"}))
}

func TestSleep_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleep(ctx, 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleep_Normal(t *testing.T) {
	err := sleep(context.Background(), 1*time.Millisecond)
	assert.NoError(t, err)
}
