package safety

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/safecoach/internal/domain"
)

type fakeCompleter struct {
	reply   string
	err     error
	calls   atomic.Int32
	timeout time.Duration
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, timeout time.Duration) (string, error) {
	f.calls.Add(1)
	f.timeout = timeout
	return f.reply, f.err
}

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reply string
		want  domain.Category
		ok    bool
	}{
		{"THERAPIST_SEARCH", domain.CategoryTherapistSearch, true},
		{"  booking_email\n", domain.CategoryBookingEmail, true},
		{"Label: COACH (not THERAPIST_SEARCH)", domain.CategoryCoach, true},
		{"CRISIS", "", false},
		{"OUT_OF_SCOPE", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := parseVerdict(tt.reply)
		assert.Equal(t, tt.ok, ok, "reply %q", tt.reply)
		assert.Equal(t, tt.want, got, "reply %q", tt.reply)
	}
}

func TestModelFallback_UsesBoundedTimeout(t *testing.T) {
	t.Parallel()

	fc := &fakeCompleter{reply: "COACH"}
	fb := NewModelFallback(fc, 0, nil, nil)

	cat, err := fb.Classify(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryCoach, cat)
	assert.Equal(t, DefaultFallbackTimeout, fc.timeout)
}

func TestModelFallback_MalformedReply(t *testing.T) {
	t.Parallel()

	fb := NewModelFallback(&fakeCompleter{reply: "I think this is a CRISIS"}, time.Second, nil, nil)
	_, err := fb.Classify(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrMalformedVerdict)
}

func TestModelFallback_PropagatesError(t *testing.T) {
	t.Parallel()

	upstream := errors.New("connection refused")
	fb := NewModelFallback(&fakeCompleter{err: upstream}, time.Second, nil, nil)
	_, err := fb.Classify(context.Background(), "hello")
	assert.ErrorIs(t, err, upstream)
}

func TestModelFallback_CachesVerdicts(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cache, err := NewVerdictCache(100, time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	fc := &fakeCompleter{reply: "BOOKING_EMAIL"}
	fb := NewModelFallback(fc, time.Second, cache, nil)

	_, err = fb.Classify(context.Background(), "can you reach out to them for me")
	require.NoError(t, err)
	cache.Wait()

	cached, ok := cache.Get("can you reach out to them for me")
	if !ok {
		t.Skip("ristretto admission policy dropped the entry")
	}
	assert.Equal(t, domain.CategoryBookingEmail, cached)

	cat, err := fb.Classify(context.Background(), "can you reach out to them for me")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryBookingEmail, cat)
	assert.EqualValues(t, 1, fc.calls.Load())
}

func TestVerdictCache_ClosedIsInert(t *testing.T) {
	t.Parallel()

	cache, err := NewVerdictCache(0, 0)
	require.NoError(t, err)
	cache.Close()
	cache.Close()

	assert.False(t, cache.Set("x", domain.CategoryCoach))
	_, ok := cache.Get("x")
	assert.False(t, ok)
}
