package gwerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsClassifiesSentinels(t *testing.T) {
	assert.Equal(t, KindInvalidArgs, As(ErrInvalidArgs))
	assert.Equal(t, KindTimeout, As(ErrTimeout))
	assert.Equal(t, KindNone, As(nil))
}

func TestAsWrappedError(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrNotFound)
	assert.Equal(t, KindNotFound, As(wrapped))
}

func TestAsUnrecognizedIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, As(errors.New("boom")))
}

func TestSentinelRoundTrip(t *testing.T) {
	for k := KindInvalidArgs; k <= KindInternal; k++ {
		err := Sentinel(k)
		assert.NotNil(t, err)
		assert.Equal(t, k, As(err))
	}
}
