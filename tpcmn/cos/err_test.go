package cos_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tpool/tpcmn/cos"
)

func TestHasTagMatchesWrappedTPError(t *testing.T) {
	err := cos.NewTooSmallErr("buffer too small: %d", 4)
	assert.True(t, cos.HasTag(err, cos.TooSmall))
	assert.False(t, cos.HasTag(err, cos.Config))

	wrapped := fmt.Errorf("context: %w", err)
	assert.True(t, cos.HasTag(wrapped, cos.TooSmall))
}

func TestHasTagOnNonTPErrorIsFalse(t *testing.T) {
	assert.False(t, cos.HasTag(errors.New("plain"), cos.Config))
}

func TestIoErrUnwrapsToCause(t *testing.T) {
	cause := errors.New("disk full")
	err := cos.NewIoErr(cause, "write failed")
	assert.ErrorIs(t, err, cause)
	assert.True(t, cos.HasTag(err, cos.Io))
}

func TestErrsDeduplicatesAndCapsAtMax(t *testing.T) {
	var e cos.Errs
	for i := 0; i < 20; i++ {
		e.Add(cos.NewConfigErr("dup"))
	}
	assert.Equal(t, 1, e.Cnt(), "identical error text should not be added twice")

	for i := 0; i < 20; i++ {
		e.Add(cos.NewConfigErr("unique-%d", i))
	}
	assert.Equal(t, 8, e.Cnt(), "accumulator caps at maxErrs")
}

func TestErrsAddNilIsNoop(t *testing.T) {
	var e cos.Errs
	e.Add(nil)
	assert.Equal(t, 0, e.Cnt())
	require.NoError(t, e.JoinErr())
}

func TestErrsJoinErrNilWhenEmpty(t *testing.T) {
	var e cos.Errs
	assert.NoError(t, e.JoinErr())
}
