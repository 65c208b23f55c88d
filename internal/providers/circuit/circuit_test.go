package circuit

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

var errClient = errors.New("404")

func isClient(err error) bool { return errors.Is(err, errClient) }

func TestBreaker_OpensOnServerErrors(t *testing.T) {
	b := New("test", isClient, nil)
	boom := errors.New("503")

	for i := 0; i < 6; i++ {
		assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	}
	assert.Equal(t, "open", b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)
}

func TestBreaker_ClientErrorsKeepCircuitClosed(t *testing.T) {
	b := New("test", isClient, nil)

	for i := 0; i < 20; i++ {
		assert.ErrorIs(t, b.Do(func() error { return errClient }), errClient)
	}
	assert.Equal(t, "closed", b.State())
}
