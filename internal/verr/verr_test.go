package verr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	err := New(InvalidConfig, "invalid input")
	assert.Equal(t, "invalid input", err.Error())

	wrapped := Wrap(err, KindInternal, "failed to validate")
	assert.Equal(t, "failed to validate: invalid input", wrapped.Error())
}

func TestGetKind(t *testing.T) {
	err := New(InvalidConfig, "invalid input")
	assert.Equal(t, InvalidConfig, GetKind(err))

	wrapped := Wrap(err, DriverTransient, "failed")
	assert.Equal(t, DriverTransient, GetKind(wrapped))

	assert.Equal(t, KindUnknown, GetKind(errors.New("std error")))
}

func TestAttributes(t *testing.T) {
	err := New(AllocatorExhausted, "pool exhausted")
	err = Attr(err, "tenant", "C0001")
	err = Attr(err, "ni", "C0001-00")

	attrs := GetAttributes(err)
	assert.Equal(t, "C0001", attrs["tenant"])
	assert.Equal(t, "C0001-00", attrs["ni"])

	wrapped := Wrap(err, DriverFatal, "failed")
	wrapped = Attr(wrapped, "conn", 0)

	allAttrs := GetAttributes(wrapped)
	assert.Equal(t, "C0001", allAttrs["tenant"])
	assert.Equal(t, 0, allAttrs["conn"])
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "invalid_config", InvalidConfig.String())
	assert.Equal(t, "sa_reap_failed", SAReapFailed.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
