package validation

import (
	"testing"

	"github.com/cuemby/warden/pkg/errdefs"
	"github.com/stretchr/testify/assert"
)

type sample struct {
	Name  string   `json:"name" validate:"required"`
	Count *int     `json:"count" validate:"required,gte=0"`
	Items []item   `json:"items" validate:"required,min=1,dive"`
	Kind  string   `json:"kind" validate:"omitempty,oneof=a b"`
	Ratio *float64 `json:"ratio,omitempty" validate:"omitempty,lte=1"`
}

type item struct {
	Mount string `json:"mount" validate:"required"`
}

func TestStruct(t *testing.T) {
	zero, neg := 0, -1

	assert.NoError(t, Struct(sample{Name: "x", Count: &zero, Items: []item{{Mount: "/"}}}))

	err := Struct(sample{Count: &neg, Items: []item{{}}, Kind: "c"})
	assert.ErrorIs(t, err, errdefs.ErrInvalidPayload)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "count must be at least 0")
	assert.Contains(t, err.Error(), "items[0].mount is required")
	assert.Contains(t, err.Error(), "kind must be one of [a b]")

	err = Struct(sample{Name: "x", Count: &zero})
	assert.ErrorIs(t, err, errdefs.ErrInvalidPayload)
	assert.Contains(t, err.Error(), "items is required")
}

func TestErrorf(t *testing.T) {
	err := Errorf("memory.used %d exceeds memory.total %d", 5, 4)
	assert.ErrorIs(t, err, errdefs.ErrInvalidPayload)
	assert.Contains(t, err.Error(), "memory.used 5 exceeds memory.total 4")
}
