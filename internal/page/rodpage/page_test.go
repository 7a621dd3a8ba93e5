package rodpage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/v0xg/slotbot/internal/page"
)

func TestEaseInOutQuad(t *testing.T) {
	assert.InDelta(t, 0.0, easeInOutQuad(0), 1e-9)
	assert.InDelta(t, 0.5, easeInOutQuad(0.5), 1e-9)
	assert.InDelta(t, 1.0, easeInOutQuad(1), 1e-9)
	assert.Less(t, easeInOutQuad(0.25), 0.25, "slow start")
	assert.Greater(t, easeInOutQuad(0.75), 0.75, "slow finish")
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil))

	plain := errors.New("boom")
	assert.Same(t, plain, mapErr(plain))

	for _, msg := range []string{
		"{-32000 Could not find node with given id }",
		"Node is detached from document",
	} {
		err := mapErr(errors.New(msg))
		assert.ErrorIs(t, err, page.ErrDetached, msg)
	}
}

func TestAdaptersImplementPage(t *testing.T) {
	var _ page.Page = (*Page)(nil)
	var _ page.Element = (*Element)(nil)
	var _ page.Mouse = (*Mouse)(nil)
	var _ page.Session = (*Browser)(nil)
}
