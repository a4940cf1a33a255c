package userauth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xtaci/webserver/internal/httpproto"
)

func TestHandleFormRejectsMissingCredentials(t *testing.T) {
	h := &Handler{}
	req := &httpproto.Request{Form: map[string]string{"username": "bob"}}
	status, body := h.HandleForm(nil, req) //nolint:staticcheck // demo handler, no ctx-using path on this branch
	assert.Equal(t, 400, status)
	assert.Contains(t, body, "missing")
}
