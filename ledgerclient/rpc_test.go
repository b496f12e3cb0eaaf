package ledgerclient

import (
	"context"
	"testing"

	"github.com/auratrade/aura-relay-server/errcode"
	"github.com/auratrade/aura-relay-server/model"

	"github.com/stretchr/testify/require"
)

func TestGetSignatureStatusRejectsInvalidSignature(t *testing.T) {
	c := &RPCClient{}

	// Rejected before any request leaves the process.
	state, err := c.GetSignatureStatus(context.Background(), "not a base58 signature !!!")
	require.Equal(t, model.ObservedTransportError, state)
	require.ErrorIs(t, err, errcode.ErrInvalidSignature)
}
