package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New("n1", "", "o1", KindOrderPlaced, "")
	require.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = New("n1", "b1", "", KindOrderPlaced, "")
	require.ErrorIs(t, err, ErrInvalidOrder)

	_, err = New("n1", "b1", "o1", Kind("order_shipped"), "")
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestNewFillsDefaultMessage(t *testing.T) {
	n, err := New("n1", "b1", "o1", KindOrderReady, "")
	require.NoError(t, err)
	assert.Equal(t, "Your order is ready for pickup or delivery.", n.Message)
	assert.False(t, n.Read)
	assert.False(t, n.CreatedAt.IsZero())
}

func TestNewKeepsExplicitMessage(t *testing.T) {
	n, err := New("n1", "b1", "o1", KindOrderPlaced, "Salamat! Order o1 is paid.")
	require.NoError(t, err)
	assert.Equal(t, "Salamat! Order o1 is paid.", n.Message)
}
