package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthContext(t *testing.T) {
	ctx := context.Background()
	_, ok := GetShopID(ctx)
	require.False(t, ok)

	ctx = SetAuthContext(ctx, "shop-1", "device-a")
	shop, ok := GetShopID(ctx)
	require.True(t, ok)
	require.Equal(t, "shop-1", shop)
	dev, ok := GetDeviceID(ctx)
	require.True(t, ok)
	require.Equal(t, "device-a", dev)

	// empty values are treated as absent
	_, ok = GetShopID(SetShopID(context.Background(), ""))
	require.False(t, ok)
}
