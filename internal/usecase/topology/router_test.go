package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/bnema/flotilla/internal/boundaries/out/mocks"
	"github.com/bnema/flotilla/internal/domain"
)

func TestRouter_InsidePrivateNetwork(t *testing.T) {
	md := mocks.NewMockMetadataSource(t)
	md.On("InstanceID", mock.Anything).Return("1001", nil).Once()
	md.On("PrivateIPv4", mock.Anything).Return("10.110.0.2", nil).Once()

	r := NewRouter(md)
	ctx := context.Background()

	assert.True(t, r.IsInPrivateNetwork(ctx))
	assert.Equal(t, "1001", r.HostID(ctx))

	// Same host prefers its private address over loopback.
	assert.Equal(t, "10.110.0.2", r.BestAddress(ctx, "203.0.113.5", "10.110.0.2", "1001"))
	// Same host without a private address falls back to public.
	assert.Equal(t, "203.0.113.5", r.BestAddress(ctx, "203.0.113.5", "", "1001"))
	// Peer with a known private address.
	assert.Equal(t, "10.110.0.7", r.BestAddress(ctx, "203.0.113.9", "10.110.0.7", "1002"))
	// Peer without a private address.
	assert.Equal(t, "203.0.113.9", r.BestAddress(ctx, "203.0.113.9", "", "1002"))

	host := domain.HostRecord{IP: "203.0.113.9", PrivateIP: "10.110.0.7", DropletID: "1002", Status: domain.HostActive}
	assert.Equal(t, "10.110.0.7", r.BestAddressFor(ctx, host))
}

func TestRouter_MetadataFailureMeansPublic(t *testing.T) {
	md := mocks.NewMockMetadataSource(t)
	md.On("InstanceID", mock.Anything).Return("", errors.New("dial tcp 169.254.169.254:80: i/o timeout")).Once()

	r := NewRouter(md)
	ctx := context.Background()

	assert.False(t, r.IsInPrivateNetwork(ctx))
	assert.Equal(t, "203.0.113.9", r.BestAddress(ctx, "203.0.113.9", "10.110.0.7", "1002"))
	// Cached: the metadata source is not asked again.
	assert.False(t, r.IsInPrivateNetwork(ctx))
}

func TestRouter_NoPrivateInterface(t *testing.T) {
	md := mocks.NewMockMetadataSource(t)
	md.On("InstanceID", mock.Anything).Return("1001", nil).Once()
	md.On("PrivateIPv4", mock.Anything).Return("", nil).Once()

	r := NewRouter(md)
	ctx := context.Background()

	assert.False(t, r.IsInPrivateNetwork(ctx))
	assert.Equal(t, "203.0.113.9", r.BestAddress(ctx, "203.0.113.9", "10.110.0.7", "1002"))
	assert.Equal(t, "10.110.0.2", r.BestAddress(ctx, "203.0.113.5", "10.110.0.2", "1001"))
}
