package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test basic client creation
func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	assert.NoError(t, err)

	assert.NotNil(t, client)
	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
}

// Test circuit breaker opens after failures
func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	assert.NoError(t, err)

	// Record 4 failures - should not open
	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	// 5th failure should open circuit
	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())
}

// Test circuit breaker reset
func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	assert.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.NotEqual(t, StatusCircuitOpen, client.Status())
}

// Test exponential backoff
func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	assert.NoError(t, err)

	// Initial backoff should be 1 second
	assert.Equal(t, time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	// Backoff should cap at max (1 minute)
	for i := 0; i < 20; i++ {
		for j := 0; j < 5; j++ {
			client.recordFailure()
		}
	}
	assert.LessOrEqual(t, client.Backoff(), time.Minute)
}

// Test status listener fan-out on transitions
func TestStatusListener_ReceivesTransitions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []ConnectionStatus
	done := make(chan struct{}, 8)

	client.AddStatusListener(func(s ConnectionStatus) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
		done <- struct{}{}
	})

	// Initial status delivered on registration
	<-done

	client.setStatus(StatusConnecting)
	<-done
	client.setStatus(StatusConnected)
	<-done
	client.setStatus(StatusReconnecting)
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnectionStatus{
		StatusDisconnected, StatusConnecting, StatusConnected, StatusReconnecting,
	}, seen)
}

// Same status twice must not fan out twice
func TestStatusListener_NoDuplicateNotifications(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	notified := make(chan ConnectionStatus, 8)
	client.AddStatusListener(func(s ConnectionStatus) {
		notified <- s
	})
	<-notified // registration delivery

	client.setStatus(StatusConnected)
	assert.Equal(t, StatusConnected, <-notified)

	client.setStatus(StatusConnected)

	select {
	case s := <-notified:
		t.Fatalf("unexpected duplicate notification: %v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

// Subscriptions registered before Connect are kept in the registry and
// issued later, so Subscribe succeeds without a live connection.
func TestSubscribe_DeferredUntilConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	handler := func(_ context.Context, _ string, _ []byte) {}

	require.NoError(t, client.Subscribe(context.Background(), "vehicle.speed", handler))
	require.NoError(t, client.Subscribe(context.Background(), "vehicle.battery.>", handler))

	client.mu.RLock()
	defer client.mu.RUnlock()
	require.Len(t, client.subs, 2)
	assert.Equal(t, "vehicle.speed", client.subs[0].subject)
	assert.Nil(t, client.subs[0].sub)
}

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestSubscribe_RejectsInvalidArguments(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = client.Subscribe(context.Background(), "", func(_ context.Context, _ string, _ []byte) {})
	assert.Error(t, err)

	err = client.Subscribe(context.Background(), "vehicle.speed", nil)
	assert.Error(t, err)
}
