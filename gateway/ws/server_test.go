package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/signalcore/notify"
	"github.com/c360/signalcore/signal"
	"github.com/c360/signalcore/trip"
)

type fakeSource struct {
	notifier *notify.Notifier
	snap     signal.Snapshot
}

func (f *fakeSource) Snapshot() signal.Snapshot  { return f.snap }
func (f *fakeSource) Notifier() *notify.Notifier { return f.notifier }
func (f *fakeSource) TripState() trip.State      { return trip.State{} }

func entry(key signal.Key, v float64, seq uint64) signal.Entry {
	val := signal.NewFloat(v)
	val.Seq = seq
	val.ReceivedAt = time.Now().UnixMilli()
	return signal.Entry{Key: key, Value: val}
}

// startedServer brings up a gateway over a live notifier and returns a
// dial-ready ws:// URL.
func startedServer(t *testing.T, source *fakeSource) (*Server, string) {
	t.Helper()

	notifier, err := notify.New(notify.Deps{FlushInterval: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, notifier.Start(context.Background()))
	t.Cleanup(func() { _ = notifier.Stop(time.Second) })
	source.notifier = notifier

	srv, err := New(Deps{Source: source, PingInterval: 50 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(2 * time.Second) })

	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)

	return srv, "ws" + strings.TrimPrefix(httpSrv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestServer_SnapshotBeforeDeltas(t *testing.T) {
	source := &fakeSource{
		snap: signal.NewSnapshot(map[signal.Key]signal.Entry{
			signal.KeySpeed: entry(signal.KeySpeed, 42, 7),
		}, 3),
	}
	_, url := startedServer(t, source)
	conn := dial(t, url)

	env := readEnvelope(t, conn)
	require.Equal(t, "snapshot", env.Type)

	var snap WireSnapshot
	require.NoError(t, json.Unmarshal(env.Payload, &snap))
	assert.Equal(t, uint64(3), snap.Version)
	require.Len(t, snap.Signals, 1)
	assert.Equal(t, "vehicle/speed", snap.Signals[0].Key)
	assert.Equal(t, 42.0, snap.Signals[0].Value)
	assert.Equal(t, uint64(7), snap.Signals[0].Seq)

	// Deltas published after connect arrive after the snapshot
	source.notifier.Publish(signal.KeySpeed, entry(signal.KeySpeed, 55, 8))

	env = readEnvelope(t, conn)
	require.Equal(t, "delta", env.Type)

	var delta WireSignal
	require.NoError(t, json.Unmarshal(env.Payload, &delta))
	assert.Equal(t, "vehicle/speed", delta.Key)
	assert.Equal(t, 55.0, delta.Value)
}

func TestServer_EnumTravelsAsLabel(t *testing.T) {
	val := signal.NewEnum(1, "locked")
	val.Seq = 1
	source := &fakeSource{
		snap: signal.NewSnapshot(map[signal.Key]signal.Entry{
			signal.KeyLockState: {Key: signal.KeyLockState, Value: val},
		}, 1),
	}
	_, url := startedServer(t, source)
	conn := dial(t, url)

	env := readEnvelope(t, conn)
	require.Equal(t, "snapshot", env.Type)

	var snap WireSnapshot
	require.NoError(t, json.Unmarshal(env.Payload, &snap))
	require.Len(t, snap.Signals, 1)
	assert.Equal(t, "enum", snap.Signals[0].Kind)
	assert.Equal(t, "locked", snap.Signals[0].Value)
}

func TestServer_TripUpdates(t *testing.T) {
	source := &fakeSource{snap: signal.NewSnapshot(nil, 0)}
	_, url := startedServer(t, source)
	conn := dial(t, url)

	env := readEnvelope(t, conn)
	require.Equal(t, "snapshot", env.Type)

	source.notifier.PublishTrip(trip.State{Active: true, Distance: 1.5})

	env = readEnvelope(t, conn)
	require.Equal(t, "trip", env.Type)

	var state trip.State
	require.NoError(t, json.Unmarshal(env.Payload, &state))
	assert.True(t, state.Active)
	assert.Equal(t, 1.5, state.Distance)
}

func TestServer_StaleFlagOnDelta(t *testing.T) {
	source := &fakeSource{snap: signal.NewSnapshot(nil, 0)}
	_, url := startedServer(t, source)
	conn := dial(t, url)

	_ = readEnvelope(t, conn) // snapshot

	e := entry(signal.KeyExteriorTemp, 21.5, 4)
	e.Stale = true
	source.notifier.Publish(signal.KeyExteriorTemp, e)

	env := readEnvelope(t, conn)
	require.Equal(t, "delta", env.Type)

	var delta WireSignal
	require.NoError(t, json.Unmarshal(env.Payload, &delta))
	assert.True(t, delta.Stale)
	assert.Equal(t, 21.5, delta.Value)
}

func TestServer_RejectsBeforeStart(t *testing.T) {
	srv, err := New(Deps{Source: &fakeSource{}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_ClientDisconnectCleanup(t *testing.T) {
	source := &fakeSource{snap: signal.NewSnapshot(nil, 0)}
	srv, url := startedServer(t, source)

	conn := dial(t, url)
	_ = readEnvelope(t, conn)
	require.Equal(t, 1, srv.ClientCount())

	require.NoError(t, conn.Close())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.ClientCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("client was not removed after disconnect")
}

// Connections arriving once Stop has begun are turned away instead of
// being registered behind the shutdown wait.
func TestServer_RejectsClientsAfterStop(t *testing.T) {
	source := &fakeSource{snap: signal.NewSnapshot(nil, 0)}
	srv, url := startedServer(t, source)

	require.NoError(t, srv.Stop(time.Second))

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		defer func() { _ = conn.Close() }()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, _, readErr := conn.ReadMessage()
		assert.Error(t, readErr)
	}
	assert.Equal(t, 0, srv.ClientCount())
}

func TestNew_RequiresSource(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestNew_RejectsNegativeSendBuffer(t *testing.T) {
	_, err := New(Deps{Source: &fakeSource{}, SendBuffer: -1})
	assert.Error(t, err)
}
