// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vms-broker/vms/lib/broker"
	"github.com/vms-broker/vms/lib/caller"
	"github.com/vms-broker/vms/lib/capability"
	"github.com/vms-broker/vms/lib/clock"
	"github.com/vms-broker/vms/lib/testutil"
	"github.com/vms-broker/vms/lib/vms"
)

var (
	layer      = vms.Layer{Type: 1, Subtype: 1, Version: 2}
	otherLayer = vms.Layer{Type: 1, Subtype: 3, Version: 3}
	payload    = []byte{1, 2, 3, 4}
)

type fakeClient struct {
	mu       sync.Mutex
	token    []byte
	session  *Session
	states   []vms.SubscriptionState
	setErr   error
	stateErr error
}

func (c *fakeClient) SetPublisherService(token []byte, session *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.token = token
	c.session = session
	return nil
}

func (c *fakeClient) OnSubscriptionChange(state vms.SubscriptionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, state)
	return c.stateErr
}

func (c *fakeClient) stateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

type testFixture struct {
	broker  *broker.Broker
	issuer  *capability.Issuer
	service *Service
}

func newFixture(t *testing.T, policy capability.Policy) *testFixture {
	t.Helper()
	_, privateKey, err := capability.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	issuer, err := capability.NewIssuer(capability.IssuerConfig{
		PrivateKey: privateKey,
		Audience:   "vms-broker-test",
		Policy:     policy,
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	b := broker.New(nil)
	service, err := New(Config{Broker: b, Authority: issuer})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testFixture{broker: b, issuer: issuer, service: service}
}

func (f *testFixture) connect(t *testing.T, name string) *fakeClient {
	t.Helper()
	client := &fakeClient{}
	if err := f.service.OnClientConnected(name, client); err != nil {
		t.Fatalf("OnClientConnected(%q): %v", name, err)
	}
	return client
}

// subscribe registers a subscriber at layer level, labeled with
// packageName in failure metrics.
func (f *testFixture) subscribe(key, packageName string, deliver func(vms.Layer, []byte) error) {
	ctx := caller.WithIdentity(context.Background(), caller.Identity{PID: 1, UID: 1000, Name: packageName})
	f.broker.AddLayerSubscription(ctx, vms.SubscriberFunc{Key: key, Deliver: deliver}, layer)
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Authority: &capability.Issuer{}}); err == nil {
		t.Error("missing Broker should fail")
	}
	if _, err := New(Config{Broker: broker.New(nil)}); err == nil {
		t.Error("missing Authority should fail")
	}
}

func TestConnectHandsOutTokenAndSession(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	client := f.connect(t, "maps")

	if len(client.token) == 0 || client.session == nil {
		t.Fatal("client did not receive a token and session")
	}
	session, err := f.service.Session(client.token)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if session != client.session || session.Name() != "maps" {
		t.Errorf("Session() returned %+v", session)
	}
	if f.service.ConnectedCount() != 1 {
		t.Errorf("ConnectedCount() = %d", f.service.ConnectedCount())
	}

	other := f.connect(t, "radar")
	if bytes.Equal(other.token, client.token) {
		t.Error("two connections share a token")
	}
}

func TestPublishDeliversToEverySubscriber(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	client := f.connect(t, "maps")

	var received []string
	for _, key := range []string{"a", "b", "c"} {
		f.subscribe(key, "pkg-"+key, func(got vms.Layer, data []byte) error {
			if got != layer || !bytes.Equal(data, payload) {
				t.Errorf("subscriber %s got %v %v", key, got, data)
			}
			received = append(received, key)
			return nil
		})
	}

	if err := client.session.Publish(client.token, &layer, 0, payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if strings.Join(received, ",") != "a,b,c" {
		t.Errorf("received = %v", received)
	}

	snapshot := f.service.Metrics().Snapshot()
	if len(snapshot.Packets) != 1 || snapshot.Packets[0].Count != 1 || snapshot.Packets[0].Bytes != int64(len(payload)) {
		t.Errorf("packets = %+v", snapshot.Packets)
	}
	if len(snapshot.Failures) != 0 {
		t.Errorf("failures = %+v", snapshot.Failures)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	client := f.connect(t, "maps")

	if err := client.session.Publish(client.token, &layer, 0, payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	snapshot := f.service.Metrics().Snapshot()
	if len(snapshot.Packets) != 1 || snapshot.Packets[0].Count != 1 {
		t.Fatalf("packets = %+v", snapshot.Packets)
	}
	if len(snapshot.Failures) != 1 {
		t.Fatalf("failures = %+v", snapshot.Failures)
	}
	failure := snapshot.Failures[0]
	want := FailureKey{Layer: layer, Publisher: "maps", Subscriber: ""}
	if failure.FailureKey != want || failure.Count != 1 || failure.Bytes != int64(len(payload)) {
		t.Errorf("failure = %+v", failure)
	}
}

func TestPublishIsolatesDeliveryFailures(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	client := f.connect(t, "maps")

	delivered := map[string]int{}
	failing := func(vms.Layer, []byte) error { return errors.New("stream closed") }
	f.subscribe("a", "navigation", failing)
	f.subscribe("b", "dashboard", func(vms.Layer, []byte) error { delivered["b"]++; return nil })
	f.subscribe("c", "navigation", failing)
	f.subscribe("d", "cluster", func(vms.Layer, []byte) error { delivered["d"]++; return nil })

	// N=4 subscribers, M=2 failures.
	if err := client.session.Publish(client.token, &layer, 0, payload); err != nil {
		t.Fatalf("delivery failures must not reach the publisher: %v", err)
	}
	if delivered["b"] != 1 || delivered["d"] != 1 {
		t.Errorf("healthy subscribers were not all attempted: %v", delivered)
	}

	snapshot := f.service.Metrics().Snapshot()
	if snapshot.Packets[0].Count != 1 {
		t.Errorf("packet count = %d, want 1 per publish", snapshot.Packets[0].Count)
	}
	if len(snapshot.Failures) != 1 {
		t.Fatalf("failures = %+v", snapshot.Failures)
	}
	failure := snapshot.Failures[0]
	if failure.Subscriber != "navigation" || failure.Count != 2 || failure.Bytes != 2*int64(len(payload)) {
		t.Errorf("aggregated failure = %+v", failure)
	}
}

func TestPublishDegenerateInputs(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	client := f.connect(t, "maps")

	if err := client.session.Publish(client.token, nil, 0, payload); err != nil {
		t.Errorf("nil layer: %v", err)
	}
	if snapshot := f.service.Metrics().Snapshot(); len(snapshot.Packets) != 0 || len(snapshot.Failures) != 0 {
		t.Errorf("nil layer recorded metrics: %+v", snapshot)
	}

	var got []byte
	f.subscribe("s", "pkg", func(_ vms.Layer, data []byte) error { got = data; return nil })
	if err := client.session.Publish(client.token, &layer, 0, nil); err != nil {
		t.Errorf("nil payload: %v", err)
	}
	if got != nil {
		t.Errorf("subscriber received %v for a nil payload", got)
	}
	snapshot := f.service.Metrics().Snapshot()
	if snapshot.Packets[0].Count != 1 || snapshot.Packets[0].Bytes != 0 {
		t.Errorf("nil payload packets = %+v", snapshot.Packets)
	}
}

func TestPublishUsesTargetedSubscriptions(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	client := f.connect(t, "maps")

	delivered := 0
	target := vms.SubscriberFunc{Key: "t", Deliver: func(vms.Layer, []byte) error { delivered++; return nil }}
	f.broker.AddLayerFromPublisherSubscription(context.Background(), target, otherLayer, 123)

	if err := client.session.Publish(client.token, &otherLayer, 7, payload); err != nil {
		t.Fatal(err)
	}
	if delivered != 0 {
		t.Error("targeted subscriber received another publisher's data")
	}
	if err := client.session.Publish(client.token, &otherLayer, 123, payload); err != nil {
		t.Fatal(err)
	}
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t, capability.Policy{Rules: []capability.Rule{
		{Clients: []string{"maps"}, Actions: []string{"vms/**"}},
		{Clients: []string{"viewer"}, Actions: []string{capability.ActionSubscribe}},
	}})
	maps := f.connect(t, "maps")
	viewer := f.connect(t, "viewer")

	tests := []struct {
		name string
		call func() error
	}{
		{"foreign token", func() error {
			return maps.session.Publish(viewer.token, &layer, 0, payload)
		}},
		{"garbage token", func() error {
			return maps.session.Publish([]byte("not-a-token"), &layer, 0, payload)
		}},
		{"missing publish grant", func() error {
			return viewer.session.Publish(viewer.token, &layer, 0, payload)
		}},
		{"missing offer grant", func() error {
			return viewer.session.SetLayersOffering(viewer.token, vms.LayersOffering{})
		}},
		{"foreign token subscriptions", func() error {
			_, err := maps.session.GetSubscriptions(viewer.token)
			return err
		}},
		{"foreign token publisher id", func() error {
			_, err := maps.session.GetPublisherID(viewer.token, []byte{1})
			return err
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if err := test.call(); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("err = %v, want ErrUnauthorized", err)
			}
		})
	}

	if snapshot := f.service.Metrics().Snapshot(); len(snapshot.Packets) != 0 || len(snapshot.Failures) != 0 {
		t.Errorf("rejected calls recorded metrics: %+v", snapshot)
	}

	// Without a publish grant the viewer can still read state.
	if _, err := viewer.session.GetSubscriptions(viewer.token); err != nil {
		t.Errorf("GetSubscriptions: %v", err)
	}
	if _, err := f.service.Session([]byte("unknown")); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Session(unknown) err = %v", err)
	}
}

func TestDisconnectRevokesSession(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	client := f.connect(t, "maps")
	if err := client.session.SetLayersOffering(client.token, vms.LayersOffering{
		PublisherID: 0,
		Layers:      []vms.LayerDependency{{Layer: layer}},
	}); err != nil {
		t.Fatalf("SetLayersOffering: %v", err)
	}
	if len(f.broker.GetAvailableLayers().AssociatedLayers) != 1 {
		t.Fatal("offering did not reach the broker")
	}

	f.service.OnClientDisconnected("maps")
	f.service.OnClientDisconnected("maps")
	f.service.OnClientDisconnected("never-connected")

	if client.session.Connected() {
		t.Error("session still connected")
	}
	if err := client.session.Publish(client.token, &layer, 0, payload); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("publish after disconnect: err = %v", err)
	}
	if _, err := f.service.Session(client.token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Session after disconnect: err = %v", err)
	}
	if _, err := f.issuer.Verify(client.token); !errors.Is(err, capability.ErrTokenRevoked) {
		t.Errorf("token not revoked: %v", err)
	}
	if len(f.broker.GetAvailableLayers().AssociatedLayers) != 0 {
		t.Error("dead publisher's offering survived")
	}
	if f.broker.PublisherListenerCount() != 0 {
		t.Error("listener still registered")
	}
}

func TestReconnectReplacesPreviousConnection(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	first := f.connect(t, "maps")
	second := f.connect(t, "maps")

	if f.service.ConnectedCount() != 1 || f.broker.PublisherListenerCount() != 1 {
		t.Fatalf("connected=%d listeners=%d", f.service.ConnectedCount(), f.broker.PublisherListenerCount())
	}
	if err := first.session.Publish(first.token, &layer, 0, payload); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("replaced session still works: %v", err)
	}
	if err := second.session.Publish(second.token, &layer, 0, payload); err != nil {
		t.Errorf("new session: %v", err)
	}

	// The old stream ending must not tear down the new connection.
	f.service.ReleaseClient("maps", first)
	if !second.session.Connected() {
		t.Error("ReleaseClient with a stale client disconnected the new one")
	}
	f.service.ReleaseClient("maps", second)
	if second.session.Connected() || f.service.ConnectedCount() != 0 {
		t.Error("ReleaseClient with the owning client should disconnect")
	}
}

func TestConnectFailureUndoesRegistration(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	client := &fakeClient{setErr: errors.New("client process gone")}

	if err := f.service.OnClientConnected("maps", client); err == nil {
		t.Fatal("expected an error")
	}
	if f.service.ConnectedCount() != 0 || f.broker.PublisherListenerCount() != 0 {
		t.Errorf("failed connect left state behind")
	}
}

func TestSubscriptionChangesReachClients(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	healthy := f.connect(t, "maps")
	broken := &fakeClient{stateErr: errors.New("write failed")}
	if err := f.service.OnClientConnected("radar", broken); err != nil {
		t.Fatal(err)
	}

	f.subscribe("s", "pkg", nil)
	if healthy.stateCount() != 1 || broken.stateCount() != 1 {
		t.Errorf("state notifications: healthy=%d broken=%d", healthy.stateCount(), broken.stateCount())
	}
	state, err := healthy.session.GetSubscriptions(healthy.token)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Layers) != 1 || state.Layers[0] != layer {
		t.Errorf("state = %+v", state)
	}
}

func TestGetPublisherID(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	client := f.connect(t, "maps")

	first, err := client.session.GetPublisherID(client.token, []byte{2, 3, 5, 7, 11, 13, 17})
	if err != nil {
		t.Fatal(err)
	}
	again, _ := client.session.GetPublisherID(client.token, []byte{2, 3, 5, 7, 11, 13, 17})
	next, _ := client.session.GetPublisherID(client.token, []byte{2, 3, 5, 7, 11, 13, 17, 19})
	if first != 0 || again != 0 || next != 1 {
		t.Errorf("ids = %d %d %d", first, again, next)
	}
}

func TestDump(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	client := f.connect(t, "maps")
	f.subscribe("s", "navigation", func(vms.Layer, []byte) error { return errors.New("gone") })

	if err := client.session.Publish(client.token, &layer, 0, payload); err != nil {
		t.Fatal(err)
	}
	if err := client.session.Publish(client.token, &otherLayer, 0, []byte{9}); err != nil {
		t.Fatal(err)
	}

	var first, second bytes.Buffer
	if err := f.service.Dump(&first); err != nil {
		t.Fatal(err)
	}
	if err := f.service.Dump(&second); err != nil {
		t.Fatal(err)
	}
	if first.String() != second.String() {
		t.Error("Dump is not deterministic or mutated metrics")
	}

	report := first.String()
	for _, line := range []string{
		"Connected publishers: 1\n",
		fmt.Sprintf("Packet count for layer %s: 1\n", layer),
		fmt.Sprintf("Total packet size for layer %s: 4 (bytes)\n", layer),
		fmt.Sprintf("Total packet failure count for layer %s from maps to navigation: 1\n", layer),
		fmt.Sprintf("Total packet failure size for layer %s from maps to navigation: 4 (bytes)\n", layer),
		fmt.Sprintf("Total packet failure count for layer %s from maps to : 1\n", otherLayer),
		fmt.Sprintf("Total packet failure size for layer %s from maps to : 1 (bytes)\n", otherLayer),
	} {
		if !strings.Contains(report, line) {
			t.Errorf("report missing %q:\n%s", line, report)
		}
	}
	if strings.Index(report, layer.String()) > strings.Index(report, otherLayer.String()) {
		t.Error("layers are not reported in order")
	}
}

func TestRelease(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	first := f.connect(t, "maps")
	second := f.connect(t, "radar")
	if err := first.session.Publish(first.token, &layer, 0, payload); err != nil {
		t.Fatal(err)
	}

	f.service.Release()

	if f.service.ConnectedCount() != 0 || first.session.Connected() || second.session.Connected() {
		t.Error("Release left clients connected")
	}
	if snapshot := f.service.Metrics().Snapshot(); len(snapshot.Packets) != 0 {
		t.Error("Release did not clear metrics")
	}
}

func TestConcurrentPublish(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	clients := []*fakeClient{f.connect(t, "a"), f.connect(t, "b"), f.connect(t, "c")}
	f.subscribe("s", "pkg", nil)

	const perClient = 50
	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perClient {
				if err := client.session.Publish(client.token, &layer, 0, payload); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	snapshot := f.service.Metrics().Snapshot()
	if got := snapshot.Packets[0].Count; got != int64(len(clients)*perClient) {
		t.Errorf("packet count = %d, want %d", got, len(clients)*perClient)
	}
}

func TestDisconnectDuringPublishLetsDeliveryFinish(t *testing.T) {
	f := newFixture(t, capability.DefaultPolicy())
	client := f.connect(t, "maps")

	delivering := make(chan struct{})
	release := make(chan struct{})
	f.subscribe("slow", "pkg", func(vms.Layer, []byte) error {
		close(delivering)
		<-release
		return nil
	})

	published := make(chan error, 1)
	go func() { published <- client.session.Publish(client.token, &layer, 0, payload) }()
	testutil.RequireClosed(t, delivering, testutil.DefaultTimeout, "delivery never started")

	disconnected := make(chan struct{})
	go func() {
		f.service.OnClientDisconnected("maps")
		close(disconnected)
	}()
	testutil.RequireClosed(t, disconnected, testutil.DefaultTimeout, "disconnect waited on delivery")

	close(release)
	if err := testutil.RequireReceive(t, published, testutil.DefaultTimeout, "publish result"); err != nil {
		t.Errorf("in-flight publish: %v", err)
	}
	if snapshot := f.service.Metrics().Snapshot(); snapshot.Packets[0].Count != 1 {
		t.Errorf("packets = %+v, want the in-flight publish counted", snapshot.Packets)
	}
	if err := client.session.Publish(client.token, &layer, 0, payload); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("publish after disconnect: err = %v", err)
	}
}

func TestConnectionOutlivesIssuerTTL(t *testing.T) {
	_, privateKey, err := capability.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := capability.NewIssuer(capability.IssuerConfig{
		PrivateKey: privateKey,
		Audience:   "vms-broker-test",
		TTL:        time.Hour,
		Policy:     capability.DefaultPolicy(),
		Clock:      fakeClock,
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	b := broker.New(nil)
	service, err := New(Config{Broker: b, Authority: issuer})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	client := &fakeClient{}
	if err := service.OnClientConnected("maps", client); err != nil {
		t.Fatalf("OnClientConnected: %v", err)
	}

	fakeClock.Advance(2 * time.Hour)

	if err := client.session.Publish(client.token, &layer, 0, payload); err != nil {
		t.Fatalf("publish on a live connection after the TTL: %v", err)
	}
	if _, err := client.session.GetSubscriptions(client.token); err != nil {
		t.Errorf("GetSubscriptions after the TTL: %v", err)
	}
	if snapshot := service.Metrics().Snapshot(); len(snapshot.Packets) != 1 || snapshot.Packets[0].Count != 1 {
		t.Errorf("packets = %+v, want one publish counted", snapshot.Packets)
	}

	service.OnClientDisconnected("maps")
	if err := client.session.Publish(client.token, &layer, 0, payload); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("publish after disconnect: err = %v", err)
	}
}
