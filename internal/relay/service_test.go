// ABOUTME: Tests for the relay service: blocking and non-blocking calls, correlation, timeouts.
// ABOUTME: Runs against the in-process broker with a fake agent answering on correlation channels.

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink/relay/internal/broker"
	"github.com/carelink/relay/internal/device"
)

const testPrefix = "relay-test"

// mockRegistry is an in-memory Registry for unit tests.
type mockRegistry struct {
	agents  map[string]*device.Agent
	byIdent map[string]*device.Agent
	devices map[string]*device.Device
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		agents:  make(map[string]*device.Agent),
		byIdent: make(map[string]*device.Agent),
		devices: make(map[string]*device.Device),
	}
}

func (m *mockRegistry) addAgent(id string, idents ...device.Identifier) {
	agent := &device.Agent{ID: id, Name: id, Identifiers: idents}
	m.agents[id] = agent
	for _, ident := range idents {
		m.byIdent[ident.System+"|"+ident.Value] = agent
	}
}

func (m *mockRegistry) addDevice(id, name, address string) {
	m.devices[id] = &device.Device{ID: id, Name: name, Status: "active", Address: address}
}

func (m *mockRegistry) GetAgent(ctx context.Context, id string) (*device.Agent, error) {
	if a, ok := m.agents[id]; ok {
		return a, nil
	}
	return nil, device.ErrNotFound
}

func (m *mockRegistry) GetAgentByIdentifier(ctx context.Context, system, value string) (*device.Agent, error) {
	if a, ok := m.byIdent[system+"|"+value]; ok {
		return a, nil
	}
	return nil, device.ErrNotFound
}

func (m *mockRegistry) GetDevice(ctx context.Context, id string) (*device.Device, error) {
	if d, ok := m.devices[id]; ok {
		return d, nil
	}
	return nil, device.ErrNotFound
}

func (m *mockRegistry) SearchDevices(ctx context.Context, params device.SearchParams) ([]*device.Device, error) {
	var out []*device.Device
	for _, d := range m.devices {
		if params.Name != "" && d.Name != params.Name {
			continue
		}
		if params.Status != "" && d.Status != params.Status {
			continue
		}
		if params.Identifier != "" && d.ID != params.Identifier {
			continue
		}
		if params.Address != "" && d.Address != params.Address {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// recordingBroker wraps a MemoryBroker and records publishes and
// subscription lifecycle, so tests can assert "no broker interaction" and
// "no leaked subscriptions".
type recordingBroker struct {
	*broker.MemoryBroker
	mu         sync.Mutex
	publishes  []publishRecord
	subscribes int
	active     int
}

type publishRecord struct {
	channel string
	payload []byte
}

func newRecordingBroker() *recordingBroker {
	return &recordingBroker{MemoryBroker: broker.NewMemoryBroker()}
}

func (r *recordingBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	r.mu.Lock()
	r.publishes = append(r.publishes, publishRecord{channel: channel, payload: payload})
	r.mu.Unlock()
	return r.MemoryBroker.Publish(ctx, channel, payload)
}

func (r *recordingBroker) Subscribe(ctx context.Context, channel string) (broker.Subscription, error) {
	sub, err := r.MemoryBroker.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.subscribes++
	r.active++
	r.mu.Unlock()
	return &countedSubscription{Subscription: sub, broker: r}, nil
}

func (r *recordingBroker) publishCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.publishes)
}

func (r *recordingBroker) activeSubscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

type countedSubscription struct {
	broker.Subscription
	broker *recordingBroker
	once   sync.Once
}

func (s *countedSubscription) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		s.broker.active--
		s.broker.mu.Unlock()
	})
	return s.Subscription.Close()
}

// startFakeAgent subscribes to an agent's inbound channel and answers every
// request envelope via the supplied handler on its correlation channel.
func startFakeAgent(t *testing.T, b broker.Broker, agentID string, handler func(*RequestEnvelope) *ResponseEnvelope) {
	t.Helper()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, AgentChannel(testPrefix, agentID))
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })

	go func() {
		for payload := range sub.Messages() {
			var env RequestEnvelope
			if err := json.Unmarshal(payload, &env); err != nil {
				continue
			}
			resp := handler(&env)
			out, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			b.Publish(ctx, env.CorrelationChannel, out)
		}
	}()
}

// echoHandler answers 200 with the request body echoed and the correlation
// channel properly mirrored.
func echoHandler(env *RequestEnvelope) *ResponseEnvelope {
	return &ResponseEnvelope{
		CorrelationChannel: env.CorrelationChannel,
		StatusCode:         200,
		ContentType:        env.ContentType,
		Body:               env.Body,
	}
}

func newTestService(b broker.Broker, reg Registry) *Service {
	return NewService(b, reg, Options{
		ChannelPrefix:      testPrefix,
		DefaultWaitTimeout: 2 * time.Second,
		MaxWaitTimeout:     time.Minute,
	}, slog.Default())
}

func strptr(s string) *string {
	return &s
}

func TestRelay_NonBlocking(t *testing.T) {
	b := newRecordingBroker()
	defer b.Close()

	reg := newMockRegistry()
	reg.addAgent("agent-1")
	reg.addDevice("dev-1", "modem", "10.0.0.5:2000")

	svc := newTestService(b, reg)

	result, err := svc.Relay(context.Background(), &Request{
		Agent:       "agent-1",
		ContentType: ContentTypeText,
		Body:        strptr("input"),
		Destination: "Device/dev-1",
	})
	require.NoError(t, err)

	assert.True(t, result.OK())
	assert.Equal(t, 200, result.StatusCode)
	assert.Empty(t, result.Body)

	// Exactly one publish on the agent's inbound channel, no subscription.
	require.Equal(t, 1, b.publishCount())
	assert.Equal(t, AgentChannel(testPrefix, "agent-1"), b.publishes[0].channel)
	assert.Equal(t, 0, b.subscribes)

	var env RequestEnvelope
	require.NoError(t, json.Unmarshal(b.publishes[0].payload, &env))
	assert.Equal(t, "input", env.Body)
	assert.Equal(t, ContentTypeText, env.ContentType)
	assert.Equal(t, "10.0.0.5:2000", env.Destination)
	assert.NotEmpty(t, env.CorrelationChannel)
}

func TestRelay_ValidationFailsBeforeBroker(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr error
	}{
		{
			name:    "missing content type",
			req:     &Request{Agent: "agent-1", Body: strptr("x"), Destination: "Device/dev-1"},
			wantErr: ErrMissingContentType,
		},
		{
			name:    "unsupported content type",
			req:     &Request{Agent: "agent-1", ContentType: "image/png", Body: strptr("x"), Destination: "Device/dev-1"},
			wantErr: ErrInvalidContentType,
		},
		{
			name:    "missing body",
			req:     &Request{Agent: "agent-1", ContentType: ContentTypeText, Destination: "Device/dev-1"},
			wantErr: ErrMissingBody,
		},
		{
			name:    "missing destination",
			req:     &Request{Agent: "agent-1", ContentType: ContentTypeText, Body: strptr("x")},
			wantErr: ErrMissingDestination,
		},
		{
			name: "wait timeout above ceiling",
			req: &Request{
				Agent: "agent-1", ContentType: ContentTypeText, Body: strptr("x"),
				Destination: "Device/dev-1", WaitForResponse: true, WaitTimeout: 2 * time.Minute,
			},
			wantErr: ErrInvalidWaitTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newRecordingBroker()
			defer b.Close()

			reg := newMockRegistry()
			reg.addAgent("agent-1")
			reg.addDevice("dev-1", "modem", "10.0.0.5:2000")

			svc := newTestService(b, reg)

			_, err := svc.Relay(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err))

			// No broker interaction of any kind.
			assert.Equal(t, 0, b.publishCount())
			assert.Equal(t, 0, b.subscribes)
		})
	}
}

func TestRelay_EmptyBodyIsNotMissing(t *testing.T) {
	b := newRecordingBroker()
	defer b.Close()

	reg := newMockRegistry()
	reg.addAgent("agent-1")
	reg.addDevice("dev-1", "modem", "10.0.0.5:2000")

	svc := newTestService(b, reg)

	_, err := svc.Relay(context.Background(), &Request{
		Agent:       "agent-1",
		ContentType: ContentTypeText,
		Body:        strptr(""),
		Destination: "Device/dev-1",
	})
	assert.NoError(t, err)
}

func TestRelay_AgentByExternalIdentifier(t *testing.T) {
	b := newRecordingBroker()
	defer b.Close()

	reg := newMockRegistry()
	reg.addAgent("agent-7", device.Identifier{System: "urn:carelink:facility", Value: "FAC-7"})
	reg.addDevice("dev-1", "modem", "10.0.0.5:2000")

	svc := newTestService(b, reg)

	_, err := svc.Relay(context.Background(), &Request{
		Agent:       "urn:carelink:facility|FAC-7",
		ContentType: ContentTypeText,
		Body:        strptr("hi"),
		Destination: "Device/dev-1",
	})
	require.NoError(t, err)

	require.Equal(t, 1, b.publishCount())
	assert.Equal(t, AgentChannel(testPrefix, "agent-7"), b.publishes[0].channel)
}

func TestRelay_AgentNotFound(t *testing.T) {
	b := newRecordingBroker()
	defer b.Close()

	svc := newTestService(b, newMockRegistry())

	_, err := svc.Relay(context.Background(), &Request{
		Agent:       "ghost",
		ContentType: ContentTypeText,
		Body:        strptr("hi"),
		Destination: "Device/dev-1",
	})
	require.ErrorIs(t, err, ErrAgentNotFound)
	assert.True(t, IsResolutionError(err))
	assert.Equal(t, 0, b.publishCount())
}

func TestRelay_BlockingReceivesResponse(t *testing.T) {
	b := newRecordingBroker()
	defer b.Close()

	reg := newMockRegistry()
	reg.addAgent("agent-1")
	reg.addDevice("dev-1", "modem", "10.0.0.5:2000")

	startFakeAgent(t, b, "agent-1", echoHandler)

	svc := newTestService(b, reg)

	result, err := svc.Relay(context.Background(), &Request{
		Agent:           "agent-1",
		ContentType:     ContentTypeHL7v2,
		Body:            strptr("MSH|^~\\&|LAB|FAC|EHR|FAC|20260829||ORU^R01|1|P|2.5.1\rOBX|1|TX|||ok\r"),
		Destination:     "Device/dev-1",
		WaitForResponse: true,
	})
	require.NoError(t, err)

	// Byte-for-byte passthrough of the agent's reply.
	assert.True(t, result.OK())
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, ContentTypeHL7v2, result.ContentType)
	assert.Equal(t, "MSH|^~\\&|LAB|FAC|EHR|FAC|20260829||ORU^R01|1|P|2.5.1\rOBX|1|TX|||ok\r", result.Body)

	// The correlation subscription was released.
	assert.Equal(t, 0, b.activeSubscriptions())
}

func TestRelay_PingScenario(t *testing.T) {
	b := newRecordingBroker()
	defer b.Close()

	reg := newMockRegistry()
	reg.addAgent("agent-1")

	t.Run("agent reports ping statistics", func(t *testing.T) {
		startFakeAgent(t, b, "agent-1", func(env *RequestEnvelope) *ResponseEnvelope {
			return &ResponseEnvelope{
				CorrelationChannel: env.CorrelationChannel,
				StatusCode:         200,
				ContentType:        ContentTypeText,
				Body:               fmt.Sprintf("--- %s ping statistics ---\n4 packets transmitted, 4 received", env.Destination),
			}
		})

		svc := newTestService(b, reg)

		result, err := svc.Relay(context.Background(), &Request{
			Agent:           "agent-1",
			ContentType:     ContentTypePing,
			Body:            strptr(""),
			Destination:     "8.8.8.8",
			WaitForResponse: true,
		})
		require.NoError(t, err)
		assert.Equal(t, 200, result.StatusCode)
		assert.Contains(t, result.Body, "ping statistics")
	})
}

func TestRelay_RemoteReportedError(t *testing.T) {
	b := newRecordingBroker()
	defer b.Close()

	reg := newMockRegistry()
	reg.addAgent("agent-1")

	startFakeAgent(t, b, "agent-1", func(env *RequestEnvelope) *ResponseEnvelope {
		return &ResponseEnvelope{
			CorrelationChannel: env.CorrelationChannel,
			StatusCode:         500,
			ContentType:        ContentTypeText,
			Body:               `Unable to ping "8.8.8.8"`,
		}
	})

	svc := newTestService(b, reg)

	result, err := svc.Relay(context.Background(), &Request{
		Agent:           "agent-1",
		ContentType:     ContentTypePing,
		Body:            strptr(""),
		Destination:     "8.8.8.8",
		WaitForResponse: true,
	})
	require.NoError(t, err)

	// A remote failure is a result with an outcome, not a transport error.
	require.False(t, result.OK())
	assert.Equal(t, 500, result.StatusCode)
	assert.Equal(t, "Internal error", result.Outcome.Summary)
	assert.Equal(t, `Unable to ping "8.8.8.8"`, result.Outcome.Diagnostics)
	assert.Equal(t, "error", result.Outcome.Severity)
}

func TestRelay_Timeout(t *testing.T) {
	b := newRecordingBroker()
	defer b.Close()

	reg := newMockRegistry()
	reg.addAgent("agent-1")
	reg.addDevice("dev-1", "modem", "10.0.0.5:2000")

	// No agent is listening; the publish is silently lost.
	svc := newTestService(b, reg)

	start := time.Now()
	_, err := svc.Relay(context.Background(), &Request{
		Agent:           "agent-1",
		ContentType:     ContentTypeText,
		Body:            strptr("anyone there?"),
		Destination:     "Device/dev-1",
		WaitForResponse: true,
		WaitTimeout:     100 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrWaitTimeout)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "timed out before the deadline")
	assert.Less(t, elapsed, time.Second, "timed out far past the deadline")

	// The wait's subscription was released on the timeout path.
	assert.Equal(t, 1, b.subscribes)
	assert.Equal(t, 0, b.activeSubscriptions())
}

func TestRelay_CallerCancellation(t *testing.T) {
	b := newRecordingBroker()
	defer b.Close()

	reg := newMockRegistry()
	reg.addAgent("agent-1")
	reg.addDevice("dev-1", "modem", "10.0.0.5:2000")

	svc := newTestService(b, reg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := svc.Relay(ctx, &Request{
		Agent:           "agent-1",
		ContentType:     ContentTypeText,
		Body:            strptr("x"),
		Destination:     "Device/dev-1",
		WaitForResponse: true,
		WaitTimeout:     10 * time.Second,
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, b.activeSubscriptions(), "cancelled wait must release its subscription")
}

func TestRelay_MismatchedCorrelationIgnored(t *testing.T) {
	b := newRecordingBroker()
	defer b.Close()

	reg := newMockRegistry()
	reg.addAgent("agent-1")
	reg.addDevice("dev-1", "modem", "10.0.0.5:2000")

	// An agent that first floods the correlation channel with junk and a
	// mismatched envelope, then answers properly.
	sub, err := b.MemoryBroker.Subscribe(context.Background(), AgentChannel(testPrefix, "agent-1"))
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	go func() {
		ctx := context.Background()
		for payload := range sub.Messages() {
			var env RequestEnvelope
			if json.Unmarshal(payload, &env) != nil {
				continue
			}
			b.Publish(ctx, env.CorrelationChannel, []byte("not json"))
			wrong, _ := json.Marshal(&ResponseEnvelope{
				CorrelationChannel: "relay-test.callbacks.someone-else",
				StatusCode:         200,
				Body:               "stolen",
			})
			b.Publish(ctx, env.CorrelationChannel, wrong)
			right, _ := json.Marshal(&ResponseEnvelope{
				CorrelationChannel: env.CorrelationChannel,
				StatusCode:         200,
				ContentType:        ContentTypeText,
				Body:               "mine",
			})
			b.Publish(ctx, env.CorrelationChannel, right)
		}
	}()

	svc := newTestService(b, reg)

	result, err := svc.Relay(context.Background(), &Request{
		Agent:           "agent-1",
		ContentType:     ContentTypeText,
		Body:            strptr("x"),
		Destination:     "Device/dev-1",
		WaitForResponse: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "mine", result.Body)
}

func TestRelay_ConcurrentCallsDoNotCrossTalk(t *testing.T) {
	b := newRecordingBroker()
	defer b.Close()

	reg := newMockRegistry()
	reg.addAgent("agent-1")
	reg.addDevice("dev-1", "modem", "10.0.0.5:2000")

	// Echo agent: each caller should get exactly its own body back even
	// though all responses land within the same instant.
	startFakeAgent(t, b, "agent-1", echoHandler)

	svc := newTestService(b, reg)

	const callers = 25
	var wg sync.WaitGroup
	errs := make([]error, callers)
	bodies := make([]string, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			body := fmt.Sprintf("payload-%03d", n)
			result, err := svc.Relay(context.Background(), &Request{
				Agent:           "agent-1",
				ContentType:     ContentTypeText,
				Body:            &body,
				Destination:     "Device/dev-1",
				WaitForResponse: true,
			})
			if err != nil {
				errs[n] = err
				return
			}
			bodies[n] = result.Body
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, fmt.Sprintf("payload-%03d", i), bodies[i], "caller %d received someone else's response", i)
	}

	assert.Equal(t, 0, b.activeSubscriptions())
}

func TestRelay_ZeroTimeoutUsesDefault(t *testing.T) {
	b := newRecordingBroker()
	defer b.Close()

	reg := newMockRegistry()
	reg.addAgent("agent-1")
	reg.addDevice("dev-1", "modem", "10.0.0.5:2000")

	startFakeAgent(t, b, "agent-1", echoHandler)

	svc := NewService(b, reg, Options{
		ChannelPrefix:      testPrefix,
		DefaultWaitTimeout: 2 * time.Second,
		MaxWaitTimeout:     time.Minute,
	}, slog.Default())

	// WaitTimeout zero means "use the default", not "fail immediately".
	result, err := svc.Relay(context.Background(), &Request{
		Agent:           "agent-1",
		ContentType:     ContentTypeText,
		Body:            strptr("hello"),
		Destination:     "Device/dev-1",
		WaitForResponse: true,
		WaitTimeout:     0,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Body)
}
