package thread

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/relay/pkg/transport"
	"github.com/codeready-toolchain/relay/pkg/wire"
)

// fakeTransport records sends and lets tests inject inbound envelopes.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []wire.Envelope
	sendErr error
	handler func(wire.Envelope)
	removed bool
}

func (f *fakeTransport) Send(env wire.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) OnMessage(fn func(wire.Envelope)) func() {
	f.handler = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.removed = true
		f.handler = nil
	}
}

func (f *fakeTransport) deliver(t *testing.T, typ string, data any) {
	t.Helper()
	env, err := wire.NewEnvelope(typ, data)
	require.NoError(t, err)
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	require.NotNil(t, handler, "no message handler registered")
	handler(env)
}

func (f *fakeTransport) sentEnvelopes() []wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

// errCollector gathers OnError callback invocations.
type errCollector struct {
	mu   sync.Mutex
	errs []error
}

func (c *errCollector) collect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *errCollector) all() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.errs))
	copy(out, c.errs)
	return out
}

func TestSendMessage_TrimsContent(t *testing.T) {
	ft := &fakeTransport{}
	a := NewAdapter(ft, NewReconciler(&fakeFetcher{}), Config{})

	require.NoError(t, a.SendMessage("  hi  "))

	sent := ft.sentEnvelopes()
	require.Len(t, sent, 1)
	assert.Equal(t, wire.TypeUserMessage, sent[0].Type)
	assert.NotEmpty(t, sent[0].ID, "user messages carry a fresh envelope ID")
	assert.NotEmpty(t, sent[0].Timestamp)

	var payload wire.UserMessagePayload
	require.NoError(t, sent[0].DecodeData(&payload))
	assert.Equal(t, "hi", payload.Content)
}

func TestSendMessage_WhitespaceOnlyIsLocalNoOp(t *testing.T) {
	ft := &fakeTransport{}
	errs := &errCollector{}
	a := NewAdapter(ft, NewReconciler(&fakeFetcher{}), Config{OnError: errs.collect})

	require.NoError(t, a.SendMessage("   \n\t "))

	assert.Empty(t, ft.sentEnvelopes(), "whitespace-only input transmits nothing")
	assert.Empty(t, errs.all())
}

func TestSendMessage_NotConnected(t *testing.T) {
	ft := &fakeTransport{sendErr: transport.ErrNotConnected}
	errs := &errCollector{}
	a := NewAdapter(ft, NewReconciler(&fakeFetcher{}), Config{OnError: errs.collect})

	err := a.SendMessage("hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	reported := errs.all()
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], transport.ErrNotConnected)

	// Nothing was queued for a later retry.
	ft.mu.Lock()
	ft.sendErr = nil
	ft.mu.Unlock()
	assert.Empty(t, ft.sentEnvelopes())
}

func TestRoute_ThreadMessageMergesAndNotifies(t *testing.T) {
	ft := &fakeTransport{}
	rec := NewReconciler(&fakeFetcher{})
	var mu sync.Mutex
	var notified []wire.ThreadMessage
	a := NewAdapter(ft, rec, Config{OnMessage: func(msg wire.ThreadMessage) {
		mu.Lock()
		defer mu.Unlock()
		notified = append(notified, msg)
	}})
	_ = a

	ft.deliver(t, wire.TypeThreadMessage, wire.RawMessage{
		ID: "m1", Type: wire.RawTypeAgentMessage, Content: "done", Ts: at(1),
	})

	require.Equal(t, 1, rec.Len())
	assert.Equal(t, wire.RoleAgent, rec.Messages()[0].Role)
	mu.Lock()
	require.Len(t, notified, 1)
	assert.Equal(t, "done", notified[0].Content)
	mu.Unlock()

	// The duplicate echo is absorbed silently.
	ft.deliver(t, wire.TypeThreadMessage, wire.RawMessage{
		ID: "m1", Type: wire.RawTypeAgentMessage, Content: "done", Ts: at(1),
	})
	assert.Equal(t, 1, rec.Len())
	mu.Lock()
	assert.Len(t, notified, 1, "duplicates must not re-notify")
	mu.Unlock()
}

func TestRoute_ConnectionStatus(t *testing.T) {
	ft := &fakeTransport{}
	var mu sync.Mutex
	var gotStatus, gotMessage string
	a := NewAdapter(ft, NewReconciler(&fakeFetcher{}), Config{OnStatus: func(status, message string) {
		mu.Lock()
		defer mu.Unlock()
		gotStatus, gotMessage = status, message
	}})
	_ = a

	ft.deliver(t, wire.TypeConnectionStatus, wire.ConnectionStatusPayload{
		Status: "processing", Message: "agent is thinking",
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "processing", gotStatus)
	assert.Equal(t, "agent is thinking", gotMessage)
}

func TestRoute_ErrorEnvelope(t *testing.T) {
	ft := &fakeTransport{}
	errs := &errCollector{}
	a := NewAdapter(ft, NewReconciler(&fakeFetcher{}), Config{OnError: errs.collect})
	_ = a

	ft.deliver(t, wire.TypeError, wire.ErrorPayload{Error: "session expired"})

	reported := errs.all()
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "session expired")
}

func TestRoute_MalformedPayloadReported(t *testing.T) {
	ft := &fakeTransport{}
	errs := &errCollector{}
	rec := NewReconciler(&fakeFetcher{})
	a := NewAdapter(ft, rec, Config{OnError: errs.collect})
	_ = a

	// A thread_message whose data is not an object decodes to nothing useful.
	ft.deliver(t, wire.TypeThreadMessage, "not an object")

	assert.Len(t, errs.all(), 1)
	assert.Zero(t, rec.Len())
}

func TestRoute_ForeignTypeIgnored(t *testing.T) {
	ft := &fakeTransport{}
	errs := &errCollector{}
	rec := NewReconciler(&fakeFetcher{})
	a := NewAdapter(ft, rec, Config{OnError: errs.collect})
	_ = a

	ft.deliver(t, wire.TypeOutput, wire.IOPayload{Data: "$ ls\n"})

	assert.Zero(t, rec.Len())
	assert.Empty(t, errs.all())
}

func TestClose_DetachesFromTransport(t *testing.T) {
	ft := &fakeTransport{}
	a := NewAdapter(ft, NewReconciler(&fakeFetcher{}), Config{})

	a.Close()
	a.Close() // idempotent

	ft.mu.Lock()
	defer ft.mu.Unlock()
	assert.True(t, ft.removed)
	assert.Nil(t, ft.handler)
}
