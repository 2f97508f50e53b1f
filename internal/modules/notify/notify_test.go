package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgtaxi/internal/modules/order"
	"tgtaxi/internal/types"
)

type fakeSink struct {
	mu       sync.Mutex
	failures map[types.ID]int
	attempts map[types.ID]int
	sent     []Message
}

func newFakeSink() *fakeSink {
	return &fakeSink{failures: map[types.ID]int{}, attempts: map[types.ID]int{}}
}

func (s *fakeSink) Send(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[m.Recipient]++
	if s.failures[m.Recipient] > 0 {
		s.failures[m.Recipient]--
		return errors.New("telegram: chat not found")
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeSink) attemptsFor(id types.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id]
}

func (s *fakeSink) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func startDispatcher(t *testing.T, sink Sink, opts Options) *Dispatcher {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(sink, opts, nil)
	d.Start(ctx)
	t.Cleanup(cancel)
	return d
}

func TestDispatcherDelivers(t *testing.T) {
	sink := newFakeSink()
	d := startDispatcher(t, sink, Options{QueueSize: 8, Workers: 2, RetryDelay: time.Millisecond})

	assert.True(t, d.Notify(Message{Recipient: "1", Text: "hi"}))
	assert.False(t, d.Notify(Message{Recipient: "", Text: "hi"}))
	require.Eventually(t, func() bool { return sink.sentCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcherRetriesOnce(t *testing.T) {
	sink := newFakeSink()
	sink.failures["flaky"] = 1
	sink.failures["dead"] = 10
	d := startDispatcher(t, sink, Options{QueueSize: 8, Workers: 1, RetryDelay: 5 * time.Millisecond})

	d.Notify(Message{Recipient: "flaky", Text: "x"})
	d.Notify(Message{Recipient: "dead", Text: "x"})

	require.Eventually(t, func() bool { return sink.sentCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return sink.attemptsFor("dead") == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, sink.attemptsFor("flaky"))
	assert.Equal(t, 2, sink.attemptsFor("dead"))
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	// no workers started, so nothing drains the queue
	d := NewDispatcher(newFakeSink(), Options{QueueSize: 2, Workers: 1}, nil)
	assert.True(t, d.Notify(Message{Recipient: "1", Text: "a"}))
	assert.True(t, d.Notify(Message{Recipient: "2", Text: "b"}))

	done := make(chan bool)
	go func() { done <- d.Notify(Message{Recipient: "3", Text: "c"}) }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
}

func TestBroadcastAndStop(t *testing.T) {
	sink := newFakeSink()
	d := NewDispatcher(sink, Options{QueueSize: 16, Workers: 3}, nil)
	d.Start(context.Background())

	n := d.Broadcast([]types.ID{"1", "2", "3", "4"}, "service update")
	assert.Equal(t, 4, n)
	d.Stop()
	assert.Equal(t, 4, sink.sentCount())
	assert.False(t, d.Notify(Message{Recipient: "5", Text: "late"}))
}

func TestMessagesForTransitions(t *testing.T) {
	d1 := types.ID("200")
	bid := types.Money{Amount: 700, Currency: "RUB"}
	base := order.Order{ID: "abcdef123456", ClientID: "100", Price: types.Money{Amount: 350, Currency: "RUB"}}

	accepted := base
	accepted.Status = order.StatusAccepted
	accepted.DriverID = &d1
	msgs := Messages(order.Change{Order: &accepted, From: order.StatusNew, Actor: order.Actor{Type: order.ActorDriver, ID: d1}})
	require.Len(t, msgs, 1)
	assert.Equal(t, types.ID("100"), msgs[0].Recipient)
	assert.Contains(t, msgs[0].Text, "abcdef12")
	assert.Contains(t, msgs[0].Text, "350 RUB")

	offered := base
	offered.Status = order.StatusBidding
	offered.DriverID = &d1
	offered.DriverBidPrice = &bid
	msgs = Messages(order.Change{Order: &offered, From: order.StatusBidding, Actor: order.Actor{Type: order.ActorDriver, ID: d1}})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "700 RUB")

	rejected := base
	rejected.Status = order.StatusNew
	rejected.ProposalAttempts = []types.ID{d1}
	msgs = Messages(order.Change{Order: &rejected, From: order.StatusBidding, Actor: order.Actor{Type: order.ActorClient, ID: "100"}, Reason: order.ReasonRejectedByClient})
	require.Len(t, msgs, 1)
	assert.Equal(t, d1, msgs[0].Recipient)

	cancelled := base
	cancelled.Status = order.StatusCancelled
	cancelled.DriverID = &d1
	msgs = Messages(order.Change{Order: &cancelled, From: order.StatusAccepted, Actor: order.Actor{Type: order.ActorClient, ID: "100"}})
	require.Len(t, msgs, 1, "the actor is not told about their own action")
	assert.Equal(t, d1, msgs[0].Recipient)
}

type fakeBot struct {
	sent []tgbotapi.Chattable
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, nil
}

func TestTelegramSink(t *testing.T) {
	bot := &fakeBot{}
	sink := NewTelegramSink(bot, "https://t.me/tgtaxi_bot/app")

	require.NoError(t, sink.Send(context.Background(), Message{Recipient: "12345", Text: "hello", OpenApp: true}))
	require.Len(t, bot.sent, 1)
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(12345), msg.ChatID)
	assert.NotNil(t, msg.ReplyMarkup)

	plain := sink.Build(1, Message{Text: "x"})
	assert.Nil(t, plain.ReplyMarkup)

	assert.Error(t, sink.Send(context.Background(), Message{Recipient: "not-a-chat", Text: "x"}))
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
	body [][]byte
}

func (p *fakePublisher) Publish(_ context.Context, _, key string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.body = append(p.body, body)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

func TestEventPublisher(t *testing.T) {
	pub := &fakePublisher{}
	ep := NewEventPublisher(pub, "order_topic", 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ep.Run(ctx)

	o := &order.Order{ID: "o1", ClientID: "100", Status: order.StatusCompleted, StatusVersion: 3}
	ep.OrderChanged(ctx, order.Change{Order: o, From: order.StatusInProgress, Actor: order.Actor{Type: order.ActorDriver, ID: "200"}})

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, "order.completed", pub.keys[0])
	var e OrderEvent
	require.NoError(t, json.Unmarshal(pub.body[0], &e))
	assert.Equal(t, "in_progress", e.From)
	assert.Equal(t, 3, e.Version)
}
