// Package remote implements the store contract against a gateway: REST for
// row operations, one multiplexed websocket for change feeds and presence.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flamechat/internal/logger"
	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/realtime"
	"github.com/flamechat/internal/store"
	"github.com/flamechat/internal/wire"
)

const dialTimeout = 10 * time.Second

// Store is a client-side store talking to one gateway. All change feeds and
// presence channels share a single websocket; rows are fetched and written
// over REST. When the websocket drops, every live subscription fires
// Disconnected and stays frozen; building a new Store is the reconnect path.
type Store struct {
	baseURL string
	http    *http.Client

	conn    *websocket.Conn
	writeMu sync.Mutex

	messages *realtime.Broker[model.Message]
	rooms    *realtime.Broker[model.Room]
	votes    *realtime.Broker[model.PollVote]

	mu       sync.Mutex
	refs     map[string]int // topic -> active subscription count
	presence map[string]*realtime.Broker[[]model.PresenceRecord]
	closed   bool

	readerDone chan struct{}
}

// New dials the gateway's realtime endpoint and starts the feed reader.
func New(baseURL string) (*Store, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	wsURL, err := websocketURL(baseURL)
	if err != nil {
		return nil, fmt.Errorf("remote.New: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("remote.New: dial %s: %w", wsURL, err)
	}

	s := &Store{
		baseURL:    baseURL,
		http:       &http.Client{Timeout: 15 * time.Second},
		conn:       conn,
		messages:   realtime.NewBroker[model.Message](),
		rooms:      realtime.NewBroker[model.Room](),
		votes:      realtime.NewBroker[model.PollVote](),
		refs:       make(map[string]int),
		presence:   make(map[string]*realtime.Broker[[]model.PresenceRecord]),
		readerDone: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// readLoop applies server frames until the transport drops, then signals
// every subscription.
func (s *Store) readLoop() {
	defer close(s.readerDone)
	defer s.disconnectAll()
	for {
		var frame wire.ServerFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				logger.Errorf("remote: feed connection lost: %v", err)
			}
			return
		}
		s.applyFrame(frame)
	}
}

func (s *Store) applyFrame(frame wire.ServerFrame) {
	switch {
	case frame.Type == wire.FrameChange && frame.Topic == wire.TopicMessages:
		var m model.Message
		if err := json.Unmarshal(frame.Row, &m); err != nil {
			logger.Errorf("remote: bad message row: %v", err)
			return
		}
		s.messages.Publish(realtime.Event[model.Message]{Kind: realtime.Kind(frame.Kind), Row: m})
	case frame.Type == wire.FrameChange && frame.Topic == wire.TopicRooms:
		var r model.Room
		if err := json.Unmarshal(frame.Row, &r); err != nil {
			logger.Errorf("remote: bad room row: %v", err)
			return
		}
		s.rooms.Publish(realtime.Event[model.Room]{Kind: realtime.Kind(frame.Kind), Row: r})
	case frame.Type == wire.FrameChange && strings.HasPrefix(frame.Topic, "votes:"):
		var v model.PollVote
		if err := json.Unmarshal(frame.Row, &v); err != nil {
			logger.Errorf("remote: bad vote row: %v", err)
			return
		}
		s.votes.Publish(realtime.Event[model.PollVote]{Kind: realtime.Kind(frame.Kind), Row: v})
	case frame.Type == wire.FrameSync:
		s.mu.Lock()
		broker := s.presence[frame.Topic]
		s.mu.Unlock()
		if broker != nil {
			records := frame.Records
			if records == nil {
				records = []model.PresenceRecord{}
			}
			broker.Publish(realtime.Event[[]model.PresenceRecord]{Kind: realtime.KindUpdate, Row: records})
		}
	}
}

func (s *Store) disconnectAll() {
	s.messages.Disconnect()
	s.rooms.Disconnect()
	s.votes.Disconnect()
	s.mu.Lock()
	brokers := make([]*realtime.Broker[[]model.PresenceRecord], 0, len(s.presence))
	for _, b := range s.presence {
		brokers = append(brokers, b)
	}
	s.mu.Unlock()
	for _, b := range brokers {
		b.Disconnect()
	}
}

func (s *Store) sendFrame(frame wire.ClientFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("remote: send %s %s: %w", frame.Op, frame.Topic, err)
	}
	return nil
}

// acquireTopic sends a subscribe frame when the first local subscription on
// topic appears.
func (s *Store) acquireTopic(topic string) error {
	s.mu.Lock()
	s.refs[topic]++
	first := s.refs[topic] == 1
	s.mu.Unlock()
	if !first {
		return nil
	}
	return s.sendFrame(wire.ClientFrame{Op: wire.OpSubscribe, Topic: topic})
}

// releaseTopic sends an unsubscribe frame when the last local subscription on
// topic goes away.
func (s *Store) releaseTopic(topic string) {
	s.mu.Lock()
	if s.refs[topic] == 0 {
		s.mu.Unlock()
		return
	}
	s.refs[topic]--
	last := s.refs[topic] == 0
	if last {
		delete(s.refs, topic)
	}
	closed := s.closed
	s.mu.Unlock()
	if last && !closed {
		if err := s.sendFrame(wire.ClientFrame{Op: wire.OpUnsubscribe, Topic: topic}); err != nil {
			logger.Errorf("remote: unsubscribe %s: %v", topic, err)
		}
	}
}

// topicSub releases its topic once, no matter how many times Unsubscribe is
// called.
type topicSub struct {
	realtime.Subscription
	store *Store
	topic string
	once  sync.Once
}

func (t *topicSub) Unsubscribe() {
	t.Subscription.Unsubscribe()
	t.once.Do(func() { t.store.releaseTopic(t.topic) })
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	err := s.conn.Close()
	<-s.readerDone

	s.messages.Close()
	s.rooms.Close()
	s.votes.Close()
	s.mu.Lock()
	for _, b := range s.presence {
		b.Close()
	}
	s.presence = make(map[string]*realtime.Broker[[]model.PresenceRecord])
	s.mu.Unlock()
	return err
}

var _ store.Store = (*Store)(nil)

// --- REST plumbing ---

func (s *Store) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	return s.do(req, out)
}

func (s *Store) sendJSON(ctx context.Context, method, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, out)
}

func (s *Store) do(req *http.Request, out any) error {
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return store.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&er)
		if er.Error == "" {
			er.Error = resp.Status
		}
		return fmt.Errorf("remote: %s %s: %s", req.Method, req.URL.Path, er.Error)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: %s %s: decode: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

// --- store.Store rows ---

func (s *Store) ListMessages(ctx context.Context, scope store.Scope, limit int) ([]model.Message, error) {
	q := url.Values{}
	if !scope.IsGlobal() {
		q.Set("room_id", scope.RoomID)
	}
	q.Set("limit", strconv.Itoa(limit))
	var msgs []model.Message
	if err := s.getJSON(ctx, "/api/messages?"+q.Encode(), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	m := &model.Message{}
	if err := s.getJSON(ctx, "/api/messages/"+url.PathEscape(id), m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	return s.sendJSON(ctx, http.MethodPost, "/api/messages", m, m)
}

func (s *Store) ListRooms(ctx context.Context, limit int) ([]model.Room, error) {
	var rooms []model.Room
	if err := s.getJSON(ctx, "/api/rooms?limit="+strconv.Itoa(limit), &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	r := &model.Room{}
	if err := s.getJSON(ctx, "/api/rooms/"+url.PathEscape(id), r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) GetRoomByCode(ctx context.Context, code string) (*model.Room, error) {
	r := &model.Room{}
	if err := s.getJSON(ctx, "/api/rooms/code/"+url.PathEscape(code), r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) InsertRoom(ctx context.Context, r *model.Room) error {
	return s.sendJSON(ctx, http.MethodPost, "/api/rooms", r, r)
}

func (s *Store) GetPoll(ctx context.Context, id string) (*model.Poll, error) {
	p := &model.Poll{}
	if err := s.getJSON(ctx, "/api/polls/"+url.PathEscape(id), p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) InsertPoll(ctx context.Context, p *model.Poll) error {
	return s.sendJSON(ctx, http.MethodPost, "/api/polls", p, p)
}

func (s *Store) ListVotes(ctx context.Context, pollID string) ([]model.PollVote, error) {
	var votes []model.PollVote
	if err := s.getJSON(ctx, "/api/polls/"+url.PathEscape(pollID)+"/votes", &votes); err != nil {
		return nil, err
	}
	return votes, nil
}

func (s *Store) UpsertVote(ctx context.Context, v *model.PollVote) (*model.PollVote, error) {
	out := &model.PollVote{}
	if err := s.sendJSON(ctx, http.MethodPut, "/api/polls/"+url.PathEscape(v.PollID)+"/votes", v, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteVote(ctx context.Context, pollID, username string) error {
	path := "/api/polls/" + url.PathEscape(pollID) + "/votes/" + url.PathEscape(username)
	return s.sendJSON(ctx, http.MethodDelete, path, nil, nil)
}

// --- store.Store feeds ---

func (s *Store) SubscribeMessages(scope store.Scope, h realtime.Handler[model.Message]) (realtime.Subscription, error) {
	if err := s.acquireTopic(wire.TopicMessages); err != nil {
		return nil, err
	}
	// The firehose carries every scope; filter locally.
	sub := s.messages.Subscribe(func(m model.Message) bool { return m.RoomID == scope.RoomID }, h)
	return &topicSub{Subscription: sub, store: s, topic: wire.TopicMessages}, nil
}

func (s *Store) SubscribeRooms(h realtime.Handler[model.Room]) (realtime.Subscription, error) {
	if err := s.acquireTopic(wire.TopicRooms); err != nil {
		return nil, err
	}
	sub := s.rooms.Subscribe(nil, h)
	return &topicSub{Subscription: sub, store: s, topic: wire.TopicRooms}, nil
}

func (s *Store) SubscribeVotes(pollID string, h realtime.Handler[model.PollVote]) (realtime.Subscription, error) {
	topic := wire.VotesTopic(pollID)
	if err := s.acquireTopic(topic); err != nil {
		return nil, err
	}
	sub := s.votes.Subscribe(func(v model.PollVote) bool { return v.PollID == pollID }, h)
	return &topicSub{Subscription: sub, store: s, topic: topic}, nil
}
