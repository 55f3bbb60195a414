package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flamechat/internal/chat"
	"github.com/flamechat/internal/config"
	"github.com/flamechat/internal/logger"
	"github.com/flamechat/internal/mention"
	"github.com/flamechat/internal/model"
	"github.com/flamechat/internal/reply"
	"github.com/flamechat/internal/session"
	"github.com/flamechat/internal/store"
	"github.com/flamechat/internal/store/remote"
)

const opTimeout = 10 * time.Second

// app wires the sync engine to a line-based terminal. One scope is active at
// a time; switching rooms tears the previous scope down and opens the next.
type app struct {
	st       *remote.Store
	sess     *session.Session
	username string

	dir      *chat.RoomDirectory
	msgs     *chat.MessageStore
	presence *chat.PresenceTracker
	polls    *chat.PollVoteCoordinator

	scope     store.Scope
	printed   int
	scopeDone chan struct{}
}

func main() {
	logger.SetPrefix("client")
	cfg := config.Load()

	statePath := cfg.StateFile
	if statePath == "" {
		var err error
		statePath, err = session.DefaultPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "state path: %v\n", err)
			os.Exit(1)
		}
	}
	sess, err := session.Load(statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session: %v\n", err)
		os.Exit(1)
	}

	in := bufio.NewScanner(os.Stdin)
	username := sess.Username()
	for username == "" {
		fmt.Print("choose a username: ")
		if !in.Scan() {
			return
		}
		name := strings.TrimSpace(in.Text())
		if name == "" {
			continue
		}
		if err := sess.SetUsername(name); err != nil {
			fmt.Printf("save username: %v\n", err)
			continue
		}
		username = name
	}

	st, err := remote.New(cfg.GatewayURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to %s: %v\n", cfg.GatewayURL, err)
		os.Exit(1)
	}
	defer st.Close()

	a := &app{st: st, sess: sess, username: username}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	a.dir = chat.NewRoomDirectory(st)
	if err := a.dir.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "load rooms: %v\n", err)
		os.Exit(1)
	}
	a.polls = chat.NewPollVoteCoordinator(st, username)
	defer a.polls.Close()

	if err := a.enterScope(ctx, store.GlobalScope, cfg.GlobalHistoryLimit); err != nil {
		fmt.Fprintf(os.Stderr, "open global chat: %v\n", err)
		os.Exit(1)
	}
	defer a.leaveScope()

	fmt.Printf("connected to %s as %s. Type /help for commands\n", cfg.GatewayURL, username)
	a.inputLoop(in, cfg)
}

// enterScope opens the message feed and presence of one scope.
func (a *app) enterScope(ctx context.Context, scope store.Scope, limit int) error {
	a.scope = scope
	a.printed = 0

	a.msgs = chat.NewMessageStore(a.st, scope)
	a.msgs.SetOnUpdate(a.printNew)
	if err := a.msgs.Open(ctx, limit); err != nil {
		return err
	}

	a.presence = chat.NewPresenceTracker(a.st, scope)
	if err := a.presence.Join(ctx, a.username); err != nil {
		a.msgs.Close()
		return err
	}

	a.scopeDone = make(chan struct{})
	go a.watchDisconnect(a.msgs.Disconnected(), a.scopeDone)
	return nil
}

func (a *app) leaveScope() {
	if a.scopeDone != nil {
		close(a.scopeDone)
		a.scopeDone = nil
	}
	if a.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		a.presence.Leave(ctx)
		cancel()
		a.presence = nil
	}
	if a.msgs != nil {
		a.msgs.Close()
		a.msgs = nil
	}
}

func (a *app) watchDisconnect(ch <-chan struct{}, done <-chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case <-ch:
		fmt.Println("\n! realtime connection lost, restart the client to reconnect")
	case <-done:
	}
}

// printNew renders messages appended since the last call. The engine's
// callback is serialized, so printed needs no lock.
func (a *app) printNew() {
	snap := a.msgs.Snapshot()
	for ; a.printed < len(snap); a.printed++ {
		a.printMessage(a.printed, snap[a.printed])
	}
}

func (a *app) printMessage(idx int, m model.Message) {
	ts := m.CreatedAt.Local().Format("15:04")
	switch m.Type {
	case model.MessageTypePoll:
		fmt.Printf("[%d] %s %s started a poll: %s (/votes %d to see results)\n", idx, ts, m.Username, m.Content, idx)
	case model.MessageTypeImage, model.MessageTypeDocument:
		fmt.Printf("[%d] %s %s sent %s (%s)\n", idx, ts, m.Username, m.FileName, m.FileURL)
	default:
		if target, body := reply.Decode(m.Content); target != "" {
			fmt.Printf("[%d] %s %s (replying to %s): %s\n", idx, ts, m.Username, a.describeTarget(target), body)
			return
		}
		fmt.Printf("[%d] %s %s: %s\n", idx, ts, m.Username, m.Content)
	}
}

func (a *app) describeTarget(id string) string {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	target, err := a.msgs.Resolve(ctx, id)
	if err != nil {
		return "an earlier message"
	}
	_, body := reply.Decode(target.Content)
	if len(body) > 30 {
		body = body[:30] + "…"
	}
	return fmt.Sprintf("%s: %q", target.Username, body)
}

func (a *app) inputLoop(in *bufio.Scanner, cfg *config.Config) {
	for {
		if !in.Scan() {
			return
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			a.send(chat.Draft{Username: a.username, Content: line})
			continue
		}

		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		switch cmd {
		case "/help":
			printHelp()
		case "/quit":
			return
		case "/rooms":
			a.cmdRooms()
		case "/create":
			a.cmdCreate(rest, cfg)
		case "/join":
			a.cmdJoin(rest, cfg)
		case "/leave":
			a.cmdLeave(cfg)
		case "/who":
			fmt.Printf("online: %s\n", strings.Join(a.presence.Roster(), ", "))
		case "/reply":
			a.cmdReply(rest)
		case "/poll":
			a.cmdPoll(rest)
		case "/vote":
			a.cmdVote(rest)
		case "/unvote":
			a.cmdUnvote(rest)
		case "/votes":
			a.cmdVotes(rest)
		case "/stats":
			st := a.msgs.Stats()
			fmt.Printf("%d polls, %d photos, %d documents\n", st.Polls, st.Photos, st.Docs)
		case "/mention":
			for _, s := range mention.Suggest(rest, a.presence.Roster(), 6) {
				fmt.Printf("@%s\n", s)
			}
		default:
			fmt.Printf("unknown command %s (/help lists commands)\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Print(`commands:
  /rooms                    list rooms
  /create <name>            create a room (prints its join code)
  /join <code>              join a room by code
  /leave                    return to the global chat
  /who                      who is online here
  /reply <n> <text>         reply to message n
  /poll <q> | <opt> | <opt> start a poll
  /vote <n> <option>        vote on poll message n
  /unvote <n>               withdraw your vote
  /votes <n>                show poll results
  /stats                    room content counters
  /mention <prefix>         suggest usernames
  /quit
`)
}

func (a *app) send(d chat.Draft) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := a.msgs.Send(ctx, d); err != nil {
		fmt.Printf("send failed: %v\n", err)
	}
}

func (a *app) cmdRooms() {
	rooms := a.dir.Rooms()
	if len(rooms) == 0 {
		fmt.Println("no rooms yet, /create <name> to start one")
		return
	}
	for _, r := range rooms {
		joined := " "
		if a.sess.Joined(r.ID) {
			joined = "*"
		}
		fmt.Printf("%s %s (by %s)\n", joined, r.Name, r.CreatedBy)
	}
}

func (a *app) cmdCreate(name string, cfg *config.Config) {
	if name == "" {
		fmt.Println("usage: /create <name>")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	r, err := a.dir.CreateRoom(ctx, name, a.username)
	if err != nil {
		fmt.Printf("create failed: %v\n", err)
		return
	}
	if err := a.sess.MarkJoined(r.ID); err != nil {
		logger.Errorf("mark joined: %v", err)
	}
	fmt.Printf("room %q created, join code %s\n", r.Name, r.Code)
	a.switchTo(store.RoomScope(r.ID), cfg.RoomHistoryLimit)
}

func (a *app) cmdJoin(code string, cfg *config.Config) {
	if code == "" {
		fmt.Println("usage: /join <code>")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	r, err := a.dir.JoinByCode(ctx, "", code)
	if errors.Is(err, chat.ErrBadRoomCode) {
		fmt.Println("that code doesn't open any room")
		return
	}
	if err != nil {
		fmt.Printf("join failed: %v\n", err)
		return
	}
	if err := a.sess.MarkJoined(r.ID); err != nil {
		logger.Errorf("mark joined: %v", err)
	}
	fmt.Printf("joined %q\n", r.Name)
	a.switchTo(store.RoomScope(r.ID), cfg.RoomHistoryLimit)
}

func (a *app) cmdLeave(cfg *config.Config) {
	if a.scope.IsGlobal() {
		fmt.Println("already in the global chat")
		return
	}
	a.switchTo(store.GlobalScope, cfg.GlobalHistoryLimit)
	fmt.Println("back in the global chat")
}

func (a *app) switchTo(scope store.Scope, limit int) {
	a.leaveScope()
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := a.enterScope(ctx, scope, limit); err != nil {
		fmt.Printf("open scope: %v\n", err)
	}
}

func (a *app) messageAt(arg string) (*model.Message, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return nil, false
	}
	snap := a.msgs.Snapshot()
	if n < 0 || n >= len(snap) {
		return nil, false
	}
	return &snap[n], true
}

func (a *app) cmdReply(rest string) {
	arg, text, _ := strings.Cut(rest, " ")
	text = strings.TrimSpace(text)
	target, ok := a.messageAt(arg)
	if !ok || text == "" {
		fmt.Println("usage: /reply <n> <text>")
		return
	}
	a.send(chat.Draft{Username: a.username, Content: text, ReplyToID: target.ID})
}

func (a *app) cmdPoll(rest string) {
	parts := strings.Split(rest, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 3 || parts[0] == "" {
		fmt.Println("usage: /poll <question> | <option> | <option> [| ...]")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := a.polls.CreatePoll(ctx, a.scope, parts[0], parts[1:]); err != nil {
		fmt.Printf("poll failed: %v\n", err)
	}
}

// pollFor resolves a poll-type message reference and makes sure the poll is
// watched before any vote operation.
func (a *app) pollFor(arg string) (*model.Poll, bool) {
	m, ok := a.messageAt(arg)
	if !ok || m.PollID == "" {
		fmt.Println("that message is not a poll")
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := a.polls.WatchPoll(ctx, m.PollID); err != nil {
		fmt.Printf("load poll: %v\n", err)
		return nil, false
	}
	p, err := a.polls.Poll(m.PollID)
	if err != nil {
		fmt.Printf("load poll: %v\n", err)
		return nil, false
	}
	return p, true
}

func (a *app) cmdVote(rest string) {
	arg, optArg, _ := strings.Cut(rest, " ")
	p, ok := a.pollFor(arg)
	if !ok {
		return
	}
	optIdx, err := strconv.Atoi(strings.TrimSpace(optArg))
	if err != nil || optIdx < 1 || optIdx > len(p.Options) {
		fmt.Printf("usage: /vote <n> <1..%d>\n", len(p.Options))
		for i, opt := range p.Options {
			fmt.Printf("  %d. %s\n", i+1, opt.Text)
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	switch err := a.polls.CastVote(ctx, p.ID, p.Options[optIdx-1].ID); {
	case errors.Is(err, chat.ErrVoteInFlight):
		fmt.Println("previous vote still in flight, try again")
	case errors.Is(err, chat.ErrPollClosed):
		fmt.Println("this poll is closed")
	case err != nil:
		fmt.Printf("vote failed: %v\n", err)
	default:
		fmt.Printf("voted for %q\n", p.Options[optIdx-1].Text)
	}
}

func (a *app) cmdUnvote(rest string) {
	p, ok := a.pollFor(strings.TrimSpace(rest))
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := a.polls.RevokeVote(ctx, p.ID); err != nil {
		fmt.Printf("unvote failed: %v\n", err)
		return
	}
	fmt.Println("vote withdrawn")
}

func (a *app) cmdVotes(rest string) {
	p, ok := a.pollFor(strings.TrimSpace(rest))
	if !ok {
		return
	}
	tally, err := a.polls.Tally(p.ID)
	if err != nil {
		fmt.Printf("tally: %v\n", err)
		return
	}
	selected, _ := a.polls.Selection(p.ID)
	fmt.Printf("%s: %d vote(s)\n", p.Question, tally.Total)
	for _, opt := range tally.Options {
		marker := " "
		if opt.OptionID == selected {
			marker = ">"
		}
		voters := ""
		if len(opt.Voters) > 0 {
			voters = " (" + strings.Join(opt.Voters, ", ") + ")"
		}
		fmt.Printf("%s %s: %d%% (%d)%s\n", marker, opt.Text, opt.Percent, opt.Count, voters)
	}
}
