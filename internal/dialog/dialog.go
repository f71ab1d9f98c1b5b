package dialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"modbot/internal/apperr"

	"github.com/bwmarrin/discordgo"
)

// Waiter routes incoming DMs to whoever is waiting for an answer from that
// user in that channel.
type Waiter struct {
	mu      sync.Mutex
	pending map[string]chan string
}

func NewWaiter() *Waiter {
	return &Waiter{pending: make(map[string]chan string)}
}

type Pending struct {
	waiter  *Waiter
	key     string
	answers chan string
	once    sync.Once
}

// Expect starts listening before the question goes out so a fast answer is
// not lost. Only one conversation per user and channel may be open.
func (w *Waiter) Expect(userID, channelID string) (*Pending, error) {
	key := userID + "|" + channelID
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.pending[key]; busy {
		return nil, apperr.Userf(apperr.BlockedAction, "Finish answering my previous question first!")
	}
	answers := make(chan string, 4)
	w.pending[key] = answers
	return &Pending{waiter: w, key: key, answers: answers}, nil
}

// Next blocks until an answer arrives or ctx is done.
func (p *Pending) Next(ctx context.Context) (string, error) {
	select {
	case answer := <-p.answers:
		return answer, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", apperr.Userf(apperr.TimeOut, "You took too long to answer!")
		}
		return "", apperr.Wrap(ctx.Err(), apperr.Internal, apperr.CanceledAction, "conversation canceled")
	}
}

func (p *Pending) Close() {
	p.once.Do(func() {
		p.waiter.mu.Lock()
		if current, ok := p.waiter.pending[p.key]; ok && current == p.answers {
			delete(p.waiter.pending, p.key)
		}
		p.waiter.mu.Unlock()
	})
}

// Deliver hands a message to a waiting conversation. It reports whether
// anybody was waiting for it.
func (w *Waiter) Deliver(msg *discordgo.MessageCreate) bool {
	if msg == nil || msg.Message == nil || msg.Author == nil || msg.Author.Bot || msg.GuildID != "" {
		return false
	}
	key := msg.Author.ID + "|" + msg.ChannelID
	w.mu.Lock()
	answers, ok := w.pending[key]
	w.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case answers <- msg.Content:
	default:
	}
	return true
}

// OnMessageCreate is the gateway handler feeding Deliver.
func (w *Waiter) OnMessageCreate(_ *discordgo.Session, msg *discordgo.MessageCreate) {
	w.Deliver(msg)
}

// Sender is the part of *discordgo.Session used to talk to users.
type Sender interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Prompt struct {
	Question   string
	TooLong    string
	Canceled   string
	CancelWord string
	MaxLength  int
	Attempts   int
	Timeout    time.Duration
}

func (p Prompt) withDefaults() Prompt {
	if p.CancelWord == "" {
		p.CancelWord = "cancel"
	}
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Timeout <= 0 {
		p.Timeout = 2 * time.Minute
	}
	return p
}

// Ask sends prompt.Question by DM and returns the first acceptable answer.
func Ask(ctx context.Context, sender Sender, waiter *Waiter, userID string, prompt Prompt) (string, error) {
	prompt = prompt.withDefaults()
	channel, err := sender.UserChannelCreate(userID)
	if err != nil {
		return "", apperr.Wrap(err, apperr.External, apperr.NotSent, "open DM channel")
	}
	pending, err := waiter.Expect(userID, channel.ID)
	if err != nil {
		return "", err
	}
	defer pending.Close()

	if _, err := sender.ChannelMessageSend(channel.ID, prompt.Question); err != nil {
		return "", apperr.Wrap(err, apperr.External, apperr.NotSent, "send DM question")
	}

	for attempt := 0; attempt < prompt.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, prompt.Timeout)
		answer, err := pending.Next(attemptCtx)
		cancel()
		if err != nil {
			return "", err
		}
		answer = strings.TrimSpace(answer)
		if strings.EqualFold(answer, prompt.CancelWord) {
			if prompt.Canceled != "" {
				_, _ = sender.ChannelMessageSend(channel.ID, prompt.Canceled)
			}
			return "", apperr.Userf(apperr.CanceledAction, "The conversation was canceled.")
		}
		if answer == "" {
			continue
		}
		if prompt.MaxLength > 0 && len([]rune(answer)) > prompt.MaxLength {
			if prompt.TooLong != "" {
				_, _ = sender.ChannelMessageSend(channel.ID, prompt.TooLong)
			}
			continue
		}
		return answer, nil
	}
	return "", apperr.Userf(apperr.InvalidValue, "No acceptable answer was given.")
}
