// Package movecontent copies the media of one channel into another,
// oldest message first, a few messages per lot.
package movecontent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"modbot/internal/apperr"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const Command = "movecontent"

// pageSize is the most messages Discord returns per history request.
const pageSize = 100

var allowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"video/mp4",
	"video/webm",
	"audio/mpeg",
	"audio/ogg",
}

type Discord interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// HTTPClient downloads attachments from the CDN.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	MessagesPerLot int
	LotDelay       time.Duration
	// TimePerFile only feeds the estimate shown to the moderator.
	TimePerFile time.Duration
	// PagesPerSecond bounds history requests.
	PagesPerSecond int
}

func DefaultOptions() Options {
	return Options{
		MessagesPerLot: 4,
		LotDelay:       3 * time.Second,
		TimePerFile:    2 * time.Second,
		PagesPerSecond: 15,
	}
}

type Stage int

const (
	StageFetch Stage = iota
	StageFilter
	StageCount
	StagePlan
	StageSend
	StageDone
)

// Progress is reported after every stage and every lot sent.
type Progress struct {
	Stage     Stage
	Messages  int
	WithFiles int
	Files     int
	Lots      int
	Lot       int
	ETA       time.Time
}

type Mover struct {
	discord Discord
	client  HTTPClient
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func New(discord Discord, client HTTPClient, opts Options, logger *zap.Logger) *Mover {
	if opts.MessagesPerLot <= 0 {
		opts.MessagesPerLot = DefaultOptions().MessagesPerLot
	}
	if opts.PagesPerSecond <= 0 {
		opts.PagesPerSecond = DefaultOptions().PagesPerSecond
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Mover{discord: discord, client: client, opts: opts, logger: logger.Named("movecontent"), now: time.Now}
}

// CheckChannel accepts text, announcement and thread channels.
func CheckChannel(channel *discordgo.Channel) error {
	if channel == nil {
		return apperr.Userf(apperr.NotFound, "I could not find that channel!")
	}
	switch channel.Type {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread:
		return nil
	}
	return apperr.Userf(apperr.TypeError, "<#%s> is not a text channel or a thread!", channel.ID)
}

// Move copies every allowed attachment of origin into destination. report
// may be nil.
func (m *Mover) Move(ctx context.Context, originID, destinationID string, report func(Progress)) (Progress, error) {
	if report == nil {
		report = func(Progress) {}
	}
	if originID == destinationID {
		return Progress{}, apperr.Userf(apperr.InvalidValue, "The origin and the destination must be different channels!")
	}
	logger := m.logger.With(zap.String("origin", originID), zap.String("destination", destinationID))

	var p Progress
	report(p)
	messages, err := m.fetchAll(ctx, originID)
	if err != nil {
		return p, err
	}
	p.Messages = len(messages)
	p.Stage = StageFilter
	report(p)

	withFiles := filterMedia(messages)
	p.WithFiles = len(withFiles)
	p.Stage = StageCount
	report(p)

	p.Files = countFiles(withFiles)
	p.Stage = StagePlan
	report(p)

	p.Lots = Lots(len(withFiles), m.opts.MessagesPerLot)
	p.ETA = m.estimate(p.Files, p.Lots)
	p.Stage = StageSend
	report(p)

	for lot := 0; lot < p.Lots; lot++ {
		start := lot * m.opts.MessagesPerLot
		end := min(start+m.opts.MessagesPerLot, len(withFiles))
		for _, msg := range withFiles[start:end] {
			if err := m.repost(ctx, destinationID, msg); err != nil {
				return p, err
			}
		}
		p.Lot = lot + 1
		report(p)
		if p.Lot < p.Lots {
			if err := sleep(ctx, m.opts.LotDelay); err != nil {
				return p, err
			}
		}
	}

	p.Stage = StageDone
	report(p)
	logger.Info("content moved", zap.Int("messages", p.WithFiles), zap.Int("files", p.Files), zap.Int("lots", p.Lots))
	return p, nil
}

// fetchAll walks the history backwards and returns it oldest first.
func (m *Mover) fetchAll(ctx context.Context, channelID string) ([]*discordgo.Message, error) {
	limiter := rate.NewLimiter(rate.Limit(m.opts.PagesPerSecond), m.opts.PagesPerSecond)
	var all []*discordgo.Message
	before := ""
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, apperr.Wrap(err, apperr.Internal, apperr.TimeOut, "The history fetch was interrupted!")
		}
		page, err := m.discord.ChannelMessages(channelID, pageSize, before, "", "")
		if err != nil {
			return nil, apperr.Wrap(err, apperr.External, apperr.Other, "An error occurred while fetching the messages!")
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		before = page[len(page)-1].ID
	}
	slices.Reverse(all)
	return all, nil
}

func filterMedia(messages []*discordgo.Message) []*discordgo.Message {
	var out []*discordgo.Message
	for _, msg := range messages {
		for _, att := range msg.Attachments {
			if slices.Contains(allowedTypes, att.ContentType) {
				out = append(out, msg)
				break
			}
		}
	}
	return out
}

func countFiles(messages []*discordgo.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Attachments)
	}
	return total
}

// Lots is the number of lots needed for total items, perLot at a time.
func Lots(total, perLot int) int {
	if total <= 0 || perLot <= 0 {
		return 0
	}
	return (total + perLot - 1) / perLot
}

// estimate is zero when there is nothing to send.
func (m *Mover) estimate(files, lots int) time.Time {
	if files == 0 {
		return time.Time{}
	}
	d := time.Duration(files)*m.opts.TimePerFile + time.Duration(lots)*m.opts.LotDelay
	return m.now().Add(d).Truncate(time.Second)
}

// repost sends the attachments of one message as a single message.
// Attachments without a content type are skipped.
func (m *Mover) repost(ctx context.Context, channelID string, msg *discordgo.Message) error {
	files := make([]*discordgo.File, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		if att.ContentType == "" {
			m.logger.Warn("attachment without content type skipped", zap.String("message_id", msg.ID), zap.String("attachment", att.Filename))
			continue
		}
		data, err := m.download(ctx, att.URL)
		if err != nil {
			return err
		}
		files = append(files, &discordgo.File{Name: att.Filename, ContentType: att.ContentType, Reader: data})
	}
	if len(files) == 0 {
		return nil
	}
	if _, err := m.discord.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Files: files}); err != nil {
		return apperr.Wrap(err, apperr.External, apperr.NotSent, "An error occurred while sending the message!")
	}
	return nil
}

// download buffers the whole file in memory.
func (m *Mover) download(ctx context.Context, url string) (io.Reader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, apperr.InvalidValue, "An attachment has a broken url!")
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.External, apperr.Other, "An error occurred while downloading the file!")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Wrap(fmt.Errorf("status %s", resp.Status), apperr.External, apperr.Other, "An error occurred while downloading the file!")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.External, apperr.Other, "An error occurred while downloading the file!")
	}
	return bytes.NewReader(body), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return apperr.Wrap(ctx.Err(), apperr.Internal, apperr.TimeOut, "The move was interrupted!")
	case <-timer.C:
		return nil
	}
}
