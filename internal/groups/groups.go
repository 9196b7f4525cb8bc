// Package groups broadcasts to named group channels: a channel directory in
// the store plus the fan-out send. Media is uploaded once to the transient
// store and sent by reference to every channel, and the upload is scheduled
// for deletion after a grace delay whether or not the sends succeeded.
package groups

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"opsdispatch/internal/assets"
	"opsdispatch/internal/eventbus"
	"opsdispatch/internal/format"
	"opsdispatch/internal/store"
	logx "opsdispatch/pkg/logx"
)

// ChannelsCollection is the store collection holding the channel directory.
const ChannelsCollection = "channels"

// Channel is one named group destination.
type Channel struct {
	ID      string
	Name    string
	Address string
}

// Media is an operator-attached file to broadcast alongside the text.
type Media struct {
	Filename    string
	ContentType string
	Content     io.Reader
}

// Sender is the gated two-phase sender shared with the other dispatchers.
type Sender interface {
	Send(ctx context.Context, destination string, msg format.ComposedMessage) error
	SendMedia(ctx context.Context, destination, mediaURL, filename string, msg format.ComposedMessage) error
}

// Uploader is the transient asset store slice the manager needs.
type Uploader interface {
	Upload(ctx context.Context, filename, contentType string, content io.Reader) (assets.Asset, error)
	ScheduleDelete(ref string, grace time.Duration) *time.Timer
}

type Config struct {
	// DeleteGrace is how long an uploaded asset survives after the
	// broadcast finishes.
	DeleteGrace time.Duration
}

type Manager struct {
	cfg       Config
	st        store.Store
	formatter *format.Formatter
	sender    Sender
	uploader  Uploader
	bus       eventbus.Bus
	log       logx.Logger
}

func New(cfg Config, st store.Store, formatter *format.Formatter, sender Sender, uploader Uploader, bus eventbus.Bus, log logx.Logger) *Manager {
	if cfg.DeleteGrace <= 0 {
		cfg.DeleteGrace = assets.DefaultDeleteGrace
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{cfg: cfg, st: st, formatter: formatter, sender: sender, uploader: uploader, bus: bus, log: log}
}

// ---- channel directory ----

func (m *Manager) PutChannel(ctx context.Context, ch Channel) error {
	if ch.ID == "" || ch.Address == "" {
		return errors.New("groups: channel needs an id and an address")
	}
	return m.st.Set(ctx, store.Join(ChannelsCollection, ch.ID), map[string]any{
		"name":    ch.Name,
		"address": ch.Address,
	})
}

func (m *Manager) DeleteChannel(ctx context.Context, id string) error {
	return m.st.Delete(ctx, store.Join(ChannelsCollection, id))
}

// Channels lists the directory in stable (path) order.
func (m *Manager) Channels(ctx context.Context) ([]Channel, error) {
	docs, err := m.st.Query(ctx, store.Query{Collection: ChannelsCollection})
	if err != nil {
		return nil, fmt.Errorf("groups: list channels: %w", err)
	}
	out := make([]Channel, 0, len(docs))
	for _, d := range docs {
		out = append(out, channelFromDoc(d))
	}
	return out, nil
}

func (m *Manager) channel(ctx context.Context, id string) (Channel, error) {
	d, err := m.st.Get(ctx, store.Join(ChannelsCollection, id))
	if err != nil {
		return Channel{}, fmt.Errorf("groups: channel %q: %w", id, err)
	}
	return channelFromDoc(d), nil
}

func channelFromDoc(d store.Doc) Channel {
	return Channel{
		ID:      path.Base(d.Path),
		Name:    d.String("name"),
		Address: d.String("address"),
	}
}

// ---- broadcasting ----

// Broadcast sends operator-authored text, with an optional attached file, to
// the given channels. The file is uploaded once and sent by reference; an
// upload failure aborts the whole broadcast before any send is attempted.
// Per-channel failures are collected into one combined error.
func (m *Manager) Broadcast(ctx context.Context, channelIDs []string, text string, media *Media) error {
	msg := m.formatter.Compose(ctx, text, true)

	mediaURL, filename := "", ""
	if media != nil {
		asset, err := m.uploader.Upload(ctx, media.Filename, media.ContentType, media.Content)
		if err != nil {
			return fmt.Errorf("groups: %w", err)
		}
		mediaURL, filename = asset.URL, asset.Filename
		defer m.uploader.ScheduleDelete(asset.Ref, m.cfg.DeleteGrace)
	}

	return m.fanOut(ctx, channelIDs, msg, mediaURL, filename)
}

// AnnounceEvent broadcasts an event's stored official announcement text and
// official media reference. The media already lives at a durable address, so
// nothing is uploaded and nothing is scheduled for deletion.
func (m *Manager) AnnounceEvent(ctx context.Context, eventPath string, channelIDs []string) error {
	d, err := m.st.Get(ctx, eventPath)
	if err != nil {
		return fmt.Errorf("groups: event %q: %w", eventPath, err)
	}
	text := d.String("announcement")
	if text == "" {
		text = d.String("title")
	}
	mediaURL := d.String("announcement_media")
	filename := ""
	if mediaURL != "" {
		filename = path.Base(mediaURL)
	}

	msg := m.formatter.Compose(ctx, text, true)
	return m.fanOut(ctx, channelIDs, msg, mediaURL, filename)
}

func (m *Manager) fanOut(ctx context.Context, channelIDs []string, msg format.ComposedMessage, mediaURL, filename string) error {
	var errs []error
	for _, id := range channelIDs {
		ch, err := m.channel(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if mediaURL != "" {
			err = m.sender.SendMedia(ctx, ch.Address, mediaURL, filename, msg)
		} else {
			err = m.sender.Send(ctx, ch.Address, msg)
		}
		if err != nil {
			m.log.Warn("group send failed", logx.String("channel", ch.Name), logx.Err(err))
			m.publish(eventbus.GroupFailed, ch.Name, err)
			errs = append(errs, fmt.Errorf("channel %s: %w", ch.Name, err))
			continue
		}
		m.publish(eventbus.GroupSent, ch.Name, nil)
	}
	return errors.Join(errs...)
}

func (m *Manager) publish(typ, channel string, err error) {
	if m.bus == nil {
		return
	}
	ev := eventbus.DispatchEvent{Kind: "group", Channel: channel, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	m.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
