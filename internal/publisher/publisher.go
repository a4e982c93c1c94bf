// Package publisher posts formatted deals into the Matrix room, routing
// them into per-category threads when threading is enabled.
package publisher

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"pastel-deals/internal/formatter"
	"pastel-deals/internal/models"
	"pastel-deals/internal/storage"
)

// ThreadCategory names one per-category conversation thread.
type ThreadCategory string

const (
	ThreadGameDeals    ThreadCategory = "game_deals"
	ThreadDLCDeals     ThreadCategory = "dlc_deals"
	ThreadEpicFree     ThreadCategory = "epic_free"
	ThreadNonGameDeals ThreadCategory = "non_game_deals"
)

type threadMeta struct {
	Label       string
	Description string
}

var threadMetas = map[ThreadCategory]threadMeta{
	ThreadGameDeals: {
		Label:       "🎮 Game Deals",
		Description: "PC game deals from CheapShark and IsThereAnyDeal",
	},
	ThreadDLCDeals: {
		Label:       "🧩 DLC Deals",
		Description: "DLC and expansion deals from IsThereAnyDeal",
	},
	ThreadEpicFree: {
		Label:       "🆓 Epic Free Games",
		Description: "Weekly free games from the Epic Games Store",
	},
	ThreadNonGameDeals: {
		Label:       "📦 Non-Game Deals",
		Description: "Software, courses, and other non-game deals",
	},
}

// CategoryFor maps a deal to its thread category.
func CategoryFor(deal models.Deal) ThreadCategory {
	if deal.Source == models.SourceEpic {
		return ThreadEpicFree
	}
	switch deal.Category {
	case models.CategoryGame:
		return ThreadGameDeals
	case models.CategoryDLC:
		return ThreadDLCDeals
	default:
		return ThreadNonGameDeals
	}
}

// RoomSender is the slice of the Matrix client the publisher needs.
type RoomSender interface {
	SendMessage(ctx context.Context, roomID, body, formattedBody, threadRoot string) (string, error)
}

// Options tune publishing behaviour.
type Options struct {
	RoomID     string
	UseThreads bool
}

// Publisher posts each new deal as an individual message. With threading
// enabled, the first post of a category lazily creates the thread root and
// records it; later posts reply under that root. With threading disabled,
// everything is posted top-level and non-game content is dropped.
type Publisher struct {
	sender  RoomSender
	threads storage.ThreadRootStore
	opts    Options
	logger  zerolog.Logger
}

// New constructs a Publisher.
func New(sender RoomSender, threads storage.ThreadRootStore, opts Options, logger zerolog.Logger) *Publisher {
	return &Publisher{
		sender:  sender,
		threads: threads,
		opts:    opts,
		logger:  logger.With().Str("component", "publisher").Logger(),
	}
}

// Publish posts one deal and returns the resulting event id. A dropped deal
// (category other, threading disabled) returns "" with no error.
func (p *Publisher) Publish(ctx context.Context, deal models.Deal, msg formatter.Message) (string, error) {
	category := CategoryFor(deal)

	if !p.opts.UseThreads {
		if category == ThreadNonGameDeals {
			p.logger.Debug().Str("title", deal.Title).Msg("dropping non-game deal; threading disabled")
			return "", nil
		}
		return p.sender.SendMessage(ctx, p.opts.RoomID, msg.Body, msg.FormattedBody, "")
	}

	root, err := p.ensureThreadRoot(ctx, category)
	if err != nil {
		return "", err
	}
	return p.sender.SendMessage(ctx, p.opts.RoomID, msg.Body, msg.FormattedBody, root)
}

func (p *Publisher) ensureThreadRoot(ctx context.Context, category ThreadCategory) (string, error) {
	root, err := p.threads.ThreadRoot(ctx, string(category))
	if err != nil {
		return "", fmt.Errorf("look up thread root: %w", err)
	}
	if root != "" {
		return root, nil
	}

	meta := threadMetas[category]
	msg := formatter.ThreadRoot(meta.Label, meta.Description)
	eventID, err := p.sender.SendMessage(ctx, p.opts.RoomID, msg.Body, msg.FormattedBody, "")
	if err != nil {
		return "", fmt.Errorf("post thread root: %w", err)
	}
	if err := p.threads.SetThreadRoot(ctx, string(category), eventID); err != nil {
		return "", fmt.Errorf("record thread root: %w", err)
	}

	p.logger.Info().Str("category", string(category)).Str("event_id", eventID).Msg("thread root created")
	return eventID, nil
}
