package zicklaabot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	listTitle        = "Deine anstehenden Reminder"
	listFooterTmpl   = "Seite %d/%d • %d Reminder insgesamt"
	msgListEmpty     = "Du hast keine anstehenden Reminder."
	msgListExpired   = "Die Liste ist abgelaufen. Öffne sie mit `/remindme list` neu."
	msgListClosed    = "Liste geschlossen."
	listComponentPfx = "remindlist:"

	listActionPrev    = "remindlist:prev"
	listActionNext    = "remindlist:next"
	listActionRefresh = "remindlist:refresh"
	listActionClose   = "remindlist:close"

	// listSessionTTL bounds how long a pagination session stays
	// navigable. Sessions only hold pre-rendered strings, so expiry is
	// about staleness, not memory.
	listSessionTTL = 5 * time.Minute
)

// listSession is one user's pagination state: a snapshot of their
// reminders taken when the list was opened, the pages rendered from
// it, and a cursor. Navigation never touches storage.
//
// Interactions are handled on separate goroutines, so concurrent
// button presses on the same session are possible; mu guards pages
// and page.
type listSession struct {
	mu        sync.Mutex
	records   []Reminder
	pages     []string
	page      int
	createdAt time.Time
}

func (s *listSession) expired(now time.Time) bool {
	return now.Sub(s.createdAt) > listSessionTTL
}

type listSessionCache struct {
	mu       sync.Mutex
	sessions map[string]*listSession
}

func newListSessionCache() *listSessionCache {
	return &listSessionCache{sessions: map[string]*listSession{}}
}

func (c *listSessionCache) get(userID string) (*listSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[userID]
	return s, ok
}

func (c *listSessionCache) put(userID string, s *listSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[userID] = s
}

func (c *listSessionCache) remove(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, userID)
}

// buildListPages renders reminder lines and packs them greedily into
// pages that stay under the character budget. Rendering is
// deterministic for a fixed snapshot and a fixed now.
func buildListPages(
	records []Reminder,
	now time.Time,
	loc *time.Location,
	pageBudget int,
	textMaxChars int,
) []string {
	var pages []string
	var current strings.Builder

	for _, r := range records {
		text := r.Text
		if text == "" {
			text = "*(kein Text)*"
		} else {
			text = truncateEllipsis(text, textMaxChars)
		}
		line := fmt.Sprintf(
			"• **%s** (%s): %s\n",
			formatAbsolute(r.DueAt, loc),
			humanizeUntil(r.DueAt, now),
			text,
		)
		if current.Len() > 0 && current.Len()+len(line) > pageBudget {
			pages = append(pages, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		pages = append(pages, current.String())
	}
	return pages
}

func listComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Zurück",
					Style:    discordgo.SecondaryButton,
					CustomID: listActionPrev,
				},
				discordgo.Button{
					Label:    "Weiter",
					Style:    discordgo.SecondaryButton,
					CustomID: listActionNext,
				},
				discordgo.Button{
					Label:    "Neu laden",
					Style:    discordgo.PrimaryButton,
					CustomID: listActionRefresh,
				},
				discordgo.Button{
					Label:    "Schließen",
					Style:    discordgo.DangerButton,
					CustomID: listActionClose,
				},
			},
		},
	}
}

func (s *listSession) embed() *discordgo.MessageEmbed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &discordgo.MessageEmbed{
		Title:       listTitle,
		Description: s.pages[s.page],
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf(
				listFooterTmpl,
				s.page+1,
				len(s.pages),
				len(s.records),
			),
		},
	}
}

// handleRemindList opens a pagination session: one storage query, all
// pages rendered up front, navigation served from the cache.
func (b *ZicklaaBot) handleRemindList(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	user := getDiscordUser(i)
	if user == nil {
		b.respondEphemeral(ctx, i, b.config.Discord.ErrorMessage)
		return
	}

	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = b.logger
	}

	records, err := RemindersForOwner(ctx, b.writeDB, user.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error listing reminders", tint.Err(err))
		b.respondEphemeral(ctx, i, b.config.Discord.ErrorMessage)
		return
	}
	if len(records) == 0 {
		b.respondEphemeral(ctx, i, msgListEmpty)
		return
	}

	now := b.scheduler.now()
	session := &listSession{
		records:   records,
		createdAt: now,
		pages: buildListPages(
			records,
			now,
			b.timezone,
			b.config.Reminder.ListPageBudget,
			b.config.Reminder.ListTextMaxChars,
		),
	}
	b.listSessions.put(user.ID, session)

	respondErr := b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Flags:      discordgo.MessageFlagsEphemeral,
				Embeds:     []*discordgo.MessageEmbed{session.embed()},
				Components: listComponents(),
			},
		},
	)
	if respondErr != nil {
		logger.ErrorContext(ctx, "error responding with reminder list", tint.Err(respondErr))
	}
}

// handleListComponent serves the pagination buttons from the cached
// session. Only the refresh action re-renders pages (updating relative
// times); prev/next operate purely on pre-rendered content.
func (b *ZicklaaBot) handleListComponent(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	customID := i.MessageComponentData().CustomID
	if !strings.HasPrefix(customID, listComponentPfx) {
		return
	}

	user := getDiscordUser(i)
	if user == nil {
		return
	}

	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = b.logger
	}

	update := func(data *discordgo.InteractionResponseData) {
		err := b.discord.session.InteractionRespond(
			i.Interaction,
			&discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseUpdateMessage,
				Data: data,
			},
		)
		if err != nil {
			logger.ErrorContext(ctx, "error updating reminder list", tint.Err(err))
		}
	}

	if customID == listActionClose {
		b.listSessions.remove(user.ID)
		update(
			&discordgo.InteractionResponseData{
				Content:    msgListClosed,
				Embeds:     []*discordgo.MessageEmbed{},
				Components: []discordgo.MessageComponent{},
			},
		)
		return
	}

	now := b.scheduler.now()
	session, found := b.listSessions.get(user.ID)
	if !found || session.expired(now) {
		b.listSessions.remove(user.ID)
		update(
			&discordgo.InteractionResponseData{
				Content:    msgListExpired,
				Embeds:     []*discordgo.MessageEmbed{},
				Components: []discordgo.MessageComponent{},
			},
		)
		return
	}

	session.mu.Lock()
	switch customID {
	case listActionPrev:
		session.page = (session.page - 1 + len(session.pages)) % len(session.pages)
	case listActionNext:
		session.page = (session.page + 1) % len(session.pages)
	case listActionRefresh:
		// re-render the cached snapshot so relative times catch up;
		// no storage access
		session.pages = buildListPages(
			session.records,
			now,
			b.timezone,
			b.config.Reminder.ListPageBudget,
			b.config.Reminder.ListTextMaxChars,
		)
		if session.page >= len(session.pages) {
			session.page = len(session.pages) - 1
		}
	default:
		session.mu.Unlock()
		logger.WarnContext(ctx, "unknown list action", "custom_id", customID)
		return
	}
	session.mu.Unlock()

	update(
		&discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{session.embed()},
			Components: listComponents(),
		},
	)
}
