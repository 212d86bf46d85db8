package zicklaabot

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// stubSessionHandler implements DiscordSessionHandler for command
// handler tests, recording every interaction response.
type stubSessionHandler struct {
	mu sync.Mutex

	responses              []*discordgo.InteractionResponse
	edits                  []*discordgo.WebhookEdit
	sent                   []string
	interactionResponseMsg *discordgo.Message
}

func (s *stubSessionHandler) Open() error  { return nil }
func (s *stubSessionHandler) Close() error { return nil }

func (s *stubSessionHandler) ChannelMessageSend(
	_ string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, message)
	return &discordgo.Message{}, nil
}

func (s *stubSessionHandler) ChannelMessageSendReply(
	_ string,
	content string,
	_ *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, content)
	return &discordgo.Message{}, nil
}

func (s *stubSessionHandler) ChannelMessageSendEmbed(
	_ string,
	_ *discordgo.MessageEmbed,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{}, nil
}

func (s *stubSessionHandler) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: channelID}, nil
}

func (s *stubSessionHandler) ChannelMessage(
	_ string,
	messageID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{ID: messageID}, nil
}

func (s *stubSessionHandler) UserChannelCreate(
	recipientID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (s *stubSessionHandler) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return commands, nil
}

func (s *stubSessionHandler) UpdateCustomStatus(string) error { return nil }

func (s *stubSessionHandler) AddHandler(any) func() { return func() {} }

func (s *stubSessionHandler) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
	return nil
}

func (s *stubSessionHandler) InteractionResponse(
	_ *discordgo.Interaction,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	if s.interactionResponseMsg != nil {
		return s.interactionResponseMsg, nil
	}
	return &discordgo.Message{ID: "confirmation-1"}, nil
}

func (s *stubSessionHandler) InteractionResponseEdit(
	_ *discordgo.Interaction,
	edit *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, edit)
	return &discordgo.Message{}, nil
}

func (s *stubSessionHandler) SetHTTPClient(*http.Client) {}

func (s *stubSessionHandler) SetIdentify(discordgo.Identify) {}

func (s *stubSessionHandler) SetLogLevel(slog.Level) error { return nil }

func (s *stubSessionHandler) GatewayBot(
	_ ...discordgo.RequestOption,
) (*discordgo.GatewayBotResponse, error) {
	return &discordgo.GatewayBotResponse{}, nil
}

func (s *stubSessionHandler) lastResponse(t testing.TB) *discordgo.InteractionResponse {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.responses)
	return s.responses[len(s.responses)-1]
}

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestBot(t testing.TB) (*ZicklaaBot, *stubSessionHandler) {
	t.Helper()
	db := newTestDB(t)
	session := &stubSessionHandler{}

	cfg := DefaultConfig()
	cfg.Timezone = "UTC"

	b := &ZicklaaBot{
		config:       cfg,
		writeDB:      db,
		logger:       testLogger(),
		timezone:     time.UTC,
		listSessions: newListSessionCache(),
	}
	b.discord = &Discord{
		config:  cfg.Discord,
		logger:  testLogger(),
		session: session,
	}
	b.generator = &SentenceGenerator{
		order:     cfg.Markov.Order,
		maxTokens: cfg.Markov.MaxTokens,
		logger:    testLogger(),
	}
	b.scheduler = &Scheduler{
		config:   cfg.Reminder,
		db:       db,
		session:  session,
		fallback: b.generator.Fallback,
		timezone: b.timezone,
		logger:   testLogger(),
		limiter:  rate.NewLimiter(rate.Inf, 1),
		now:      func() time.Time { return testNow },
	}
	return b, session
}

func remindInteraction(
	sub string,
	opts []*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction-1",
			Type:      discordgo.InteractionApplicationCommand,
			ChannelID: "channel-1",
			Member: &discordgo.Member{
				User: &discordgo.User{ID: "user-1", Username: "tester"},
			},
			Data: discordgo.ApplicationCommandInteractionData{
				Name: DiscordSlashCommandRemind,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{
						Name:    sub,
						Type:    discordgo.ApplicationCommandOptionSubCommand,
						Options: opts,
					},
				},
			},
		},
	}
}

func stringOption(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func intOption(name string, value float64) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionInteger,
		Value: value,
	}
}

func TestResolveDueTime(t *testing.T) {
	now := testNow

	testCases := []struct {
		name          string
		resolved      time.Time
		expected      time.Time
		rolledForward bool
		expectErr     bool
	}{
		{
			name:     "future time unchanged",
			resolved: now.Add(time.Hour),
			expected: now.Add(time.Hour),
		},
		{
			name:     "now is not past",
			resolved: now,
			expected: now,
		},
		{
			name:          "one minute ago rolls forward a day",
			resolved:      now.Add(-time.Minute),
			expected:      now.Add(-time.Minute).Add(24 * time.Hour),
			rolledForward: true,
		},
		{
			name:          "just under tolerance rolls forward",
			resolved:      now.Add(-rollForwardTolerance + time.Second),
			expected:      now.Add(-rollForwardTolerance + time.Second).Add(24 * time.Hour),
			rolledForward: true,
		},
		{
			name:      "exactly tolerance is rejected",
			resolved:  now.Add(-rollForwardTolerance),
			expectErr: true,
		},
		{
			name:      "a day ago is rejected",
			resolved:  now.Add(-24 * time.Hour),
			expectErr: true,
		},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				dueAt, rolled, err := resolveDueTime(tc.resolved, now)
				if tc.expectErr {
					require.ErrorIs(t, err, errPastTime)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.expected, dueAt)
				assert.Equal(t, tc.rolledForward, rolled)
			},
		)
	}
}

func TestHandleRemindIn(t *testing.T) {
	b, session := newTestBot(t)
	ctx := context.Background()

	i := remindInteraction(
		remindSubcommandIn,
		[]*discordgo.ApplicationCommandInteractionDataOption{
			intOption(remindOptionAmount, 10),
			stringOption(remindOptionUnit, "minuten"),
			stringOption(remindOptionText, "Kaffee kochen"),
		},
	)
	b.handleRemindCommand(ctx, i)

	resp := session.lastResponse(t)
	require.NotNil(t, resp.Data)
	assert.Contains(t, resp.Data.Content, "✅")
	assert.Contains(t, resp.Data.Content, "10 Minuten")
	assert.Zero(t, resp.Data.Flags, "confirmation should be public")

	reminders, err := RemindersForOwner(ctx, b.writeDB, "user-1")
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, "Kaffee kochen", reminders[0].Text)
	assert.Equal(t, testNow.Unix()+600, reminders[0].DueAt)
	assert.Equal(t, "channel-1", reminders[0].ChannelID)
	assert.Equal(t, "confirmation-1", reminders[0].ConfirmationMessageID)
}

func TestHandleRemindInBadUnit(t *testing.T) {
	b, session := newTestBot(t)
	ctx := context.Background()

	i := remindInteraction(
		remindSubcommandIn,
		[]*discordgo.ApplicationCommandInteractionDataOption{
			intOption(remindOptionAmount, 10),
			stringOption(remindOptionUnit, "parsecs"),
		},
	)
	b.handleRemindCommand(ctx, i)

	resp := session.lastResponse(t)
	assert.Equal(t, msgBadFormat, resp.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	reminders, err := RemindersForOwner(ctx, b.writeDB, "user-1")
	require.NoError(t, err)
	assert.Empty(t, reminders)
}

func TestHandleRemindInRejectsHugeAmount(t *testing.T) {
	b, session := newTestBot(t)
	ctx := context.Background()

	// 400 billion years overflows int64 seconds; the due time would
	// wrap around to the distant past
	i := remindInteraction(
		remindSubcommandIn,
		[]*discordgo.ApplicationCommandInteractionDataOption{
			intOption(remindOptionAmount, 400_000_000_000),
			stringOption(remindOptionUnit, "jahre"),
		},
	)
	b.handleRemindCommand(ctx, i)

	resp := session.lastResponse(t)
	assert.Equal(t, msgBadFormat, resp.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	reminders, err := RemindersForOwner(ctx, b.writeDB, "user-1")
	require.NoError(t, err)
	assert.Empty(t, reminders)
}

func TestHandleRemindAt(t *testing.T) {
	b, session := newTestBot(t)
	ctx := context.Background()

	// 15:30 today, later than the mocked noon
	i := remindInteraction(
		remindSubcommandAt,
		[]*discordgo.ApplicationCommandInteractionDataOption{
			stringOption(remindOptionTime, "15:30"),
			stringOption(remindOptionText, "Meeting"),
		},
	)
	b.handleRemindCommand(ctx, i)

	resp := session.lastResponse(t)
	assert.Contains(t, resp.Data.Content, "✅")
	assert.Contains(t, resp.Data.Content, "01.09.2026 15:30")

	reminders, err := RemindersForOwner(ctx, b.writeDB, "user-1")
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	expected := time.Date(2026, 9, 1, 15, 30, 0, 0, time.UTC).Unix()
	assert.Equal(t, expected, reminders[0].DueAt)
}

func TestHandleRemindAtRejectsDuration(t *testing.T) {
	b, session := newTestBot(t)
	ctx := context.Background()

	i := remindInteraction(
		remindSubcommandAt,
		[]*discordgo.ApplicationCommandInteractionDataOption{
			stringOption(remindOptionTime, "in 10 minuten"),
		},
	)
	b.handleRemindCommand(ctx, i)

	resp := session.lastResponse(t)
	assert.Equal(t, msgUseRemindIn, resp.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	reminders, err := RemindersForOwner(ctx, b.writeDB, "user-1")
	require.NoError(t, err)
	assert.Empty(t, reminders)
}

func TestHandleRemindAtRollsForward(t *testing.T) {
	b, session := newTestBot(t)
	ctx := context.Background()

	// 11:55 is five minutes before the mocked noon: within tolerance,
	// so it means tomorrow morning
	i := remindInteraction(
		remindSubcommandAt,
		[]*discordgo.ApplicationCommandInteractionDataOption{
			stringOption(remindOptionTime, "11:55"),
		},
	)
	b.handleRemindCommand(ctx, i)

	resp := session.lastResponse(t)
	assert.Contains(t, resp.Data.Content, "02.09.2026 11:55")
	assert.Contains(t, resp.Data.Content, "morgen")

	reminders, err := RemindersForOwner(ctx, b.writeDB, "user-1")
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	expected := time.Date(2026, 9, 2, 11, 55, 0, 0, time.UTC).Unix()
	assert.Equal(t, expected, reminders[0].DueAt)
}

func TestHandleRemindAtRejectsDistantPast(t *testing.T) {
	b, session := newTestBot(t)
	ctx := context.Background()

	i := remindInteraction(
		remindSubcommandAt,
		[]*discordgo.ApplicationCommandInteractionDataOption{
			stringOption(remindOptionTime, "01.01.2020 10:00"),
		},
	)
	b.handleRemindCommand(ctx, i)

	resp := session.lastResponse(t)
	assert.Equal(t, msgPastTime, resp.Data.Content)

	reminders, err := RemindersForOwner(ctx, b.writeDB, "user-1")
	require.NoError(t, err)
	assert.Empty(t, reminders)
}

func TestHandleRemindAtBadInput(t *testing.T) {
	b, session := newTestBot(t)
	ctx := context.Background()

	i := remindInteraction(
		remindSubcommandAt,
		[]*discordgo.ApplicationCommandInteractionDataOption{
			stringOption(remindOptionTime, "irgendwann mal"),
		},
	)
	b.handleRemindCommand(ctx, i)

	resp := session.lastResponse(t)
	assert.Equal(t, msgBadFormat, resp.Data.Content)
}

func TestHandleRemindList(t *testing.T) {
	b, session := newTestBot(t)
	ctx := context.Background()

	t.Run(
		"empty", func(t *testing.T) {
			i := remindInteraction(remindSubcommandList, nil)
			b.handleRemindCommand(ctx, i)

			resp := session.lastResponse(t)
			assert.Equal(t, msgListEmpty, resp.Data.Content)
			assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
		},
	)

	require.NoError(
		t, InsertReminder(
			ctx, b.writeDB, &Reminder{
				OwnerID:   "user-1",
				Text:      "Blumen gießen",
				DueAt:     testNow.Unix() + 3600,
				ChannelID: "channel-1",
			},
		),
	)

	t.Run(
		"with reminders", func(t *testing.T) {
			i := remindInteraction(remindSubcommandList, nil)
			b.handleRemindCommand(ctx, i)

			resp := session.lastResponse(t)
			require.Len(t, resp.Data.Embeds, 1)
			assert.Equal(t, listTitle, resp.Data.Embeds[0].Title)
			assert.Contains(t, resp.Data.Embeds[0].Description, "Blumen gießen")
			assert.NotEmpty(t, resp.Data.Components)

			_, found := b.listSessions.get("user-1")
			assert.True(t, found)
		},
	)
}

func componentInteraction(customID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "component-1",
			Type:      discordgo.InteractionMessageComponent,
			ChannelID: "channel-1",
			Member: &discordgo.Member{
				User: &discordgo.User{ID: "user-1", Username: "tester"},
			},
			Data: discordgo.MessageComponentInteractionData{
				CustomID:      customID,
				ComponentType: discordgo.ButtonComponent,
			},
		},
	}
}

func TestHandleListComponentNavigation(t *testing.T) {
	b, session := newTestBot(t)
	ctx := context.Background()

	// enough reminders for multiple pages at a small budget
	b.config.Reminder.ListPageBudget = 300
	for i := 0; i < 20; i++ {
		require.NoError(
			t, InsertReminder(
				ctx, b.writeDB, &Reminder{
					OwnerID:   "user-1",
					Text:      "Eintrag",
					DueAt:     testNow.Unix() + int64(i+1)*600,
					ChannelID: "channel-1",
				},
			),
		)
	}

	b.handleRemindCommand(ctx, remindInteraction(remindSubcommandList, nil))
	listSess, found := b.listSessions.get("user-1")
	require.True(t, found)
	require.Greater(t, len(listSess.pages), 1)

	b.handleListComponent(ctx, componentInteraction(listActionNext))
	assert.Equal(t, 1, listSess.page)

	b.handleListComponent(ctx, componentInteraction(listActionPrev))
	assert.Equal(t, 0, listSess.page)

	// previous from the first page wraps to the last
	b.handleListComponent(ctx, componentInteraction(listActionPrev))
	assert.Equal(t, len(listSess.pages)-1, listSess.page)

	resp := session.lastResponse(t)
	assert.Equal(t, discordgo.InteractionResponseUpdateMessage, resp.Type)
}

func TestHandleListComponentConcurrentPresses(t *testing.T) {
	b, _ := newTestBot(t)
	ctx := context.Background()

	b.config.Reminder.ListPageBudget = 300
	for i := 0; i < 20; i++ {
		require.NoError(
			t, InsertReminder(
				ctx, b.writeDB, &Reminder{
					OwnerID:   "user-1",
					Text:      "Eintrag",
					DueAt:     testNow.Unix() + int64(i+1)*600,
					ChannelID: "channel-1",
				},
			),
		)
	}

	b.handleRemindCommand(ctx, remindInteraction(remindSubcommandList, nil))
	listSess, found := b.listSessions.get("user-1")
	require.True(t, found)
	require.Greater(t, len(listSess.pages), 1)

	// interactions arrive on separate goroutines; hammer one session
	// with mixed presses the way rapid clicking would
	actions := []string{
		listActionNext, listActionPrev, listActionRefresh,
		listActionNext, listActionNext, listActionPrev,
		listActionRefresh, listActionNext,
	}
	var wg sync.WaitGroup
	for _, action := range actions {
		wg.Add(1)
		go func(customID string) {
			defer wg.Done()
			b.handleListComponent(ctx, componentInteraction(customID))
		}(action)
	}
	wg.Wait()

	listSess.mu.Lock()
	defer listSess.mu.Unlock()
	assert.GreaterOrEqual(t, listSess.page, 0)
	assert.Less(t, listSess.page, len(listSess.pages))
}

func TestHandleListComponentRefresh(t *testing.T) {
	b, _ := newTestBot(t)
	ctx := context.Background()

	require.NoError(
		t, InsertReminder(
			ctx, b.writeDB, &Reminder{
				OwnerID:   "user-1",
				Text:      "Eintrag",
				DueAt:     testNow.Unix() + 3600,
				ChannelID: "channel-1",
			},
		),
	)

	b.handleRemindCommand(ctx, remindInteraction(remindSubcommandList, nil))
	listSess, found := b.listSessions.get("user-1")
	require.True(t, found)
	before := listSess.pages[0]
	assert.Contains(t, before, "1 Stunde")

	// a few minutes pass; refresh re-renders relative times from the
	// cached snapshot
	b.scheduler.now = func() time.Time { return testNow.Add(3 * time.Minute) }
	b.handleListComponent(ctx, componentInteraction(listActionRefresh))
	assert.Contains(t, listSess.pages[0], "57 Minuten")
}

func TestHandleListComponentClose(t *testing.T) {
	b, session := newTestBot(t)
	ctx := context.Background()

	require.NoError(
		t, InsertReminder(
			ctx, b.writeDB, &Reminder{
				OwnerID:   "user-1",
				Text:      "Eintrag",
				DueAt:     testNow.Unix() + 3600,
				ChannelID: "channel-1",
			},
		),
	)

	b.handleRemindCommand(ctx, remindInteraction(remindSubcommandList, nil))
	_, found := b.listSessions.get("user-1")
	require.True(t, found)

	b.handleListComponent(ctx, componentInteraction(listActionClose))
	_, found = b.listSessions.get("user-1")
	assert.False(t, found)

	resp := session.lastResponse(t)
	assert.Equal(t, msgListClosed, resp.Data.Content)
	assert.Empty(t, resp.Data.Components)
}

func TestHandleListComponentExpired(t *testing.T) {
	b, session := newTestBot(t)
	ctx := context.Background()

	require.NoError(
		t, InsertReminder(
			ctx, b.writeDB, &Reminder{
				OwnerID:   "user-1",
				Text:      "Eintrag",
				DueAt:     testNow.Unix() + 3600,
				ChannelID: "channel-1",
			},
		),
	)

	b.handleRemindCommand(ctx, remindInteraction(remindSubcommandList, nil))

	b.scheduler.now = func() time.Time { return testNow.Add(listSessionTTL + time.Minute) }
	b.handleListComponent(ctx, componentInteraction(listActionNext))

	resp := session.lastResponse(t)
	assert.Equal(t, msgListExpired, resp.Data.Content)

	_, found := b.listSessions.get("user-1")
	assert.False(t, found)
}
