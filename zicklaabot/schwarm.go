package zicklaabot

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/mb-14/gomarkov"
)

// fallbackPhrase is used when no markov corpus is configured but a
// reminder with empty text still needs delivery content.
const fallbackPhrase = "Keine Ahnung mehr, worum es ging!"

const msgSchwarmUnavailable = "Der Schwarm schweigt gerade."

// SentenceGenerator produces sentences from a markov chain trained on
// a line-per-sentence text corpus. It backs the `/schwarm` command and
// supplies fallback text for reminders saved without a message.
type SentenceGenerator struct {
	chain     *gomarkov.Chain
	order     int
	maxTokens int
	loaded    bool
	logger    *slog.Logger
	mu        sync.Mutex
}

// NewSentenceGenerator trains a chain from the configured corpus file.
// An empty CorpusPath yields an inactive generator whose Fallback
// returns a fixed phrase; a configured but unreadable corpus is an error.
func NewSentenceGenerator(
	config *MarkovConfig,
	logger *slog.Logger,
) (*SentenceGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &SentenceGenerator{
		order:     config.Order,
		maxTokens: config.MaxTokens,
		logger:    logger.With(loggerNameKey, "markov"),
	}

	if config.CorpusPath == "" {
		return g, nil
	}

	f, err := os.Open(config.CorpusPath)
	if err != nil {
		return g, fmt.Errorf("error opening markov corpus: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	chain := gomarkov.NewChain(config.Order)
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 {
			continue
		}
		chain.Add(tokens)
		lines++
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return g, fmt.Errorf("error reading markov corpus: %w", scanErr)
	}
	if lines == 0 {
		return g, fmt.Errorf("markov corpus %q is empty", config.CorpusPath)
	}

	g.chain = chain
	g.loaded = true
	g.logger.Info("markov corpus loaded", "lines", lines, "order", config.Order)
	return g, nil
}

// Loaded reports whether a corpus was trained.
func (g *SentenceGenerator) Loaded() bool {
	return g.loaded
}

// Sentence generates a single sentence, or "" when generation fails.
func (g *SentenceGenerator) Sentence() string {
	if !g.loaded {
		return ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	tokens := make([]string, 0, g.maxTokens+g.order)
	for i := 0; i < g.order; i++ {
		tokens = append(tokens, gomarkov.StartToken)
	}

	for len(tokens) < g.maxTokens+g.order {
		next, err := g.chain.Generate(tokens[len(tokens)-g.order:])
		if err != nil {
			g.logger.Warn("markov generation failed", "error", err)
			return ""
		}
		if next == gomarkov.EndToken {
			break
		}
		tokens = append(tokens, next)
	}

	return strings.Join(tokens[g.order:], " ")
}

// Fallback returns generated text for a reminder stored without any,
// retrying until the chain yields a non-empty sentence. Without a
// corpus it returns a fixed phrase.
func (g *SentenceGenerator) Fallback() string {
	if !g.loaded {
		return fallbackPhrase
	}
	for {
		if s := g.Sentence(); s != "" {
			return s
		}
	}
}

// handleSchwarmCommand responds to `/schwarm` with a generated sentence.
func (b *ZicklaaBot) handleSchwarmCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	if !b.generator.Loaded() {
		b.respondEphemeral(ctx, i, msgSchwarmUnavailable)
		return
	}

	sentence := b.generator.Sentence()
	if sentence == "" {
		b.respondEphemeral(ctx, i, msgSchwarmUnavailable)
		return
	}

	b.respondMessage(ctx, i, truncate(sentence, discordMaxMessageLength), 0)
}
