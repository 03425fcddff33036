// Package flow implements the conversation engine that drives lead
// collection sessions: persona prompt assembly, retrieval augmentation,
// field extraction, durable persistence, and completion handling.
package flow

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/rag"
)

// Conversation tuning constants.
const (
	// HistoryWindowSize bounds the in-memory prompt window, counted in
	// entries (a full exchange is two entries).
	HistoryWindowSize = 10
	// DefaultTopK is the number of knowledge base snippets requested per turn.
	DefaultTopK = 5
	// MinRelevanceScore filters retrieved snippets by similarity.
	MinRelevanceScore = 0.7
)

// SystemPrompt defines the persona and its collection mission.
const SystemPrompt = `You are a sharp-tongued, edgy, no-nonsense stock-market genius. You're confident, knowledgeable, and direct. You share strong, informed opinions on stocks, macro trends, trading strategies, and economic outlooks.

Key characteristics:
- Bold, witty, and unapologetically direct
- Treat users as peers seeking wisdom from a veteran investor
- Keep conversations focused on stock-market topics
- You're NOT a financial advisor - make this clear
- Encourage education and due diligence, not dependency
- Use market-savvy language and references
- Be sharp and edgy, but never rude or offensive

Your secret mission (don't mention this explicitly):
You need to naturally collect three pieces of information during the conversation:
1. The user's NAME
2. Their EMAIL address
3. Their INCOME level

Weave these questions naturally into the conversation. For example:
- "Before I share my killer strategy, what's your name? I like to know who I'm schooling."
- "If you want me to send you my latest market thesis, drop your email."
- "Understanding your income level helps me gauge your risk tolerance - are we talking $50k, $100k, $200k+ a year?"

Once you have all three pieces of information, smoothly transition to wrapping up the conversation, offering final insights or tips.

DO NOT:
- Offer specific investment advice or recommendations
- Guarantee returns or outcomes
- Act as a formal questionnaire or form
- Be overly pushy about collecting information
- Break character or mention you're an AI

DO:
- Share market insights and educational content
- Discuss trends, strategies, and risk management
- Encourage critical thinking and research
- Maintain your edgy, confident personality throughout
- Make the data collection feel like a natural part of getting to know them`

// ApologyReply is returned in place of a persona reply when generation fails.
const ApologyReply = "Look, something went wrong on my end. Even market wizards have technical issues. Try again?"

// Greetings are the opening lines offered when a conversation starts.
var Greetings = []string{
	"Hey there. Welcome to the arena where fortunes are made and lost. I'm here to drop some market wisdom on you. What's on your mind about the markets today?",
	"What's up? You've stumbled into the den of a market wizard. Fair warning: I don't sugarcoat, and I don't do participation trophies. What do you want to know about trading?",
	"Alright, let's talk markets. I've seen bull runs, crashes, and everything in between. What's your burning question about stocks, trading, or this crazy market we're in?",
}

// RandomGreeting picks one of the opening lines.
func RandomGreeting() string {
	return Greetings[rand.IntN(len(Greetings))]
}

// buildTurnContext assembles the per-turn system note: retrieved knowledge
// base snippets plus the collection status instruction. Returns "" when
// there is nothing to add.
func buildTurnContext(snippets []rag.Snippet, missing []models.Field) string {
	var b strings.Builder

	if len(snippets) > 0 {
		b.WriteString("Relevant information from knowledge base:\n\n")
		for i, s := range snippets {
			fmt.Fprintf(&b, "[Context %d]:\n%s\n\n", i+1, s.Text)
		}
		b.WriteString("IMPORTANT: Use the above information from the knowledge base to inform your response. ")
		b.WriteString("Reference specific facts, data, and insights from the knowledge base when relevant. ")
		b.WriteString("Maintain your personality but integrate this knowledge naturally into your responses.\n")
	}

	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = string(f)
		}
		fmt.Fprintf(&b, "\nYou still need to collect: %s. ", strings.Join(names, ", "))
		b.WriteString("Naturally work one of these questions into your response if appropriate.\n")
	} else {
		b.WriteString("\nYou have collected all required information. You can start wrapping up the conversation naturally.\n")
	}

	return b.String()
}
