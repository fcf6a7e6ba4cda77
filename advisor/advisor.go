package advisor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/GBurgardt/interactive-brokers/client"
)

// Proposal is the single concrete action an analysis boils down to. A HOLD
// proposal has an empty symbol and zero quantity.
type Proposal struct {
	Side     client.Side
	Symbol   string
	Quantity float64
	Reason   string
	Analysis string
}

func (p Proposal) Hold() bool { return p.Symbol == "" }

// askFunc sends one prompt to the model and returns its text reply.
type askFunc func(ctx context.Context, prompt string) (string, error)

// Advisor turns a portfolio snapshot plus scored headlines into one trade
// proposal. It only proposes; execution stays with the caller, behind an
// explicit confirmation.
type Advisor struct {
	logger *zap.SugaredLogger
	ask    askFunc
}

const systemInstruction = `You are a pragmatic, direct market analyst.
Given a portfolio and today's headlines, reply with exactly two sections:
<analysis>your plain-language read of the situation</analysis>
<action>one line: BUY <qty> <symbol>, SELL <qty> <symbol>, or HOLD, followed by a one-sentence reason</action>
Never propose spending more than the available cash, never propose selling shares the portfolio does not hold.`

func New(ctx context.Context, logger *zap.SugaredLogger, gc *genai.Client, model string) (*Advisor, error) {
	chat, err := gc.Chats.Create(ctx, model, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create advisor chat: %w", err)
	}
	return &Advisor{
		logger: logger,
		ask: func(ctx context.Context, prompt string) (string, error) {
			resp, err := chat.Send(ctx, &genai.Part{Text: prompt})
			if err != nil {
				return "", err
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
				return "", fmt.Errorf("empty model response")
			}
			return resp.Candidates[0].Content.Parts[0].Text, nil
		},
	}, nil
}

// Propose builds the prompt, asks the model once, and parses the action line.
func (a *Advisor) Propose(ctx context.Context, snapshot client.Snapshot, headlines []Headline) (Proposal, error) {
	var reply, err = a.ask(ctx, BuildPrompt(snapshot, headlines))
	if err != nil {
		return Proposal{}, fmt.Errorf("advisor: %w", err)
	}
	proposal, err := ParseProposal(reply)
	if err != nil {
		return Proposal{}, err
	}
	a.logger.Infow("proposal",
		"side", proposal.Side, "symbol", proposal.Symbol, "quantity", proposal.Quantity)
	return proposal, nil
}

// BuildPrompt renders the snapshot and headlines the way the analyst reads
// them: cash first, then holdings, then per-symbol news with sentiment marks.
func BuildPrompt(snapshot client.Snapshot, headlines []Headline) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PORTFOLIO\n")
	fmt.Fprintf(&b, "Net liquidation: %.2f USD\n", snapshot.Account.NetLiquidation)
	fmt.Fprintf(&b, "Available cash: %.2f USD\n", snapshot.Account.Cash())
	if len(snapshot.Positions) == 0 {
		b.WriteString("No open positions\n")
	}
	for _, p := range snapshot.Positions {
		fmt.Fprintf(&b, "- %v: %v shares @ %.2f\n", p.Symbol, p.Quantity, p.AvgCost)
	}

	b.WriteString("\nHEADLINES\n")
	if len(headlines) == 0 {
		b.WriteString("No recent headlines\n")
	}
	for _, h := range headlines {
		var mark = "="
		switch h.Sentiment {
		case SentimentPositive:
			mark = "+"
		case SentimentNegative:
			mark = "-"
		}
		if h.Strong {
			mark += mark
		}
		fmt.Fprintf(&b, "[%v] (%v) %v\n", h.Symbol, mark, h.Text)
	}
	return b.String()
}

var (
	analysisRe = regexp.MustCompile(`(?s)<analysis>(.*?)</analysis>`)
	actionRe   = regexp.MustCompile(`(?s)<action>(.*?)</action>`)
	tradeRe    = regexp.MustCompile(`(?i)\b(BUY|SELL)\s+(\d+(?:\.\d+)?)\s+(?:shares?\s+of\s+)?([A-Z]{1,6})\b`)
	holdRe     = regexp.MustCompile(`(?i)\bHOLD\b`)
)

// ParseProposal extracts the action from a model reply. An unparseable reply
// is an error, not a silent HOLD, so a drifting model surfaces loudly.
func ParseProposal(reply string) (Proposal, error) {
	var proposal Proposal
	if m := analysisRe.FindStringSubmatch(reply); m != nil {
		proposal.Analysis = strings.TrimSpace(m[1])
	}

	var action = reply
	if m := actionRe.FindStringSubmatch(reply); m != nil {
		action = m[1]
	}
	if m := tradeRe.FindStringSubmatch(action); m != nil {
		qty, err := strconv.ParseFloat(m[2], 64)
		if err != nil || qty <= 0 {
			return Proposal{}, fmt.Errorf("advisor proposed invalid quantity %q", m[2])
		}
		proposal.Side = client.Side(strings.ToUpper(m[1]))
		proposal.Quantity = qty
		proposal.Symbol = strings.ToUpper(m[3])
		proposal.Reason = strings.TrimSpace(action)
		return proposal, nil
	}
	if holdRe.MatchString(action) {
		proposal.Reason = strings.TrimSpace(action)
		return proposal, nil
	}
	return Proposal{}, fmt.Errorf("unrecognized advisor action: %q", strings.TrimSpace(action))
}
