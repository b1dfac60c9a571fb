package flows

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/aretw0/arbor/pkg/structured"
)

// conversation describes one conversational flow: what the model is asked each turn
// and how the final output is produced.
type conversation struct {
	name  string
	turn  string
	final string
}

var analyzeConversation = conversation{
	name: FlowAnalyze,
	turn: `You are analyzing a software system together with a human.
Use the files and the known entities below. Ask one focused question at a time.`,
	final: `The human approved the analysis. Summarize the complete conversation as a final
analysis report in markdown: findings, open risks and next steps.`,
}

var contextConversation = conversation{
	name: FlowBuildContext,
	turn: `You are building a context document that another assistant will use to work on this
project. Ask the human about whatever the files and the known entities leave unclear.`,
	final: `The human approved the context. Write the final context document in markdown,
covering purpose, components, their relationships and conventions.`,
}

const replyFormat = `Answer with a single JSON object:
{"response": "what you concluded this turn",
 "question": "the next question for the human",
 "context": "notes worth keeping",
 "entities": [{"name": "", "type": "", "description": "", "tags": [], "properties": {}}],
 "relationships": [{"from": "", "to": "", "type": "", "properties": {}}]}`

// reply is the structured answer of a conversational turn.
type reply struct {
	Response      string                `mapstructure:"response"`
	Question      string                `mapstructure:"question"`
	Context       string                `mapstructure:"context"`
	Entities      []domain.Entity       `mapstructure:"entities"`
	Relationships []domain.Relationship `mapstructure:"relationships"`
}

// converse builds the node running the conversation state machine. Each execution is one
// PREPARE step: it either finishes the conversation (DONE) or suspends with the next question
// (AWAITING_INPUT). Resuming re-enters the node with the human answer in the input channel.
func (l *Library) converse(c conversation) graph.NodeFunc {
	return func(ctx context.Context, s domain.State) (graph.Result, error) {
		if l.model == nil {
			return graph.Result{}, domain.ErrNoModel
		}
		if err := l.syncMemory(s); err != nil {
			return graph.Result{}, err
		}
		history, err := History(s)
		if err != nil {
			return graph.Result{}, err
		}

		u := graph.Update{}
		var added []domain.Message
		if input := strings.TrimSpace(s.String(ChannelInput)); input != "" {
			msg := domain.Message{Role: domain.RoleHuman, Content: input}
			history = append(history, msg)
			added = append(added, msg)
			u[ChannelInput] = ""
		}

		if l.finished(history) {
			output, err := l.model.Complete(ctx, history, c.final, l.completion)
			if err != nil {
				return graph.Result{}, fmt.Errorf("final %s call: %w", c.name, err)
			}
			added = append(added, domain.Message{Role: domain.RoleAssistant, Content: output})
			u[ChannelHistory] = added
			u[ChannelOutput] = output
			u[ChannelResponse] = output
			u[ChannelQuestion] = ""
			l.logger.Info("Conversation finished", "flow", c.name, "turns", assistantTurns(history))
			return graph.Continue(u), nil
		}

		prompt, err := l.turnPrompt(c, s)
		if err != nil {
			return graph.Result{}, err
		}
		text, err := l.model.Complete(ctx, history, prompt, l.completion)
		if err != nil {
			return graph.Result{}, fmt.Errorf("%s turn: %w", c.name, err)
		}

		var r reply
		if err := structured.Decode(text, &r); err != nil {
			l.logger.Warn("Model reply is not structured, using it as the question", "flow", c.name, "err", err)
			r = reply{Question: strings.TrimSpace(text)}
		}
		question := r.Question
		if question == "" {
			question = r.Response
		}
		if question == "" {
			return graph.Result{}, fmt.Errorf("%s turn: %w", c.name, domain.ErrEmptyResponse)
		}

		// Memory is shared across threads, so it is only touched once the step can succeed.
		if len(r.Entities) > 0 || len(r.Relationships) > 0 {
			if rejected := l.memory.Merge(domain.Extraction{Entities: r.Entities, Relationships: r.Relationships}); rejected > 0 {
				l.logger.Warn("Model proposed relationships between unknown entities", "flow", c.name, "rejected", rejected)
			}
			if err := l.memoryUpdate(ctx, u); err != nil {
				return graph.Result{}, err
			}
		}

		added = append(added, domain.Message{Role: domain.RoleAssistant, Content: question})
		u[ChannelHistory] = added
		u[ChannelResponse] = r.Response
		u[ChannelQuestion] = question
		return graph.Suspend(question, u), nil
	}
}

// finished reports whether the conversation must end: the latest human message contains a
// termination phrase, or the turn bound is reached.
func (l *Library) finished(history []domain.Message) bool {
	if l.maxTurns > 0 && assistantTurns(history) >= l.maxTurns {
		return true
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != domain.RoleHuman {
			continue
		}
		return containsPhrase(history[i].Content, l.phrases)
	}
	return false
}

func containsPhrase(text string, phrases []string) bool {
	upper := strings.ToUpper(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(upper, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}

func assistantTurns(history []domain.Message) int {
	n := 0
	for _, m := range history {
		if m.Role == domain.RoleAssistant {
			n++
		}
	}
	return n
}

func (l *Library) turnPrompt(c conversation, s domain.State) (string, error) {
	files, err := Files(s)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(c.turn)
	sb.WriteString("\n\n")
	if len(files) > 0 {
		names := make([]string, 0, len(files))
		for name := range files {
			names = append(names, name)
		}
		sort.Strings(names)
		sb.WriteString("Files:\n")
		for _, name := range names {
			fmt.Fprintf(&sb, "--- %s ---\n%s\n", name, files[name])
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Known entities:\n")
	sb.WriteString(l.memory.Describe())
	sb.WriteString("\n\n")
	sb.WriteString(replyFormat)
	return sb.String(), nil
}
