package main

import (
	"context"

	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/provider"
)

// echoProvider stands in for a real model wire client (Responses API or
// Chat Completions), which the spec treats as an external collaborator
// this module never implements. It lets exec/resume exercise the full
// turn engine end to end without a network dependency: it streams back a
// single assistant message that echoes the last user item.
type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) Models() []provider.Model {
	return []provider.Model{{ID: "echo-1", ContextWindow: 1 << 20, SupportsTools: true}}
}

func (echoProvider) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	ch := make(chan provider.Event, 1)

	last := "(no input)"
	for i := len(req.Items) - 1; i >= 0; i-- {
		if req.Items[i].Kind == protocol.KindUserMessage {
			last = req.Items[i].Text
			break
		}
	}

	go func() {
		defer close(ch)
		select {
		case ch <- provider.Event{
			Kind: provider.EventItem,
			Item: protocol.ResponseItem{Kind: protocol.KindAssistantMessage, Text: "echo: " + last},
		}:
		case <-ctx.Done():
			return
		}
		select {
		case ch <- provider.Event{Kind: provider.EventCompleted}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}
