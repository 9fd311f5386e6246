package snipebot

import (
	"errors"
	"testing"
	"time"
)

func TestOutboundRequestValidation(t *testing.T) {
	t.Parallel()

	validTarget := OutboundTarget{
		Conversation: Conversation{
			ID:   "chan-1",
			Type: ConversationTypeChannel,
		},
	}

	tests := []struct {
		name    string
		request SendMessageRequest
		wantErr bool
	}{
		{
			name:    "text only",
			request: SendMessageRequest{Target: validTarget, Text: "hello"},
		},
		{
			name: "embed only",
			request: SendMessageRequest{
				Target: validTarget,
				Embed:  &Embed{Description: "deleted text", Color: 0xE74C3C},
			},
		},
		{
			name:    "neither text nor embed",
			request: SendMessageRequest{Target: validTarget, Text: "  "},
			wantErr: true,
		},
		{
			name:    "empty embed",
			request: SendMessageRequest{Target: validTarget, Embed: &Embed{Color: 1}},
			wantErr: true,
		},
		{
			name: "embed field without value",
			request: SendMessageRequest{
				Target: validTarget,
				Embed:  &Embed{Fields: []EmbedField{{Name: "Avant :"}}},
			},
			wantErr: true,
		},
		{
			name: "colour out of range",
			request: SendMessageRequest{
				Target: validTarget,
				Embed:  &Embed{Description: "x", Color: 0x1000000},
			},
			wantErr: true,
		},
		{
			name:    "missing conversation type",
			request: SendMessageRequest{Target: OutboundTarget{Conversation: Conversation{ID: "c"}}, Text: "x"},
			wantErr: true,
		},
		{
			name: "empty sink ref",
			request: SendMessageRequest{
				Target: OutboundTarget{Conversation: validTarget.Conversation, Sink: &SinkRef{}},
				Text:   "x",
			},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := testCase.request.Validate()
			if (err != nil) != testCase.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, testCase.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOutboundRequest) {
				t.Fatalf("error %v does not wrap ErrInvalidOutboundRequest", err)
			}
		})
	}
}

func TestOutboundTargetFromEvent(t *testing.T) {
	t.Parallel()

	event := &Event{
		ID:           "e1",
		Kind:         EventKindCommandReceived,
		OccurredAt:   time.Unix(1, 0),
		Platform:     PlatformDiscord,
		Source:       EventSource{ID: "discord-main"},
		Conversation: Conversation{ID: "chan-1", Type: ConversationTypeChannel},
	}

	target, err := OutboundTargetFromEvent(event)
	if err != nil {
		t.Fatalf("OutboundTargetFromEvent failed: %v", err)
	}
	if target.Conversation.ID != "chan-1" {
		t.Fatalf("conversation = %s, want chan-1", target.Conversation.ID)
	}
	if target.Sink == nil || target.Sink.Platform != PlatformDiscord || target.Sink.ID != "discord-main" {
		t.Fatalf("sink = %+v, want discord/discord-main", target.Sink)
	}

	if _, err := OutboundTargetFromEvent(nil); !errors.Is(err, ErrInvalidOutboundRequest) {
		t.Fatalf("nil event error = %v, want ErrInvalidOutboundRequest", err)
	}
}
