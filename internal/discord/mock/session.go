// Package mock provides test doubles for the discord package.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder records interaction responses and follow-ups for
// assertion in tests. It satisfies discord.Responder.
type InteractionResponder struct {
	mu sync.Mutex

	// RespondError is returned by InteractionRespond when set.
	RespondError error

	// FollowupError is returned by FollowupMessageCreate when set.
	FollowupError error

	// Responses holds every response passed to InteractionRespond.
	Responses []*discordgo.InteractionResponse

	// FollowUps holds every params struct passed to FollowupMessageCreate.
	FollowUps []*discordgo.WebhookParams
}

// NewInteractionResponder creates an empty recorder.
func NewInteractionResponder() *InteractionResponder {
	return &InteractionResponder{}
}

func (r *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RespondError != nil {
		return r.RespondError
	}
	r.Responses = append(r.Responses, resp)
	return nil
}

func (r *InteractionResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FollowupError != nil {
		return nil, r.FollowupError
	}
	r.FollowUps = append(r.FollowUps, data)
	return &discordgo.Message{Content: data.Content}, nil
}

// LastResponse returns the most recent response, or nil.
func (r *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Responses) == 0 {
		return nil
	}
	return r.Responses[len(r.Responses)-1]
}

// LastFollowUp returns the most recent follow-up, or nil.
func (r *InteractionResponder) LastFollowUp() *discordgo.WebhookParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.FollowUps) == 0 {
		return nil
	}
	return r.FollowUps[len(r.FollowUps)-1]
}

// Reset clears all recorded responses.
func (r *InteractionResponder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Responses = nil
	r.FollowUps = nil
}
