package platforms

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Discord posts to a fixed channel. The session is REST-only; no gateway
// connection is opened.
type Discord struct {
	session   *discordgo.Session
	channelID string
}

func NewDiscord(botToken, channelID string) (*Discord, error) {
	dg, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{session: dg, channelID: channelID}, nil
}

func (d *Discord) Post(ctx context.Context, message string, image []byte, files [][]byte) (string, error) {
	send := &discordgo.MessageSend{Content: message}

	if image != nil {
		send.Files = append(send.Files, &discordgo.File{
			Name:   "status.png",
			Reader: bytes.NewReader(image),
		})
	}
	for i, f := range files {
		send.Files = append(send.Files, &discordgo.File{
			Name:   fmt.Sprintf("thumb-%d.png", i+1),
			Reader: bytes.NewReader(f),
		})
	}

	msg, err := d.session.ChannelMessageSendComplex(d.channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		if restErr, ok := err.(*discordgo.RESTError); ok && restErr.Response != nil {
			code := restErr.Response.StatusCode
			if code >= 400 && code < 500 && code != 429 {
				return "", Permanent(fmt.Errorf("discord post: %w", err))
			}
		}
		return "", fmt.Errorf("discord post: %w", err)
	}
	if strings.TrimSpace(msg.ID) == "" {
		return "", fmt.Errorf("discord post: empty message id")
	}
	return msg.ID, nil
}
