// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/strangers-chat/strangers/session"
	"github.com/strangers-chat/strangers/wire"
)

// transcript prints chat lines. Styles apply only when the output is a
// terminal, so piped output stays plain text.
type transcript struct {
	mu     sync.Mutex
	out    io.Writer
	styled bool

	me       lipgloss.Style
	stranger lipgloss.Style
	system   lipgloss.Style
	notice   lipgloss.Style
	faint    lipgloss.Style
}

func newTranscript(out io.Writer) *transcript {
	styled := false
	if file, ok := out.(*os.File); ok {
		styled = term.IsTerminal(int(file.Fd()))
	}
	return &transcript{
		out:      out,
		styled:   styled,
		me:       lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		stranger: lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
		system:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true),
		notice:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		faint:    lipgloss.NewStyle().Faint(true),
	}
}

func (t *transcript) render(style lipgloss.Style, text string) string {
	if !t.styled {
		return text
	}
	return style.Render(text)
}

func (t *transcript) println(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, line)
}

func (t *transcript) info(format string, args ...any) {
	t.println(t.render(t.system, "* "+fmt.Sprintf(format, args...)))
}

// shortID is the message id prefix shown for /react and /edit.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatMessage renders one main chat message.
func (t *transcript) formatMessage(message session.Message, partner string, updated bool) string {
	if message.Sender == session.SenderSystem {
		return t.render(t.system, "* "+message.Payload)
	}

	var name string
	switch message.Sender {
	case session.SenderMe:
		name = t.render(t.me, "you")
	default:
		name = t.render(t.stranger, partner)
	}

	var b strings.Builder
	b.WriteString(t.render(t.faint, "["+shortID(message.ID)+"]"))
	b.WriteString(" ")
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(payloadText(message))

	var tags []string
	if message.Edited {
		tags = append(tags, "edited")
	}
	if message.Vanish {
		tags = append(tags, "vanish")
	}
	if updated && message.Sender == session.SenderMe && message.Status == session.StatusSeen {
		tags = append(tags, "seen")
	}
	if len(message.Reactions) > 0 {
		emoji := make([]string, len(message.Reactions))
		for i, reaction := range message.Reactions {
			emoji[i] = reaction.Emoji
		}
		tags = append(tags, strings.Join(emoji, ""))
	}
	if len(tags) > 0 {
		b.WriteString(" ")
		b.WriteString(t.render(t.faint, "("+strings.Join(tags, ", ")+")"))
	}
	return b.String()
}

func payloadText(message session.Message) string {
	switch message.Kind {
	case wire.DataImage:
		return fmt.Sprintf("[image, %d bytes]", len(message.Payload))
	case wire.DataAudio:
		return fmt.Sprintf("[voice message, %d bytes]", len(message.Payload))
	}
	return message.Payload
}

// show prints the line for one session event. Events with nothing to
// say print nothing.
func (t *transcript) show(event session.Event, partner string) {
	switch event.Kind {
	case session.EventModeChanged:
		switch event.Mode {
		case session.ModeSearching:
			t.info("Connecting to the lobby…")
		case session.ModeWaiting:
			t.info("Waiting for a stranger…")
		case session.ModeDisconnected:
			t.info("Chat ended. /next finds someone new.")
		}
	case session.EventMessageAdded:
		t.println(t.formatMessage(event.Message, partner, false))
	case session.EventMessageUpdated:
		t.println(t.formatMessage(event.Message, partner, true))
	case session.EventIndicatorsChanged:
		switch {
		case event.Indicators.Recording:
			t.println(t.render(t.faint, partner+" is recording…"))
		case event.Indicators.Typing:
			t.println(t.render(t.faint, partner+" is typing…"))
		}
	case session.EventDirectOpened:
		t.info("Direct connection to %s is open.", event.PeerID)
	case session.EventDirectClosed:
		t.info("Direct connection to %s closed.", event.PeerID)
	case session.EventDirectMessageReceived:
		t.println(t.render(t.stranger, "[dm "+event.PeerID+"]") + " " + payloadText(event.Message))
	case session.EventFriendRequestReceived:
		t.info("%s wants to be friends. /accept %s", event.Profile.DisplayName(event.PeerID), event.PeerID)
	case session.EventFriendAccepted:
		t.info("%s accepted your friend request.", event.Profile.DisplayName(event.PeerID))
	case session.EventNoticeChanged:
		if event.Notice.Text != "" {
			t.println(t.render(t.notice, "! "+event.Notice.Text))
		}
	case session.EventPresenceChanged:
		// Too chatty to print; /online lists the lobby.
	case session.EventBroadcastReceived:
		t.println(t.render(t.faint, "[lobby "+event.Broadcast.Sender+"]") + " " + event.Broadcast.Text)
	}
}

func (t *transcript) help() {
	names := make([]string, 0, len(commandUsage))
	for name := range commandUsage {
		names = append(names, name)
	}
	slices.Sort(names)
	t.info("Type to chat. Commands:")
	for _, name := range names {
		t.info("  /%s %s", name, commandUsage[name])
	}
}
