// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/strangers-chat/strangers/session"
	"github.com/strangers-chat/strangers/wire"
)

// command is one parsed input line. A line without a leading slash is
// a "say" command carrying the whole line.
type command struct {
	name string
	args []string
	text string
}

// commandUsage maps each slash command to its argument synopsis.
var commandUsage = map[string]string{
	"next":   "",
	"quit":   "",
	"leave":  "",
	"react":  "<message-id> <emoji>",
	"edit":   "<message-id> <text>",
	"vanish": "on|off",
	"online": "",
	"dm":     "<peer> <text>",
	"friend": "<peer>",
	"accept": "<peer>",
	"lobby":  "<text>",
	"help":   "",
}

// fixedArgs is the number of leading space-separated arguments a
// command takes before its free-text tail.
var fixedArgs = map[string]int{
	"react":  2,
	"edit":   1,
	"vanish": 1,
	"dm":     1,
	"friend": 1,
	"accept": 1,
}

// textRequired lists commands whose free-text tail must not be empty.
var textRequired = map[string]bool{
	"edit":  true,
	"dm":    true,
	"lobby": true,
}

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{name: "say", text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	if _, known := commandUsage[name]; !known {
		return command{}, fmt.Errorf("unknown command /%s (try /help)", name)
	}

	parsed := command{name: name}
	rest = strings.TrimSpace(rest)
	for range fixedArgs[name] {
		var arg string
		arg, rest, _ = strings.Cut(rest, " ")
		if arg == "" {
			return command{}, usageError(name)
		}
		parsed.args = append(parsed.args, arg)
		rest = strings.TrimSpace(rest)
	}
	parsed.text = rest
	if textRequired[name] && parsed.text == "" {
		return command{}, usageError(name)
	}
	if name == "vanish" && parsed.args[0] != "on" && parsed.args[0] != "off" {
		return command{}, usageError(name)
	}
	return parsed, nil
}

func usageError(name string) error {
	return fmt.Errorf("usage: /%s %s", name, commandUsage[name])
}

// errQuit ends the input loop.
var errQuit = errors.New("quit")

// execute runs cmd against client and writes feedback to out.
func execute(ctx context.Context, client *session.Client, out *transcript, cmd command) error {
	switch cmd.name {
	case "say":
		if cmd.text == "" {
			return nil
		}
		if _, ok := client.SendText(cmd.text); !ok {
			out.info("Not connected to anyone. Use /next to find a stranger.")
		}
	case "next":
		out.info("Looking for a stranger…")
		return client.FindNewStranger(ctx)
	case "leave":
		client.Disconnect()
	case "quit":
		return errQuit
	case "react":
		if !client.React(resolveMessageID(client.Messages(), cmd.args[0]), cmd.args[1]) {
			out.info("Could not react to %s.", cmd.args[0])
		}
	case "edit":
		if !client.Edit(resolveMessageID(client.Messages(), cmd.args[0]), cmd.text) {
			out.info("Could not edit %s. Only your own sent text can be edited.", cmd.args[0])
		}
	case "vanish":
		client.SetVanishMode(cmd.args[0] == "on")
	case "online":
		peers := client.OnlinePeers()
		if len(peers) == 0 {
			out.info("Nobody else is in the lobby.")
			return nil
		}
		for _, peer := range peers {
			out.info("%s  %s  %s", peer.PeerID, peer.Status, peer.Profile.DisplayName(""))
		}
	case "dm":
		return sendDirect(ctx, client, out, cmd.args[0], cmd.text)
	case "friend":
		if !client.SendFriendRequest(cmd.args[0]) {
			out.info("No open connection to %s. Use /dm first.", cmd.args[0])
		}
	case "accept":
		if !client.AcceptFriendRequest(cmd.args[0]) {
			out.info("No pending friend request from %s.", cmd.args[0])
		}
	case "lobby":
		if err := client.Broadcast(ctx, cmd.text); err != nil {
			out.info("Could not send to the lobby: %v", err)
		}
	case "help":
		out.help()
	}
	return nil
}

// sendDirect dials peer when needed. A connection that is still
// opening cannot carry the message yet.
func sendDirect(ctx context.Context, client *session.Client, out *transcript, peer, text string) error {
	connection, err := client.DialDirect(ctx, peer)
	if err != nil {
		out.info("Could not reach %s: %v", peer, err)
		return nil
	}
	if !connection.Open() {
		out.info("Connecting to %s. Send again once the connection opens.", peer)
		return nil
	}
	if _, ok := client.SendDirect(peer, wire.DataText, text); !ok {
		out.info("Sending to %s failed.", peer)
	}
	return nil
}

// resolveMessageID expands the short id prefix shown in the transcript.
// An ambiguous or unknown prefix is returned unchanged.
func resolveMessageID(messages []session.Message, prefix string) string {
	match := ""
	for _, message := range messages {
		if message.ID == prefix {
			return prefix
		}
		if strings.HasPrefix(message.ID, prefix) {
			if match != "" {
				return prefix
			}
			match = message.ID
		}
	}
	if match == "" {
		return prefix
	}
	return match
}
