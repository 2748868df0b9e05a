// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/strangers-chat/strangers/lib/config"
	"github.com/strangers-chat/strangers/lib/schema"
	"github.com/strangers-chat/strangers/messaging"
	"github.com/strangers-chat/strangers/presence"
	"github.com/strangers-chat/strangers/session"
	"github.com/strangers-chat/strangers/transport"
	"github.com/strangers-chat/strangers/wire"
)

// backend is the network a client runs on: how it reaches peers and
// where the lobby lives.
type backend struct {
	provider transport.Provider
	presence presence.Channel
	close    func()
}

// startMatrixBackend logs in to the homeserver, joins the lobby room and
// builds a WebRTC provider signaling through that room.
func startMatrixBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	matrix, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Lobby.Homeserver,
		Logger:        logger.With("component", "matrix"),
	})
	if err != nil {
		return nil, err
	}

	matrixSession, err := signIn(ctx, matrix, cfg.Lobby)
	if err != nil {
		return nil, fmt.Errorf("signing in to %s: %w", cfg.Lobby.Homeserver, err)
	}
	// A resumed token belongs to the user and is never logged out.
	created := cfg.Lobby.AccessToken == ""

	roomID, err := joinLobbyRoom(ctx, matrixSession, cfg.Lobby.Room)
	if err != nil {
		if created {
			logoutQuietly(matrixSession, logger)
		}
		return nil, err
	}
	logger.Info("joined lobby room",
		"room", roomID,
		"user", matrixSession.UserID(),
		"device", matrixSession.DeviceID(),
	)

	var turn *messaging.TURNCredentialsResponse
	if cfg.ICE.UseHomeserverTURN {
		turn, err = matrixSession.TURNCredentials(ctx)
		if err != nil {
			// Direct and STUN-assisted connections still work.
			logger.Warn("homeserver TURN credentials unavailable", "error", err)
			turn = nil
		}
	}

	channel, err := presence.NewMatrixChannel(presence.MatrixConfig{
		Session:           matrixSession,
		RoomID:            roomID,
		Logger:            logger,
		PollInterval:      cfg.Lobby.PollInterval,
		HeartbeatInterval: cfg.Lobby.HeartbeatInterval,
		StaleAfter:        cfg.Lobby.StaleAfter,
	})
	if err != nil {
		if created {
			logoutQuietly(matrixSession, logger)
		}
		return nil, err
	}

	provider := &transport.WebRTCProvider{
		Signaler:     transport.NewMatrixSignaler(matrixSession, roomID, logger),
		ICEConfig:    transport.BuildICEConfig(cfg.ICE, turn),
		Logger:       logger,
		PollInterval: cfg.Lobby.PollInterval,
	}

	return &backend{
		provider: provider,
		presence: channel,
		close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := matrixSession.LeaveRoom(ctx, roomID); err != nil {
				logger.Warn("leaving lobby room failed", "room", roomID, "error", err)
			}
			if created && cfg.Lobby.Guest {
				logoutQuietly(matrixSession, logger)
			}
		},
	}, nil
}

// signIn opens the Matrix session: a resumed access token, a guest
// account or a password login, in that order of preference.
func signIn(ctx context.Context, matrix *messaging.Client, lobby config.LobbyConfig) (*messaging.DirectSession, error) {
	switch {
	case lobby.AccessToken != "":
		whoami, err := matrix.SessionFromToken(lobby.Username, lobby.AccessToken).WhoAmI(ctx)
		if err != nil {
			return nil, fmt.Errorf("checking lobby.access_token: %w", err)
		}
		return matrix.SessionFromToken(whoami.UserID, lobby.AccessToken), nil
	case lobby.Guest:
		return matrix.RegisterGuest(ctx)
	default:
		return matrix.Login(ctx, lobby.Username, lobby.Password)
	}
}

// joinLobbyRoom joins the lobby by id or alias. An alias is resolved
// first so a missing lobby reads as such rather than as a failed join.
func joinLobbyRoom(ctx context.Context, matrixSession *messaging.DirectSession, room string) (string, error) {
	target := room
	if strings.HasPrefix(room, "#") {
		roomID, err := matrixSession.ResolveAlias(ctx, room)
		if messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
			return "", fmt.Errorf("lobby room %s does not exist", room)
		}
		if err != nil {
			return "", err
		}
		target = roomID
	}
	roomID, err := matrixSession.JoinRoom(ctx, target)
	if err != nil {
		return "", fmt.Errorf("joining lobby room %s: %w", room, err)
	}
	return roomID, nil
}

func logoutQuietly(matrixSession *messaging.DirectSession, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := matrixSession.Logout(ctx); err != nil {
		logger.Debug("logout failed", "error", err)
	}
}

// startMemoryBackend creates an in-process network and lobby with one
// echo bot waiting in it.
func startMemoryBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	network := transport.NewMemoryNetwork()
	topic := presence.NewMemoryTopic(nil)

	bot, err := session.New(session.Config{
		Provider: network,
		Presence: topic.Member(),
		Logger:   logger.With("component", "echo-bot"),
		Profile:  &schema.Profile{Username: "echo-bot", Interests: []string{"repeating things"}},

		SafetyTimeout:      cfg.Matchmaker.SafetyTimeout,
		FailedPeerCooldown: cfg.Matchmaker.FailedPeerCooldown,
	})
	if err != nil {
		return nil, err
	}
	if err := bot.Connect(ctx); err != nil {
		bot.Close()
		return nil, fmt.Errorf("starting echo bot: %w", err)
	}
	botContext, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runEchoBot(botContext, bot)
	}()

	return &backend{
		provider: network,
		presence: topic.Member(),
		close: func() {
			cancel()
			bot.Close()
			<-done
		},
	}, nil
}

// runEchoBot answers every stranger message and goes back to the lobby
// when a chat ends.
func runEchoBot(ctx context.Context, bot *session.Client) {
	for event := range bot.Events() {
		switch event.Kind {
		case session.EventMessageAdded:
			if event.Message.Sender == session.SenderStranger && event.Message.Kind == wire.DataText {
				bot.SetTyping(true)
				bot.SendText(echo(event.Message.Payload))
				bot.React(event.Message.ID, "👀")
			}
		case session.EventModeChanged:
			if event.Mode == session.ModeDisconnected {
				if err := bot.FindNewStranger(ctx); err != nil && ctx.Err() == nil {
					slog.Warn("echo bot could not rejoin the lobby", "error", err)
				}
			}
		}
	}
}

func echo(text string) string {
	return "you said: " + strings.TrimSpace(text)
}
