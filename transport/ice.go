// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/strangers-chat/strangers/lib/config"
	"github.com/strangers-chat/strangers/messaging"
)

// ICEConfig holds the ICE servers for new PeerConnections.
type ICEConfig struct {
	// Servers are tried in order during candidate gathering.
	Servers []webrtc.ICEServer
}

// ICEConfigFromTURN converts the homeserver's TURN credentials into an
// ICEConfig. A nil or empty response yields no servers, which still
// works for host candidates on one machine or LAN.
func ICEConfigFromTURN(turn *messaging.TURNCredentialsResponse) ICEConfig {
	if turn == nil || len(turn.URIs) == 0 {
		return ICEConfig{}
	}
	return ICEConfig{
		Servers: []webrtc.ICEServer{
			{
				URLs:       turn.URIs,
				Username:   turn.Username,
				Credential: turn.Password,
			},
		},
	}
}

// BuildICEConfig combines the configured STUN and TURN servers with
// the homeserver's TURN credentials (nil when unavailable or disabled).
// Static servers come first.
func BuildICEConfig(settings config.ICEConfig, turn *messaging.TURNCredentialsResponse) ICEConfig {
	var servers []webrtc.ICEServer
	if len(settings.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: settings.STUNURLs})
	}
	if len(settings.TURNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       settings.TURNURLs,
			Username:   settings.TURNUsername,
			Credential: settings.TURNCredential,
		})
	}
	if settings.UseHomeserverTURN {
		servers = append(servers, ICEConfigFromTURN(turn).Servers...)
	}
	return ICEConfig{Servers: servers}
}
