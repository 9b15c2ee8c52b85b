// Package config handles configuration loading for coven-room.
//
// # Configuration File
//
// Default location (in order):
//
//  1. Path from COVEN_ROOM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/room.yaml
//  3. ~/.config/coven/room.yaml
//
// A missing file is not an error: LoadOrDefault returns Default(). Files
// ending in .toml are decoded as TOML, anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	backend:
//	  base_url: "${COVEN_BACKEND_URL}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	media:
//	  mic_settle: "500ms"
//
// # Media
//
// media.capture is "silence" or an Ogg/Opus file streamed as the
// microphone. media.playback is "discard" or a directory where received
// agent audio is recorded, one Ogg/Opus file per remote track.
//
// # Example
//
//	room:
//	  server_url: "wss://rooms.example.com"
//	  name: "corelance-main-room"
//	backend:
//	  base_url: "https://api.example.com"
//	participants:
//	  agent_markers: ["agent", "ai"]
//	transcript:
//	  path: "/var/lib/coven/room-transcript.db"
package config
