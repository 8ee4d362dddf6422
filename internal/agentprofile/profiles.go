// Package agentprofile maps agent identifiers to upstream voice
// parameters. Profiles are read-only configuration looked up at session
// start and on every agent switch.
package agentprofile

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// Profile holds the voice parameters for one agent persona.
type Profile struct {
	AgentID      string `json:"agent_id"`
	Voice        string `json:"voice"`
	Instructions string `json:"instructions"`
}

// Store is an immutable lookup table of profiles with a default fallback.
type Store struct {
	profiles map[string]Profile
	def      Profile
}

// Defaults returns the built-in profile set used when no profile file is
// configured.
func Defaults() *Store {
	return newStore([]Profile{
		{
			AgentID:      "aria",
			Voice:        "alloy",
			Instructions: "You are Aria, a friendly and concise voice assistant. Keep answers short and conversational.",
		},
		{
			AgentID:      "marcus",
			Voice:        "verse",
			Instructions: "You are Marcus, a calm and thoughtful voice assistant. Speak plainly and avoid filler.",
		},
	})
}

// Load reads a JSON array of profiles from path. An empty path returns
// the defaults.
func Load(path string) (*Store, error) {
	if path == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agentprofile: read %s: %w", path, err)
	}
	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("agentprofile: parse %s: %w", path, err)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("agentprofile: %s contains no profiles", path)
	}
	return newStore(profiles), nil
}

func newStore(profiles []Profile) *Store {
	s := &Store{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.AgentID] = p
	}
	// First profile is the fallback for unknown agent ids.
	s.def = profiles[0]
	return s
}

// Lookup returns the profile for the agent id, falling back to the
// default profile when the id is unknown.
func (s *Store) Lookup(agentID string) Profile {
	if p, ok := s.profiles[agentID]; ok {
		return p
	}
	log.Printf("agentprofile: unknown agent %q, using default %q", agentID, s.def.AgentID)
	return s.def
}

// DefaultAgentID returns the id of the fallback profile.
func (s *Store) DefaultAgentID() string { return s.def.AgentID }
