// Package dispatch interprets parsed commands against an explicit Session,
// routing every remote interaction through the Remote Call Gateway.
package dispatch

import (
	"time"

	solana "github.com/gagliardetto/solana-go"

	"github.com/SayidwithDexextra/dexextra-console/internal/chain"
	"github.com/SayidwithDexextra/dexextra-console/internal/command"
)

// Session is the console's mutable state: current actor, active market,
// strict mode, and timing knobs. Only the Dispatcher mutates it, and only
// on the single control thread.
type Session struct {
	Market             string
	Strict             bool
	DefaultSlippageBps int64
	PauseSuccess       time.Duration
	PauseError         time.Duration

	keyring    *chain.Keyring
	actorIndex int
	hasActor   bool
}

// NewSession builds a session over the given keyring. The deployer starts
// as the current actor when any identity exists.
func NewSession(keyring *chain.Keyring, market string) *Session {
	s := &Session{
		Market:             market,
		DefaultSlippageBps: 100,
		keyring:            keyring,
	}
	if keyring != nil && keyring.Len() > 0 {
		s.hasActor = true
	}
	return s
}

// CurrentActorIndex reports the session's default actor index.
func (s *Session) CurrentActorIndex() (int, bool) {
	return s.actorIndex, s.hasActor
}

// SwitchActor makes the given index the session default.
func (s *Session) SwitchActor(index int) error {
	if s.keyring == nil || index < 0 || index >= s.keyring.Len() {
		return &command.ValidationError{Opcode: "SU", Reason: "unknown actor index"}
	}
	s.actorIndex = index
	s.hasActor = true
	return nil
}

// ResolveActor maps a selector to an address. An unset selector uses the
// session default; a missing or out-of-range actor is a ValidationError.
func (s *Session) ResolveActor(sel command.Selector) (string, error) {
	index := s.actorIndex
	if sel.Explicit {
		index = sel.Index
	} else if !s.hasActor {
		return "", &command.ValidationError{Reason: "no actor selected (use SU or an actor prefix)"}
	}
	if s.keyring == nil {
		return "", &command.ValidationError{Reason: "no keyring loaded"}
	}
	address, err := s.keyring.Address(index)
	if err != nil {
		return "", &command.ValidationError{Reason: err.Error()}
	}
	return address, nil
}

// ResolveSigner returns the private key for the same actor ResolveActor
// would address, for signing write requests.
func (s *Session) ResolveSigner(sel command.Selector) (solana.PrivateKey, error) {
	index := s.actorIndex
	if sel.Explicit {
		index = sel.Index
	} else if !s.hasActor {
		return nil, &command.ValidationError{Reason: "no actor selected (use SU or an actor prefix)"}
	}
	if s.keyring == nil {
		return nil, &command.ValidationError{Reason: "no keyring loaded"}
	}
	key, err := s.keyring.Key(index)
	if err != nil {
		return nil, &command.ValidationError{Reason: err.Error()}
	}
	return key, nil
}

// ResolveMarket returns the active market or a ValidationError when none
// is configured.
func (s *Session) ResolveMarket() (string, error) {
	if s.Market == "" {
		return "", &command.ValidationError{Reason: "no active market configured"}
	}
	return s.Market, nil
}
