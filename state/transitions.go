package state

// Callbacks is everything the Fsm needs to call back into a Session. Each
// method corresponds to one table-driven action; the event it returns
// drives the next transition (SUCCESS/FAIL and friends). Keeping this as
// an interface (rather than passing *Session directly) is what lets this
// package stay free of the protocol and crypto imports.
type Callbacks interface {
	// SendInit emits the first IKE_SA_INIT request (initiator only).
	SendInit() StateEvent
	// HandleIkeSaInit processes an incoming IKE_SA_INIT message, either
	// request (responder) or response (initiator).
	HandleIkeSaInit(data interface{}) StateEvent
	// SendAuth emits the IKE_AUTH request (initiator only).
	SendAuth() StateEvent
	// HandleIkeAuth processes an incoming IKE_AUTH message.
	HandleIkeAuth(data interface{}) StateEvent
	// HandleEap drives one round of the EAP conversation carried inside
	// IKE_AUTH, on whichever side this Session plays.
	HandleEap(data interface{}) StateEvent
	// CheckSa validates and installs a negotiated Child SA (additional or
	// rekeyed), invoked for MSG_CHILD_SA events once MATURE.
	CheckSa(data interface{}) StateEvent
	// HandleClose processes an INFORMATIONAL delete for this IKE SA.
	HandleClose(data interface{}) StateEvent
	// HandleCreateChildSa drives an additional or rekey CREATE_CHILD_SA
	// exchange while already MATURE.
	HandleCreateChildSa(data interface{}) StateEvent
	// InstallSa programs the negotiated SA into the kernel once both ends
	// have enough keying material (AUTH -> MATURE).
	InstallSa() StateEvent
	// RemoveSa tears down kernel state for this IKE SA and its children.
	RemoveSa() StateEvent
	// StartRetryTimeout is not called by any transition in this package;
	// the Session arms retransmission itself when it sends a request.
	StartRetryTimeout() StateEvent
	// CheckError handles an error notification or internal error code. No
	// transition in this package calls it, and the Session's implementation
	// returns no event: it only answers an internal error code with the
	// matching notify.
	CheckError(data interface{}) StateEvent
	// Finished releases FSM resources once the SA is fully closed.
	Finished() StateEvent
}

// CommonTransitions returns the (state, event) edges shared by both the
// initiator and the responder role: post-establishment Child SA churn,
// close-down, and the terminal cleanup that applies regardless of how the
// SA got to MATURE or CLOSING in the first place.
func CommonTransitions(cb Callbacks) Transitions {
	return Transitions{
		STATE_AUTH: {
			MSG_EAP: {
				Name: "auth/eap-start",
				Next: STATE_EAP,
				Run:  cb.HandleEap,
			},
		},
		STATE_EAP: {
			MSG_EAP: {
				Name: "eap/round",
				Next: STATE_EAP,
				Run:  cb.HandleEap,
			},
			MSG_AUTH: {
				Name: "eap/final-auth",
				Next: STATE_MATURE,
				Run:  cb.HandleIkeAuth,
			},
			MSG_INFORMATIONAL: {
				Name: "eap/close",
				Next: STATE_CLOSING,
				Run:  cb.HandleClose,
			},
		},
		STATE_MATURE: {
			MSG_CHILD_SA: {
				Name: "mature/child-sa",
				Next: STATE_MATURE,
				Run:  cb.CheckSa,
			},
			REKEY_CHILD_SA: {
				Name: "mature/rekey-child",
				Next: STATE_MATURE,
				Run:  cb.HandleCreateChildSa,
			},
			REKEY_IKE_SA: {
				Name: "mature/rekey-ike",
				Next: STATE_REKEY,
				Run:  cb.HandleCreateChildSa,
			},
			MSG_INFORMATIONAL: {
				Name: "mature/close",
				Next: STATE_CLOSING,
				Run:  cb.HandleClose,
			},
		},
		STATE_REKEY: {
			MSG_CHILD_SA: {
				Name: "rekey/complete",
				Next: STATE_MATURE,
				Run:  cb.CheckSa,
			},
			MSG_INFORMATIONAL: {
				Name: "rekey/close",
				Next: STATE_CLOSING,
				Run:  cb.HandleClose,
			},
		},
		STATE_CLOSING: {
			SUCCESS: {
				Name: "closing/done",
				Next: STATE_CLOSED,
				Run: func(data interface{}) StateEvent {
					return cb.RemoveSa()
				},
			},
		},
		ANY: {
			DELETE_IKE_SA: {
				Name: "any/delete",
				Next: STATE_CLOSING,
				Run: func(data interface{}) StateEvent {
					cb.RemoveSa()
					return StateEvent{Event: FINISHED}
				},
			},
			FINISHED: {
				Name: "any/finished",
				Next: STATE_CLOSED,
				Run: func(data interface{}) StateEvent {
					return cb.Finished()
				},
			},
		},
	}
}

// merge layers extra transitions on top of base, with extra winning on
// (state, event) collisions. Used to combine CommonTransitions with the
// role-specific INIT/AUTH edges.
func merge(base Transitions, extra Transitions) Transitions {
	out := make(Transitions, len(base)+len(extra))
	for state, byEvent := range base {
		merged := make(map[Event]Transition, len(byEvent))
		for ev, t := range byEvent {
			merged[ev] = t
		}
		out[state] = merged
	}
	for state, byEvent := range extra {
		merged, ok := out[state]
		if !ok {
			merged = make(map[Event]Transition, len(byEvent))
			out[state] = merged
		}
		for ev, t := range byEvent {
			merged[ev] = t
		}
	}
	return out
}

// InitiatorTransitions builds the full table for a Session that started
// the exchange: IDLE -[send init]-> INIT -[recv init]-> AUTH -[recv
// auth]-> MATURE, plus the shared Child SA / close-down edges.
func InitiatorTransitions(cb Callbacks) Transitions {
	role := Transitions{
		STATE_IDLE: {
			SUCCESS: {
				Name: "idle/start",
				Next: STATE_INIT,
				Run: func(data interface{}) StateEvent {
					return cb.SendInit()
				},
			},
		},
		STATE_INIT: {
			MSG_INIT: {
				Name: "init/recv",
				Next: STATE_AUTH,
				Run:  cb.HandleIkeSaInit,
			},
		},
		STATE_AUTH: {
			SUCCESS: {
				Name: "auth/send",
				Next: STATE_AUTH,
				Run: func(data interface{}) StateEvent {
					return cb.SendAuth()
				},
			},
			MSG_AUTH: {
				Name: "auth/recv",
				Next: STATE_MATURE,
				Run:  cb.HandleIkeAuth,
			},
		},
	}
	return merge(CommonTransitions(cb), role)
}

// ResponderTransitions builds the full table for a Session that answers
// an exchange it did not start: IDLE -[recv init]-> AUTH -[recv auth]->
// MATURE, plus the shared edges.
func ResponderTransitions(cb Callbacks) Transitions {
	role := Transitions{
		STATE_IDLE: {
			MSG_INIT: {
				Name: "idle/recv-init",
				Next: STATE_AUTH,
				Run:  cb.HandleIkeSaInit,
			},
		},
		STATE_AUTH: {
			MSG_AUTH: {
				Name: "auth/recv",
				Next: STATE_MATURE,
				Run:  cb.HandleIkeAuth,
			},
		},
	}
	return merge(CommonTransitions(cb), role)
}
