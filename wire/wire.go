// Package wire defines the message envelope exchanged between domveil
// execution contexts (coordinator, page agents, panel) and the typed
// logical addresses used to route it.
//
// Every message is a JSON object with a fixed header {type, source,
// target, ts} plus type-specific fields. Dispatch is by the type tag
// into a closed set of payload structs, no ad hoc field access.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/domveil/elemid"
)

// AddressKind discriminates the logical address sum type.
type AddressKind int

const (
	KindCoordinator AddressKind = iota
	KindPanel
	KindPageAgent
)

// Address identifies a context for routing, independent of transport.
// The zero value is the coordinator. Addresses are comparable and used
// directly as registry keys; raw string forms appear only on the wire.
type Address struct {
	Kind AddressKind
	Tab  int // only meaningful for KindPageAgent
}

// Coordinator is the hub's address.
var Coordinator = Address{Kind: KindCoordinator}

// Panel is the settings panel's address. At most one panel is live.
var Panel = Address{Kind: KindPanel}

// PageAgent returns the address of the agent owning the given tab.
func PageAgent(tab int) Address {
	return Address{Kind: KindPageAgent, Tab: tab}
}

const agentPrefix = "page-agent-"

func (a Address) String() string {
	switch a.Kind {
	case KindPanel:
		return "panel"
	case KindPageAgent:
		return agentPrefix + strconv.Itoa(a.Tab)
	default:
		return "coordinator"
	}
}

// ParseAddress parses the canonical wire form of an address.
func ParseAddress(s string) (Address, error) {
	switch {
	case s == "coordinator":
		return Coordinator, nil
	case s == "panel":
		return Panel, nil
	case strings.HasPrefix(s, agentPrefix):
		tab, err := strconv.Atoi(s[len(agentPrefix):])
		if err != nil {
			return Address{}, &ErrBadAddress{Raw: s}
		}
		return PageAgent(tab), nil
	default:
		return Address{}, &ErrBadAddress{Raw: s}
	}
}

// MarshalText encodes the address as its canonical string form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the canonical string form.
func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MsgType is the wire discriminator for message payloads.
type MsgType string

const (
	TypeDomainInfo      MsgType = "DOMAIN_INFO"
	TypeElementSelected MsgType = "ELEMENT_SELECTED"
	TypeInitialize      MsgType = "INITIALIZE_CONTENT"
	TypeToggleSelection MsgType = "TOGGLE_SELECTION_MODE"
	TypeHideElement     MsgType = "HIDE_ELEMENT"
	TypeShowElement     MsgType = "SHOW_ELEMENT"
	TypeClearAll        MsgType = "CLEAR_ALL"
	TypeTabActivated    MsgType = "TAB_ACTIVATED"
	TypeApplyReport     MsgType = "APPLY_REPORT"
)

// Envelope is the header common to every message. Payload structs embed
// it; Encode fills Type from the concrete payload type so senders never
// set it by hand.
type Envelope struct {
	Type      MsgType `json:"type"`
	Source    Address `json:"source"`
	Target    Address `json:"target"`
	Timestamp int64   `json:"ts"` // epoch milliseconds
}

// Env exposes the embedded header; it is the Message implementation.
func (e *Envelope) Env() *Envelope { return e }

// Message is any wire payload carrying the common envelope header.
type Message interface {
	Env() *Envelope
}

// DomainInfo announces the domain a page agent is running on.
type DomainInfo struct {
	Envelope
	Domain string `json:"domain"`
	URL    string `json:"url"`
}

// ElementSelected announces a user selection made in selection mode.
type ElementSelected struct {
	Envelope
	Domain     string        `json:"domain"`
	Identifier elemid.Record `json:"identifier"`
}

// InitializeContent tells a page agent to (re)apply stored rules.
type InitializeContent struct {
	Envelope
	Domain string `json:"domain"`
}

// ToggleSelectionMode switches a page agent's selection mode.
type ToggleSelectionMode struct {
	Envelope
	Enabled bool `json:"enabled"`
}

// HideElement commands a page agent to hide one element.
type HideElement struct {
	Envelope
	Identifier elemid.Record `json:"identifier"`
}

// ShowElement commands a page agent to unhide one element.
type ShowElement struct {
	Envelope
	Identifier elemid.Record `json:"identifier"`
}

// ClearAll commands a page agent to remove every hidden treatment.
type ClearAll struct {
	Envelope
}

// TabActivated notifies the panel which tab is now active.
type TabActivated struct {
	Envelope
	TabID int `json:"tabId"`
}

// ApplyReport carries a page agent's rule-application tally. It is an
// observability signal only; nothing branches on it.
type ApplyReport struct {
	Envelope
	Domain    string `json:"domain"`
	Applied   int    `json:"applied"`
	Attempted int    `json:"attempted"`
}

// TypeOf returns the wire discriminator for a payload.
func TypeOf(m Message) MsgType {
	switch m.(type) {
	case *DomainInfo:
		return TypeDomainInfo
	case *ElementSelected:
		return TypeElementSelected
	case *InitializeContent:
		return TypeInitialize
	case *ToggleSelectionMode:
		return TypeToggleSelection
	case *HideElement:
		return TypeHideElement
	case *ShowElement:
		return TypeShowElement
	case *ClearAll:
		return TypeClearAll
	case *TabActivated:
		return TypeTabActivated
	case *ApplyReport:
		return TypeApplyReport
	default:
		return ""
	}
}

// Stamp fills the routing header. Timestamp is set to now if zero.
func Stamp(m Message, source, target Address) {
	env := m.Env()
	env.Type = TypeOf(m)
	env.Source = source
	env.Target = target
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
}

// Encode serializes a message, filling the type tag from the concrete
// payload type.
func Encode(m Message) ([]byte, error) {
	m.Env().Type = TypeOf(m)
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", m.Env().Type, err)
	}
	return data, nil
}

// Decode parses raw bytes into the typed payload for its type tag.
func Decode(data []byte) (Message, error) {
	var head Envelope
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("wire: decode header: %w", err)
	}

	var m Message
	switch head.Type {
	case TypeDomainInfo:
		m = &DomainInfo{}
	case TypeElementSelected:
		m = &ElementSelected{}
	case TypeInitialize:
		m = &InitializeContent{}
	case TypeToggleSelection:
		m = &ToggleSelectionMode{}
	case TypeHideElement:
		m = &HideElement{}
	case TypeShowElement:
		m = &ShowElement{}
	case TypeClearAll:
		m = &ClearAll{}
	case TypeTabActivated:
		m = &TabActivated{}
	case TypeApplyReport:
		m = &ApplyReport{}
	default:
		return nil, &ErrUnknownType{Type: string(head.Type)}
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("wire: decode %s: %w", head.Type, err)
	}
	return m, nil
}
