package proto

import (
	"errors"
	"strings"
)

// Kind enumerates the closed message vocabulary plus the application variant.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindUserDefined
	KindNone
	KindAck
	KindResponse
	KindTerminate
	KindDHTGetPeer
	KindDHTSubscribe
	KindDHTSearchPeer // reserved
	KindDSMChunkAdvertize
	KindDSMChunkGet
	KindRPCCall
	KindRPCResults
	KindApplication
)

var kindNames = map[Kind]string{
	KindUserDefined:       "USER_DEFINED",
	KindNone:              "CORE_NONE",
	KindAck:               "CORE_ACK",
	KindResponse:          "CORE_RESPONSE",
	KindTerminate:         "CORE_TERMINATE",
	KindDHTGetPeer:        "DHT_GET_PEER",
	KindDHTSubscribe:      "DHT_SUBSCRIBE",
	KindDHTSearchPeer:     "DHT_SEARCH_PEER",
	KindDSMChunkAdvertize: "DSM_CHUNK_ADVERTIZE",
	KindDSMChunkGet:       "DSM_CHUNK_GET",
	KindRPCCall:           "RPC_CALL",
	KindRPCResults:        "RPC_RESULTS",
}

var kindByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, s := range kindNames {
		m[s] = k
	}
	return m
}()

// NamespaceSep separates namespace and name of an application type on the wire.
const NamespaceSep = ":"

// PrefixSep joins a recognised namespace prefix to the rest of a type, as in
// DSM_FEATURE_FLAG.
const PrefixSep = "_"

// DefaultNamespaces are the prefixes ParseType always treats as application
// namespaces.
var DefaultNamespaces = []string{"DSM"}

// MessageType is a built-in kind, an application type (Namespace + Name), or an
// unknown type that keeps its raw wire text in Name. It is comparable, so
// built-in types can be matched with ==. Sep is empty for the "ns:name" form
// and PrefixSep for a prefixed type.
type MessageType struct {
	Kind      Kind
	Namespace string
	Name      string
	Sep       string
}

var (
	TypeUserDefined       = MessageType{Kind: KindUserDefined}
	TypeNone              = MessageType{Kind: KindNone}
	TypeAck               = MessageType{Kind: KindAck}
	TypeResponse          = MessageType{Kind: KindResponse}
	TypeTerminate         = MessageType{Kind: KindTerminate}
	TypeDHTGetPeer        = MessageType{Kind: KindDHTGetPeer}
	TypeDHTSubscribe      = MessageType{Kind: KindDHTSubscribe}
	TypeDHTSearchPeer     = MessageType{Kind: KindDHTSearchPeer}
	TypeDSMChunkAdvertize = MessageType{Kind: KindDSMChunkAdvertize}
	TypeDSMChunkGet       = MessageType{Kind: KindDSMChunkGet}
	TypeRPCCall           = MessageType{Kind: KindRPCCall}
	TypeRPCResults        = MessageType{Kind: KindRPCResults}
)

// Application returns an application-namespaced type.
func Application(namespace, name string) MessageType {
	return MessageType{Kind: KindApplication, Namespace: namespace, Name: name}
}

// Prefixed returns an application type written as namespace_name on the wire.
func Prefixed(namespace, name string) MessageType {
	return MessageType{Kind: KindApplication, Namespace: namespace, Name: name, Sep: PrefixSep}
}

// ParseType never fails: unrecognized text becomes a KindUnknown type.
// Built-in names win over DefaultNamespaces, so DSM_CHUNK_GET stays built in.
func ParseType(s string) MessageType {
	return ParseTypeIn(s)
}

// ParseTypeIn is ParseType with extra namespace prefixes recognised on top of
// DefaultNamespaces.
func ParseTypeIn(s string, namespaces ...string) MessageType {
	if k, ok := kindByName[s]; ok {
		return MessageType{Kind: k}
	}
	if ns, name, ok := strings.Cut(s, NamespaceSep); ok && ns != "" && name != "" {
		return Application(ns, name)
	}
	for _, list := range [][]string{DefaultNamespaces, namespaces} {
		for _, ns := range list {
			if ns == "" {
				continue
			}
			if name, ok := strings.CutPrefix(s, ns+PrefixSep); ok && name != "" {
				return Prefixed(ns, name)
			}
		}
	}
	return MessageType{Kind: KindUnknown, Name: s}
}

func (t MessageType) String() string {
	switch t.Kind {
	case KindApplication:
		sep := t.Sep
		if sep == "" {
			sep = NamespaceSep
		}
		return t.Namespace + sep + t.Name
	case KindUnknown:
		return t.Name
	default:
		return kindNames[t.Kind]
	}
}

// IsApplication reports whether t carries an application namespace.
func (t MessageType) IsApplication() bool { return t.Kind == KindApplication }

// IsDSM reports whether t belongs to the built-in DSM protocol.
func (t MessageType) IsDSM() bool {
	return t.Kind == KindDSMChunkAdvertize || t.Kind == KindDSMChunkGet
}

var errEmptyType = errors.New("empty message type")

func (t MessageType) MarshalText() ([]byte, error) {
	s := t.String()
	if s == "" {
		return nil, errEmptyType
	}
	return []byte(s), nil
}

func (t *MessageType) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		return errEmptyType
	}
	*t = ParseType(string(b))
	return nil
}
