package core

import (
	"encoding/json"

	"github.com/myleshyson/lsprotocol-go/protocol"
)

// ServerCapabilities is the mutable, structurally-equal snapshot of the
// server's declared feature set. It starts from the initialize
// response and is mutated in place by dynamic
// register/unregisterCapability requests.
type ServerCapabilities struct {
	protocol.ServerCapabilities
}

// Equal reports structural equality by comparing the canonical JSON
// encoding of both snapshots. This is the comparison the capabilities
// stream monotonicity invariant (spec property 7) relies on: two
// snapshots are equal iff their encodings match byte for byte.
func (c ServerCapabilities) Equal(other ServerCapabilities) bool {
	a, errA := json.Marshal(c.ServerCapabilities)
	b, errB := json.Marshal(other.ServerCapabilities)
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}

// registration is the wire shape of one entry in a
// client/registerCapability request, decoded independent of the exact
// exported protocol struct so this module doesn't depend on field
// names the retrieved sources never exercised.
type registration struct {
	ID              string          `json:"id"`
	Method          string          `json:"method"`
	RegisterOptions json.RawMessage `json:"registerOptions,omitempty"`
}

type registrationParams struct {
	Registrations []registration `json:"registrations"`
}

// unregistration is the wire shape of one entry in a
// client/unregisterCapability request. The LSP spec's JSON field for
// the list is (famously) spelled "unregisterations"; it is decoded
// here rather than relied upon by name elsewhere in this package.
type unregistration struct {
	ID     string `json:"id"`
	Method string `json:"method"`
}

type unregistrationParams struct {
	Unregisterations []unregistration `json:"unregisterations"`
}

// capabilityField maps an LSP method name to the JSON field on
// ServerCapabilities that dynamic registration toggles. Only the
// methods the core is asked to track (and the ones exercised by the
// end-to-end scenarios) are listed; an unrecognized method is a no-op
// on the capabilities snapshot (the request is still answered by the
// caller's handler, per spec §4.2).
var capabilityField = map[string]string{
	"textDocument/semanticTokens":        "semanticTokensProvider",
	"textDocument/hover":                 "hoverProvider",
	"textDocument/definition":            "definitionProvider",
	"textDocument/references":            "referencesProvider",
	"textDocument/documentSymbol":        "documentSymbolProvider",
	"textDocument/formatting":            "documentFormattingProvider",
	"textDocument/rangeFormatting":       "documentRangeFormattingProvider",
	"textDocument/rename":                "renameProvider",
	"textDocument/codeAction":            "codeActionProvider",
	"textDocument/documentLink":          "documentLinkProvider",
	"textDocument/documentColor":         "colorProvider",
	"textDocument/foldingRange":          "foldingRangeProvider",
	"textDocument/selectionRange":        "selectionRangeProvider",
	"textDocument/prepareCallHierarchy":  "callHierarchyProvider",
	"workspace/symbol":                   "workspaceSymbolProvider",
	"workspace/didChangeWatchedFiles":    "didChangeWatchedFilesProvider",
	"workspace/executeCommand":           "executeCommandProvider",
}

// ApplyRegistrations returns a copy of c with every registration
// applied: the mapped capability field is set to true, or to
// registerOptions when present (so a provider with structured options,
// like semantic tokens' legend, is preserved). Unrecognized methods are
// ignored. A malformed options payload is treated as a plain boolean
// capability rather than failing the whole batch, matching spec §4.2's
// "apply failures ... are logged and swallowed".
func (c ServerCapabilities) ApplyRegistrations(raw json.RawMessage) (ServerCapabilities, error) {
	var params registrationParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return c, err
	}

	m, err := c.toMap()
	if err != nil {
		return c, err
	}

	for _, reg := range params.Registrations {
		field, ok := capabilityField[reg.Method]
		if !ok {
			continue
		}
		if len(reg.RegisterOptions) == 0 {
			m[field] = true
			continue
		}
		var opts any
		if err := json.Unmarshal(reg.RegisterOptions, &opts); err != nil {
			m[field] = true
			continue
		}
		m[field] = opts
	}

	return fromMap(m)
}

// ApplyUnregistrations returns a copy of c with every unregistration's
// mapped capability field cleared.
func (c ServerCapabilities) ApplyUnregistrations(raw json.RawMessage) (ServerCapabilities, error) {
	var params unregistrationParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return c, err
	}

	m, err := c.toMap()
	if err != nil {
		return c, err
	}

	for _, unreg := range params.Unregisterations {
		field, ok := capabilityField[unreg.Method]
		if !ok {
			continue
		}
		delete(m, field)
	}

	return fromMap(m)
}

func (c ServerCapabilities) toMap() (map[string]any, error) {
	raw, err := json.Marshal(c.ServerCapabilities)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (ServerCapabilities, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return ServerCapabilities{}, err
	}
	var caps protocol.ServerCapabilities
	if err := json.Unmarshal(raw, &caps); err != nil {
		return ServerCapabilities{}, err
	}
	return ServerCapabilities{ServerCapabilities: caps}, nil
}
