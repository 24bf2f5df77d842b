package adx

import (
	"io"

	jsoniter "github.com/json-iterator/go"
)

// jsonAPI is a drop-in replacement for encoding/json with better
// streaming performance.
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// tokenReaderBufSize is the read buffer handed to the incremental parser.
const tokenReaderBufSize = 4096

// -----------------------------------------------------------------------------
// Token model
// -----------------------------------------------------------------------------

// tokenKind classifies one primitive JSON token.
type tokenKind int

const (
	tokenNull tokenKind = iota
	tokenBool
	tokenNumber
	tokenString
	tokenMapKey
	tokenStartMap
	tokenEndMap
	tokenStartArray
	tokenEndArray
)

var tokenKindNames = [...]string{
	tokenNull:       "null",
	tokenBool:       "boolean",
	tokenNumber:     "number",
	tokenString:     "string",
	tokenMapKey:     "map key",
	tokenStartMap:   "start of object",
	tokenEndMap:     "end of object",
	tokenStartArray: "start of array",
	tokenEndArray:   "end of array",
}

func (k tokenKind) String() string {
	if int(k) < len(tokenKindNames) {
		return tokenKindNames[k]
	}
	return "unknown token"
}

// jsonToken is one primitive token produced in document order.
//
// path addresses the token within the document: object members append
// ".<key>" and array elements append ".item" to their container's path,
// with the root at "". Container end tokens carry the path of their start
// token, so a subtree is delimited by two tokens with equal paths.
type jsonToken struct {
	path  string
	kind  tokenKind
	value any
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}

// -----------------------------------------------------------------------------
// Token reader
// -----------------------------------------------------------------------------

// containerState tracks one open array or object on the reader stack.
type containerState struct {
	kind tokenKind // tokenStartArray or tokenStartMap
	path string

	// key and pendingValue track an object member whose key has been
	// produced but whose value has not been started yet.
	key          string
	pendingValue bool
}

// tokenReader turns a byte stream into a lazy sequence of jsonTokens.
// It holds no buffering beyond the parser's read buffer and exactly one
// outstanding read against the underlying transport.
type tokenReader struct {
	iter    *jsoniter.Iterator
	stack   []containerState
	started bool
}

func newTokenReader(r io.Reader) *tokenReader {
	return &tokenReader{iter: jsoniter.Parse(jsonAPI, r, tokenReaderBufSize)}
}

// next produces the next token in document order. Reading past the end of
// the document, or hitting malformed input, yields a ParseError.
func (t *tokenReader) next() (jsonToken, error) {
	if len(t.stack) == 0 {
		if t.started {
			return jsonToken{}, parseErrorf("unexpected end of stream")
		}
		t.started = true
		return t.readValue("")
	}

	top := &t.stack[len(t.stack)-1]
	if top.kind == tokenStartArray {
		hasElement := t.iter.ReadArray()
		if err := t.parseErr(); err != nil {
			return jsonToken{}, err
		}
		if hasElement {
			return t.readValue(joinPath(top.path, "item"))
		}
		tok := jsonToken{path: top.path, kind: tokenEndArray}
		t.stack = t.stack[:len(t.stack)-1]
		return tok, nil
	}

	if top.pendingValue {
		top.pendingValue = false
		return t.readValue(joinPath(top.path, top.key))
	}

	key := t.iter.ReadObject()
	if err := t.parseErr(); err != nil {
		return jsonToken{}, err
	}
	if key == "" {
		tok := jsonToken{path: top.path, kind: tokenEndMap}
		t.stack = t.stack[:len(t.stack)-1]
		return tok, nil
	}
	top.key = key
	top.pendingValue = true
	return jsonToken{path: top.path, kind: tokenMapKey, value: key}, nil
}

// readValue produces the first token of the value the parser is
// positioned at. Containers are pushed on the stack; their contents are
// produced by subsequent next calls.
func (t *tokenReader) readValue(path string) (jsonToken, error) {
	switch t.iter.WhatIsNext() {
	case jsoniter.NilValue:
		t.iter.ReadNil()
		return t.checked(jsonToken{path: path, kind: tokenNull})
	case jsoniter.BoolValue:
		v := t.iter.ReadBool()
		return t.checked(jsonToken{path: path, kind: tokenBool, value: v})
	case jsoniter.NumberValue:
		n := t.iter.ReadNumber()
		return t.checked(jsonToken{path: path, kind: tokenNumber, value: n})
	case jsoniter.StringValue:
		s := t.iter.ReadString()
		return t.checked(jsonToken{path: path, kind: tokenString, value: s})
	case jsoniter.ArrayValue:
		t.stack = append(t.stack, containerState{kind: tokenStartArray, path: path})
		return jsonToken{path: path, kind: tokenStartArray}, nil
	case jsoniter.ObjectValue:
		t.stack = append(t.stack, containerState{kind: tokenStartMap, path: path})
		return jsonToken{path: path, kind: tokenStartMap}, nil
	default:
		if err := t.parseErr(); err != nil {
			return jsonToken{}, err
		}
		return jsonToken{}, parseErrorf("invalid value at %q", path)
	}
}

func (t *tokenReader) checked(tok jsonToken) (jsonToken, error) {
	if err := t.parseErr(); err != nil {
		return jsonToken{}, err
	}
	return tok, nil
}

// parseErr maps the parser's error state onto the package taxonomy. An
// EOF seen here is always premature: complete documents are terminated by
// the stack emptying, not by a read.
func (t *tokenReader) parseErr() error {
	err := t.iter.Error
	if err == nil {
		return nil
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return parseErrorf("unexpected end of stream")
	}
	return &ParseError{Msg: "malformed response", Err: err}
}
