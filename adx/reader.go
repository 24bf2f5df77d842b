package adx

// -----------------------------------------------------------------------------
// Frame reader
// -----------------------------------------------------------------------------

// frameReader layers typed expectations and subtree skipping over the raw
// token sequence. The decoder is written entirely against these
// primitives, which makes field order in the wire payload irrelevant.
type frameReader struct {
	tokens *tokenReader
}

// tokenMatch selects tokens by kind at an exact nesting path.
type tokenMatch struct {
	kind tokenKind
	path string
}

// expect consumes the next token and fails unless its kind is one of the
// requested kinds.
func (r *frameReader) expect(kinds ...tokenKind) (jsonToken, error) {
	tok, err := r.tokens.next()
	if err != nil {
		return jsonToken{}, err
	}
	for _, k := range kinds {
		if tok.kind == k {
			return tok, nil
		}
	}
	return jsonToken{}, parseErrorf("expected %s, got %s at %q", kindList(kinds), tok.kind, tok.path)
}

func kindList(kinds []tokenKind) string {
	s := ""
	for i, k := range kinds {
		if i > 0 {
			s += " or "
		}
		s += k.String()
	}
	return s
}

// skipSubtree consumes and discards the value started by prev without
// interpreting it. A map key skips the member's value; a container start
// skips through the matching end; scalars need no further reads.
func (r *frameReader) skipSubtree(prev jsonToken) error {
	if prev.kind == tokenMapKey {
		var err error
		prev, err = r.tokens.next()
		if err != nil {
			return err
		}
	}
	if prev.kind != tokenStartMap && prev.kind != tokenStartArray {
		return nil
	}
	for {
		tok, err := r.tokens.next()
		if err != nil {
			return err
		}
		if tok.path == prev.path && (tok.kind == tokenEndMap || tok.kind == tokenEndArray) {
			return nil
		}
	}
}

// skipUntilKey scans forward through the current object, skipping
// non-matching members, until the named key is found.
func (r *frameReader) skipUntilKey(name string) (jsonToken, error) {
	return r.skipUntilAnyKey(name)
}

// skipUntilAnyKey scans forward through the current object, skipping
// non-matching members, until one of the named keys is found.
func (r *frameReader) skipUntilAnyKey(names ...string) (jsonToken, error) {
	for {
		tok, err := r.expect(tokenMapKey)
		if err != nil {
			return jsonToken{}, err
		}
		if keyIn(tok, names) {
			return tok, nil
		}
		if err := r.skipSubtree(tok); err != nil {
			return jsonToken{}, err
		}
	}
}

// skipUntilKeyOrEndObject is skipUntilAnyKey that also returns on the end
// of the enclosing object, for optional trailing fields.
func (r *frameReader) skipUntilKeyOrEndObject(names ...string) (jsonToken, error) {
	for {
		tok, err := r.tokens.next()
		if err != nil {
			return jsonToken{}, err
		}
		switch tok.kind {
		case tokenEndMap:
			return tok, nil
		case tokenMapKey:
			if keyIn(tok, names) {
				return tok, nil
			}
			if err := r.skipSubtree(tok); err != nil {
				return jsonToken{}, err
			}
		default:
			return jsonToken{}, parseErrorf("unexpected %s at %q", tok.kind, tok.path)
		}
	}
}

// skipUntil scans forward, skipping whole subtrees, until a token matches
// one of the (kind, path) pairs.
func (r *frameReader) skipUntil(matches ...tokenMatch) (jsonToken, error) {
	for {
		tok, err := r.tokens.next()
		if err != nil {
			return jsonToken{}, err
		}
		for _, m := range matches {
			if tok.kind == m.kind && tok.path == m.path {
				return tok, nil
			}
		}
		if err := r.skipSubtree(tok); err != nil {
			return jsonToken{}, err
		}
	}
}

func keyIn(tok jsonToken, names []string) bool {
	key, _ := tok.value.(string)
	for _, n := range names {
		if key == n {
			return true
		}
	}
	return false
}
